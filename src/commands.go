package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"usage-cache/src/api"
	"usage-cache/src/cache"
	"usage-cache/src/httpapi"
	"usage-cache/src/logging"
)

// A CLI invocation is short lived, so the shared flags are globals. The cache
// handle itself is opened per command and passed down explicitly.
var (
	dbPath  = flag.String("db", envOr("USAGE_CACHE_DB", defaultDBPath()), "Path to the usage database")
	driver  = flag.String("driver", envOr("USAGE_CACHE_DRIVER", cache.DriverMattn), "SQLite driver: sqlite3 (cgo) or sqlite (pure Go)")
	logFile = flag.String("log", os.Getenv("USAGE_CACHE_LOG"), "Write rotated logs to this file instead of stderr")
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "usage-cache.db"
	}
	return filepath.Join(home, ".usage-cache.db")
}

// openCache is the central function to open the usage database.
func openCache(ctx context.Context) (*cache.Cache, *logging.Logger, error) {
	logger, err := logging.New(logging.Options{File: *logFile})
	if err != nil {
		return nil, nil, fmt.Errorf("could not set up logging: %w", err)
	}

	c := cache.New(cache.CacheConfig{
		Path:   *dbPath,
		Driver: *driver,
		Logger: logger.Cache,
	})
	if err := c.Init(ctx); err != nil {
		logger.Close()
		return nil, nil, err
	}
	return c, logger, nil
}

// withCache opens the cache, runs fn and closes everything again.
func withCache(ctx context.Context, fn func(*cache.Cache) error) subcommands.ExitStatus {
	c, logger, err := openCache(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not open usage database: %v\n", err)
		return subcommands.ExitFailure
	}
	defer logger.Close()
	defer c.Close()

	if err := fn(c); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type versionCmd struct{}

func (*versionCmd) Name() string             { return "version" }
func (*versionCmd) Synopsis() string         { return "print version information" }
func (*versionCmd) Usage() string            { return "usagecache version\n" }
func (*versionCmd) SetFlags(f *flag.FlagSet) {}
func (*versionCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	fmt.Printf("usagecache v%s\n", Version)
	return subcommands.ExitSuccess
}

type trackCmd struct{}

func (*trackCmd) Name() string     { return "track" }
func (*trackCmd) Synopsis() string { return "record that an item was selected" }
func (*trackCmd) Usage() string {
	return `usagecache track <kind> <id...>

Records one usage event per id. Kind is one of category, tag, account.
`
}
func (*trackCmd) SetFlags(f *flag.FlagSet) {}

func (*trackCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Error: track requires a kind and at least one id")
		return subcommands.ExitUsageError
	}
	kind, err := cache.ParseKind(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	return withCache(ctx, func(c *cache.Cache) error {
		for _, id := range f.Args()[1:] {
			if err := c.TrackUsage(ctx, id, kind); err != nil {
				return err
			}
		}
		return nil
	})
}

// rankCmd serves both "frequent" and "recent".
type rankCmd struct {
	name  string
	limit int
}

func (c *rankCmd) Name() string { return c.name }
func (c *rankCmd) Synopsis() string {
	if c.name == "recent" {
		return "list the most recently used ids of a kind"
	}
	return "list the most frequently used ids of a kind"
}
func (c *rankCmd) Usage() string {
	return fmt.Sprintf("usagecache %s [-n <limit>] <kind>\n", c.name)
}
func (c *rankCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", 10, "Maximum number of ids to print.")
}

func (c *rankCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: %s requires exactly one kind\n", c.name)
		return subcommands.ExitUsageError
	}
	kind, err := cache.ParseKind(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	return withCache(ctx, func(store *cache.Cache) error {
		query := store.MostFrequent
		if c.name == "recent" {
			query = store.Recent
		}
		ids, err := query(ctx, kind, c.limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	})
}

type sortCmd struct{}

func (*sortCmd) Name() string     { return "sort" }
func (*sortCmd) Synopsis() string { return "order ids by how often they were used" }
func (*sortCmd) Usage() string {
	return `usagecache sort <kind> <id...>

Prints the given ids, most used first. Ids never used keep their
relative order and come last.
`
}
func (*sortCmd) SetFlags(f *flag.FlagSet) {}

func (*sortCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: sort requires a kind")
		return subcommands.ExitUsageError
	}
	kind, err := cache.ParseKind(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	return withCache(ctx, func(c *cache.Cache) error {
		sorted, err := cache.SortByFrequencyFunc(ctx, c, f.Args()[1:], kind, func(id string) string { return id })
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(sorted, "\n"))
		return nil
	})
}

type cleanupCmd struct {
	optimize bool
}

func (*cleanupCmd) Name() string     { return "cleanup" }
func (*cleanupCmd) Synopsis() string { return "delete usage log entries older than 90 days" }
func (*cleanupCmd) Usage() string    { return "usagecache cleanup [-optimize]\n" }
func (c *cleanupCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.optimize, "optimize", false, "Also refresh SQLite query planner statistics.")
}

func (c *cleanupCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withCache(ctx, func(store *cache.Cache) error {
		removed, err := store.Cleanup(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d entries\n", removed)
		if c.optimize {
			return store.Optimize(ctx)
		}
		return nil
	})
}

type clearCmd struct{}

func (*clearCmd) Name() string             { return "clear" }
func (*clearCmd) Synopsis() string         { return "delete all usage data" }
func (*clearCmd) Usage() string            { return "usagecache clear\n" }
func (*clearCmd) SetFlags(f *flag.FlagSet) {}

func (*clearCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withCache(ctx, func(c *cache.Cache) error {
		return c.Clear(ctx)
	})
}

type statsCmd struct{}

func (*statsCmd) Name() string             { return "stats" }
func (*statsCmd) Synopsis() string         { return "show stored records and events per kind" }
func (*statsCmd) Usage() string            { return "usagecache stats\n" }
func (*statsCmd) SetFlags(f *flag.FlagSet) {}

func (*statsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withCache(ctx, func(c *cache.Cache) error {
		stats, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-10s records=%d events=%d\n", s.Kind, s.Records, s.Events)
		}
		return nil
	})
}

type shellCmd struct{}

func (*shellCmd) Name() string     { return "shell" }
func (*shellCmd) Synopsis() string { return "answer line commands on stdin" }
func (*shellCmd) Usage() string {
	return `usagecache shell

Reads one command per line from stdin:

    TRACK kind id
    FREQUENT kind limit
    RECENT kind limit
    SORT kind id...
    CLEANUP
    CLEAR
    STATS
    CLOSE

Responses:
    OK: <result>     - Success
    ERROR: <reason>  - Failure

EXAMPLES:
    echo 'TRACK category food' | usagecache shell
    echo 'FREQUENT category 5' | usagecache shell
`
}
func (*shellCmd) SetFlags(f *flag.FlagSet) {}

func (*shellCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withCache(ctx, func(c *cache.Cache) error {
		return runShell(ctx, c, os.Stdin, os.Stdout)
	})
}

type serveCmd struct {
	addr  string
	sweep time.Duration
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve the usage cache over local HTTP" }
func (*serveCmd) Usage() string {
	return `usagecache serve [-addr <host:port>] [-sweep <interval>]

Serves the ranking API and runs the retention sweep every interval.
Usage events posted to the server are queued and written in the background.
`
}
func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", envOr("USAGE_CACHE_ADDR", "127.0.0.1:8080"), "Listen address.")
	f.DurationVar(&c.sweep, "sweep", 24*time.Hour, "Interval between retention sweeps; 0 disables them.")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, logger, err := openCache(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not open usage database: %v\n", err)
		return subcommands.ExitFailure
	}
	defer logger.Close()
	defer store.Close()

	client := api.NewClient(store, logger.Error, 0)
	client.StartMaintenance(c.sweep)
	defer client.Close()

	server := &http.Server{
		Addr:     c.addr,
		Handler:  httpapi.NewServer(store, logger.Access, logger.Error).WithTracker(client).Router(),
		ErrorLog: logger.Error,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Cache.Printf("listening on http://%s", c.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
			return subcommands.ExitFailure
		}
	}
	return subcommands.ExitSuccess
}
