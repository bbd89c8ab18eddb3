package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&versionCmd{}, "")

	subcommands.Register(&trackCmd{}, "usage")
	subcommands.Register(&rankCmd{name: "frequent"}, "usage")
	subcommands.Register(&rankCmd{name: "recent"}, "usage")
	subcommands.Register(&sortCmd{}, "usage")

	subcommands.Register(&cleanupCmd{}, "maintenance")
	subcommands.Register(&clearCmd{}, "maintenance")
	subcommands.Register(&statsCmd{}, "maintenance")

	subcommands.Register(&shellCmd{}, "server")
	subcommands.Register(&serveCmd{}, "server")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
