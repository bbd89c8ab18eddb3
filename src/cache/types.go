package cache

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRetention is how long recency log rows are kept before Cleanup removes them.
const DefaultRetention = 90 * 24 * time.Hour

// rankWindow bounds how many frequent ids SortByFrequency considers.
const rankWindow = 50

const (
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3 (cgo)
	DriverModernc = "sqlite"  // modernc.org/sqlite (pure Go)
)

// Kind partitions counters and logs into independent ranking namespaces.
type Kind int

const (
	KindCategory Kind = iota + 1
	KindTag
	KindAccount
)

var kindNames = map[Kind]string{
	KindCategory: "category",
	KindTag:      "tag",
	KindAccount:  "account",
}

// Kinds lists every valid Kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindCategory, KindTag, KindAccount}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind maps a persisted or user supplied name back to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kind %q", name)
}

type CacheConfig struct {
	Path        string        // database file, or ":memory:"
	Driver      string        // DriverMattn (default) or DriverModernc
	Retention   time.Duration // recency log retention, DefaultRetention when zero
	BusyTimeout time.Duration
	Now         func() time.Time
	Logger      *log.Logger
}

// Cache is the explicitly owned handle to the usage store. Construct one per
// process with New and pass it to every collaborator.
type Cache struct {
	config CacheConfig
	logger *log.Logger

	mutex  sync.RWMutex
	db     *sql.DB
	closed bool
	inits  singleflight.Group
}

// FrequencyRecord is the persisted (kind, item) counter.
type FrequencyRecord struct {
	Kind     Kind
	ItemID   string
	Count    int64
	LastUsed time.Time
}

// RecencyEntry is one row of the append-only usage log.
type RecencyEntry struct {
	ID        int64
	Kind      Kind
	ItemID    string
	Timestamp time.Time
}

// KindStats summarizes what is stored for a single kind.
type KindStats struct {
	Kind    Kind
	Records int64
	Events  int64
}
