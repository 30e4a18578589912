// Package cache persists BLAST results keyed by a digest of their inputs so
// identical queries are only ever run once.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jjtimmons/pcrdesign/config"
)

// StatusFinished is the only status an entry is stored with
const StatusFinished = "finished"

// Entry is a single stored BLAST result. Entries are never updated after they're written
type Entry struct {
	// Key is the digest of the command and query body
	Key string

	// Sequence is the query that was BLAST'ed
	Sequence string

	// Parameters is reserved, stored as "0000"
	Parameters string

	// Submitted is when the result was computed
	Submitted time.Time

	// Status of the job the result came from
	Status string

	// Stdout and Stderr captured from blastn
	Stdout string
	Stderr string
}

// Store is a content-addressed, append-only result store
type Store interface {
	// Lookup returns the entry at key, or nil if there is none
	Lookup(ctx context.Context, key string) (*Entry, error)

	// Store writes the entry if there isn't one with the same key already
	Store(ctx context.Context, e *Entry) error

	// Len returns the number of stored entries
	Len(ctx context.Context) (int, error)

	Close() error
}

// Open returns the Store selected by the cache settings
func Open(c config.CacheConfig) (Store, error) {
	switch c.Backend {
	case "", "sqlite":
		return OpenSQLite(c.Path)
	case "redis":
		return OpenRedis(c.RedisAddr)
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", config.ErrConfiguration, c.Backend)
	}
}
