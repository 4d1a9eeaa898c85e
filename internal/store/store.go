// Package store provides storage backends for the eventgate admission engine.
//
// It includes a PostgreSQL-backed store for production and an SQLite-backed store for
// single-node deployments and tests. Both implement the IdempotencyRepo, DedupRepo,
// OrderingRepo, and SweepRepo interfaces.
package store

import (
	"errors"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

// ErrAlreadyExists indicates a live record already exists for the key. Callers treat
// it as "another worker is handling this", never as a hard failure.
var ErrAlreadyExists = errors.New("a live record already exists for this key")

// Opts holds configuration options for store construction.
type Opts struct {
	// DSN is the database connection string: a connection URL for PostgreSQL,
	// a file path for SQLite.
	DSN string
	// StuckTimeout is how long a processing record may sit before it is
	// reclaimable. Zero means models.DefaultStuckTimeout.
	StuckTimeout time.Duration
	// MaxRetries is the number of failed attempts before an operation is
	// exhausted. Zero means models.DefaultMaxRetries.
	MaxRetries int
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithStuckTimeout overrides the stuck-processing reclaim timeout.
func WithStuckTimeout(d time.Duration) Option {
	return func(o *Opts) { o.StuckTimeout = d }
}

// WithMaxRetries overrides the retry budget for failed operations.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// normalize fills unset policy fields with defaults.
func (o *Opts) normalize() {
	if o.StuckTimeout <= 0 {
		o.StuckTimeout = models.DefaultStuckTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = models.DefaultMaxRetries
	}
}

// Store is the full persistence surface the engine and the sweeper are built on.
type Store interface {
	IdempotencyRepo
	DedupRepo
	OrderingRepo
	SweepRepo

	// Close releases the underlying database connection.
	Close() error
}
