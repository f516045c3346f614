package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/earshot/pkg/memory"
)

var (
	_ memory.SegmentStore    = (*Store)(nil)
	_ memory.ProfileStore    = (*Store)(nil)
	_ memory.NearestSearcher = (*Store)(nil)
)

// Store keeps transcribed segments and voice profiles in PostgreSQL. Profile
// fingerprints live in a pgvector column so nearest-neighbour lookups run in
// the database.
//
// A Store is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// Option tunes a [Store] at construction time.
type Option func(*storeOptions)

type storeOptions struct {
	maxConns    int32
	skipMigrate bool
}

// WithMaxConns caps the pool size. Values below one keep the pgxpool default.
func WithMaxConns(n int32) Option {
	return func(o *storeOptions) { o.maxConns = n }
}

// WithoutMigrate skips [Migrate]. The schema must already exist.
func WithoutMigrate() Option {
	return func(o *storeOptions) { o.skipMigrate = true }
}

// NewStore connects to dsn and prepares the schema for fingerprints of width
// dims. The connection is verified before NewStore returns.
func NewStore(ctx context.Context, dsn string, dims int, opts ...Option) (*Store, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if o.maxConns > 0 {
		pcfg.MaxConns = o.maxConns
	}
	pcfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	s := &Store{pool: pool, dims: dims}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if !o.skipMigrate {
		if err := Migrate(ctx, pool, dims); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Dims is the fingerprint width the schema was prepared for.
func (s *Store) Dims() int { return s.dims }

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
