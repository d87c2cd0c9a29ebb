package history

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"moltpfp/internal/domain"
	"moltpfp/internal/infra"
)

// Store is the append-only molt log. Append runs guard and the write as one
// critical section, so two writers can never both pass a once-per-day check.
type Store interface {
	List(ctx context.Context) ([]domain.MoltRecord, error)
	// Append evaluates guard against the current log and, when it passes,
	// appends entry with DayNumber len(log)+1. A guard error is returned
	// unchanged and nothing is written.
	Append(ctx context.Context, entry domain.MoltEntry, guard domain.Guard) (domain.MoltRecord, error)
	Close() error
}

type options struct {
	now    func() time.Time
	logger *infra.Logger
	closer func()
}

// Option tunes a store.
type Option func(*options)

// WithNow replaces the clock used to stamp appended records.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *infra.Logger) Option {
	return func(o *options) { o.logger = l }
}

func withCloser(fn func()) Option {
	return func(o *options) { o.closer = fn }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = infra.OrDiscard(o.logger)
	return o
}

// Open builds the store selected by cfg.HistoryDriver.
func Open(ctx context.Context, cfg *infra.Config, opts ...Option) (Store, error) {
	switch cfg.HistoryDriver {
	case "", infra.HistoryDriverFile:
		return NewFileStore(cfg.HistoryPath, opts...)
	case infra.HistoryDriverSQLite:
		return OpenSQLite(sqlitePath(cfg.HistoryPath), opts...)
	case infra.HistoryDriverPostgres:
		o := buildOptions(opts)
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store, err := NewPostgresStore(ctx, infra.NewSQLRunner(pool, *o.logger), append(opts, withCloser(pool.Close))...)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("history: unsupported driver %q", cfg.HistoryDriver)
	}
}

// sqlitePath swaps a .json history path for a .db sibling so the default
// MOLT_HISTORY_PATH works for both file based drivers.
func sqlitePath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
	}
	return path
}
