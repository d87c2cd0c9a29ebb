package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor defines the contract required by stores for executing SQL queries.
// Every query must start with a `--sql <uuid>` marker line.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// TxRunner is an SQLExecutor that can also run a function inside one
// transaction.
type TxRunner interface {
	SQLExecutor
	InTx(ctx context.Context, fn func(SQLExecutor) error) error
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type SQLRunner struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return markedExec(ctx, r.Pool, r.Logger, query, args...)
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return markedQueryRow(ctx, r.Pool, r.Logger, query, args...)
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return markedQuery(ctx, r.Pool, r.Logger, query, args...)
}

// InTx runs fn inside a read-committed transaction, committing when fn returns
// nil and rolling back otherwise.
func (r *SQLRunner) InTx(ctx context.Context, fn func(SQLExecutor) error) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	r.Logger.Debug().Msg("sql tx begin")
	if err := fn(txExecutor{tx: tx, logger: r.Logger}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.Logger.Error().Err(rbErr).Msg("sql tx rollback failed")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	r.Logger.Debug().Msg("sql tx commit")
	return nil
}

type txExecutor struct {
	tx     pgx.Tx
	logger zerolog.Logger
}

func (t txExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return markedExec(ctx, t.tx, t.logger, query, args...)
}

func (t txExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return markedQueryRow(ctx, t.tx, t.logger, query, args...)
}

func (t txExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return markedQuery(ctx, t.tx, t.logger, query, args...)
}

func markedExec(ctx context.Context, q queryer, logger zerolog.Logger, query string, args ...any) (pgconn.CommandTag, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	logger.Debug().Msgf("sql[%s] exec", marker)
	tag, err := q.Exec(ctx, trimmed, args...)
	if err != nil {
		logger.Error().Err(err).Msgf("sql[%s] error", marker)
		return tag, err
	}
	return tag, nil
}

func markedQueryRow(ctx context.Context, q queryer, logger zerolog.Logger, query string, args ...any) pgx.Row {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	logger.Debug().Msgf("sql[%s] query_row", marker)
	return loggingRow{row: q.QueryRow(ctx, trimmed, args...), logger: logger, marker: marker}
}

func markedQuery(ctx context.Context, q queryer, logger zerolog.Logger, query string, args ...any) (pgx.Rows, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	logger.Debug().Msgf("sql[%s] query", marker)
	rows, err := q.Query(ctx, trimmed, args...)
	if err != nil {
		logger.Error().Err(err).Msgf("sql[%s] error", marker)
		return nil, err
	}
	return loggingRows{Rows: rows, logger: logger, marker: marker}, nil
}

type loggingRow struct {
	row    pgx.Row
	logger zerolog.Logger
	marker string
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		l.logger.Error().Err(err).Msgf("sql[%s] scan error", l.marker)
	}
	return err
}

type loggingRows struct {
	pgx.Rows
	logger zerolog.Logger
	marker string
}

func (l loggingRows) Close() {
	l.logger.Debug().Msgf("sql[%s] rows close", l.marker)
	l.Rows.Close()
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// IsNoRows reports whether err signals an empty result set.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 || trimmed == "" {
		return "", "", errors.New("empty query")
	}
	markerLine := strings.TrimSpace(lines[0])
	if !markerRegexp.MatchString(markerLine) {
		return "", "", errors.New("sql marker missing or invalid")
	}
	return strings.TrimSpace(strings.TrimPrefix(markerLine, "--sql ")), strings.Join(lines[1:], "\n"), nil
}

var (
	_ SQLExecutor = (*SQLRunner)(nil)
	_ TxRunner    = (*SQLRunner)(nil)
	_ SQLExecutor = txExecutor{}
)
