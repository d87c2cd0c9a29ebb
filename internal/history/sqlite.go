package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"moltpfp/internal/domain"
	"moltpfp/internal/infra"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS molt_history (
    day_number     INTEGER PRIMARY KEY,
    reflection     TEXT NOT NULL,
    prompt         TEXT NOT NULL,
    image_url      TEXT NOT NULL,
    upload_result  TEXT NOT NULL DEFAULT '{}',
    created_at     TEXT NOT NULL
);
`

const (
	sqliteSelectHistory = `SELECT day_number, reflection, prompt, image_url, upload_result, created_at
FROM molt_history ORDER BY day_number ASC`
	sqliteInsertRecord = `INSERT INTO molt_history (day_number, reflection, prompt, image_url, upload_result, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
)

// SQLiteStore keeps the log in a local SQLite database. Append runs inside a
// BEGIN IMMEDIATE transaction, which takes the database write lock before the
// guard reads the log.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *infra.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: ensure directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: sqlite schema: %w", err)
	}
	o := buildOptions(opts)
	return &SQLiteStore{db: db, now: o.now, logger: o.logger}, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.MoltRecord, error) {
	return sqliteRecords(ctx, s.db)
}

func (s *SQLiteStore) Append(ctx context.Context, entry domain.MoltEntry, guard domain.Guard) (rec domain.MoltRecord, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return domain.MoltRecord{}, fmt.Errorf("history: sqlite conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return domain.MoltRecord{}, fmt.Errorf("history: sqlite begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("history: sqlite rollback failed")
			}
		}
	}()

	log, err := sqliteRecords(ctx, conn)
	if err != nil {
		return domain.MoltRecord{}, err
	}
	if guard != nil {
		if err := guard(log); err != nil {
			return domain.MoltRecord{}, err
		}
	}

	rec = entry.Record(s.now(), len(log)+1)
	if _, err := conn.ExecContext(ctx, sqliteInsertRecord,
		rec.DayNumber, rec.Reflection, rec.Prompt, rec.ImageURL,
		string(rec.UploadResult), rec.Timestamp.Format(time.RFC3339Nano),
	); err != nil {
		return domain.MoltRecord{}, fmt.Errorf("history: sqlite insert: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return domain.MoltRecord{}, fmt.Errorf("history: sqlite commit: %w", err)
	}
	committed = true
	s.logger.Debug().Int("day", rec.DayNumber).Msg("history: record appended")
	return rec, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqliteRecords(ctx context.Context, q sqliteQueryer) ([]domain.MoltRecord, error) {
	rows, err := q.QueryContext(ctx, sqliteSelectHistory)
	if err != nil {
		return nil, fmt.Errorf("history: sqlite select: %w", err)
	}
	defer rows.Close()

	log := []domain.MoltRecord{}
	for rows.Next() {
		var (
			rec     domain.MoltRecord
			upload  string
			created string
		)
		if err := rows.Scan(&rec.DayNumber, &rec.Reflection, &rec.Prompt, &rec.ImageURL, &upload, &created); err != nil {
			return nil, fmt.Errorf("history: sqlite scan: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("history: sqlite timestamp %q: %w", created, err)
		}
		rec.Timestamp = ts
		rec.UploadResult = []byte(upload)
		log = append(log, rec)
	}
	return log, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
