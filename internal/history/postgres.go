package history

import (
	"context"
	"fmt"
	"time"

	"moltpfp/internal/domain"
	"moltpfp/internal/infra"
	"moltpfp/internal/sqlinline"
)

// PostgresStore keeps the log in the molt_history table. Append holds a
// transaction scoped advisory lock across the guard and the insert.
type PostgresStore struct {
	sql    infra.TxRunner
	now    func() time.Time
	logger *infra.Logger
	closer func()
}

// NewPostgresStore ensures the schema exists and returns the store.
func NewPostgresStore(ctx context.Context, runner infra.TxRunner, opts ...Option) (*PostgresStore, error) {
	if _, err := runner.Exec(ctx, sqlinline.QEnsureMoltHistory); err != nil {
		return nil, fmt.Errorf("history: ensure schema: %w", err)
	}
	o := buildOptions(opts)
	return &PostgresStore{sql: runner, now: o.now, logger: o.logger, closer: o.closer}, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]domain.MoltRecord, error) {
	return pgRecords(ctx, s.sql)
}

func (s *PostgresStore) Append(ctx context.Context, entry domain.MoltEntry, guard domain.Guard) (domain.MoltRecord, error) {
	var rec domain.MoltRecord
	err := s.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QLockMoltHistory); err != nil {
			return fmt.Errorf("history: lock: %w", err)
		}
		log, err := pgRecords(ctx, tx)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(log); err != nil {
				return err
			}
		}
		rec = entry.Record(s.now(), len(log)+1)
		if _, err := tx.Exec(ctx, sqlinline.QInsertMoltRecord,
			rec.DayNumber, rec.Reflection, rec.Prompt, rec.ImageURL,
			string(rec.UploadResult), rec.Timestamp,
		); err != nil {
			return fmt.Errorf("history: insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.MoltRecord{}, err
	}
	s.logger.Debug().Int("day", rec.DayNumber).Msg("history: record appended")
	return rec, nil
}

func (s *PostgresStore) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

func pgRecords(ctx context.Context, q infra.SQLExecutor) ([]domain.MoltRecord, error) {
	rows, err := q.Query(ctx, sqlinline.QSelectMoltHistory)
	if err != nil {
		return nil, fmt.Errorf("history: select: %w", err)
	}
	defer rows.Close()

	log := []domain.MoltRecord{}
	for rows.Next() {
		var (
			rec    domain.MoltRecord
			upload []byte
		)
		if err := rows.Scan(&rec.DayNumber, &rec.Reflection, &rec.Prompt, &rec.ImageURL, &upload, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		rec.UploadResult = upload
		rec.Timestamp = rec.Timestamp.UTC()
		log = append(log, rec)
	}
	return log, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
