package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"moltpfp/internal/domain"
	"moltpfp/internal/infra"
)

const (
	lockStaleAfter = 2 * time.Minute
	lockRetryDelay = 50 * time.Millisecond
)

// FileStore keeps the log as an indented JSON array on local disk.
//
// Appends are serialized by an in-process mutex and, across processes, by an
// exclusive <path>.lock file. The log is replaced via temp file + rename so a
// crash never leaves a truncated array behind.
type FileStore struct {
	path   string
	mu     sync.Mutex
	now    func() time.Time
	logger *infra.Logger
}

// NewFileStore prepares a store at path, creating its parent directory.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: ensure directory: %w", err)
	}
	o := buildOptions(opts)
	return &FileStore{path: path, now: o.now, logger: o.logger}, nil
}

// Path returns the log file location.
func (s *FileStore) Path() string {
	return s.path
}

// List reads the whole log. A missing or empty file is an empty log.
func (s *FileStore) List(ctx context.Context) ([]domain.MoltRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read()
}

func (s *FileStore) Append(ctx context.Context, entry domain.MoltEntry, guard domain.Guard) (domain.MoltRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx)
	if err != nil {
		return domain.MoltRecord{}, err
	}
	defer unlock()

	log, err := s.read()
	if err != nil {
		return domain.MoltRecord{}, err
	}
	if guard != nil {
		if err := guard(log); err != nil {
			return domain.MoltRecord{}, err
		}
	}

	record := entry.Record(s.now(), len(log)+1)
	if err := s.write(append(log, record)); err != nil {
		return domain.MoltRecord{}, err
	}
	s.logger.Debug().Int("day", record.DayNumber).Str("path", s.path).Msg("history: record appended")
	return record, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() ([]domain.MoltRecord, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.MoltRecord{}, nil
		}
		return nil, fmt.Errorf("history: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []domain.MoltRecord{}, nil
	}
	var log []domain.MoltRecord
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", s.path, err)
	}
	if log == nil {
		log = []domain.MoltRecord{}
	}
	return log, nil
}

func (s *FileStore) write(log []domain.MoltRecord) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("history: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("history: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("history: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("history: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("history: replace %s: %w", s.path, err)
	}
	return nil
}

// lock takes the cross-process lock file, waiting for other holders. A lock
// older than lockStaleAfter is assumed abandoned and broken.
func (s *FileStore) lock(ctx context.Context) (func(), error) {
	lockPath := s.path + ".lock"
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("history: acquire lock: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			s.breakStaleLock(lockPath, info)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

// breakStaleLock removes the lock observed as stale. The lock is first renamed
// aside, so of several waiters only one takes it, and it is deleted only when
// the renamed file is still the one that was observed. A lock created in the
// meantime by another process is linked back into place.
func (s *FileStore) breakStaleLock(lockPath string, stale fs.FileInfo) bool {
	aside := fmt.Sprintf("%s.stale-%d-%d", lockPath, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(lockPath, aside); err != nil {
		return false
	}
	defer func() { _ = os.Remove(aside) }()

	info, err := os.Stat(aside)
	if err == nil && os.SameFile(info, stale) && info.ModTime().Equal(stale.ModTime()) {
		s.logger.Warn().Str("lock", lockPath).Msg("history: removed stale lock")
		return true
	}
	if err := os.Link(aside, lockPath); err != nil && !errors.Is(err, fs.ErrExist) {
		_ = os.Rename(aside, lockPath)
	}
	return false
}

var _ Store = (*FileStore)(nil)
