package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileStoreWritesIndentedCamelCaseJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molt-history.json")
	store, err := NewFileStore(path, WithNow(func() time.Time { return time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC) }))
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	if _, err := store.Append(context.Background(), entry("a"), nil); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(raw)
	if !strings.HasPrefix(text, "[\n  {\n    \"reflection\"") {
		t.Fatalf("unexpected layout:\n%s", text)
	}
	for _, key := range []string{`"imageUrl"`, `"uploadResult"`, `"timestamp": "2026-02-01T09:00:00Z"`, `"dayNumber": 1`} {
		if !strings.Contains(text, key) {
			t.Fatalf("log missing %s:\n%s", key, text)
		}
	}
	if _, err := os.Stat(path + ".lock"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("lock file left behind: %v", err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestFileStoreTreatsBlankFileAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molt-history.json")
	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	log, err := store.List(context.Background())
	if err != nil || len(log) != 0 {
		t.Fatalf("List = %v, %v; want empty", log, err)
	}
}

func TestFileStoreRejectsCorruptLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molt-history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store, _ := NewFileStore(path)
	if _, err := store.Append(context.Background(), entry("a"), nil); err == nil {
		t.Fatalf("expected decode error")
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "{not json" {
		t.Fatalf("corrupt log must not be overwritten, got %q", raw)
	}
}

func TestFileStoreWaitsForHeldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molt-history.json")
	store, _ := NewFileStore(path)
	if err := os.WriteFile(path+".lock", []byte("999"), 0o644); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := store.Append(ctx, entry("a"), nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("log must not be written while locked")
	}
}

func TestFileStoreBreaksStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molt-history.json")
	store, _ := NewFileStore(path)
	lockPath := path + ".lock"
	if err := os.WriteFile(lockPath, []byte("999"), 0o644); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	old := time.Now().Add(-10 * time.Minute)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	rec, err := store.Append(context.Background(), entry("a"), nil)
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if rec.DayNumber != 1 {
		t.Fatalf("day number = %d", rec.DayNumber)
	}
}

func TestBreakStaleLockKeepsReplacedLock(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(filepath.Join(dir, "molt-history.json"))
	lockPath := store.Path() + ".lock"

	if err := os.WriteFile(lockPath, []byte("111"), 0o644); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	stale, err := os.Stat(lockPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	// Another process broke the same lock and took a fresh one.
	if err := os.Rename(lockPath, filepath.Join(dir, "taken")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := os.WriteFile(lockPath, []byte("222"), 0o644); err != nil {
		t.Fatalf("fresh lock: %v", err)
	}

	if store.breakStaleLock(lockPath, stale) {
		t.Fatalf("fresh lock reported as broken")
	}
	got, err := os.ReadFile(lockPath)
	if err != nil || string(got) != "222" {
		t.Fatalf("fresh lock = %q, %v", got, err)
	}
	if leftovers, _ := filepath.Glob(lockPath + ".stale-*"); len(leftovers) != 0 {
		t.Fatalf("aside files left: %v", leftovers)
	}

	stale, _ = os.Stat(lockPath)
	if !store.breakStaleLock(lockPath, stale) {
		t.Fatalf("observed lock not broken")
	}
	if _, err := os.Stat(lockPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("lock still present: %v", err)
	}
	if store.breakStaleLock(lockPath, stale) {
		t.Fatalf("missing lock reported as broken")
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	if _, err := NewFileStore("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
