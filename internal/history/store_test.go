package history

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"moltpfp/internal/domain"
	"moltpfp/internal/infra"
)

type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	current := c.t
	c.t = c.t.Add(c.step)
	return current
}

type storeFactory func(t *testing.T, now func() time.Time) Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"file": func(t *testing.T, now func() time.Time) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "memory", "molt-history.json"), WithNow(now))
			if err != nil {
				t.Fatalf("NewFileStore error: %v", err)
			}
			return s
		},
		"sqlite": func(t *testing.T, now func() time.Time) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "molt-history.db"), WithNow(now))
			if err != nil {
				t.Fatalf("OpenSQLite error: %v", err)
			}
			return s
		},
		"postgres": func(t *testing.T, now func() time.Time) Store {
			s, err := NewPostgresStore(context.Background(), newMemoryRunner(), WithNow(now))
			if err != nil {
				t.Fatalf("NewPostgresStore error: %v", err)
			}
			return s
		},
	}
}

// sharedFactories open independent store instances over one location, the
// way separate agent processes would.
func sharedFactories() map[string]func(t *testing.T) func(now func() time.Time) Store {
	return map[string]func(t *testing.T) func(now func() time.Time) Store{
		"file": func(t *testing.T) func(now func() time.Time) Store {
			path := filepath.Join(t.TempDir(), "memory", "molt-history.json")
			return func(now func() time.Time) Store {
				s, err := NewFileStore(path, WithNow(now))
				if err != nil {
					t.Fatalf("NewFileStore error: %v", err)
				}
				return s
			}
		},
		"sqlite": func(t *testing.T) func(now func() time.Time) Store {
			path := filepath.Join(t.TempDir(), "molt-history.db")
			return func(now func() time.Time) Store {
				s, err := OpenSQLite(path, WithNow(now))
				if err != nil {
					t.Fatalf("OpenSQLite error: %v", err)
				}
				return s
			}
		},
		"postgres": func(t *testing.T) func(now func() time.Time) Store {
			runner := newMemoryRunner()
			return func(now func() time.Time) Store {
				s, err := NewPostgresStore(context.Background(), runner, WithNow(now))
				if err != nil {
					t.Fatalf("NewPostgresStore error: %v", err)
				}
				return s
			}
		},
	}
}

func TestConcurrentAppendsMoltOncePerDay(t *testing.T) {
	const workers = 16
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	for name, shared := range sharedFactories() {
		t.Run(name, func(t *testing.T) {
			open := shared(t)
			stores := make([]Store, workers)
			for i := range stores {
				stores[i] = open(clock)
				defer stores[i].Close()
			}

			errs := make([]error, workers)
			var wg sync.WaitGroup
			for i, store := range stores {
				wg.Add(1)
				go func(i int, store Store) {
					defer wg.Done()
					_, errs[i] = store.Append(context.Background(), entry("racer"), domain.OncePerDay(now))
				}(i, store)
			}
			wg.Wait()

			succeeded := 0
			for i, err := range errs {
				switch {
				case err == nil:
					succeeded++
				case !errors.Is(err, domain.ErrAlreadyMoltedToday):
					t.Fatalf("worker %d error: %v", i, err)
				}
			}
			if succeeded != 1 {
				t.Fatalf("successful appends = %d, want 1", succeeded)
			}
			log, err := stores[0].List(context.Background())
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if len(log) != 1 || log[0].DayNumber != 1 {
				t.Fatalf("log = %+v", log)
			}
		})
	}
}

func entry(n string) domain.MoltEntry {
	return domain.MoltEntry{
		Reflection:   "reflection " + n,
		Prompt:       "prompt " + n,
		ImageURL:     "https://img.example/" + n + ".png",
		UploadResult: json.RawMessage(`{"success":true}`),
	}
}

func TestStoreEmptyLog(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t, time.Now)
			defer store.Close()

			log, err := store.List(context.Background())
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if log == nil || len(log) != 0 {
				t.Fatalf("expected empty non-nil log, got %#v", log)
			}
		})
	}
}

func TestStoreAssignsSequentialDayNumbers(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			clock := &stepClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), step: 24 * time.Hour}
			store := factory(t, clock.now)
			defer store.Close()

			ctx := context.Background()
			for i, n := range []string{"a", "b", "c"} {
				rec, err := store.Append(ctx, entry(n), nil)
				if err != nil {
					t.Fatalf("Append %s error: %v", n, err)
				}
				if rec.DayNumber != i+1 {
					t.Fatalf("day number = %d, want %d", rec.DayNumber, i+1)
				}
			}

			first, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			second, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if !reflect.DeepEqual(first, second) {
				t.Fatalf("List is not idempotent:\n%#v\n%#v", first, second)
			}
			if len(first) != 3 {
				t.Fatalf("len = %d, want 3", len(first))
			}
			for i, rec := range first {
				if rec.DayNumber != i+1 {
					t.Fatalf("record %d day number = %d", i, rec.DayNumber)
				}
			}
			if first[1].ImageURL != "https://img.example/b.png" || first[1].Reflection != "reflection b" {
				t.Fatalf("unexpected record %+v", first[1])
			}
			if !first[2].Timestamp.Equal(time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)) {
				t.Fatalf("timestamp = %s", first[2].Timestamp)
			}
			var upload map[string]any
			if err := json.Unmarshal(first[0].UploadResult, &upload); err != nil || upload["success"] != true {
				t.Fatalf("upload result = %s (%v)", first[0].UploadResult, err)
			}
		})
	}
}

func TestStoreGuardRejectsSecondMoltSameDay(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
			clock := &stepClock{t: now, step: time.Hour}
			store := factory(t, clock.now)
			defer store.Close()

			ctx := context.Background()
			if _, err := store.Append(ctx, entry("a"), domain.OncePerDay(now)); err != nil {
				t.Fatalf("first Append error: %v", err)
			}
			_, err := store.Append(ctx, entry("b"), domain.OncePerDay(now.Add(time.Hour)))
			if !errors.Is(err, domain.ErrAlreadyMoltedToday) {
				t.Fatalf("error = %v, want ErrAlreadyMoltedToday", err)
			}

			log, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if len(log) != 1 {
				t.Fatalf("guard failure must not write, len = %d", len(log))
			}

			if _, err := store.Append(ctx, entry("c"), domain.OncePerDay(now.Add(24*time.Hour))); err != nil {
				t.Fatalf("next day Append error: %v", err)
			}
		})
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(context.Background(), &infra.Config{HistoryDriver: infra.HistoryDriverFile, HistoryPath: filepath.Join(dir, "h.json")})
	if err != nil {
		t.Fatalf("Open file error: %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Fatalf("expected *FileStore, got %T", store)
	}

	store, err = Open(context.Background(), &infra.Config{HistoryDriver: infra.HistoryDriverSQLite, HistoryPath: filepath.Join(dir, "h.json")})
	if err != nil {
		t.Fatalf("Open sqlite error: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*SQLiteStore); !ok {
		t.Fatalf("expected *SQLiteStore, got %T", store)
	}

	if _, err := Open(context.Background(), &infra.Config{HistoryDriver: "redis"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestSQLitePath(t *testing.T) {
	if got := sqlitePath("./memory/molt-history.json"); got != "./memory/molt-history.db" {
		t.Fatalf("sqlitePath = %q", got)
	}
	if got := sqlitePath("/var/lib/molt.sqlite"); got != "/var/lib/molt.sqlite" {
		t.Fatalf("sqlitePath = %q", got)
	}
}
