package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore opens a store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
		"user_version": "2",
	} {
		got, err := s.pragma(name)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestPrune_KeepsNewestRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		start := epoch.Add(time.Duration(i) * time.Hour)
		run := Run{
			ID:        "run_" + string(rune('a'+i)),
			StartedAt: start, FinishedAt: start,
			Cases: []CaseResult{{Suite: "s", File: "s.toml", Name: "c", Kind: "sql_expect", Status: "passed"}},
		}
		if _, err := s.WriteRun(ctx, run); err != nil {
			t.Fatalf("WriteRun() failed: %v", err)
		}
	}

	removed, err := s.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := s.ReadRun(ctx, "run_a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadRun(run_a) error = %v, want ErrNotFound", err)
	}
	kept, err := s.ReadRun(ctx, "run_d")
	if err != nil {
		t.Fatalf("ReadRun(run_d) failed: %v", err)
	}
	if len(kept.Cases) != 1 {
		t.Errorf("len(Cases) = %d, want 1", len(kept.Cases))
	}

	removed, err = s.Prune(ctx, 0)
	if err != nil {
		t.Fatalf("Prune(0) failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("default retention removed %d runs", removed)
	}
}

func TestWriteRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.WriteRun(ctx, Run{
		ScopeRunID:   "0190abc",
		Target:       "db/test",
		StartedAt:    epoch,
		FinishedAt:   epoch.Add(1500 * time.Millisecond),
		SuitesTotal:  1,
		SuitesFailed: 1,
		CasesTotal:   2,
		CasesPassed:  1,
		CasesFailed:  1,
		Cases: []CaseResult{
			{Suite: "orders", File: "suites/orders.yaml", Name: "create", Kind: "sql_expect", Status: "passed", Duration: 20 * time.Millisecond},
			{Suite: "orders", File: "suites/orders.yaml", Name: "deny", Kind: "permissions_matrix", Status: "failed", Error: "expected deny"},
		},
	})
	if err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
	if len(id) < len("run_") || id[:4] != "run_" {
		t.Fatalf("id = %q, want run_ prefix", id)
	}

	got, err := s.ReadRun(ctx, id)
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if got.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration() = %v, want 1.5s", got.Duration())
	}
	if got.CasesFailed != 1 || got.CasesPassed != 1 {
		t.Errorf("case counts = %d passed / %d failed, want 1/1", got.CasesPassed, got.CasesFailed)
	}
	if len(got.Cases) != 2 {
		t.Fatalf("len(Cases) = %d, want 2", len(got.Cases))
	}
	if got.Cases[0].Seq != 1 || got.Cases[1].Seq != 2 {
		t.Errorf("seq = %d, %d, want 1, 2", got.Cases[0].Seq, got.Cases[1].Seq)
	}
	if got.Cases[0].Duration != 20*time.Millisecond {
		t.Errorf("Cases[0].Duration = %v, want 20ms", got.Cases[0].Duration)
	}
	if got.Cases[1].Error != "expected deny" {
		t.Errorf("Cases[1].Error = %q", got.Cases[1].Error)
	}
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadRun(context.Background(), "run_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadRun() error = %v, want ErrNotFound", err)
	}
}

func TestRecentRuns_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		start := epoch.Add(time.Duration(i) * time.Hour)
		if _, err := s.WriteRun(ctx, Run{ID: "run_" + string(rune('a'+i)), StartedAt: start, FinishedAt: start}); err != nil {
			t.Fatalf("WriteRun() failed: %v", err)
		}
	}

	runs, err := s.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != "run_c" || runs[1].ID != "run_b" {
		t.Errorf("order = %s, %s, want run_c, run_b", runs[0].ID, runs[1].ID)
	}
}

func TestRecentRuns_EmptyIsNotNil(t *testing.T) {
	runs, err := createTestStore(t).RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentRuns() failed: %v", err)
	}
	if runs == nil {
		t.Error("RecentRuns() = nil, want empty slice")
	}
}

func TestRecordEvent_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.RecordEvent(ctx, Event{
		Kind:    EventPruneOverride,
		Target:  "db/test",
		Owner:   "ci",
		Status:  "shared",
		Summary: "0 create, 0 alter, 1 drop",
		Objects: []string{"table:legacy"},
		At:      epoch,
	})
	if err != nil {
		t.Fatalf("RecordEvent() failed: %v", err)
	}
	if err := s.RecordEvent(ctx, Event{Kind: EventSync, Target: "db/test", At: epoch.Add(time.Minute)}); err != nil {
		t.Fatalf("RecordEvent() failed: %v", err)
	}

	events, err := s.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents() failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Kind != EventSync {
		t.Errorf("events[0].Kind = %q, want newest first", events[0].Kind)
	}
	override := events[1]
	if len(override.Objects) != 1 || override.Objects[0] != "table:legacy" {
		t.Errorf("Objects = %v", override.Objects)
	}
	if !override.At.Equal(epoch) {
		t.Errorf("At = %v, want %v", override.At, epoch)
	}
	if len(events[0].Objects) != 0 {
		t.Errorf("empty Objects = %v", events[0].Objects)
	}
}
