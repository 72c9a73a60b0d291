package execlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *SQLiteLog {
	t.Helper()
	l, err := NewSQLiteLog(filepath.Join(t.TempDir(), "exec.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSQLiteLog_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{
			ID: "e1", RuleID: "ra", RecordID: "rec-1",
			Timestamp: base, Outcome: OutcomeSuccess,
			ExecutedTypes: []string{"star", "notify"},
			Duration:      12 * time.Millisecond,
			MatchedLeaves: []string{"sender", "subject"},
		},
		{
			ID: "e2", RuleID: "rb", RecordID: "rec-1",
			Timestamp: base.Add(time.Minute), Outcome: OutcomeError,
			Error:       "notify: connection refused",
			BranchTaken: "fallback",
		},
		{
			ID: "e3", RuleID: "ra", RecordID: "rec-2",
			Timestamp: base.Add(2 * time.Minute), Outcome: OutcomePartial,
		},
	}
	for _, e := range entries {
		if err := l.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "e3" || all[2].ID != "e1" {
		t.Fatalf("newest-first order broken: %+v", all)
	}

	got, err := l.Query(ctx, Filter{RuleID: "ra", Outcome: OutcomeSuccess})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("filtered query = %+v", got)
	}
	e := got[0]
	if len(e.ExecutedTypes) != 2 || e.ExecutedTypes[1] != "notify" {
		t.Errorf("ExecutedTypes = %v", e.ExecutedTypes)
	}
	if len(e.MatchedLeaves) != 2 {
		t.Errorf("MatchedLeaves = %v", e.MatchedLeaves)
	}
	if e.Duration != 12*time.Millisecond {
		t.Errorf("Duration = %v", e.Duration)
	}
	if !e.Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v", e.Timestamp)
	}

	byRecord, _ := l.Query(ctx, Filter{RecordID: "rec-1"})
	if len(byRecord) != 2 {
		t.Errorf("by record = %+v", byRecord)
	}
	limited, _ := l.Query(ctx, Filter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "e3" {
		t.Errorf("limited = %+v", limited)
	}
	windowed, _ := l.Query(ctx, Filter{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)})
	if len(windowed) != 1 || windowed[0].ID != "e2" {
		t.Errorf("windowed = %+v", windowed)
	}
}

func TestSQLiteLog_CountSince(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		e := Entry{
			ID:        string(rune('a' + i)),
			RuleID:    "ra",
			RecordID:  "rec",
			Timestamp: base.Add(time.Duration(i) * 20 * time.Minute),
			Outcome:   OutcomeSuccess,
		}
		if err := l.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := l.CountSince(ctx, "ra", base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountSince = %d, want 2", n)
	}
	if n, _ := l.CountSince(ctx, "other", base); n != 0 {
		t.Errorf("unknown rule should count 0, got %d", n)
	}
}
