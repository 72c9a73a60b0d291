// Package execlog is the append-only record of rule firings. Entries
// are immutable: rule logic can append and query but never update or
// delete (retention is an administrative concern outside the engine).
package execlog

import (
	"context"
	"time"
)

// Outcome classifies one rule firing.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Entry records one rule evaluation attempt that matched. Created
// exactly once, never updated.
type Entry struct {
	ID            string        `json:"id"`
	RuleID        string        `json:"rule_id"`
	RecordID      string        `json:"record_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Outcome       Outcome       `json:"outcome"`
	ExecutedTypes []string      `json:"executed_types,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	MatchedLeaves []string      `json:"matched_leaves,omitempty"`
	BranchTaken   string        `json:"branch_taken,omitempty"`
}

// Filter narrows a log query. Zero values are wildcards.
type Filter struct {
	RuleID   string
	RecordID string
	Since    time.Time
	Until    time.Time
	Outcome  Outcome
	Limit    int
}

// Log is the append-only store interface. Query returns entries in
// reverse-chronological order. CountSince backs the scheduler's
// sliding-window rate limit; the count is best-effort under
// concurrency, erring toward allowing a firing.
type Log interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
	CountSince(ctx context.Context, ruleID string, since time.Time) (int, error)
}

func (f Filter) matches(e Entry) bool {
	if f.RuleID != "" && e.RuleID != f.RuleID {
		return false
	}
	if f.RecordID != "" && e.RecordID != f.RecordID {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}
