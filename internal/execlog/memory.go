package execlog

import (
	"context"
	"sync"
	"time"
)

// MemoryLog keeps entries in an in-process slice. Suited to tests and
// single-node deployments without persistence requirements.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	cap     int
}

// NewMemoryLog creates a MemoryLog. A positive cap bounds retained
// entries; oldest entries fall off first. Zero means unbounded.
func NewMemoryLog(cap int) *MemoryLog {
	return &MemoryLog{cap: cap}
}

func (l *MemoryLog) Append(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if l.cap > 0 && len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
	return nil
}

func (l *MemoryLog) Query(_ context.Context, f Filter) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	// Newest first.
	for i := len(l.entries) - 1; i >= 0; i-- {
		if !f.matches(l.entries[i]) {
			continue
		}
		out = append(out, l.entries[i])
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLog) CountSince(_ context.Context, ruleID string, since time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Timestamp.Before(since) {
			break // entries append in time order
		}
		if e.RuleID == ruleID {
			n++
		}
	}
	return n, nil
}
