// Package scheduler decides which rules run against an incoming record
// and in what order, and drives evaluation and execution for the
// matches.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inboxkit/mailflow/internal/action"
	"github.com/inboxkit/mailflow/internal/condition"
	"github.com/inboxkit/mailflow/internal/execlog"
	"github.com/inboxkit/mailflow/internal/metrics"
	"github.com/inboxkit/mailflow/internal/record"
	"github.com/inboxkit/mailflow/internal/rule"
)

// RuleOutcome summarizes one rule's run against a record.
type RuleOutcome struct {
	RuleID        string           `json:"rule_id"`
	RuleName      string           `json:"rule_name"`
	Matched       bool             `json:"matched"`
	Outcome       execlog.Outcome  `json:"outcome,omitempty"`
	ExecutedTypes []string         `json:"executed_types,omitempty"`
	Trace         *condition.Trace `json:"trace,omitempty"`
}

// Scheduler runs records through candidate selection, evaluation,
// execution, and logging. It is safe for concurrent use by the
// engine's worker pool: rules are only read under their shared lock.
type Scheduler struct {
	store  rule.Store
	locks  *rule.LockTable
	eval   *condition.Evaluator
	runner *action.Runner
	log    execlog.Log
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the scheduling clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a Scheduler.
func New(store rule.Store, locks *rule.LockTable, eval *condition.Evaluator, runner *action.Runner, log execlog.Log, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		locks:  locks,
		eval:   eval,
		runner: runner,
		log:    log,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SelectCandidates filters and orders the rules eligible for a record
// at the given instant: active, inside their schedule window, and
// under their hourly execution cap. Ordering is priority descending
// with creation order as the deterministic tie-break.
func (s *Scheduler) SelectCandidates(ctx context.Context, rules []*rule.Rule, now time.Time) []*rule.Rule {
	var out []*rule.Rule
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if !r.Schedule.Eligible(now) {
			continue
		}
		if r.MaxExecutionsPerHour > 0 {
			n, err := s.log.CountSince(ctx, r.ID, now.Add(-time.Hour))
			if err != nil {
				// Rate checks are best-effort; on error we allow the
				// firing rather than starve the rule.
				s.logger.Warn("rate check failed, allowing rule", "rule", r.ID, "err", err)
			} else if n >= r.MaxExecutionsPerHour {
				metrics.RulesRateLimited.WithLabelValues(r.ID).Inc()
				continue
			}
		}
		out = append(out, r)
	}
	// The store lists rules in creation order; a stable sort on
	// priority preserves that order within equal priorities.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Process runs one record through every candidate rule, sequentially
// in candidate order. All matching rules fire: there is no implicit
// stop-on-first-match. Authors wanting exclusivity express it with
// priorities plus a custom field set by an earlier rule's action.
//
// Only matched evaluations produce an execution log entry; a no-match
// is visible in the returned outcomes but is not logged.
func (s *Scheduler) Process(ctx context.Context, rec *record.Record) ([]RuleOutcome, error) {
	rules, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	candidates := s.SelectCandidates(ctx, rules, now)

	outcomes := make([]RuleOutcome, 0, len(candidates))
	for _, r := range candidates {
		outcomes = append(outcomes, s.runRule(ctx, r, rec))
		if ctx.Err() != nil {
			break
		}
	}
	return outcomes, nil
}

// Preview evaluates a single rule against a record without firing any
// actions, returning the full match trace for the rule author.
func (s *Scheduler) Preview(ctx context.Context, ruleID string, rec *record.Record) (*RuleOutcome, error) {
	r, err := s.store.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	s.locks.RLock(r.ID)
	matched, trace := s.eval.Evaluate(ctx, r.Condition, rec)
	s.locks.RUnlock(r.ID)
	return &RuleOutcome{
		RuleID:   r.ID,
		RuleName: r.Name,
		Matched:  matched,
		Trace:    trace,
	}, nil
}

func (s *Scheduler) runRule(ctx context.Context, r *rule.Rule, rec *record.Record) RuleOutcome {
	s.locks.RLock(r.ID)
	defer s.locks.RUnlock(r.ID)

	start := s.now()
	matched, trace := s.eval.Evaluate(ctx, r.Condition, rec)
	out := RuleOutcome{RuleID: r.ID, RuleName: r.Name, Matched: matched, Trace: trace}
	if !matched {
		return out
	}
	metrics.RulesMatched.WithLabelValues(r.ID).Inc()

	execCtx := ctx
	cancel := context.CancelFunc(func() {})
	if t := r.Timeout(); t > 0 {
		execCtx, cancel = context.WithTimeout(ctx, t)
	}
	defer cancel()

	ec := action.NewExecContext(r.ID, rec.ID)
	ec.FailFast = r.FailFast
	res := s.runner.Run(execCtx, r.Actions, rec, ec)

	entry := execlog.Entry{
		ID:            uuid.New().String(),
		RuleID:        r.ID,
		RecordID:      rec.ID,
		Timestamp:     start,
		ExecutedTypes: res.ExecutedTypes,
		Duration:      time.Since(start),
		MatchedLeaves: trace.MatchedLeaves(),
		BranchTaken:   strings.Join(res.BranchesTaken, ","),
	}
	switch {
	// The timeout outcome is reserved for the rule's own deadline; a
	// parent context that expired or was cancelled first is an
	// ordinary execution failure, not this rule's fault.
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		entry.Outcome = execlog.OutcomeTimeout
		entry.Error = "rule timeout exceeded, action sequence abandoned"
		metrics.RuleTimeouts.WithLabelValues(r.ID).Inc()
	case len(res.Failures) == 0 && !res.Aborted:
		entry.Outcome = execlog.OutcomeSuccess
	case len(res.ExecutedTypes) > len(res.Failures):
		entry.Outcome = execlog.OutcomePartial
		entry.Error = failureSummary(res)
	default:
		entry.Outcome = execlog.OutcomeError
		entry.Error = failureSummary(res)
	}
	out.Outcome = entry.Outcome
	out.ExecutedTypes = res.ExecutedTypes

	if err := s.log.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append execution log entry", "rule", r.ID, "err", err)
	}
	if err := s.store.IncrementExecutions(ctx, r.ID); err != nil {
		s.logger.Warn("failed to bump execution count", "rule", r.ID, "err", err)
	}
	if entry.Outcome != execlog.OutcomeSuccess {
		s.logger.Warn("rule execution degraded",
			"rule", r.ID, "record", rec.ID, "outcome", entry.Outcome, "err", entry.Error)
	}
	return out
}

func failureSummary(res *action.Result) string {
	parts := make([]string, 0, len(res.Failures))
	for _, f := range res.Failures {
		parts = append(parts, f.Type+": "+f.Error)
	}
	return strings.Join(parts, "; ")
}
