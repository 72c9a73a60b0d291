package action

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/inboxkit/mailflow/internal/condition"
	"github.com/inboxkit/mailflow/internal/metrics"
	"github.com/inboxkit/mailflow/internal/record"
	"github.com/inboxkit/mailflow/internal/rule"
)

// Failure records one action that failed after exhausting its retries.
type Failure struct {
	Type   string `json:"type"`
	Branch string `json:"branch,omitempty"`
	Error  string `json:"error"`
}

// Result is the outcome of running one action sequence. Partial
// failure is recorded, not escalated: remaining actions still run
// unless the rule is marked fail-fast.
type Result struct {
	ExecutedTypes []string  `json:"executed_types"`
	Failures      []Failure `json:"failures,omitempty"`
	BranchesTaken []string  `json:"branches_taken,omitempty"`
	Aborted       bool      `json:"aborted,omitempty"`
}

// Success reports whether every action in the sequence succeeded.
func (r *Result) Success() bool { return len(r.Failures) == 0 && !r.Aborted }

func (r *Result) merge(o *Result) {
	r.ExecutedTypes = append(r.ExecutedTypes, o.ExecutedTypes...)
	r.Failures = append(r.Failures, o.Failures...)
	r.BranchesTaken = append(r.BranchesTaken, o.BranchesTaken...)
	r.Aborted = r.Aborted || o.Aborted
}

// Runner interprets action lists. It is the sole interpreter of action
// type strings; conditional and branching control actions are handled
// inline, everything else dispatches through the registry.
type Runner struct {
	registry      *Registry
	eval          *condition.Evaluator
	parallelLimit int
	logger        *slog.Logger
	sem           chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithParallelLimit bounds concurrently running parallel branches
// across the whole Runner, so deeply nested parallel branching cannot
// fan out without bound.
func WithParallelLimit(n int) RunnerOption {
	return func(r *Runner) { r.parallelLimit = n }
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner.
func NewRunner(reg *Registry, eval *condition.Evaluator, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry:      reg,
		eval:          eval,
		parallelLimit: 8,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.sem = make(chan struct{}, r.parallelLimit)
	return r
}

// Run executes actions strictly in list order against the record
// snapshot. Per-action delays and retries are honored; a failed action
// never aborts the remainder of the list unless the context is
// cancelled or the rule is fail-fast.
func (r *Runner) Run(ctx context.Context, actions []rule.Action, rec *record.Record, ec *ExecContext) *Result {
	res := &Result{}
	r.runSequence(ctx, actions, rec, ec, "", res)
	return res
}

func (r *Runner) runSequence(ctx context.Context, actions []rule.Action, rec *record.Record, ec *ExecContext, branch string, res *Result) {
	for i := range actions {
		if res.Aborted {
			return
		}
		a := &actions[i]
		if err := r.waitDelay(ctx, a.DelayMs); err != nil {
			res.Failures = append(res.Failures, Failure{Type: a.Type, Branch: branch, Error: err.Error()})
			res.Aborted = true
			return
		}
		r.runOne(ctx, a, rec, ec, branch, res)
		if ctx.Err() != nil {
			res.Aborted = true
			return
		}
	}
}

func (r *Runner) runOne(ctx context.Context, a *rule.Action, rec *record.Record, ec *ExecContext, branch string, res *Result) {
	switch a.Type {
	case rule.TypeConditional:
		r.runConditional(ctx, a, rec, ec, branch, res)
	case rule.TypeBranching:
		r.runBranching(ctx, a, rec, ec, res)
	default:
		r.runHandler(ctx, a, rec, ec, branch, res)
	}
}

func (r *Runner) runHandler(ctx context.Context, a *rule.Action, rec *record.Record, ec *ExecContext, branch string, res *Result) {
	h, err := r.registry.Get(a.Type)
	if err != nil {
		// Save-time validation should make this unreachable; a stale
		// type that slips through is a per-action failure, skipped.
		r.logger.Warn("skipping uninterpretable action", "type", a.Type, "rule", ec.RuleID)
		metrics.ActionsExecuted.WithLabelValues(a.Type, "error").Inc()
		res.Failures = append(res.Failures, Failure{Type: a.Type, Branch: branch, Error: err.Error()})
		return
	}

	err = r.withRetry(ctx, a, func() error {
		return h.Execute(ctx, a.Params, rec, ec)
	})
	res.ExecutedTypes = append(res.ExecutedTypes, a.Type)
	if err != nil {
		metrics.ActionsExecuted.WithLabelValues(a.Type, "error").Inc()
		res.Failures = append(res.Failures, Failure{Type: a.Type, Branch: branch, Error: err.Error()})
		if ec.FailFast {
			res.Aborted = true
		}
		return
	}
	metrics.ActionsExecuted.WithLabelValues(a.Type, "success").Inc()
}

// withRetry re-attempts a failed action with a constant delay between
// tries, up to the policy's max attempts.
func (r *Runner) withRetry(ctx context.Context, a *rule.Action, op func() error) error {
	if a.Retry == nil || a.Retry.MaxAttempts <= 1 {
		return op()
	}
	delay := time.Duration(a.Retry.DelayBetweenMs) * time.Millisecond
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(a.Retry.MaxAttempts-1))
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// runConditional evaluates the nested condition against the current
// record snapshot and runs exactly one arm. A false condition without
// an else arm is a successful no-op.
func (r *Runner) runConditional(ctx context.Context, a *rule.Action, rec *record.Record, ec *ExecContext, branch string, res *Result) {
	c := a.Conditional
	if c == nil {
		res.Failures = append(res.Failures, Failure{Type: a.Type, Branch: branch, Error: "conditional action without body"})
		return
	}
	matched, _ := r.eval.Evaluate(ctx, c.If, rec)
	arm := c.Then
	if !matched {
		arm = c.Else
	}
	if arm == nil {
		return
	}
	r.runOne(ctx, arm, rec, ec, branch, res)
}

func (r *Runner) runBranching(ctx context.Context, a *rule.Action, rec *record.Record, ec *ExecContext, res *Result) {
	b := a.Branching
	if b == nil {
		res.Failures = append(res.Failures, Failure{Type: a.Type, Error: "branching action without body"})
		return
	}
	if b.Mode == rule.ModeParallel {
		r.runParallel(ctx, b, rec, ec, res)
		return
	}

	// Switch and cascade: first branch whose guard matches, evaluated
	// in declaration order; default arm if none match, else no-op.
	for i := range b.Branches {
		br := &b.Branches[i]
		if br.When != nil {
			if ok, _ := r.eval.Evaluate(ctx, br.When, rec); !ok {
				continue
			}
		}
		res.BranchesTaken = append(res.BranchesTaken, br.Name)
		r.runSequence(ctx, br.Actions, rec, ec, br.Name, res)
		return
	}
	if len(b.Default) > 0 {
		res.BranchesTaken = append(res.BranchesTaken, "default")
		r.runSequence(ctx, b.Default, rec, ec, "default", res)
	}
}

// runParallel runs every eligible branch concurrently and completes
// only once all branches complete. A failing branch never cancels its
// siblings; errors are collected and the branching action succeeds iff
// all branches succeeded.
func (r *Runner) runParallel(ctx context.Context, b *rule.Branching, rec *record.Record, ec *ExecContext, res *Result) {
	type branchRun struct {
		name    string
		actions []rule.Action
	}
	var runs []branchRun
	for i := range b.Branches {
		br := &b.Branches[i]
		if br.When != nil {
			if ok, _ := r.eval.Evaluate(ctx, br.When, rec); !ok {
				continue
			}
		}
		runs = append(runs, branchRun{name: br.Name, actions: orderByWeight(br.Actions)})
	}
	if len(runs) == 0 {
		if len(b.Default) > 0 {
			res.BranchesTaken = append(res.BranchesTaken, "default")
			r.runSequence(ctx, b.Default, rec, ec, "default", res)
		}
		return
	}

	var (
		wg      sync.WaitGroup
		results = make([]*Result, len(runs))
	)
	// Branches share the ExecContext; its own locking covers the
	// concurrent appends from sibling branches.
	run := func(i int) {
		sub := &Result{}
		r.runSequence(ctx, runs[i].actions, rec, ec, runs[i].name, sub)
		results[i] = sub
	}
	for i := range runs {
		wg.Add(1)
		select {
		case r.sem <- struct{}{}:
			go func(i int) {
				defer wg.Done()
				defer func() { <-r.sem }()
				run(i)
			}(i)
		default:
			// Semaphore exhausted: run inline to bound fan-out without
			// risking deadlock under nested parallel branches.
			run(i)
			wg.Done()
		}
	}
	wg.Wait()

	for i, sub := range results {
		res.BranchesTaken = append(res.BranchesTaken, runs[i].name)
		res.merge(sub)
	}
}

// orderByWeight returns a copy of actions stably sorted by descending
// weight; unweighted actions keep declaration order.
func orderByWeight(actions []rule.Action) []rule.Action {
	out := make([]rule.Action, len(actions))
	copy(out, actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

func (r *Runner) waitDelay(ctx context.Context, delayMs int) error {
	if delayMs <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cancelled during delay: %w", ctx.Err())
	}
}
