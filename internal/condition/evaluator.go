package condition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/inboxkit/mailflow/internal/record"
)

// Evaluator evaluates condition trees against records. It is read-only
// with respect to both, so one Evaluator may be shared by any number
// of concurrent workers. The regex cache inside is safe for concurrent
// use.
type Evaluator struct {
	classifier Classifier
	regexes    regexCache
	now        func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the evaluation clock (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithClassifier wires the external classification collaborator used
// by pattern operators. Without one, pattern conditions never match.
func WithClassifier(c Classifier) Option {
	return func(e *Evaluator) { e.classifier = c }
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate walks the tree and returns whether it matched, plus the
// full diagnostic trace. It never returns an error: leaf-local
// failures (bad regex, classifier outage, type mismatch) degrade to
// non-matches annotated in the trace.
func (e *Evaluator) Evaluate(ctx context.Context, c *Condition, rec *record.Record) (bool, *Trace) {
	trace := &Trace{}
	if c == nil {
		return true, trace
	}
	matched := e.evalNode(ctx, c, rec, trace)
	return matched, trace
}

func (e *Evaluator) evalNode(ctx context.Context, c *Condition, rec *record.Record, trace *Trace) bool {
	if c.IsLeaf() {
		if !c.HasPredicate() {
			return true // empty node matches everything
		}
		return e.evalLeaf(ctx, c, rec, trace)
	}

	comb := c.Combinator
	if comb == "" {
		comb = And
	}

	// The node's own predicate, when present, is the implicit first child.
	total := len(c.Children)
	if c.HasPredicate() {
		total++
	}

	res := CombinatorResult{
		ConditionID: c.ID,
		Combinator:  comb,
		ChildCount:  total,
	}

	combine := func(child bool) (done bool) {
		res.Evaluated++
		switch comb {
		case Or:
			if child {
				res.Matched = true
				return true
			}
		default: // And
			if !child {
				res.Matched = false
				return true
			}
		}
		return false
	}
	res.Matched = comb == And // identity element

	shortCircuited := false
	if c.HasPredicate() {
		if combine(e.evalLeaf(ctx, c, rec, trace)) {
			shortCircuited = res.Evaluated < total
			res.ShortCircuited = shortCircuited
			trace.addCombinator(res)
			return res.Matched
		}
	}
	for _, child := range c.Children {
		if combine(e.evalNode(ctx, child, rec, trace)) {
			shortCircuited = res.Evaluated < total
			break
		}
	}
	res.ShortCircuited = shortCircuited
	trace.addCombinator(res)
	return res.Matched
}

// evalLeaf evaluates a single predicate against the record. Absent
// fields resolve to their zero value so absence never errors; it
// simply tends toward non-matches for positive operators and matches
// for negated ones.
func (e *Evaluator) evalLeaf(ctx context.Context, c *Condition, rec *record.Record, trace *Trace) bool {
	lr := LeafResult{
		ConditionID: c.ID,
		Field:       c.Field,
		Operator:    c.Operator,
		Value:       c.Value,
	}

	actual, _ := rec.Resolve(c.Field)
	matched, confidence, err := e.applyOperator(ctx, c, rec, actual)
	lr.Matched = matched
	lr.Confidence = confidence
	if err != nil {
		lr.Error = err.Error()
	}
	trace.addLeaf(lr)
	return matched
}

func (e *Evaluator) applyOperator(ctx context.Context, c *Condition, rec *record.Record, actual interface{}) (bool, float64, error) {
	switch c.Operator {
	case OpContains, OpNotContains, OpEquals, OpNotEquals, OpStartsWith, OpEndsWith:
		// Numeric fields compare numerically under equals/not_equals.
		if _, numeric := toFloat64(actual); numeric && !isStringKind(actual) &&
			(c.Operator == OpEquals || c.Operator == OpNotEquals) {
			return numericCompare(c.Operator, actual, c.Value), 0, nil
		}
		ok, err := stringCompare(c.Operator, toString(actual), toString(c.Value))
		return ok, 0, err

	case OpIsEmpty:
		return isEmptyValue(actual), 0, nil
	case OpIsNotEmpty:
		return !isEmptyValue(actual), 0, nil

	case OpRegex:
		re, err := e.regexes.get(toString(c.Value))
		if err != nil {
			return false, 0, fmt.Errorf("invalid pattern %q: %v", toString(c.Value), err)
		}
		return re.MatchString(toString(actual)), 0, nil

	case OpGreaterThan, OpLessThan, OpBetween:
		return numericCompare(c.Operator, actual, c.Value), 0, nil

	case OpBefore, OpAfter, OpWithin:
		t, ok := actual.(time.Time)
		if !ok {
			var err error
			t, err = resolveTimeValue(actual, e.now())
			if err != nil {
				return false, 0, fmt.Errorf("field %s is not a date", c.Field)
			}
		}
		ok, err := dateCompare(c.Operator, t, c.Value, e.now())
		if err != nil {
			return false, 0, err
		}
		return ok, 0, nil

	case OpHasAttachment:
		if len(rec.Attachments) == 0 {
			return false, 0, nil
		}
		want := toString(c.Value)
		if want == "" {
			return true, 0, nil
		}
		for _, a := range rec.Attachments {
			if strings.Contains(strings.ToLower(a.Name), strings.ToLower(want)) ||
				strings.EqualFold(a.Type, want) {
				return true, 0, nil
			}
		}
		return false, 0, nil

	case OpTagContains:
		want := strings.ToLower(toString(c.Value))
		for _, t := range rec.Tags {
			if strings.Contains(strings.ToLower(t), want) {
				return true, 0, nil
			}
		}
		return false, 0, nil

	case OpSentimentIs, OpTopicIs, OpFrequencyExceeds:
		return e.classify(ctx, c, rec)
	}

	return false, 0, fmt.Errorf("unknown operator %q", c.Operator)
}

// classify delegates a pattern operator to the external collaborator
// and compares the returned confidence against the condition's
// threshold.
func (e *Evaluator) classify(ctx context.Context, c *Condition, rec *record.Record) (bool, float64, error) {
	if e.classifier == nil {
		return false, 0, fmt.Errorf("no classifier configured for operator %s", c.Operator)
	}
	var kind ClassifyKind
	switch c.Operator {
	case OpSentimentIs:
		kind = KindSentiment
	case OpTopicIs:
		kind = KindTopic
	case OpFrequencyExceeds:
		kind = KindFrequency
	}
	res, err := e.classifier.Classify(ctx, ClassifyRequest{
		Kind:       kind,
		Record:     rec,
		Target:     toString(c.Value),
		WindowMins: c.WindowMins,
	})
	if err != nil {
		return false, 0, fmt.Errorf("classifier %s: %v", kind, err)
	}
	if res.Confidence < c.Threshold() {
		return false, res.Confidence, nil
	}
	if kind == KindFrequency {
		// The collaborator reports whether the frequency threshold was
		// exceeded via the label; value carries the author's threshold.
		return strings.EqualFold(res.Label, "exceeded") || res.Label == "", res.Confidence, nil
	}
	return strings.EqualFold(res.Label, toString(c.Value)), res.Confidence, nil
}

func isStringKind(v interface{}) bool {
	switch v.(type) {
	case string, []string, record.Priority:
		return true
	}
	return false
}
