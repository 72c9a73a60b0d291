package rule

import (
	"fmt"
	"strings"

	"github.com/inboxkit/mailflow/internal/condition"
	"github.com/inboxkit/mailflow/internal/record"
)

// FieldError pins a validation problem to a path inside the rule
// document, so authors see exactly which field, operator, or action is
// invalid.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationErrors is the full save-time error list for one rule.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation errors"
	}
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return "rule validation failed:\n  - " + strings.Join(parts, "\n  - ")
}

// ActionVocabulary is the closed set of executable action types,
// provided by the action registry. Unknown types are rejected here, at
// save time, so the executor never sees a type it cannot interpret.
type ActionVocabulary interface {
	Known(actionType string) bool
	ValidateParams(actionType string, params map[string]interface{}) error
}

// operatorsByField maps each vocabulary field to its allowed operators.
var operatorsByField = map[string][]condition.Operator{
	record.FieldSender:      condition.StringOperators,
	record.FieldRecipient:   condition.StringOperators,
	record.FieldSubject:     appendOps(condition.StringOperators, condition.PatternOperators),
	record.FieldBody:        appendOps(condition.StringOperators, condition.PatternOperators),
	record.FieldFolder:      condition.StringOperators,
	record.FieldThread:      condition.StringOperators,
	record.FieldDate:        condition.DateOperators,
	record.FieldSize:        condition.NumericOperators,
	record.FieldAttachments: appendOps(condition.NumericOperators, condition.SetOperators),
	record.FieldPriority:    appendOps(condition.NumericOperators, condition.StringOperators),
	record.FieldRead:        condition.BoolOperators,
	record.FieldStarred:     condition.BoolOperators,
	record.FieldTags:        appendOps(condition.SetOperators, condition.StringOperators),
}

func appendOps(sets ...[]condition.Operator) []condition.Operator {
	var out []condition.Operator
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// OperatorAllowed reports whether op is valid against field. Custom
// fields have no declared type, so every operator is allowed there.
func OperatorAllowed(field string, op condition.Operator) bool {
	if record.IsCustomField(field) {
		return true
	}
	for _, allowed := range operatorsByField[field] {
		if allowed == op {
			return true
		}
	}
	return false
}

// Validate checks a rule document at save time. A non-empty result
// means the rule must not be persisted.
func Validate(r *Rule, vocab ActionVocabulary) ValidationErrors {
	var errs ValidationErrors
	add := func(path, format string, args ...interface{}) {
		errs = append(errs, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if r.Name == "" {
		add("name", "name is required")
	}
	if len(r.Actions) == 0 {
		add("actions", "at least one action is required")
	}

	validateCondition(r.Condition, "condition", add)
	for i := range r.Actions {
		validateAction(&r.Actions[i], fmt.Sprintf("actions[%d]", i), vocab, add)
	}
	for _, msg := range r.Schedule.Validate() {
		add("schedule", "%s", msg)
	}
	if r.MaxExecutionsPerHour < 0 {
		add("max_executions_per_hour", "must not be negative")
	}
	if r.TimeoutSeconds < 0 {
		add("timeout_seconds", "must not be negative")
	}
	return errs
}

func validateCondition(c *condition.Condition, path string, add func(string, string, ...interface{})) {
	if c == nil {
		return
	}
	if c.HasPredicate() {
		if !record.KnownField(c.Field) {
			add(path+".field", "unknown field %q", c.Field)
		} else if !OperatorAllowed(c.Field, c.Operator) {
			add(path+".operator", "operator %q is not allowed for field %q", c.Operator, c.Field)
		}
	} else if c.Field != "" || c.Operator != "" {
		add(path, "field and operator must be set together")
	}
	if c.Combinator != "" && c.Combinator != condition.And && c.Combinator != condition.Or {
		add(path+".combinator", "unknown combinator %q", c.Combinator)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		add(path+".confidence", "confidence must be within [0, 1]")
	}
	for i, child := range c.Children {
		validateCondition(child, fmt.Sprintf("%s.children[%d]", path, i), add)
	}
}

func validateAction(a *Action, path string, vocab ActionVocabulary, add func(string, string, ...interface{})) {
	if a.DelayMs < 0 {
		add(path+".delay_ms", "must not be negative")
	}
	if a.Retry != nil {
		if a.Retry.MaxAttempts < 1 {
			add(path+".retry.max_attempts", "must be at least 1")
		}
		if a.Retry.DelayBetweenMs < 0 {
			add(path+".retry.delay_between_ms", "must not be negative")
		}
	}

	switch a.Type {
	case TypeConditional:
		c := a.Conditional
		if c == nil {
			add(path+".conditional", "conditional body is required")
			return
		}
		if c.If == nil {
			add(path+".conditional.if", "condition is required")
		} else {
			validateCondition(c.If, path+".conditional.if", add)
		}
		if c.Then == nil {
			add(path+".conditional.then", "true-branch action is required")
		} else {
			validateAction(c.Then, path+".conditional.then", vocab, add)
		}
		if c.Else != nil {
			validateAction(c.Else, path+".conditional.else", vocab, add)
		}

	case TypeBranching:
		b := a.Branching
		if b == nil {
			add(path+".branching", "branching body is required")
			return
		}
		switch b.Mode {
		case ModeSwitch, ModeCascade, ModeParallel:
		default:
			add(path+".branching.mode", "unknown mode %q", b.Mode)
		}
		if len(b.Branches) == 0 {
			add(path+".branching.branches", "at least one branch is required")
		}
		seen := map[string]bool{}
		for i, br := range b.Branches {
			bp := fmt.Sprintf("%s.branching.branches[%d]", path, i)
			if br.Name == "" {
				add(bp+".name", "branch name is required")
			} else if seen[br.Name] {
				add(bp+".name", "duplicate branch name %q", br.Name)
			}
			seen[br.Name] = true
			validateCondition(br.When, bp+".when", add)
			for j := range br.Actions {
				validateAction(&br.Actions[j], fmt.Sprintf("%s.actions[%d]", bp, j), vocab, add)
			}
		}
		for j := range b.Default {
			validateAction(&b.Default[j], fmt.Sprintf("%s.branching.default[%d]", path, j), vocab, add)
		}

	case "":
		add(path+".type", "action type is required")

	default:
		if !vocab.Known(a.Type) {
			add(path+".type", "unknown action type %q", a.Type)
			return
		}
		if err := vocab.ValidateParams(a.Type, a.Params); err != nil {
			add(path+".params", "%s", err.Error())
		}
	}
}
