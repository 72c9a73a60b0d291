package rule

import (
	"time"

	"github.com/inboxkit/mailflow/internal/condition"
)

// Control action types interpreted by the executor itself rather than
// a registered handler.
const (
	TypeConditional = "conditional"
	TypeBranching   = "branching"
)

// BranchMode selects how a branching action fans out.
type BranchMode string

const (
	ModeSwitch   BranchMode = "switch"
	ModeCascade  BranchMode = "cascade"
	ModeParallel BranchMode = "parallel"
)

// RetryPolicy re-attempts a failed action with a constant delay.
type RetryPolicy struct {
	MaxAttempts    int `json:"max_attempts" yaml:"max_attempts"`
	DelayBetweenMs int `json:"delay_between_ms" yaml:"delay_between_ms"`
}

// Conditional runs exactly one of Then/Else depending on If. Else is
// optional; a false condition with no Else is a successful no-op.
type Conditional struct {
	If   *condition.Condition `json:"if" yaml:"if"`
	Then *Action              `json:"then" yaml:"then"`
	Else *Action              `json:"else,omitempty" yaml:"else,omitempty"`
}

// Branch is one named arm of a branching action. When is the branch
// guard; a nil guard always matches.
type Branch struct {
	Name    string               `json:"name" yaml:"name"`
	When    *condition.Condition `json:"when,omitempty" yaml:"when,omitempty"`
	Actions []Action             `json:"actions" yaml:"actions"`
}

// Branching fans out into named branches. Switch and cascade run the
// first branch whose guard matches (default arm if none); parallel
// runs every branch concurrently.
type Branching struct {
	Mode     BranchMode `json:"mode" yaml:"mode"`
	Branches []Branch   `json:"branches" yaml:"branches"`
	Default  []Action   `json:"default,omitempty" yaml:"default,omitempty"`
}

// Action is one step of a rule's effect list. Actions are data, not
// code: the executor is the sole interpreter of the Type string.
type Action struct {
	Type        string                 `json:"type" yaml:"type"`
	Params      map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	DelayMs     int                    `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
	Retry       *RetryPolicy           `json:"retry,omitempty" yaml:"retry,omitempty"`
	Weight      float64                `json:"weight,omitempty" yaml:"weight,omitempty"`
	Conditional *Conditional           `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	Branching   *Branching             `json:"branching,omitempty" yaml:"branching,omitempty"`
}

// Rule owns a condition tree and an ordered action list. Rules are
// immutable during evaluation; mutation happens only through explicit
// store updates guarded by the per-rule lock table.
type Rule struct {
	ID                   string               `json:"id" yaml:"id"`
	Name                 string               `json:"name" yaml:"name"`
	Description          string               `json:"description,omitempty" yaml:"description,omitempty"`
	Active               bool                 `json:"active" yaml:"active"`
	Priority             int                  `json:"priority" yaml:"priority"`
	Condition            *condition.Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Actions              []Action             `json:"actions" yaml:"actions"`
	Schedule             *Schedule            `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	MaxExecutionsPerHour int                  `json:"max_executions_per_hour,omitempty" yaml:"max_executions_per_hour,omitempty"`
	TimeoutSeconds       int                  `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	FailFast             bool                 `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
	CreatedAt            time.Time            `json:"created_at" yaml:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at" yaml:"updated_at"`
	ExecutionCount       int64                `json:"execution_count" yaml:"execution_count"`
}

// Timeout returns the rule's execution timeout, or zero when the rule
// places no bound of its own.
func (r *Rule) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}
