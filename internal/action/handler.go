package action

import (
	"context"
	"sync"

	"github.com/inboxkit/mailflow/internal/record"
)

// Mutation is an intended change to a record. The engine never applies
// mutations itself; the collaborator that owns record storage does.
type Mutation struct {
	Op   string                 `json:"op"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// ExecContext accumulates per-firing state: intended mutations,
// collaborator outputs, and the fail-fast setting inherited from the
// rule's advanced settings. It is safe for the concurrent appends that
// parallel branches produce.
type ExecContext struct {
	RuleID   string
	RecordID string
	FailFast bool

	mu        sync.Mutex
	mutations []Mutation
	outputs   map[string]interface{}
}

// NewExecContext creates an ExecContext for one rule/record pairing.
func NewExecContext(ruleID, recordID string) *ExecContext {
	return &ExecContext{
		RuleID:   ruleID,
		RecordID: recordID,
		outputs:  make(map[string]interface{}),
	}
}

// Intend records an intended mutation.
func (ec *ExecContext) Intend(op string, args map[string]interface{}) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.mutations = append(ec.mutations, Mutation{Op: op, Args: args})
}

// Mutations returns the intended mutations recorded so far.
func (ec *ExecContext) Mutations() []Mutation {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]Mutation, len(ec.mutations))
	copy(out, ec.mutations)
	return out
}

// SetOutput stores a collaborator response payload under key.
func (ec *ExecContext) SetOutput(key string, v interface{}) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.outputs[key] = v
}

// Outputs returns a copy of the collaborator outputs.
func (ec *ExecContext) Outputs() map[string]interface{} {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]interface{}, len(ec.outputs))
	for k, v := range ec.outputs {
		out[k] = v
	}
	return out
}

// Handler is the interface all action implementations satisfy.
type Handler interface {
	// Type returns the string key this handler is registered under.
	Type() string
	// Validate checks params at rule-save time.
	Validate(params map[string]interface{}) error
	// Execute runs the action against the (immutable) record snapshot.
	Execute(ctx context.Context, params map[string]interface{}, rec *record.Record, ec *ExecContext) error
}
