package condition

// LeafResult records the outcome of one leaf predicate evaluation.
type LeafResult struct {
	ConditionID string      `json:"condition_id,omitempty"`
	Field       string      `json:"field"`
	Operator    Operator    `json:"operator"`
	Value       interface{} `json:"value,omitempty"`
	Matched     bool        `json:"matched"`
	Confidence  float64     `json:"confidence,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// CombinatorResult records how a non-leaf node combined its children.
type CombinatorResult struct {
	ConditionID    string     `json:"condition_id,omitempty"`
	Combinator     Combinator `json:"combinator"`
	ChildCount     int        `json:"child_count"`
	Evaluated      int        `json:"evaluated"`
	ShortCircuited bool       `json:"short_circuited"`
	Matched        bool       `json:"matched"`
}

// Trace is the diagnostic record of one tree evaluation. It is what
// the execution log persists for matched rules and what the rule
// preview operation surfaces to authors.
type Trace struct {
	Leaves      []LeafResult       `json:"leaves,omitempty"`
	Combinators []CombinatorResult `json:"combinators,omitempty"`
}

func (t *Trace) addLeaf(r LeafResult)            { t.Leaves = append(t.Leaves, r) }
func (t *Trace) addCombinator(r CombinatorResult) { t.Combinators = append(t.Combinators, r) }

// MatchedLeaves returns the field names of leaves that matched,
// preserving evaluation order.
func (t *Trace) MatchedLeaves() []string {
	var out []string
	for _, l := range t.Leaves {
		if l.Matched {
			out = append(out, l.Field)
		}
	}
	return out
}

// Errors returns every error annotation recorded during evaluation.
func (t *Trace) Errors() []string {
	var out []string
	for _, l := range t.Leaves {
		if l.Error != "" {
			out = append(out, l.Error)
		}
	}
	return out
}
