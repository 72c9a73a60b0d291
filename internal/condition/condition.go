package condition

// Combinator joins a node's children (and its own predicate, when present).
type Combinator string

const (
	And Combinator = "and"
	Or  Combinator = "or"
)

// Operator is the closed comparison vocabulary for leaf predicates.
type Operator string

const (
	// String operators. Case-insensitive by default.
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpRegex       Operator = "regex"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"

	// Numeric operators. Fail closed on non-numeric values.
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"

	// Date operators. Relative windows resolve against the evaluation clock.
	OpBefore Operator = "before"
	OpAfter  Operator = "after"
	OpWithin Operator = "within"

	// Set operators.
	OpHasAttachment Operator = "has_attachment"
	OpTagContains   Operator = "tag_contains"

	// Pattern operators delegating to the classification collaborator.
	OpSentimentIs      Operator = "sentiment_is"
	OpTopicIs          Operator = "topic_is"
	OpFrequencyExceeds Operator = "frequency_exceeds"
)

// DefaultConfidence is the match threshold for classifier-backed
// operators when the condition does not override it.
const DefaultConfidence = 0.8

// Condition is one node of a rule's condition tree. A node with no
// children is a leaf and is evaluated directly against the record. A
// node with children combines their results with Combinator; if the
// node also carries its own Field/Operator predicate, that predicate
// acts as an implicit first child. Children are owned exclusively by
// their parent, so the tree is acyclic by construction.
//
// A node with neither predicate nor children is vacuously true: a rule
// without conditions matches every record.
type Condition struct {
	ID         string       `json:"id,omitempty" yaml:"id,omitempty"`
	Field      string       `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   Operator     `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      interface{}  `json:"value,omitempty" yaml:"value,omitempty"`
	Confidence float64      `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Weight     float64      `json:"weight,omitempty" yaml:"weight,omitempty"`
	WindowMins int          `json:"window_mins,omitempty" yaml:"window_mins,omitempty"`
	Combinator Combinator   `json:"combinator,omitempty" yaml:"combinator,omitempty"`
	Children   []*Condition `json:"children,omitempty" yaml:"children,omitempty"`
}

// HasPredicate reports whether the node carries its own field test.
func (c *Condition) HasPredicate() bool {
	return c.Field != "" && c.Operator != ""
}

// IsLeaf reports whether the node has no children.
func (c *Condition) IsLeaf() bool { return len(c.Children) == 0 }

// Threshold returns the classifier match threshold for this condition.
func (c *Condition) Threshold() float64 {
	if c.Confidence > 0 {
		return c.Confidence
	}
	return DefaultConfidence
}

// StringOperators etc. group the vocabulary for save-time validation.
var (
	StringOperators = []Operator{
		OpContains, OpNotContains, OpEquals, OpNotEquals, OpStartsWith,
		OpEndsWith, OpRegex, OpIsEmpty, OpIsNotEmpty,
	}
	NumericOperators = []Operator{
		OpGreaterThan, OpLessThan, OpBetween, OpEquals, OpNotEquals,
	}
	DateOperators    = []Operator{OpBefore, OpAfter, OpWithin}
	SetOperators     = []Operator{OpHasAttachment, OpTagContains, OpIsEmpty, OpIsNotEmpty}
	BoolOperators    = []Operator{OpEquals, OpNotEquals}
	PatternOperators = []Operator{OpSentimentIs, OpTopicIs, OpFrequencyExceeds}
)
