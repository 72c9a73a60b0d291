package condition

import (
	"context"

	"github.com/inboxkit/mailflow/internal/record"
)

// ClassifyKind selects which analysis the collaborator performs.
type ClassifyKind string

const (
	KindSentiment ClassifyKind = "sentiment"
	KindTopic     ClassifyKind = "topic"
	KindFrequency ClassifyKind = "frequency"
)

// ClassifyRequest carries one classification call. Target is the label
// or threshold the condition compares against; WindowMins bounds
// frequency-style lookbacks.
type ClassifyRequest struct {
	Kind       ClassifyKind
	Record     *record.Record
	Target     string
	WindowMins int
}

// Classification is the typed result of a classifier call.
type Classification struct {
	Label      string
	Confidence float64
}

// Classifier is the external content-analysis collaborator. Its
// internals are out of scope; the evaluator only compares the returned
// confidence against the condition's threshold. A call failure is a
// non-match, never fatal to the rule pass.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Classification, error)
}
