package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/inboxkit/mailflow/internal/action"
	"github.com/inboxkit/mailflow/internal/condition"
	"github.com/inboxkit/mailflow/internal/record"
)

// Log-only collaborator implementations. Production deployments swap
// these for real integrations (SMTP relay, CRM API, issue tracker).

type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, n action.Notification) error {
	slog.Info("notification", "channel", n.Channel, "to", n.To, "subject", n.Subject)
	return nil
}

type logCRM struct{}

func (logCRM) Sync(_ context.Context, u action.CRMUpdate) (string, error) {
	slog.Info("crm sync", "entity", u.Entity, "contact", u.Contact, "record", u.RecordID)
	return "crm-local", nil
}

type logTasks struct{}

func (logTasks) Create(_ context.Context, t action.Task) (string, error) {
	slog.Info("task created", "title", t.Title, "assignee", t.Assignee, "due_days", t.DueDays)
	return "task-local", nil
}

type logForwarder struct{}

func (logForwarder) Forward(_ context.Context, rec *record.Record, to []string) error {
	slog.Info("forwarded", "record", rec.ID, "to", to)
	return nil
}

// keywordClassifier is a deliberately simple lexical classifier so the
// pattern operators work out of the box without an ML backend.
type keywordClassifier struct{}

var negativeWords = []string{"angry", "unacceptable", "terrible", "refund", "cancel", "disappointed", "frustrated"}
var positiveWords = []string{"thanks", "great", "appreciate", "awesome", "love"}

var topicWords = map[string][]string{
	"billing":    {"invoice", "payment", "charge", "billing", "receipt"},
	"support":    {"help", "issue", "problem", "error", "broken"},
	"sales":      {"quote", "pricing", "demo", "purchase"},
	"newsletter": {"unsubscribe", "newsletter", "digest"},
}

func (keywordClassifier) Classify(_ context.Context, req condition.ClassifyRequest) (condition.Classification, error) {
	text := strings.ToLower(req.Record.Subject + " " + req.Record.Body)
	switch req.Kind {
	case condition.KindSentiment:
		neg := countHits(text, negativeWords)
		pos := countHits(text, positiveWords)
		switch {
		case neg > pos:
			return condition.Classification{Label: "negative", Confidence: score(neg)}, nil
		case pos > neg:
			return condition.Classification{Label: "positive", Confidence: score(pos)}, nil
		default:
			return condition.Classification{Label: "neutral", Confidence: 0.5}, nil
		}
	case condition.KindTopic:
		best, hits := "", 0
		for topic, words := range topicWords {
			if n := countHits(text, words); n > hits {
				best, hits = topic, n
			}
		}
		if best == "" {
			return condition.Classification{Label: "other", Confidence: 0.3}, nil
		}
		return condition.Classification{Label: best, Confidence: score(hits)}, nil
	case condition.KindFrequency:
		// No sender history available locally.
		return condition.Classification{Label: "", Confidence: 0}, nil
	}
	return condition.Classification{}, nil
}

func countHits(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func score(hits int) float64 {
	s := 0.6 + 0.15*float64(hits)
	if s > 0.95 {
		s = 0.95
	}
	return s
}
