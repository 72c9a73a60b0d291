package record

import (
	"strings"
	"time"
)

// Priority levels for a record.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// rank orders priorities for numeric comparison operators.
func (p Priority) rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

// Rank exposes the numeric ordering of a priority (low=1 .. critical=4).
func (p Priority) Rank() int { return p.rank() }

// Attachment describes one attachment on a record.
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Record is the canonical input model: an immutable snapshot of an
// email-like item. The engine never mutates a Record; actions emit
// intended mutations that the record's owner applies.
type Record struct {
	ID           string                 `json:"id"`
	From         string                 `json:"from"`
	To           []string               `json:"to"`
	Subject      string                 `json:"subject"`
	Body         string                 `json:"body"`
	Attachments  []Attachment           `json:"attachments,omitempty"`
	Priority     Priority               `json:"priority"`
	Read         bool                   `json:"read"`
	Starred      bool                   `json:"starred"`
	Folder       string                 `json:"folder"`
	Tags         []string               `json:"tags,omitempty"`
	CustomFields map[string]interface{} `json:"custom_fields,omitempty"`
	ThreadID     string                 `json:"thread_id,omitempty"`
	ReceivedAt   time.Time              `json:"received_at"`
}

// Size returns the record's total byte size: body plus all attachments.
func (r *Record) Size() int64 {
	total := int64(len(r.Body))
	for _, a := range r.Attachments {
		total += a.Size
	}
	return total
}

// HasTag reports whether the record carries the given tag (case-insensitive).
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Field names recognized by Resolve. Anything else is only reachable
// through the custom_fields prefix.
const (
	FieldSender      = "sender"
	FieldRecipient   = "recipient"
	FieldSubject     = "subject"
	FieldBody        = "body"
	FieldDate        = "date"
	FieldSize        = "size"
	FieldAttachments = "attachments"
	FieldPriority    = "priority"
	FieldRead        = "read"
	FieldStarred     = "starred"
	FieldFolder      = "folder"
	FieldTags        = "tags"
	FieldThread      = "thread"

	customPrefix = "custom_fields."
)

// Resolve looks up a vocabulary field on the record. A missing custom
// field resolves to (nil, false); the caller decides the zero-value
// semantics so absence never errors.
func (r *Record) Resolve(field string) (interface{}, bool) {
	if key, ok := strings.CutPrefix(field, customPrefix); ok {
		if r.CustomFields == nil {
			return nil, false
		}
		v, ok := r.CustomFields[key]
		return v, ok
	}
	switch field {
	case FieldSender:
		return r.From, true
	case FieldRecipient:
		return strings.Join(r.To, ", "), true
	case FieldSubject:
		return r.Subject, true
	case FieldBody:
		return r.Body, true
	case FieldDate:
		return r.ReceivedAt, true
	case FieldSize:
		return r.Size(), true
	case FieldAttachments:
		return int64(len(r.Attachments)), true
	case FieldPriority:
		return r.Priority, true
	case FieldRead:
		return r.Read, true
	case FieldStarred:
		return r.Starred, true
	case FieldFolder:
		return r.Folder, true
	case FieldTags:
		return r.Tags, true
	case FieldThread:
		return r.ThreadID, true
	}
	return nil, false
}

// IsCustomField reports whether field addresses the custom-fields map.
func IsCustomField(field string) bool {
	return strings.HasPrefix(field, customPrefix)
}

// KnownField reports whether field is part of the fixed vocabulary
// (or a custom_fields path, which is always addressable).
func KnownField(field string) bool {
	if IsCustomField(field) {
		return strings.TrimPrefix(field, customPrefix) != ""
	}
	switch field {
	case FieldSender, FieldRecipient, FieldSubject, FieldBody, FieldDate,
		FieldSize, FieldAttachments, FieldPriority, FieldRead, FieldStarred,
		FieldFolder, FieldTags, FieldThread:
		return true
	}
	return false
}
