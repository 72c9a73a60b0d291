package action

import (
	"context"

	"github.com/inboxkit/mailflow/internal/record"
)

// The executor calls external collaborators by capability. Each is a
// plain request/response contract; internals (SMTP, chat, CRM APIs)
// live with the host process. Delivery is at-least-once; collaborators
// de-duplicate if they need to.

// Notification is one outbound notification request.
type Notification struct {
	Channel string `json:"channel"` // "email", "chat", "sms"
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// CRMUpdate asks the CRM collaborator to sync state for a contact.
type CRMUpdate struct {
	Entity   string                 `json:"entity"`
	Contact  string                 `json:"contact"`
	RecordID string                 `json:"record_id"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// CRMClient syncs record-derived data into a CRM.
type CRMClient interface {
	Sync(ctx context.Context, u CRMUpdate) (responseID string, err error)
}

// Task is a task-tracker item derived from a record.
type Task struct {
	Title    string `json:"title"`
	Notes    string `json:"notes,omitempty"`
	Assignee string `json:"assignee,omitempty"`
	DueDays  int    `json:"due_days,omitempty"`
}

// TaskTracker creates tasks.
type TaskTracker interface {
	Create(ctx context.Context, t Task) (taskID string, err error)
}

// Forwarder re-sends a record to other recipients.
type Forwarder interface {
	Forward(ctx context.Context, rec *record.Record, to []string) error
}
