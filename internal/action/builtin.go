package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/inboxkit/mailflow/internal/record"
)

// Mutation action types. These never touch the record; they append
// intents the record-owning collaborator applies later.
const (
	TypeAddTag       = "add_tag"
	TypeRemoveTag    = "remove_tag"
	TypeStar         = "star"
	TypeMarkRead     = "mark_read"
	TypeArchive      = "archive"
	TypeMoveToFolder = "move_to_folder"
	TypeSetPriority  = "set_priority"
	TypeDelete       = "delete"
)

// Collaborator-backed action types.
const (
	TypeNotify     = "notify"
	TypeCRMSync    = "crm_sync"
	TypeCreateTask = "create_task"
	TypeForward    = "forward"
)

func stringParam(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return strings.TrimSpace(v)
}

func requireString(params map[string]interface{}, key string) error {
	if stringParam(params, key) == "" {
		return fmt.Errorf("param %q is required", key)
	}
	return nil
}

// mutateHandler covers the mutate-record vocabulary: Execute appends
// an intent named after the action type, carrying the validated params.
type mutateHandler struct {
	typ      string
	required []string
	check    func(params map[string]interface{}) error
}

func (h *mutateHandler) Type() string { return h.typ }

func (h *mutateHandler) Validate(params map[string]interface{}) error {
	for _, key := range h.required {
		if err := requireString(params, key); err != nil {
			return err
		}
	}
	if h.check != nil {
		return h.check(params)
	}
	return nil
}

func (h *mutateHandler) Execute(_ context.Context, params map[string]interface{}, _ *record.Record, ec *ExecContext) error {
	ec.Intend(h.typ, params)
	return nil
}

// MutationHandlers returns handlers for every mutate-record action type.
func MutationHandlers() []Handler {
	return []Handler{
		&mutateHandler{typ: TypeAddTag, required: []string{"tag"}},
		&mutateHandler{typ: TypeRemoveTag, required: []string{"tag"}},
		&mutateHandler{typ: TypeStar},
		&mutateHandler{typ: TypeMarkRead},
		&mutateHandler{typ: TypeArchive},
		&mutateHandler{typ: TypeMoveToFolder, required: []string{"folder"}},
		&mutateHandler{typ: TypeSetPriority, required: []string{"priority"}, check: checkPriority},
		&mutateHandler{typ: TypeDelete},
	}
}

func checkPriority(params map[string]interface{}) error {
	p := record.Priority(strings.ToLower(stringParam(params, "priority")))
	if p.Rank() == 0 {
		return fmt.Errorf("param \"priority\" must be one of low, medium, high, critical")
	}
	return nil
}

// NotifyHandler dispatches to the notification collaborator.
type NotifyHandler struct {
	Notifier Notifier
}

func (h *NotifyHandler) Type() string { return TypeNotify }

func (h *NotifyHandler) Validate(params map[string]interface{}) error {
	return requireString(params, "to")
}

func (h *NotifyHandler) Execute(ctx context.Context, params map[string]interface{}, rec *record.Record, ec *ExecContext) error {
	n := Notification{
		Channel: stringParam(params, "channel"),
		To:      stringParam(params, "to"),
		Subject: stringParam(params, "subject"),
		Body:    stringParam(params, "body"),
	}
	if n.Channel == "" {
		n.Channel = "email"
	}
	if n.Subject == "" {
		n.Subject = "Rule matched: " + rec.Subject
	}
	return h.Notifier.Notify(ctx, n)
}

// CRMSyncHandler dispatches to the CRM collaborator.
type CRMSyncHandler struct {
	Client CRMClient
}

func (h *CRMSyncHandler) Type() string { return TypeCRMSync }

func (h *CRMSyncHandler) Validate(params map[string]interface{}) error {
	return requireString(params, "entity")
}

func (h *CRMSyncHandler) Execute(ctx context.Context, params map[string]interface{}, rec *record.Record, ec *ExecContext) error {
	fields, _ := params["fields"].(map[string]interface{})
	id, err := h.Client.Sync(ctx, CRMUpdate{
		Entity:   stringParam(params, "entity"),
		Contact:  rec.From,
		RecordID: rec.ID,
		Fields:   fields,
	})
	if err != nil {
		return err
	}
	ec.SetOutput("crm_sync", id)
	return nil
}

// CreateTaskHandler dispatches to the task-tracker collaborator.
type CreateTaskHandler struct {
	Tracker TaskTracker
}

func (h *CreateTaskHandler) Type() string { return TypeCreateTask }

func (h *CreateTaskHandler) Validate(params map[string]interface{}) error {
	return requireString(params, "title")
}

func (h *CreateTaskHandler) Execute(ctx context.Context, params map[string]interface{}, rec *record.Record, ec *ExecContext) error {
	dueDays := 0
	if f, ok := params["due_days"].(float64); ok {
		dueDays = int(f)
	}
	id, err := h.Tracker.Create(ctx, Task{
		Title:    strings.ReplaceAll(stringParam(params, "title"), "{subject}", rec.Subject),
		Notes:    stringParam(params, "notes"),
		Assignee: stringParam(params, "assignee"),
		DueDays:  dueDays,
	})
	if err != nil {
		return err
	}
	ec.SetOutput("create_task", id)
	return nil
}

// ForwardHandler dispatches to the forwarding collaborator.
type ForwardHandler struct {
	Forwarder Forwarder
}

func (h *ForwardHandler) Type() string { return TypeForward }

func (h *ForwardHandler) Validate(params map[string]interface{}) error {
	return requireString(params, "to")
}

func (h *ForwardHandler) Execute(ctx context.Context, params map[string]interface{}, rec *record.Record, _ *ExecContext) error {
	to := strings.Split(stringParam(params, "to"), ",")
	for i := range to {
		to[i] = strings.TrimSpace(to[i])
	}
	return h.Forwarder.Forward(ctx, rec, to)
}
