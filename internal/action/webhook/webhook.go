// Package webhook implements the "webhook" action: an HTTP POST of the
// matched record plus the action's payload to an author-supplied URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/inboxkit/mailflow/internal/action"
	"github.com/inboxkit/mailflow/internal/record"
)

// Handler calls external webhooks. The request body is the record
// snapshot plus any static payload from the action params.
type Handler struct {
	client *http.Client
}

// New creates a webhook Handler. A nil client gets a 10s-timeout default.
func New(client *http.Client) *Handler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Handler{client: client}
}

func (h *Handler) Type() string { return "webhook" }

func (h *Handler) Validate(params map[string]interface{}) error {
	raw, _ := params["url"].(string)
	if raw == "" {
		return fmt.Errorf("param \"url\" is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("param \"url\" must be an absolute http(s) URL")
	}
	if m, ok := params["method"].(string); ok && m != "" {
		switch m {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			return fmt.Errorf("param \"method\" must be POST, PUT, or PATCH")
		}
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, params map[string]interface{}, rec *record.Record, ec *action.ExecContext) error {
	target, _ := params["url"].(string)
	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body := map[string]interface{}{
		"rule_id": ec.RuleID,
		"record":  rec,
	}
	if payload, ok := params["payload"]; ok {
		body["payload"] = payload
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %d", target, resp.StatusCode)
	}
	ec.SetOutput("webhook", resp.StatusCode)
	return nil
}
