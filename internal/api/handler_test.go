package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/inboxkit/mailflow/internal/action"
	"github.com/inboxkit/mailflow/internal/condition"
	"github.com/inboxkit/mailflow/internal/engine"
	"github.com/inboxkit/mailflow/internal/execlog"
	"github.com/inboxkit/mailflow/internal/rule"
	"github.com/inboxkit/mailflow/internal/scheduler"
	"github.com/inboxkit/mailflow/internal/template"
)

func newTestServer(t *testing.T) (*httptest.Server, rule.Store) {
	t.Helper()
	reg := action.NewRegistry()
	for _, h := range action.MutationHandlers() {
		reg.Register(h)
	}
	reg.Register(&action.NotifyHandler{Notifier: nopNotifier{}})
	reg.Register(&action.CreateTaskHandler{Tracker: nopTracker{}})

	store := rule.NewInMemoryStore()
	locks := rule.NewLockTable()
	log := execlog.NewMemoryLog(0)
	eval := condition.NewEvaluator()
	runner := action.NewRunner(reg, eval)
	sched := scheduler.New(store, locks, eval, runner, log)

	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(ctx, sched, engine.Conf{RecordWorkers: 2, QueueDepth: 16})
	t.Cleanup(cancel)

	catalog, err := template.Load()
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(New(Deps{
		Engine:    eng,
		Scheduler: sched,
		Store:     store,
		Locks:     locks,
		Registry:  reg,
		Log:       log,
		Catalog:   catalog,
		Reload:    func() error { return nil },
	}))
	t.Cleanup(srv.Close)
	return srv, store
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, action.Notification) error { return nil }

type nopTracker struct{}

func (nopTracker) Create(context.Context, action.Task) (string, error) { return "t", nil }

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatal(err)
	}
}

func ruleDoc() map[string]interface{} {
	return map[string]interface{}{
		"name":   "star inbox",
		"active": true,
		"condition": map[string]interface{}{
			"field":    "folder",
			"operator": "equals",
			"value":    "inbox",
		},
		"actions": []map[string]interface{}{{"type": "star"}},
	}
}

func TestRuleLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	// Create.
	resp := postJSON(t, srv.URL+"/v1/rules", ruleDoc())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created rule.Rule
	decode(t, resp, &created)
	if created.ID == "" {
		t.Fatal("server must assign an id")
	}

	// Get.
	resp, err := http.Get(srv.URL + "/v1/rules/" + created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got rule.Rule
	decode(t, resp, &got)
	if got.Name != "star inbox" {
		t.Errorf("got = %+v", got)
	}

	// Update.
	doc := ruleDoc()
	doc["name"] = "renamed"
	buf, _ := json.Marshal(doc)
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/rules/"+created.ID, bytes.NewReader(buf))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// List.
	resp, err = http.Get(srv.URL + "/v1/rules")
	if err != nil {
		t.Fatal(err)
	}
	var listed struct {
		Rules []rule.Rule `json:"rules"`
	}
	decode(t, resp, &listed)
	if len(listed.Rules) != 1 || listed.Rules[0].Name != "renamed" {
		t.Errorf("list = %+v", listed.Rules)
	}

	// Delete.
	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/v1/rules/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Get after delete.
	resp, err = http.Get(srv.URL + "/v1/rules/" + created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get-after-delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateRule_ValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	doc := ruleDoc()
	doc["actions"] = []map[string]interface{}{{"type": "teleport"}}
	resp := postJSON(t, srv.URL+"/v1/rules", doc)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Error   string `json:"error"`
		Details []struct {
			Path    string `json:"path"`
			Message string `json:"message"`
		} `json:"details"`
	}
	decode(t, resp, &body)
	if len(body.Details) == 0 || body.Details[0].Path != "actions[0].type" {
		t.Errorf("details = %+v", body.Details)
	}
}

func TestIngestRecord(t *testing.T) {
	srv, store := newTestServer(t)
	r := &rule.Rule{
		ID:     "r1",
		Name:   "star inbox",
		Active: true,
		Condition: &condition.Condition{
			Field: "folder", Operator: condition.OpEquals, Value: "inbox",
		},
		Actions: []rule.Action{{Type: action.TypeStar}},
	}
	if err := store.Save(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, srv.URL+"/v1/records", map[string]interface{}{
		"from":    "a@b.com",
		"subject": "hi",
		"folder":  "inbox",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res engine.RecordResult
	decode(t, resp, &res)
	if res.RecordID == "" {
		t.Error("record id must be assigned")
	}
	if len(res.Outcomes) != 1 || !res.Outcomes[0].Matched {
		t.Errorf("outcomes = %+v", res.Outcomes)
	}

	// The firing is queryable through the log endpoint.
	logResp, err := http.Get(srv.URL + "/v1/logs?rule_id=r1")
	if err != nil {
		t.Fatal(err)
	}
	var logs struct {
		Entries []execlog.Entry `json:"entries"`
	}
	decode(t, logResp, &logs)
	if len(logs.Entries) != 1 || logs.Entries[0].Outcome != execlog.OutcomeSuccess {
		t.Errorf("entries = %+v", logs.Entries)
	}
}

func TestIngestBatch(t *testing.T) {
	srv, _ := newTestServer(t)

	var batch []map[string]interface{}
	for i := 0; i < 3; i++ {
		batch = append(batch, map[string]interface{}{
			"from": fmt.Sprintf("user%d@b.com", i), "folder": "inbox",
		})
	}
	resp := postJSON(t, srv.URL+"/v1/records/batch", batch)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		JobID  string `json:"job_id"`
		Total  int    `json:"total"`
		Queued int    `json:"queued"`
	}
	decode(t, resp, &body)
	if body.JobID == "" || body.Total != 3 || body.Queued != 3 {
		t.Errorf("body = %+v", body)
	}

	resp = postJSON(t, srv.URL+"/v1/records/batch", []map[string]interface{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty batch status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTestRule_PreviewTrace(t *testing.T) {
	srv, store := newTestServer(t)
	r := &rule.Rule{
		ID:     "r1",
		Name:   "star inbox",
		Active: true,
		Condition: &condition.Condition{
			Field: "folder", Operator: condition.OpEquals, Value: "inbox",
		},
		Actions: []rule.Action{{Type: action.TypeStar}},
	}
	if err := store.Save(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, srv.URL+"/v1/rules/r1/test", map[string]interface{}{"folder": "inbox"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out scheduler.RuleOutcome
	decode(t, resp, &out)
	if !out.Matched || out.Trace == nil || len(out.Trace.Leaves) != 1 {
		t.Errorf("preview = %+v", out)
	}
	if len(out.ExecutedTypes) != 0 {
		t.Error("preview must not execute actions")
	}
}

func TestTemplates(t *testing.T) {
	srv, store := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/templates")
	if err != nil {
		t.Fatal(err)
	}
	var cat template.Catalog
	decode(t, resp, &cat)
	if len(cat.Presets) == 0 {
		t.Fatal("catalog is empty")
	}

	resp = postJSON(t, srv.URL+"/v1/templates/"+cat.Presets[0].ID+"/clone", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("clone status = %d", resp.StatusCode)
	}
	var cloned rule.Rule
	decode(t, resp, &cloned)
	if cloned.Active {
		t.Error("clones start inactive")
	}
	if _, err := store.Get(context.Background(), cloned.ID); err != nil {
		t.Errorf("clone not persisted: %v", err)
	}

	resp = postJSON(t, srv.URL+"/v1/templates/unknown/clone", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown preset status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestQueryLogs_BadParams(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, q := range []string{"limit=0", "limit=abc", "since=yesterday"} {
		resp, err := http.Get(srv.URL + "/v1/logs?" + q)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s status = %d", q, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
