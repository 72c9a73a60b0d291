package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inboxkit/mailflow/internal/action"
	"github.com/inboxkit/mailflow/internal/engine"
	"github.com/inboxkit/mailflow/internal/execlog"
	"github.com/inboxkit/mailflow/internal/metrics"
	"github.com/inboxkit/mailflow/internal/record"
	"github.com/inboxkit/mailflow/internal/rule"
	"github.com/inboxkit/mailflow/internal/scheduler"
	"github.com/inboxkit/mailflow/internal/template"
)

const maxBatchSize = 100

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng     *engine.Engine
	sched   *scheduler.Scheduler
	store   rule.Store
	locks   *rule.LockTable
	vocab   *action.Registry
	log     execlog.Log
	catalog *template.Catalog
	reload  func() error
	mux     *http.ServeMux
}

// Deps bundles the handler's collaborators.
type Deps struct {
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Store     rule.Store
	Locks     *rule.LockTable
	Registry  *action.Registry
	Log       execlog.Log
	Catalog   *template.Catalog
	Reload    func() error
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{
		eng:     d.Engine,
		sched:   d.Scheduler,
		store:   d.Store,
		locks:   d.Locks,
		vocab:   d.Registry,
		log:     d.Log,
		catalog: d.Catalog,
		reload:  d.Reload,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/records", h.ingestRecord)
	h.mux.HandleFunc("POST /v1/records/batch", h.ingestBatch)
	h.mux.HandleFunc("GET /v1/rules", h.listRules)
	h.mux.HandleFunc("POST /v1/rules", h.createRule)
	h.mux.HandleFunc("GET /v1/rules/{id}", h.getRule)
	h.mux.HandleFunc("PUT /v1/rules/{id}", h.updateRule)
	h.mux.HandleFunc("DELETE /v1/rules/{id}", h.deleteRule)
	h.mux.HandleFunc("POST /v1/rules/{id}/test", h.testRule)
	h.mux.HandleFunc("POST /v1/rules/reload", h.reloadRules)
	h.mux.HandleFunc("GET /v1/logs", h.queryLogs)
	h.mux.HandleFunc("GET /v1/templates", h.listTemplates)
	h.mux.HandleFunc("POST /v1/templates/{id}/clone", h.cloneTemplate)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// POST /v1/records — synchronous single-record processing.
func (h *Handler) ingestRecord(w http.ResponseWriter, r *http.Request) {
	var rec record.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	normalizeRecord(&rec)

	res, err := h.eng.ProcessSync(r.Context(), &rec)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, engine.ErrRecordTimeout):
			writeError(w, http.StatusGatewayTimeout, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/records/batch — async batch ingestion (up to 100 records).
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var recs []*record.Record
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(recs) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one record")
		return
	}
	if len(recs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(recs), maxBatchSize))
		return
	}

	jobID := uuid.New().String()
	queued := 0
	for _, rec := range recs {
		normalizeRecord(rec)
		if h.eng.ProcessAsync(rec) {
			queued++
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   jobID,
		"total":    len(recs),
		"queued":   queued,
		"rejected": len(recs) - queued,
	})
}

func normalizeRecord(rec *record.Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	if rec.Priority == "" {
		rec.Priority = record.PriorityMedium
	}
}

// GET /v1/rules — list all stored rules.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// POST /v1/rules — create a rule after save-time validation.
func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var ru rule.Rule
	if err := json.NewDecoder(r.Body).Decode(&ru); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if ru.ID == "" {
		ru.ID = uuid.New().String()
	}
	if errs := rule.Validate(&ru, h.vocab); len(errs) > 0 {
		writeValidation(w, errs)
		return
	}
	if err := h.store.Save(r.Context(), &ru); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, &ru)
}

// GET /v1/rules/{id}
func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	ru, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ru)
}

// PUT /v1/rules/{id} — replace a rule. The per-rule exclusive lock
// keeps the update from racing in-flight evaluation of the same rule.
func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var ru rule.Rule
	if err := json.NewDecoder(r.Body).Decode(&ru); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	ru.ID = id
	if errs := rule.Validate(&ru, h.vocab); len(errs) > 0 {
		writeValidation(w, errs)
		return
	}
	h.locks.Lock(id)
	err := h.store.Update(r.Context(), &ru)
	h.locks.Unlock(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, &ru)
}

// DELETE /v1/rules/{id}
func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.locks.Lock(id)
	err := h.store.Delete(r.Context(), id)
	h.locks.Unlock(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.locks.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/rules/{id}/test — evaluate a rule against a sample record
// without firing actions; returns the match trace for the author.
func (h *Handler) testRule(w http.ResponseWriter, r *http.Request) {
	var rec record.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	normalizeRecord(&rec)
	out, err := h.sched.Preview(r.Context(), r.PathValue("id"), &rec)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /v1/rules/reload — re-read the config file and re-seed
// declarative rules.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		writeError(w, http.StatusNotImplemented, "no config file configured")
		return
	}
	if err := h.reload(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reloaded": true})
}

// GET /v1/logs — filtered execution log query, newest first.
func (h *Handler) queryLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := execlog.Filter{
		RuleID:   q.Get("rule_id"),
		RecordID: q.Get("record_id"),
		Outcome:  execlog.Outcome(q.Get("outcome")),
		Limit:    100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	for param, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(param); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be RFC3339", param))
				return
			}
			*dst = t
		}
	}

	entries, err := h.log.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// GET /v1/templates — the preset catalog.
func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog)
}

// POST /v1/templates/{id}/clone — clone a preset into a new inactive
// rule owned by the caller.
func (h *Handler) cloneTemplate(w http.ResponseWriter, r *http.Request) {
	ru, err := h.catalog.Clone(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := h.store.Save(r.Context(), ru); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ru)
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if record queue >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func statusFor(err error) int {
	if errors.Is(err, rule.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
