package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inboxkit/mailflow/internal/metrics"
	"github.com/inboxkit/mailflow/internal/record"
	"github.com/inboxkit/mailflow/internal/scheduler"
)

// ErrQueueFull signals back-pressure: the record queue is at capacity
// and the caller should retry later. ErrRecordTimeout means the record
// was accepted but processing exceeded the engine's record timeout.
var (
	ErrQueueFull     = errors.New("record queue full")
	ErrRecordTimeout = errors.New("record processing timeout")
)

// Conf holds the engine's concurrency settings.
type Conf struct {
	RecordWorkers   int `yaml:"record_workers"`
	QueueDepth      int `yaml:"queue_depth"`
	RecordTimeoutMs int `yaml:"record_timeout_ms"`
}

// ApplyDefaults fills in zero fields.
func (c *Conf) ApplyDefaults() {
	if c.RecordWorkers == 0 {
		c.RecordWorkers = 16
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 1000
	}
	if c.RecordTimeoutMs == 0 {
		c.RecordTimeoutMs = 30000
	}
}

// RecordResult is the outcome of processing one record through the
// scheduler pipeline.
type RecordResult struct {
	RecordID   string                  `json:"record_id"`
	DurationMs int64                   `json:"duration_ms"`
	Outcomes   []scheduler.RuleOutcome `json:"outcomes"`
	Error      string                  `json:"error,omitempty"`
}

type recordWork struct {
	rec     *record.Record
	resultC chan *RecordResult
}

// Engine feeds records through a bounded worker pool into the
// scheduler. A failure in one rule's evaluation or actions never
// crashes the pipeline; errors surface per record result.
type Engine struct {
	sched *scheduler.Scheduler
	pool  *workerPool[*recordWork]
	conf  Conf
}

// New creates an Engine and starts its worker pool.
func New(ctx context.Context, sched *scheduler.Scheduler, conf Conf) *Engine {
	conf.ApplyDefaults()
	e := &Engine{sched: sched, conf: conf}
	e.pool = newWorkerPool(ctx, conf.RecordWorkers, conf.QueueDepth, func(ctx context.Context, w *recordWork) {
		res := e.processRecord(ctx, w.rec)
		if w.resultC != nil {
			w.resultC <- res
		}
	})
	return e
}

// ProcessSync processes a record and waits for the result, bounded by
// the engine's record timeout.
func (e *Engine) ProcessSync(ctx context.Context, rec *record.Record) (*RecordResult, error) {
	resultC := make(chan *RecordResult, 1)
	if !e.pool.Submit(&recordWork{rec: rec, resultC: resultC}) {
		metrics.RecordsDropped.Inc()
		return nil, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.conf.QueueDepth)
	}
	metrics.RecordsEnqueued.Inc()

	timeout := time.Duration(e.conf.RecordTimeoutMs) * time.Millisecond
	select {
	case res := <-resultC:
		return res, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v", ErrRecordTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProcessAsync enqueues a record for background processing. Returns
// false if the queue is full.
func (e *Engine) ProcessAsync(rec *record.Record) bool {
	if !e.pool.Submit(&recordWork{rec: rec}) {
		metrics.RecordsDropped.Inc()
		return false
	}
	metrics.RecordsEnqueued.Inc()
	return true
}

// QueueUtilization returns queue used / capacity (0-1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

func (e *Engine) processRecord(ctx context.Context, rec *record.Record) *RecordResult {
	start := time.Now()
	res := &RecordResult{RecordID: rec.ID}

	outcomes, err := e.sched.Process(ctx, rec)
	if err != nil {
		res.Error = err.Error()
	}
	res.Outcomes = outcomes
	res.DurationMs = time.Since(start).Milliseconds()

	metrics.RecordsProcessed.Inc()
	metrics.RecordProcessingDuration.Observe(float64(res.DurationMs))
	return res
}

// Shutdown drains the pool gracefully.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}
