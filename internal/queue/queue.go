package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
)

// ErrJobTimeout is recorded when a handler outlives its job timeout.
var ErrJobTimeout = errors.New("job timed out")

var schemas = sync.OnceValue(compilePayloadSchemas)

// Queue schedules background jobs under a global concurrency cap, per-type caps and a
// daily cost ceiling. All scheduling state is guarded by mu.
type Queue struct {
	logger         *slog.Logger
	maxConcurrent  int
	typeLimits     map[constants.JobType]int
	dailyCostLimit float64
	historySize    int
	tick           time.Duration
	jobTimeout     time.Duration
	now            func() time.Time
	costModel      CostModel

	mu            sync.Mutex
	handlers      map[constants.JobType]Handler
	pending       jobHeap
	live          map[string]*Job // pending and running
	running       map[string]*Job
	runningByType map[constants.JobType]int
	history       *history
	ledger        *costLedger
	seq           uint64
	closed        bool

	totalJobs     int
	completedJobs int
	failedJobs    int
	admitted      int
	waitTotal     time.Duration
	procTotal     time.Duration

	wake      chan struct{}
	stop      chan struct{}
	startOnce sync.Once
	loopWG    sync.WaitGroup
	jobsWG    sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc

	subsMu     sync.Mutex
	subs       map[int]chan Event
	nextSub    int
	subsClosed bool
}

func New(logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger:         logger,
		maxConcurrent:  5,
		typeLimits:     DefaultTypeLimits(),
		dailyCostLimit: 100.0,
		historySize:    1000,
		tick:           100 * time.Millisecond,
		jobTimeout:     5 * time.Minute,
		now:            time.Now,
		costModel:      DefaultCostModel,
		handlers:       make(map[constants.JobType]Handler),
		live:           make(map[string]*Job),
		running:        make(map[string]*Job),
		runningByType:  make(map[constants.JobType]int),
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
		subs:           make(map[int]chan Event),
	}
	for _, o := range opts {
		o(q)
	}
	q.history = newHistory(q.historySize)
	q.ledger = newCostLedger(q.now())
	q.baseCtx, q.baseCancel = context.WithCancel(context.Background())
	return q
}

// DefaultTypeLimits returns the per-type caps used when none are configured.
func DefaultTypeLimits() map[constants.JobType]int {
	return map[constants.JobType]int{
		constants.JobOCR:       2,
		constants.JobTransform: 3,
		constants.JobCompress:  2,
		constants.JobStorage:   2,
	}
}

// Register installs the handler for a job type, replacing any previous one.
func (q *Queue) Register(t constants.JobType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

// AddJob validates and enqueues a job and returns its id. It never waits for execution.
func (q *Queue) AddJob(spec JobSpec) (string, error) {
	payload, err := encodePayload(spec.Payload)
	if err != nil {
		return "", common.NewValidationError("payload", err.Error())
	}
	v := common.NewValidator()
	jobType, typeOK := constants.ParseJobType(string(spec.Type))
	v.Check(typeOK, "type", fmt.Sprintf("unknown job type %q", spec.Type))
	priority, prioOK := constants.ParseJobPriority(string(spec.Priority))
	v.Check(prioOK, "priority", fmt.Sprintf("unknown priority %q", spec.Priority))
	v.Field("max_retries", spec.MaxRetries, common.NonNegative)
	v.Field("timeout", int64(spec.Timeout), common.NonNegative)
	v.Field("estimated_cost", spec.EstimatedCost, common.NonNegative)
	spec.Type, spec.Priority = jobType, priority
	if typeOK {
		if err := validatePayload(schemas()[spec.Type], payload); err != nil {
			v.Check(false, "payload", err.Error())
		}
	}
	if err := v.Error(); err != nil {
		return "", err
	}

	estimate := spec.EstimatedCost
	if estimate == 0 {
		var sz payloadSizing
		_ = json.Unmarshal(payload, &sz)
		estimate = q.costModel.Estimate(spec.Type, sz.SizeBytes, sz.ExpectedSeconds)
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = q.jobTimeout
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: queue is shutting down", common.ErrQueueJob)
	}
	if _, ok := q.handlers[spec.Type]; !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: no handler registered for %s", common.ErrQueueJob, spec.Type)
	}
	q.seq++
	job := &Job{
		ID:            uuid.NewString(),
		Type:          spec.Type,
		Priority:      spec.Priority,
		Payload:       payload,
		MaxRetries:    spec.MaxRetries,
		Timeout:       timeout,
		EstimatedCost: estimate,
		CreatedAt:     q.now(),
		State:         constants.JobPending,
		seq:           q.seq,
	}
	heap.Push(&q.pending, job)
	q.live[job.ID] = job
	q.totalJobs++
	q.emit(Event{Type: EventAdded, Job: *job.clone(), At: job.CreatedAt})
	q.mu.Unlock()

	q.logger.Debug("job added", "job_id", job.ID, "type", job.Type, "priority", job.Priority, "estimated_cost", estimate)
	q.signal()
	return job.ID, nil
}

func encodePayload(p any) (json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		return append(json.RawMessage(nil), v...), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}

// GetJobStatus returns a copy of a pending, running or recently finished job.
func (q *Queue) GetJobStatus(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.live[id]; ok {
		return j.clone(), true
	}
	if j, ok := q.history.get(id); ok {
		return j.clone(), true
	}
	return nil, false
}

func (q *Queue) GetMetrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ledger.resetIfWindowElapsed(q.now())
	m := Metrics{
		TotalJobs:     q.totalJobs,
		PendingJobs:   q.pending.Len(),
		RunningJobs:   len(q.running),
		CompletedJobs: q.completedJobs,
		FailedJobs:    q.failedJobs,
		TotalCost:     q.ledger.total,
		CostToday:     q.ledger.spent,
	}
	if q.completedJobs > 0 {
		m.AvgProcessingTime = q.procTotal / time.Duration(q.completedJobs)
	}
	if q.admitted > 0 {
		m.QueueWaitTime = q.waitTotal / time.Duration(q.admitted)
	}
	return m
}

// Start launches the dispatch loop. Jobs run on contexts owned by the queue, so cancelling
// ctx stops admission but lets running jobs finish; use Shutdown to drain.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.loopWG.Add(1)
		go q.loop(ctx)
	})
}

func (q *Queue) loop(ctx context.Context) {
	defer q.loopWG.Done()
	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()
	q.logger.Info("queue dispatcher started", "max_concurrent", q.maxConcurrent, "daily_cost_limit", q.dailyCostLimit)
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("queue dispatcher stopped", "reason", ctx.Err())
			return
		case <-q.stop:
			q.logger.Info("queue dispatcher stopped", "reason", "shutdown")
			return
		case <-ticker.C:
		case <-q.wake:
		}
		q.dispatch()
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) typeLimit(t constants.JobType) int {
	if n, ok := q.typeLimits[t]; ok && n < q.maxConcurrent {
		return n
	}
	return q.maxConcurrent
}

// dispatch admits pending jobs in priority order while every cap holds. Jobs blocked by a
// type cap or the cost ceiling stay pending and later jobs may pass them.
func (q *Queue) dispatch() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	now := q.now()
	if q.ledger.resetIfWindowElapsed(now) {
		q.logger.Info("daily cost window reset", "window_start", q.ledger.windowStart)
	}

	var skipped, admitted []*Job
	for q.pending.Len() > 0 && len(q.running) < q.maxConcurrent {
		j := heap.Pop(&q.pending).(*Job)
		if q.runningByType[j.Type] >= q.typeLimit(j.Type) {
			skipped = append(skipped, j)
			continue
		}
		if !q.ledger.canAdmit(j.EstimatedCost, q.dailyCostLimit) {
			q.logger.Debug("job held by daily cost limit", "job_id", j.ID, "estimated_cost", j.EstimatedCost, "cost_today", q.ledger.spent)
			skipped = append(skipped, j)
			continue
		}
		started := now
		j.StartedAt = &started
		j.State = constants.JobRunning
		q.running[j.ID] = j
		q.runningByType[j.Type]++
		q.ledger.reserve(j.EstimatedCost)
		q.admitted++
		q.waitTotal += now.Sub(j.CreatedAt)
		admitted = append(admitted, j)
	}
	for _, j := range skipped {
		heap.Push(&q.pending, j)
	}

	q.jobsWG.Add(len(admitted))
	for _, j := range admitted {
		snap := j.clone()
		q.emit(Event{Type: EventStarted, Job: *snap, At: now})
		go q.execute(j, snap, q.handlers[j.Type])
	}
	q.mu.Unlock()
}

type outcome struct {
	cost float64
	err  error
}

// execute runs one attempt. The slot is released when the handler returns or the job
// deadline passes, whichever comes first.
func (q *Queue) execute(j, snap *Job, h Handler) {
	defer q.jobsWG.Done()

	ctx, cancel := context.WithTimeout(q.baseCtx, snap.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("job handler panicked", "job_id", snap.ID, "type", snap.Type, "panic", r)
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		cost, err := h(ctx, snap)
		done <- outcome{cost: cost, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.err = fmt.Errorf("%w after %s", ErrJobTimeout, snap.Timeout)
		} else {
			res.err = fmt.Errorf("job cancelled: %w", ctx.Err())
		}
	}
	q.finish(j, res, time.Since(start))
}

func (q *Queue) finish(j *Job, res outcome, elapsed time.Duration) {
	q.mu.Lock()
	delete(q.running, j.ID)
	q.runningByType[j.Type]--
	q.ledger.release(j.EstimatedCost)
	now := q.now()

	var evt EventType
	if res.err == nil {
		actual := res.cost
		if actual <= 0 {
			var sz payloadSizing
			_ = json.Unmarshal(j.Payload, &sz)
			actual = q.costModel.Estimate(j.Type, sz.SizeBytes, elapsed.Seconds())
		}
		q.ledger.record(now, actual)
		j.ActualCost += actual
		j.State = constants.JobCompleted
		j.CompletedAt = &now
		j.LastError = ""
		delete(q.live, j.ID)
		q.history.add(j)
		q.completedJobs++
		q.procTotal += elapsed
		evt = EventCompleted
	} else {
		if res.cost > 0 {
			q.ledger.record(now, res.cost)
			j.ActualCost += res.cost
		}
		j.LastError = res.err.Error()
		if j.Retries < j.MaxRetries && retryable(res.err) {
			j.Retries++
			j.State = constants.JobPending
			j.StartedAt = nil
			heap.Push(&q.pending, j)
			evt = EventRetrying
		} else {
			j.State = constants.JobFailed
			j.CompletedAt = &now
			delete(q.live, j.ID)
			q.history.add(j)
			q.failedJobs++
			evt = EventFailed
		}
	}
	snap := *j.clone()
	q.emit(Event{Type: evt, Job: snap, At: now})
	q.mu.Unlock()

	switch evt {
	case EventCompleted:
		q.logger.Info("job completed", "job_id", j.ID, "type", j.Type, "cost", snap.ActualCost, "duration", elapsed)
	case EventRetrying:
		q.logger.Warn("job failed, retrying", "job_id", j.ID, "type", j.Type, "retries", snap.Retries, "max_retries", snap.MaxRetries, "error", res.err)
	case EventFailed:
		q.logger.Error("job failed", "job_id", j.ID, "type", j.Type, "retries", snap.Retries, "error", res.err)
	}
	q.signal()
}

// retryable reports whether a failed run may succeed on another attempt.
// Validation failures are permanent.
func retryable(err error) bool {
	return !errors.Is(err, common.ErrValidation)
}

// Shutdown stops admission and waits for running jobs. If ctx ends first, running jobs are
// cancelled and ctx.Err() is returned. Pending jobs are left unrun.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stop)
	pending := q.pending.Len()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.loopWG.Wait()
		q.jobsWG.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context, cancelling running jobs")
		q.baseCancel()
		<-done
		err = ctx.Err()
	case <-done:
		q.logger.Info("queue drained, shutdown complete", "pending_left", pending)
	}
	q.baseCancel()
	q.closeSubscribers()
	return err
}
