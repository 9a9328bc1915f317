package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	opts = append([]Option{WithTickInterval(5 * time.Millisecond)}, opts...)
	q := New(nil, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return q
}

func noop(context.Context, *Job) (float64, error) { return 0, nil }

func transformSpec(p constants.JobPriority) JobSpec {
	return JobSpec{Type: constants.JobTransform, Priority: p, Payload: TransformPayload{EvidenceID: uuid.NewString()}}
}

func ocrSpec(size int64) JobSpec {
	return JobSpec{Type: constants.JobOCR, Priority: constants.PriorityMedium, Payload: OCRPayload{EvidenceID: uuid.NewString(), SizeBytes: size}}
}

func waitState(t *testing.T, q *Queue, id string, state constants.JobState) *Job {
	t.Helper()
	var got *Job
	require.Eventually(t, func() bool {
		j, ok := q.GetJobStatus(id)
		got = j
		return ok && j.State == state
	}, 2*time.Second, 2*time.Millisecond, "job %s never reached %s", id, state)
	return got
}

func TestAddJobValidation(t *testing.T) {
	q := newTestQueue(t)
	for _, jt := range constants.JobTypes() {
		q.Register(jt, noop)
	}

	tests := []struct {
		name string
		spec JobSpec
	}{
		{"unknown type", JobSpec{Type: "index", Payload: map[string]any{}}},
		{"unknown priority", JobSpec{Type: constants.JobTransform, Priority: "urgent", Payload: TransformPayload{EvidenceID: uuid.NewString()}}},
		{"negative retries", JobSpec{Type: constants.JobTransform, MaxRetries: -1, Payload: TransformPayload{EvidenceID: uuid.NewString()}}},
		{"negative timeout", JobSpec{Type: constants.JobTransform, Timeout: -time.Second, Payload: TransformPayload{EvidenceID: uuid.NewString()}}},
		{"missing evidence id", JobSpec{Type: constants.JobOCR, Payload: map[string]any{"size_bytes": 10}}},
		{"malformed evidence id", JobSpec{Type: constants.JobCompress, Payload: map[string]any{"evidence_id": "abc"}}},
		{"unknown property", JobSpec{Type: constants.JobTransform, Payload: map[string]any{"evidence_id": uuid.NewString(), "foo": 1}}},
		{"bad storage action", JobSpec{Type: constants.JobStorage, Payload: StoragePayload{Action: "shred"}}},
		{"negative size", JobSpec{Type: constants.JobOCR, Payload: map[string]any{"evidence_id": uuid.NewString(), "size_bytes": -5}}},
		{"threshold above one", JobSpec{Type: constants.JobTransform, Payload: map[string]any{"evidence_id": uuid.NewString(), "quality_threshold": 1.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := q.AddJob(tt.spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrValidation)
			assert.Empty(t, id)
		})
	}

	t.Run("valid job is pending with estimate", func(t *testing.T) {
		id, err := q.AddJob(JobSpec{Type: "OCR", Payload: OCRPayload{EvidenceID: uuid.NewString(), SizeBytes: 2 * bytesPerMB, ExpectedSeconds: 5}})
		require.NoError(t, err)
		j, ok := q.GetJobStatus(id)
		require.True(t, ok)
		assert.Equal(t, constants.JobOCR, j.Type)
		assert.Equal(t, constants.PriorityMedium, j.Priority)
		assert.Equal(t, constants.JobPending, j.State)
		assert.Equal(t, 0, j.Retries)
		assert.Equal(t, 5*time.Minute, j.Timeout)
		assert.InDelta(t, 0.01+0.01+0.01, j.EstimatedCost, 1e-9)
		assert.False(t, j.CreatedAt.IsZero())
	})

	t.Run("storage cleanup needs no evidence", func(t *testing.T) {
		_, err := q.AddJob(JobSpec{Type: constants.JobStorage, Priority: constants.PriorityLow, Payload: StoragePayload{Action: StorageActionCleanup, RetentionSeconds: 3600}})
		require.NoError(t, err)
	})

	t.Run("missing handler", func(t *testing.T) {
		q2 := newTestQueue(t)
		_, err := q2.AddJob(transformSpec(constants.PriorityHigh))
		assert.ErrorIs(t, err, common.ErrQueueJob)
	})

	t.Run("closed queue", func(t *testing.T) {
		q3 := New(nil)
		q3.Register(constants.JobTransform, noop)
		require.NoError(t, q3.Shutdown(context.Background()))
		_, err := q3.AddJob(transformSpec(constants.PriorityHigh))
		assert.ErrorIs(t, err, common.ErrQueueJob)
	})
}

func TestGetJobStatusReturnsCopy(t *testing.T) {
	q := newTestQueue(t)
	q.Register(constants.JobTransform, noop)
	id, err := q.AddJob(transformSpec(constants.PriorityLow))
	require.NoError(t, err)

	j, _ := q.GetJobStatus(id)
	j.State = constants.JobFailed
	j.Payload[0] = 'X'

	again, _ := q.GetJobStatus(id)
	assert.Equal(t, constants.JobPending, again.State)
	assert.Equal(t, byte('{'), again.Payload[0])

	_, ok := q.GetJobStatus("missing")
	assert.False(t, ok)
}

func TestDispatchOrderPriorityThenFIFO(t *testing.T) {
	q := newTestQueue(t, WithMaxConcurrent(1))
	var mu sync.Mutex
	var order []string
	q.Register(constants.JobTransform, func(_ context.Context, j *Job) (float64, error) {
		mu.Lock()
		order = append(order, j.ID)
		mu.Unlock()
		return 0, nil
	})

	add := func(p constants.JobPriority) string {
		id, err := q.AddJob(transformSpec(p))
		require.NoError(t, err)
		return id
	}
	low := add(constants.PriorityLow)
	med1 := add(constants.PriorityMedium)
	high1 := add(constants.PriorityHigh)
	high2 := add(constants.PriorityHigh)
	med2 := add(constants.PriorityMedium)

	q.Start(context.Background())
	require.Eventually(t, func() bool { return q.GetMetrics().CompletedJobs == 5 }, 2*time.Second, 2*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{high1, high2, med1, med2, low}, order)
}

// blockingHandler runs until released or cancelled and reports how many are running.
type blockingHandler struct {
	release chan struct{}
	running atomic.Int32
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{release: make(chan struct{})}
}

func (b *blockingHandler) Handle(ctx context.Context, _ *Job) (float64, error) {
	b.running.Add(1)
	defer b.running.Add(-1)
	select {
	case <-b.release:
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestOCRCapHoldsThirdJobUntilSlotFrees(t *testing.T) {
	q := newTestQueue(t)
	h := newBlockingHandler()
	q.Register(constants.JobOCR, h.Handle)
	q.Start(context.Background())

	first, err := q.AddJob(ocrSpec(1024))
	require.NoError(t, err)
	second, err := q.AddJob(ocrSpec(1024))
	require.NoError(t, err)
	waitState(t, q, first, constants.JobRunning)
	waitState(t, q, second, constants.JobRunning)

	third, err := q.AddJob(ocrSpec(2 * bytesPerMB))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	j, _ := q.GetJobStatus(third)
	assert.Equal(t, constants.JobPending, j.State)
	m := q.GetMetrics()
	assert.Equal(t, 2, m.RunningJobs)
	assert.Equal(t, 1, m.PendingJobs)

	h.release <- struct{}{}
	waitState(t, q, third, constants.JobRunning)
	assert.LessOrEqual(t, h.running.Load(), int32(2))

	close(h.release)
	waitState(t, q, third, constants.JobCompleted)
}

func TestTypeCapLetsOtherTypesOvertake(t *testing.T) {
	q := newTestQueue(t, WithTypeLimit(constants.JobOCR, 1))
	h := newBlockingHandler()
	q.Register(constants.JobOCR, h.Handle)
	q.Register(constants.JobTransform, noop)
	q.Start(context.Background())

	spec := ocrSpec(10)
	spec.Priority = constants.PriorityHigh
	running, err := q.AddJob(spec)
	require.NoError(t, err)
	waitState(t, q, running, constants.JobRunning)

	spec = ocrSpec(10)
	spec.Priority = constants.PriorityHigh
	held, err := q.AddJob(spec)
	require.NoError(t, err)
	low, err := q.AddJob(transformSpec(constants.PriorityLow))
	require.NoError(t, err)

	waitState(t, q, low, constants.JobCompleted)
	j, _ := q.GetJobStatus(held)
	assert.Equal(t, constants.JobPending, j.State)

	close(h.release)
	waitState(t, q, held, constants.JobCompleted)
}

func estimateHandler(factor float64) Handler {
	return func(_ context.Context, j *Job) (float64, error) {
		return j.EstimatedCost * factor, nil
	}
}

func TestCostCeilingHoldsJobsAndResetsAtMidnight(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 16, 23, 0, 0, 0, time.UTC)}
	q := newTestQueue(t, WithClock(clock.Now), WithDailyCostLimit(1.0))
	q.Register(constants.JobTransform, estimateHandler(1))
	q.Start(context.Background())

	spec := transformSpec(constants.PriorityHigh)
	spec.EstimatedCost = 0.625
	first, err := q.AddJob(spec)
	require.NoError(t, err)
	waitState(t, q, first, constants.JobCompleted)
	assert.InDelta(t, 0.625, q.GetMetrics().CostToday, 1e-9)

	spec = transformSpec(constants.PriorityHigh)
	spec.EstimatedCost = 0.625
	held, err := q.AddJob(spec)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	j, _ := q.GetJobStatus(held)
	assert.Equal(t, constants.JobPending, j.State, "cost-blocked job must stay pending")

	clock.Advance(2 * time.Hour)
	waitState(t, q, held, constants.JobCompleted)

	m := q.GetMetrics()
	assert.InDelta(t, 0.625, m.CostToday, 1e-9)
	assert.InDelta(t, 1.25, m.TotalCost, 1e-9)
}

func TestCostCeilingOvershootBound(t *testing.T) {
	t.Run("exact estimates never exceed the limit", func(t *testing.T) {
		q := newTestQueue(t, WithDailyCostLimit(1.0), WithTypeLimit(constants.JobTransform, 5))
		q.Register(constants.JobTransform, func(_ context.Context, j *Job) (float64, error) {
			time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
			return j.EstimatedCost, nil
		})
		for range 20 {
			spec := transformSpec(constants.PriorityMedium)
			spec.EstimatedCost = 0.125
			_, err := q.AddJob(spec)
			require.NoError(t, err)
		}
		q.Start(context.Background())

		require.Eventually(t, func() bool { return q.GetMetrics().CompletedJobs == 8 }, 2*time.Second, 2*time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		m := q.GetMetrics()
		assert.Equal(t, 8, m.CompletedJobs)
		assert.Equal(t, 12, m.PendingJobs)
		assert.LessOrEqual(t, m.CostToday, 1.0)
	})

	t.Run("underestimates overshoot by at most one job", func(t *testing.T) {
		q := newTestQueue(t, WithMaxConcurrent(1), WithDailyCostLimit(1.0))
		q.Register(constants.JobTransform, estimateHandler(1.5))
		for range 20 {
			spec := transformSpec(constants.PriorityMedium)
			spec.EstimatedCost = 0.125
			_, err := q.AddJob(spec)
			require.NoError(t, err)
		}
		q.Start(context.Background())

		require.Eventually(t, func() bool { return q.GetMetrics().CompletedJobs == 5 }, 2*time.Second, 2*time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		m := q.GetMetrics()
		assert.Equal(t, 5, m.CompletedJobs)
		assert.LessOrEqual(t, m.CostToday, 1.0+0.1875)
	})
}

func TestRetriesThenFails(t *testing.T) {
	q := newTestQueue(t)
	var attempts atomic.Int32
	q.Register(constants.JobCompress, func(context.Context, *Job) (float64, error) {
		attempts.Add(1)
		return 0, errors.New("disk unavailable")
	})
	events, unsubscribe := q.Subscribe(32)
	defer unsubscribe()
	q.Start(context.Background())

	id, err := q.AddJob(JobSpec{Type: constants.JobCompress, MaxRetries: 2, Payload: CompressPayload{EvidenceID: uuid.NewString()}})
	require.NoError(t, err)

	j := waitState(t, q, id, constants.JobFailed)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 2, j.Retries)
	assert.Contains(t, j.LastError, "disk unavailable")
	assert.NotNil(t, j.CompletedAt)

	counts := map[EventType]int{}
	for counts[EventFailed] == 0 {
		select {
		case e := <-events:
			counts[e.Type]++
		case <-time.After(time.Second):
			t.Fatal("missing failed event")
		}
	}
	assert.Equal(t, 1, counts[EventAdded])
	assert.Equal(t, 3, counts[EventStarted])
	assert.Equal(t, 2, counts[EventRetrying])
	assert.Equal(t, 1, q.GetMetrics().FailedJobs)
}

func TestRetryThenSucceeds(t *testing.T) {
	q := newTestQueue(t)
	var attempts atomic.Int32
	q.Register(constants.JobTransform, func(context.Context, *Job) (float64, error) {
		if attempts.Add(1) == 1 {
			return 0, errors.New("transient")
		}
		return 0.5, nil
	})
	q.Start(context.Background())

	spec := transformSpec(constants.PriorityMedium)
	spec.MaxRetries = 3
	id, err := q.AddJob(spec)
	require.NoError(t, err)

	j := waitState(t, q, id, constants.JobCompleted)
	assert.Equal(t, 1, j.Retries)
	assert.Empty(t, j.LastError)
	assert.InDelta(t, 0.5, j.ActualCost, 1e-9)
}

func TestValidationFailuresAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation error", common.NewValidationError("evidence_id", "must be a valid UUID")},
		{"validator result", common.NewValidator().Check(false, "action", "unknown").Error()},
		{"wrapped", fmt.Errorf("decode: %w", common.NewValidationError("payload", "bad"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(t)
			var attempts atomic.Int32
			q.Register(constants.JobCompress, func(context.Context, *Job) (float64, error) {
				attempts.Add(1)
				return 0, tt.err
			})
			q.Start(context.Background())

			id, err := q.AddJob(JobSpec{Type: constants.JobCompress, MaxRetries: 3, Payload: CompressPayload{EvidenceID: uuid.NewString()}})
			require.NoError(t, err)

			j := waitState(t, q, id, constants.JobFailed)
			assert.Equal(t, int32(1), attempts.Load())
			assert.Equal(t, 0, j.Retries)
			assert.Equal(t, tt.err.Error(), j.LastError)
		})
	}
}

func TestTimeoutReleasesSlot(t *testing.T) {
	q := newTestQueue(t, WithMaxConcurrent(1))
	stuck := make(chan struct{})
	defer close(stuck)
	q.Register(constants.JobOCR, func(context.Context, *Job) (float64, error) {
		<-stuck // ignores ctx
		return 0, nil
	})
	q.Register(constants.JobTransform, noop)
	q.Start(context.Background())

	spec := ocrSpec(10)
	spec.Timeout = 20 * time.Millisecond
	hung, err := q.AddJob(spec)
	require.NoError(t, err)
	next, err := q.AddJob(transformSpec(constants.PriorityLow))
	require.NoError(t, err)

	j := waitState(t, q, hung, constants.JobFailed)
	assert.Contains(t, j.LastError, ErrJobTimeout.Error())
	waitState(t, q, next, constants.JobCompleted)
}

func TestHandlerPanicIsFailure(t *testing.T) {
	q := newTestQueue(t)
	q.Register(constants.JobStorage, func(context.Context, *Job) (float64, error) {
		panic("boom")
	})
	q.Start(context.Background())

	id, err := q.AddJob(JobSpec{Type: constants.JobStorage, Payload: StoragePayload{Action: StorageActionCleanup}})
	require.NoError(t, err)
	j := waitState(t, q, id, constants.JobFailed)
	assert.Contains(t, j.LastError, "panic")
}

func TestRandomizedSubmissionsRespectCaps(t *testing.T) {
	const global = 4
	limits := map[constants.JobType]int{
		constants.JobOCR:       1,
		constants.JobTransform: 2,
		constants.JobCompress:  3,
		constants.JobStorage:   2,
	}
	opts := []Option{WithMaxConcurrent(global), WithDailyCostLimit(1e6)}
	for jt, limit := range limits {
		opts = append(opts, WithTypeLimit(jt, limit))
	}
	q := newTestQueue(t, opts...)

	var mu sync.Mutex
	var total, maxTotal int
	perType := map[constants.JobType]int{}
	maxPerType := map[constants.JobType]int{}
	handler := func(_ context.Context, j *Job) (float64, error) {
		mu.Lock()
		total++
		perType[j.Type]++
		maxTotal = max(maxTotal, total)
		maxPerType[j.Type] = max(maxPerType[j.Type], perType[j.Type])
		mu.Unlock()

		time.Sleep(time.Duration(rand.IntN(2000)) * time.Microsecond)

		mu.Lock()
		total--
		perType[j.Type]--
		mu.Unlock()
		return 0, nil
	}
	for _, jt := range constants.JobTypes() {
		q.Register(jt, handler)
	}
	q.Start(context.Background())

	r := rand.New(rand.NewPCG(42, 7))
	priorities := []constants.JobPriority{constants.PriorityHigh, constants.PriorityMedium, constants.PriorityLow}
	const n = 150
	for i := range n {
		var spec JobSpec
		switch r.IntN(4) {
		case 0:
			spec = ocrSpec(int64(r.IntN(5 * bytesPerMB)))
		case 1:
			spec = transformSpec("")
		case 2:
			spec = JobSpec{Type: constants.JobCompress, Payload: CompressPayload{EvidenceID: uuid.NewString()}}
		default:
			spec = JobSpec{Type: constants.JobStorage, Payload: StoragePayload{Action: StorageActionCleanup}}
		}
		spec.Priority = priorities[r.IntN(len(priorities))]
		_, err := q.AddJob(spec)
		require.NoError(t, err)
		if i%10 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	require.Eventually(t, func() bool { return q.GetMetrics().CompletedJobs == n }, 10*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxTotal, global)
	for jt, limit := range limits {
		assert.LessOrEqual(t, maxPerType[jt], limit, "type %s", jt)
	}
	m := q.GetMetrics()
	assert.Equal(t, n, m.TotalJobs)
	assert.Zero(t, m.PendingJobs)
	assert.Zero(t, m.RunningJobs)
}

func TestHistoryIsBounded(t *testing.T) {
	q := newTestQueue(t, WithHistorySize(2), WithMaxConcurrent(1))
	q.Register(constants.JobTransform, noop)
	q.Start(context.Background())

	var ids []string
	for range 3 {
		id, err := q.AddJob(transformSpec(constants.PriorityMedium))
		require.NoError(t, err)
		waitState(t, q, id, constants.JobCompleted)
		ids = append(ids, id)
	}

	_, ok := q.GetJobStatus(ids[0])
	assert.False(t, ok)
	_, ok = q.GetJobStatus(ids[2])
	assert.True(t, ok)
	assert.Equal(t, 3, q.GetMetrics().CompletedJobs)
}

func TestShutdown(t *testing.T) {
	t.Run("waits for running jobs", func(t *testing.T) {
		q := New(nil, WithTickInterval(5*time.Millisecond))
		var finished atomic.Bool
		q.Register(constants.JobTransform, func(context.Context, *Job) (float64, error) {
			time.Sleep(30 * time.Millisecond)
			finished.Store(true)
			return 0, nil
		})
		q.Start(context.Background())
		id, err := q.AddJob(transformSpec(constants.PriorityHigh))
		require.NoError(t, err)
		waitState(t, q, id, constants.JobRunning)

		require.NoError(t, q.Shutdown(context.Background()))
		assert.True(t, finished.Load())
	})

	t.Run("context expiry cancels running jobs", func(t *testing.T) {
		q := New(nil, WithTickInterval(5*time.Millisecond))
		h := newBlockingHandler()
		q.Register(constants.JobOCR, h.Handle)
		q.Start(context.Background())
		id, err := q.AddJob(ocrSpec(1))
		require.NoError(t, err)
		waitState(t, q, id, constants.JobRunning)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err = q.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		j, _ := q.GetJobStatus(id)
		assert.Equal(t, constants.JobFailed, j.State)
	})

	t.Run("closes subscribers", func(t *testing.T) {
		q := New(nil)
		events, _ := q.Subscribe(1)
		require.NoError(t, q.Shutdown(context.Background()))
		_, open := <-events
		assert.False(t, open)
	})
}

func TestLinearCostModel(t *testing.T) {
	tests := []struct {
		jobType constants.JobType
		size    int64
		seconds float64
		want    float64
	}{
		{constants.JobOCR, 0, 0, 0.01},
		{constants.JobOCR, 2 * bytesPerMB, 10, 0.01 + 0.01 + 0.02},
		{constants.JobTransform, 4 * bytesPerMB, 100, 0.005 + 0.004},
		{constants.JobCompress, 50 * bytesPerMB, 3, 0.001},
		{constants.JobStorage, 1, 1, 0.001},
		{constants.JobOCR, -10, -1, 0.01},
		{"unknown", 10, 10, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.jobType), func(t *testing.T) {
			assert.InDelta(t, tt.want, DefaultCostModel.Estimate(tt.jobType, tt.size, tt.seconds), 1e-9)
		})
	}
}

func TestCostLedgerWindow(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	start := time.Date(2026, 10, 16, 8, 0, 0, 0, tokyo)
	l := newCostLedger(start)

	l.record(start, 3)
	assert.False(t, l.resetIfWindowElapsed(start.Add(15*time.Hour)))
	assert.InDelta(t, 3, l.spent, 1e-9)

	assert.True(t, l.resetIfWindowElapsed(start.Add(16*time.Hour)))
	assert.Zero(t, l.spent)
	assert.InDelta(t, 3, l.total, 1e-9)

	l.reserve(0.5)
	assert.True(t, l.canAdmit(0.5, 1))
	assert.False(t, l.canAdmit(0.6, 1))
	l.release(0.5)
	assert.True(t, l.canAdmit(1, 1))
}
