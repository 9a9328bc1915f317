package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
)

// Job is one unit of background work. The queue owns it; callers only see copies.
type Job struct {
	ID            string                `json:"id"`
	Type          constants.JobType     `json:"type"`
	Priority      constants.JobPriority `json:"priority"`
	Payload       json.RawMessage       `json:"payload"`
	Retries       int                   `json:"retries"`
	MaxRetries    int                   `json:"max_retries"`
	Timeout       time.Duration         `json:"timeout"`
	EstimatedCost float64               `json:"estimated_cost"`
	ActualCost    float64               `json:"actual_cost"`
	CreatedAt     time.Time             `json:"created_at"`
	StartedAt     *time.Time            `json:"started_at,omitempty"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
	LastError     string                `json:"last_error,omitempty"`
	State         constants.JobState    `json:"state"`

	seq uint64 // arrival order, kept across retries
}

func (j *Job) clone() *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// JobSpec describes a job to enqueue. Payload may be json.RawMessage, []byte, or any
// JSON-marshalable value. Timeout 0 uses the queue default; EstimatedCost 0 asks the cost model.
type JobSpec struct {
	Type          constants.JobType
	Priority      constants.JobPriority
	Payload       any
	MaxRetries    int
	Timeout       time.Duration
	EstimatedCost float64
}

// Handler runs a job. It returns the actual cost; 0 lets the cost model price the run.
type Handler func(ctx context.Context, job *Job) (actualCost float64, err error)

// Metrics is a point-in-time view of the queue.
type Metrics struct {
	TotalJobs         int           `json:"total_jobs"`
	PendingJobs       int           `json:"pending_jobs"`
	RunningJobs       int           `json:"running_jobs"`
	CompletedJobs     int           `json:"completed_jobs"`
	FailedJobs        int           `json:"failed_jobs"`
	TotalCost         float64       `json:"total_cost"`
	CostToday         float64       `json:"cost_today"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	QueueWaitTime     time.Duration `json:"queue_wait_time"`
}

// EventType names a job lifecycle transition.
type EventType string

const (
	EventAdded     EventType = "added"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
)

// Event is delivered to subscribers. Job is a snapshot taken at the transition.
type Event struct {
	Type EventType
	Job  Job
	At   time.Time
}
