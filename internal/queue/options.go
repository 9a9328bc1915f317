package queue

import (
	"time"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
)

type Option func(*Queue)

func WithMaxConcurrent(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxConcurrent = n
		}
	}
}

// WithTypeLimit caps concurrently running jobs of one type.
func WithTypeLimit(t constants.JobType, n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.typeLimits[t] = n
		}
	}
}

// WithDailyCostLimit sets the spend ceiling for one calendar day.
func WithDailyCostLimit(limit float64) Option {
	return func(q *Queue) {
		if limit > 0 {
			q.dailyCostLimit = limit
		}
	}
}

func WithHistorySize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.historySize = n
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.tick = d
		}
	}
}

// WithJobTimeout sets the timeout for jobs submitted without one.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.jobTimeout = d
		}
	}
}

// WithClock replaces time.Now for timestamps and the cost window.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func WithCostModel(m CostModel) Option {
	return func(q *Queue) {
		if m != nil {
			q.costModel = m
		}
	}
}
