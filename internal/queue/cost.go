package queue

import (
	"time"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
)

// CostModel prices a job from its input size and (expected or measured) run time.
type CostModel interface {
	Estimate(jobType constants.JobType, sizeBytes int64, seconds float64) float64
}

// LinearCostModel charges Base + PerMB*MB + PerSecond*seconds per job type.
type LinearCostModel map[constants.JobType]LinearRate

// LinearRate is one job type's pricing.
type LinearRate struct {
	Base      float64
	PerMB     float64
	PerSecond float64
}

// DefaultCostModel is the pricing used when no model is configured.
var DefaultCostModel CostModel = LinearCostModel{
	constants.JobOCR:       {Base: 0.01, PerMB: 0.005, PerSecond: 0.002},
	constants.JobTransform: {Base: 0.005, PerMB: 0.001},
	constants.JobCompress:  {Base: 0.001},
	constants.JobStorage:   {Base: 0.001},
}

const bytesPerMB = 1024 * 1024

func (m LinearCostModel) Estimate(jobType constants.JobType, sizeBytes int64, seconds float64) float64 {
	r, ok := m[jobType]
	if !ok {
		return 0
	}
	if sizeBytes < 0 {
		sizeBytes = 0
	}
	if seconds < 0 {
		seconds = 0
	}
	return r.Base + r.PerMB*float64(sizeBytes)/bytesPerMB + r.PerSecond*seconds
}

// costLedger tracks spend for the current calendar day in loc.
// reserved holds estimates of running jobs so concurrent admissions cannot all pass the same check.
type costLedger struct {
	loc         *time.Location
	windowStart time.Time
	spent       float64
	reserved    float64
	total       float64
}

func newCostLedger(now time.Time) *costLedger {
	l := &costLedger{loc: now.Location()}
	l.windowStart = startOfDay(now, l.loc)
	return l
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// resetIfWindowElapsed starts a new window once now has crossed midnight.
func (l *costLedger) resetIfWindowElapsed(now time.Time) bool {
	start := startOfDay(now, l.loc)
	if !start.After(l.windowStart) {
		return false
	}
	l.windowStart = start
	l.spent = 0
	return true
}

func (l *costLedger) canAdmit(estimate, limit float64) bool {
	return l.spent+l.reserved+estimate <= limit
}

func (l *costLedger) reserve(estimate float64) { l.reserved += estimate }

func (l *costLedger) release(estimate float64) {
	l.reserved -= estimate
	if l.reserved < 0 {
		l.reserved = 0
	}
}

func (l *costLedger) record(now time.Time, cost float64) {
	l.resetIfWindowElapsed(now)
	l.spent += cost
	l.total += cost
}
