package constants

import (
	"strings"
)

// JobType names a kind of background work routed through the processing queue.
type JobType string

const (
	JobOCR       JobType = "ocr"
	JobTransform JobType = "transform"
	JobCompress  JobType = "compress"
	JobStorage   JobType = "storage"
)

var allJobTypes = []JobType{JobOCR, JobTransform, JobCompress, JobStorage}

// JobTypes returns every known job type.
func JobTypes() []JobType {
	out := make([]JobType, len(allJobTypes))
	copy(out, allJobTypes)
	return out
}

// JobPriority orders pending jobs; lower Rank runs first.
type JobPriority string

const (
	PriorityHigh   JobPriority = "high"
	PriorityMedium JobPriority = "medium"
	PriorityLow    JobPriority = "low"
)

// Rank returns the sort rank of the priority, or -1 if it is unknown.
func (p JobPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return -1
}

// ParseJobType canonicalizes user input ("OCR", " transform ") into a JobType.
func ParseJobType(input string) (JobType, bool) {
	normalized := JobType(strings.ToLower(strings.TrimSpace(input)))
	for _, t := range allJobTypes {
		if t == normalized {
			return t, true
		}
	}
	return "", false
}

// ParseJobPriority canonicalizes a priority string; empty input means medium.
func ParseJobPriority(input string) (JobPriority, bool) {
	normalized := JobPriority(strings.ToLower(strings.TrimSpace(input)))
	if normalized == "" {
		return PriorityMedium, true
	}
	if normalized.Rank() < 0 {
		return "", false
	}
	return normalized, true
}
