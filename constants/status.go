package constants

// EvidenceStatus is the canonical status for evidence rows.
type EvidenceStatus string

// Stable values (store these exact strings in DB).
const (
	StatusPending   EvidenceStatus = "PENDING"   // accepted, extraction not finished
	StatusCompleted EvidenceStatus = "COMPLETED" // content extracted
	StatusFailed    EvidenceStatus = "FAILED"    // terminal failure, see Content.Error
)

// EvidenceSource records how the evidence entered the system.
type EvidenceSource string

const (
	SourceUpload   EvidenceSource = "UPLOAD"
	SourceURLFetch EvidenceSource = "URL_FETCH"
)

// JobState is the lifecycle state of a queued processing job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)
