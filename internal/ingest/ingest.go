package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
	"github.com/joseph-ayodele/evidence-pipeline/internal/extract"
	"github.com/joseph-ayodele/evidence-pipeline/internal/queue"
	"github.com/joseph-ayodele/evidence-pipeline/internal/security"
	"github.com/joseph-ayodele/evidence-pipeline/internal/storage"
)

// Scanner screens raw bytes before extraction.
type Scanner interface {
	ScanFile(ctx context.Context, data []byte, filename, declaredMIME string, opts security.ScanOptions) (entity.SecurityScanResult, error)
}

// Extractor turns raw bytes into an Evidence record.
type Extractor interface {
	ProcessFile(ctx context.Context, data []byte, filename, mimeType string, source constants.EvidenceSource, opts extract.ProcessOptions) (*entity.Evidence, error)
}

// Transformer structures extracted content into footnoted tables.
type Transformer interface {
	TransformToTables(content entity.Content, qualityScore float64, sourceHint string) []entity.TransformedTable
	Regenerate(content entity.Content, qualityScore float64, sourceHint string, threshold float64, now time.Time) []entity.TransformedTable
}

// BlobStore retains raw uploads.
type BlobStore interface {
	Store(ctx context.Context, data []byte, contentType string) (storage.StoredObject, error)
	StoreRaw(ctx context.Context, data []byte, contentType string) (storage.StoredObject, error)
	Load(ctx context.Context, key string) ([]byte, error)
	Compress(ctx context.Context, key string) (storage.StoredObject, error)
	Delete(ctx context.Context, key string) error
	Cleanup(ctx context.Context, retention time.Duration, now time.Time) (storage.CleanupReport, error)
}

// Enqueuer accepts background jobs.
type Enqueuer interface {
	AddJob(spec queue.JobSpec) (string, error)
}

// HandlerRegistry is where job handlers are installed.
type HandlerRegistry interface {
	Register(t constants.JobType, h queue.Handler)
}

// Uploader is the entry point used by directory ingestion and the watcher.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, mimeType string, opts UploadOptions) (*entity.Evidence, error)
}

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string
	EvidenceID   uuid.UUID
	Type         constants.EvidenceType
	Status       constants.EvidenceStatus
	Deduplicated bool
	Checksum     string
	Size         int64
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Rejected     uint32
	Failed       uint32
}
