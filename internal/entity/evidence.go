package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
)

// Evidence represents an ingested document for data transfer between layers.
// Content and Metadata are values so a stored record always carries both.
type Evidence struct {
	ID           uuid.UUID                `json:"id"`
	Type         constants.EvidenceType   `json:"type"`
	Source       constants.EvidenceSource `json:"source"`
	Filename     string                   `json:"filename"`
	MimeType     string                   `json:"mime_type"`
	Size         int64                    `json:"size"`
	Status       constants.EvidenceStatus `json:"status"`
	QualityScore float64                  `json:"quality_score"`
	Content      Content                  `json:"content"`
	Metadata     Metadata                 `json:"metadata"`
	CreatedAt    time.Time                `json:"created_at"`
	ProcessedAt  *time.Time               `json:"processed_at,omitempty"`
	DeletedAt    *time.Time               `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the record was soft-deleted.
func (e *Evidence) IsDeleted() bool { return e.DeletedAt != nil }

// Content is everything extracted from the raw bytes.
type Content struct {
	Text       string         `json:"text"`
	Tables     []Table        `json:"tables,omitempty"`
	Images     []ImageRef     `json:"images,omitempty"`
	OCRResults []OCRResult    `json:"ocr_results,omitempty"`
	Structured StructuredData `json:"structured"`
	Error      string         `json:"error,omitempty"`
}

// ImageRef is an image found in a document (absolute URL for HTML, dimensions for uploads).
type ImageRef struct {
	Src    string `json:"src,omitempty"`
	Alt    string `json:"alt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// OCRResult is the recognition output for one image or PDF page.
type OCRResult struct {
	Text           string        `json:"text"`
	Confidence     float64       `json:"confidence"`
	Words          []OCRWord     `json:"words,omitempty"`
	Languages      []string      `json:"languages,omitempty"`
	Page           int           `json:"page,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// OCRWord is a recognized word with its bounding box in pixels.
type OCRWord struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Left       int     `json:"left"`
	Top        int     `json:"top"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// EntityKind classifies a structured entity match.
type EntityKind string

const (
	EntityAmount     EntityKind = "amount"
	EntityPercentage EntityKind = "percentage"
	EntityDate       EntityKind = "date"
	EntityCompany    EntityKind = "company"
)

// Entity is a structured value found in extracted text.
type Entity struct {
	Kind   EntityKind `json:"kind"`
	Value  string     `json:"value"`
	Raw    string     `json:"raw"`
	Offset int        `json:"offset"`
}

// StructuredData groups detected entities by the bucket they feed.
type StructuredData struct {
	MarketData     []Entity `json:"market_data,omitempty"`
	CompetitorData []Entity `json:"competitor_data,omitempty"`
	Entities       []Entity `json:"entities,omitempty"`
}

// Metadata is processing bookkeeping attached to an Evidence record.
type Metadata struct {
	ProcessingTime   time.Duration         `json:"processing_time"`
	ExtractedAt      *time.Time            `json:"extracted_at,omitempty"`
	ExtractionMethod string                `json:"extraction_method,omitempty"`
	Language         string                `json:"language,omitempty"`
	Checksum         string                `json:"checksum,omitempty"`
	CostEstimate     float64               `json:"cost_estimate"`
	SecurityScan     *SecurityScanResult   `json:"security_scan,omitempty"`
	Structured       *StructuredBundle     `json:"structured,omitempty"`
	StorageKey       string                `json:"storage_key,omitempty"`
	SourceURL        string                `json:"source_url,omitempty"`
	Compression      *CompressionInfo      `json:"compression,omitempty"`
	JobOverlays      map[string]JobOverlay `json:"job_overlays,omitempty"`
	Warnings         []string              `json:"warnings,omitempty"`
	Error            string                `json:"error,omitempty"`
}

// JobOverlay is the last known queue state of a job that worked on the record, keyed by job type.
type JobOverlay struct {
	JobID     string             `json:"job_id"`
	State     constants.JobState `json:"state"`
	Cost      float64            `json:"cost"`
	Error     string             `json:"error,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// CompressionInfo describes how the raw bytes were stored.
type CompressionInfo struct {
	Algorithm    string  `json:"algorithm"`
	OriginalSize int64   `json:"original_size"`
	StoredSize   int64   `json:"stored_size"`
	Ratio        float64 `json:"ratio"`
	Deduplicated bool    `json:"deduplicated"`
}

// SecurityScanResult is the verdict of the security scanner.
type SecurityScanResult struct {
	IsSafe             bool      `json:"is_safe"`
	VirusFound         bool      `json:"virus_found"`
	MalwareSignatures  []string  `json:"malware_signatures,omitempty"`
	SuspiciousPatterns []string  `json:"suspicious_patterns,omitempty"`
	FileSignatureValid bool      `json:"file_signature_valid"`
	SizeViolation      bool      `json:"size_violation"`
	ScannedAt          time.Time `json:"scanned_at"`
	ScanEngine         string    `json:"scan_engine"`
}

// ComputeSafe derives IsSafe from the individual checks.
func (r *SecurityScanResult) ComputeSafe() bool {
	r.IsSafe = r.FileSignatureValid && !r.VirusFound && len(r.SuspiciousPatterns) == 0 && !r.SizeViolation
	return r.IsSafe
}

// Violations names every failed check, in a stable order.
func (r SecurityScanResult) Violations() []string {
	var out []string
	if r.SizeViolation {
		out = append(out, "size-limit-exceeded")
	}
	if !r.FileSignatureValid {
		out = append(out, "file-signature-mismatch")
	}
	if r.VirusFound {
		out = append(out, "virus-detected")
	}
	out = append(out, r.SuspiciousPatterns...)
	return out
}
