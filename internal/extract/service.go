package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
	"github.com/joseph-ayodele/evidence-pipeline/internal/ocr"
	"github.com/joseph-ayodele/evidence-pipeline/internal/queue"
)

// OCR is the part of the OCR engine the extractor needs.
type OCR interface {
	ExtractTextFromImage(ctx context.Context, data []byte, opts ocr.Options) (entity.OCRResult, error)
	ExtractTextFromPDF(ctx context.Context, pdf []byte, opts ocr.Options, maxConcurrency int) ([]entity.OCRResult, error)
}

// ProcessOptions tunes one extraction.
type ProcessOptions struct {
	DisableOCR     bool
	OCRLanguages   []string
	SkipPreprocess bool
	BaseURL        string // resolves relative <img src> in HTML
	ForceType      constants.EvidenceType
}

type Config struct {
	MinPDFTextChars int
	MaxEntities     int
	OCRConcurrency  int
	EntityPatterns  []EntityPattern
	CostModel       queue.CostModel
	Now             func() time.Time
}

// Service turns raw bytes into an Evidence record.
type Service struct {
	cfg        Config
	ocr        OCR
	strategies map[constants.EvidenceType]strategy
	logger     *slog.Logger
}

type input struct {
	data     []byte
	filename string
	mimeType string
	opts     ProcessOptions
}

func (in input) ocrOptions() ocr.Options {
	return ocr.Options{Languages: in.opts.OCRLanguages, PreprocessImage: !in.opts.SkipPreprocess}
}

// extraction is what a strategy produces before the shared bookkeeping is applied.
type extraction struct {
	content  entity.Content
	quality  float64
	method   string
	usedOCR  bool
	warnings []string
}

type strategy func(ctx context.Context, in input) (extraction, error)

// NewService builds an extractor. ocrEngine may be nil, which disables OCR.
func NewService(cfg Config, ocrEngine OCR, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinPDFTextChars <= 0 {
		cfg.MinPDFTextChars = 50
	}
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = 500
	}
	if cfg.OCRConcurrency <= 0 {
		cfg.OCRConcurrency = 2
	}
	if cfg.EntityPatterns == nil {
		cfg.EntityPatterns = DefaultEntityPatterns
	}
	if cfg.CostModel == nil {
		cfg.CostModel = queue.DefaultCostModel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Service{cfg: cfg, ocr: ocrEngine, logger: logger}
	s.strategies = map[constants.EvidenceType]strategy{
		constants.CSV:   s.extractCSV,
		constants.EXCEL: s.extractExcel,
		constants.PDF:   s.extractPDF,
		constants.IMAGE: s.extractImage,
		constants.URL:   s.extractHTML,
		constants.TEXT:  s.extractText,
	}
	return s
}

// DetectEvidenceType is the package-level DetectEvidenceType.
func (s *Service) DetectEvidenceType(filename, mimeType string) constants.EvidenceType {
	return DetectEvidenceType(filename, mimeType)
}

// ProcessFile extracts data into a COMPLETED Evidence. Strategy failures come back as
// *common.ExtractionError; malformed input (unknown type, empty CSV) as a validation error.
func (s *Service) ProcessFile(ctx context.Context, data []byte, filename, mimeType string, source constants.EvidenceSource, opts ProcessOptions) (*entity.Evidence, error) {
	start := s.cfg.Now()
	typ := opts.ForceType
	if typ == "" {
		typ = DetectEvidenceType(filename, mimeType)
	}
	run, ok := s.strategies[typ]
	if !ok {
		return nil, common.NewValidationError("type", fmt.Sprintf("unsupported evidence type for %q (%s)", filename, mimeType))
	}
	logger := common.LoggerFromContext(ctx, s.logger).With("filename", filename, "type", typ)

	ex, err := run(ctx, input{data: data, filename: filename, mimeType: mimeType, opts: opts})
	if err != nil {
		var vErr common.ValidationError
		if errors.As(err, &vErr) {
			return nil, err
		}
		logger.Error("extraction failed", "error", err)
		return nil, &common.ExtractionError{Type: string(typ), Cause: err}
	}

	ex.content.Structured = detectStructured(ex.content.Text, s.cfg.EntityPatterns, s.cfg.MaxEntities)

	now := s.cfg.Now()
	elapsed := now.Sub(start)
	sum := sha256.Sum256(data)
	jobType := constants.JobTransform
	if ex.usedOCR {
		jobType = constants.JobOCR
	}
	ev := &entity.Evidence{
		ID:           uuid.New(),
		Type:         typ,
		Source:       source,
		Filename:     filename,
		MimeType:     mimeType,
		Size:         int64(len(data)),
		Status:       constants.StatusCompleted,
		QualityScore: clamp01(ex.quality),
		Content:      ex.content,
		Metadata: entity.Metadata{
			ProcessingTime:   elapsed,
			ExtractedAt:      &now,
			Language:         detectLanguage(ex.content.Text),
			Checksum:         hex.EncodeToString(sum[:]),
			CostEstimate:     s.cfg.CostModel.Estimate(jobType, int64(len(data)), elapsed.Seconds()),
			ExtractionMethod: methodOr(ex.method, typ),
			Warnings:         ex.warnings,
		},
		CreatedAt:   now,
		ProcessedAt: &now,
	}
	logger.Info("extraction complete",
		"method", ev.Metadata.ExtractionMethod,
		"quality", ev.QualityScore,
		"tables", len(ev.Content.Tables),
		"entities", len(ev.Content.Structured.Entities),
		"duration_ms", elapsed.Milliseconds())
	return ev, nil
}

func methodOr(method string, typ constants.EvidenceType) string {
	if method != "" {
		return method
	}
	return "native-" + string(typ)
}

func clamp01(f float64) float64 {
	return min(max(f, 0), 1)
}
