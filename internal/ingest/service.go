package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
	"github.com/joseph-ayodele/evidence-pipeline/internal/extract"
	"github.com/joseph-ayodele/evidence-pipeline/internal/repository"
	"github.com/joseph-ayodele/evidence-pipeline/internal/security"
	"github.com/joseph-ayodele/evidence-pipeline/internal/storage"
	"github.com/joseph-ayodele/evidence-pipeline/internal/transform"
)

// Config tunes the ingest pipeline.
type Config struct {
	ScanOptions      security.ScanOptions
	DeferCompression bool
	QualityThreshold float64
	Retention        time.Duration
	JobMaxRetries    int
	Now              func() time.Time
}

// Deps are the collaborators of the pipeline. Fetcher and Queue may be nil.
type Deps struct {
	Scanner     Scanner
	Extractor   Extractor
	Transformer Transformer
	Repo        repository.EvidenceRepository
	Blobs       BlobStore
	Fetcher     extract.Fetcher
	Queue       Enqueuer
}

// UploadOptions tunes a single upload.
type UploadOptions struct {
	Source  constants.EvidenceSource
	Scan    *security.ScanOptions
	Process extract.ProcessOptions
}

// Service orchestrates scan, extraction, raw retention, persistence and structuring.
type Service struct {
	cfg         Config
	scanner     Scanner
	extractor   Extractor
	transformer Transformer
	repo        repository.EvidenceRepository
	blobs       BlobStore
	fetcher     extract.Fetcher
	queue       Enqueuer
	logger      *slog.Logger
}

func NewService(cfg Config, deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = transform.DefaultCaveatThreshold
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		cfg:         cfg,
		scanner:     deps.Scanner,
		extractor:   deps.Extractor,
		transformer: deps.Transformer,
		repo:        deps.Repo,
		blobs:       deps.Blobs,
		fetcher:     deps.Fetcher,
		queue:       deps.Queue,
		logger:      logger,
	}
}

// declaredMIME fills in a MIME type when the caller gave none (or a generic one) and the
// extension does not identify the file either; the content is sniffed in that case.
func declaredMIME(data []byte, filename, mimeType string) string {
	if !constants.IsGenericMIME(mimeType) {
		return mimeType
	}
	ext := filepath.Ext(filename)
	if constants.MapExtToType(ext) != constants.UNKNOWN {
		return constants.MIMEForExt(ext)
	}
	return mimetype.Detect(data).String()
}

// Upload runs the full pipeline for one file. A file that fails the security scan is
// rejected with *common.SecurityRejection and nothing is persisted. Malformed input (unknown
// type, empty CSV) returns the validation error, also persisting nothing. An extraction
// failure persists a FAILED record and returns the extraction error.
func (s *Service) Upload(ctx context.Context, data []byte, filename, mimeType string, opts UploadOptions) (*entity.Evidence, error) {
	if opts.Source == "" {
		opts.Source = constants.SourceUpload
	}
	logger := common.LoggerFromContext(ctx, s.logger).With("filename", filename)
	mimeType = declaredMIME(data, filename, mimeType)

	scanOpts := s.cfg.ScanOptions
	if opts.Scan != nil {
		scanOpts = *opts.Scan
	}
	scan, err := s.scanner.ScanFile(ctx, data, filename, mimeType, scanOpts)
	if err != nil {
		return nil, err
	}
	if !scan.IsSafe {
		logger.Warn("upload rejected by security scan", "violations", scan.Violations())
		return nil, &common.SecurityRejection{Filename: filename, Violations: scan.Violations()}
	}

	ev, extractErr := s.extractor.ProcessFile(ctx, data, filename, mimeType, opts.Source, opts.Process)
	if errors.Is(extractErr, common.ErrValidation) {
		logger.Info("upload rejected", "error", extractErr)
		return nil, extractErr
	}
	if extractErr != nil {
		failed := s.failedRecord(filename, mimeType, opts.Source, opts.Process, extractErr)
		logger = common.LoggerFromContext(common.WithEvidenceID(ctx, failed.ID.String()), s.logger).With("filename", filename)
		failed.Metadata.SecurityScan = &scan
		failed.Metadata.SourceURL = opts.Process.BaseURL
		if obj, err := s.blobs.StoreRaw(ctx, data, mimeType); err != nil {
			logger.Warn("failed to retain raw bytes of failed upload", "error", err)
		} else {
			failed.Metadata.StorageKey = obj.Key
			failed.Metadata.Checksum = obj.Checksum
		}
		if err := s.repo.Save(ctx, failed); err != nil {
			logger.Error("failed to persist failed evidence", "error", err)
			return nil, errors.Join(extractErr, err)
		}
		logger.Warn("extraction failed, recorded as FAILED", "error", extractErr)
		return nil, extractErr
	}

	ctx = common.WithEvidenceID(ctx, ev.ID.String())
	logger = common.LoggerFromContext(ctx, s.logger).With("filename", filename)
	obj, err := s.retain(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	ev.Metadata.SecurityScan = &scan
	ev.Metadata.StorageKey = obj.Key
	ev.Metadata.Compression = obj.Compression()
	ev.Metadata.SourceURL = opts.Process.BaseURL

	if err := s.repo.Save(ctx, ev); err != nil {
		if !obj.Deduplicated {
			if derr := s.blobs.Delete(ctx, obj.Key); derr != nil {
				logger.Warn("failed to remove blob of unsaved evidence", "storage_key", obj.Key, "error", derr)
			}
		}
		return nil, err
	}
	logger.Info("evidence stored",
		"type", ev.Type,
		"quality", ev.QualityScore,
		"storage_key", obj.Key,
		"deduplicated", obj.Deduplicated)

	if s.cfg.DeferCompression && !obj.Compressed && !obj.Deduplicated {
		if _, err := s.EnqueueCompress(ctx, ev.ID); err != nil {
			logger.Warn("failed to enqueue compression", "error", err)
		}
	}
	return ev, nil
}

func (s *Service) retain(ctx context.Context, data []byte, mimeType string) (storage.StoredObject, error) {
	if s.cfg.DeferCompression {
		return s.blobs.StoreRaw(ctx, data, mimeType)
	}
	return s.blobs.Store(ctx, data, mimeType)
}

func (s *Service) failedRecord(filename, mimeType string, source constants.EvidenceSource, opts extract.ProcessOptions, cause error) *entity.Evidence {
	typ := opts.ForceType
	if typ == "" {
		typ = extract.DetectEvidenceType(filename, mimeType)
	}
	now := s.cfg.Now().UTC()
	return &entity.Evidence{
		ID:        uuid.New(),
		Type:      typ,
		Source:    source,
		Filename:  filename,
		MimeType:  mimeType,
		Status:    constants.StatusFailed,
		Content:   entity.Content{Error: cause.Error()},
		Metadata:  entity.Metadata{Error: cause.Error()},
		CreatedAt: now,
	}
}

// ImportFromURL fetches a remote document and uploads it with source URL_FETCH.
// Fetch failures (including non-2xx responses) persist nothing.
func (s *Service) ImportFromURL(ctx context.Context, rawURL string, opts UploadOptions) (*entity.Evidence, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("url import is not configured: %w", common.ErrInvalidInput)
	}
	res, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		s.logger.Warn("url import failed", "url", rawURL, "error", err)
		return nil, err
	}
	opts.Source = constants.SourceURLFetch
	if opts.Process.BaseURL == "" {
		opts.Process.BaseURL = res.URL
	}
	return s.Upload(ctx, res.Body, filenameFromURL(res.URL), res.ContentType, opts)
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "document.html"
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return u.Hostname() + ".html"
	}
	return base
}

// Get returns a live record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.Evidence, error) {
	return s.repo.Find(ctx, id)
}

// List pages through live records (or all records with IncludeDeleted).
func (s *Service) List(ctx context.Context, filter repository.Filter, page repository.Page) ([]*entity.Evidence, int, error) {
	return s.repo.List(ctx, filter, page)
}

// Delete soft-deletes a record. Its raw bytes stay until retention cleanup.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SoftDelete(ctx, id, s.cfg.Now().UTC()); err != nil {
		return err
	}
	s.logger.Info("evidence deleted", "evidence_id", id)
	return nil
}

// ReprocessOptions tunes a reprocessing pass.
type ReprocessOptions struct {
	Process extract.ProcessOptions
}

// Reprocess re-runs extraction on the retained raw bytes and replaces content wholesale.
// A failing pass marks the record FAILED and returns the extraction error.
func (s *Service) Reprocess(ctx context.Context, id uuid.UUID, opts ReprocessOptions) (*entity.Evidence, error) {
	ctx = common.WithEvidenceID(ctx, id.String())
	logger := common.LoggerFromContext(ctx, s.logger)
	ev, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Metadata.StorageKey == "" {
		return nil, common.NewValidationError("evidence_id", "raw bytes were not retained for this evidence")
	}
	data, err := s.blobs.Load(ctx, ev.Metadata.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load raw bytes: %w", err)
	}

	popts := opts.Process
	if popts.BaseURL == "" {
		popts.BaseURL = ev.Metadata.SourceURL
	}
	if popts.ForceType == "" && ev.Type != constants.UNKNOWN {
		popts.ForceType = ev.Type
	}

	fresh, extractErr := s.extractor.ProcessFile(ctx, data, ev.Filename, ev.MimeType, ev.Source, popts)
	if extractErr != nil {
		md := ev.Metadata
		md.Error = extractErr.Error()
		md.Structured = nil
		status := constants.StatusFailed
		content := entity.Content{Error: extractErr.Error()}
		if _, err := s.repo.Update(ctx, id, repository.Patch{Status: &status, Content: &content, Metadata: metadataPatch(md)}); err != nil {
			return nil, errors.Join(extractErr, err)
		}
		logger.Warn("reprocessing failed, marked FAILED", "error", extractErr)
		return nil, extractErr
	}

	md := fresh.Metadata
	md.SecurityScan = ev.Metadata.SecurityScan
	md.StorageKey = ev.Metadata.StorageKey
	md.Compression = ev.Metadata.Compression
	md.SourceURL = ev.Metadata.SourceURL

	status := constants.StatusCompleted
	updated, err := s.repo.Update(ctx, id, repository.Patch{
		Type:         &fresh.Type,
		Size:         &fresh.Size,
		Status:       &status,
		QualityScore: &fresh.QualityScore,
		Content:      &fresh.Content,
		Metadata:     metadataPatch(md),
		ProcessedAt:  fresh.ProcessedAt,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("evidence reprocessed", "quality", updated.QualityScore, "method", md.ExtractionMethod)
	return updated, nil
}

// metadataPatch drops overlays so a wholesale metadata write never clobbers overlays
// recorded concurrently by queue events.
func metadataPatch(md entity.Metadata) *entity.Metadata {
	md.JobOverlays = nil
	return &md
}

// StructureOptions tunes a structuring pass.
type StructureOptions struct {
	SourceHint string
	// Threshold > 0 regenerates with timestamped caveats below it.
	Threshold float64
}

// Structure builds footnoted tables from a record's content and caches them in its metadata.
func (s *Service) Structure(ctx context.Context, id uuid.UUID, opts StructureOptions) (*entity.StructuredBundle, error) {
	ev, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status != constants.StatusCompleted {
		return nil, common.NewValidationError("evidence_id", fmt.Sprintf("evidence is %s, not COMPLETED", ev.Status))
	}

	hint := opts.SourceHint
	if hint == "" {
		hint = ev.Metadata.SourceURL
	}
	if hint == "" {
		hint = ev.Filename
	}

	now := s.cfg.Now().UTC()
	var tables []entity.TransformedTable
	if opts.Threshold > 0 {
		tables = s.transformer.Regenerate(ev.Content, ev.QualityScore, hint, opts.Threshold, now)
	} else {
		tables = s.transformer.TransformToTables(ev.Content, ev.QualityScore, hint)
	}
	bundle := transform.Bundle(tables, now)

	md := ev.Metadata
	md.Structured = bundle
	if _, err := s.repo.Update(ctx, id, repository.Patch{Metadata: metadataPatch(md)}); err != nil {
		return nil, err
	}
	s.logger.Info("evidence structured", "evidence_id", id, "tables", len(bundle.Tables), "quality", bundle.QualityScore)
	return bundle, nil
}

// CompressStored compresses a record's retained raw bytes and records the result.
func (s *Service) CompressStored(ctx context.Context, id uuid.UUID) (storage.StoredObject, error) {
	ev, err := s.repo.Find(ctx, id)
	if err != nil {
		return storage.StoredObject{}, err
	}
	if ev.Metadata.StorageKey == "" {
		return storage.StoredObject{}, common.NewValidationError("evidence_id", "no retained bytes to compress")
	}
	obj, err := s.blobs.Compress(ctx, ev.Metadata.StorageKey)
	if err != nil {
		return storage.StoredObject{}, err
	}
	if obj.Compressed {
		md := ev.Metadata
		info := obj.Compression()
		if prev := ev.Metadata.Compression; prev != nil {
			info.Deduplicated = prev.Deduplicated
		}
		md.Compression = info
		if _, err := s.repo.Update(ctx, id, repository.Patch{Metadata: metadataPatch(md)}); err != nil {
			return storage.StoredObject{}, err
		}
	}
	return obj, nil
}

// PurgeEvidence hard-deletes one soft-deleted record and its blob when nothing else uses it.
func (s *Service) PurgeEvidence(ctx context.Context, id uuid.UUID) error {
	ev, err := s.repo.FindIncludingDeleted(ctx, id)
	if err != nil {
		return err
	}
	if !ev.IsDeleted() {
		return common.NewValidationError("evidence_id", "only deleted evidence can be purged")
	}
	if err := s.repo.Purge(ctx, id); err != nil {
		return err
	}
	key := ev.Metadata.StorageKey
	if key == "" {
		return nil
	}
	inUse, err := s.repo.StorageKeyInUse(ctx, key)
	if err != nil {
		return err
	}
	if !inUse {
		if err := s.blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete blob %s: %w", key, err)
		}
	}
	s.logger.Info("evidence purged", "evidence_id", id, "blob_deleted", !inUse)
	return nil
}

// Cleanup runs retention cleanup with the configured (or given) retention.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (storage.CleanupReport, error) {
	if retention <= 0 {
		retention = s.cfg.Retention
	}
	return s.blobs.Cleanup(ctx, retention, s.cfg.Now().UTC())
}

func normalizeLanguages(langs []string) []string {
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
