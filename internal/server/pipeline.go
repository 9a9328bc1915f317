package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/export"
	"github.com/joseph-ayodele/evidence-pipeline/internal/extract"
	"github.com/joseph-ayodele/evidence-pipeline/internal/ingest"
	"github.com/joseph-ayodele/evidence-pipeline/internal/ocr"
	"github.com/joseph-ayodele/evidence-pipeline/internal/queue"
	repo "github.com/joseph-ayodele/evidence-pipeline/internal/repository"
	"github.com/joseph-ayodele/evidence-pipeline/internal/security"
	"github.com/joseph-ayodele/evidence-pipeline/internal/storage"
	"github.com/joseph-ayodele/evidence-pipeline/internal/transform"
)

// Pipeline is every long-lived component of the evidence pipeline, wired from one Config.
type Pipeline struct {
	DB        *repo.DB
	Repo      repo.EvidenceRepository
	Blobs     *storage.Optimizer
	Queue     *queue.Queue
	Scanner   *security.Scanner
	OCR       *ocr.Engine
	Extractor *extract.Service
	Ingest    *ingest.Service
	Files     *ingest.FSIngestor
	Export    *export.Service

	cfg         *common.Config
	logger      *slog.Logger
	stopTracker func()
	trackDone   chan struct{}
}

// NewPipeline connects to the database and object storage and builds the services on top.
// The queue is created but not started; call Start.
func NewPipeline(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	evidenceRepo := repo.NewEvidenceRepository(db, logger)

	backend, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		CloseDB(db, logger)
		return nil, fmt.Errorf("open storage: %w", err)
	}
	blobs, err := storage.NewOptimizer(backend, evidenceRepo, storage.OptimizerConfig{
		MinSavings: cfg.Storage.MinCompressionSavings,
	}, logger)
	if err != nil {
		CloseDB(db, logger)
		return nil, fmt.Errorf("storage optimizer: %w", err)
	}

	q := queue.New(logger, queueOptions(cfg.Queue)...)

	scanner := security.NewScanner(security.Config{MaxFileSize: cfg.Security.MaxFileSize}, logger)
	engine := ocr.NewEngine(ocr.Config{
		Tesseract:        cfg.OCR.Tesseract,
		Pdftoppm:         cfg.OCR.Pdftoppm,
		TessdataDir:      cfg.OCR.TessdataDir,
		DefaultLanguages: cfg.OCR.Languages,
		MaxFileSize:      cfg.OCR.MaxFileSize,
		MaxDimension:     cfg.OCR.MaxDimension,
		Timeout:          cfg.OCR.Timeout,
		DPI:              cfg.OCR.DPI,
		MaxPages:         cfg.OCR.MaxPages,
	}, logger)
	extractor := extract.NewService(extract.Config{
		MinPDFTextChars: cfg.Extract.MinPDFTextChars,
		MaxEntities:     cfg.Extract.MaxEntities,
		OCRConcurrency:  cfg.OCR.BatchConcurrency,
	}, engine, logger)
	fetcher := extract.NewHTTPFetcher(extract.FetcherConfig{
		Timeout:   cfg.Extract.FetchTimeout,
		MaxBytes:  cfg.Extract.FetchMaxBytes,
		UserAgent: cfg.Extract.UserAgent,
	}, logger)

	svc := ingest.NewService(ingest.Config{
		ScanOptions:      ScanOptions(cfg.Security),
		DeferCompression: cfg.Storage.DeferCompression,
		Retention:        cfg.Retention.Period,
		JobMaxRetries:    cfg.Queue.MaxRetries,
	}, ingest.Deps{
		Scanner:     scanner,
		Extractor:   extractor,
		Transformer: transform.NewService(transform.Config{}, logger),
		Repo:        evidenceRepo,
		Blobs:       blobs,
		Fetcher:     fetcher,
		Queue:       q,
	}, logger)
	svc.RegisterHandlers(q)

	return &Pipeline{
		DB:        db,
		Repo:      evidenceRepo,
		Blobs:     blobs,
		Queue:     q,
		Scanner:   scanner,
		OCR:       engine,
		Extractor: extractor,
		Ingest:    svc,
		Files:     ingest.NewFSIngestor(svc, nil, cfg.Security.MaxFileSize, logger),
		Export:    export.NewService(evidenceRepo, logger),
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// ScanOptions maps the security section of the config onto per-scan options.
func ScanOptions(cfg common.SecurityConfig) security.ScanOptions {
	virus, signature := cfg.EnableVirusScan, cfg.CheckFileSignature
	return security.ScanOptions{
		EnableVirusScan:    &virus,
		MaxFileSize:        cfg.MaxFileSize,
		CheckFileSignature: &signature,
	}
}

func queueOptions(cfg common.QueueConfig) []queue.Option {
	return []queue.Option{
		queue.WithMaxConcurrent(cfg.MaxConcurrent),
		queue.WithTypeLimit(constants.JobOCR, cfg.OCRLimit),
		queue.WithTypeLimit(constants.JobTransform, cfg.TransformLimit),
		queue.WithTypeLimit(constants.JobCompress, cfg.CompressLimit),
		queue.WithTypeLimit(constants.JobStorage, cfg.StorageLimit),
		queue.WithDailyCostLimit(cfg.DailyCostLimit),
		queue.WithHistorySize(cfg.HistorySize),
		queue.WithTickInterval(cfg.TickInterval),
		queue.WithJobTimeout(cfg.JobTimeout),
	}
}

// Start runs the queue and mirrors job transitions onto evidence records.
func (p *Pipeline) Start(ctx context.Context) {
	events, cancel := p.Queue.Subscribe(256)
	p.stopTracker = cancel
	p.trackDone = make(chan struct{})
	go func() {
		defer close(p.trackDone)
		p.Ingest.TrackJobs(context.WithoutCancel(ctx), events)
	}()
	p.Queue.Start(ctx)
	p.logger.Info("pipeline started", "storage_backend", p.cfg.Storage.Backend, "db_driver", p.DB.Dialect())
}

// Close drains the queue within ctx, then releases storage and database handles.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.Queue.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		p.logger.Warn("queue did not drain before shutdown deadline")
	}
	if p.stopTracker != nil {
		p.stopTracker()
		select {
		case <-p.trackDone:
		case <-time.After(5 * time.Second):
			p.logger.Warn("job tracker did not stop in time")
		}
	}
	p.Blobs.Close()
	CloseDB(p.DB, p.logger)
	return err
}
