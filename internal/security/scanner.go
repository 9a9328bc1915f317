package security

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

const (
	engineName = "evidence-scanner/1"

	// VirusScanUnavailable is recorded when the virus scanner errors; the file is then unsafe.
	VirusScanUnavailable = "virus-scan-unavailable"
)

// ScanOptions tunes a single scan. Nil booleans mean true; MaxFileSize 0 uses the scanner default.
type ScanOptions struct {
	EnableVirusScan    *bool
	MaxFileSize        int64
	CheckFileSignature *bool
}

// DefaultScanOptions enables every check with the scanner's size limit.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{}
}

func enabled(b *bool) bool { return b == nil || *b }

// Config holds scanner settings.
type Config struct {
	MaxFileSize  int64
	VirusScanner VirusScanner
	VirusTimeout time.Duration
	Patterns     []MalwarePattern
	Now          func() time.Time
}

// Scanner screens raw uploads. It keeps no state between scans.
type Scanner struct {
	cfg    Config
	logger *slog.Logger
}

// NewScanner creates a scanner with defaults filled in.
func NewScanner(cfg Config, logger *slog.Logger) *Scanner {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 50 << 20
	}
	if cfg.VirusScanner == nil {
		cfg.VirusScanner = NoopVirusScanner{}
	}
	if cfg.VirusTimeout <= 0 {
		cfg.VirusTimeout = 30 * time.Second
	}
	if cfg.Patterns == nil {
		cfg.Patterns = DefaultPatterns()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{cfg: cfg, logger: logger}
}

// ScanFile checks size, file signature, content patterns, and (optionally) an external
// virus engine. Findings never surface as errors; only an empty buffer does.
func (s *Scanner) ScanFile(ctx context.Context, data []byte, filename, declaredMIME string, opts ScanOptions) (entity.SecurityScanResult, error) {
	if len(data) == 0 {
		return entity.SecurityScanResult{}, fmt.Errorf("scan %q: empty buffer: %w", filename, common.ErrInvalidInput)
	}

	res := entity.SecurityScanResult{
		ScannedAt:  s.cfg.Now(),
		ScanEngine: engineName,
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = s.cfg.MaxFileSize
	}
	if int64(len(data)) > maxSize {
		res.SizeViolation = true
		res.ComputeSafe()
		s.logger.Warn("file exceeds size limit",
			"filename", filename,
			"size", humanize.IBytes(uint64(len(data))),
			"limit", humanize.IBytes(uint64(maxSize)))
		return res, nil
	}

	res.FileSignatureValid = true
	if enabled(opts.CheckFileSignature) {
		res.FileSignatureValid = validSignature(data, declaredMIME)
	}

	isPDF := constants.NormalizeMIME(declaredMIME) == "application/pdf" || constants.MapExtToType(filepath.Ext(filename)) == constants.PDF
	res.SuspiciousPatterns = append(res.SuspiciousPatterns, matchPatterns(s.cfg.Patterns, data, isPDF)...)
	res.SuspiciousPatterns = append(res.SuspiciousPatterns, extensionFindings(filename)...)

	if reEICAR.Match(data) {
		res.VirusFound = true
		res.MalwareSignatures = append(res.MalwareSignatures, eicarSignature)
	}

	if enabled(opts.EnableVirusScan) {
		vctx, cancel := context.WithTimeout(ctx, s.cfg.VirusTimeout)
		verdict, err := s.cfg.VirusScanner.Scan(vctx, data)
		cancel()
		if err != nil {
			s.logger.Warn("virus scanner unavailable, failing closed", "filename", filename, "error", err)
			res.SuspiciousPatterns = append(res.SuspiciousPatterns, VirusScanUnavailable)
		} else {
			if verdict.Engine != "" {
				res.ScanEngine = engineName + "+" + verdict.Engine
			}
			if verdict.Infected {
				res.VirusFound = true
				res.MalwareSignatures = append(res.MalwareSignatures, verdict.Signatures...)
			}
		}
	}

	if !res.ComputeSafe() {
		s.logger.Info("file failed security scan",
			"filename", filename,
			"mime_type", declaredMIME,
			"violations", res.Violations())
	}
	return res, nil
}
