package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
)

// FSIngestor feeds files from the local filesystem into the upload pipeline.
type FSIngestor struct {
	uploader    Uploader
	allowedExts map[string]struct{} // lowercased sans '.'
	maxFileSize int64
	logger      *slog.Logger
}

// NewFSIngestor uses constants.AllowedExtensions when allowedExts is empty.
func NewFSIngestor(u Uploader, allowedExts []string, maxFileSize int64, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	exts := constants.AllowedExtensions
	if len(allowedExts) > 0 {
		exts = make(map[string]struct{}, len(allowedExts))
		for _, e := range allowedExts {
			if e = constants.NormalizeExt(e); e != "" {
				exts[e] = struct{}{}
			}
		}
	}
	return &FSIngestor{uploader: u, allowedExts: exts, maxFileSize: maxFileSize, logger: logger}
}

// Allowed checks if a path's extension is in the allowed set.
func (i *FSIngestor) Allowed(path string) bool {
	_, ok := i.allowedExts[constants.NormalizeExt(filepath.Ext(path))]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// IngestPath uploads a single file.
func (i *FSIngestor) IngestPath(ctx context.Context, path string, opts UploadOptions) (IngestionResult, error) {
	out := IngestionResult{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	out.SourcePath = abs

	if !i.Allowed(abs) {
		return out, common.NewValidationError("path", fmt.Sprintf("unsupported or missing extension: %q", filepath.Ext(abs)))
	}

	info, err := os.Stat(abs)
	if err != nil {
		return out, fmt.Errorf("stat: %w", err)
	}
	if i.maxFileSize > 0 && info.Size() > i.maxFileSize {
		return out, common.NewValidationError("path", fmt.Sprintf("file is %s, limit %s",
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(i.maxFileSize))))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return out, fmt.Errorf("read: %w", err)
	}

	ev, err := i.uploader.Upload(ctx, data, filepath.Base(abs), "", opts)
	if err != nil {
		return out, err
	}
	out.EvidenceID = ev.ID
	out.Type = ev.Type
	out.Status = ev.Status
	out.Checksum = ev.Metadata.Checksum
	out.Size = ev.Size
	if c := ev.Metadata.Compression; c != nil {
		out.Deduplicated = c.Deduplicated
	}
	i.logger.Debug("file ingested", "path", abs, "evidence_id", ev.ID, "size", humanize.Bytes(uint64(ev.Size)))
	return out, nil
}

// IngestDirectory walks root, skips hidden entries if requested, and uploads each allowed
// file. Per-file failures are recorded in the results and do not stop the walk.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool, opts UploadOptions) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, common.NewValidationError("root_path", "is required")
	}

	var results []IngestionResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !i.Allowed(path) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path, opts)
		if err != nil {
			r.Err = err.Error()
			results = append(results, r)
			if errors.Is(err, common.ErrSecurityRejected) {
				stats.Rejected++
			} else {
				stats.Failed++
			}
			return nil
		}

		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})

	i.logger.Info("directory ingest finished",
		"root", root,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"rejected", stats.Rejected,
		"failed", stats.Failed)
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}
