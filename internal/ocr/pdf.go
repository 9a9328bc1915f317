package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

// RasterizePDF renders each page of a PDF to PNG bytes with pdftoppm.
func (e *Engine) RasterizePDF(ctx context.Context, pdf []byte) ([][]byte, error) {
	tmpDir, err := os.MkdirTemp("", "ep-pp-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove temp dir", "path", tmpDir, "error", err)
		}
	}()

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png [-l N] <in.pdf> <tmp/page>
	args := []string{"-r", fmt.Sprintf("%d", e.cfg.DPI), "-png"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", fmt.Sprintf("%d", e.cfg.MaxPages))
	}
	args = append(args, in, prefix)
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, e.logger, args...); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: rasterizing pdf after %s", ErrOCRTimeout, e.cfg.Timeout)
		}
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}

	// pdftoppm zero-pads page numbers to a common width, so lexical order is page order
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return nil, errors.New("pdftoppm produced no pages")
	}

	pages := make([][]byte, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		pages = append(pages, b)
	}
	return pages, nil
}

// ExtractTextFromPDF rasterizes a scanned PDF and recognizes every page.
// Pages that fail are skipped; an error is returned only if none succeeded.
func (e *Engine) ExtractTextFromPDF(ctx context.Context, pdf []byte, opts Options, maxConcurrency int) ([]entity.OCRResult, error) {
	pages, err := e.RasterizePDF(ctx, pdf)
	if err != nil {
		return nil, err
	}
	var (
		results []entity.OCRResult
		errs    []error
	)
	for _, br := range e.BatchExtract(ctx, pages, opts, maxConcurrency) {
		if br.Err != nil {
			errs = append(errs, fmt.Errorf("page %d: %w", br.Index+1, br.Err))
			continue
		}
		br.Result.Page = br.Index + 1
		results = append(results, br.Result)
	}
	if len(results) == 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		e.logger.Warn("pdf page ocr failed", "error", err)
	}
	return results, nil
}
