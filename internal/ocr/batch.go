package ocr

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

// BatchResult is the outcome for images[Index].
type BatchResult struct {
	Index  int
	Result entity.OCRResult
	Err    error
}

// BatchExtract recognizes images with at most maxConcurrency tesseract processes.
// Results are in input order; one failure does not cancel the others.
func (e *Engine) BatchExtract(ctx context.Context, images [][]byte, opts Options, maxConcurrency int) []BatchResult {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	results := make([]BatchResult, len(images))
	var g errgroup.Group
	g.SetLimit(maxConcurrency)
	for i, img := range images {
		g.Go(func() error {
			results[i].Index = i
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Result, results[i].Err = e.ExtractTextFromImage(ctx, img, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
