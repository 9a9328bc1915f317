package extract

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
	"github.com/joseph-ayodele/evidence-pipeline/internal/ocr"
)

func (s *Service) extractImage(ctx context.Context, in input) (extraction, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(in.data))
	if err != nil {
		return extraction{}, err
	}
	out := extraction{
		content: entity.Content{
			Images: []entity.ImageRef{{Src: in.filename, Width: cfg.Width, Height: cfg.Height}},
		},
		method: "image-" + format,
	}
	if in.opts.DisableOCR || s.ocr == nil {
		out.warnings = append(out.warnings, "ocr disabled; no text extracted")
		return out, nil
	}

	res, err := s.ocr.ExtractTextFromImage(ctx, in.data, in.ocrOptions())
	switch {
	case err == nil:
	case errors.Is(err, ocr.ErrOCRTimeout) && ctx.Err() == nil:
		// recoverable: keep the record, without text
		s.logger.Warn("image ocr timed out", "filename", in.filename, "error", err)
		out.warnings = append(out.warnings, "ocr: "+err.Error())
		return out, nil
	default:
		return extraction{}, err
	}

	out.content.Text = res.Text
	out.content.OCRResults = []entity.OCRResult{res}
	out.quality = res.Confidence
	out.method = "image-ocr"
	out.usedOCR = true
	return out, nil
}
