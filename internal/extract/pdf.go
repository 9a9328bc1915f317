package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
	"github.com/joseph-ayodele/evidence-pipeline/internal/ocr"
)

const pdfTextQuality = 0.95

func (s *Service) extractPDF(ctx context.Context, in input) (extraction, error) {
	text, pages, err := pdfText(in.data)
	if err != nil {
		return extraction{}, err
	}
	out := extraction{
		content: entity.Content{Text: strings.TrimSpace(text)},
		quality: pdfTextQuality,
		method:  "pdf-text",
	}
	if utf8.RuneCountInString(out.content.Text) >= s.cfg.MinPDFTextChars {
		return out, nil
	}

	// too little embedded text: treat as scanned
	if in.opts.DisableOCR || s.ocr == nil {
		out.warnings = append(out.warnings, fmt.Sprintf("pdf has %d pages but little embedded text; ocr disabled", pages))
		out.quality = lowTextQuality(out.content.Text)
		return out, nil
	}
	results, err := s.ocr.ExtractTextFromPDF(ctx, in.data, in.ocrOptions(), s.cfg.OCRConcurrency)
	if err != nil {
		if ctx.Err() != nil {
			return extraction{}, err
		}
		// ocr failures (timeouts included) degrade to the embedded text
		s.logger.Warn("pdf ocr failed, keeping embedded text",
			"filename", in.filename,
			"timeout", errors.Is(err, ocr.ErrOCRTimeout),
			"error", err)
		out.warnings = append(out.warnings, "ocr: "+err.Error())
		out.quality = lowTextQuality(out.content.Text)
		return out, nil
	}

	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Text)
	}
	out.content.Text = strings.Join(texts, "\n\n")
	out.content.OCRResults = results
	out.quality = meanConfidence(results)
	out.method = "pdf-ocr"
	out.usedOCR = true
	return out, nil
}

// pdfText reads embedded text page by page. ledongthuc/pdf panics on some malformed
// inputs; those are returned as errors.
func pdfText(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("new pdf reader: %w", err)
	}
	var b strings.Builder
	pages = doc.NumPage()
	for i := 1; i <= pages; i++ {
		p := doc.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String(), pages, nil
}

func lowTextQuality(text string) float64 {
	if text == "" {
		return 0
	}
	return 0.3
}

func meanConfidence(results []entity.OCRResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	return sum / float64(len(results))
}
