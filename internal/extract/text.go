package extract

import (
	"context"
	"strings"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

const plainTextQuality = 0.9

func (s *Service) extractText(_ context.Context, in input) (extraction, error) {
	text, err := decodeText(in.data)
	if err != nil {
		return extraction{}, err
	}
	text = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n"))
	q := plainTextQuality
	if text == "" {
		q = 0
	}
	return extraction{content: entity.Content{Text: text}, quality: q}, nil
}
