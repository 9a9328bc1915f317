package ocr

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

type QualityLevel string

const (
	QualityHigh   QualityLevel = "high"
	QualityMedium QualityLevel = "medium"
	QualityLow    QualityLevel = "low"
)

const (
	highConfidence   = 0.85
	mediumConfidence = 0.6
	maxGarbledRatio  = 0.2
	minUsefulRunes   = 20
)

// QualityReport grades an OCR result and suggests how to get a better one.
type QualityReport struct {
	Level           QualityLevel `json:"level"`
	Score           float64      `json:"score"`
	GarbledRatio    float64      `json:"garbled_ratio"`
	Issues          []string     `json:"issues,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

const (
	recContrast    = "increase contrast"
	recResolution  = "re-scan at higher resolution"
	recOrientation = "verify document orientation"
)

// EvaluateQuality grades r by confidence and flags garbled, empty, or very short text.
func EvaluateQuality(r entity.OCRResult) QualityReport {
	rep := QualityReport{Score: r.Confidence}
	switch {
	case r.Confidence >= highConfidence:
		rep.Level = QualityHigh
	case r.Confidence >= mediumConfidence:
		rep.Level = QualityMedium
	default:
		rep.Level = QualityLow
	}

	text := strings.TrimSpace(r.Text)
	var recs []string
	if r.Confidence < mediumConfidence {
		rep.Issues = append(rep.Issues, "low confidence")
		recs = append(recs, recContrast, recResolution)
	}
	if text == "" {
		rep.Issues = append(rep.Issues, "no text recognized")
		recs = append(recs, recOrientation, recResolution)
	} else {
		rep.GarbledRatio = garbledRatio(text)
		if rep.GarbledRatio > maxGarbledRatio {
			rep.Issues = append(rep.Issues, "garbled characters")
			recs = append(recs, recOrientation, recContrast)
		}
		if utf8.RuneCountInString(text) < minUsefulRunes {
			rep.Issues = append(rep.Issues, "very short text")
			recs = append(recs, recResolution)
		}
	}

	seen := map[string]bool{}
	for _, r := range recs {
		if !seen[r] {
			seen[r] = true
			rep.Recommendations = append(rep.Recommendations, r)
		}
	}
	return rep
}

// garbledRatio is the share of non-space runes that are not letters, digits,
// punctuation, or currency symbols.
func garbledRatio(s string) float64 {
	var total, bad int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		switch {
		case r == utf8.RuneError:
			bad++
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsPunct(r), unicode.Is(unicode.Sc, r):
		default:
			bad++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}
