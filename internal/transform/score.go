package transform

import "github.com/joseph-ayodele/evidence-pipeline/internal/entity"

// Weights of the table quality blend.
const (
	weightExtraction = 0.4
	weightDetection  = 0.3
	weightEntities   = 0.2
	weightFootnotes  = 0.1
)

// Footnote kinds.
const (
	kindSource     = "source"
	kindExternal   = "external"
	kindQuality    = "quality"
	kindProvenance = "provenance"
)

func tableScore(extraction, detection, entities, footnotes float64) float64 {
	s := weightExtraction*clamp01(extraction) +
		weightDetection*clamp01(detection) +
		weightEntities*clamp01(entities) +
		weightFootnotes*clamp01(footnotes)
	return clamp01(s)
}

// footnoteCompleteness is the share of {source, external, quality} kinds present.
func footnoteCompleteness(kinds map[string]bool) float64 {
	n := 0
	for _, k := range []string{kindSource, kindExternal, kindQuality} {
		if kinds[k] {
			n++
		}
	}
	return float64(n) / 3
}

// nativeDetection rates a table that came out of a structured source: full marks when
// every row has the header width.
func nativeDetection(headers []string, rows [][]entity.Cell) float64 {
	if len(headers) == 0 || len(rows) == 0 {
		return 0.5
	}
	aligned := 0
	for _, r := range rows {
		if len(r) == len(headers) {
			aligned++
		}
	}
	return 0.5 + 0.5*float64(aligned)/float64(len(rows))
}

// textDetection rates a regex-detected table; more matching lines means more confidence.
func textDetection(rows int) float64 {
	return min(0.5+0.1*float64(rows), 0.8)
}

// entityConfidence rewards tables backed by extracted entities or numeric cells.
func entityConfidence(rows [][]entity.Cell, sd entity.StructuredData) float64 {
	numeric := false
	for _, r := range rows {
		for _, c := range r {
			if c.IsNumber {
				numeric = true
				break
			}
		}
	}
	switch {
	case len(sd.Entities) > 0 && numeric:
		return 1
	case len(sd.Entities) > 0 || numeric:
		return 0.7
	}
	return 0.4
}

func clamp01(f float64) float64 {
	return min(max(f, 0), 1)
}
