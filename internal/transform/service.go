package transform

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

// DefaultCaveatThreshold is the score under which a table always gets a caveat footnote.
const DefaultCaveatThreshold = 0.8

type Config struct {
	CaveatThreshold float64
	Now             func() time.Time
}

// Service turns extracted content into footnoted, scored tables.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

func NewService(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CaveatThreshold <= 0 || cfg.CaveatThreshold > DefaultCaveatThreshold {
		cfg.CaveatThreshold = DefaultCaveatThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg, logger: logger}
}

type draft struct {
	title     string
	headers   []string
	rows      [][]entity.Cell
	method    string
	detection float64
}

// TransformToTables enhances the extracted tables, or detects tables in plain text when
// there are none. sourceHint is a filename or URL used for citation footnotes.
func (s *Service) TransformToTables(content entity.Content, qualityScore float64, sourceHint string) []entity.TransformedTable {
	start := s.cfg.Now()

	var drafts []draft
	switch {
	case len(content.Tables) > 0:
		for _, t := range content.Tables {
			drafts = append(drafts, draft{
				title:     t.Title,
				headers:   t.Headers,
				rows:      t.Rows,
				method:    "native-table",
				detection: nativeDetection(t.Headers, t.Rows),
			})
		}
	case strings.TrimSpace(content.Text) != "":
		for i, p := range detectTextTables(content.Text) {
			drafts = append(drafts, draft{
				title:     fmt.Sprintf("Detected table %d", i+1),
				headers:   p.headers,
				rows:      p.rows,
				method:    "text-pattern:" + p.name,
				detection: textDetection(len(p.rows)),
			})
		}
	}

	out := make([]entity.TransformedTable, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, s.build(d, content, qualityScore, sourceHint))
	}
	elapsed := s.cfg.Now().Sub(start)
	for i := range out {
		out[i].Metadata.ProcessingTime = elapsed
	}
	s.logger.Debug("tables structured", "tables", len(out), "source_tables", len(content.Tables), "quality", qualityScore)
	return out
}

func (s *Service) build(d draft, content entity.Content, quality float64, sourceHint string) entity.TransformedTable {
	quality = clamp01(quality)
	head := d.title + " " + strings.Join(d.headers, " ")
	t := entity.TransformedTable{
		Title:   d.title,
		Headers: d.headers,
		Rows:    d.rows,
		Metadata: entity.TableMetadata{
			DataType:         inferDataType(d.title, d.headers, d.rows),
			ExtractionMethod: d.method,
			SourceQuality:    quality,
			Currency:         detectCurrency(head, content.Text),
			Period:           detectPeriod(d.headers, d.title, content.Text),
			Region:           detectRegion(head, content.Text),
		},
	}

	kinds := map[string]bool{}
	add := func(kind string, f entity.Footnote) {
		kinds[kind] = true
		f.ID = strconv.Itoa(len(t.Footnotes) + 1)
		t.Footnotes = append(t.Footnotes, f)
	}

	add(kindSource, entity.Footnote{
		Type:       entity.FootnoteCitation,
		Text:       "Source: " + sourceLabel(sourceHint),
		Source:     sourceHint,
		Confidence: quality,
	})
	if isExternal(sourceHint) {
		add(kindExternal, entity.Footnote{
			Type:       entity.FootnoteCitation,
			Text:       "Retrieved from " + sourceHint,
			Source:     sourceHint,
			Confidence: quality,
		})
	}
	if quality < s.cfg.CaveatThreshold {
		add(kindQuality, entity.Footnote{
			Type:       entity.FootnoteCaveat,
			Text:       fmt.Sprintf("Extraction confidence is %.0f%%; values may contain recognition errors.", quality*100),
			Confidence: quality,
		})
	}
	if hasAmounts(content.Structured) {
		add(kindProvenance, entity.Footnote{
			Type:       entity.FootnoteExplanation,
			Text:       "Monetary amounts were extracted automatically from the source text and normalized; check them against the original document.",
			Confidence: quality,
		})
	}

	ent := entityConfidence(d.rows, content.Structured)
	t.QualityScore = tableScore(quality, d.detection, ent, footnoteCompleteness(kinds))
	if t.QualityScore < s.cfg.CaveatThreshold && !kinds[kindQuality] {
		add(kindQuality, entity.Footnote{
			Type:       entity.FootnoteCaveat,
			Text:       fmt.Sprintf("Table quality score %.2f is below %.2f; verify before use.", t.QualityScore, s.cfg.CaveatThreshold),
			Confidence: t.QualityScore,
		})
		t.QualityScore = tableScore(quality, d.detection, ent, footnoteCompleteness(kinds))
	}
	return t
}

// Regenerate re-runs TransformToTables and appends a timestamped caveat to every table
// scoring below threshold. A non-positive threshold uses the configured caveat threshold.
func (s *Service) Regenerate(content entity.Content, qualityScore float64, sourceHint string, threshold float64, now time.Time) []entity.TransformedTable {
	if threshold <= 0 {
		threshold = s.cfg.CaveatThreshold
	}
	tables := s.TransformToTables(content, qualityScore, sourceHint)
	for i := range tables {
		t := &tables[i]
		at := now
		t.Metadata.RegeneratedAt = &at
		if t.QualityScore >= threshold {
			continue
		}
		t.Footnotes = append(t.Footnotes, entity.Footnote{
			ID:         strconv.Itoa(len(t.Footnotes) + 1),
			Type:       entity.FootnoteCaveat,
			Text:       fmt.Sprintf("Regenerated %s: quality score %.2f is below the requested threshold %.2f.", now.UTC().Format(time.RFC3339), t.QualityScore, threshold),
			Confidence: t.QualityScore,
		})
	}
	return tables
}

// Bundle wraps tables for caching in evidence metadata. The bundle score is the mean table score.
func Bundle(tables []entity.TransformedTable, now time.Time) *entity.StructuredBundle {
	b := &entity.StructuredBundle{Tables: tables, GeneratedAt: now}
	if len(tables) == 0 {
		return b
	}
	var sum float64
	for _, t := range tables {
		sum += t.QualityScore
	}
	b.QualityScore = sum / float64(len(tables))
	return b
}

func sourceLabel(hint string) string {
	if strings.TrimSpace(hint) == "" {
		return "extracted evidence content"
	}
	return hint
}

func isExternal(hint string) bool {
	h := strings.ToLower(hint)
	return strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://")
}

func hasAmounts(sd entity.StructuredData) bool {
	for _, e := range sd.Entities {
		if e.Kind == entity.EntityAmount {
			return true
		}
	}
	return false
}
