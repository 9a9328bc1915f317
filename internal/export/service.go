package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
	"github.com/joseph-ayodele/evidence-pipeline/internal/repository"
)

const (
	summarySheet   = "Summary"
	footnotesSheet = "Footnotes"
	evidenceSheet  = "Evidence"
	maxSheetName   = 31
)

// Reader is the part of the evidence repository exports read from.
type Reader interface {
	Find(ctx context.Context, id uuid.UUID) (*entity.Evidence, error)
	List(ctx context.Context, filter repository.Filter, page repository.Page) ([]*entity.Evidence, int, error)
}

// Service is a tiny façade over the repository that produces XLSX bytes for exports.
type Service struct {
	repo   Reader
	logger *slog.Logger
}

func NewService(repo Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ExportTablesXLSX writes a record's structured tables: a summary sheet, one sheet per
// table, and a Footnotes sheet keyed by table and footnote id.
func (s *Service) ExportTablesXLSX(ctx context.Context, id uuid.UUID) ([]byte, error) {
	start := time.Now()
	ev, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	bundle := ev.Metadata.Structured
	if bundle == nil {
		return nil, common.NewValidationError("evidence_id", "evidence has not been structured yet")
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}

	summary := [][]any{
		{"Evidence ID", ev.ID.String()},
		{"Filename", ev.Filename},
		{"Type", string(ev.Type)},
		{"Source", string(ev.Source)},
		{"Extraction Quality", ev.QualityScore},
		{"Structure Quality", bundle.QualityScore},
		{"Generated At", bundle.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Tables", len(bundle.Tables)},
	}
	if ev.Metadata.SourceURL != "" {
		summary = append(summary, []any{"Source URL", ev.Metadata.SourceURL})
	}
	if err := writeRows(f, summarySheet, 1, summary); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 20)
	_ = f.SetColWidth(summarySheet, "B", "B", 60)

	used := map[string]bool{summarySheet: true, footnotesSheet: true}
	var notes [][]any
	for i, t := range bundle.Tables {
		sheet := uniqueSheetName(t.Title, i+1, used)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
		if err := writeTable(f, sheet, t); err != nil {
			return nil, err
		}
		for _, fn := range t.Footnotes {
			notes = append(notes, []any{sheet, fn.ID, string(fn.Type), fn.Text, fn.Source, fn.Confidence})
		}
	}

	if _, err := f.NewSheet(footnotesSheet); err != nil {
		return nil, err
	}
	header := []any{"Table", "ID", "Type", "Text", "Source", "Confidence"}
	if err := writeRows(f, footnotesSheet, 1, append([][]any{header}, notes...)); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(footnotesSheet, "A", "A", 24)
	_ = f.SetColWidth(footnotesSheet, "D", "D", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"evidence_id", id,
		"tables", len(bundle.Tables),
		"footnotes", len(notes),
		"elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

func writeTable(f *excelize.File, sheet string, t entity.TransformedTable) error {
	rows := make([][]any, 0, len(t.Rows)+1)
	header := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = h
	}
	rows = append(rows, header)
	for _, r := range t.Rows {
		row := make([]any, len(r))
		for i, c := range r {
			row[i] = c.Value()
		}
		rows = append(rows, row)
	}
	if err := writeRows(f, sheet, 1, rows); err != nil {
		return err
	}
	if len(t.Headers) > 0 {
		last, _ := excelize.ColumnNumberToName(len(t.Headers))
		_ = f.SetColWidth(sheet, "A", last, 18)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, startRow int, rows [][]any) error {
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, startRow+i)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return err
		}
	}
	return nil
}

// uniqueSheetName derives a valid, unused sheet name from a table title.
func uniqueSheetName(title string, n int, used map[string]bool) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]'`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = fmt.Sprintf("Table %d", n)
	}
	name = truncateRunes(name, maxSheetName)
	base := name
	for k := 2; used[name]; k++ {
		suffix := fmt.Sprintf(" (%d)", k)
		name = truncateRunes(base, maxSheetName-len(suffix)) + suffix
	}
	used[name] = true
	return name
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ExportEvidenceXLSX lists every record matching filter on one sheet.
func (s *Service) ExportEvidenceXLSX(ctx context.Context, filter repository.Filter) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", evidenceSheet); err != nil {
		return nil, err
	}
	headers := []any{"ID", "Filename", "Type", "Source", "Status", "Quality", "Size", "Created At", "Processed At", "Deleted At", "Error"}
	if err := writeRows(f, evidenceSheet, 1, [][]any{headers}); err != nil {
		return nil, err
	}

	row := 2
	page := repository.Page{Limit: repository.MaxPageLimit}
	for {
		recs, total, err := s.repo.List(ctx, filter, page)
		if err != nil {
			return nil, fmt.Errorf("query evidence: %w", err)
		}
		for _, ev := range recs {
			line := []any{
				ev.ID.String(), ev.Filename, string(ev.Type), string(ev.Source), string(ev.Status),
				ev.QualityScore, ev.Size, ev.CreatedAt.UTC().Format(time.RFC3339),
				formatTime(ev.ProcessedAt), formatTime(ev.DeletedAt), truncate(ev.Content.Error, 140),
			}
			if err := writeRows(f, evidenceSheet, row, [][]any{line}); err != nil {
				return nil, err
			}
			row++
		}
		page.Offset += len(recs)
		if len(recs) == 0 || page.Offset >= total {
			break
		}
	}

	_ = f.SetColWidth(evidenceSheet, "A", "A", 38)
	_ = f.SetColWidth(evidenceSheet, "B", "B", 32)
	_ = f.SetColWidth(evidenceSheet, "H", "J", 22)
	_ = f.SetColWidth(evidenceSheet, "K", "K", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
