package extract

import (
	"bytes"
	"context"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

func (s *Service) extractExcel(_ context.Context, in input) (extraction, error) {
	f, err := excelize.OpenReader(bytes.NewReader(in.data))
	if err != nil {
		return extraction{}, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("failed to close workbook", "filename", in.filename, "error", err)
		}
	}()

	var (
		tables []entity.Table
		text   strings.Builder
	)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return extraction{}, err
		}
		var kept [][]string
		for _, r := range rows {
			if !isBlankRecord(r) {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			continue
		}

		headers := make([]string, len(kept[0]))
		for i, h := range kept[0] {
			headers[i] = strings.TrimSpace(h)
		}
		tbl := entity.Table{Title: sheet, Headers: headers, Rows: make([][]entity.Cell, 0, len(kept)-1)}
		for _, r := range kept[1:] {
			tbl.Rows = append(tbl.Rows, coerceRow(r, len(headers)))
		}
		tables = append(tables, tbl)

		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString("Sheet: " + sheet + "\n")
		text.WriteString(flattenTable(tbl))
	}

	quality := 1.0
	if len(tables) == 0 {
		quality = 0
	}
	return extraction{
		content: entity.Content{Text: text.String(), Tables: tables},
		quality: quality,
	}, nil
}
