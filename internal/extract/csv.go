package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

func (s *Service) extractCSV(_ context.Context, in input) (extraction, error) {
	text, err := decodeText(in.data)
	if err != nil {
		return extraction{}, err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return extraction{}, err
		}
		if isBlankRecord(rec) {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return extraction{}, common.NewValidationError("file", "csv contains no rows")
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}
	tbl := entity.Table{
		Title:   strings.TrimSuffix(filepath.Base(in.filename), filepath.Ext(in.filename)),
		Headers: headers,
		Rows:    make([][]entity.Cell, 0, len(records)-1),
	}
	for _, rec := range records[1:] {
		tbl.Rows = append(tbl.Rows, coerceRow(rec, len(headers)))
	}

	return extraction{
		content: entity.Content{Text: flattenTable(tbl), Tables: []entity.Table{tbl}},
		quality: 1.0,
	}, nil
}

func isBlankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// coerceRow converts numeric-looking fields and pads short rows to width.
func coerceRow(rec []string, width int) []entity.Cell {
	row := make([]entity.Cell, 0, max(width, len(rec)))
	for _, f := range rec {
		row = append(row, coerceCell(f))
	}
	for len(row) < width {
		row = append(row, entity.StringCell(""))
	}
	return row
}

func coerceCell(raw string) entity.Cell {
	s := strings.TrimSpace(raw)
	if f, ok := parseNumber(s); ok {
		return entity.NumberCell(f)
	}
	return entity.StringCell(s)
}

var (
	reSpaceGrouped = regexp.MustCompile(`^-?\d{1,3}(?:[ \x{00A0}\x{202F}]\d{3})+(?:[.,]\d+)?$`)
	reCommaGrouped = regexp.MustCompile(`^-?\d{1,3}(?:,\d{3})+$`)
	reDotGrouped   = regexp.MustCompile(`^-?\d{1,3}(?:\.\d{3}){2,}$`)
	rePlainNumber  = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
)

// parseNumber understands "1,234.56", "1.234,56", "1 234", "$12", "€3,5" and "(42)".
// Percentages and zero-padded codes stay strings.
func parseNumber(s string) (float64, bool) {
	if s == "" || strings.ContainsAny(s, "%％") {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.TrimLeft(s, "$€£¥￥")
	s = strings.TrimSuffix(s, "円")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") && neg {
		return 0, false
	}

	switch {
	case reSpaceGrouped.MatchString(s):
		s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "").Replace(s)
		s = strings.Replace(s, ",", ".", 1)
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case reCommaGrouped.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	case reDotGrouped.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	}

	if !rePlainNumber.MatchString(s) {
		return 0, false
	}
	digits := strings.TrimPrefix(s, "-")
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		f = -f
	}
	return f, true
}

// flattenTable renders headers and rows as tab-separated lines.
func flattenTable(t entity.Table) string {
	var b strings.Builder
	b.WriteString(strings.Join(t.Headers, "\t"))
	for _, row := range t.Rows {
		b.WriteByte('\n')
		for i, c := range row {
			if i > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(c.String())
		}
	}
	return b.String()
}
