package transform

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

// minDetectedRows is how many matching lines a text pattern needs before it counts as a table.
const minDetectedRows = 2

var (
	reYearLabelValue = regexp.MustCompile(`^((?:19|20)\d{2})(?:年度?)?\s+(\S.*?)\s*[:：]?\s+([-+]?\d[\d,]*(?:\.\d+)?)$`)
	reLabelValueUnit = regexp.MustCompile(`^(\D.*?)\s*[:：]?\s+([-+]?\d[\d,]*(?:\.\d+)?)\s*(%|％|億円|万円|千円|円|億ドル|ドル|USD|JPY|EUR|million|billion|thousand|units|[A-Za-z]{1,5})$`)
	reNumeric        = regexp.MustCompile(`^[-+]?\d[\d,]*(?:\.\d+)?$`)
)

type textPattern struct {
	name    string
	headers []string
	rows    [][]entity.Cell
}

// detectTextTables finds tab-separated triples, "year label value" lines and
// "label value unit" lines. Each pattern becomes one table when it matched enough lines.
func detectTextTables(text string) []textPattern {
	tabs := textPattern{name: "tab-separated"}
	years := textPattern{name: "year-label-value", headers: []string{"Year", "Item", "Value"}}
	units := textPattern{name: "label-value-unit", headers: []string{"Item", "Value", "Unit"}}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if fields := strings.Split(line, "\t"); len(fields) == 3 {
			for i := range fields {
				fields[i] = strings.TrimSpace(fields[i])
			}
			if tabs.headers == nil && len(tabs.rows) == 0 && !anyNumeric(fields) {
				tabs.headers = fields
				continue
			}
			tabs.rows = append(tabs.rows, cells(fields...))
			continue
		}
		if m := reYearLabelValue.FindStringSubmatch(line); m != nil {
			years.rows = append(years.rows, cells(m[1], m[2], m[3]))
			continue
		}
		if m := reLabelValueUnit.FindStringSubmatch(line); m != nil {
			units.rows = append(units.rows, cells(strings.TrimSpace(m[1]), m[2], m[3]))
		}
	}
	if tabs.headers == nil {
		tabs.headers = []string{"Column 1", "Column 2", "Column 3"}
	}

	var out []textPattern
	for _, p := range []textPattern{tabs, years, units} {
		if len(p.rows) >= minDetectedRows {
			out = append(out, p)
		}
	}
	return out
}

func anyNumeric(fields []string) bool {
	for _, f := range fields {
		if reNumeric.MatchString(f) {
			return true
		}
	}
	return false
}

func cells(fields ...string) []entity.Cell {
	row := make([]entity.Cell, len(fields))
	for i, f := range fields {
		if reNumeric.MatchString(f) {
			if n, err := strconv.ParseFloat(strings.ReplaceAll(f, ",", ""), 64); err == nil {
				row[i] = entity.NumberCell(n)
				continue
			}
		}
		row[i] = entity.StringCell(f)
	}
	return row
}
