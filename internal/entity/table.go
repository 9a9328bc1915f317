package entity

import (
	"encoding/json"
	"strconv"
	"time"
)

// Table is a rectangular block of extracted cells.
type Table struct {
	Title   string   `json:"title,omitempty"`
	Headers []string `json:"headers"`
	Rows    [][]Cell `json:"rows"`
}

// Cell holds either a string or a number. It marshals to the bare JSON value.
type Cell struct {
	Text     string
	Number   float64
	IsNumber bool
}

func StringCell(s string) Cell  { return Cell{Text: s} }
func NumberCell(f float64) Cell { return Cell{Number: f, IsNumber: true} }

func (c Cell) String() string {
	if c.IsNumber {
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	}
	return c.Text
}

// Value returns the cell as float64 or string.
func (c Cell) Value() any {
	if c.IsNumber {
		return c.Number
	}
	return c.Text
}

func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Value())
}

func (c *Cell) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*c = NumberCell(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = StringCell(s)
	return nil
}

// FootnoteType classifies a table footnote.
type FootnoteType string

const (
	FootnoteCitation    FootnoteType = "citation"
	FootnoteExplanation FootnoteType = "explanation"
	FootnoteCaveat      FootnoteType = "caveat"
)

// Footnote annotates a TransformedTable.
type Footnote struct {
	ID         string       `json:"id"`
	Text       string       `json:"text"`
	Source     string       `json:"source,omitempty"`
	Confidence float64      `json:"confidence"`
	Type       FootnoteType `json:"type"`
}

// TableDataType is the inferred subject of a table.
type TableDataType string

const (
	DataMarket     TableDataType = "market"
	DataCompetitor TableDataType = "competitor"
	DataFinancial  TableDataType = "financial"
	DataGeneral    TableDataType = "general"
)

// TableMetadata describes how a TransformedTable was produced.
type TableMetadata struct {
	DataType         TableDataType `json:"data_type"`
	ExtractionMethod string        `json:"extraction_method"`
	ProcessingTime   time.Duration `json:"processing_time"`
	SourceQuality    float64       `json:"source_quality"`
	Currency         string        `json:"currency,omitempty"`
	Period           string        `json:"period,omitempty"`
	Region           string        `json:"region,omitempty"`
	RegeneratedAt    *time.Time    `json:"regenerated_at,omitempty"`
}

// TransformedTable is a footnoted, typed table produced by structuring.
type TransformedTable struct {
	Title        string        `json:"title"`
	Headers      []string      `json:"headers"`
	Rows         [][]Cell      `json:"rows"`
	Footnotes    []Footnote    `json:"footnotes"`
	Metadata     TableMetadata `json:"metadata"`
	QualityScore float64       `json:"quality_score"`
}

// HasFootnote reports whether a footnote of type ft is attached.
func (t TransformedTable) HasFootnote(ft FootnoteType) bool {
	for _, f := range t.Footnotes {
		if f.Type == ft {
			return true
		}
	}
	return false
}

// StructuredBundle is the cached result of structuring an Evidence record.
type StructuredBundle struct {
	Tables       []TransformedTable `json:"tables"`
	QualityScore float64            `json:"quality_score"`
	GeneratedAt  time.Time          `json:"generated_at"`
}
