package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellJSON(t *testing.T) {
	row := []Cell{StringCell("A"), NumberCell(100), StringCell("12%")}
	b, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `["A",100,"12%"]`, string(b))

	var back []Cell
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, row, back)
	assert.Equal(t, "100", back[1].String())
	assert.Equal(t, 100.0, back[1].Value())
}

func TestTransformedTable_HasFootnote(t *testing.T) {
	tbl := TransformedTable{Footnotes: []Footnote{{ID: "1", Type: FootnoteCitation}}}
	assert.True(t, tbl.HasFootnote(FootnoteCitation))
	assert.False(t, tbl.HasFootnote(FootnoteCaveat))
}
