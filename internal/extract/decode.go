package extract

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeText returns data as UTF-8. A BOM (UTF-8 or UTF-16) is honored and stripped;
// BOM-less input that is not valid UTF-8 is read as Shift_JIS.
func decodeText(data []byte) (string, error) {
	var fallback encoding.Encoding = encoding.Nop
	if !hasBOM(data) && !utf8.Valid(data) {
		fallback = japanese.ShiftJIS
	}
	r := transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(fallback.NewDecoder()))
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(data, []byte{0xFF, 0xFE}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF})
}
