package security

import (
	"bytes"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
)

// textWindow is how many leading bytes of a text file are checked for NULs and UTF-8.
const textWindow = 8 << 10

type magic struct {
	offset int
	sig    []byte
}

// signatures maps a normalized MIME type to the magic numbers any of which is accepted.
var signatures = map[string][]magic{
	"application/pdf": {{0, []byte("%PDF-")}},
	"image/png":       {{0, []byte("\x89PNG\r\n\x1a\n")}},
	"image/jpeg":      {{0, []byte{0xFF, 0xD8, 0xFF}}},
	"image/jpg":       {{0, []byte{0xFF, 0xD8, 0xFF}}},
	"image/gif":       {{0, []byte("GIF87a")}, {0, []byte("GIF89a")}},
	"image/bmp":       {{0, []byte("BM")}},
	"image/x-ms-bmp":  {{0, []byte("BM")}},
	"image/tiff":      {{0, []byte("II*\x00")}, {0, []byte("MM\x00*")}},
	"image/webp":      {{8, []byte("WEBP")}},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {{0, []byte("PK\x03\x04")}},
	// Legacy .xls is OLE2; many clients send this type for .xlsx files too.
	"application/vnd.ms-excel": {{0, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}}, {0, []byte("PK\x03\x04")}},
}

var textMIMEs = map[string]struct{}{
	"text/csv":                    {},
	"application/csv":             {},
	"text/comma-separated-values": {},
	"text/plain":                  {},
	"text/html":                   {},
	"application/xhtml+xml":       {},
	"application/json":            {},
	"text/markdown":               {},
}

var executableMagics = [][]byte{
	[]byte("MZ"),
	[]byte("\x7fELF"),
	{0xFE, 0xED, 0xFA, 0xCE},
	{0xFE, 0xED, 0xFA, 0xCF},
	{0xCE, 0xFA, 0xED, 0xFE},
	{0xCF, 0xFA, 0xED, 0xFE},
	{0xCA, 0xFE, 0xBA, 0xBE},
}

var executableMIMEs = []string{
	"application/vnd.microsoft.portable-executable",
	"application/x-msdownload",
	"application/x-elf",
	"application/x-executable",
	"application/x-sharedlib",
	"application/x-mach-binary",
}

// validSignature reports whether data looks like the declared MIME type.
func validSignature(data []byte, declaredMIME string) bool {
	m := constants.NormalizeMIME(declaredMIME)
	if sigs, ok := signatures[m]; ok {
		for _, s := range sigs {
			if matchAt(data, s) {
				return true
			}
		}
		return false
	}
	if _, ok := textMIMEs[m]; ok {
		return plausibleText(data)
	}
	// no table entry: anything but a native executable passes
	return !isExecutable(data)
}

func matchAt(data []byte, m magic) bool {
	end := m.offset + len(m.sig)
	return len(data) >= end && bytes.Equal(data[m.offset:end], m.sig)
}

// plausibleText accepts UTF-16 with a BOM, otherwise requires NUL-free valid UTF-8 in the leading window.
func plausibleText(data []byte) bool {
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		return true
	}
	window := data
	truncated := false
	if len(window) > textWindow {
		window = window[:textWindow]
		truncated = true
	}
	if bytes.IndexByte(window, 0) >= 0 {
		return false
	}
	if truncated {
		// drop a rune split by the window edge
		for i := 0; i < utf8.UTFMax && len(window) > 0; i++ {
			r, size := utf8.DecodeLastRune(window)
			if r != utf8.RuneError || size != 1 {
				break
			}
			window = window[:len(window)-1]
		}
	}
	return utf8.Valid(window)
}

func isExecutable(data []byte) bool {
	for _, sig := range executableMagics {
		if bytes.HasPrefix(data, sig) {
			return true
		}
	}
	detected := mimetype.Detect(data)
	for _, m := range executableMIMEs {
		if detected.Is(m) {
			return true
		}
	}
	return false
}
