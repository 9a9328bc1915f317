package constants

import "strings"

// EvidenceType is the detected kind of an ingested document.
type EvidenceType string

const (
	CSV     EvidenceType = "CSV"
	EXCEL   EvidenceType = "EXCEL"
	PDF     EvidenceType = "PDF"
	IMAGE   EvidenceType = "IMAGE"
	URL     EvidenceType = "URL"
	TEXT    EvidenceType = "TEXT"
	UNKNOWN EvidenceType = "UNKNOWN"
)

// ExtractableTypes holds every type that has an extraction strategy (all but UNKNOWN).
var ExtractableTypes = []EvidenceType{CSV, EXCEL, PDF, IMAGE, URL, TEXT}

// AllowedExtensions holds the default allowed file extensions for directory ingestion.
var AllowedExtensions = map[string]struct{}{
	"csv":  {},
	"xls":  {},
	"xlsx": {},
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"bmp":  {},
	"tif":  {},
	"tiff": {},
	"txt":  {},
	"html": {},
	"htm":  {},
}

var extToType = map[string]EvidenceType{
	"csv":  CSV,
	"xls":  EXCEL,
	"xlsx": EXCEL,
	"pdf":  PDF,
	"jpg":  IMAGE,
	"jpeg": IMAGE,
	"png":  IMAGE,
	"bmp":  IMAGE,
	"tif":  IMAGE,
	"tiff": IMAGE,
	"gif":  IMAGE,
	"webp": IMAGE,
	"html": URL,
	"htm":  URL,
	"txt":  TEXT,
	"text": TEXT,
	"md":   TEXT,
	"json": TEXT,
}

var mimeToType = map[string]EvidenceType{
	"text/csv":                    CSV,
	"application/csv":             CSV,
	"text/comma-separated-values": CSV,

	"application/vnd.ms-excel": EXCEL,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": EXCEL,

	"application/pdf": PDF,

	"image/jpeg":     IMAGE,
	"image/jpg":      IMAGE,
	"image/png":      IMAGE,
	"image/bmp":      IMAGE,
	"image/x-ms-bmp": IMAGE,
	"image/tiff":     IMAGE,
	"image/gif":      IMAGE,
	"image/webp":     IMAGE,

	"text/html":             URL,
	"application/xhtml+xml": URL,

	"text/plain":       TEXT,
	"text/markdown":    TEXT,
	"application/json": TEXT,
}

var genericMIMEs = map[string]struct{}{
	"":                         {},
	"application/octet-stream": {},
	"binary/octet-stream":      {},
	"application/unknown":      {},
	"application/binary":       {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// NormalizeMIME lowercases a MIME type and strips parameters (e.g. "; charset=utf-8").
func NormalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// IsGenericMIME reports whether a MIME type carries no type information.
func IsGenericMIME(mimeType string) bool {
	_, ok := genericMIMEs[NormalizeMIME(mimeType)]
	return ok
}

// MapExtToType returns the evidence type for an extension, or UNKNOWN.
func MapExtToType(ext string) EvidenceType {
	if t, ok := extToType[NormalizeExt(ext)]; ok {
		return t
	}
	return UNKNOWN
}

// MapMIMEToType returns the evidence type for a MIME type, or UNKNOWN.
func MapMIMEToType(mimeType string) EvidenceType {
	m := NormalizeMIME(mimeType)
	if t, ok := mimeToType[m]; ok {
		return t
	}
	if strings.HasPrefix(m, "image/") {
		return IMAGE
	}
	return UNKNOWN
}

var extToMIME = map[string]string{
	"csv":  "text/csv",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"gif":  "image/gif",
	"webp": "image/webp",
	"html": "text/html",
	"htm":  "text/html",
	"txt":  "text/plain",
	"md":   "text/markdown",
	"json": "application/json",
}

// MIMEForExt returns the MIME type used when a caller supplied none.
func MIMEForExt(ext string) string {
	if m, ok := extToMIME[NormalizeExt(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}
