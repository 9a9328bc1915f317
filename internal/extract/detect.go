package extract

import (
	"path/filepath"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
)

// DetectEvidenceType maps (filename, MIME) onto exactly one evidence type.
// The declared MIME wins unless it is generic, in which case the extension decides.
func DetectEvidenceType(filename, mimeType string) constants.EvidenceType {
	if !constants.IsGenericMIME(mimeType) {
		if t := constants.MapMIMEToType(mimeType); t != constants.UNKNOWN {
			return t
		}
	}
	return constants.MapExtToType(filepath.Ext(filename))
}
