package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
)

// MalwarePattern is a named content regex. When PDFOnly is set it only runs on PDFs.
type MalwarePattern struct {
	Name    string
	Re      *regexp.Regexp
	PDFOnly bool
}

const eicarSignature = "EICAR-Test-File"

var reEICAR = regexp.MustCompile(`X5O!P%@AP\[4\\PZX54\(P\^\)7CC\)7\}\$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!\$H\+H\*`)

// PatternSource is an uncompiled MalwarePattern.
type PatternSource struct {
	Name    string
	Expr    string
	PDFOnly bool
}

var defaultPatternSources = []PatternSource{
	{Name: "script-eval", Expr: `(?is)<script[^>]*>[^<]{0,1000}?\b(eval|unescape)\s*\(`},
	{Name: "js-eval-atob", Expr: `(?i)\beval\s*\(\s*atob\s*\(`},
	{Name: "powershell-encoded", Expr: `(?i)\bpowershell(\.exe)?\b[^\n]{0,100}?\s-(e|ec|enc|encodedcommand)\s+[A-Za-z0-9+/=]{16,}`},
	{Name: "cmd-exec", Expr: `(?i)\bcmd(\.exe)?\s+/c\s+\S`},
	{Name: "php-webshell", Expr: `(?is)<\?php.{0,500}?\b(eval|assert|system|shell_exec|passthru|exec|popen)\s*\(\s*(base64_decode\s*\()?\$_(GET|POST|REQUEST|COOKIE)`},
	{Name: "pdf-javascript", Expr: `/JavaScript\b|/JS\s*[(<]`, PDFOnly: true},
	{Name: "pdf-launch-action", Expr: `/Launch\b`, PDFOnly: true},
	{Name: "pdf-open-action", Expr: `/OpenAction\b`, PDFOnly: true},
	{Name: "office-macro", Expr: `(?i)vbaProject\.bin|\bAuto_?Open\b`},
}

// CompilePatterns compiles a pattern table, naming the first entry that fails.
func CompilePatterns(sources []PatternSource) ([]MalwarePattern, error) {
	out := make([]MalwarePattern, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile(src.Expr)
		if err != nil {
			return nil, fmt.Errorf("malware pattern %q: %w", src.Name, err)
		}
		out = append(out, MalwarePattern{Name: src.Name, Re: re, PDFOnly: src.PDFOnly})
	}
	return out, nil
}

// DefaultPatterns is the built-in malware pattern table, compiled on first use.
var DefaultPatterns = sync.OnceValue(func() []MalwarePattern {
	patterns, err := CompilePatterns(defaultPatternSources)
	if err != nil {
		panic(err)
	}
	return patterns
})

var dangerousExtensions = map[string]struct{}{
	"exe": {}, "bat": {}, "cmd": {}, "com": {}, "scr": {}, "js": {}, "vbs": {},
	"ps1": {}, "jar": {}, "msi": {}, "dll": {}, "sh": {},
}

// matchPatterns returns the names of every pattern found in data.
func matchPatterns(patterns []MalwarePattern, data []byte, isPDF bool) []string {
	var hits []string
	for _, p := range patterns {
		if p.PDFOnly && !isPDF {
			continue
		}
		if p.Re.Match(data) {
			hits = append(hits, p.Name)
		}
	}
	return hits
}

// extensionFindings flags a dangerous final extension and a disguised double extension.
func extensionFindings(filename string) []string {
	base := strings.TrimRight(filepath.Base(filename), " .")
	ext := constants.NormalizeExt(filepath.Ext(base))
	if ext == "" {
		return nil
	}
	if _, bad := dangerousExtensions[ext]; !bad {
		return nil
	}
	out := []string{"dangerous-extension:." + ext}
	inner := constants.NormalizeExt(filepath.Ext(strings.TrimSuffix(base, filepath.Ext(base))))
	if inner != "" && constants.MapExtToType(inner) != constants.UNKNOWN {
		out = append(out, "double-extension")
	}
	return out
}
