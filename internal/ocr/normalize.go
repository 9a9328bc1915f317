package ocr

import (
	"regexp"
	"strings"
)

var (
	reCRLF        = regexp.MustCompile(`\r\n?`)
	reTabs        = regexp.MustCompile(`\t+`)
	reMultiSpace  = regexp.MustCompile(` {2,}`)
	reMultiBlank  = regexp.MustCompile(`\n{3,}`)
	reO0Artifacts = regexp.MustCompile(`\b0([A-NP-Za-z])`) // "0" read where "O" starts a word
	reBoxNoise    = regexp.MustCompile(`(?m)^\s*[_\-=|]{3,}\s*$`)
	// tesseract's jpn models emit a space between every CJK glyph
	reCJKGap = regexp.MustCompile(`([\p{Han}\p{Hiragana}\p{Katakana}ー、。]) +([\p{Han}\p{Hiragana}\p{Katakana}ー、。])`)
)

// Normalize collapses noisy whitespace and fixes common OCR artifacts.
// Line breaks are kept; runs of blank lines collapse into one.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reBoxNoise.ReplaceAllString(s, "")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	// twice: adjacent pairs share a glyph, so one pass only closes every other gap
	s = reCJKGap.ReplaceAllString(s, "$1$2")
	s = reCJKGap.ReplaceAllString(s, "$1$2")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	s = strings.Join(lines, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	s = reO0Artifacts.ReplaceAllString(s, "O$1")
	return strings.TrimSpace(s)
}
