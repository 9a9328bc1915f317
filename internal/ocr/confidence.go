package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate   = regexp.MustCompile(`\b(19|20)\d{2}[-/.](0?[1-9]|1[0-2])([-/.]\d{1,2})?\b|(19|20)\d{2}年\d{1,2}月|令和\d+年`)
	reCurr   = regexp.MustCompile(`\b(usd|eur|gbp|jpy|cny|krw)\b|[$£€¥￥]|円`)
	reAmount = regexp.MustCompile(`\b\d{1,3}(,\d{3})+(\.\d+)?\b|\b\d+\.\d{1,2}\b|\d+(万|億|千)`)
)

func hasDatePattern(s string) bool     { return reDate.MatchString(s) }
func hasCurrencyPattern(s string) bool { return reCurr.MatchString(s) }
func hasAmountPattern(s string) bool   { return reAmount.MatchString(s) }

// heuristicConfidence scores decoded text by the business artifacts it contains.
func heuristicConfidence(txt string) float64 {
	if strings.TrimSpace(txt) == "" {
		return 0
	}
	txtL := strings.ToLower(txt)
	score := 0.2
	if hasDatePattern(txtL) {
		score += 0.2
	}
	if hasCurrencyPattern(txtL) {
		score += 0.15
	}
	if hasAmountPattern(txtL) {
		score += 0.15
	}
	if len([]rune(txt)) > 120 {
		score += 0.1
	}
	return min(score, 1.0)
}

// blendConfidence weighs tesseract's word confidence over the heuristic when present.
func blendConfidence(wordConf, heur float64) float64 {
	if wordConf <= 0 {
		return heur
	}
	return min(0.7*wordConf+0.3*heur, 1.0)
}
