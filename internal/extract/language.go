package extract

import "unicode"

// detectLanguage classifies text by script: ja|zh|ko|en|unknown.
func detectLanguage(text string) string {
	var kana, han, hangul, latin, letters int
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Latin, r):
			latin++
		default:
			continue
		}
		letters++
	}
	if letters == 0 {
		return "unknown"
	}
	cjkShare := func(n int) bool { return float64(n)/float64(letters) >= 0.1 }
	switch {
	case kana > 0 && cjkShare(kana+han):
		return "ja"
	case cjkShare(hangul):
		return "ko"
	case cjkShare(han):
		return "zh"
	case latin > 0:
		return "en"
	}
	return "unknown"
}
