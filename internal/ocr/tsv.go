package ocr

import (
	"strconv"
	"strings"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

// tsv column layout emitted by `tesseract ... tsv`
const (
	colLevel = iota
	colPage
	colBlock
	colPar
	colLine
	colWord
	colLeft
	colTop
	colWidth
	colHeight
	colConf
	colText
	tsvColumns
)

const wordLevel = "5"

type tsvPage struct {
	text     string
	words    []entity.OCRWord
	meanConf float64 // 0..1, 0 when no word carried a confidence
}

// parseTSV rebuilds line-broken text from word rows and collects per-word confidence.
func parseTSV(out []byte) tsvPage {
	var (
		b                     strings.Builder
		words                 []entity.OCRWord
		sum                   float64
		n                     int
		lastBlock, lastPar    = "", ""
		lastLine              = ""
		lineHasWord, anyWords bool
	)
	for i, ln := range strings.Split(string(out), "\n") {
		if i == 0 || ln == "" {
			continue // header
		}
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < tsvColumns || cols[colLevel] != wordLevel {
			continue
		}
		text := strings.TrimSpace(cols[len(cols)-1])
		if text == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[colConf], 64)
		if err != nil {
			conf = -1
		}

		switch {
		case !anyWords:
		case cols[colBlock] != lastBlock || cols[colPar] != lastPar:
			b.WriteString("\n\n")
			lineHasWord = false
		case cols[colLine] != lastLine:
			b.WriteString("\n")
			lineHasWord = false
		}
		if lineHasWord {
			b.WriteByte(' ')
		}
		b.WriteString(text)
		lineHasWord, anyWords = true, true
		lastBlock, lastPar, lastLine = cols[colBlock], cols[colPar], cols[colLine]

		w := entity.OCRWord{
			Text:   text,
			Left:   atoi(cols[colLeft]),
			Top:    atoi(cols[colTop]),
			Width:  atoi(cols[colWidth]),
			Height: atoi(cols[colHeight]),
		}
		if conf >= 0 {
			w.Confidence = conf / 100.0
			sum += conf
			n++
		}
		words = append(words, w)
	}
	page := tsvPage{text: b.String(), words: words}
	if n > 0 {
		page.meanConf = sum / float64(n) / 100.0
	}
	return page
}

func atoi(s string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(s))
	return v
}
