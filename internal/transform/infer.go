package transform

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

type keywordRule struct {
	dataType entity.TableDataType
	re       *regexp.Regexp
}

// dataTypeRules are checked in order; on equal hit counts the earlier rule wins.
var dataTypeRules = []keywordRule{
	{entity.DataMarket, regexp.MustCompile(`(?i)\bmarket|\bshare\b|\bdemand\b|\bgrowth\b|\bTAM\b|\bSAM\b|\bSOM\b|\bCAGR\b|市場|シェア|需要|成長率`)},
	{entity.DataCompetitor, regexp.MustCompile(`(?i)\bcompetitor|\brival|\bcompan(?:y|ies)\b|\bvendor|\bplayer|競合|競争|他社|企業`)},
	{entity.DataFinancial, regexp.MustCompile(`(?i)\brevenue|\bprofit|\bcost|\bbudget|\bsales\b|\bincome\b|\bexpense|\bEBITDA\b|売上|利益|費用|予算|収益`)},
}

// inferDataType scores the title, headers and leading rows against the keyword table.
func inferDataType(title string, headers []string, rows [][]entity.Cell) entity.TableDataType {
	text := tableText(title, headers, rows, 5)
	best, bestHits := entity.DataGeneral, 0
	for _, r := range dataTypeRules {
		if hits := len(r.re.FindAllStringIndex(text, -1)); hits > bestHits {
			best, bestHits = r.dataType, hits
		}
	}
	return best
}

func tableText(title string, headers []string, rows [][]entity.Cell, maxRows int) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteByte('\n')
	b.WriteString(strings.Join(headers, " "))
	for i, row := range rows {
		if i >= maxRows {
			break
		}
		b.WriteByte('\n')
		for _, c := range row {
			if !c.IsNumber {
				b.WriteString(c.Text)
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}

var currencyRules = []struct {
	code string
	re   *regexp.Regexp
}{
	{"JPY", regexp.MustCompile(`¥|￥|円|\bJPY\b|\byen\b`)},
	{"USD", regexp.MustCompile(`\$|\bUSD\b|\bdollars?\b|ドル`)},
	{"EUR", regexp.MustCompile(`€|\bEUR\b|\beuros?\b|ユーロ`)},
	{"GBP", regexp.MustCompile(`£|\bGBP\b`)},
}

var regionRules = []struct {
	name string
	re   *regexp.Regexp
}{
	{"Japan", regexp.MustCompile(`(?i)\bjapan(?:ese)?\b|日本|国内`)},
	{"Global", regexp.MustCompile(`(?i)\bglobal\b|\bworldwide\b|世界|グローバル`)},
	{"North America", regexp.MustCompile(`(?i)\bnorth america\b|\bUS\b|\bU\.S\.|\bUSA\b|米国|北米`)},
	{"Europe", regexp.MustCompile(`(?i)\beurope(?:an)?\b|\bEU\b|欧州`)},
	{"Asia", regexp.MustCompile(`(?i)\basia(?:n)?\b|\bAPAC\b|アジア`)},
}

var rePeriod = regexp.MustCompile(`\bFY ?(?:19|20)\d{2}\b|\bQ[1-4] ?(?:19|20)\d{2}\b|(?:19|20)\d{2}年度|(?:19|20)\d{2} ?[-–~〜] ?(?:19|20)\d{2}|(?:19|20)\d{2}(?:年|\b)`)

func detectCurrency(texts ...string) string {
	for _, t := range texts {
		for _, r := range currencyRules {
			if r.re.MatchString(t) {
				return r.code
			}
		}
	}
	return ""
}

func detectRegion(texts ...string) string {
	for _, t := range texts {
		for _, r := range regionRules {
			if r.re.MatchString(t) {
				return r.name
			}
		}
	}
	return ""
}

// detectPeriod returns the first period mention, or the span between the first and last
// year column header when the headers are years.
func detectPeriod(headers []string, texts ...string) string {
	var years []string
	for _, h := range headers {
		if m := rePeriod.FindString(h); m != "" {
			years = append(years, strings.TrimSpace(m))
		}
	}
	switch {
	case len(years) > 1:
		return years[0] + "-" + years[len(years)-1]
	case len(years) == 1:
		return years[0]
	}
	for _, t := range texts {
		if m := rePeriod.FindString(t); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}
