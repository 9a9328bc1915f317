package extract

import (
	"iter"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

// EntityPattern maps a regex onto an entity kind. Add locales by appending rows.
type EntityPattern struct {
	Kind entity.EntityKind
	Re   *regexp.Regexp
	// Normalize turns the raw match into Entity.Value; nil keeps the trimmed match.
	Normalize func(raw string) string
}

var (
	reAmount     = regexp.MustCompile(`[$¥€£￥]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:million|billion|thousand|[MBK])\b)?|\d[\d,]*(?:\.\d+)?\s?(?:億円|万円|千円|円|億ドル|万ドル|USD|JPY|EUR|dollars|yen)`)
	rePercentage = regexp.MustCompile(`\d+(?:\.\d+)?\s?(?:%|％|percent\b)`)
	reDate       = regexp.MustCompile(`\b(?:19|20)\d{2}[-/.](?:1[0-2]|0?[1-9])(?:[-/.](?:3[01]|[12]\d|0?[1-9]))?\b|(?:19|20)\d{2}年\d{1,2}月(?:\d{1,2}日)?|\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.? \d{1,2},? (?:19|20)\d{2}\b`)
	reCompany    = regexp.MustCompile(`\b[A-Z][A-Za-z0-9&\-]*(?: [A-Z][A-Za-z0-9&\-]*){0,3},? (?:Inc|Corp|Corporation|Ltd|LLC|GmbH|Co\., Ltd|K\.K)\b\.?|(?:株式会社|有限会社)[^\s、。,()（）]{1,20}|[^\s、。,()（）]{1,20}(?:株式会社|有限会社)`)

	reMarketContext = regexp.MustCompile(`(?i)market|share|demand|growth|\bTAM\b|\bSAM\b|市場|シェア|需要|成長`)
)

// DefaultEntityPatterns is the built-in pattern table.
var DefaultEntityPatterns = []EntityPattern{
	{Kind: entity.EntityAmount, Re: reAmount, Normalize: normalizeAmount},
	{Kind: entity.EntityPercentage, Re: rePercentage, Normalize: normalizePercentage},
	{Kind: entity.EntityDate, Re: reDate},
	{Kind: entity.EntityCompany, Re: reCompany},
}

// marketWindow is how many bytes around an amount are searched for market keywords.
const marketWindow = 80

// Entities lazily yields every match of every pattern, pattern by pattern, in text order.
func Entities(text string, patterns []EntityPattern) iter.Seq[entity.Entity] {
	return func(yield func(entity.Entity) bool) {
		for _, p := range patterns {
			pos := 0
			for pos < len(text) {
				loc := p.Re.FindStringIndex(text[pos:])
				if loc == nil {
					break
				}
				start, end := pos+loc[0], pos+loc[1]
				if end == start {
					pos = end + 1
					continue
				}
				raw := strings.TrimSpace(text[start:end])
				value := raw
				if p.Normalize != nil {
					value = p.Normalize(raw)
				}
				if !yield(entity.Entity{Kind: p.Kind, Value: value, Raw: raw, Offset: start}) {
					return
				}
				pos = end
			}
		}
	}
}

// detectStructured buckets entities: amounts and percentages near market vocabulary feed
// MarketData, companies feed CompetitorData; Entities keeps at most limit matches.
func detectStructured(text string, patterns []EntityPattern, limit int) entity.StructuredData {
	var sd entity.StructuredData
	for e := range Entities(text, patterns) {
		if limit > 0 && len(sd.Entities) >= limit {
			break
		}
		sd.Entities = append(sd.Entities, e)
		switch e.Kind {
		case entity.EntityAmount, entity.EntityPercentage:
			if nearMarketKeyword(text, e.Offset, len(e.Raw)) {
				sd.MarketData = append(sd.MarketData, e)
			}
		case entity.EntityCompany:
			sd.CompetitorData = append(sd.CompetitorData, e)
		}
	}
	return sd
}

func nearMarketKeyword(text string, offset, length int) bool {
	lo := max(0, offset-marketWindow)
	hi := min(len(text), offset+length+marketWindow)
	return reMarketContext.MatchString(text[lo:hi])
}

func normalizeAmount(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizePercentage(raw string) string {
	return normalizeAmount(raw)
}
