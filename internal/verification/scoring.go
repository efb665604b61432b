package verification

import (
	"math"
	"regexp"

	"regdesk/internal/verification/ocr"
	strutil "regdesk/pkg/string"
)

// keywordCategories each count once toward the keyword density. Patterns run
// against accent-folded, lowercased text.
var keywordCategories = []*regexp.Regexp{
	regexp.MustCompile(`\b(government|gouvernement)\b`),
	regexp.MustCompile(`\b(permanent|resident|card)\b`),
	regexp.MustCompile(`\b(name|nom)\b`),
	regexp.MustCompile(`\b(id no|no id)\b`),
	regexp.MustCompile(`\b(\d{2}-\d{4}-\d{4}|\d{4}-\d{4})\b`),
	regexp.MustCompile(`\b(nationality|nationalite)\b`),
	regexp.MustCompile(`\bcanada\b`),
	regexp.MustCompile(`\b(date of birth|date de naissance)\b`),
	regexp.MustCompile(`\b(expiry|expiration)\b`),
}

var (
	governmentToken = regexp.MustCompile(`(?i)government|gouvernement`)
	canadaToken     = regexp.MustCompile(`(?i)canada`)

	licenseNumber = regexp.MustCompile(`[A-Z]\d{4}-\d{5}-\d{5}`)
	licenseLabel  = regexp.MustCompile(`(?i)\b(driver|licence|license|dl)\b`)
)

// Layout ratio bounds for |dy|/|dx| between the top government token and the
// bottom canada token on a genuine card.
const (
	minLayoutRatio = 0.8
	maxLayoutRatio = 1.2
)

// Score computes all three signals for one token set.
func Score(tokens []ocr.Token) Scores {
	texts := ocr.Texts(tokens)
	return Scores{
		Keyword: KeywordScore(texts),
		Layout:  LayoutScore(tokens),
		License: LicenseScore(texts),
	}
}

// KeywordScore is the fraction of keyword categories present in any token,
// rounded to two decimals.
func KeywordScore(texts []string) float64 {
	folded := make([]string, len(texts))
	for i, t := range texts {
		folded[i] = strutil.Fold(t)
	}
	hits := 0
	for _, re := range keywordCategories {
		for _, t := range folded {
			if re.MatchString(t) {
				hits++
				break
			}
		}
	}
	return round2(float64(hits) / float64(len(keywordCategories)))
}

// LayoutScore is 1 when the government and canada anchors sit in the diagonal
// relationship of a printed card, else 0.
func LayoutScore(tokens []ocr.Token) float64 {
	var top, bottom *ocr.Token
	for i := range tokens {
		t := &tokens[i]
		if governmentToken.MatchString(t.Text) && (top == nil || t.CenterY < top.CenterY) {
			top = t
		}
		if canadaToken.MatchString(t.Text) && (bottom == nil || t.CenterY > bottom.CenterY) {
			bottom = t
		}
	}
	if top == nil || bottom == nil {
		return 0
	}
	dx := math.Abs(bottom.CenterX - top.CenterX)
	dy := math.Abs(bottom.CenterY - top.CenterY)
	if dx == 0 {
		return 0
	}
	ratio := dy / dx
	if ratio >= minLayoutRatio && ratio <= maxLayoutRatio {
		return 1
	}
	return 0
}

// LicenseScore is the fraction of driver's licence cues present.
func LicenseScore(texts []string) float64 {
	var number, label bool
	for _, t := range texts {
		number = number || licenseNumber.MatchString(t)
		label = label || licenseLabel.MatchString(t)
	}
	hits := 0
	if number {
		hits++
	}
	if label {
		hits++
	}
	return round2(float64(hits) / 2)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
