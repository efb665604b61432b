package verification

import (
	"fmt"
	"strings"

	"regdesk/internal/verification/ocr"
)

const (
	KeywordThreshold = 0.77
	LayoutThreshold  = 0.33
	LicenseThreshold = 0.5
)

// AcceptLocal reports whether a local pass is trusted without escalation.
func AcceptLocal(s Scores) bool {
	return s.Keyword > KeywordThreshold && s.Layout >= LayoutThreshold && s.License < LicenseThreshold
}

// Classify maps scores onto a verdict. It is a pure function of the three scores.
//
//	keyword > 0.77                     -> valid PR_CARD
//	  and layout < 0.33                -> invalid, +HANDWRITTEN, manual review
//	  and license >= 0.5               -> invalid, DRIVERS_LICENSE only, manual review
//	keyword <= 0.77                    -> invalid GENERIC_PHOTO_ID
func Classify(s Scores) Classification {
	if s.Keyword <= KeywordThreshold {
		return Classification{
			DocTypes: []DocType{DocGenericPhotoID},
			Reasons:  []string{"PR card keyword confidence is below the threshold."},
		}
	}

	c := Classification{
		Valid:    true,
		DocTypes: []DocType{DocPRCard},
		Reasons:  []string{"PR card keyword confidence is above the threshold."},
	}
	if s.Layout < LayoutThreshold {
		c.Valid = false
		c.ManualReview = true
		c.DocTypes = append(c.DocTypes, DocHandwritten)
		c.Reasons = append(c.Reasons, "Very little structured text; likely a hand-written note.")
	}
	if s.License >= LicenseThreshold {
		c.Valid = false
		c.ManualReview = true
		c.DocTypes = []DocType{DocDriversLicense}
		c.Reasons = append(c.Reasons, fmt.Sprintf("Driver's licence cues (score=%.2f).", s.License))
	}
	return c
}

// IdentityMatch reports which expected identity values appear in the tokens.
type IdentityMatch struct {
	FirstName  bool
	LastName   bool
	CardNumber bool
}

// Complete reports whether both names and the card number were found.
func (m IdentityMatch) Complete() bool {
	return m.FirstName && m.LastName && m.CardNumber
}

// CrossCheck searches each token, case-insensitively, for the expected names and
// card number. Blank expected values never match.
func CrossCheck(tokens []ocr.Token, id Identity) IdentityMatch {
	first := strings.ToLower(strings.TrimSpace(id.FirstName))
	last := strings.ToLower(strings.TrimSpace(id.LastName))
	card := strings.ToLower(strings.TrimSpace(id.CardNumber))

	var m IdentityMatch
	for _, t := range tokens {
		text := strings.ToLower(t.Text)
		m.FirstName = m.FirstName || (first != "" && strings.Contains(text, first))
		m.LastName = m.LastName || (last != "" && strings.Contains(text, last))
		m.CardNumber = m.CardNumber || (card != "" && strings.Contains(text, card))
		if m.Complete() {
			break
		}
	}
	return m
}
