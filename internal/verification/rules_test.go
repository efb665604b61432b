package verification

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"regdesk/internal/verification/ocr"
)

func TestClassifyDecisionTable(t *testing.T) {
	tests := []struct {
		name         string
		scores       Scores
		valid        bool
		docTypes     []DocType
		manualReview bool
	}{
		{"clean card", Scores{Keyword: 0.85, Layout: 0.5, License: 0.1}, true, []DocType{DocPRCard}, false},
		{"keyword at threshold", Scores{Keyword: 0.77, Layout: 1, License: 0}, false, []DocType{DocGenericPhotoID}, false},
		{"low keyword ignores other signals", Scores{Keyword: 0.3, Layout: 0, License: 1}, false, []DocType{DocGenericPhotoID}, false},
		{"poor layout", Scores{Keyword: 0.89, Layout: 0, License: 0}, false, []DocType{DocPRCard, DocHandwritten}, true},
		{"layout at threshold", Scores{Keyword: 0.89, Layout: 0.33, License: 0}, true, []DocType{DocPRCard}, false},
		{"licence cues", Scores{Keyword: 0.89, Layout: 1, License: 0.5}, false, []DocType{DocDriversLicense}, true},
		{"licence replaces handwritten", Scores{Keyword: 1, Layout: 0, License: 1}, false, []DocType{DocDriversLicense}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.scores)
			assert.Equal(t, tt.valid, got.Valid)
			assert.Equal(t, tt.docTypes, got.DocTypes)
			assert.Equal(t, tt.manualReview, got.ManualReview)
			assert.NotEmpty(t, got.Reasons)
		})
	}
}

// TestClassifyIsDeterministic sweeps the score grid: the same scores always give
// the same verdict and validity only ever comes with PR_CARD alone.
func TestClassifyIsDeterministic(t *testing.T) {
	steps := []float64{0, 0.11, 0.33, 0.5, 0.77, 0.78, 0.89, 1}
	for _, k := range steps {
		for _, l := range []float64{0, 0.33, 1} {
			for _, d := range []float64{0, 0.5, 1} {
				s := Scores{Keyword: k, Layout: l, License: d}
				first, second := Classify(s), Classify(s)
				assert.Equal(t, first, second)
				if first.Valid {
					assert.Equal(t, []DocType{DocPRCard}, first.DocTypes)
				}
			}
		}
	}
}

func TestAcceptLocal(t *testing.T) {
	assert.True(t, AcceptLocal(Scores{Keyword: 0.78, Layout: 0.33, License: 0.49}))
	assert.False(t, AcceptLocal(Scores{Keyword: 0.77, Layout: 1, License: 0}))
	assert.False(t, AcceptLocal(Scores{Keyword: 1, Layout: 0.32, License: 0}))
	assert.False(t, AcceptLocal(Scores{Keyword: 1, Layout: 1, License: 0.5}))
}

func TestCrossCheck(t *testing.T) {
	id := Identity{FirstName: "Jane", LastName: "Doe", CardNumber: "12-3456-7890"}

	t.Run("all values found", func(t *testing.T) {
		assert.True(t, CrossCheck(prCardTokens(), id).Complete())
	})

	t.Run("name absent", func(t *testing.T) {
		m := CrossCheck(prCardTokens(), Identity{FirstName: "Maria", LastName: "Doe", CardNumber: "12-3456-7890"})
		assert.False(t, m.FirstName)
		assert.True(t, m.LastName)
		assert.False(t, m.Complete())
	})

	t.Run("card number absent", func(t *testing.T) {
		m := CrossCheck([]ocr.Token{{Text: "JANE DOE"}}, id)
		assert.False(t, m.CardNumber)
	})

	t.Run("blank expectation never matches", func(t *testing.T) {
		m := CrossCheck(prCardTokens(), Identity{FirstName: " ", LastName: "Doe", CardNumber: "12-3456-7890"})
		assert.False(t, m.FirstName)
	})
}
