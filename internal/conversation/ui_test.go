package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractUIAction(t *testing.T) {
	tests := []struct {
		in         string
		wantText   string
		wantAction UIAction
	}{
		{"Pick a course [SHOW_COURSE_SELECTOR]", "Pick a course", UIShowCourseSelector},
		{"plain reply", "plain reply", UIText},
		{"Verified. [SHOW_UPLOAD]\n\nPay here [SHOW_PAYMENT]", "Verified.\n\nPay here", UIShowPayment},
		{"[UNKNOWN_TAG] stays", "[UNKNOWN_TAG] stays", UIText},
	}
	for _, tt := range tests {
		text, action := ExtractUIAction(tt.in)
		assert.Equal(t, tt.wantText, text)
		assert.Equal(t, tt.wantAction, action)
	}
}
