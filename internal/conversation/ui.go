package conversation

import (
	"regexp"
	"strings"
)

// UIAction is the client directive carried by a reply.
type UIAction string

const (
	UIText                 UIAction = "text"
	UIShowCourseSelector   UIAction = "SHOW_COURSE_SELECTOR"
	UIShowUpload           UIAction = "SHOW_UPLOAD"
	UIShowRegistrationForm UIAction = "SHOW_REGISTRATION_FORM"
	UIShowPayment          UIAction = "SHOW_PAYMENT"
	UISuccessCompletion    UIAction = "SUCCESS_COMPLETION"
)

var uiTag = regexp.MustCompile(`\s*\[(SHOW_COURSE_SELECTOR|SHOW_UPLOAD|SHOW_REGISTRATION_FORM|SHOW_PAYMENT|SUCCESS_COMPLETION)\]`)

// tag renders a UI directive for embedding in reply text.
func tag(a UIAction) string {
	return " [" + string(a) + "]"
}

// ExtractUIAction strips every tag from text and returns the last one, or UIText.
func ExtractUIAction(text string) (string, UIAction) {
	action := UIText
	for _, m := range uiTag.FindAllStringSubmatch(text, -1) {
		action = UIAction(m[1])
	}
	return strings.TrimSpace(uiTag.ReplaceAllString(text, "")), action
}
