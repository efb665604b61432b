package verification

import "regdesk/internal/verification/ocr"

// DocType labels what the photo appears to be.
type DocType string

const (
	DocPRCard         DocType = "PR_CARD"
	DocHandwritten    DocType = "HANDWRITTEN"
	DocDriversLicense DocType = "DRIVERS_LICENSE"
	DocGenericPhotoID DocType = "GENERIC_PHOTO_ID"
)

// Source is the OCR tier whose tokens produced the verdict.
type Source string

const (
	SourceLocal Source = "local"
	SourceCloud Source = "cloud"
)

// Status is the outcome reported to callers. StatusError covers both faults and
// inconclusive checks; either way the registrant must not be auto-advanced.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Scores are the three independent signals computed from one OCR pass.
type Scores struct {
	Keyword float64 `json:"keyword"`
	Layout  float64 `json:"layout"`
	License float64 `json:"license"`
}

// Identity is what the registrant told us. CardNumber is compared literally.
type Identity struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	FullName   string `json:"full_name"`
	CardNumber string `json:"card_number"`
}

// Request describes one verification attempt.
type Request struct {
	ImageRef   string
	Identity   Identity
	Course     string
	CourseDate string
}

// Result is the IdentificationResult plus call status.
type Result struct {
	Reasons      []string  `json:"reasons"`
	DocTypes     []DocType `json:"doc_type"`
	Valid        bool      `json:"is_valid"`
	Confidence   float64   `json:"confidence"`
	RawText      []string  `json:"raw_text"`
	Status       Status    `json:"status"`
	Message      string    `json:"message"`
	ManualReview bool      `json:"manual_review"`
	Identity     Identity  `json:"identity"`
	Scores       Scores    `json:"scores"`
	Source       Source    `json:"source,omitempty"`
}

// Classification is the pure verdict derived from scores alone.
type Classification struct {
	Valid        bool
	DocTypes     []DocType
	Reasons      []string
	ManualReview bool
}

// Page is the token set from one OCR pass.
type Page struct {
	Source Source
	Tokens []ocr.Token
	Scores Scores
}
