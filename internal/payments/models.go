package payments

import "github.com/shopspring/decimal"

// Notification is one payment-processor email as received.
type Notification struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Event is what extraction recovers from a notification body.
type Event struct {
	FullName   string
	Amount     decimal.Decimal
	Course     string
	CourseDate string
}

// Status is the reconciliation outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Tier records which key located the registration.
type Tier string

const (
	TierPending   Tier = "pending"
	TierRepayment Tier = "repayment"
)

// Result is returned for every notification. Expected and Event are zero when
// reconciliation stopped before they were known.
type Result struct {
	Status   Status          `json:"status"`
	Message  string          `json:"message"`
	Tier     Tier            `json:"tier,omitempty"`
	Event    Event           `json:"-"`
	Expected decimal.Decimal `json:"-"`
}
