// Package notify publishes workflow notifications for staff and registrants.
// Delivery (email, chat) happens downstream of the sink.
package notify

import "time"

// Kind names a notification type. Values are part of the wire format.
type Kind string

const (
	KindPaymentShortfall     Kind = "payment_shortfall"
	KindPaymentFailed        Kind = "payment_failed"
	KindManualReview         Kind = "manual_review"
	KindPaymentReminder      Kind = "payment_reminder"
	KindRegistrationReceived Kind = "registration_received"
)

// Event is emitted from domain logic when someone has to be told something.
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	OccurredAt time.Time         `json:"occurred_at"`
	Recipient  string            `json:"recipient,omitempty"`
	FullName   string            `json:"full_name,omitempty"`
	Course     string            `json:"course,omitempty"`
	CourseDate string            `json:"course_date,omitempty"`
	Message    string            `json:"message"`
	Data       map[string]string `json:"data,omitempty"`
}
