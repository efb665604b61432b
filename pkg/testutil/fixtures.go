package testutil

import (
	"github.com/shopspring/decimal"

	"regdesk/internal/records"
)

// RegistrationBuilder builds registration rows for tests.
type RegistrationBuilder struct {
	reg records.Registration
}

// NewRegistrationBuilder starts from an unpaid PR registrant for a first aid course.
func NewRegistrationBuilder() *RegistrationBuilder {
	return &RegistrationBuilder{
		reg: records.Registration{
			FullName:        "Jane Doe",
			FirstName:       "Jane",
			LastName:        "Doe",
			Email:           "jane@example.com",
			PhoneNumber:     "416-555-0100",
			PRStatus:        true,
			PRCardNumber:    "12-3456-7890",
			AmountOfPayment: decimal.RequireFromString("125"),
			Course:          "Standard First Aid",
			CourseDate:      "2025-12-05",
		},
	}
}

func (b *RegistrationBuilder) WithName(first, last string) *RegistrationBuilder {
	b.reg.FirstName = first
	b.reg.LastName = last
	b.reg.FullName = first + " " + last
	return b
}

func (b *RegistrationBuilder) WithCourse(course, date string) *RegistrationBuilder {
	b.reg.Course = course
	b.reg.CourseDate = date
	return b
}

func (b *RegistrationBuilder) WithAmount(amount string) *RegistrationBuilder {
	b.reg.AmountOfPayment = decimal.RequireFromString(amount)
	return b
}

func (b *RegistrationBuilder) NonPR() *RegistrationBuilder {
	b.reg.PRStatus = false
	b.reg.PRCardNumber = ""
	return b
}

func (b *RegistrationBuilder) Paid() *RegistrationBuilder {
	b.reg.Paid = records.PaidTrue
	return b
}

func (b *RegistrationBuilder) Build() records.Registration {
	return b.reg
}

// Fields is shorthand for Build().Fields().
func (b *RegistrationBuilder) Fields() records.Fields {
	return b.reg.Fields()
}
