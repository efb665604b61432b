package records

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Registration is the typed view of one row: one registrant per course attempt.
type Registration struct {
	FormID           string
	SubmissionID     string
	FullName         string
	FirstName        string
	LastName         string
	Email            string
	PhoneNumber      string
	PRStatus         bool
	PRCardNumber     string
	AmountOfPayment  decimal.Decimal
	ActualPaidAmount string
	PRFileUploadURLs []string
	PayerFullName    string
	Course           string
	CourseDate       string
	PaymentLink      string
	Paid             PaidMarker
	PaymentStatus    bool
	PRCardValid      string
	PRCardDetails    string
	CreatedAt        string
	UpdatedAt        string
}

// PaidMarker is tri-state on disk but only two values are ever written: unset and True.
type PaidMarker string

const (
	PaidUnset PaidMarker = ""
	PaidTrue  PaidMarker = "True"
)

// IsSet reports whether the row has been marked paid.
func (p PaidMarker) IsSet() bool {
	return strings.TrimSpace(string(p)) != ""
}

// Fields renders the registration as Append input. Blank optional columns stay unset.
func (r Registration) Fields() Fields {
	f := Fields{
		string(ColFormID):          r.FormID,
		string(ColSubmissionID):    r.SubmissionID,
		string(ColFullName):        r.FullName,
		string(ColFirstName):       r.FirstName,
		string(ColLastName):        r.LastName,
		string(ColEmail):           r.Email,
		string(ColPhoneNumber):     r.PhoneNumber,
		string(ColPRStatus):        FormatBool(r.PRStatus),
		string(ColPRCardNumber):    r.PRCardNumber,
		string(ColAmountOfPayment): FormatAmount(r.AmountOfPayment),
		string(ColPayerFullName):   r.PayerFullName,
		string(ColCourse):          r.Course,
		string(ColCourseDate):      r.CourseDate,
		string(ColPaymentLink):     r.PaymentLink,
		string(ColPaid):            string(r.Paid),
	}
	if urls := FormatList(r.PRFileUploadURLs); urls != "" {
		f[string(ColPRFileUploadURLs)] = urls
	}
	if r.CreatedAt != "" {
		f[string(ColCreatedAt)] = r.CreatedAt
	}
	return f
}

// RegistrationFromRow converts a stored row. Unparseable amounts read as zero.
func RegistrationFromRow(row Row) Registration {
	amount, err := ParseAmount(row[ColAmountOfPayment])
	if err != nil {
		amount = decimal.Zero
	}
	return Registration{
		FormID:           row[ColFormID],
		SubmissionID:     row[ColSubmissionID],
		FullName:         row[ColFullName],
		FirstName:        row[ColFirstName],
		LastName:         row[ColLastName],
		Email:            row[ColEmail],
		PhoneNumber:      row[ColPhoneNumber],
		PRStatus:         ParseBool(row[ColPRStatus]),
		PRCardNumber:     row[ColPRCardNumber],
		AmountOfPayment:  amount,
		ActualPaidAmount: row[ColActualPaidAmount],
		PRFileUploadURLs: ParseList(row[ColPRFileUploadURLs]),
		PayerFullName:    row[ColPayerFullName],
		Course:           row[ColCourse],
		CourseDate:       row[ColCourseDate],
		PaymentLink:      row[ColPaymentLink],
		Paid:             PaidMarker(strings.TrimSpace(row[ColPaid])),
		PaymentStatus:    ParseBool(row[ColPaymentStatus]),
		PRCardValid:      row[ColPRCardValid],
		PRCardDetails:    row[ColPRCardDetails],
		CreatedAt:        row[ColCreatedAt],
		UpdatedAt:        row[ColUpdatedAt],
	}
}

// PendingKey addresses the row still awaiting payment for a registrant's course attempt.
func PendingKey(fullName, course, courseDate string) []Match {
	return []Match{
		Eq(ColFullName, fullName),
		Eq(ColCourse, course),
		Eq(ColCourseDate, courseDate),
		Unset(ColPaid),
	}
}

// RepaymentKey addresses a row already marked paid whose payment fell short.
func RepaymentKey(fullName, course, courseDate string) []Match {
	return []Match{
		Eq(ColFullName, fullName),
		Eq(ColCourse, course),
		Eq(ColCourseDate, courseDate),
		Eq(ColPaid, string(PaidTrue)),
		Eq(ColPaymentStatus, FormatBool(false)),
	}
}
