package records

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column is a declared column of the registration table.
type Column string

const (
	ColFormID                Column = "Form_ID"
	ColSubmissionID          Column = "Submission_ID"
	ColFullName              Column = "Full_Name"
	ColFirstName             Column = "First_Name"
	ColLastName              Column = "Last_Name"
	ColEmail                 Column = "Email"
	ColPhoneNumber           Column = "Phone_Number"
	ColPRStatus              Column = "PR_Status"
	ColPRCardNumber          Column = "PR_Card_Number"
	ColAmountOfPayment       Column = "Amount_of_Payment"
	ColActualPaidAmount      Column = "Actual_Paid_Amount"
	ColPRFileUploadURLs      Column = "PR_File_Upload_URLs"
	ColPayerFullName         Column = "Payer_Full_Name"
	ColCourse                Column = "Course"
	ColCourseDate            Column = "Course_Date"
	ColPaymentLink           Column = "Payment_Link"
	ColPaid                  Column = "Paid"
	ColPaymentStatus         Column = "Payment_Status"
	ColPRCardValid           Column = "PR_Card_Valid"
	ColPRCardValidConfidence Column = "PR_Card_Valid_Confidence"
	ColPRCardDetails         Column = "PR_Card_Details"
	ColCreatedAt             Column = "Created_At"
	ColUpdatedAt             Column = "Updated_At"
)

// Columns is the declared column set, in file order.
var Columns = []Column{
	ColFormID,
	ColSubmissionID,
	ColFullName,
	ColFirstName,
	ColLastName,
	ColEmail,
	ColPhoneNumber,
	ColPRStatus,
	ColPRCardNumber,
	ColAmountOfPayment,
	ColActualPaidAmount,
	ColPRFileUploadURLs,
	ColPayerFullName,
	ColCourse,
	ColCourseDate,
	ColPaymentLink,
	ColPaid,
	ColPaymentStatus,
	ColPRCardValid,
	ColPRCardValidConfidence,
	ColPRCardDetails,
	ColCreatedAt,
	ColUpdatedAt,
}

var columnIndex = func() map[string]Column {
	idx := make(map[string]Column, len(Columns))
	for _, c := range Columns {
		idx[strings.ToLower(string(c))] = c
	}
	return idx
}()

// ParseColumn resolves a field name to a declared column, ignoring case.
func ParseColumn(name string) (Column, bool) {
	c, ok := columnIndex[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Layouts for the timestamp columns.
const (
	CreatedAtLayout = time.DateOnly
	UpdatedAtLayout = time.RFC3339
)

// Fields is loosely keyed input: keys are matched to columns case-insensitively.
type Fields map[string]string

// Row is one stored record. A missing key is a NULL cell.
type Row map[Column]string

// Clone returns a copy that callers may mutate.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Match selects rows by one column. An empty or whitespace Value selects rows where
// the column is NULL or blank, which is how "not yet set" is expressed.
type Match struct {
	Column Column
	Value  string
}

// Eq matches a column against value.
func Eq(col Column, value string) Match {
	return Match{Column: col, Value: value}
}

// Unset matches rows where col has never been written.
func Unset(col Column) Match {
	return Match{Column: col}
}

// Matches reports whether row satisfies every match.
func Matches(row Row, matches []Match) bool {
	for _, m := range matches {
		if !m.accepts(row) {
			return false
		}
	}
	return true
}

func (m Match) accepts(row Row) bool {
	want := strings.TrimSpace(m.Value)
	got, present := row[m.Column]
	got = strings.TrimSpace(got)
	if want == "" {
		return !present || got == ""
	}
	return strings.EqualFold(got, want)
}

// FormatBool renders booleans the way the table has always stored them.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// ParseBool accepts True/False in any case plus the usual strconv forms. Blank is false.
func ParseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return strings.EqualFold(strings.TrimSpace(s), "yes")
	}
	return b
}

// FormatAmount renders an amount with two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ParseAmount parses a stored amount, tolerating a leading "$" or "CA$" and thousands separators.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "CA")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	return decimal.NewFromString(s)
}

// FormatList renders a list column as a JSON array.
func FormatList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// ParseList reads a JSON array column. A non-JSON value is treated as a single item.
func ParseList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return []string{s}
	}
	return items
}
