package conversation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	dErrors "regdesk/pkg/domain-errors"
	s "regdesk/pkg/string"
	"regdesk/pkg/validation"
)

// Form is the registration form as submitted by the client widget, either as a
// JSON object or as "Label: value" lines.
type Form struct {
	FirstName      string `validate:"required,notblank"`
	LastName       string `validate:"required,notblank"`
	Email          string `validate:"required,email"`
	PhoneNumber    string `validate:"required,phone"`
	PayerFirstName string
	PayerLastName  string
	IsPR           bool
	PRCardNumber   string `validate:"required_if=IsPR true"`
}

func (f Form) FullName() string {
	return s.CollapseSpaces(f.FirstName + " " + f.LastName)
}

// PayerFullName falls back to the registrant when no payer was given.
func (f Form) PayerFullName() string {
	if payer := s.CollapseSpaces(f.PayerFirstName + " " + f.PayerLastName); payer != "" {
		return payer
	}
	return f.FullName()
}

var formAliases = map[string]string{
	"first":          "first_name",
	"firstname":      "first_name",
	"legalfirstname": "first_name",
	"last":           "last_name",
	"lastname":       "last_name",
	"legallastname":  "last_name",
	"email":          "email",
	"emailaddress":   "email",
	"phone":          "phone_number",
	"phonenumber":    "phone_number",
	"payerfirstname": "payer_first_name",
	"payerlastname":  "payer_last_name",
	"pr":             "is_pr",
	"ispr":           "is_pr",
	"prstatus":       "is_pr",
	"areyou":         "is_pr",
	"prcard":         "pr_card_number",
	"prcardnumber":   "pr_card_number",
	"cardnumber":     "pr_card_number",
}

// ParseForm reads and validates a submitted form. It returns CodeExtraction when
// no recognisable field is present and CodeValidation for invalid values.
func ParseForm(text string) (Form, error) {
	fields := formFields(text)
	if len(fields) == 0 {
		return Form{}, dErrors.New(dErrors.CodeExtraction, "no registration fields found")
	}
	f := Form{
		FirstName:      fields["first_name"],
		LastName:       fields["last_name"],
		Email:          fields["email"],
		PhoneNumber:    fields["phone_number"],
		PayerFirstName: fields["payer_first_name"],
		PayerLastName:  fields["payer_last_name"],
		IsPR:           truthy(fields["is_pr"]),
		PRCardNumber:   fields["pr_card_number"],
	}
	s.TrimStrings(&f.FirstName, &f.LastName, &f.Email, &f.PhoneNumber,
		&f.PayerFirstName, &f.PayerLastName, &f.PRCardNumber)
	if !f.IsPR {
		f.PRCardNumber = ""
	}
	if err := validation.Validate(f); err != nil {
		return Form{}, err
	}
	return f, nil
}

func formFields(text string) map[string]string {
	out := map[string]string{}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") {
		var raw map[string]any
		if err := json.Unmarshal([]byte(text), &raw); err == nil {
			for k, v := range raw {
				if name, ok := formAliases[normalizeLabel(k)]; ok {
					out[name] = stringify(v)
				}
			}
			return out
		}
	}
	for line := range strings.Lines(text) {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			label, value, ok = strings.Cut(line, "=")
		}
		if !ok {
			continue
		}
		if name, known := formAliases[normalizeLabel(label)]; known {
			out[name] = strings.TrimSpace(value)
		}
	}
	return out
}

func normalizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// truthy accepts booleans and the form's "Yes I am a PR" style answers.
func truthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v == "y" || strings.HasPrefix(v, "yes")
}
