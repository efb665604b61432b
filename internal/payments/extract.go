package payments

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"

	dErrors "regdesk/pkg/domain-errors"
)

// DefaultVenueMarker follows the course title on the purchase line.
const DefaultVenueMarker = "@ UNI-Commons x CFSO"

const courseDateFallbackLayout = "January 2, 2006 at 3:04 PM"

var (
	namePattern   = regexp.MustCompile(`(?s)Participant['’]s Name.*?:\s*(.+?)\s*I have reviewed`)
	amountPattern = regexp.MustCompile(`(?i)New\s*CA\$([\d,]+\.\d{2})`)
	datePattern   = regexp.MustCompile(`(?i)([A-Za-z]+\s+\d{1,2},\s+\d{4}\s+at\s+\d{1,2}:\d{2}\s+[AP]M\s+[A-Z]{3})`)
)

// Extractor pulls payment facts out of a notification body.
type Extractor struct {
	venueMarker string
}

func NewExtractor(venueMarker string) *Extractor {
	if strings.TrimSpace(venueMarker) == "" {
		venueMarker = DefaultVenueMarker
	}
	return &Extractor{venueMarker: venueMarker}
}

// Extract requires a participant name and a positive amount. Course and date are
// best effort and stay empty when absent.
func (x *Extractor) Extract(body string) (Event, error) {
	var ev Event

	if m := namePattern.FindStringSubmatch(body); m != nil {
		ev.FullName = strings.TrimSpace(strings.ReplaceAll(m[1], ",", ""))
	}
	if m := amountPattern.FindStringSubmatch(body); m != nil {
		if amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "")); err == nil {
			ev.Amount = amount
		}
	}
	if ev.FullName == "" || !ev.Amount.IsPositive() {
		return Event{}, dErrors.New(dErrors.CodeExtraction, "participant name or paid amount not found")
	}

	if m := datePattern.FindStringSubmatch(body); m != nil {
		if d, err := ParseCourseDate(m[1]); err == nil {
			ev.CourseDate = d
		}
	}
	ev.Course = x.course(body)
	return ev, nil
}

// course returns the text before the venue marker on the first line that is not
// the purchase banner.
func (x *Extractor) course(body string) string {
	for line := range strings.Lines(body) {
		if strings.Contains(line, "New purchase") {
			continue
		}
		idx := strings.Index(line, x.venueMarker)
		if idx < 0 {
			continue
		}
		if title := strings.TrimSpace(line[:idx]); title != "" {
			return title
		}
	}
	return ""
}

// ParseCourseDate turns "November 9, 2025 at 9:30 AM EST" into "2025-11-09".
// The trailing zone is dropped when the flexible parser rejects the string.
func ParseCourseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := dateparse.ParseAny(s); err == nil {
		return t.Format(time.DateOnly), nil
	}
	noTZ := s
	if i := strings.LastIndexByte(s, ' '); i > 0 {
		noTZ = s[:i]
	}
	t, err := time.Parse(courseDateFallbackLayout, noTZ)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeExtraction, "unrecognised course date")
	}
	return t.Format(time.DateOnly), nil
}
