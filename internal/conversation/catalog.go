package conversation

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

// nonPRRate is applied to the list price for registrants without PR status.
var nonPRRate = decimal.RequireFromString("1.13")

var coursePrefix = regexp.MustCompile(`(?:(\d{4})\.)?(\d{1,2})\.(\d{1,2})\s*\([A-Za-z]{3}\)`)

// Course is one offering. Name may carry a date prefix such as "2025.12.05 (Fri)".
type Course struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	PaymentLink string          `json:"payment_link"`
}

// Split separates the dated prefix from the title. A prefix without a year takes
// the year of now. Names without a prefix return an empty date.
func (c Course) Split(now time.Time) (title, date string) {
	loc := coursePrefix.FindStringSubmatchIndex(c.Name)
	if loc == nil {
		return strings.TrimSpace(c.Name), ""
	}
	year := now.Year()
	if loc[2] >= 0 {
		year, _ = strconv.Atoi(c.Name[loc[2]:loc[3]])
	}
	month, _ := strconv.Atoi(c.Name[loc[4]:loc[5]])
	day, _ := strconv.Atoi(c.Name[loc[6]:loc[7]])
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Month() != time.Month(month) || d.Day() != day {
		return strings.TrimSpace(c.Name), ""
	}
	return strings.TrimSpace(c.Name[loc[1]:]), d.Format(time.DateOnly)
}

// Amount is the price owed: the list price for PR holders, otherwise the list
// price times 1.13 rounded to cents.
func (c Course) Amount(isPR bool) decimal.Decimal {
	if isPR {
		return c.Price
	}
	return c.Price.Mul(nonPRRate).Round(2)
}

// DefaultCourses is the catalog used when no courses file is configured.
func DefaultCourses() []Course {
	return []Course{
		{
			ID:          "sfa",
			Name:        "2025.12.05 (Fri) Standard First Aid",
			Price:       decimal.NewFromInt(125),
			Description: "Learn how to perform CPR and First Aid",
			PaymentLink: "https://www.zeffy.com/ticketing/standard-first-aid-with-cpr-level-c-and-aed-certification-uni-commons-x-cfso",
		},
		{
			ID:          "mft",
			Name:        "2025.07.06 (Sat) Mask Fit Testing",
			Price:       decimal.NewFromInt(80),
			Description: "Respirator mask fit testing",
			PaymentLink: "https://www.zeffy.com/ticketing/red-cross-standard-cpr-aed-level-c--20250706",
		},
		{
			ID:          "bjj",
			Name:        "2025.08.15 (Fri) Brazilian Jiu-Jitsu Training",
			Price:       decimal.NewFromInt(100),
			Description: "Brazilian Jiu-Jitsu Training",
			PaymentLink: "https://www.zeffy.com/ticketing/brazilian-jiu-jitsu-training-courses-pr",
		},
		{
			ID:          "fhc",
			Name:        "2025.09.10 (Wed) Food Handler Certification",
			Price:       decimal.NewFromInt(90),
			Description: "Food Handler Certification",
			PaymentLink: "https://www.zeffy.com/ticketing/food-handler-certification-course",
		},
	}
}

// Catalog resolves free-text course choices.
type Catalog struct {
	courses []Course
	now     func() time.Time
}

func NewCatalog(courses []Course, now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	return &Catalog{courses: courses, now: now}
}

// LoadCatalog reads a JSON array of courses. An empty path yields DefaultCourses.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultCourses(), nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read courses file: %w", err)
	}
	var courses []Course
	if err := json.Unmarshal(data, &courses); err != nil {
		return nil, fmt.Errorf("parse courses file: %w", err)
	}
	if len(courses) == 0 {
		return nil, fmt.Errorf("courses file %s is empty", path)
	}
	return NewCatalog(courses, nil), nil
}

// Courses returns the catalog in display order.
func (c *Catalog) Courses() []Course {
	return append([]Course(nil), c.courses...)
}

func (c *Catalog) ByID(id string) (Course, bool) {
	for _, course := range c.courses {
		if strings.EqualFold(course.ID, strings.TrimSpace(id)) {
			return course, true
		}
	}
	return Course{}, false
}

// Split is Course.Split against the catalog clock.
func (c *Catalog) Split(course Course) (title, date string) {
	return course.Split(c.now())
}

// Resolve maps user input to a course: by list number, id, a unique substring
// of the name, and finally by the closest title within a small edit distance.
func (c *Catalog) Resolve(input string) (Course, bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" {
		return Course{}, false
	}
	if n, err := strconv.Atoi(in); err == nil && n >= 1 && n <= len(c.courses) {
		return c.courses[n-1], true
	}
	if course, ok := c.ByID(in); ok {
		return course, true
	}
	var hits []Course
	for _, course := range c.courses {
		title, _ := c.Split(course)
		if strings.Contains(in, strings.ToLower(title)) ||
			(len(in) >= 3 && strings.Contains(strings.ToLower(course.Name), in)) {
			hits = append(hits, course)
		}
	}
	if len(hits) == 1 {
		return hits[0], true
	}

	best, bestDist := -1, 0
	for i, course := range c.courses {
		title, _ := c.Split(course)
		d := levenshtein.ComputeDistance(in, strings.ToLower(title))
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 && bestDist <= max(2, len(in)/4) {
		return c.courses[best], true
	}
	return Course{}, false
}

// Menu renders the numbered course list shown to the user.
func (c *Catalog) Menu() string {
	var b strings.Builder
	for i, course := range c.courses {
		fmt.Fprintf(&b, "%d. %s ($%s)\n", i+1, course.Name, course.Price.StringFixed(2))
	}
	return strings.TrimRight(b.String(), "\n")
}
