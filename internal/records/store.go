// Package records is the registration record store: a flat table addressed by
// column matches, with memory, CSV-file and Postgres backends.
//
// Matching is case-insensitive and whitespace-trimmed. An empty match value
// selects NULL or blank cells, which is how the workflow expresses "not yet set"
// (most importantly an empty Paid column). Update touches a row only when exactly
// one row matches.
package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	dErrors "regdesk/pkg/domain-errors"
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store

// Store is the record store contract shared by every backend.
type Store interface {
	// Append inserts a new row built from the declared columns. Unknown keys are
	// dropped and Created_At defaults to the current UTC date.
	Append(ctx context.Context, fields Fields) (Row, error)
	// Find returns every row satisfying all matches, or every row when none are given.
	// It never mutates.
	Find(ctx context.Context, matches ...Match) ([]Row, error)
	// Update applies fields to the single matching row and stamps Updated_At.
	// It returns false, with no mutation, when zero or several rows match.
	Update(ctx context.Context, fields Fields, matches ...Match) (bool, error)
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// newRow projects fields onto the declared columns.
func newRow(fields Fields, now time.Time) Row {
	row := make(Row, len(Columns))
	for _, c := range Columns {
		row[c] = ""
	}
	for k, v := range fields {
		if c, ok := ParseColumn(k); ok {
			row[c] = v
		}
	}
	if strings.TrimSpace(row[ColCreatedAt]) == "" {
		row[ColCreatedAt] = now.UTC().Format(CreatedAtLayout)
	}
	return row
}

// resolveUpdate validates update fields and adds the Updated_At stamp.
func resolveUpdate(fields Fields, now time.Time) (Row, error) {
	if len(fields) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "update requires at least one field")
	}
	out := make(Row, len(fields)+1)
	for k, v := range fields {
		c, ok := ParseColumn(k)
		if !ok {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown column %q", k))
		}
		out[c] = v
	}
	out[ColUpdatedAt] = now.UTC().Format(UpdatedAtLayout)
	return out, nil
}

func validateMatches(matches []Match, required bool) error {
	if required && len(matches) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one match column is required")
	}
	for _, m := range matches {
		if _, ok := ParseColumn(string(m.Column)); !ok {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown match column %q", m.Column))
		}
	}
	return nil
}
