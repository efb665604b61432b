package records

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "regdesk/pkg/domain-errors"
)

// storeContractSuite holds the behaviour every backend must share. Backends embed
// it and provide newStore.
type storeContractSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	store    Store
	newStore func(opts ...Option) Store
}

func (s *storeContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 11, 20, 15, 4, 5, 0, time.UTC)
	s.store = s.newStore(WithClock(func() time.Time { return s.now }))
}

func (s *storeContractSuite) seed(fields Fields) Row {
	row, err := s.store.Append(s.ctx, fields)
	s.Require().NoError(err)
	return row
}

func janeFields() Fields {
	return Fields{
		"Full_Name":         "Jane Doe",
		"first_name":        "Jane",
		"Last_Name":         "Doe",
		"Course":            "Standard First Aid",
		"Course_Date":       "2025-12-05",
		"Amount_of_Payment": "125.00",
		"PR_Card_Number":    "12-3456-7890",
	}
}

func (s *storeContractSuite) TestAppend() {
	s.Run("projects onto declared columns", func() {
		fields := janeFields()
		fields["favourite_colour"] = "teal"

		row := s.seed(fields)

		s.Equal("Jane", row[ColFirstName], "lowercase key resolves to its column")
		s.Equal("", row[ColEmail], "missing column defaults to empty")
		s.NotContains(row, Column("favourite_colour"))
		s.Equal("2025-11-20", row[ColCreatedAt])
		s.Len(row, len(Columns))
	})

	s.Run("keeps a caller supplied creation date", func() {
		fields := janeFields()
		fields["Created_At"] = "2025-11-01"
		row := s.seed(fields)
		s.Equal("2025-11-01", row[ColCreatedAt])
	})
}

func (s *storeContractSuite) TestFind() {
	s.seed(janeFields())
	paid := janeFields()
	paid["Course_Date"] = "2026-01-10"
	paid["Paid"] = "True"
	s.seed(paid)

	s.Run("matches case-insensitively and trimmed", func() {
		rows, err := s.store.Find(s.ctx, Eq(ColFullName, "  JANE doe "), Eq(ColCourse, "standard first aid"))
		s.Require().NoError(err)
		s.Len(rows, 2)
	})

	s.Run("empty lookup matches blank cells only", func() {
		rows, err := s.store.Find(s.ctx, Eq(ColFullName, "Jane Doe"), Unset(ColPaid))
		s.Require().NoError(err)
		s.Require().Len(rows, 1)
		s.Equal("2025-12-05", rows[0][ColCourseDate])
	})

	s.Run("whitespace lookup is the same as empty", func() {
		rows, err := s.store.Find(s.ctx, Eq(ColPaid, "   "))
		s.Require().NoError(err)
		s.Len(rows, 1)
	})

	s.Run("True does not match an empty lookup", func() {
		rows, err := s.store.Find(s.ctx, Eq(ColCourseDate, "2026-01-10"), Unset(ColPaid))
		s.Require().NoError(err)
		s.Empty(rows)
	})

	s.Run("no matches returns every row", func() {
		rows, err := s.store.Find(s.ctx)
		s.Require().NoError(err)
		s.Len(rows, 2)
	})

	s.Run("unknown match column is rejected", func() {
		_, err := s.store.Find(s.ctx, Eq(Column("Nickname"), "JD"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("returned rows are copies", func() {
		rows, err := s.store.Find(s.ctx, Unset(ColPaid))
		s.Require().NoError(err)
		rows[0][ColFullName] = "Mallory"

		again, err := s.store.Find(s.ctx, Unset(ColPaid))
		s.Require().NoError(err)
		s.Equal("Jane Doe", again[0][ColFullName])
	})
}

func (s *storeContractSuite) TestUpdate() {
	s.Run("updates the single match and stamps Updated_At", func() {
		s.seed(janeFields())
		s.now = s.now.Add(time.Hour)

		ok, err := s.store.Update(s.ctx,
			Fields{"Paid": "True", "payment_status": "True"},
			PendingKey("jane doe", "Standard First Aid", "2025-12-05")...)
		s.Require().NoError(err)
		s.True(ok)

		rows, err := s.store.Find(s.ctx, Eq(ColFullName, "Jane Doe"))
		s.Require().NoError(err)
		s.Require().Len(rows, 1)
		s.Equal("True", rows[0][ColPaid])
		s.Equal("True", rows[0][ColPaymentStatus])
		s.Equal("2025-11-20T16:04:05Z", rows[0][ColUpdatedAt])
	})

	s.Run("zero matches is a no-op", func() {
		ok, err := s.store.Update(s.ctx, Fields{"Paid": "True"}, Eq(ColFullName, "Nobody"))
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("several matches is a no-op", func() {
		s.seed(Fields{"Full_Name": "Twin", "Course": "BJJ"})
		s.seed(Fields{"Full_Name": "Twin", "Course": "BJJ"})

		ok, err := s.store.Update(s.ctx, Fields{"Paid": "True"}, Eq(ColFullName, "twin"))
		s.Require().NoError(err)
		s.False(ok)

		rows, err := s.store.Find(s.ctx, Eq(ColFullName, "Twin"), Unset(ColPaid))
		s.Require().NoError(err)
		s.Len(rows, 2, "neither row was touched")
	})

	s.Run("unknown field is rejected", func() {
		_, err := s.store.Update(s.ctx, Fields{"Nickname": "JD"}, Eq(ColFullName, "Jane Doe"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("update without matches is rejected", func() {
		_, err := s.store.Update(s.ctx, Fields{"Paid": "True"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
