package verification

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"regdesk/internal/records"
	"regdesk/internal/verification/ocr"
	"regdesk/internal/verification/ocr/mocks"
	dErrors "regdesk/pkg/domain-errors"
)

type stubImages struct {
	err error
}

func (s stubImages) Open(context.Context, string) (image.Image, error) {
	if s.err != nil {
		return nil, s.err
	}
	return image.NewRGBA(image.Rect(0, 0, 64, 40)), nil
}

type ServiceSuite struct {
	suite.Suite
	ctrl  *gomock.Controller
	local *mocks.MockProvider
	cloud *mocks.MockProvider
	store *records.InMemoryStore
	svc   *Service
	ctx   context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.local = mocks.NewMockProvider(s.ctrl)
	s.cloud = mocks.NewMockProvider(s.ctrl)
	s.local.EXPECT().Name().Return("local").AnyTimes()
	s.cloud.EXPECT().Name().Return("cloud").AnyTimes()
	s.store = records.NewInMemoryStore()
	s.ctx = context.Background()
	s.svc = New(stubImages{}, s.local, s.store, WithCloudProvider(s.cloud), WithOCRTimeout(time.Second))

	_, err := s.store.Append(s.ctx, records.Fields{
		"Full_Name":      "Jane Doe",
		"First_Name":     "Jane",
		"Last_Name":      "Doe",
		"PR_Card_Number": "12-3456-7890",
		"Course":         "Standard First Aid",
		"Course_Date":    "2025-12-05",
	})
	s.Require().NoError(err)
}

func (s *ServiceSuite) request() Request {
	return Request{
		ImageRef:   "uploads/jane.png",
		Identity:   Identity{FirstName: "Jane", LastName: "Doe", FullName: "Jane Doe", CardNumber: "12-3456-7890"},
		Course:     "Standard First Aid",
		CourseDate: "2025-12-05",
	}
}

func (s *ServiceSuite) stored() records.Row {
	rows, err := s.store.Find(s.ctx, records.Eq(records.ColFullName, "Jane Doe"))
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	return rows[0]
}

func (s *ServiceSuite) TestLocalPassAccepted() {
	s.local.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return(prCardTokens(), nil)

	res := s.svc.Verify(s.ctx, s.request())

	s.Equal(StatusSuccess, res.Status)
	s.True(res.Valid)
	s.Equal([]DocType{DocPRCard}, res.DocTypes)
	s.Equal(SourceLocal, res.Source)
	s.Equal(1.0, res.Confidence)
	s.False(res.ManualReview)
	s.NoError(res.Err())

	row := s.stored()
	s.Equal("True", row[records.ColPRCardValid])
	s.Equal("1.00", row[records.ColPRCardValidConfidence])
	s.Equal(`["uploads/jane.png"]`, row[records.ColPRFileUploadURLs])
	s.Contains(row[records.ColPRCardDetails], "above the threshold")
}

func (s *ServiceSuite) TestEscalation() {
	s.Run("weak local pass is discarded for cloud", func() {
		s.local.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return([]ocr.Token{{Text: "blurry"}}, nil)
		s.cloud.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return(prCardTokens(), nil)

		res := s.svc.Verify(s.ctx, s.request())

		s.Equal(SourceCloud, res.Source)
		s.True(res.Valid)
		s.Equal(StatusSuccess, res.Status)
	})

	s.Run("local failure escalates", func() {
		s.local.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return(nil, errors.New("sidecar down"))
		s.cloud.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return(prCardTokens(), nil)

		res := s.svc.Verify(s.ctx, s.request())

		s.Equal(SourceCloud, res.Source)
	})

	s.Run("cloud scores are final even when weak", func() {
		s.local.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return(nil, nil)
		s.cloud.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return([]ocr.Token{{Text: "Jane Doe 12-3456-7890"}}, nil)

		res := s.svc.Verify(s.ctx, s.request())

		s.Equal(SourceCloud, res.Source)
		s.False(res.Valid)
		s.Equal([]DocType{DocGenericPhotoID}, res.DocTypes)
		s.True(res.Retryable())
	})

	s.Run("cloud failure is a structured error", func() {
		s.local.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return(nil, nil)
		s.cloud.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return(nil, errors.New("throttled"))

		res := s.svc.Verify(s.ctx, s.request())

		s.Equal(StatusError, res.Status)
		s.Equal("Identification process failed.", res.Message)
		s.True(res.ManualReview)
		s.Contains(res.Reasons[len(res.Reasons)-1], "throttled")
	})
}

func (s *ServiceSuite) TestIdentityNotOnCard() {
	tokens := prCardTokens()
	tokens[3].Text = "MARIA GARCIA"
	s.local.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return(tokens, nil)

	res := s.svc.Verify(s.ctx, s.request())

	s.False(res.Valid)
	s.True(res.ManualReview)
	s.Equal(StatusError, res.Status)
	s.Equal("Jane Doe", res.Identity.FullName)
	s.Equal("12-3456-7890", res.Identity.CardNumber)
	s.Equal("False", s.stored()[records.ColPRCardValid])
	s.True(dErrors.HasCode(res.Err(), dErrors.CodeManualReview))
}

func (s *ServiceSuite) TestMissingIdentityForcesReview() {
	s.local.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return(prCardTokens(), nil)
	req := s.request()
	req.Identity.CardNumber = ""

	res := s.svc.Verify(s.ctx, req)

	s.True(res.ManualReview)
	s.False(res.Valid)
	s.Contains(res.Reasons, "Missing full name or ID number in the registration info.")
}

func (s *ServiceSuite) TestNoPendingRecordForcesReview() {
	s.local.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return(prCardTokens(), nil)
	ok, err := s.store.Update(s.ctx, records.Fields{"Paid": "True"}, records.Eq(records.ColFullName, "Jane Doe"))
	s.Require().NoError(err)
	s.Require().True(ok)

	res := s.svc.Verify(s.ctx, s.request())

	s.True(res.Valid, "score verdict is kept")
	s.True(res.ManualReview)
	s.Equal(StatusError, res.Status)
}

func (s *ServiceSuite) TestImageFailure() {
	svc := New(stubImages{err: errors.New("expired ref")}, s.local, s.store)

	res := svc.Verify(s.ctx, s.request())

	s.Equal(StatusError, res.Status)
	s.True(res.ManualReview)
	s.Empty(s.stored()[records.ColPRCardValid])
}

func (s *ServiceSuite) TestPanicInProviderIsContained() {
	s.local.EXPECT().Recognize(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, image.Image) ([]ocr.Token, error) {
		panic("nil box")
	})

	res := s.svc.Verify(s.ctx, s.request())

	s.Equal(StatusError, res.Status)
}

func (s *ServiceSuite) TestWithoutCloudLocalIsFinal() {
	svc := New(stubImages{}, s.local, s.store)
	s.local.EXPECT().Recognize(gomock.Any(), gomock.Any()).Return([]ocr.Token{{Text: "hello"}}, nil)

	res := svc.Verify(s.ctx, s.request())

	s.Equal(SourceLocal, res.Source)
	s.Equal([]DocType{DocGenericPhotoID}, res.DocTypes)
}
