// Package verification scores an identity photo and decides whether it is a
// permanent resident card belonging to the registrant.
package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"strings"
	"time"

	"regdesk/internal/platform/privacy"
	"regdesk/internal/platform/tracer"
	"regdesk/internal/records"
	"regdesk/internal/verification/metrics"
	"regdesk/internal/verification/ocr"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/sync"
)

const defaultOCRTimeout = 20 * time.Second

// ImageSource resolves an uploaded image reference to pixels.
type ImageSource interface {
	Open(ctx context.Context, ref string) (image.Image, error)
}

// keyResolver is implemented by image sources that can expose the storage key
// behind a reference; the key is what gets recorded on the registration.
type keyResolver interface {
	Resolve(ref string) (string, error)
}

// Service runs the two-tier OCR pipeline and records the verdict.
type Service struct {
	images     ImageSource
	local      ocr.Provider
	cloud      ocr.Provider
	store      records.Store
	locks      *sync.ShardedMutex
	ocrTimeout time.Duration
	metrics    *metrics.Metrics
	tracer     tracer.Tracer
	logger     *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithCloudProvider enables escalation. Without it the local pass is final.
func WithCloudProvider(p ocr.Provider) Option {
	return func(s *Service) {
		s.cloud = p
	}
}

// WithLocks shares the record-key mutex with payment reconciliation.
func WithLocks(m *sync.ShardedMutex) Option {
	return func(s *Service) {
		if m != nil {
			s.locks = m
		}
	}
}

func WithOCRTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ocrTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a verification service. Panics if required dependencies are nil.
func New(images ImageSource, local ocr.Provider, store records.Store, opts ...Option) *Service {
	if images == nil {
		panic("verification.New: image source is required")
	}
	if local == nil {
		panic("verification.New: local OCR provider is required")
	}
	if store == nil {
		panic("verification.New: record store is required")
	}
	s := &Service{
		images:     images,
		local:      local,
		store:      store,
		locks:      sync.NewShardedMutex(),
		ocrTimeout: defaultOCRTimeout,
		tracer:     tracer.NewNoop(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify never returns an error: faults become a Result with StatusError so the
// caller can route the registrant to human review.
func (s *Service) Verify(ctx context.Context, req Request) (res *Result) {
	start := time.Now()
	fullName := req.Identity.fullName()
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerify, tracer.String(tracer.AttrNameHash, tracer.HashPII(fullName)))

	res = &Result{Identity: req.Identity, Reasons: []string{}}
	defer func() {
		if r := recover(); r != nil {
			s.fail(res, fmt.Errorf("panic: %v", r))
		}
		span.SetAttributes(
			tracer.Bool(tracer.AttrManualReview, res.ManualReview),
			tracer.String(tracer.AttrStatus, string(res.Status)),
		)
		span.End(nil)
		s.observe(ctx, res, fullName, time.Since(start))
	}()

	img, err := s.images.Open(ctx, req.ImageRef)
	if err != nil {
		s.fail(res, fmt.Errorf("open image: %w", err))
		return res
	}

	page, err := s.recognize(ctx, img)
	if err != nil {
		s.fail(res, err)
		return res
	}
	span.SetAttributes(
		tracer.String(tracer.AttrOCRSource, string(page.Source)),
		tracer.Float64(tracer.AttrKeywordScore, page.Scores.Keyword),
		tracer.Float64(tracer.AttrLayoutScore, page.Scores.Layout),
		tracer.Float64(tracer.AttrLicenseScore, page.Scores.License),
	)

	cls := Classify(page.Scores)
	res.Valid = cls.Valid
	res.DocTypes = cls.DocTypes
	res.Reasons = append(res.Reasons, cls.Reasons...)
	res.ManualReview = cls.ManualReview
	res.Confidence = page.Scores.Keyword
	res.Scores = page.Scores
	res.Source = page.Source
	res.RawText = ocr.Texts(page.Tokens)

	s.checkIdentity(res, page.Tokens, req.Identity, fullName)
	s.persist(ctx, res, req, fullName)

	if res.ManualReview {
		res.Status = StatusError
		res.Message = "Manual review required."
	} else {
		res.Status = StatusSuccess
		res.Message = "Auto verification successful."
	}
	return res
}

// recognize runs the local tier and escalates to the cloud tier when the local
// scores are not conclusive or the local call fails.
func (s *Service) recognize(ctx context.Context, img image.Image) (Page, error) {
	tokens, err := s.callOCR(ctx, s.local, img)
	local := Page{Source: SourceLocal, Tokens: tokens, Scores: Score(tokens)}
	if err == nil && AcceptLocal(local.Scores) {
		return local, nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "local ocr failed, escalating", "error", err)
	}
	if s.cloud == nil {
		if err != nil {
			return Page{}, err
		}
		return local, nil
	}

	if s.metrics != nil {
		s.metrics.Escalations.Inc()
	}
	tokens, err = s.callOCR(ctx, s.cloud, img)
	if err != nil {
		return Page{}, err
	}
	return Page{Source: SourceCloud, Tokens: tokens, Scores: Score(tokens)}, nil
}

func (s *Service) callOCR(ctx context.Context, p ocr.Provider, img image.Image) (tokens []ocr.Token, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.ocrTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, tracer.SpanOCR, tracer.String(tracer.AttrOCRSource, p.Name()))
	defer func() { span.End(err) }()

	start := time.Now()
	tokens, err = p.Recognize(ctx, img)
	if s.metrics != nil {
		s.metrics.ObserveOCR(p.Name(), time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s ocr: %w", p.Name(), err)
	}
	return tokens, nil
}

// checkIdentity forces manual review when the expected identity cannot be found
// on the card, or was never supplied.
func (s *Service) checkIdentity(res *Result, tokens []ocr.Token, id Identity, fullName string) {
	res.Identity = Identity{
		FirstName:  id.FirstName,
		LastName:   id.LastName,
		FullName:   fullName,
		CardNumber: id.CardNumber,
	}
	if fullName == "" || strings.TrimSpace(id.CardNumber) == "" {
		res.Valid = false
		res.ManualReview = true
		res.Reasons = append(res.Reasons, "Missing full name or ID number in the registration info.")
		return
	}
	if !CrossCheck(tokens, id).Complete() {
		res.Valid = false
		res.ManualReview = true
		res.Reasons = append(res.Reasons, "Full name or ID number does not match the input.")
	}
}

// Err returns a CodeManualReview error when the result needs a human decision,
// and nil otherwise.
func (r *Result) Err() error {
	if r == nil || !r.ManualReview {
		return nil
	}
	msg := strings.Join(r.Reasons, " ")
	if msg == "" {
		msg = r.Message
	}
	return dErrors.New(dErrors.CodeManualReview, msg)
}

// Retryable reports whether the photo scored as a generic photo ID. The
// conversation asks for a new upload instead of holding for review.
func (r *Result) Retryable() bool {
	for _, d := range r.DocTypes {
		if d == DocGenericPhotoID {
			return true
		}
	}
	return false
}

// persist writes the verdict onto the single pending record for this registrant.
func (s *Service) persist(ctx context.Context, res *Result, req Request, fullName string) {
	key := []records.Match{
		records.Eq(records.ColFullName, fullName),
		records.Eq(records.ColPRCardNumber, req.Identity.CardNumber),
		records.Eq(records.ColCourse, req.Course),
		records.Eq(records.ColCourseDate, req.CourseDate),
		records.Unset(records.ColPaid),
	}

	unlock := s.locks.Lock(sync.Key(fullName, req.Course, req.CourseDate))
	defer unlock()

	ok, err := s.writeVerdict(ctx, res, req.ImageRef, key)
	if err != nil || !ok {
		if s.metrics != nil {
			s.metrics.PersistFailure.Inc()
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "persist verification verdict", "error", err)
		}
		res.ManualReview = true
		res.Reasons = append(res.Reasons, "Failed to update the registration record; no or several rows matched. Manual review required.")
	}
}

func (s *Service) writeVerdict(ctx context.Context, res *Result, imageRef string, key []records.Match) (bool, error) {
	rows, err := s.store.Find(ctx, key...)
	if err != nil {
		return false, err
	}
	if len(rows) != 1 {
		return false, nil
	}

	details, err := json.Marshal(res.Reasons)
	if err != nil {
		return false, err
	}
	urls := records.ParseList(rows[0][records.ColPRFileUploadURLs])
	if stored := s.storedRef(imageRef); stored != "" && !slices.Contains(urls, stored) {
		urls = append(urls, stored)
	}
	fields := records.Fields{
		string(records.ColPRCardValid):           records.FormatBool(res.Valid),
		string(records.ColPRCardValidConfidence): fmt.Sprintf("%.2f", res.Confidence),
		string(records.ColPRCardDetails):         string(details),
	}
	if len(urls) > 0 {
		fields[string(records.ColPRFileUploadURLs)] = records.FormatList(urls)
	}
	return s.store.Update(ctx, fields, key...)
}

func (s *Service) storedRef(ref string) string {
	if r, ok := s.images.(keyResolver); ok {
		if key, err := r.Resolve(ref); err == nil {
			return key
		}
	}
	return ref
}

func (s *Service) fail(res *Result, err error) {
	res.Valid = false
	res.Status = StatusError
	res.Message = "Identification process failed."
	res.Reasons = append(res.Reasons, err.Error())
	res.ManualReview = true
}

func (s *Service) observe(ctx context.Context, res *Result, fullName string, d time.Duration) {
	docType := ""
	if len(res.DocTypes) > 0 {
		docType = string(res.DocTypes[0])
	}
	if s.metrics != nil {
		s.metrics.IncrementOutcome(string(res.Status), docType)
		if res.Source != "" {
			s.metrics.KeywordScores.WithLabelValues(string(res.Source)).Observe(res.Confidence)
		}
	}
	level := slog.LevelInfo
	if res.Status == StatusError {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "document verified",
		"registrant", privacy.MaskName(fullName),
		"status", res.Status,
		"valid", res.Valid,
		"doc_type", docType,
		"source", res.Source,
		"manual_review", res.ManualReview,
		"duration_ms", d.Milliseconds(),
	)
}

func (id Identity) fullName() string {
	if name := strings.TrimSpace(id.FullName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(id.FirstName) + " " + strings.TrimSpace(id.LastName))
}
