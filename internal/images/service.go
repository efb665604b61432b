package images

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "regdesk/pkg/domain-errors"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9.\-_]+`)

// Service accepts uploads and resolves references to decoded images.
type Service struct {
	store    Store
	signer   *RefSigner
	maxBytes int64
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

func WithMaxBytes(n int64) Option {
	return func(s *Service) {
		s.maxBytes = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(store Store, signer *RefSigner, opts ...Option) *Service {
	if store == nil || signer == nil {
		panic("images.New: store and signer are required")
	}
	s := &Service{store: store, signer: signer, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload validates and stores an image, returning a signed reference.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "empty file")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", dErrors.New(dErrors.CodeInvalidInput, "image exceeds size limit")
	}
	contentType, err := Sniff(filename, data)
	if err != nil {
		return "", err
	}

	key := s.objectKey(filename)
	if err := s.store.Put(ctx, key, contentType, data); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeStoreIO, "store image")
	}
	s.logger.InfoContext(ctx, "image uploaded", "key", key, "bytes", len(data), "content_type", contentType)
	return s.signer.Sign(key)
}

// Open implements the verification image source.
func (s *Service) Open(ctx context.Context, ref string) (image.Image, error) {
	key, err := s.signer.Resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Resolve exposes the storage key behind a reference for record keeping.
func (s *Service) Resolve(ref string) (string, error) {
	return s.signer.Resolve(ref)
}

func (s *Service) objectKey(filename string) string {
	base := unsafeName.ReplaceAllString(filepath.Base(filename), "_")
	return fmt.Sprintf("uploads/%s/%s-%s", s.now().UTC().Format("20060102"), uuid.NewString(), strings.ToLower(base))
}
