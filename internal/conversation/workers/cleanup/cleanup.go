package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionStore exposes cleanup for expired conversation sessions.
type SessionStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// CleanupResult summarizes the deletions performed by a cleanup run.
type CleanupResult struct {
	DeletedSessions int
}

// CleanupService periodically removes conversation sessions past their TTL.
type CleanupService struct {
	sessions SessionStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// CleanupOption configures CleanupService.
type CleanupOption func(*CleanupService)

// WithCleanupInterval overrides the cleanup interval when greater than zero.
func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(s *CleanupService) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithCleanupLogger overrides the logger used for cleanup errors.
func WithCleanupLogger(logger *slog.Logger) CleanupOption {
	return func(s *CleanupService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(s *CleanupService) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a CleanupService.
func New(sessions SessionStore, opts ...CleanupOption) (*CleanupService, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	svc := &CleanupService{
		sessions: sessions,
		interval: time.Hour,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Start runs cleanup periodically until ctx is cancelled.
func (s *CleanupService) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "session cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep.
func (s *CleanupService) RunOnce(ctx context.Context) (CleanupResult, error) {
	deleted, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete expired sessions: %w", err)
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "expired sessions removed", "count", deleted)
	}
	return CleanupResult{DeletedSessions: deleted}, nil
}
