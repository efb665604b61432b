package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"regdesk/internal/conversation/state"
	"regdesk/internal/conversation/state/mocks"
	dErrors "regdesk/pkg/domain-errors"
)

func TestCleanupService_RunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC)
	clock := now

	sessions := state.NewInMemoryStore(24 * time.Hour).WithClock(func() time.Time { return clock })
	require.NoError(t, sessions.Save(ctx, state.New("old", "WAIT_FOR_FORM", now)))
	clock = now.Add(23 * time.Hour)
	require.NoError(t, sessions.Save(ctx, state.New("fresh", "WAIT_FOR_FORM", clock)))

	svc, err := New(sessions, WithCleanupClock(func() time.Time { return now.Add(25 * time.Hour) }))
	require.NoError(t, err)

	res, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.DeletedSessions)

	clock = now.Add(25 * time.Hour)
	_, err = sessions.Load(ctx, "old")
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = sessions.Load(ctx, "fresh")
	require.NoError(t, err)
}

func TestCleanupService_RunOnceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().DeleteExpired(gomock.Any(), gomock.Any()).Return(0, errors.New("redis down"))

	svc, err := New(store)
	require.NoError(t, err)

	_, err = svc.RunOnce(context.Background())
	require.ErrorContains(t, err, "redis down")
}

func TestCleanupService_StartStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().DeleteExpired(gomock.Any(), gomock.Any()).Return(0, nil).AnyTimes()

	svc, err := New(store, WithCleanupInterval(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, svc.Start(ctx), context.DeadlineExceeded)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
