package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"regdesk/internal/notify"
	"regdesk/internal/notify/mocks"
	"regdesk/internal/platform/kafka/producer"
)

func TestPublisher_StampsEvents(t *testing.T) {
	sink := notify.NewMemorySink()
	at := time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC)
	p := notify.NewPublisher(sink, notify.WithClock(func() time.Time { return at }))

	require.NoError(t, p.Publish(context.Background(), notify.Event{
		Kind:     notify.KindPaymentShortfall,
		FullName: "Jane Doe",
		Message:  "short by 25.00",
	}))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, at, events[0].OccurredAt)
	assert.Len(t, sink.ByKind(notify.KindPaymentShortfall), 1)
	assert.Empty(t, sink.ByKind(notify.KindManualReview))
}

func TestPublisher_SyncReturnsSinkError(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	boom := errors.New("broker down")
	sink.EXPECT().Write(gomock.Any(), gomock.Any()).Return(boom)

	err := notify.NewPublisher(sink).Publish(context.Background(), notify.Event{Kind: notify.KindPaymentFailed})

	assert.ErrorIs(t, err, boom)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	sink := notify.NewMemorySink()
	p := notify.NewPublisher(sink, notify.WithAsyncBuffer(16))

	for range 5 {
		require.NoError(t, p.Publish(context.Background(), notify.Event{Kind: notify.KindPaymentReminder}))
	}
	p.Close()

	assert.Len(t, sink.Events(), 5)
}

func TestKafkaSink_WritesJSONKeyedByKind(t *testing.T) {
	ctrl := gomock.NewController(t)
	prod := mocks.NewMockProducer(ctrl)

	var sent *producer.Message
	prod.EXPECT().Produce(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msg *producer.Message) error {
			sent = msg
			return nil
		})

	sink := notify.NewKafkaSink(prod, "registrations.notifications")
	err := sink.Write(context.Background(), notify.Event{
		ID:      "evt-1",
		Kind:    notify.KindManualReview,
		Message: "PR card needs a human",
	})

	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, "registrations.notifications", sent.Topic)
	assert.Equal(t, []byte("manual_review"), sent.Key)
	assert.Equal(t, "evt-1", sent.Headers["event_id"])

	var decoded notify.Event
	require.NoError(t, json.Unmarshal(sent.Value, &decoded))
	assert.Equal(t, notify.KindManualReview, decoded.Kind)
	assert.Equal(t, "PR card needs a human", decoded.Message)
}
