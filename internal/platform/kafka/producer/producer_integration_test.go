//go:build integration

package producer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"regdesk/internal/platform/kafka/producer"
	"regdesk/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())

	prod, err := producer.New(producer.Config{
		Brokers:         s.kafka.Brokers,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		_ = s.producer.Close()
	}
}

// Produce only returns once the broker has acknowledged the record.
func (s *ProducerIntegrationSuite) TestProduceDeliversNotification() {
	ctx := context.Background()
	topic := "regdesk.notifications.test"
	s.Require().NoError(s.kafka.CreateTopic(ctx, topic, 1, 1))

	err := s.producer.Produce(ctx, &producer.Message{
		Topic: topic,
		Key:   []byte("payment_shortfall"),
		Value: []byte(`{"kind":"payment_shortfall","full_name":"Jane Doe"}`),
		Headers: map[string]string{
			"kind":     "payment_shortfall",
			"event_id": "7c1d0c3e-8d7e-4a8f-9b43-0f4b1c2d3e4f",
		},
	})
	s.Require().NoError(err)

	consumer, err := s.kafka.NewConsumer(ctx, "producer-test-group", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 5*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "payment_shortfall"
	})
	s.Require().NotNil(record, "message should be consumable")
	s.JSONEq(`{"kind":"payment_shortfall","full_name":"Jane Doe"}`, string(record.Value))

	headers := containers.Headers(record)
	s.Equal("payment_shortfall", headers["kind"])
	s.Equal("7c1d0c3e-8d7e-4a8f-9b43-0f4b1c2d3e4f", headers["event_id"])
}

func (s *ProducerIntegrationSuite) TestProduceAutoCreatesTopic() {
	ctx := context.Background()
	topic := "regdesk.autocreate." + time.Now().Format("20060102150405")

	s.Require().NoError(s.producer.Produce(ctx, &producer.Message{
		Topic: topic,
		Key:   []byte("auto"),
		Value: []byte("{}"),
	}))

	consumer, err := s.kafka.NewConsumer(ctx, "producer-autocreate-group", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 5*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "auto"
	})
	s.NotNil(record)
}

func (s *ProducerIntegrationSuite) TestPing() {
	s.NoError(s.producer.Ping(context.Background()))
}
