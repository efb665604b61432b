// Package kafka holds broker-level helpers shared by the producer and consumer.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Admin wraps a kadm client for health checks and topic provisioning.
type Admin struct {
	client *kgo.Client
	adm    *kadm.Client
}

// NewAdmin connects an admin client to the given comma separated brokers.
func NewAdmin(brokers string) (*Admin, error) {
	if brokers == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(strings.Split(brokers, ",")...))
	if err != nil {
		return nil, fmt.Errorf("create kafka admin client: %w", err)
	}
	return &Admin{client: client, adm: kadm.NewClient(client)}, nil
}

// Check succeeds when the cluster reports at least one broker.
func (a *Admin) Check(ctx context.Context) error {
	brokers, err := a.adm.ListBrokers(ctx)
	if err != nil {
		return fmt.Errorf("list kafka brokers: %w", err)
	}
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers reachable")
	}
	return nil
}

// EnsureTopics creates any missing topics. Existing topics are left untouched.
func (a *Admin) EnsureTopics(ctx context.Context, partitions int32, replicationFactor int16, topics ...string) error {
	responses, err := a.adm.CreateTopics(ctx, partitions, replicationFactor, nil, topics...)
	if err != nil {
		return fmt.Errorf("create kafka topics: %w", err)
	}
	var errs []error
	for _, r := range responses.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			errs = append(errs, fmt.Errorf("topic %s: %w", r.Topic, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the admin connection.
func (a *Admin) Close() {
	a.client.Close()
}
