//go:build integration

package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"carebase/internal/eventstore"
	"carebase/internal/platform/config"
	"carebase/internal/platform/kafka"
	"carebase/pkg/testutil/containers"
)

func TestKafkaBus_RoundTrip(t *testing.T) {
	kc := containers.NewKafkaContainer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Kafka{
		Brokers:     []string{kc.Broker},
		Topic:       "carebase.test-events",
		Group:       "carebase-test",
		Partitions:  3,
		Replication: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := kafka.NewClient(cfg, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, kafka.EnsureTopic(ctx, client, cfg, logger))
	require.NoError(t, kafka.EnsureTopic(ctx, client, cfg, logger), "existing topic is fine")

	bus := NewKafkaBus(client, cfg.Topic, logger)
	received := make(chan eventstore.Event, 4)
	bus.Subscribe("saga", "organization.bootstrap.", func(_ context.Context, e eventstore.Event) error {
		received <- e
		return nil
	})

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- bus.Run(runCtx) }()

	initiated := event("organization.bootstrap.initiated")
	initiated.Metadata.CorrelationID = "corr-kafka"
	require.NoError(t, bus.Publish(ctx, event("organization.created"), initiated))

	select {
	case got := <-received:
		assert.Equal(t, initiated.ID, got.ID)
		assert.Equal(t, "corr-kafka", got.Metadata.CorrelationID)
	case <-ctx.Done():
		t.Fatal("event was not consumed")
	}

	stop()
	require.NoError(t, <-done)
	assert.Empty(t, received, "only matching events are delivered")
}
