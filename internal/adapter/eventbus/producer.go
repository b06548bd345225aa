// Package eventbus implements the C9 fire-and-forget notification and
// queue-status bus (SPEC_FULL.md's C9 additions): a publish-only
// franz-go producer. A publish failure is logged and never blocks a
// task-engine loop iteration, so Publish is async and does not wait for
// the broker ack before returning.
package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

const (
	TopicQueueStatus   = "jervis.queue-status"
	TopicNotifications = "jervis.notifications"
)

// Producer publishes queue-status and notification events to Kafka-
// compatible brokers, grounded on the teacher's redpanda producer
// reduced to its non-transactional publish path (no EOS needed for
// best-effort UI events).
type Producer struct {
	client *kgo.Client
}

// New constructs a Producer against brokers.
func New(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=eventbus.New: no seed brokers provided")
	}

	kotelTracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(kotelTracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(5),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=eventbus.New: %w", err)
	}
	return &Producer{client: client}, nil
}

// publish serializes v as JSON and produces it async to topic, keyed by
// key. Any produce error is logged via the async callback, never
// returned — per the spec, a bus failure must not block the caller.
func (p *Producer) publish(ctx domain.Context, topic, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("op=eventbus.publish.marshal: %w", err)
	}
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: body}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Warn("eventbus publish failed", slog.String("topic", topic), slog.Any("error", err))
		}
	})
	return nil
}

// Close closes the underlying client without flushing it first; records
// still buffered at that point are failed rather than sent.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}
