package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Header carrying the event kind on inbound Kafka records. Records without
// it are treated as changed events; a nil value (tombstone) is a removal of
// the record key.
const kindHeader = "aton-event-kind"

// KafkaSource adapts a Kafka topic to the listener's event source contract.
// The record key is the AtoN identifier code, which keeps per-identifier
// ordering within a partition.
type KafkaSource struct {
	brokers []string
	topic   string
	group   string
	logger  *slog.Logger

	mu     sync.Mutex
	client *kgo.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafkaSource configures a consumer for the change event topic. The
// connection is established on Register.
func NewKafkaSource(brokers []string, topic, group string, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSource{brokers: brokers, topic: topic, group: group, logger: logger}
}

// Register connects the consumer group and starts the poll loop. The loop
// runs until Deregister is called or ctx is cancelled.
func (s *KafkaSource) Register(ctx context.Context, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return fmt.Errorf("kafka source already registered")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumerGroup(s.group),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.client = client
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.poll(loopCtx, client, handler)
	return nil
}

// Deregister stops the poll loop and closes the client. Safe to call
// repeatedly and without a prior Register.
func (s *KafkaSource) Deregister() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.client.Close()
	s.client = nil
	s.cancel = nil
	s.done = nil
	return nil
}

func (s *KafkaSource) poll(ctx context.Context, client *kgo.Client, handler Handler) {
	defer close(s.done)

	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			s.logger.Error("kafka fetch error",
				"topic", topic, "partition", partition, "error", err)
		})

		fetches.EachRecord(func(record *kgo.Record) {
			handler(ctx, toEvent(record))
		})

		if err := client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("kafka offset commit failed", "error", err)
		}
	}
}

func toEvent(record *kgo.Record) Event {
	kind := EventChanged
	for _, header := range record.Headers {
		if header.Key == kindHeader && string(header.Value) == string(EventRemoved) {
			kind = EventRemoved
		}
	}
	if record.Value == nil {
		kind = EventRemoved
	}

	if kind == EventRemoved {
		return Event{Kind: EventRemoved, IDs: []string{string(record.Key)}}
	}
	return Event{Kind: EventChanged, Payload: record.Value}
}
