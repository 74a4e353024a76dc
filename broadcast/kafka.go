package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink hands session events to the reporting pipeline. Events are
// keyed by session id so one session's history stays ordered within a
// partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
	queue  chan models.Event
	logger *slog.Logger
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}
	return newKafkaSink(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, topic, 1024), nil
}

func newKafkaSink(w messageWriter, topic string, queue int) *KafkaSink {
	return &KafkaSink{
		writer: w,
		topic:  topic,
		queue:  make(chan models.Event, queue),
		logger: slog.Default().With("module", "broadcast", "sink", "kafka"),
	}
}

// Send enqueues ev. When the queue is full the event is dropped; live
// dashboards already have it and reporting reconciles from snapshots.
func (k *KafkaSink) Send(ev models.Event) {
	select {
	case k.queue <- ev:
	default:
		k.logger.Warn("kafka queue full, dropping event",
			"session_id", ev.SessionID, "event", ev.Type)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left
// and closes the writer.
func (k *KafkaSink) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-k.queue:
			k.write(ctx, ev)
		case <-ctx.Done():
			k.flush()
			return k.writer.Close()
		}
	}
}

func (k *KafkaSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-k.queue:
			k.write(ctx, ev)
		default:
			return
		}
	}
}

func (k *KafkaSink) write(ctx context.Context, ev models.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		k.logger.Error("encode event", "session_id", ev.SessionID, "error", err)
		return
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(ev.SessionID),
		Value: payload,
		Time:  ev.At.UTC(),
	})
	if err != nil {
		k.logger.Warn("publish event to kafka failed",
			"session_id", ev.SessionID, "event", ev.Type, "error", err)
	}
}
