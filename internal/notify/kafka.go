package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/shop-orders/internal/domain/order"
)

const defaultBuffer = 256

// KafkaConfig configures the Kafka notifier.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Buffer  int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Notifier = (*Kafka)(nil)

// Kafka publishes guest order events from a single background goroutine.
// GuestOrderPlaced only enqueues; when the buffer is full the event is
// dropped.
type Kafka struct {
	w       messageWriter
	inbox   chan kafka.Message
	done    chan struct{}
	lg      *zap.Logger
	dropped atomic.Int64
}

// NewKafka creates a notifier writing to cfg.Topic. Call Start to begin
// delivery.
func NewKafka(cfg KafkaConfig, lg *zap.Logger) *Kafka {
	return newKafka(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, cfg.Buffer, lg)
}

func newKafka(w messageWriter, buf int, lg *zap.Logger) *Kafka {
	if buf <= 0 {
		buf = defaultBuffer
	}
	return &Kafka{
		w:     w,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
		lg:    lg,
	}
}

// Start runs the delivery loop until ctx is done. Buffered events are
// flushed before the writer is closed.
func (k *Kafka) Start(ctx context.Context) {
	go func() {
		defer close(k.done)
		for {
			select {
			case <-ctx.Done():
				k.flush()
				if err := k.w.Close(); err != nil {
					k.lg.Warn("Close kafka writer", zap.Error(err))
				}
				return
			case m := <-k.inbox:
				k.write(context.Background(), m)
			}
		}
	}()
}

// Wait blocks until the delivery loop exits.
func (k *Kafka) Wait() { <-k.done }

// Dropped returns how many events were discarded on a full buffer.
func (k *Kafka) Dropped() int64 { return k.dropped.Load() }

func (k *Kafka) GuestOrderPlaced(ctx context.Context, evt order.GuestOrder) {
	m := kafka.Message{
		Key:   []byte(evt.Code),
		Value: encodeGuestOrder(evt),
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(EventGuestOrderPlaced)},
		},
	}
	select {
	case k.inbox <- m:
	default:
		k.dropped.Add(1)
		k.lg.Warn("Notification buffer full, dropping event",
			zap.Int64("order_id", evt.OrderID),
			zap.String("code", evt.Code),
		)
	}
}

func (k *Kafka) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case m := <-k.inbox:
			k.write(ctx, m)
		default:
			return
		}
	}
}

func (k *Kafka) write(ctx context.Context, m kafka.Message) {
	if err := k.w.WriteMessages(ctx, m); err != nil {
		k.lg.Warn("Publish guest order event",
			zap.String("key", string(m.Key)),
			zap.Error(errors.Wrap(err, "write message")),
		)
	}
}
