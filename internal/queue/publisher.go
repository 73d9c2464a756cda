package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

// ErrBacklogFull is returned when confirmations arrive faster than the
// broker accepts them.
var ErrBacklogFull = errors.New("publisher backlog full")

// Publisher publishes order confirmations as persistent messages.
// OrderConfirmed only queues the event; Run drains the queue on its own
// goroutine, so a slow or unreachable broker never holds up the caller.
// The broker connection is opened on first use and reopened after a
// failure.
type Publisher struct {
	url         string
	log         *zap.Logger
	timeout     time.Duration
	dialTimeout time.Duration
	pending     chan OrderConfirmedEvent

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		url:         url,
		log:         log,
		timeout:     5 * time.Second,
		dialTimeout: 2 * time.Second,
		pending:     make(chan OrderConfirmedEvent, 256),
	}
}

// OrderConfirmed queues snap for the booking.confirmed queue.  It never
// blocks; a full backlog drops the event and returns ErrBacklogFull.
func (p *Publisher) OrderConfirmed(_ context.Context, snap *model.OrderSnapshot) error {
	select {
	case p.pending <- NewOrderConfirmedEvent(*snap, time.Now()):
		return nil
	default:
		return fmt.Errorf("order %s: %w", snap.Reference, ErrBacklogFull)
	}
}

// Run publishes queued events until ctx is cancelled.  A failed publish
// is logged and dropped.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.pending:
			if err := p.publish(ctx, ev); err != nil {
				p.log.Warn("publish order confirmed failed", zap.String("reference", ev.Reference), zap.Error(err))
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev OrderConfirmedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", OrderConfirmedQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.Reference,
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish: %w", err)
	}
	p.log.Debug("order confirmation published", zap.String("reference", ev.Reference))
	return nil
}

// channel returns an open channel, dialing when needed.  Callers hold mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(p.dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(OrderConfirmedQueue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
