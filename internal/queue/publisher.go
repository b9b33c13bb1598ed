package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/authgate/internal/auth"
)

// Publisher errors returned by Publish.
var (
	ErrQueueFull       = errors.New("audit queue full, event dropped")
	ErrPublisherClosed = errors.New("audit publisher closed")
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 3 * time.Second
)

// Publisher publishes audit events to AuthQueueName. It implements
// auth.EventPublisher without touching the broker on the caller's goroutine:
// Publish only enqueues, and a single worker owns the connection, dialing
// lazily and redialing after it drops. Each delivery, dial included, is
// bounded by the publish timeout.
type Publisher struct {
	url     string
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration

	queue     chan AuthEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// owned by the worker goroutine
	conn *amqp.Connection
	ch   *amqp.Channel
}

// PublisherOption customizes a Publisher.
type PublisherOption func(*Publisher)

// WithPublishTimeout bounds one delivery: dial, handshake, declare and publish.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.timeout = d }
}

// WithQueueSize sets how many events may wait for the worker before Publish
// starts dropping them.
func WithQueueSize(n int) PublisherOption {
	return func(p *Publisher) { p.queue = make(chan AuthEvent, n) }
}

// NewPublisher creates a Publisher and starts its worker. Call Close to stop it.
func NewPublisher(url string, log *zap.Logger, opts ...PublisherOption) *Publisher {
	p := newPublisher(url, log, opts...)
	p.wg.Add(1)
	go p.run()
	return p
}

func newPublisher(url string, log *zap.Logger, opts ...PublisherOption) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		url:     url,
		log:     log,
		now:     time.Now,
		timeout: defaultPublishTimeout,
		queue:   make(chan AuthEvent, defaultQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stamps ev and hands it to the worker. It never blocks: when the
// queue is full the event is dropped and ErrQueueFull returned.
func (p *Publisher) Publish(_ context.Context, ev auth.Event) error {
	select {
	case <-p.done:
		return ErrPublisherClosed
	default:
	}

	select {
	case p.queue <- NewAuthEvent(ev, p.now()):
		return nil
	default:
		return fmt.Errorf("%w: type=%s", ErrQueueFull, ev.Type)
	}
}

// Close stops the worker. Events still queued get one shared publish
// timeout to go out; the rest are dropped.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()
	defer p.reset()

	for {
		select {
		case ev := <-p.queue:
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			p.deliver(ctx, ev)
			cancel()
		case <-p.done:
			p.drain()
			return
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			if ctx.Err() != nil {
				p.log.Warn("audit event dropped on shutdown", zap.String("type", ev.Type), zap.String("id", ev.ID))
				continue
			}
			p.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, ev AuthEvent) {
	if err := p.send(ctx, ev); err != nil {
		p.log.Warn("audit event publish failed",
			zap.String("type", ev.Type),
			zap.String("id", ev.ID),
			zap.Error(err))
		return
	}
	p.log.Debug("audit event published", zap.String("type", ev.Type), zap.Uint64("user_id", ev.UserID))
}

// send publishes ev as a persistent JSON message on the default exchange.
func (p *Publisher) send(ctx context.Context, ev AuthEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		MessageId:    ev.ID,
		Timestamp:    p.now().UTC(),
		Type:         ev.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",            // default exchange
		AuthQueueName, // routing key = queue name
		false,         // mandatory
		false,         // immediate
		pub,
	); err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// channel returns an open channel, dialing and declaring the queue when
// needed.
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: contextDialer(ctx)})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(AuthQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

// contextDialer connects within ctx and carries its deadline onto the
// socket so the AMQP handshake is bounded as well. amqp clears the deadline
// once the connection is open.
func contextDialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
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
