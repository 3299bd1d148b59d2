package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Publisher mirrors call lifecycle events onto a RabbitMQ topic exchange so
// the wider system (dashboard, analytics) can consume them. It is optional:
// the bot runs fine without a broker, and publish failures never affect the
// call path.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

type ConnectionOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
}

const maxDialBackoff = 60 * time.Second

// NewPublisher dials the broker with exponential backoff and declares the
// topic exchange. It respects context cancellation for graceful startup
// aborts.
func NewPublisher(ctx context.Context, opts ConnectionOptions, log *slog.Logger) (*Publisher, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 5
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}

	var conn *amqp091.Connection
	var lastErr error
	for i := 1; i <= opts.RetryAttempts; i++ {
		c, err := amqp091.Dial(opts.URL)
		if err == nil {
			conn = c
			if i > 1 {
				log.Info("amqp connected", "attempt", i)
			}
			break
		}
		lastErr = err

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialBackoff {
			sleep = maxDialBackoff
		}
		log.Warn("amqp dial failed", "attempt", i, "sleep", sleep, "err", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("amqp dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	if conn == nil {
		return nil, fmt.Errorf("amqp connect failed after %d attempts: %w", opts.RetryAttempts, lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, exchange: opts.Exchange, log: log}, nil
}

// Handler returns a dispatcher handler that publishes each event with its
// Type as the routing key. Failures are logged and swallowed.
func (p *Publisher) Handler() Handler {
	return func(ctx context.Context, e Event) {
		if err := p.publish(ctx, e); err != nil {
			p.log.Warn("event publish failed", "type", string(e.Type), "err", err)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, e Event) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	msgID := e.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	return ch.PublishWithContext(
		ctx, p.exchange, string(e.Type), false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msgID,
			Timestamp:    e.OccurredAt,
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}
