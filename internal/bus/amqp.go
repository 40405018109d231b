package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/pkg/logger"
	"github.com/capitalize-ai/leadrelay/pkg/metrics"
)

// DefaultAMQPExchange is the topic exchange used when none is configured.
const DefaultAMQPExchange = "leads"

// amqpEnvelope wraps a message with broker-level metadata.
type amqpEnvelope struct {
	Meta amqpMeta `json:"meta"`
	Data Message  `json:"data"`
}

type amqpMeta struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Time time.Time `json:"time"`
}

type amqpBus struct {
	log      *logger.Logger
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

// DialAMQP connects to url, retrying with exponential backoff until maxElapsed.
func DialAMQP(ctx context.Context, url string, maxElapsed time.Duration, log *logger.Logger) (*amqp.Connection, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxElapsed

	var conn *amqp.Connection
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		c, err := amqp.Dial(url)
		if err != nil {
			log.Warn("rabbit dial failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ after %d attempts: %w", attempt, err)
	}
	return conn, nil
}

// NewAMQP creates a bus over a RabbitMQ topic exchange. The bus owns conn.
func NewAMQP(conn *amqp.Connection, exchange string, log *logger.Logger) (Bus, error) {
	if exchange == "" {
		exchange = DefaultAMQPExchange
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &amqpBus{
		log:      log.Component("amqp-bus"),
		conn:     conn,
		exchange: exchange,
		ch:       ch,
	}, nil
}

func routingKey(disposition string) string {
	return "lead." + disposition
}

func (b *amqpBus) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(amqpEnvelope{
		Meta: amqpMeta{ID: msg.ID, Type: string(msg.Kind), Time: msg.Time},
		Data: msg,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.ch.PublishWithContext(ctx, b.exchange, routingKey(msg.Room.Disposition), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		MessageId:   msg.ID,
		Type:        string(msg.Kind),
		Timestamp:   msg.Time,
	})
	if err != nil {
		metrics.BusErrors.WithLabelValues(DriverAMQP, "publish").Inc()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func (b *amqpBus) StartForwarder(ctx context.Context, onMsg func(m Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	// Each node gets its own exclusive queue so every node sees every event.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey("#"), b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					b.log.Warn("amqp deliveries closed")
					return
				}
				var env amqpEnvelope
				if err := json.Unmarshal(d.Body, &env); err != nil {
					metrics.BusErrors.WithLabelValues(DriverAMQP, "decode").Inc()
					b.log.Warn("bad amqp bus payload", zap.Error(err))
					continue
				}
				onMsg(env.Data)
			}
		}
	}()
	return nil
}

func (b *amqpBus) Ping(context.Context) error {
	if b.conn.IsClosed() {
		return fmt.Errorf("amqp connection closed")
	}
	return nil
}

func (b *amqpBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.ch.Close()
	return b.conn.Close()
}
