package bus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/broker"
	natsclient "github.com/capitalize-ai/leadrelay/internal/nats"
	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// Options selects and configures a bus driver.
type Options struct {
	Driver string

	NATS natsclient.Config

	RedisURL     string
	RedisChannel string

	AMQPURL      string
	AMQPExchange string
	DialTimeout  time.Duration
}

// Open connects the configured driver.
func Open(ctx context.Context, opts Options, log *logger.Logger) (Bus, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverNATS:
		client, err := natsclient.Connect(ctx, opts.NATS, log)
		if err != nil {
			return nil, err
		}
		b, err := NewNATS(ctx, client, log)
		if err != nil {
			client.Close()
			return nil, err
		}
		return b, nil
	case DriverRedis:
		rdb, err := DialRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedis(rdb, opts.RedisChannel, log)
	case DriverAMQP:
		conn, err := DialAMQP(ctx, opts.AMQPURL, opts.DialTimeout, log)
		if err != nil {
			return nil, err
		}
		b, err := NewAMQP(conn, opts.AMQPExchange, log)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", opts.Driver)
	}
}

// Fanout delivers a forwarded message to the sessions connected to this node.
type Fanout interface {
	Publish(tenantID string, k room.Key, kind broker.Kind, payload any) int
}

// Forward feeds every message received on b into the local routers. The payload handed
// to the router is the raw JSON the publisher encoded.
func Forward(ctx context.Context, b Bus, f Fanout, log *logger.Logger) error {
	return b.StartForwarder(ctx, func(m Message) {
		n := f.Publish(m.TenantID, m.Room, m.Kind, m.Data)
		log.Debug("forwarded bus message",
			zap.String("message_id", m.ID),
			zap.String("tenant_id", m.TenantID),
			zap.Stringer("room", m.Room),
			zap.Int("delivered", n),
		)
	})
}
