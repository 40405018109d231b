package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	natsclient "github.com/capitalize-ai/leadrelay/internal/nats"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
	"github.com/capitalize-ai/leadrelay/pkg/metrics"
)

type natsBus struct {
	log     *logger.Logger
	client  *natsclient.Client
	streams *natsclient.StreamManager
}

// NewNATS creates a bus over the LEADS JetStream stream. The bus owns client.
func NewNATS(ctx context.Context, client *natsclient.Client, log *logger.Logger) (Bus, error) {
	streams := natsclient.NewStreamManager(client)
	if err := streams.EnsureStream(ctx); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return &natsBus{
		log:     log.Component("nats-bus"),
		client:  client,
		streams: streams,
	}, nil
}

func (b *natsBus) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := b.streams.Publish(ctx, natsclient.EventSubject(msg.Room.Disposition), raw, msg.ID); err != nil {
		metrics.BusErrors.WithLabelValues(DriverNATS, "publish").Inc()
		return err
	}
	return nil
}

func (b *natsBus) StartForwarder(ctx context.Context, onMsg func(m Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	sub, err := b.streams.Subscribe(natsclient.AllSubjects(), func(data []byte) {
		msg, err := decode(data)
		if err != nil {
			metrics.BusErrors.WithLabelValues(DriverNATS, "decode").Inc()
			b.log.Warn("bad NATS bus payload", zap.Error(err))
			return
		}
		onMsg(msg)
	})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (b *natsBus) Ping(context.Context) error {
	if !b.client.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (b *natsBus) Close() error {
	b.client.Close()
	return nil
}
