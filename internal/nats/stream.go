package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the name of the lead events stream.
	StreamName = "LEADS"

	// SubjectPrefix is the prefix for all lead event subjects.
	SubjectPrefix = "leads"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the lead events stream exists. The stream keeps a short audit
// window; live delivery does not depend on it.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{AllSubjects()},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Lead creation events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject lead events for a disposition are published on.
func EventSubject(disposition string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, disposition)
}

// AllSubjects returns the wildcard subject covering every lead event.
func AllSubjects() string {
	return SubjectPrefix + ".>"
}

// Publish publishes raw event data to JetStream and returns its stream sequence.
func (m *StreamManager) Publish(ctx context.Context, subject string, data []byte, msgID string) (uint64, error) {
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	ack, err := m.client.JetStream().Publish(ctx, subject, data, opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	return ack.Sequence, nil
}

// Subscribe registers a core subscription on subject. Messages stored by JetStream are
// also delivered to core subscribers, so every node sees every event once.
func (m *StreamManager) Subscribe(subject string, handler func(data []byte)) (*nats.Subscription, error) {
	sub, err := m.client.Conn().Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}
