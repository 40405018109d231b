// Package bus carries lead events between relay nodes so every node can fan them out
// to its own connected sessions.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/leadrelay/internal/broker"
	"github.com/capitalize-ai/leadrelay/internal/room"
)

// Driver names accepted by New.
const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
	DriverRedis  = "redis"
	DriverAMQP   = "amqp"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus closed")

// Message is a routed event in transit between nodes.
type Message struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenant_id,omitempty"`
	Room     room.Key        `json:"room"`
	Kind     broker.Kind     `json:"kind"`
	Data     json.RawMessage `json:"data"`
	Time     time.Time       `json:"time"`
}

// NewMessage builds a message for a tenant's room, encoding payload as JSON.
func NewMessage(tenantID string, k room.Key, kind broker.Kind, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Message{
		ID:       uuid.Must(uuid.NewV7()).String(),
		TenantID: tenantID,
		Room:     k,
		Kind:     kind,
		Data:     data,
		Time:     time.Now().UTC(),
	}, nil
}

// Bus publishes messages cluster-wide and forwards every received message to a callback.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	StartForwarder(ctx context.Context, onMsg func(m Message)) error
	// Ping reports whether the bus can currently publish.
	Ping(ctx context.Context) error
	Close() error
}

func decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
