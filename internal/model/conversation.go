package model

import (
	"time"
)

// ParticipantRole is the role a conversation participant plays for the business.
type ParticipantRole string

const (
	RoleOwner ParticipantRole = "owner"
	RoleGuest ParticipantRole = "guest"
)

// Valid reports whether r is empty or a known role.
func (r ParticipantRole) Valid() bool {
	return r == "" || r == RoleOwner || r == RoleGuest
}

// Provenance marks how far a resolve caller may be trusted to seed identity data.
type Provenance string

const (
	ProvenanceTrusted   Provenance = "trusted"
	ProvenanceUntrusted Provenance = "untrusted"
)

// Snapshot holds the identity fields of a conversation participant.
type Snapshot struct {
	DisplayName   string          `json:"display_name,omitempty"`
	Location      string          `json:"location,omitempty"`
	Role          ParticipantRole `json:"role,omitempty"`
	ReferenceLink string          `json:"reference_link,omitempty"`
}

// Conversation is a WhatsApp conversation keyed by participant phone and business channel.
type Conversation struct {
	ID                string `json:"id" gorm:"type:text;primaryKey"`
	ParticipantPhone  string `json:"participant_phone" gorm:"type:text;not null;uniqueIndex:ux_conversation_participant,priority:1"`
	BusinessChannelID string `json:"business_channel_id" gorm:"type:text;not null;uniqueIndex:ux_conversation_participant,priority:2"`

	// Identity snapshot
	DisplayName   string          `json:"display_name"`
	Location      string          `json:"location"`
	Role          ParticipantRole `json:"role"`
	ReferenceLink string          `json:"reference_link"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns the identity fields of c.
func (c *Conversation) Snapshot() Snapshot {
	return Snapshot{
		DisplayName:   c.DisplayName,
		Location:      c.Location,
		Role:          c.Role,
		ReferenceLink: c.ReferenceLink,
	}
}

// ResolveConversationRequest is the request to resolve a participant to a conversation.
type ResolveConversationRequest struct {
	ParticipantPhone  string     `json:"participant_phone"`
	BusinessChannelID string     `json:"business_channel_id"`
	Snapshot          Snapshot   `json:"snapshot"`
	Provenance        Provenance `json:"provenance"`
}

// InboundMessageWebhook is the subset of an inbound WhatsApp webhook the relay reads.
type InboundMessageWebhook struct {
	From        string `json:"from"`
	PhoneNumber string `json:"phone_number_id"`
	ProfileName string `json:"profile_name,omitempty"`
	Body        string `json:"body,omitempty"`
}
