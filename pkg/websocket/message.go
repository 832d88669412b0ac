// Package websocket defines the push-channel message types for /ws clients.
package websocket

import (
	"encoding/json"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

// MessageType discriminates push messages.
type MessageType string

const (
	// MessageTypeInitialState is sent once on connect with the full state.
	MessageTypeInitialState MessageType = "initial_state"
	// MessageTypeWorkUnitUpdate announces a work-unit state change.
	MessageTypeWorkUnitUpdate MessageType = "work_unit_update"
	// MessageTypeAttentionUpdate announces an attention-queue change.
	MessageTypeAttentionUpdate MessageType = "attention_update"
)

// StatusDeleted is the literal status broadcast when a work unit is removed.
const StatusDeleted = "DELETED"

// Attention actions.
const (
	AttentionActionAdded    = "added"
	AttentionActionResolved = "resolved"
)

// Message is the envelope for all push messages.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// InitialState is the payload sent on connect.
type InitialState struct {
	WorkUnits      []*v1.WorkUnit     `json:"work_units"`
	AttentionItems []*v1.AttentionItem `json:"attention_items"`
}

// WorkUnitUpdate is the per-event delta for a work unit.
// Status is the literal "DELETED" when the unit was removed.
type WorkUnitUpdate struct {
	Chunk           string `json:"chunk"`
	Status          string `json:"status"`
	Phase           string `json:"phase,omitempty"`
	AttentionReason string `json:"attention_reason,omitempty"`
}

// AttentionUpdate is the per-event delta for the attention queue.
type AttentionUpdate struct {
	Action string `json:"action"` // added | resolved
	Chunk  string `json:"chunk"`
	Reason string `json:"reason,omitempty"`
	// Question carries the structured question for suspension events.
	Question *v1.Question `json:"question,omitempty"`
}

// NewMessage marshals payload into a Message envelope.
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Data: data}, nil
}

// ParseData parses the message data into the given struct.
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}
