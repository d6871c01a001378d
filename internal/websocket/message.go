package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	// client -> server
	TypeRegisterDevice MessageType = "register_device"
	TypeStartEditing   MessageType = "start_editing"
	TypeStopEditing    MessageType = "stop_editing"
	TypePing           MessageType = "ping"

	// server -> client
	TypeConnectionEstablished MessageType = "connection_established"
	TypeUserEditing           MessageType = "user_editing"
	TypePong                  MessageType = "pong"

	// both directions
	TypeNoteUpdated      MessageType = "note_updated"
	TypeConflictDetected MessageType = "conflict_detected"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type RegisterDevicePayload struct {
	DeviceID string `json:"device_id"`
}

type EditingPayload struct {
	NoteID   string `json:"note_id"`
	DeviceID string `json:"device_id"`
}

type UserEditingPayload struct {
	NoteID  string `json:"note_id"`
	UserID  string `json:"user_id"`
	Editing bool   `json:"editing"`
}

// NoteUpdatedPayload flows both ways. Inbound, BaseVersionID names the
// version the client edited from; outbound, VersionID carries the promoted
// version.
type NoteUpdatedPayload struct {
	NoteID        string `json:"note_id"`
	VersionID     string `json:"version_id,omitempty"`
	BaseVersionID string `json:"base_version_id,omitempty"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	ContentHash   string `json:"content_hash,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
}

type ConflictDetectedPayload struct {
	NoteID       string `json:"note_id"`
	ConflictType string `json:"conflict_type"`
	DetectedBy   string `json:"detected_by"`
}

type ConnectionEstablishedPayload struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id"`
}

func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		dataBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

func (m *Message) UnmarshalData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}
