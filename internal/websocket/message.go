package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeReplicaChanged MessageType = "replica_changed"
	TypeDeviceOnline   MessageType = "device_online"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ReplicaChangedPayload announces that another device wrote to the replica
// store. DeviceID identifies the writer so a device can ignore its own echo.
type ReplicaChangedPayload struct {
	DeviceID   string    `json:"device_id"`
	ChangedAt  time.Time `json:"changed_at"`
	RecordKeys []string  `json:"record_keys,omitempty"`
}

type DeviceOnlinePayload struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
