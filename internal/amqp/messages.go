package amqp

import (
	"encoding/json"
	"time"
)

// ProgressMessage is one stage or progress change of an update, as read by
// a UI process listening on the progress queue.
type ProgressMessage struct {
	UpdateID  string    `json:"update_id"`
	Stage     string    `json:"stage"`
	Progress  float64   `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

func NewProgressMessage(updateID, stage string, progress float64) *ProgressMessage {
	return &ProgressMessage{
		UpdateID:  updateID,
		Stage:     stage,
		Progress:  progress,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ProgressMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ProgressMessageFromJSON creates a message from JSON bytes
func ProgressMessageFromJSON(data []byte) (*ProgressMessage, error) {
	var msg ProgressMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
