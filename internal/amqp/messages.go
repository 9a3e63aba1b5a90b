package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowledger/internal/notify"
)

// MessageVersion is the envelope format written by this package.
const MessageVersion = 1

var ErrMalformedMessage = errors.New("malformed intent message")

// IntentMessage wraps a notification intent for the broker.
type IntentMessage struct {
	Version     int           `json:"version"`
	Intent      notify.Intent `json:"intent"`
	PublishedAt time.Time     `json:"published_at"`
}

func NewIntentMessage(in notify.Intent) *IntentMessage {
	return &IntentMessage{
		Version:     MessageVersion,
		Intent:      in,
		PublishedAt: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *IntentMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// IntentMessageFromJSON decodes and checks a message. Unknown versions and
// intents without a user or kind are rejected as malformed.
func IntentMessageFromJSON(data []byte) (*IntentMessage, error) {
	var msg IntentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Version != MessageVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedMessage, msg.Version)
	}
	if msg.Intent.UserID == "" || msg.Intent.Kind == "" {
		return nil, fmt.Errorf("%w: missing user or kind", ErrMalformedMessage)
	}
	return &msg, nil
}
