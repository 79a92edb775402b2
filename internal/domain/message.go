// Package domain contains entity without logic, just meta-data
package domain

import (
	"time"

	"github.com/google/uuid"
)

type RoomID string

// Message is immutable once created and owned by its room's log.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage keeps id/timestamp generation out of the adapters.
// Timestamp is unix milliseconds.
func NewMessage(sender, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}
