// Package tasks defines the payloads published to Kafka.
package tasks

import "time"

// TurnCompletedEvent is emitted after an assistant reply has been persisted.
type TurnCompletedEvent struct {
	TurnID           string    `json:"turn_id"`
	ConversationID   uint      `json:"conversation_id"`
	NewConversation  bool      `json:"new_conversation"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message"`
	Fragments        int       `json:"fragments"`
	CompletedAt      time.Time `json:"completed_at"`
}
