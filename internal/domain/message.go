package domain

import (
	"time"
)

// Message is one relayed chat message, persisted for the admin chat log.
type Message struct {
	ID         int64     `json:"id"`
	PairID     string    `json:"pair_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}
