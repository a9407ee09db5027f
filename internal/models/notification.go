package models

import (
	"time"
)

// Notification kinds
const (
	NotificationTransfer             = "transfer"
	NotificationFriendRequest        = "friend_request"
	NotificationFriendAccept         = "friend_accept"
	NotificationMoneyRequest         = "money_request"
	NotificationMoneyRequestRejected = "money_request_rejected"
)

// Notification is an inbox entry. IDs are deterministic per source event and
// addressee (e.g. "transfer_<id>_in", or "friend_req_<account>") so replaying
// a dispatch window cannot produce duplicates.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Kind      string    `json:"kind" db:"kind"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	Read      bool      `json:"read" db:"read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
