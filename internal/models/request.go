package models

import (
	"time"
)

// FriendRequest is a pending request keyed by (recipient, requester): a pair
// can have at most one pending friend request. Presence means pending;
// accept/reject deletes the row.
type FriendRequest struct {
	RecipientAccountID string    `json:"recipient_account_id" db:"recipient_account_id"`
	RequesterAccountID string    `json:"requester_account_id" db:"requester_account_id"`
	RequesterName      string    `json:"requester_name" db:"requester_name"`
	RequesterIBAN      string    `json:"requester_iban" db:"requester_iban"`
	FriendName         string    `json:"friend_name" db:"friend_name"`
	FriendNickname     string    `json:"friend_nickname" db:"friend_nickname"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// MoneyRequest has its own id: the same pair may have many pending money
// requests at once. Accepting one triggers a transfer to the requester.
type MoneyRequest struct {
	ID                 string    `json:"id" db:"id"`
	RequesterAccountID string    `json:"requester_account_id" db:"requester_account_id"`
	RequesterName      string    `json:"requester_name" db:"requester_name"`
	RequesterIBAN      string    `json:"requester_iban" db:"requester_iban"`
	RecipientAccountID string    `json:"recipient_account_id" db:"recipient_account_id"`
	Amount             int64     `json:"amount" db:"amount"` // in kurus
	Note               string    `json:"note" db:"note"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// Friend is one direction of a mutual connection; accepting a friend request
// writes one row into each party's list.
type Friend struct {
	AccountID       string    `json:"account_id" db:"account_id"`
	FriendAccountID string    `json:"friend_account_id" db:"friend_account_id"`
	Name            string    `json:"name" db:"name"`
	Nickname        string    `json:"nickname" db:"nickname"`
	IBAN            string    `json:"iban" db:"iban"`
	Since           time.Time `json:"since" db:"since"`
}
