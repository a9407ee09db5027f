package models

import (
	"time"
)

// Transaction direction values
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Transfer is the canonical row in the global transfer log, written once per
// committed transfer alongside the two mirrored per-account transaction rows.
type Transfer struct {
	ID                 string    `json:"id" db:"id"`
	Seq                int64     `json:"seq" db:"seq"` // log position, assigned by the database
	ClientReference    string    `json:"client_reference,omitempty" db:"client_reference"`
	SenderAccountID    string    `json:"sender_account_id" db:"sender_account_id"`
	RecipientAccountID string    `json:"recipient_account_id" db:"recipient_account_id"`
	Amount             int64     `json:"amount" db:"amount"` // in kurus
	Reason             string    `json:"reason" db:"reason"`
	Note               string    `json:"note" db:"note"`
	OccurredAt         time.Time `json:"occurred_at" db:"occurred_at"`
}

// Transaction is one side of a transfer as seen from a single account's
// history. Amount is signed: negative = debit, positive = credit. Rows are
// immutable once written.
type Transaction struct {
	ID               string    `json:"id" db:"id"`
	AccountID        string    `json:"account_id" db:"account_id"`
	TransferID       string    `json:"transfer_id" db:"transfer_id"`
	CounterpartyIBAN string    `json:"counterparty_iban" db:"counterparty_iban"`
	CounterpartyName string    `json:"counterparty_name" db:"counterparty_name"`
	Amount           int64     `json:"amount" db:"amount"` // signed, in kurus
	Direction        string    `json:"direction" db:"direction"`
	Reason           string    `json:"reason" db:"reason"`
	Note             string    `json:"note" db:"note"`
	OccurredAt       time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
