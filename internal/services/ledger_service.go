package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/essater/payme/internal/iban"
	"github.com/essater/payme/internal/models"
	"github.com/google/uuid"
)

// LedgerService owns the accounts, transfers and account_transactions tables.
// Balances change only through AtomicTransfer.
type LedgerService struct {
	db        *sql.DB
	maxAmount int64 // in kurus, 0 disables the cap
}

func NewLedgerService(db *sql.DB, maxAmount int64) *LedgerService {
	return &LedgerService{db: db, maxAmount: maxAmount}
}

// TransferInput describes one requested transfer. ClientReference is an
// optional idempotency key; repeating a reference returns the original
// result instead of moving money twice.
type TransferInput struct {
	ClientReference string
	SenderAccountID string
	RecipientIBAN   string
	Amount          int64
	Reason          string
	Note            string
}

type TransferResult struct {
	TransferID    string
	OccurredAt    time.Time
	SenderBalance int64
	Duplicate     bool
}

// lockedAccount is an account row held under FOR UPDATE, with the holder's
// display name joined in for the mirrored transaction rows.
type lockedAccount struct {
	ID         string
	IBAN       string
	Balance    int64
	Version    int
	Status     string
	HolderName string
}

// AtomicTransfer moves amount from the sender to the account holding
// RecipientIBAN. The transfers row, both mirrored account_transactions rows
// and both balance updates commit in a single database transaction; on any
// failure before commit nothing is applied.
func (s *LedgerService) AtomicTransfer(in TransferInput) (*TransferResult, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if s.maxAmount > 0 && in.Amount > s.maxAmount {
		return nil, fmt.Errorf("%w: amount exceeds transfer limit", ErrInvalidAmount)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	// Idempotency: a repeated client reference returns the prior result.
	if in.ClientReference != "" {
		var prior TransferResult
		err := tx.QueryRow(`
			SELECT id, occurred_at FROM transfers WHERE client_reference = $1`,
			in.ClientReference).Scan(&prior.TransferID, &prior.OccurredAt)
		if err == nil {
			// The replay still reports the sender's live balance, not zero.
			err = tx.QueryRow(`SELECT balance FROM accounts WHERE id = $1`,
				in.SenderAccountID).Scan(&prior.SenderBalance)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			log.Printf("[LEDGER] Duplicate client reference %s, returning transfer %s", in.ClientReference, prior.TransferID)
			prior.Duplicate = true
			return &prior, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	recipientID, err := s.resolveAccountID(tx, in.RecipientIBAN)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if recipientID == in.SenderAccountID {
		return nil, ErrSelfTransfer
	}

	// Lock both accounts in consistent id order to prevent deadlocks.
	firstLock, secondLock := in.SenderAccountID, recipientID
	if firstLock > secondLock {
		firstLock, secondLock = secondLock, firstLock
	}

	first, err := s.lockAccount(tx, firstLock)
	if err != nil {
		return nil, s.lockError(err, firstLock, in.SenderAccountID)
	}
	second, err := s.lockAccount(tx, secondLock)
	if err != nil {
		return nil, s.lockError(err, secondLock, in.SenderAccountID)
	}

	sender, recipient := first, second
	if first.ID != in.SenderAccountID {
		sender, recipient = second, first
	}

	if sender.Status != models.AccountStatusActive {
		return nil, fmt.Errorf("%w: sender", ErrAccountFrozen)
	}
	if recipient.Status != models.AccountStatusActive {
		return nil, fmt.Errorf("%w: recipient", ErrAccountFrozen)
	}

	if sender.Balance < in.Amount {
		return nil, ErrInsufficientFunds
	}

	// One timestamp shared by the transfer row and both mirrored entries.
	occurredAt := time.Now().UTC()
	transferID := uuid.NewString()

	_, err = tx.Exec(`
		INSERT INTO transfers (id, client_reference, sender_account_id, recipient_account_id, amount, reason, note, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		transferID, nullable(in.ClientReference), sender.ID, recipient.ID, in.Amount, in.Reason, in.Note, occurredAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.insertEntry(tx, transferID, sender, recipient, -in.Amount, models.DirectionOut, in, occurredAt); err != nil {
		return nil, err
	}
	if err := s.insertEntry(tx, transferID, recipient, sender, in.Amount, models.DirectionIn, in, occurredAt); err != nil {
		return nil, err
	}

	if err := s.updateBalance(tx, sender.ID, sender.Balance-in.Amount, sender.Version); err != nil {
		return nil, err
	}
	if err := s.updateBalance(tx, recipient.ID, recipient.Balance+in.Amount, recipient.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LEDGER] Commit failed for transfer %s: %v", transferID, err)
		return nil, fmt.Errorf("%w: %v", ErrAmbiguousCommit, err)
	}

	log.Printf("[LEDGER] Transfer %s committed: %s -> %s, amount %d", transferID, iban.Mask(sender.IBAN), iban.Mask(recipient.IBAN), in.Amount)
	return &TransferResult{
		TransferID:    transferID,
		OccurredAt:    occurredAt,
		SenderBalance: sender.Balance - in.Amount,
	}, nil
}

// insertEntry writes one side of the transfer into the owning account's
// history. Amount is signed; the counterparty columns come from the other
// locked account so history reads never need a join.
func (s *LedgerService) insertEntry(tx *sql.Tx, transferID string, owner, counterparty *lockedAccount, amount int64, direction string, in TransferInput, occurredAt time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO account_transactions (id, account_id, transfer_id, counterparty_iban, counterparty_name, amount, direction, reason, note, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.NewString(), owner.ID, transferID, counterparty.IBAN, counterparty.HolderName,
		amount, direction, in.Reason, in.Note, occurredAt, occurredAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *LedgerService) resolveAccountID(tx *sql.Tx, rawIBAN string) (string, error) {
	var id string
	err := tx.QueryRow(`SELECT id FROM accounts WHERE iban = $1`, iban.Normalize(rawIBAN)).Scan(&id)
	return id, err
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) (*lockedAccount, error) {
	var a lockedAccount
	var first, last string
	err := tx.QueryRow(`
		SELECT a.id, a.iban, a.balance, a.version, a.status, u.first_name, u.last_name
		FROM accounts a
		JOIN users u ON u.id = a.user_id
		WHERE a.id = $1
		FOR UPDATE OF a`, accountID).Scan(&a.ID, &a.IBAN, &a.Balance, &a.Version, &a.Status, &first, &last)
	if err != nil {
		return nil, err
	}
	a.HolderName = first + " " + last
	return &a, nil
}

func (s *LedgerService) lockError(err error, lockedID, senderID string) error {
	if err == sql.ErrNoRows {
		if lockedID == senderID {
			return ErrSenderNotFound
		}
		return ErrRecipientNotFound
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (s *LedgerService) updateBalance(tx *sql.Tx, accountID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now().UTC(), accountID, version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: optimistic lock failed for account %s", ErrStoreUnavailable, accountID)
	}
	return nil
}

// AccountByID fetches a single account row outside any transfer.
func (s *LedgerService) AccountByID(accountID string) (*models.Account, error) {
	var a models.Account
	err := s.db.QueryRow(`
		SELECT id, user_id, iban, balance, version, status, created_at, updated_at
		FROM accounts WHERE id = $1`, accountID).
		Scan(&a.ID, &a.UserID, &a.IBAN, &a.Balance, &a.Version, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSenderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &a, nil
}

// FindAccountByIBAN resolves a (possibly formatted) identifier to an account
// and the holder's display name. Used for the pre-transfer recipient check.
func (s *LedgerService) FindAccountByIBAN(rawIBAN string) (*models.Account, string, error) {
	if err := iban.Validate(rawIBAN); err != nil {
		return nil, "", err
	}

	var a models.Account
	var first, last string
	err := s.db.QueryRow(`
		SELECT a.id, a.user_id, a.iban, a.balance, a.version, a.status, a.created_at, a.updated_at, u.first_name, u.last_name
		FROM accounts a
		JOIN users u ON u.id = a.user_id
		WHERE a.iban = $1`, iban.Normalize(rawIBAN)).
		Scan(&a.ID, &a.UserID, &a.IBAN, &a.Balance, &a.Version, &a.Status, &a.CreatedAt, &a.UpdatedAt, &first, &last)
	if err == sql.ErrNoRows {
		return nil, "", ErrRecipientNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &a, first + " " + last, nil
}

// Transactions returns the account's history, newest first.
func (s *LedgerService) Transactions(accountID string, limit int) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, transfer_id, counterparty_iban, counterparty_name, amount, direction, reason, note, occurred_at, created_at
		FROM account_transactions
		WHERE account_id = $1
		ORDER BY occurred_at DESC, id
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	txns := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.TransferID, &t.CounterpartyIBAN, &t.CounterpartyName,
			&t.Amount, &t.Direction, &t.Reason, &t.Note, &t.OccurredAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// TransferEvent is one committed transfer joined with both parties, as
// consumed by the notification dispatcher.
type TransferEvent struct {
	models.Transfer
	SenderName    string
	SenderIBAN    string
	RecipientName string
	RecipientIBAN string
}

// TransfersSince returns transfers with a log sequence strictly after pos.
// The sequence is assigned by the database on insert, so ordering never
// depends on wall-clock timestamps and same-timestamp transfers cannot be
// skipped at a batch boundary. The dispatcher advances its watermark from
// the results.
func (s *LedgerService) TransfersSince(pos int64, limit int) ([]TransferEvent, error) {
	rows, err := s.db.Query(`
		SELECT t.seq, t.id, t.sender_account_id, t.recipient_account_id, t.amount, t.reason, t.note, t.occurred_at,
		       su.first_name, su.last_name, sa.iban,
		       ru.first_name, ru.last_name, ra.iban
		FROM transfers t
		JOIN accounts sa ON sa.id = t.sender_account_id
		JOIN users su ON su.id = sa.user_id
		JOIN accounts ra ON ra.id = t.recipient_account_id
		JOIN users ru ON ru.id = ra.user_id
		WHERE t.seq > $1
		ORDER BY t.seq
		LIMIT $2`, pos, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	events := []TransferEvent{}
	for rows.Next() {
		var ev TransferEvent
		var sFirst, sLast, rFirst, rLast string
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.SenderAccountID, &ev.RecipientAccountID, &ev.Amount, &ev.Reason, &ev.Note, &ev.OccurredAt,
			&sFirst, &sLast, &ev.SenderIBAN,
			&rFirst, &rLast, &ev.RecipientIBAN); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		ev.SenderName = sFirst + " " + sLast
		ev.RecipientName = rFirst + " " + rLast
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CreateAccount provisions a fresh zero-balance account for a user, with a
// newly generated identifier. Retries once if the generated identifier
// collides with an existing one.
func (s *LedgerService) CreateAccount(userID int) (*models.Account, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		a := &models.Account{
			ID:      uuid.NewString(),
			UserID:  userID,
			IBAN:    iban.Generate(),
			Balance: 0,
			Version: 1,
			Status:  models.AccountStatusActive,
		}
		now := time.Now().UTC()
		a.CreatedAt, a.UpdatedAt = now, now

		_, err := s.db.Exec(`
			INSERT INTO accounts (id, user_id, iban, balance, version, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			a.ID, a.UserID, a.IBAN, a.Balance, a.Version, a.Status, a.CreatedAt, a.UpdatedAt)
		if err == nil {
			log.Printf("[LEDGER] Created account %s for user %d", iban.Mask(a.IBAN), userID)
			return a, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
}

// nullable maps "" to NULL so unique indexes ignore absent values.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
