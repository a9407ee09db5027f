package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	senderID    = "11111111-0000-0000-0000-000000000001"
	recipientID = "22222222-0000-0000-0000-000000000002"
	senderIBAN  = "TR478278690407764450974731"
	recipIBAN   = "TR560001500158007304556677"
)

func lockRows(id, ibanVal string, balance int64, version int, first, last string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "iban", "balance", "version", "status", "first_name", "last_name"}).
		AddRow(id, ibanVal, balance, version, "ACTIVE", first, last)
}

func TestLedgerService_AtomicTransfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, 0)

	t.Run("successful transfer", func(t *testing.T) {
		amount := int64(4000) // 40.00 against a 100.00 balance

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id FROM accounts WHERE iban").
			WithArgs(recipIBAN).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(recipientID))

		// Accounts locked in id order: sender sorts first here.
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(senderID).
			WillReturnRows(lockRows(senderID, senderIBAN, 10000, 1, "Esra", "Tander"))
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(recipientID).
			WillReturnRows(lockRows(recipientID, recipIBAN, 10000, 3, "Ayse", "Yilmaz"))

		mock.ExpectExec("INSERT INTO transfers").
			WithArgs(sqlmock.AnyArg(), nil, senderID, recipientID, amount, "p2p", "lunch", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Mirrored rows: sender debited, recipient credited, same transfer id.
		mock.ExpectExec("INSERT INTO account_transactions").
			WithArgs(sqlmock.AnyArg(), senderID, sqlmock.AnyArg(), recipIBAN, "Ayse Yilmaz",
				-amount, "out", "p2p", "lunch", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO account_transactions").
			WithArgs(sqlmock.AnyArg(), recipientID, sqlmock.AnyArg(), senderIBAN, "Esra Tander",
				amount, "in", "p2p", "lunch", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(6000), sqlmock.AnyArg(), senderID, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(14000), sqlmock.AnyArg(), recipientID, 3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		result, err := service.AtomicTransfer(TransferInput{
			SenderAccountID: senderID,
			RecipientIBAN:   recipIBAN,
			Amount:          amount,
			Reason:          "p2p",
			Note:            "lunch",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, result.TransferID)
		assert.False(t, result.Duplicate)
		assert.Equal(t, int64(6000), result.SenderBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds leaves balances untouched", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id FROM accounts WHERE iban").
			WithArgs(recipIBAN).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(recipientID))

		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(senderID).
			WillReturnRows(lockRows(senderID, senderIBAN, 3000, 1, "Esra", "Tander"))
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(recipientID).
			WillReturnRows(lockRows(recipientID, recipIBAN, 0, 1, "Ayse", "Yilmaz"))

		// No inserts, no updates: the transaction rolls back.
		mock.ExpectRollback()

		_, err := service.AtomicTransfer(TransferInput{
			SenderAccountID: senderID,
			RecipientIBAN:   recipIBAN,
			Amount:          4000,
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive amount before touching storage", func(t *testing.T) {
		for _, amount := range []int64{0, -1} {
			_, err := service.AtomicTransfer(TransferInput{
				SenderAccountID: senderID,
				RecipientIBAN:   recipIBAN,
				Amount:          amount,
			})
			assert.ErrorIs(t, err, ErrInvalidAmount)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects self transfer", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM accounts WHERE iban").
			WithArgs(senderIBAN).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(senderID))
		mock.ExpectRollback()

		_, err := service.AtomicTransfer(TransferInput{
			SenderAccountID: senderID,
			RecipientIBAN:   senderIBAN,
			Amount:          100,
		})
		assert.ErrorIs(t, err, ErrSelfTransfer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown recipient identifier", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM accounts WHERE iban").
			WithArgs(recipIBAN).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.AtomicTransfer(TransferInput{
			SenderAccountID: senderID,
			RecipientIBAN:   recipIBAN,
			Amount:          100,
		})
		assert.ErrorIs(t, err, ErrRecipientNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate client reference returns prior result with live balance", func(t *testing.T) {
		occurredAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, occurred_at FROM transfers WHERE client_reference").
			WithArgs("ref-42").
			WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at"}).AddRow("prior-transfer-id", occurredAt))
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id").
			WithArgs(senderID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(6000)))
		mock.ExpectRollback()

		result, err := service.AtomicTransfer(TransferInput{
			ClientReference: "ref-42",
			SenderAccountID: senderID,
			RecipientIBAN:   recipIBAN,
			Amount:          4000,
		})
		require.NoError(t, err)
		assert.True(t, result.Duplicate)
		assert.Equal(t, "prior-transfer-id", result.TransferID)
		assert.Equal(t, occurredAt, result.OccurredAt)
		assert.Equal(t, int64(6000), result.SenderBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent version bump aborts the transfer", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id FROM accounts WHERE iban").
			WithArgs(recipIBAN).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(recipientID))

		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(senderID).
			WillReturnRows(lockRows(senderID, senderIBAN, 10000, 1, "Esra", "Tander"))
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(recipientID).
			WillReturnRows(lockRows(recipientID, recipIBAN, 0, 1, "Ayse", "Yilmaz"))

		mock.ExpectExec("INSERT INTO transfers").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO account_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO account_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(6000), sqlmock.AnyArg(), senderID, 1).
			WillReturnResult(sqlmock.NewResult(1, 0)) // version moved underneath us

		mock.ExpectRollback()

		_, err := service.AtomicTransfer(TransferInput{
			SenderAccountID: senderID,
			RecipientIBAN:   recipIBAN,
			Amount:          4000,
		})
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("amount over configured cap", func(t *testing.T) {
		capped := NewLedgerService(db, 100_000_000)
		_, err := capped.AtomicTransfer(TransferInput{
			SenderAccountID: senderID,
			RecipientIBAN:   recipIBAN,
			Amount:          100_000_001,
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestLedgerService_Transactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, 0)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, account_id, transfer_id").
		WithArgs(senderID, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "transfer_id", "counterparty_iban", "counterparty_name", "amount", "direction", "reason", "note", "occurred_at", "created_at"}).
			AddRow("t2", senderID, "tr2", recipIBAN, "Ayse Yilmaz", int64(-4000), "out", "p2p", "", now, now).
			AddRow("t1", senderID, "tr1", recipIBAN, "Ayse Yilmaz", int64(2500), "in", "p2p", "", now.Add(-time.Hour), now.Add(-time.Hour)))

	txns, err := service.Transactions(senderID, 50)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, int64(-4000), txns[0].Amount)
	assert.Equal(t, "out", txns[0].Direction)
	assert.Equal(t, int64(2500), txns[1].Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_TransfersSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, 0)
	occurredAt := time.Date(2025, 6, 1, 0, 1, 0, 0, time.UTC)

	mock.ExpectQuery("FROM transfers t").
		WithArgs(int64(41), 100).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "sender_account_id", "recipient_account_id", "amount", "reason", "note", "occurred_at",
			"sender_first", "sender_last", "sender_iban", "recipient_first", "recipient_last", "recipient_iban"}).
			AddRow(int64(42), "tr1", senderID, recipientID, int64(4000), "p2p", "", occurredAt,
				"Esra", "Tander", senderIBAN, "Ayse", "Yilmaz", recipIBAN))

	events, err := service.TransfersSince(41, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(42), events[0].Seq)
	assert.Equal(t, "Esra Tander", events[0].SenderName)
	assert.Equal(t, senderIBAN, events[0].SenderIBAN)
	assert.Equal(t, "Ayse Yilmaz", events[0].RecipientName)
	assert.Equal(t, recipIBAN, events[0].RecipientIBAN)
	assert.NoError(t, mock.ExpectationsWereMet())
}
