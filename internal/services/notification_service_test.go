package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/essater/payme/internal/iban"
	"github.com/essater/payme/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transferEventColumns = []string{
	"seq", "id", "sender_account_id", "recipient_account_id", "amount", "reason", "note", "occurred_at",
	"sender_first", "sender_last", "sender_iban", "recipient_first", "recipient_last", "recipient_iban",
}

func transferEventRow(rows *sqlmock.Rows, seq int64, id string, occurredAt time.Time) *sqlmock.Rows {
	return rows.AddRow(seq, id, senderID, recipientID, int64(4000), "p2p", "", occurredAt,
		"Esra", "Tander", senderIBAN, "Ayse", "Yilmaz", recipIBAN)
}

func TestNotificationService_DispatchPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewNotificationService(db, redisClient, NewLedgerService(db, 0), time.Second)

	pos := int64(41)
	occurredAt := time.Date(2025, 6, 1, 10, 0, 30, 0, time.UTC)

	outgoing := models.Notification{
		ID:        "transfer_tr1_out",
		AccountID: senderID,
		Kind:      "transfer",
		Title:     "Para Gönderildi",
		Body:      "Ayse Yilmaz (" + iban.Mask(recipIBAN) + ") adlı alıcıya 40.00 TL gönderdiniz.",
		CreatedAt: occurredAt,
	}
	incoming := models.Notification{
		ID:        "transfer_tr1_in",
		AccountID: recipientID,
		Kind:      "transfer",
		Title:     "Para Geldi!",
		Body:      "Esra Tander (" + iban.Mask(senderIBAN) + ") size 40.00 TL gönderdi.",
		CreatedAt: occurredAt,
	}
	outgoingPayload, err := json.Marshal(outgoing)
	require.NoError(t, err)
	incomingPayload, err := json.Marshal(incoming)
	require.NoError(t, err)

	t.Run("notifies both sides and advances watermark", func(t *testing.T) {
		mock.ExpectQuery("SELECT position FROM dispatch_offsets").
			WithArgs(transferStream).
			WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(pos))

		mock.ExpectQuery("FROM transfers t").
			WithArgs(pos, 100).
			WillReturnRows(transferEventRow(sqlmock.NewRows(transferEventColumns), 42, "tr1", occurredAt))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO notifications").
			WithArgs("transfer_tr1_out", senderID, "transfer", "Para Gönderildi", outgoing.Body, occurredAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO notifications").
			WithArgs("transfer_tr1_in", recipientID, "transfer", "Para Geldi!", incoming.Body, occurredAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO dispatch_offsets").
			WithArgs(transferStream, int64(42)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		redisMock.ExpectRPush("push_queue", outgoingPayload).SetVal(1)
		redisMock.ExpectRPush("push_queue", incomingPayload).SetVal(2)

		created, err := service.DispatchPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, created)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("replayed window creates nothing", func(t *testing.T) {
		mock.ExpectQuery("SELECT position FROM dispatch_offsets").
			WithArgs(transferStream).
			WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(pos))

		mock.ExpectQuery("FROM transfers t").
			WithArgs(pos, 100).
			WillReturnRows(transferEventRow(sqlmock.NewRows(transferEventColumns), 42, "tr1", occurredAt))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO notifications").
			WillReturnResult(sqlmock.NewResult(0, 0)) // id already present
		mock.ExpectExec("INSERT INTO notifications").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO dispatch_offsets").
			WithArgs(transferStream, int64(42)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		created, err := service.DispatchPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, created)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("empty window is a no-op", func(t *testing.T) {
		mock.ExpectQuery("SELECT position FROM dispatch_offsets").
			WithArgs(transferStream).
			WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(pos))

		mock.ExpectQuery("FROM transfers t").
			WithArgs(pos, 100).
			WillReturnRows(sqlmock.NewRows(transferEventColumns))

		created, err := service.DispatchPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// Two transfers sharing one occurred_at must both be dispatched even when the
// batch cuts between them: the cursor orders by the log sequence, not by
// timestamp.
func TestNotificationService_DispatchPending_BatchBoundaryTie(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewNotificationService(db, nil, NewLedgerService(db, 0), time.Second)
	service.batchSize = 1

	occurredAt := time.Date(2025, 6, 1, 10, 0, 30, 0, time.UTC)

	// First cycle picks up seq 7 only.
	mock.ExpectQuery("SELECT position FROM dispatch_offsets").
		WithArgs(transferStream).
		WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(int64(6)))
	mock.ExpectQuery("FROM transfers t").
		WithArgs(int64(6), 1).
		WillReturnRows(transferEventRow(sqlmock.NewRows(transferEventColumns), 7, "tr1", occurredAt))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO dispatch_offsets").
		WithArgs(transferStream, int64(7)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	created, err := service.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// Second cycle continues past the same timestamp and finds seq 8.
	mock.ExpectQuery("SELECT position FROM dispatch_offsets").
		WithArgs(transferStream).
		WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(int64(7)))
	mock.ExpectQuery("FROM transfers t").
		WithArgs(int64(7), 1).
		WillReturnRows(transferEventRow(sqlmock.NewRows(transferEventColumns), 8, "tr2", occurredAt))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs("transfer_tr2_out", senderID, "transfer", sqlmock.AnyArg(), sqlmock.AnyArg(), occurredAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs("transfer_tr2_in", recipientID, "transfer", sqlmock.AnyArg(), sqlmock.AnyArg(), occurredAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO dispatch_offsets").
		WithArgs(transferStream, int64(8)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	created, err = service.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationService_WatermarkInit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewNotificationService(db, nil, NewLedgerService(db, 0), time.Second)

	// First run: no offset row yet. The watermark starts at the end of the
	// log, so nothing historical is dispatched.
	mock.ExpectQuery("SELECT position FROM dispatch_offsets").
		WithArgs(transferStream).
		WillReturnRows(sqlmock.NewRows([]string{"position"}))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(12)))
	mock.ExpectExec("INSERT INTO dispatch_offsets").
		WithArgs(transferStream, int64(12)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM transfers t").
		WithArgs(int64(12), 100).
		WillReturnRows(sqlmock.NewRows(transferEventColumns))

	created, err := service.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationService_Inbox(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewNotificationService(db, nil, NewLedgerService(db, 0), time.Second)
	now := time.Now().UTC()

	t.Run("list", func(t *testing.T) {
		mock.ExpectQuery("FROM notifications").
			WithArgs(senderID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "kind", "title", "body", "read", "created_at"}).
				AddRow("transfer_tr1", senderID, "transfer", "Para Geldi!", "...", false, now))

		w := httptest.NewRecorder()
		service.ListNotifications(w, authedRequest(http.MethodGet, "/notifications", ""))

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unread count", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(senderID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		w := httptest.NewRecorder()
		service.UnreadCount(w, authedRequest(http.MethodGet, "/notifications/unread-count", ""))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"unread":3`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark read", func(t *testing.T) {
		mock.ExpectExec("UPDATE notifications SET read").
			WithArgs("transfer_tr1", senderID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		r := withChiParam(authedRequest(http.MethodPost, "/notifications/transfer_tr1/read", ""), "id", "transfer_tr1")
		w := httptest.NewRecorder()
		service.MarkRead(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark read of unknown id", func(t *testing.T) {
		mock.ExpectExec("UPDATE notifications SET read").
			WithArgs("nope", senderID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		r := withChiParam(authedRequest(http.MethodPost, "/notifications/nope/read", ""), "id", "nope")
		w := httptest.NewRecorder()
		service.MarkRead(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM notifications").
			WithArgs("transfer_tr1", senderID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		r := withChiParam(authedRequest(http.MethodDelete, "/notifications/transfer_tr1", ""), "id", "transfer_tr1")
		w := httptest.NewRecorder()
		service.DeleteNotification(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
