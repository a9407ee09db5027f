package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/essater/payme/internal/iban"
	"github.com/essater/payme/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RequestService handles the friend and money request workflows. Both resolve
// idempotently: a request row exists while pending and is deleted on accept
// or reject, so repeating a resolution finds nothing to do.
type RequestService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewRequestService(db *sql.DB, ledger *LedgerService) *RequestService {
	return &RequestService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// party is the account + holder identity used to stamp request rows.
type party struct {
	AccountID string
	IBAN      string
	Name      string
}

func (rs *RequestService) partyByAccountID(accountID string) (*party, error) {
	var p party
	var first, last string
	err := rs.db.QueryRow(`
		SELECT a.id, a.iban, u.first_name, u.last_name
		FROM accounts a
		JOIN users u ON u.id = a.user_id
		WHERE a.id = $1`, accountID).Scan(&p.AccountID, &p.IBAN, &first, &last)
	if err == sql.ErrNoRows {
		return nil, ErrSenderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	p.Name = first + " " + last
	return &p, nil
}

// SendFriendRequest creates a pending friend request addressed to the holder
// of the given IBAN. Repeating the call for the same pair is a no-op.
// @Summary Send a friend request
// @Tags friends
// @Accept json
// @Produce json
// @Param request body object{iban=string,nickname=string} true "Friend details"
// @Success 201 {object} object{status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /friends/requests [post]
func (rs *RequestService) SendFriendRequest(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		IBAN     string `json:"iban" validate:"required,iban_tr"`
		Nickname string `json:"nickname" validate:"omitempty,max=50"`
	}
	if !rs.decodeBody(w, r, &req) {
		return
	}
	if err := rs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	recipient, recipientName, err := rs.ledger.FindAccountByIBAN(req.IBAN)
	if err != nil {
		SendErrorResponse(w, transferErrorMessage(err), StatusForError(err), nil)
		return
	}
	if recipient.ID == accountID {
		SendErrorResponse(w, "Cannot befriend your own account", http.StatusBadRequest, nil)
		return
	}

	requester, err := rs.partyByAccountID(accountID)
	if err != nil {
		SendErrorResponse(w, transferErrorMessage(err), StatusForError(err), nil)
		return
	}

	tx, err := rs.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO friend_requests (recipient_account_id, requester_account_id, requester_name, requester_iban, friend_name, friend_nickname, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (recipient_account_id, requester_account_id) DO NOTHING`,
		recipient.ID, requester.AccountID, requester.Name, requester.IBAN, recipientName, req.Nickname, now)
	if err == nil {
		err = insertNotification(tx, models.Notification{
			ID:        "friend_req_" + requester.AccountID,
			AccountID: recipient.ID,
			Kind:      models.NotificationFriendRequest,
			Title:     "Arkadaşlık İsteği",
			Body:      requester.Name + " size arkadaşlık isteği gönderdi.",
			CreatedAt: now,
		})
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		log.Printf("[REQUEST] Friend request %s -> %s failed: %v", accountID, recipient.ID, err)
		SendErrorResponse(w, "Failed to send friend request", http.StatusServiceUnavailable, nil)
		return
	}

	log.Printf("[REQUEST] Friend request sent: %s -> %s", iban.Mask(requester.IBAN), iban.Mask(recipient.IBAN))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"status": "PENDING"})
}

// AcceptFriendRequest resolves a pending request into a mutual friendship.
// Accepting a request that was already resolved reports success.
// @Summary Accept a friend request
// @Tags friends
// @Produce json
// @Param requesterId path string true "Requester account id"
// @Success 200 {object} object{status=string}
// @Router /friends/requests/{requesterId}/accept [post]
func (rs *RequestService) AcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	requesterID := chi.URLParam(r, "requesterId")

	tx, err := rs.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}
	defer tx.Rollback()

	var fr models.FriendRequest
	err = tx.QueryRow(`
		SELECT recipient_account_id, requester_account_id, requester_name, requester_iban, friend_name, friend_nickname, created_at
		FROM friend_requests
		WHERE recipient_account_id = $1 AND requester_account_id = $2
		FOR UPDATE`, accountID, requesterID).
		Scan(&fr.RecipientAccountID, &fr.RequesterAccountID, &fr.RequesterName, &fr.RequesterIBAN, &fr.FriendName, &fr.FriendNickname, &fr.CreatedAt)
	if err == sql.ErrNoRows {
		sendAlreadyResolved(w)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	accepter, err := rs.partyByAccountID(accountID)
	if err != nil {
		SendErrorResponse(w, transferErrorMessage(err), StatusForError(err), nil)
		return
	}

	now := time.Now().UTC()

	// One row per direction; both written in the same transaction as the
	// request deletion so a crash cannot leave a half friendship.
	_, err = tx.Exec(`
		INSERT INTO friends (account_id, friend_account_id, name, nickname, iban, since)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, friend_account_id) DO NOTHING`,
		accountID, fr.RequesterAccountID, fr.RequesterName, fr.FriendNickname, fr.RequesterIBAN, now)
	if err == nil {
		_, err = tx.Exec(`
			INSERT INTO friends (account_id, friend_account_id, name, nickname, iban, since)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (account_id, friend_account_id) DO NOTHING`,
			fr.RequesterAccountID, accountID, accepter.Name, "", accepter.IBAN, now)
	}
	if err == nil {
		err = insertNotification(tx, models.Notification{
			ID:        "friend_accept_" + accountID,
			AccountID: fr.RequesterAccountID,
			Kind:      models.NotificationFriendAccept,
			Title:     "Arkadaşlık İsteği Kabul Edildi",
			Body:      accepter.Name + " arkadaşlık isteğinizi kabul etti.",
			CreatedAt: now,
		})
	}
	if err == nil {
		_, err = tx.Exec(`
			DELETE FROM friend_requests WHERE recipient_account_id = $1 AND requester_account_id = $2`,
			accountID, requesterID)
	}
	if err == nil {
		// The pending-request notification is gone once resolved.
		_, err = tx.Exec(`DELETE FROM notifications WHERE id = $1 AND account_id = $2`,
			"friend_req_"+requesterID, accountID)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		log.Printf("[REQUEST] Friend accept %s <- %s failed: %v", accountID, requesterID, err)
		SendErrorResponse(w, "Failed to accept friend request", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ACCEPTED"})
}

// RejectFriendRequest deletes a pending request without creating friendship.
// Rejecting a request that was already resolved reports success.
// @Summary Reject a friend request
// @Tags friends
// @Produce json
// @Param requesterId path string true "Requester account id"
// @Success 200 {object} object{status=string}
// @Router /friends/requests/{requesterId}/reject [post]
func (rs *RequestService) RejectFriendRequest(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	requesterID := chi.URLParam(r, "requesterId")

	tx, err := rs.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		DELETE FROM friend_requests WHERE recipient_account_id = $1 AND requester_account_id = $2`,
		accountID, requesterID)
	if err != nil {
		SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		sendAlreadyResolved(w)
		return
	}

	_, err = tx.Exec(`DELETE FROM notifications WHERE id = $1 AND account_id = $2`,
		"friend_req_"+requesterID, accountID)
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		SendErrorResponse(w, "Failed to reject friend request", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "REJECTED"})
}

// ListFriendRequests returns pending requests addressed to the caller.
// @Summary List incoming friend requests
// @Tags friends
// @Produce json
// @Success 200 {object} object{requests=[]models.FriendRequest,count=int}
// @Router /friends/requests [get]
func (rs *RequestService) ListFriendRequests(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := rs.db.Query(`
		SELECT recipient_account_id, requester_account_id, requester_name, requester_iban, friend_name, friend_nickname, created_at
		FROM friend_requests
		WHERE recipient_account_id = $1
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch friend requests", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	requests := []models.FriendRequest{}
	for rows.Next() {
		var fr models.FriendRequest
		if err := rows.Scan(&fr.RecipientAccountID, &fr.RequesterAccountID, &fr.RequesterName, &fr.RequesterIBAN, &fr.FriendName, &fr.FriendNickname, &fr.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch friend requests", http.StatusServiceUnavailable, nil)
			return
		}
		requests = append(requests, fr)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

// ListFriends returns the caller's friend list.
// @Summary List friends
// @Tags friends
// @Produce json
// @Success 200 {object} object{friends=[]models.Friend,count=int}
// @Router /friends [get]
func (rs *RequestService) ListFriends(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := rs.db.Query(`
		SELECT account_id, friend_account_id, name, nickname, iban, since
		FROM friends
		WHERE account_id = $1
		ORDER BY name`, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch friends", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	friends := []models.Friend{}
	for rows.Next() {
		var f models.Friend
		if err := rows.Scan(&f.AccountID, &f.FriendAccountID, &f.Name, &f.Nickname, &f.IBAN, &f.Since); err != nil {
			SendErrorResponse(w, "Failed to fetch friends", http.StatusServiceUnavailable, nil)
			return
		}
		friends = append(friends, f)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"friends": friends,
		"count":   len(friends),
	})
}

// RemoveFriend deletes both directions of a friendship.
// @Summary Remove a friend
// @Tags friends
// @Produce json
// @Param friendId path string true "Friend account id"
// @Success 200 {object} object{status=string}
// @Router /friends/{friendId} [delete]
func (rs *RequestService) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	friendID := chi.URLParam(r, "friendId")

	_, err := rs.db.Exec(`
		DELETE FROM friends
		WHERE (account_id = $1 AND friend_account_id = $2)
		   OR (account_id = $2 AND friend_account_id = $1)`,
		accountID, friendID)
	if err != nil {
		SendErrorResponse(w, "Failed to remove friend", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "REMOVED"})
}

// RequestMoney asks the holder of the given IBAN to pay the caller.
// @Summary Request money
// @Tags money-requests
// @Accept json
// @Produce json
// @Param request body object{iban=string,amount=string,note=string} true "Request details"
// @Success 201 {object} object{request_id=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /money-requests [post]
func (rs *RequestService) RequestMoney(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		IBAN   string `json:"iban" validate:"required,iban_tr"`
		Amount string `json:"amount" validate:"required"`
		Note   string `json:"note" validate:"omitempty,max=200"`
	}
	if !rs.decodeBody(w, r, &req) {
		return
	}
	if err := rs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := models.ParseAmount(req.Amount)
	if err != nil || amount <= 0 {
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}

	payer, _, err := rs.ledger.FindAccountByIBAN(req.IBAN)
	if err != nil {
		SendErrorResponse(w, transferErrorMessage(err), StatusForError(err), nil)
		return
	}
	if payer.ID == accountID {
		SendErrorResponse(w, "Cannot request money from your own account", http.StatusBadRequest, nil)
		return
	}

	requester, err := rs.partyByAccountID(accountID)
	if err != nil {
		SendErrorResponse(w, transferErrorMessage(err), StatusForError(err), nil)
		return
	}

	tx, err := rs.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}
	defer tx.Rollback()

	requestID := uuid.NewString()
	now := time.Now().UTC()

	_, err = tx.Exec(`
		INSERT INTO money_requests (id, requester_account_id, requester_name, requester_iban, recipient_account_id, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		requestID, requester.AccountID, requester.Name, requester.IBAN, payer.ID, amount, req.Note, now)
	if err == nil {
		err = insertNotification(tx, models.Notification{
			ID:        "money_req_" + requestID,
			AccountID: payer.ID,
			Kind:      models.NotificationMoneyRequest,
			Title:     "Para İsteği",
			Body:      fmt.Sprintf("%s sizden %s TL istiyor.", requester.Name, models.FormatAmount(amount)),
			CreatedAt: now,
		})
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		log.Printf("[REQUEST] Money request %s -> %s failed: %v", accountID, payer.ID, err)
		SendErrorResponse(w, "Failed to create money request", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"request_id": requestID})
}

// AcceptMoneyRequest pays a pending money request. The transfer commits
// first, keyed by the request id so a crash between transfer and cleanup
// cannot double-pay; only then is the request row removed. Accepting a
// request that was already resolved reports success.
// @Summary Accept a money request
// @Tags money-requests
// @Produce json
// @Param requestId path string true "Money request id"
// @Success 200 {object} object{transfer_id=string,balance=string}
// @Failure 400 {object} ErrorResponse
// @Router /money-requests/{requestId}/accept [post]
func (rs *RequestService) AcceptMoneyRequest(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	requestID := chi.URLParam(r, "requestId")

	var mr models.MoneyRequest
	err := rs.db.QueryRow(`
		SELECT id, requester_account_id, requester_name, requester_iban, recipient_account_id, amount, note, created_at
		FROM money_requests
		WHERE id = $1 AND recipient_account_id = $2`, requestID, accountID).
		Scan(&mr.ID, &mr.RequesterAccountID, &mr.RequesterName, &mr.RequesterIBAN, &mr.RecipientAccountID, &mr.Amount, &mr.Note, &mr.CreatedAt)
	if err == sql.ErrNoRows {
		sendAlreadyResolved(w)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	result, err := rs.ledger.AtomicTransfer(TransferInput{
		ClientReference: "money_req_" + mr.ID,
		SenderAccountID: accountID,
		RecipientIBAN:   mr.RequesterIBAN,
		Amount:          mr.Amount,
		Reason:          "money_request",
		Note:            mr.Note,
	})
	if err != nil {
		log.Printf("[REQUEST] Money request %s payment failed: %v", mr.ID, err)
		SendErrorResponse(w, transferErrorMessage(err), StatusForError(err), nil)
		return
	}

	// Cleanup after the money has moved. The idempotency key above makes a
	// retried accept safe even if this delete is lost.
	if _, err := rs.db.Exec(`DELETE FROM money_requests WHERE id = $1`, mr.ID); err != nil {
		log.Printf("[REQUEST] Money request %s cleanup failed: %v", mr.ID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transfer_id": result.TransferID,
		"balance":     models.FormatAmount(result.SenderBalance),
		"duplicate":   result.Duplicate,
	})
}

// RejectMoneyRequest deletes a pending request and notifies the requester.
// Rejecting a request that was already resolved reports success.
// @Summary Reject a money request
// @Tags money-requests
// @Produce json
// @Param requestId path string true "Money request id"
// @Success 200 {object} object{status=string}
// @Router /money-requests/{requestId}/reject [post]
func (rs *RequestService) RejectMoneyRequest(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	requestID := chi.URLParam(r, "requestId")

	tx, err := rs.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}
	defer tx.Rollback()

	var mr models.MoneyRequest
	err = tx.QueryRow(`
		SELECT id, requester_account_id, amount
		FROM money_requests
		WHERE id = $1 AND recipient_account_id = $2
		FOR UPDATE`, requestID, accountID).Scan(&mr.ID, &mr.RequesterAccountID, &mr.Amount)
	if err == sql.ErrNoRows {
		sendAlreadyResolved(w)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	rejecter, err := rs.partyByAccountID(accountID)
	if err != nil {
		SendErrorResponse(w, transferErrorMessage(err), StatusForError(err), nil)
		return
	}

	_, err = tx.Exec(`DELETE FROM money_requests WHERE id = $1`, mr.ID)
	if err == nil {
		err = insertNotification(tx, models.Notification{
			ID:        "money_req_rejected_" + mr.ID,
			AccountID: mr.RequesterAccountID,
			Kind:      models.NotificationMoneyRequestRejected,
			Title:     "Para İsteği Reddedildi",
			Body:      fmt.Sprintf("%s para isteğinizi reddetti.", rejecter.Name),
			CreatedAt: time.Now().UTC(),
		})
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		SendErrorResponse(w, "Failed to reject money request", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "REJECTED"})
}

// ListMoneyRequests returns pending money requests the caller must pay.
// @Summary List incoming money requests
// @Tags money-requests
// @Produce json
// @Success 200 {object} object{requests=[]models.MoneyRequest,count=int}
// @Router /money-requests [get]
func (rs *RequestService) ListMoneyRequests(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := rs.db.Query(`
		SELECT id, requester_account_id, requester_name, requester_iban, recipient_account_id, amount, note, created_at
		FROM money_requests
		WHERE recipient_account_id = $1
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch money requests", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	requests := []models.MoneyRequest{}
	for rows.Next() {
		var mr models.MoneyRequest
		if err := rows.Scan(&mr.ID, &mr.RequesterAccountID, &mr.RequesterName, &mr.RequesterIBAN, &mr.RecipientAccountID, &mr.Amount, &mr.Note, &mr.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch money requests", http.StatusServiceUnavailable, nil)
			return
		}
		requests = append(requests, mr)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

// decodeBody applies the shared body limits and strict JSON decoding.
func (rs *RequestService) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// sendAlreadyResolved reports a retried resolution as success. The request
// row is gone because a previous call resolved it; there is nothing left to
// do, which is the outcome the caller asked for.
func sendAlreadyResolved(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ALREADY_RESOLVED"})
}

// insertNotification writes a deterministic-id notification, ignoring
// replays of the same id.
func insertNotification(tx *sql.Tx, n models.Notification) error {
	_, err := tx.Exec(`
		INSERT INTO notifications (id, account_id, kind, title, body, read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, n.AccountID, n.Kind, n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
