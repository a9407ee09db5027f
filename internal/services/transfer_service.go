package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/essater/payme/internal/iban"
	"github.com/essater/payme/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payme_transfers_total",
		Help: "Transfer attempts by outcome.",
	}, []string{"outcome"})

	transferDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payme_transfer_duration_seconds",
		Help:    "End-to-end duration of the atomic transfer path.",
		Buckets: prometheus.DefBuckets,
	})
)

// TransferService exposes the money-movement endpoints over the ledger.
type TransferService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewTransferService(db *sql.DB, ledger *LedgerService) *TransferService {
	return &TransferService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

type transferRequest struct {
	RecipientIBAN   string `json:"recipient_iban" validate:"required,iban_tr"`
	Amount          string `json:"amount" validate:"required"`
	Note            string `json:"note" validate:"omitempty,max=200"`
	ClientReference string `json:"client_reference" validate:"omitempty,max=64"`
}

// SendMoney handles a peer-to-peer transfer from the authenticated account.
// @Summary Send money
// @Description Transfer money to another account by its IBAN
// @Tags transfers
// @Accept json
// @Produce json
// @Param transfer body transferRequest true "Transfer details"
// @Success 201 {object} object{transfer_id=string,balance=string,occurred_at=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /transfers [post]
func (ts *TransferService) SendMoney(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req transferRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := models.ParseAmount(req.Amount)
	if err != nil {
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}

	timer := prometheus.NewTimer(transferDuration)
	result, err := ts.ledger.AtomicTransfer(TransferInput{
		ClientReference: req.ClientReference,
		SenderAccountID: accountID,
		RecipientIBAN:   req.RecipientIBAN,
		Amount:          amount,
		Reason:          "p2p",
		Note:            req.Note,
	})
	timer.ObserveDuration()

	if err != nil {
		transfersTotal.WithLabelValues(outcomeLabel(err)).Inc()
		log.Printf("[TRANSFER] Transfer from %s failed: %v", accountID, err)
		SendErrorResponse(w, transferErrorMessage(err), StatusForError(err), nil)
		return
	}

	transfersTotal.WithLabelValues("committed").Inc()

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transfer_id": result.TransferID,
		"balance":     models.FormatAmount(result.SenderBalance),
		"occurred_at": result.OccurredAt,
		"duplicate":   result.Duplicate,
	})
}

// LookupRecipient resolves an IBAN to the holder's display name before the
// sender confirms a transfer. Balance is never exposed here.
// @Summary Look up a recipient
// @Description Resolve an IBAN to the account holder's name
// @Tags transfers
// @Produce json
// @Param iban query string true "Recipient IBAN"
// @Success 200 {object} object{iban=string,name=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transfers/lookup [get]
func (ts *TransferService) LookupRecipient(w http.ResponseWriter, r *http.Request) {
	candidate := r.URL.Query().Get("iban")
	if candidate == "" {
		SendErrorResponse(w, "iban is required", http.StatusBadRequest, nil)
		return
	}

	account, name, err := ts.ledger.FindAccountByIBAN(candidate)
	if err != nil {
		if errors.Is(err, iban.ErrInvalidIdentifier) {
			SendErrorResponse(w, "Invalid IBAN", http.StatusBadRequest, nil)
			return
		}
		SendErrorResponse(w, transferErrorMessage(err), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"iban": iban.Format(account.IBAN),
		"name": name,
	})
}

// GetBalance returns the authenticated account's balance.
// @Summary Get balance
// @Tags accounts
// @Produce json
// @Success 200 {object} object{balance=string,iban=string}
// @Failure 401 {object} ErrorResponse
// @Router /accounts/me/balance [get]
func (ts *TransferService) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := ts.ledger.AccountByID(accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch balance", StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"balance": models.FormatAmount(account.Balance),
		"iban":    iban.Format(account.IBAN),
		"status":  account.Status,
	})
}

// ListTransactions returns the authenticated account's history, newest first.
// @Summary List account transactions
// @Tags accounts
// @Produce json
// @Param limit query int false "Number of entries to return (default: 50, max: 200)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 401 {object} ErrorResponse
// @Router /accounts/me/transactions [get]
func (ts *TransferService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Limit int `validate:"omitempty,min=1,max=200"`
	}
	req.Limit = 50

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txns, err := ts.ledger.Transactions(accountID, req.Limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": txns,
		"count":        len(txns),
	})
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrSelfTransfer):
		return "self_transfer"
	case errors.Is(err, ErrRecipientNotFound), errors.Is(err, ErrSenderNotFound):
		return "not_found"
	case errors.Is(err, ErrAmbiguousCommit):
		return "ambiguous"
	default:
		return "error"
	}
}

func transferErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "Invalid amount"
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient funds"
	case errors.Is(err, ErrSelfTransfer):
		return "Cannot transfer to your own account"
	case errors.Is(err, ErrRecipientNotFound):
		return "Recipient not found"
	case errors.Is(err, ErrSenderNotFound):
		return "Account not found"
	case errors.Is(err, ErrAccountFrozen):
		return "Account is not active"
	case errors.Is(err, ErrStoreUnavailable):
		return "Service temporarily unavailable"
	case errors.Is(err, ErrAmbiguousCommit):
		return "Transfer status unknown, check your transactions before retrying"
	default:
		return "Failed to process transfer"
	}
}
