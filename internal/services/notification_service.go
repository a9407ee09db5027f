package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/essater/payme/internal/iban"
	"github.com/essater/payme/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const transferStream = "transfers"

var notificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payme_notifications_dispatched_total",
	Help: "Notifications created by the dispatcher, by kind.",
}, []string{"kind"})

// NotificationService owns the inbox and the transfer notification
// dispatcher. The dispatcher polls the transfer log from a persisted
// watermark; deterministic notification ids make replays of a window
// harmless.
type NotificationService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	interval  time.Duration
	batchSize int
}

func NewNotificationService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, interval time.Duration) *NotificationService {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &NotificationService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		interval:  interval,
		batchSize: 100,
	}
}

// Run polls for undispatched transfers until the context is cancelled.
func (ns *NotificationService) Run(ctx context.Context) {
	log.Printf("[DISPATCH] Dispatcher started, interval %s", ns.interval)
	ticker := time.NewTicker(ns.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[DISPATCH] Dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := ns.DispatchPending(ctx); err != nil {
				log.Printf("[DISPATCH] Dispatch cycle failed: %v", err)
			}
		}
	}
}

// DispatchPending processes one batch of transfers past the watermark and
// returns how many notifications it created. Each transfer produces a debit
// notification for the sender and a credit notification for the recipient;
// already-seen ids hit the ON CONFLICT guard and produce nothing.
func (ns *NotificationService) DispatchPending(ctx context.Context) (int, error) {
	pos, err := ns.watermark()
	if err != nil {
		return 0, err
	}

	events, err := ns.ledger.TransfersSince(pos, ns.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := ns.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	created := 0
	var pushed []models.Notification
	for _, ev := range events {
		outgoing := models.Notification{
			ID:        "transfer_" + ev.ID + "_out",
			AccountID: ev.SenderAccountID,
			Kind:      models.NotificationTransfer,
			Title:     "Para Gönderildi",
			Body:      fmt.Sprintf("%s (%s) adlı alıcıya %s TL gönderdiniz.", ev.RecipientName, iban.Mask(ev.RecipientIBAN), models.FormatAmount(ev.Amount)),
			CreatedAt: ev.OccurredAt,
		}
		incoming := models.Notification{
			ID:        "transfer_" + ev.ID + "_in",
			AccountID: ev.RecipientAccountID,
			Kind:      models.NotificationTransfer,
			Title:     "Para Geldi!",
			Body:      fmt.Sprintf("%s (%s) size %s TL gönderdi.", ev.SenderName, iban.Mask(ev.SenderIBAN), models.FormatAmount(ev.Amount)),
			CreatedAt: ev.OccurredAt,
		}

		for _, n := range []models.Notification{outgoing, incoming} {
			result, err := tx.Exec(`
				INSERT INTO notifications (id, account_id, kind, title, body, read, created_at)
				VALUES ($1, $2, $3, $4, $5, false, $6)
				ON CONFLICT (id) DO NOTHING`,
				n.ID, n.AccountID, n.Kind, n.Title, n.Body, n.CreatedAt)
			if err != nil {
				return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			if affected, _ := result.RowsAffected(); affected > 0 {
				created++
				pushed = append(pushed, n)
			}
		}
	}

	// Advance the watermark to the last sequence in the batch. Crash before
	// this commit replays the batch; the deterministic ids absorb it.
	last := events[len(events)-1].Seq
	_, err = tx.Exec(`
		INSERT INTO dispatch_offsets (stream, position) VALUES ($1, $2)
		ON CONFLICT (stream) DO UPDATE SET position = EXCLUDED.position`,
		transferStream, last)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Push delivery is fire and forget; the inbox row is the durable copy.
	for _, n := range pushed {
		notificationsDispatched.WithLabelValues(n.Kind).Inc()
		if ns.redis != nil {
			payload, err := json.Marshal(n)
			if err == nil {
				err = ns.redis.RPush(ctx, "push_queue", payload).Err()
			}
			if err != nil {
				log.Printf("[DISPATCH] Failed to queue push for %s: %v", n.ID, err)
			}
		}
	}

	if created > 0 {
		log.Printf("[DISPATCH] Created %d notifications, watermark now %d", created, last)
	}
	return created, nil
}

// watermark returns the persisted dispatch position, initializing it to the
// current end of the transfer log on first run so historical transfers are
// never replayed into inboxes.
func (ns *NotificationService) watermark() (int64, error) {
	var pos int64
	err := ns.db.QueryRow(`SELECT position FROM dispatch_offsets WHERE stream = $1`, transferStream).Scan(&pos)
	if err == nil {
		return pos, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := ns.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM transfers`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_, err = ns.db.Exec(`
		INSERT INTO dispatch_offsets (stream, position) VALUES ($1, $2)
		ON CONFLICT (stream) DO NOTHING`, transferStream, pos)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	log.Printf("[DISPATCH] Initialized watermark for %s at %d", transferStream, pos)
	return pos, nil
}

// ListNotifications returns the caller's inbox, newest first.
// @Summary List notifications
// @Tags notifications
// @Produce json
// @Success 200 {object} object{notifications=[]models.Notification,count=int}
// @Failure 401 {object} ErrorResponse
// @Router /notifications [get]
func (ns *NotificationService) ListNotifications(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := ns.db.Query(`
		SELECT id, account_id, kind, title, body, read, created_at
		FROM notifications
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT 100`, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch notifications", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Kind, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch notifications", http.StatusServiceUnavailable, nil)
			return
		}
		notifications = append(notifications, n)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// UnreadCount returns how many unread notifications the caller has.
// @Summary Count unread notifications
// @Tags notifications
// @Produce json
// @Success 200 {object} object{unread=int}
// @Router /notifications/unread-count [get]
func (ns *NotificationService) UnreadCount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var unread int
	err := ns.db.QueryRow(`
		SELECT COUNT(*) FROM notifications WHERE account_id = $1 AND read = false`, accountID).Scan(&unread)
	if err != nil {
		SendErrorResponse(w, "Failed to count notifications", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"unread": unread})
}

// MarkRead marks one notification as read.
// @Summary Mark a notification read
// @Tags notifications
// @Produce json
// @Param id path string true "Notification id"
// @Success 200 {object} object{status=string}
// @Failure 404 {object} ErrorResponse
// @Router /notifications/{id}/read [post]
func (ns *NotificationService) MarkRead(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	id := chi.URLParam(r, "id")

	result, err := ns.db.Exec(`
		UPDATE notifications SET read = true WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to update notification", http.StatusServiceUnavailable, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendErrorResponse(w, "Notification not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "READ"})
}

// MarkAllRead marks the caller's entire inbox as read.
// @Summary Mark all notifications read
// @Tags notifications
// @Produce json
// @Success 200 {object} object{updated=int}
// @Router /notifications/read-all [post]
func (ns *NotificationService) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	result, err := ns.db.Exec(`
		UPDATE notifications SET read = true WHERE account_id = $1 AND read = false`, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to update notifications", http.StatusServiceUnavailable, nil)
		return
	}
	updated, _ := result.RowsAffected()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"updated": updated})
}

// DeleteNotification removes a notification from the caller's inbox.
// @Summary Delete a notification
// @Tags notifications
// @Produce json
// @Param id path string true "Notification id"
// @Success 200 {object} object{status=string}
// @Failure 404 {object} ErrorResponse
// @Router /notifications/{id} [delete]
func (ns *NotificationService) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	id := chi.URLParam(r, "id")

	result, err := ns.db.Exec(`
		DELETE FROM notifications WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to delete notification", http.StatusServiceUnavailable, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendErrorResponse(w, "Notification not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "DELETED"})
}
