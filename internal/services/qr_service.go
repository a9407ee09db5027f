package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/essater/payme/internal/iban"
	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// QRService issues short-lived "receive money" codes. A scanned code
// pre-fills the sender's transfer screen with the recipient's identifier;
// the actual movement still goes through the regular transfer path.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redis *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redis,
	}
}

// GenerateQRCode builds a receive code for the account, optionally carrying
// a requested amount (in kurus) and note. Codes expire after 5 minutes.
func (s *QRService) GenerateQRCode(ctx context.Context, accountID string, amount int64, note string) (string, string, error) {
	var rawIBAN, first, last string
	err := s.db.QueryRow(`
		SELECT a.iban, u.first_name, u.last_name
		FROM accounts a
		JOIN users u ON u.id = a.user_id
		WHERE a.id = $1`, accountID).Scan(&rawIBAN, &first, &last)
	if err != nil {
		return "", "", fmt.Errorf("account lookup failed: %w", err)
	}

	qrData := map[string]any{
		"iban":      iban.Format(rawIBAN),
		"name":      first + " " + last,
		"amount":    amount,
		"note":      note,
		"timestamp": time.Now().Unix(),
		"nonce":     s.generateNonce(),
	}

	jsonData, err := json.Marshal(qrData)
	if err != nil {
		return "", "", err
	}

	qrCode := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", qrCode)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(qrCode, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return qrCode, qrImage, nil
}

// ProcessQRCode validates a scanned code and returns its payload. Codes are
// single-use: the Redis entry is deleted on first scan.
func (s *QRService) ProcessQRCode(ctx context.Context, qrData string) (map[string]any, error) {
	key := fmt.Sprintf("qr:%s", qrData)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired QR code")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
