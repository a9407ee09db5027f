package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQRService_GenerateQRCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewQRService(db, redisClient)

	mock.ExpectQuery("SELECT a.iban, u.first_name").
		WithArgs(senderID).
		WillReturnRows(sqlmock.NewRows([]string{"iban", "first_name", "last_name"}).
			AddRow(senderIBAN, "Esra", "Tander"))

	redisMock.Regexp().ExpectSet(`qr:.*`, `.*`, 5*time.Minute).SetVal("OK")

	qrCode, qrImage, err := service.GenerateQRCode(context.Background(), senderID, 2500, "dinner")
	require.NoError(t, err)
	assert.NotEmpty(t, qrCode)
	assert.NotEmpty(t, qrImage)

	// The code itself decodes back into the receive payload.
	decoded, err := base64.URLEncoding.DecodeString(qrCode)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(decoded, &payload))
	assert.Equal(t, "Esra Tander", payload["name"])
	assert.Equal(t, float64(2500), payload["amount"])
	assert.Equal(t, "dinner", payload["note"])
	assert.NotEmpty(t, payload["nonce"])

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestQRService_ProcessQRCode(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewQRService(db, redisClient)

	t.Run("valid code is single use", func(t *testing.T) {
		payload := `{"iban":"TR47 8278 6904 0776 4450 9747 31","name":"Esra Tander","amount":2500}`
		redisMock.ExpectGet("qr:abc").SetVal(payload)
		redisMock.ExpectDel("qr:abc").SetVal(1)

		result, err := service.ProcessQRCode(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, "Esra Tander", result["name"])
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired code", func(t *testing.T) {
		redisMock.ExpectGet("qr:gone").RedisNil()

		_, err := service.ProcessQRCode(context.Background(), "gone")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid or expired")
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}
