package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/gms?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "gms"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestWindow(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	q, args := window("SELECT * FROM trades WHERE 1=1", nil, "settled_at", domain.ListOpts{})
	assert.Equal(t, "SELECT * FROM trades WHERE 1=1 ORDER BY settled_at DESC", q)
	assert.Empty(t, args)

	q, args = window("SELECT * FROM trades WHERE 1=1", nil, "settled_at",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Equal(t,
		"SELECT * FROM trades WHERE 1=1 AND settled_at >= $1 ORDER BY settled_at DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{since, 10, 20}, args)
}
