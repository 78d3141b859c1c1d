package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NewError("duplicate_pending_order", "customer already\nhas an order", http.StatusConflict).
		WithDetails(map[string]any{"order_id": "o-1"})

	WriteError(context.Background(), rec, err)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "duplicate_pending_order", body["error"])
	assert.Equal(t, "customer already has an order", body["message"])
	assert.EqualValues(t, http.StatusConflict, body["status"])
	assert.Equal(t, "o-1", body["order_id"])
	assert.NotContains(t, body, "request_id")
}

func TestNewErrorDefaults(t *testing.T) {
	err := NewError(strings.Repeat("x", 100), "boom", 0)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Len(t, err.Code, 80)

	same := err.WithDetails(nil)
	assert.Nil(t, same.Details)
}
