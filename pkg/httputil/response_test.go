package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, errors.New("boom"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "boom")
}

func TestWriteThrottled(t *testing.T) {
	w := httptest.NewRecorder()

	WriteThrottled(w, 90*time.Second)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "90", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "too many attempts")
}

func TestWriteThrottledMinimumOneSecond(t *testing.T) {
	w := httptest.NewRecorder()

	WriteThrottled(w, 200*time.Millisecond)

	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestWriteSubscriptionExpired(t *testing.T) {
	w := httptest.NewRecorder()

	WriteSubscriptionExpired(w, "expired")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "/api/export")
	assert.Contains(t, w.Body.String(), "/api/logout")
	assert.Contains(t, w.Body.String(), `"state":"expired"`)
}

func TestClientIP(t *testing.T) {
	t.Run("prefers forwarded header behind proxy", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7")
		assert.Equal(t, "203.0.113.7", ClientIP(r, true))
	})

	t.Run("ignores forwarded headers without proxy trust", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7")
		r.Header.Set("X-Real-IP", "203.0.113.8")
		assert.Equal(t, r.RemoteAddr, ClientIP(r, false))
	})

	t.Run("falls back to remote addr", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		assert.Equal(t, r.RemoteAddr, ClientIP(r, true))
	})
}
