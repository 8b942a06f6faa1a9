// internal/api/middleware_test.go
package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/Corphon/ChronoAtlas/internal/errors"
)

func TestRateLimiter_AllowAndReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	allowed, visitor := rl.Allow("k", 2, time.Minute)
	assert.True(t, allowed)
	assert.Equal(t, 1, visitor.Remaining)

	allowed, _ = rl.Allow("k", 2, time.Minute)
	assert.True(t, allowed)

	allowed, visitor = rl.Allow("k", 2, time.Minute)
	assert.False(t, allowed)
	assert.Equal(t, 0, visitor.Remaining)

	// 另一个 key 不受影响
	allowed, _ = rl.Allow("other", 2, time.Minute)
	assert.True(t, allowed)

	now = now.Add(time.Minute + time.Second)
	assert.Equal(t, 2, rl.cleanup())

	allowed, _ = rl.Allow("k", 2, time.Minute)
	assert.True(t, allowed)
}

func TestRequestIDMiddleware_KeepsClientValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.NewValidationError("bad", nil), http.StatusBadRequest, ErrorBadRequest},
		{apperrors.NewNotFoundError("missing", nil), http.StatusNotFound, ErrorNotFound},
		{apperrors.NewRateLimitError("slow down", nil), http.StatusTooManyRequests, ErrorRateLimited},
		{apperrors.NewAppError(apperrors.ErrorTypeTimeout, "late", nil), http.StatusGatewayTimeout, ErrorTimeout},
		{apperrors.NewAppError(apperrors.ErrorTypeCancelled, "stop", nil), http.StatusRequestTimeout, ErrorCancelled},
		{apperrors.NewUpstreamError("boom", nil), 0, ""},
		{errors.New("plain"), 0, ""},
	}
	for _, tt := range tests {
		status, code, _ := statusForError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "An internal error occurred", sanitizeErrorMessage("request failed: key=AIza123"))
	assert.Equal(t, "task not found", sanitizeErrorMessage("task not found"))
}
