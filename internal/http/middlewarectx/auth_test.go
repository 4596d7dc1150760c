package middlewarectx_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regexgpt/regexgpt/internal/http/middlewarectx"
	"github.com/regexgpt/regexgpt/internal/http/response"
	"github.com/regexgpt/regexgpt/internal/lib/jwt"
)

const testUserID = "3f2b8c1e-2d4a-4c7b-9e3f-5a6b7c8d9e0f"

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestAuthenticate(t *testing.T) {
	maker := jwt.NewJWTMaker("test-secret", "authenticated", time.Hour)
	validToken, err := maker.GenerateToken(testUserID, "u@example.com")
	require.NoError(t, err)
	otherSecret, err := jwt.NewJWTMaker("other-secret", "authenticated", time.Hour).GenerateToken(testUserID, "")
	require.NoError(t, err)
	notUUID, err := maker.GenerateToken("user-1", "")
	require.NoError(t, err)

	tests := []struct {
		name         string
		required     bool
		authHeader   string
		wantStatus   int
		wantUserID   string
		wantEmail    string
		wantCalled   bool
		requiresAuth bool
	}{
		{name: "required, missing header", required: true, wantStatus: http.StatusUnauthorized, requiresAuth: true},
		{name: "optional, missing header", required: false, wantStatus: http.StatusOK, wantCalled: true},
		{name: "wrong scheme", required: false, authHeader: "Basic abc", wantStatus: http.StatusUnauthorized, requiresAuth: true},
		{name: "bad signature", required: true, authHeader: "Bearer " + otherSecret, wantStatus: http.StatusUnauthorized, requiresAuth: true},
		{name: "optional, bad token", required: false, authHeader: "Bearer garbage", wantStatus: http.StatusUnauthorized, requiresAuth: true},
		{name: "subject is not a uuid", required: true, authHeader: "Bearer " + notUUID, wantStatus: http.StatusUnauthorized, requiresAuth: true},
		{
			name: "valid token", required: true, authHeader: "Bearer " + validToken,
			wantStatus: http.StatusOK, wantCalled: true, wantUserID: testUserID, wantEmail: "u@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				assert.Equal(t, tt.wantUserID, middlewarectx.UserIDFromContext(r.Context()))
				assert.Equal(t, tt.wantEmail, middlewarectx.EmailFromContext(r.Context()))
				w.WriteHeader(http.StatusOK)
			})
			h := middlewarectx.Authenticate(maker, newNoopLogger(), tt.required)(next)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantCalled, called)
			if tt.requiresAuth {
				var body response.ErrorResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.True(t, body.RequiresAuth)
				assert.Equal(t, response.StatusError, body.Status)
			}
		})
	}
}
