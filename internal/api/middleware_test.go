package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-watchparty/internal/apperror"
	"github.com/npezzotti/go-watchparty/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) *apperror.Error {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &WatchPartyApp{log: zerolog.New(buf)}

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	app.errorHandler(panicHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "test panic")
	assert.Equal(t, apperror.CodeInternal, decodeError(t, rr).Code)
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &WatchPartyApp{log: testutil.TestLogger(t)}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	app.errorHandler(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_authMiddleware(t *testing.T) {
	app := &WatchPartyApp{log: testutil.TestLogger(t), signingKey: testSigningKey}

	valid, err := newToken(alice, testSigningKey, time.Hour)
	require.NoError(t, err)
	expired, err := newToken(alice, testSigningKey, -time.Hour)
	require.NoError(t, err)

	tcases := []struct {
		name   string
		token  string
		status int
		code   apperror.Code
	}{
		{name: "valid token", token: valid, status: http.StatusOK},
		{name: "missing token", status: http.StatusUnauthorized, code: apperror.CodeAuthRequired},
		{name: "expired token", token: expired, status: http.StatusUnauthorized, code: apperror.CodeAuthInvalid},
		{name: "malformed token", token: "abc", status: http.StatusUnauthorized, code: apperror.CodeAuthInvalid},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			next := func(w http.ResponseWriter, r *http.Request) {
				called = true
				user, ok := IdentityFrom(r.Context())
				assert.True(t, ok, "expected identity in context")
				assert.Equal(t, alice, user)
				w.WriteHeader(http.StatusOK)
			}

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			app.authMiddleware(next)(rr, req)

			assert.Equal(t, tc.status, rr.Code)
			if tc.code != "" {
				assert.False(t, called, "expected handler not to be called")
				assert.Equal(t, tc.code, decodeError(t, rr).Code)
				return
			}
			assert.True(t, called)
			assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
		})
	}
}

func Test_writeError(t *testing.T) {
	tcases := []struct {
		name    string
		err     error
		status  int
		code    apperror.Code
		message string
	}{
		{
			name:    "not found",
			err:     apperror.ErrRoomNotFound,
			status:  http.StatusNotFound,
			code:    apperror.CodeRoomNotFound,
			message: "Room not found",
		},
		{
			name:    "forbidden",
			err:     apperror.Forbidden("Only the host can assign roles"),
			status:  http.StatusForbidden,
			code:    apperror.CodeInsufficientPermissions,
			message: "Only the host can assign roles",
		},
		{
			name:    "inactive",
			err:     apperror.ErrRoomInactive,
			status:  http.StatusGone,
			code:    apperror.CodeRoomInactive,
			message: "Room is no longer active",
		},
		{
			name:    "unexpected error hides detail",
			err:     errors.New("pq: connection refused"),
			status:  http.StatusInternalServerError,
			code:    apperror.CodeInternal,
			message: "Internal server error",
		},
		{
			name:    "busy",
			err:     apperror.ErrServiceUnavailable,
			status:  http.StatusServiceUnavailable,
			code:    apperror.CodeServiceUnavailable,
			message: "Service unavailable",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := &WatchPartyApp{log: testutil.TestLogger(t)}
			rr := httptest.NewRecorder()
			app.writeError(rr, tc.err)

			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			e := decodeError(t, rr)
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, tc.message, e.Message)
		})
	}
}
