package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-watchparty/internal/apperror"
)

func (s *WatchPartyApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error().Err(panicError).Str("path", r.URL.Path).Msg("panic")
				w.Header().Set("Connection", "close")
				s.writeError(w, apperror.Internal(panicError))
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *WatchPartyApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := tokenFromRequest(r)
		if !ok {
			s.writeError(w, apperror.ErrAuthRequired)
			return
		}

		user, err := verifyToken(tokenString, s.signingKey)
		if err != nil {
			s.log.Debug().Err(err).Msg("rejected token")
			s.writeError(w, apperror.ErrAuthInvalid)
			return
		}

		ctx := WithIdentity(r.Context(), user)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

func (s *WatchPartyApp) logRequest(_ io.Writer, params handlers.LogFormatterParams) {
	s.log.Debug().
		Str("method", params.Request.Method).
		Str("path", params.URL.Path).
		Int("status", params.StatusCode).
		Int("size", params.Size).
		Dur("duration", time.Since(params.TimeStamp)).
		Msg("request")
}
