package api

import (
	"encoding/json"
	"net/http"

	"github.com/npezzotti/go-watchparty/internal/apperror"
)

type ErrorResponse struct {
	Error *apperror.Error `json:"error"`
}

func (s *WatchPartyApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

// writeError maps err onto the error taxonomy. Only the public message is
// sent; unexpected failures are logged with their cause.
func (s *WatchPartyApp) writeError(w http.ResponseWriter, err error) {
	e := apperror.From(err)
	if e.Kind() == apperror.KindInternal {
		s.log.Error().Err(err).Str("code", string(e.Code)).Msg("request failed")
	}

	s.writeJson(w, e.StatusCode(), ErrorResponse{Error: e})
}
