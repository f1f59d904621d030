package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"tf2pug/internal/pug"

	"github.com/rs/zerolog"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{pug.ErrPugNotFound, http.StatusNotFound, "pug_not_found"},
	{pug.ErrPlayerNotInPug, http.StatusNotFound, "player_not_in_pug"},
	{pug.ErrPlayerAlreadyInPug, http.StatusConflict, "player_already_in_pug"},
	{pug.ErrPugFull, http.StatusConflict, "pug_full"},
	{pug.ErrGameOver, http.StatusConflict, "game_over"},
	{pug.ErrPlayerBanned, http.StatusForbidden, "player_banned"},
	{pug.ErrPlayerRatingRestricted, http.StatusForbidden, "player_rating_restricted"},
	{pug.ErrInvalidMap, http.StatusBadRequest, "invalid_map"},
	{pug.ErrMapVoteNotOpen, http.StatusBadRequest, "map_vote_not_open"},
	{pug.ErrTooLateToForceMap, http.StatusBadRequest, "too_late_to_force_map"},
	{pug.ErrInvalidSize, http.StatusBadRequest, "invalid_size"},
	{pug.ErrGameNotLive, http.StatusBadRequest, "game_not_live"},
	{pug.ErrNoServerAvailable, http.StatusServiceUnavailable, "no_server_available"},
	{pug.ErrServerConnectionFailed, http.StatusServiceUnavailable, "server_connection_failed"},
}

// writeServiceError maps err onto a status and a stable code. Unknown errors
// are logged and answered with a 500 that hides the cause.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code, err.Error())
			return
		}
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
