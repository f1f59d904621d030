package server

import (
	"net/http"
	"strconv"
	"time"

	"tf2pug/internal/api"
	"tf2pug/internal/domain"
	"tf2pug/internal/pug"
	"tf2pug/internal/rating"
	"tf2pug/internal/service"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type createPugRequest struct {
	PlayerID          string   `json:"player_id"`
	Name              string   `json:"name"`
	Size              int      `json:"size"`
	Map               string   `json:"map"`
	CustomID          string   `json:"custom_id"`
	RatingRestriction *float64 `json:"rating_restriction"`
}

type playerRequest struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

type voteRequest struct {
	PlayerID string `json:"player_id"`
	Map      string `json:"map"`
}

type mapRequest struct {
	Map string `json:"map"`
}

type banRequest struct {
	PlayerID        string `json:"player_id"`
	Name            string `json:"name"`
	BannerID        string `json:"banner_id"`
	BannerName      string `json:"banner_name"`
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"duration_seconds"`
}

func (s *PugServer) handleListPugs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newPugViews(s.manager(r).List()))
}

func (s *PugServer) handleCreatePug(w http.ResponseWriter, r *http.Request) {
	var req createPugRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	id, err := pug.ParsePlayerID(req.PlayerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_player", err.Error())
		return
	}

	create := service.CreateRequest{
		PlayerID: id,
		Name:     req.Name,
		Size:     req.Size,
		Map:      req.Map,
		CustomID: req.CustomID,
	}
	if req.RatingRestriction != nil {
		limit := rating.Rating(*req.RatingRestriction)
		create.RatingRestriction = &limit
	}

	p, err := s.manager(r).CreatePug(r.Context(), create)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPugView(p))
}

func (s *PugServer) handleGetPug(w http.ResponseWriter, r *http.Request) {
	id, ok := pugID(w, r)
	if !ok {
		return
	}
	p, found := s.manager(r).Pug(id)
	if !found {
		writeServiceError(w, r, pug.ErrPugNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newPugView(p))
}

func (s *PugServer) handleEndPug(w http.ResponseWriter, r *http.Request) {
	id, ok := pugID(w, r)
	if !ok {
		return
	}
	if err := s.manager(r).EndPug(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *PugServer) handleAddPlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := pugID(w, r)
	if !ok {
		return
	}
	var req playerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	player, err := pug.ParsePlayerID(req.PlayerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_player", err.Error())
		return
	}

	p, err := s.manager(r).AddPlayer(r.Context(), id, player, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPugView(p))
}

func (s *PugServer) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pugID(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	player, err := pug.ParsePlayerID(req.PlayerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_player", err.Error())
		return
	}

	p, err := s.manager(r).VoteMap(r.Context(), id, player, req.Map)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPugView(p))
}

func (s *PugServer) handleForceMap(w http.ResponseWriter, r *http.Request) {
	id, ok := pugID(w, r)
	if !ok {
		return
	}
	var req mapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	p, err := s.manager(r).ForceMap(r.Context(), id, req.Map)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPugView(p))
}

func (s *PugServer) handleRemovePlayer(w http.ResponseWriter, r *http.Request) {
	player, ok := playerParam(w, r)
	if !ok {
		return
	}
	p, err := s.manager(r).RemovePlayer(r.Context(), player)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPugView(p))
}

func (s *PugServer) handlePlayerPug(w http.ResponseWriter, r *http.Request) {
	player, ok := playerParam(w, r)
	if !ok {
		return
	}
	p, found := s.manager(r).PlayerPug(player)
	if !found {
		writeServiceError(w, r, pug.ErrPlayerNotInPug)
		return
	}
	writeJSON(w, http.StatusOK, newPugView(p))
}

// handlePlayerStats answers with the stored stats, plus the Livelogs career
// when it is reachable. A Livelogs failure is logged, not returned.
func (s *PugServer) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	player, ok := playerParam(w, r)
	if !ok {
		return
	}
	stats, known, err := s.stats.PlayerStats(r.Context(), player)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := statsView{PlayerID: player.String(), Known: known, Stats: stats}

	if s.livelogs != nil && s.livelogs.Enabled() {
		career, err := s.livelogs.GetPlayerStats(r.Context(), []pug.PlayerID{player})
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("player", player.String()).Msg("failed to fetch livelogs stats")
		} else if c, ok := career.Stats[player.String()]; ok {
			resp.Career = &c
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *PugServer) handleAddBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	player, err := pug.ParsePlayerID(req.PlayerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_player", err.Error())
		return
	}
	if req.DurationSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_duration", "duration_seconds must not be negative")
		return
	}
	ban := domain.Ban{
		PlayerID:   int64(player),
		Name:       req.Name,
		BannerName: req.BannerName,
		Reason:     req.Reason,
		Duration:   time.Duration(req.DurationSeconds) * time.Second,
	}
	if req.BannerID != "" {
		banner, err := pug.ParsePlayerID(req.BannerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_banner", err.Error())
			return
		}
		ban.BannerID = int64(banner)
	}

	created, err := s.bans.AddBan(r.Context(), ban)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBanView(created))
}

func (s *PugServer) handleGetBan(w http.ResponseWriter, r *http.Request) {
	player, ok := playerParam(w, r)
	if !ok {
		return
	}
	ban, banned, err := s.bans.PlayerBan(r.Context(), player)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, banStatusView{Banned: banned, Ban: newBanView(ban)})
}

// handleExpireBan lifts every ban of a player. Unbanning a player with no
// ban is not an error.
func (s *PugServer) handleExpireBan(w http.ResponseWriter, r *http.Request) {
	player, ok := playerParam(w, r)
	if !ok {
		return
	}
	if err := s.bans.Expire(r.Context(), player); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *PugServer) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.livelogs == nil || !s.livelogs.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "livelogs_disabled", api.ErrNotConfigured.Error())
		return
	}
	logs, err := s.livelogs.GetLiveLogs(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to fetch live logs")
		writeError(w, http.StatusBadGateway, "livelogs_failed", "livelogs request failed")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func pugID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pug", "invalid pug id")
		return 0, false
	}
	return id, true
}

func playerParam(w http.ResponseWriter, r *http.Request) (pug.PlayerID, bool) {
	id, err := pug.ParsePlayerID(mux.Vars(r)["player"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_player", err.Error())
		return 0, false
	}
	return id, true
}
