package server

import (
	"sort"
	"time"

	"tf2pug/internal/api"
	"tf2pug/internal/domain"
	"tf2pug/internal/pug"
)

type playerView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type teamView struct {
	Players []playerView `json:"players"`
	Medic   string       `json:"medic,omitempty"`
	Rating  float64      `json:"rating"`
	Score   int          `json:"score"`
}

type pugView struct {
	ID                int64               `json:"id"`
	CustomID          string              `json:"custom_id,omitempty"`
	State             string              `json:"state"`
	Size              int                 `json:"size"`
	Admin             string              `json:"admin,omitempty"`
	Players           []playerView        `json:"players"`
	Maps              []string            `json:"maps"`
	Map               string              `json:"map,omitempty"`
	MapForced         bool                `json:"map_forced"`
	Votes             map[string]int      `json:"votes"`
	MapVoteEnd        *time.Time          `json:"map_vote_end,omitempty"`
	Teams             map[string]teamView `json:"teams,omitempty"`
	RatingRestriction *float64            `json:"rating_restriction,omitempty"`
	ReplacementNeeded bool                `json:"replacement_needed"`
	ServerID          int64               `json:"server_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

func newPugView(p *pug.Pug) pugView {
	v := pugView{
		ID:                p.ID,
		CustomID:          p.CustomID,
		State:             p.State.String(),
		Size:              p.Size,
		Players:           make([]playerView, 0, len(p.Order)),
		Maps:              p.Maps,
		Map:               p.Map,
		MapForced:         p.MapForced,
		Votes:             p.VoteTally(),
		ReplacementNeeded: p.ReplacementRequired(),
		ServerID:          p.ServerID,
		CreatedAt:         p.CreatedAt,
	}
	if p.Admin != 0 {
		v.Admin = p.Admin.String()
	}
	for _, id := range p.Order {
		v.Players = append(v.Players, playerView{ID: id.String(), Name: p.Players[id]})
	}
	if !p.MapVoteEnd.IsZero() {
		end := p.MapVoteEnd
		v.MapVoteEnd = &end
	}
	if p.RatingRestriction != nil {
		limit := p.RatingRestriction.Float64()
		v.RatingRestriction = &limit
	}

	if p.TeamsDone() {
		v.Teams = make(map[string]teamView, len(pug.Teams))
		for _, t := range pug.Teams {
			roster := p.Teams[t]
			tv := teamView{
				Players: make([]playerView, 0, len(roster.Players)),
				Rating:  roster.Rating.Float64(),
				Score:   p.Scores[t],
			}
			for _, id := range roster.Players {
				tv.Players = append(tv.Players, playerView{ID: id.String(), Name: p.Players[id]})
			}
			sort.Slice(tv.Players, func(i, j int) bool { return tv.Players[i].Name < tv.Players[j].Name })
			if roster.Medic != 0 {
				tv.Medic = roster.Medic.String()
			}
			v.Teams[string(t)] = tv
		}
	}
	return v
}

func newPugViews(pugs []*pug.Pug) []pugView {
	out := make([]pugView, len(pugs))
	for i, p := range pugs {
		out[i] = newPugView(p)
	}
	return out
}

type banView struct {
	ID              string    `json:"id"`
	PlayerID        string    `json:"player_id"`
	Name            string    `json:"name,omitempty"`
	BannerID        string    `json:"banner_id,omitempty"`
	BannerName      string    `json:"banner_name,omitempty"`
	Reason          string    `json:"reason"`
	DurationSeconds int64     `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

func newBanView(b *domain.Ban) *banView {
	if b == nil {
		return nil
	}
	v := &banView{
		ID:              b.ID,
		PlayerID:        pug.PlayerID(b.PlayerID).String(),
		Name:            b.Name,
		BannerName:      b.BannerName,
		Reason:          b.Reason,
		DurationSeconds: int64(b.Duration / time.Second),
		CreatedAt:       b.CreatedAt,
	}
	if b.BannerID != 0 {
		v.BannerID = pug.PlayerID(b.BannerID).String()
	}
	return v
}

type banStatusView struct {
	Banned bool     `json:"banned"`
	Ban    *banView `json:"ban,omitempty"`
}

type statsView struct {
	PlayerID string           `json:"player_id"`
	Known    bool             `json:"known"`
	Stats    pug.PlayerStats  `json:"stats"`
	Career   *api.CareerStats `json:"career,omitempty"`
}
