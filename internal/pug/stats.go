package pug

import "tf2pug/internal/rating"

type PlayerStats struct {
	GamesPlayed     int           `json:"games_played"`
	GamesSinceMedic int           `json:"games_since_medic"`
	Rating          rating.Rating `json:"rating"`
	Kills           int           `json:"kills"`
	Deaths          int           `json:"deaths"`
	Assists         int           `json:"assists"`
	Wins            int           `json:"wins"`
	Losses          int           `json:"losses"`
	Draws           int           `json:"draws"`
	WinStreak       int           `json:"winstreak"`
}

func NewPlayerStats() PlayerStats {
	return PlayerStats{Rating: rating.Default}
}

// Merge adds the counters of delta onto s. Rating and WinStreak are not
// additive and are left to the caller.
func (s PlayerStats) Merge(delta PlayerStats) PlayerStats {
	s.GamesPlayed += delta.GamesPlayed
	s.Kills += delta.Kills
	s.Deaths += delta.Deaths
	s.Assists += delta.Assists
	s.Wins += delta.Wins
	s.Losses += delta.Losses
	s.Draws += delta.Draws
	return s
}

func (s *PlayerStats) apply(stat Stat, value int, increment bool) {
	var field *int
	switch stat {
	case StatKills:
		field = &s.Kills
	case StatDeaths:
		field = &s.Deaths
	case StatAssists:
		field = &s.Assists
	default:
		return
	}
	if increment {
		*field += value
	} else {
		*field = value
	}
}
