package pug

import (
	"fmt"
	"strconv"
)

// PlayerID is a 64-bit Steam community id.
type PlayerID int64

func (id PlayerID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func ParsePlayerID(s string) (PlayerID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid player id %q", s)
	}
	return PlayerID(v), nil
}

type Team string

const (
	TeamRed  Team = "red"
	TeamBlue Team = "blue"
	// TeamNone is the winner of a draw.
	TeamNone Team = ""
)

// Teams lists the teams in balancer order: red is team A, blue is team B.
var Teams = []Team{TeamRed, TeamBlue}

func ParseTeam(s string) (Team, bool) {
	switch s {
	case "red", "Red", "RED":
		return TeamRed, true
	case "blue", "Blue", "BLUE":
		return TeamBlue, true
	}
	return TeamNone, false
}

type State int

const (
	StateGatheringPlayers State = iota
	StateMapVoting
	StateMapVoteCompleted
	StateTeamsShuffled
	StateGameStarted
	StateGameOver
	StateReplacementRequired
)

var stateNames = map[State]string{
	StateGatheringPlayers:    "gathering_players",
	StateMapVoting:           "map_voting",
	StateMapVoteCompleted:    "mapvote_completed",
	StateTeamsShuffled:       "teams_shuffled",
	StateGameStarted:         "game_started",
	StateGameOver:            "game_over",
	StateReplacementRequired: "replacement_required",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

type Stat int

const (
	StatKills Stat = iota
	StatDeaths
	StatAssists
)
