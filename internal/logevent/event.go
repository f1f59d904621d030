package logevent

import (
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindRoundStart
	KindGameOver
	KindTeamScore
	KindFinalScore
	KindPlayerConnected
	KindPlayerDisconnected
	KindKill
	KindAssist
	KindChatCommand
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindRoundStart:         "round_start",
	KindGameOver:           "game_over",
	KindTeamScore:          "team_score",
	KindFinalScore:         "final_score",
	KindPlayerConnected:    "player_connected",
	KindPlayerDisconnected: "player_disconnected",
	KindKill:               "kill",
	KindAssist:             "assist",
	KindChatCommand:        "chat_command",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Player is a player reference as printed in a log line:
// "name<userid><[U:1:123]><Team>".
type Player struct {
	Name    string
	UserID  int
	SteamID steamid.SteamID
	Team    string
}

// Event is one classified log line. Which fields are set depends on Kind:
//
//	TeamScore, FinalScore   Team, Score
//	PlayerConnected         Player, Address
//	PlayerDisconnected      Player, Reason
//	Kill                    Player (attacker), Target (victim), Weapon
//	Assist                  Player (assister), Target (victim)
//	ChatCommand             Player, Command, Args
//	GameOver                Reason
type Event struct {
	Kind    Kind
	Time    time.Time
	Player  Player
	Target  Player
	Team    string
	Score   int
	Reason  string
	Address string
	Weapon  string
	Command string
	Args    []string
}
