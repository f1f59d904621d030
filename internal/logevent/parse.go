package logevent

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
)

const timeLayout = "01/02/2006 - 15:04:05"

const (
	prefix    = `^L (\d{2}/\d{2}/\d{4} - \d{2}:\d{2}:\d{2}): `
	playerRef = `"(.*?)<(\d+)><(.*?)><(\w*)>"`
)

type rule struct {
	kind  Kind
	re    *regexp.Regexp
	build func(ev *Event, m []string)
}

// Rules are tried in order; the first match wins. Capture group 1 is always
// the timestamp.
var rules = []rule{
	{
		kind: KindRoundStart,
		re:   regexp.MustCompile(prefix + `World triggered "Round_Start"$`),
	},
	{
		kind: KindGameOver,
		re:   regexp.MustCompile(prefix + `World triggered "Game_Over" reason "(.*?)"$`),
		build: func(ev *Event, m []string) {
			ev.Reason = m[2]
		},
	},
	{
		kind:  KindTeamScore,
		re:    regexp.MustCompile(prefix + `Team "(Blue|Red)" current score "(\d+)" with "(\d+)" players$`),
		build: buildScore,
	},
	{
		kind:  KindFinalScore,
		re:    regexp.MustCompile(prefix + `Team "(Blue|Red)" final score "(\d+)" with "(\d+)" players$`),
		build: buildScore,
	},
	{
		kind: KindPlayerConnected,
		re:   regexp.MustCompile(prefix + playerRef + ` connected, address "(.*?)"$`),
		build: func(ev *Event, m []string) {
			ev.Player = player(m[2:6])
			ev.Address = m[6]
		},
	},
	{
		kind: KindPlayerDisconnected,
		re:   regexp.MustCompile(prefix + playerRef + ` disconnected \(reason "(.*?)"\)$`),
		build: func(ev *Event, m []string) {
			ev.Player = player(m[2:6])
			ev.Reason = m[6]
		},
	},
	{
		kind: KindKill,
		re:   regexp.MustCompile(prefix + playerRef + ` killed ` + playerRef + ` with "(.*?)"`),
		build: func(ev *Event, m []string) {
			ev.Player = player(m[2:6])
			ev.Target = player(m[6:10])
			ev.Weapon = m[10]
		},
	},
	{
		kind: KindAssist,
		re:   regexp.MustCompile(prefix + playerRef + ` triggered "kill assist" against ` + playerRef),
		build: func(ev *Event, m []string) {
			ev.Player = player(m[2:6])
			ev.Target = player(m[6:10])
		},
	},
	{
		kind: KindChatCommand,
		re:   regexp.MustCompile(prefix + playerRef + ` say(?:_team)? "(!.+)"$`),
		build: func(ev *Event, m []string) {
			ev.Player = player(m[2:6])
			fields := strings.Fields(m[6])
			ev.Command = strings.ToLower(fields[0])
			ev.Args = fields[1:]
		},
	},
}

// Parse classifies one log line, which must start at the "L " marker.
func Parse(line string) (Event, bool) {
	line = strings.TrimRight(line, "\x00\r\n ")

	for _, r := range rules {
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		ev := Event{Kind: r.kind}
		if t, err := time.Parse(timeLayout, m[1]); err == nil {
			ev.Time = t
		}
		if r.build != nil {
			r.build(&ev, m)
		}
		return ev, true
	}
	return Event{}, false
}

func buildScore(ev *Event, m []string) {
	ev.Team = strings.ToLower(m[2])
	ev.Score, _ = strconv.Atoi(m[3])
}

// player builds a Player from the name, userid, steamid and team groups.
// Console and bots carry no valid SteamID.
func player(m []string) Player {
	p := Player{Name: m[0], Team: m[3]}
	p.UserID, _ = strconv.Atoi(m[1])

	if sid := steamid.New(m[2]); sid.Valid() {
		p.SteamID = sid
	}
	return p
}
