package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tf2pug/internal/logevent"
	"tf2pug/internal/pug"

	"github.com/rs/zerolog"
)

// HandleEvent applies a log event from a game server to the pug bound to it.
// It is called from the server's log listener goroutine and must not wait on
// that server.
func (m *PugManager) HandleEvent(serverID int64, ev logevent.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.serverPug(serverID)
	if p == nil {
		return
	}

	ctx := context.Background()
	log := m.pugLogger(p)
	before := p.State
	now := m.now()
	dirty := true

	switch ev.Kind {
	case logevent.KindRoundStart:
		if p.BeginGame(now) {
			log.Info().Msg("game started")
		}

	case logevent.KindGameOver:
		if p.EndGame(now) {
			log.Info().Str("reason", ev.Reason).Msg("game over")
		}

	case logevent.KindTeamScore, logevent.KindFinalScore:
		team, ok := pug.ParseTeam(ev.Team)
		if !ok {
			return
		}
		if err := p.UpdateScore(team, ev.Score); err != nil {
			log.Debug().Err(err).Str("team", ev.Team).Msg("score ignored")
			return
		}

	case logevent.KindPlayerConnected:
		dirty = m.onConnect(p, ev, log)

	case logevent.KindPlayerDisconnected:
		id, ok := playerID(ev.Player)
		if !ok || !p.HasPlayer(id) || !teamsAssigned(p) {
			return
		}
		p.AddDisconnect(id, ev.Reason, now)
		log.Info().Str("player", id.String()).Str("reason", ev.Reason).Msg("player disconnected")

	case logevent.KindKill:
		dirty = false
		if id, ok := playerID(ev.Player); ok {
			p.UpdateGameStat(id, pug.StatKills, 1, true)
		}
		if id, ok := playerID(ev.Target); ok {
			p.UpdateGameStat(id, pug.StatDeaths, 1, true)
		}

	case logevent.KindAssist:
		dirty = false
		if id, ok := playerID(ev.Player); ok {
			p.UpdateGameStat(id, pug.StatAssists, 1, true)
		}

	case logevent.KindChatCommand:
		dirty = false
		m.onCommand(p, ev, log)

	default:
		return
	}

	m.transitioned(p, before)
	if dirty {
		m.save(ctx, p)
	}
}

// onConnect kicks anyone who is not in the pug and clears the disconnect
// timer of those who are.
func (m *PugManager) onConnect(p *pug.Pug, ev logevent.Event, log zerolog.Logger) bool {
	id, ok := playerID(ev.Player)
	if !ok {
		return false
	}

	if !p.HasPlayer(id) {
		if s, ok := m.server(p); ok {
			sid := ev.Player.SteamID
			m.command(s, log.With().Str("player", id.String()).Logger(), "failed to kick stranger", func(ctx context.Context) error {
				return m.servers.Kick(ctx, s, sid, "You are not in this pug")
			})
		}
		return false
	}

	p.RemoveDisconnect(id)
	log.Info().Str("player", id.String()).Str("name", ev.Player.Name).Msg("player connected")
	return true
}

// onCommand answers a chat command. The reply is built from the pug now and
// sent to the server later.
func (m *PugManager) onCommand(p *pug.Pug, ev logevent.Event, log zerolog.Logger) {
	s, ok := m.server(p)
	if !ok {
		return
	}

	var reply func(ctx context.Context) error
	switch ev.Command {
	case "!teams":
		lines := teamLines(p)
		reply = func(ctx context.Context) error {
			for _, line := range lines {
				if err := m.servers.Say(ctx, s, line); err != nil {
					return err
				}
			}
			return nil
		}
	case "!status":
		line := statusLine(p)
		reply = func(ctx context.Context) error {
			return m.servers.Say(ctx, s, line)
		}
	case "!start":
		id, ok := playerID(ev.Player)
		if !ok || id != p.Admin || p.State != pug.StateTeamsShuffled {
			return
		}
		reply = func(ctx context.Context) error {
			_, err := m.servers.Exec(ctx, s, "mp_restartgame 1")
			return err
		}
	default:
		return
	}

	m.command(s, log.With().Str("command", ev.Command).Logger(), "failed to answer chat command", reply)
}

func teamLines(p *pug.Pug) []string {
	if !teamsAssigned(p) {
		return []string{"Teams have not been picked yet"}
	}

	lines := make([]string, 0, len(pug.Teams))
	for _, t := range pug.Teams {
		team := p.Teams[t]
		names := make([]string, 0, len(team.Players))
		for _, id := range team.Players {
			name := p.Players[id]
			if id == team.Medic {
				name += " (medic)"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		lines = append(lines, fmt.Sprintf("%s (%.0f): %s", strings.ToUpper(string(t)), team.Rating.Float64(), strings.Join(names, ", ")))
	}
	return lines
}

func statusLine(p *pug.Pug) string {
	line := fmt.Sprintf("Pug %d: %s, %d/%d players", p.ID, p.State, p.PlayerCount(), p.Size)
	if p.Map != "" {
		line += ", map " + p.Map
	}
	if p.State == pug.StateGameStarted || p.State == pug.StateGameOver {
		line += fmt.Sprintf(", score %d-%d", p.Scores[pug.TeamRed], p.Scores[pug.TeamBlue])
	}
	return line
}

// teamsAssigned reports whether the pug has reached the point where teams
// exist, counting a pending replacement as the state it will resume to.
func teamsAssigned(p *pug.Pug) bool {
	state := p.State
	if state == pug.StateReplacementRequired {
		state = p.PreviousState
	}
	return state >= pug.StateTeamsShuffled
}

func playerID(pl logevent.Player) (pug.PlayerID, bool) {
	if !pl.SteamID.Valid() {
		return 0, false
	}
	return pug.PlayerID(pl.SteamID.Int64()), true
}

func (m *PugManager) serverPug(serverID int64) *pug.Pug {
	for _, p := range m.active {
		if p.ServerID == serverID {
			return p
		}
	}
	return nil
}
