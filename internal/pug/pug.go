package pug

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"tf2pug/internal/constants"
	"tf2pug/internal/rating"
)

type Roster struct {
	Players []PlayerID    `json:"players"`
	Medic   PlayerID      `json:"medic,omitempty"`
	Rating  rating.Rating `json:"rating"`
}

type Disconnect struct {
	Reason   string    `json:"reason"`
	Deadline time.Time `json:"deadline"`
}

type Options struct {
	Size              int
	Maps              []string
	CustomID          string
	RatingRestriction *rating.Rating
}

// Pug is one match. It is not safe for concurrent use; the owning manager
// serialises access.
type Pug struct {
	ID                int64          `json:"id"`
	CustomID          string         `json:"custom_id,omitempty"`
	Size              int            `json:"size"`
	RatingRestriction *rating.Rating `json:"rating_restriction,omitempty"`
	Maps              []string       `json:"maps"`

	State         State    `json:"state"`
	PreviousState State    `json:"previous_state"`
	Admin         PlayerID `json:"admin,omitempty"`

	Players     map[PlayerID]string      `json:"players"`
	Order       []PlayerID               `json:"order"`
	PlayerStats map[PlayerID]PlayerStats `json:"player_stats"`
	GameStats   map[PlayerID]PlayerStats `json:"game_stats"`
	EndStats    map[PlayerID]PlayerStats `json:"end_stats,omitempty"`

	Votes        map[PlayerID]string `json:"votes"`
	Map          string              `json:"map,omitempty"`
	MapForced    bool                `json:"map_forced"`
	MapVoteStart time.Time           `json:"map_vote_start"`
	MapVoteEnd   time.Time           `json:"map_vote_end"`

	Teams  map[Team]*Roster `json:"teams"`
	Scores map[Team]int     `json:"scores"`

	Disconnects         map[PlayerID]Disconnect `json:"disconnects"`
	Leavers             []PlayerID              `json:"leavers,omitempty"`
	LeftTeams           map[PlayerID]Team       `json:"left_teams,omitempty"`
	TimedOut            []PlayerID              `json:"timed_out,omitempty"`
	ReplacementStart    time.Time               `json:"replacement_start"`
	ReplacementDeadline time.Time               `json:"replacement_deadline"`

	CreatedAt  time.Time `json:"created_at"`
	GameStart  time.Time `json:"game_start"`
	GameOverAt time.Time `json:"game_over_at"`

	ServerID  int64 `json:"server_id,omitempty"`
	StatsDone bool  `json:"stats_done"`
}

func New(opts Options, now time.Time) (*Pug, error) {
	if opts.Size <= 0 || opts.Size%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, opts.Size)
	}
	if len(opts.Maps) == 0 {
		return nil, fmt.Errorf("%w: no maps available", ErrInvalidMap)
	}

	p := &Pug{
		CustomID:          opts.CustomID,
		Size:              opts.Size,
		RatingRestriction: opts.RatingRestriction,
		Maps:              slices.Clone(opts.Maps),
		State:             StateGatheringPlayers,
		CreatedAt:         now,
	}
	p.init()
	return p, nil
}

// init allocates nil maps. It is also run after decoding a stored pug.
func (p *Pug) init() {
	if p.Players == nil {
		p.Players = make(map[PlayerID]string)
	}
	if p.PlayerStats == nil {
		p.PlayerStats = make(map[PlayerID]PlayerStats)
	}
	if p.GameStats == nil {
		p.GameStats = make(map[PlayerID]PlayerStats)
	}
	if p.Votes == nil {
		p.Votes = make(map[PlayerID]string)
	}
	if p.Disconnects == nil {
		p.Disconnects = make(map[PlayerID]Disconnect)
	}
	if p.LeftTeams == nil {
		p.LeftTeams = make(map[PlayerID]Team)
	}
	if p.Scores == nil {
		p.Scores = map[Team]int{TeamRed: 0, TeamBlue: 0}
	}
	if p.Teams == nil {
		p.Teams = make(map[Team]*Roster, len(Teams))
	}
	for _, t := range Teams {
		if p.Teams[t] == nil {
			p.Teams[t] = &Roster{}
		}
	}
}

func (p *Pug) Full() bool {
	return len(p.Players) >= p.Size
}

func (p *Pug) PlayerCount() int {
	return len(p.Players)
}

func (p *Pug) HasPlayer(id PlayerID) bool {
	_, ok := p.Players[id]
	return ok
}

// TeamsDone reports whether both teams hold size/2 players.
func (p *Pug) TeamsDone() bool {
	return len(p.Teams[TeamRed].Players)+len(p.Teams[TeamBlue].Players) == p.Size
}

func (p *Pug) GameStarted() bool {
	return !p.GameStart.IsZero()
}

func (p *Pug) ReplacementRequired() bool {
	return p.State == StateReplacementRequired
}

func (p *Pug) ReplacementTimedOut(now time.Time) bool {
	return p.ReplacementRequired() && !now.Before(p.ReplacementDeadline)
}

func (p *Pug) HasDisconnects() bool {
	return len(p.Disconnects) > 0
}

// Admits reports whether r satisfies the rating restriction.
func (p *Pug) Admits(r rating.Rating) bool {
	if p.RatingRestriction == nil {
		return true
	}
	limit := *p.RatingRestriction
	if limit < 0 {
		return r < limit.Abs()
	}
	return r >= limit
}

func (p *Pug) TeamOf(id PlayerID) (Team, bool) {
	for _, t := range Teams {
		if slices.Contains(p.Teams[t].Players, id) {
			return t, true
		}
	}
	return TeamNone, false
}

// effectiveState is the state the pug is in, or will resume to while a
// replacement is pending.
func (p *Pug) effectiveState() State {
	if p.State == StateReplacementRequired {
		return p.PreviousState
	}
	return p.State
}

// Joinable reports whether the pug still takes players. A finished game
// takes no one, even if someone left during the grace period.
func (p *Pug) Joinable() bool {
	return p.effectiveState() != StateGameOver
}

// AddPlayer admits a player. It returns false if the pug is full or over, or
// the player is already in it.
func (p *Pug) AddPlayer(id PlayerID, name string, stats PlayerStats) bool {
	if p.Full() || !p.Joinable() || p.HasPlayer(id) {
		return false
	}

	p.Players[id] = name
	p.Order = append(p.Order, id)
	p.PlayerStats[id] = stats
	p.GameStats[id] = PlayerStats{}

	if p.Admin == 0 {
		p.Admin = id
	}

	if p.effectiveState() >= StateTeamsShuffled {
		p.fillVacancy(id)
	}

	if p.Full() && p.State == StateReplacementRequired {
		p.State = p.PreviousState
		p.ReplacementStart = time.Time{}
		p.ReplacementDeadline = time.Time{}
	}
	return true
}

// fillVacancy puts id on a short team. A returning leaver goes back to their
// own team while it still has the hole they left.
func (p *Pug) fillVacancy(id PlayerID) {
	if t, ok := p.LeftTeams[id]; ok {
		delete(p.LeftTeams, id)
		if p.short(t) {
			p.joinTeam(t, id)
			return
		}
	}
	for _, t := range Teams {
		if p.short(t) {
			p.joinTeam(t, id)
			return
		}
	}
}

func (p *Pug) short(t Team) bool {
	return len(p.Teams[t].Players) < p.Size/2
}

func (p *Pug) joinTeam(t Team, id PlayerID) {
	p.addToTeam(t, id)
	if team := p.Teams[t]; team.Medic == 0 {
		team.Medic = id
	}
}

func (p *Pug) RemovePlayer(id PlayerID, now time.Time) error {
	if !p.HasPlayer(id) {
		return ErrPlayerNotInPug
	}

	if t, ok := p.TeamOf(id); ok {
		p.removeFromTeam(t, id)
		p.LeftTeams[id] = t
	}

	delete(p.Players, id)
	delete(p.PlayerStats, id)
	delete(p.GameStats, id)
	delete(p.Votes, id)
	delete(p.Disconnects, id)
	p.Order = slices.DeleteFunc(p.Order, func(o PlayerID) bool { return o == id })

	if p.Admin == id {
		p.Admin = 0
		if len(p.Order) > 0 {
			p.Admin = p.Order[0]
		}
	}

	if p.State > StateGatheringPlayers && p.State < StateGameOver {
		p.PreviousState = p.State
		p.ReplacementStart = now
		p.ReplacementDeadline = now.Add(constants.ReplacementTimeout)
		p.State = StateReplacementRequired
	}
	if p.State == StateReplacementRequired {
		p.Leavers = append(p.Leavers, id)
	}
	return nil
}

func (p *Pug) addToTeam(t Team, id PlayerID) {
	team := p.Teams[t]
	team.Players = append(team.Players, id)
	team.Rating += p.PlayerStats[id].Rating
}

func (p *Pug) removeFromTeam(t Team, id PlayerID) {
	team := p.Teams[t]
	team.Players = slices.DeleteFunc(team.Players, func(o PlayerID) bool { return o == id })
	team.Rating -= p.PlayerStats[id].Rating
	if team.Medic == id {
		team.Medic = 0
	}
}

func (p *Pug) BeginMapVote(now time.Time) {
	if p.MapForced {
		p.State = StateMapVoteCompleted
		return
	}
	p.MapVoteStart = now
	p.MapVoteEnd = now.Add(constants.MapVoteDuration)
	p.State = StateMapVoting
}

// EndMapVote settles the map. voted is false when the map was forced or drawn
// at random because nobody voted.
func (p *Pug) EndMapVote() (m string, voted bool) {
	p.State = StateMapVoteCompleted
	if p.MapForced {
		return p.Map, false
	}

	tally := p.VoteTally()
	best, most := "", 0
	for _, name := range p.Maps {
		if tally[name] > most {
			best, most = name, tally[name]
		}
	}

	if best == "" {
		p.Map = p.Maps[rand.IntN(len(p.Maps))]
		return p.Map, false
	}
	p.Map = best
	return p.Map, true
}

func (p *Pug) VoteTally() map[string]int {
	tally := make(map[string]int, len(p.Maps))
	for _, m := range p.Votes {
		tally[m]++
	}
	return tally
}

func (p *Pug) ValidMap(m string) bool {
	return slices.Contains(p.Maps, m)
}

func (p *Pug) VoteMap(id PlayerID, m string) error {
	if p.State != StateMapVoting {
		return ErrMapVoteNotOpen
	}
	if !p.HasPlayer(id) {
		return ErrPlayerNotInPug
	}
	if !p.ValidMap(m) {
		return fmt.Errorf("%w: %s", ErrInvalidMap, m)
	}
	p.Votes[id] = m
	return nil
}

func (p *Pug) ForceMap(m string) error {
	if p.State != StateGatheringPlayers {
		return ErrTooLateToForceMap
	}
	if !p.ValidMap(m) {
		return fmt.Errorf("%w: %s", ErrInvalidMap, m)
	}
	p.Map = m
	p.MapForced = true
	return nil
}

// ShuffleTeams balances the roster into red and blue. It returns false when
// the roster is incomplete or teams are already set.
func (p *Pug) ShuffleTeams() bool {
	if !p.Full() || p.TeamsDone() {
		return false
	}

	a := Balance(p.Order, p.PlayerStats)
	for _, t := range Teams {
		p.Teams[t] = &Roster{Medic: a.Medics[t]}
		p.addToTeam(t, a.Medics[t])
		for _, id := range a.Players[t] {
			p.addToTeam(t, id)
		}
	}

	p.State = StateTeamsShuffled
	return true
}

func (p *Pug) BeginGame(now time.Time) bool {
	if p.State != StateTeamsShuffled {
		return false
	}
	p.GameStart = now
	p.State = StateGameStarted
	return true
}

// UpdateScore also accepts scores while a live game waits for a replacement.
func (p *Pug) UpdateScore(t Team, value int) error {
	if p.effectiveState() != StateGameStarted {
		return ErrGameNotLive
	}
	if _, ok := p.Scores[t]; !ok {
		return fmt.Errorf("unknown team %q", t)
	}
	p.Scores[t] = value
	return nil
}

// EndGame finishes a live game. A pending replacement is dropped since the
// game went on without one.
func (p *Pug) EndGame(now time.Time) bool {
	if p.effectiveState() != StateGameStarted {
		return false
	}
	p.ReplacementStart = time.Time{}
	p.ReplacementDeadline = time.Time{}
	p.GameOverAt = now
	p.State = StateGameOver
	return true
}

// Winner returns the team with the higher score, or TeamNone on a draw.
func (p *Pug) Winner() Team {
	red, blue := p.Scores[TeamRed], p.Scores[TeamBlue]
	switch {
	case red > blue:
		return TeamRed
	case blue > red:
		return TeamBlue
	default:
		return TeamNone
	}
}

func (p *Pug) UpdateGameStat(id PlayerID, stat Stat, value int, increment bool) {
	s, ok := p.GameStats[id]
	if !ok {
		return
	}
	s.apply(stat, value, increment)
	p.GameStats[id] = s
}

func (p *Pug) AddDisconnect(id PlayerID, reason string, now time.Time) {
	if !p.HasPlayer(id) {
		return
	}
	p.Disconnects[id] = Disconnect{Reason: reason, Deadline: now.Add(constants.DisconnectTimeout)}
}

// AddConnectTimeouts gives every player ConnectTimeout to join the server.
func (p *Pug) AddConnectTimeouts(now time.Time) {
	for id := range p.Players {
		p.Disconnects[id] = Disconnect{Reason: "not connected", Deadline: now.Add(constants.ConnectTimeout)}
	}
}

func (p *Pug) RemoveDisconnect(id PlayerID) {
	delete(p.Disconnects, id)
}

// CheckDisconnects removes every player whose disconnect deadline has passed.
func (p *Pug) CheckDisconnects(now time.Time) []PlayerID {
	var expired []PlayerID
	for id, d := range p.Disconnects {
		if !now.Before(d.Deadline) {
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)

	for _, id := range expired {
		if err := p.RemovePlayer(id, now); err == nil {
			p.TimedOut = append(p.TimedOut, id)
		}
		delete(p.Disconnects, id)
	}
	return expired
}

// UpdateEndStats derives EndStats from the pre-match stats, the in-match
// deltas, the result and the new ratings.
func (p *Pug) UpdateEndStats(ratings map[PlayerID]rating.Rating) {
	winner := p.Winner()
	p.EndStats = make(map[PlayerID]PlayerStats, len(p.Players))

	for _, t := range Teams {
		team := p.Teams[t]
		for _, id := range team.Players {
			start, ok := p.PlayerStats[id]
			if !ok {
				continue
			}
			delta := p.GameStats[id]
			delta.GamesPlayed = 1

			end := start.Merge(delta)
			if id == team.Medic {
				end.GamesSinceMedic = 0
			} else {
				end.GamesSinceMedic = start.GamesSinceMedic + 1
			}

			switch winner {
			case TeamNone:
				end.Draws++
			case t:
				end.Wins++
				end.WinStreak = start.WinStreak + 1
			default:
				end.Losses++
				end.WinStreak = 0
			}

			if r, ok := ratings[id]; ok {
				end.Rating = r
			}
			p.EndStats[id] = end
		}
	}
}

// Settle runs the rating engine over the final teams and fills EndStats. It
// does nothing once StatsDone is set; the caller sets it after EndStats are
// stored, so a failed store can settle again.
func (p *Pug) Settle() map[PlayerID]rating.Rating {
	if p.StatsDone {
		return nil
	}

	ranks := []int{0, 0}
	switch p.Winner() {
	case TeamRed:
		ranks[1] = 1
	case TeamBlue:
		ranks[0] = 1
	}

	teams := make([][]rating.Rating, len(Teams))
	for i, t := range Teams {
		for _, id := range p.Teams[t].Players {
			teams[i] = append(teams[i], p.PlayerStats[id].Rating)
		}
	}

	out := rating.Calculate(teams, ranks)
	ratings := make(map[PlayerID]rating.Rating, len(p.Players))
	for i, t := range Teams {
		for n, id := range p.Teams[t].Players {
			ratings[id] = out[i][n]
		}
	}

	p.UpdateEndStats(ratings)
	return ratings
}
