package pug

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

func (p *Pug) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pug %d: %w", p.ID, err)
	}
	return data, nil
}

func Decode(data []byte) (*Pug, error) {
	var p Pug
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode pug: %w", err)
	}
	p.init()
	return &p, nil
}

// Clone returns a deep copy of p that can be read without the owner's lock.
func (p *Pug) Clone() *Pug {
	c := *p
	c.Maps = slices.Clone(p.Maps)
	c.Players = maps.Clone(p.Players)
	c.Order = slices.Clone(p.Order)
	c.PlayerStats = maps.Clone(p.PlayerStats)
	c.GameStats = maps.Clone(p.GameStats)
	c.EndStats = maps.Clone(p.EndStats)
	c.Votes = maps.Clone(p.Votes)
	c.Scores = maps.Clone(p.Scores)
	c.Disconnects = maps.Clone(p.Disconnects)
	c.Leavers = slices.Clone(p.Leavers)
	c.LeftTeams = maps.Clone(p.LeftTeams)
	c.TimedOut = slices.Clone(p.TimedOut)

	c.Teams = make(map[Team]*Roster, len(p.Teams))
	for t, r := range p.Teams {
		rc := *r
		rc.Players = slices.Clone(r.Players)
		c.Teams[t] = &rc
	}
	if p.RatingRestriction != nil {
		r := *p.RatingRestriction
		c.RatingRestriction = &r
	}
	return &c
}
