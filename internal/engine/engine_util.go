package engine

import (
	"fmt"
	"maps"
	"slices"
)

// NewMatch builds the opening state of a match. The first roster entry of
// each side opens the batting and bowling.
func NewMatch(rosters map[Team][]Player, captains map[Team]string, rules Rules, batting Team) (State, []Event, error) {
	if rules.Overs < 1 {
		return State{}, nil, fmt.Errorf("overs %d: %w", rules.Overs, ErrInvalidSetup)
	}
	if batting != TeamA && batting != TeamB {
		return State{}, nil, fmt.Errorf("batting team %q: %w", batting, ErrInvalidSetup)
	}
	for _, team := range []Team{TeamA, TeamB} {
		if len(rosters[team]) == 0 {
			return State{}, nil, fmt.Errorf("team %s has no players: %w", team, ErrInvalidSetup)
		}
	}
	// A captain picks for their side but may play on either roster.
	for _, team := range []Team{TeamA, TeamB} {
		id := captains[team]
		if !containsPlayer(rosters[TeamA], id) && !containsPlayer(rosters[TeamB], id) {
			return State{}, nil, fmt.Errorf("captain of team %s is not in the match: %w", team, ErrInvalidSetup)
		}
	}

	s := State{
		Phase: PhaseDelivery,
		Rules: rules,
		Rosters: map[Team][]Player{
			TeamA: slices.Clone(rosters[TeamA]),
			TeamB: slices.Clone(rosters[TeamB]),
		},
		Captains:    map[Team]string{TeamA: captains[TeamA], TeamB: captains[TeamB]},
		Score:       map[Team]int{TeamA: 0, TeamB: 0},
		Wickets:     map[Team]int{TeamA: 0, TeamB: 0},
		Innings:     1,
		Batting:     batting,
		Bowling:     batting.Other(),
		UsedBatters: map[string]bool{},
		UsedBowlers: map[string]bool{},
	}
	s.Batter = s.Rosters[s.Batting][0].ID
	s.Bowler = s.Rosters[s.Bowling][0].ID

	events := []Event{
		{Type: EvtTurnAssigned, Team: s.Batting, Role: RoleBat, PlayerID: s.Batter},
		{Type: EvtTurnAssigned, Team: s.Bowling, Role: RoleBowl, PlayerID: s.Bowler},
	}
	return s, events, nil
}

// Clone deep copies the mutable parts of s so Apply never touches its input.
func (s State) Clone() State {
	c := s
	c.Rosters = maps.Clone(s.Rosters)
	c.Captains = maps.Clone(s.Captains)
	c.Score = maps.Clone(s.Score)
	c.Wickets = maps.Clone(s.Wickets)
	c.UsedBatters = maps.Clone(s.UsedBatters)
	c.UsedBowlers = maps.Clone(s.UsedBowlers)
	c.Options = slices.Clone(s.Options)
	if c.UsedBatters == nil {
		c.UsedBatters = map[string]bool{}
	}
	if c.UsedBowlers == nil {
		c.UsedBowlers = map[string]bool{}
	}
	if c.Score == nil {
		c.Score = map[Team]int{}
	}
	if c.Wickets == nil {
		c.Wickets = map[Team]int{}
	}
	return c
}

// TeamOf reports which roster playerID is on.
func (s State) TeamOf(playerID string) (Team, bool) {
	for _, team := range []Team{TeamA, TeamB} {
		if containsPlayer(s.Rosters[team], playerID) {
			return team, true
		}
	}
	return "", false
}

// RoleOf reports the active role playerID holds, if any.
func (s State) RoleOf(playerID string) (Role, bool) {
	if playerID == "" || s.Phase == PhaseDone {
		return "", false
	}
	switch playerID {
	case s.Batter:
		return RoleBat, true
	case s.Bowler:
		return RoleBowl, true
	}
	return "", false
}

func ContainsEvent(events []Event, eventType EventType) bool {
	return slices.ContainsFunc(events, func(e Event) bool { return e.Type == eventType })
}

// FindEvent returns the first event of the given type.
func FindEvent(events []Event, eventType EventType) (Event, bool) {
	i := slices.IndexFunc(events, func(e Event) bool { return e.Type == eventType })
	if i < 0 {
		return Event{}, false
	}
	return events[i], true
}
