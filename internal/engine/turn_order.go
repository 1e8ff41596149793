package engine

import "slices"

// SelectingTeam is the team whose captain fills the awaited role.
func (s State) SelectingTeam() Team {
	if s.Awaiting == RoleBowl {
		return s.Bowling
	}
	return s.Batting
}

// Eligible returns the roster members of the team filling role that have
// not yet batted out (or bowled) this innings, in roster order.
func Eligible(s State, role Role) []Player {
	team, used := s.Batting, s.UsedBatters
	if role == RoleBowl {
		team, used = s.Bowling, s.UsedBowlers
	}

	pool := make([]Player, 0, len(s.Rosters[team]))
	for _, p := range s.Rosters[team] {
		if !used[p.ID] {
			pool = append(pool, p)
		}
	}
	return pool
}

// requestSelection asks the relevant captain to fill role. An empty bowler
// pool restarts the rotation. An empty batter pool ends the innings.
func requestSelection(s State, role Role) ([]Event, State) {
	pool := Eligible(s, role)
	if len(pool) == 0 {
		if role == RoleBat {
			return endInnings(s)
		}
		restartBowling(&s)
		pool = Eligible(s, role)
	}

	s.Phase = PhaseSelecting
	s.Awaiting = role
	s.Options = pool

	team := s.SelectingTeam()
	return []Event{{
		Type:     EvtSelectionRequested,
		Team:     team,
		Role:     role,
		PlayerID: s.Captains[team],
		Options:  slices.Clone(pool),
	}}, s
}

// restartBowling clears the used bowlers. The last bowler stays used so
// nobody bowls two balls in a row when the team has a choice.
func restartBowling(s *State) {
	clear(s.UsedBowlers)
	if s.LastBowler != "" && len(s.Rosters[s.Bowling]) > 1 {
		s.UsedBowlers[s.LastBowler] = true
	}
}

func containsPlayer(players []Player, id string) bool {
	return slices.ContainsFunc(players, func(p Player) bool { return p.ID == id })
}
