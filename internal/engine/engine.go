package engine

import (
	"errors"
)

var ErrMatchCompleted = errors.New("match already completed")
var ErrNotYourTurn = errors.New("player does not hold the batter or bowler role")
var ErrInvalidCall = errors.New("call must be between 1 and 6")
var ErrAlreadyCalled = errors.New("call already submitted for this delivery")
var ErrAwaitingSelection = errors.New("waiting for a captain to pick the next player")
var ErrNotSelecting = errors.New("no selection is pending")
var ErrWrongRole = errors.New("selection is for a different role")
var ErrNotCaptain = errors.New("only the captain can pick")
var ErrIneligiblePlayer = errors.New("player is not eligible")
var ErrInvalidSetup = errors.New("invalid match setup")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

func (t Team) Other() Team {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

type Role string

const (
	RoleBat  Role = "bat"
	RoleBowl Role = "bowl"
)

// Phase is what the match is waiting on. Delivery accepts calls, selecting
// waits for a captain, done is terminal.
type Phase string

const (
	PhaseDelivery  Phase = "delivery"
	PhaseSelecting Phase = "selecting"
	PhaseDone      Phase = "done"
)

const (
	MinCall      = 1
	MaxCall      = 6
	BallsPerOver = 6
)

type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Rules struct {
	Overs int
}

type State struct {
	Phase    Phase
	Rules    Rules
	Rosters  map[Team][]Player
	Captains map[Team]string

	Score   map[Team]int
	Wickets map[Team]int
	Balls   int
	Innings int
	Target  int // 0 until the second innings

	Batting Team
	Bowling Team
	Batter  string
	Bowler  string

	LastBowler string

	// 0 means no call yet.
	PendingBat  int
	PendingBowl int

	UsedBatters map[string]bool
	UsedBowlers map[string]bool

	// Set while Phase == PhaseSelecting.
	Awaiting Role
	Options  []Player

	// Opening is set at the start of the second innings, until the opening
	// batter is picked and the bowler can be told to play.
	Opening bool

	Winner Team // empty on a tie
}

type CommandType string

const (
	CmdCall          CommandType = "Call"
	CmdSelect        CommandType = "Select"
	CmdSelectTimeout CommandType = "SelectTimeout"
	CmdForfeit       CommandType = "Forfeit"
)

type Command struct {
	Type       CommandType
	PlayerID   string
	Number     int
	Role       Role
	SelectedID string
	Team       Team
}

type EventType string

const (
	EvtTurnAssigned       EventType = "TurnAssigned"
	EvtDeliveryResolved   EventType = "DeliveryResolved"
	EvtSelectionRequested EventType = "SelectionRequested"
	EvtSelectionTimedOut  EventType = "SelectionTimedOut"
	EvtInningsEnded       EventType = "InningsEnded"
	EvtMatchCompleted     EventType = "MatchCompleted"
)

type Event struct {
	Type     EventType
	Team     Team
	Role     Role
	PlayerID string
	Options  []Player

	Batter   string
	Bowler   string
	BatCall  int
	BowlCall int
	Runs     int
	Wicket   bool

	// Batting team totals after the event.
	Score   int
	Wickets int
	Balls   int
	Target  int

	Winner  Team
	Tie     bool
	Forfeit bool
}

/*
	CmdCall          -> (buffered, no events) or EvtDeliveryResolved
	                    -> EvtSelectionRequested | EvtInningsEnded -> EvtTurnAssigned -> EvtSelectionRequested
	                    | EvtMatchCompleted
	CmdSelect        -> EvtTurnAssigned (+ EvtTurnAssigned for the bowler when opening an innings)
	CmdSelectTimeout -> EvtSelectionTimedOut -> EvtTurnAssigned
	CmdForfeit       -> EvtMatchCompleted
*/

func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseDone {
		return nil, s, ErrMatchCompleted
	}

	switch cmd.Type {
	case CmdCall:
		if s.Phase != PhaseDelivery {
			return nil, s, ErrAwaitingSelection
		}
		if cmd.Number < MinCall || cmd.Number > MaxCall {
			return nil, s, ErrInvalidCall
		}

		newState := s.Clone()
		switch cmd.PlayerID {
		case s.Batter:
			if s.PendingBat != 0 {
				return nil, s, ErrAlreadyCalled
			}
			newState.PendingBat = cmd.Number
		case s.Bowler:
			if s.PendingBowl != 0 {
				return nil, s, ErrAlreadyCalled
			}
			newState.PendingBowl = cmd.Number
		default:
			return nil, s, ErrNotYourTurn
		}

		// Rendezvous: nothing visible happens until both sides have called.
		if newState.PendingBat == 0 || newState.PendingBowl == 0 {
			return nil, newState, nil
		}
		events, newState := resolveDelivery(newState)
		return events, newState, nil

	case CmdSelect:
		if s.Phase != PhaseSelecting {
			return nil, s, ErrNotSelecting
		}
		if cmd.Role != s.Awaiting {
			return nil, s, ErrWrongRole
		}
		if cmd.PlayerID != s.Captains[s.SelectingTeam()] {
			return nil, s, ErrNotCaptain
		}
		if !containsPlayer(s.Options, cmd.SelectedID) {
			return nil, s, ErrIneligiblePlayer
		}

		events, newState := assignRole(s.Clone(), cmd.SelectedID)
		return events, newState, nil

	case CmdSelectTimeout:
		if s.Phase != PhaseSelecting || len(s.Options) == 0 {
			return nil, s, ErrNotSelecting
		}

		pick := s.Options[0].ID
		timedOut := Event{Type: EvtSelectionTimedOut, Team: s.SelectingTeam(), Role: s.Awaiting, PlayerID: pick}
		events, newState := assignRole(s.Clone(), pick)
		return append([]Event{timedOut}, events...), newState, nil

	case CmdForfeit:
		if cmd.Team != TeamA && cmd.Team != TeamB {
			return nil, s, ErrInvalidSetup
		}

		newState := s.Clone()
		newState.Phase = PhaseDone
		newState.Winner = cmd.Team.Other()
		newState.PendingBat, newState.PendingBowl = 0, 0
		newState.Options = nil
		return []Event{{
			Type:    EvtMatchCompleted,
			Team:    cmd.Team,
			Winner:  newState.Winner,
			Forfeit: true,
			Score:   newState.Score[newState.Batting],
			Wickets: newState.Wickets[newState.Batting],
		}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// resolveDelivery scores a delivery once both calls are in.
func resolveDelivery(s State) ([]Event, State) {
	bat, bowl := s.PendingBat, s.PendingBowl
	s.PendingBat, s.PendingBowl = 0, 0
	s.Balls++

	ev := Event{
		Type:     EvtDeliveryResolved,
		Team:     s.Batting,
		Batter:   s.Batter,
		Bowler:   s.Bowler,
		BatCall:  bat,
		BowlCall: bowl,
		Balls:    s.Balls,
	}

	var vacant Role
	if bat == bowl {
		s.Wickets[s.Batting]++
		s.UsedBatters[s.Batter] = true
		ev.Wicket = true
		ev.PlayerID = s.Batter
		s.Batter = ""
		vacant = RoleBat
	} else {
		s.Score[s.Batting] += bat
		s.UsedBowlers[s.Bowler] = true
		ev.Runs = bat
		ev.PlayerID = s.Bowler
		s.LastBowler = s.Bowler
		s.Bowler = ""
		vacant = RoleBowl
	}
	ev.Score = s.Score[s.Batting]
	ev.Wickets = s.Wickets[s.Batting]

	events := []Event{ev}

	// The chase ends as soon as the target is reached.
	if s.Innings == 2 && s.Score[s.Batting] >= s.Target {
		more, s := completeMatch(s)
		return append(events, more...), s
	}
	if inningsOver(s) {
		more, s := endInnings(s)
		return append(events, more...), s
	}

	more, s := requestSelection(s, vacant)
	return append(events, more...), s
}

func inningsOver(s State) bool {
	if s.Balls >= s.Rules.Overs*BallsPerOver {
		return true
	}
	return s.Wickets[s.Batting] >= len(s.Rosters[s.Batting])-1
}

func endInnings(s State) ([]Event, State) {
	if s.Innings >= 2 {
		return completeMatch(s)
	}

	ended := Event{
		Type:    EvtInningsEnded,
		Team:    s.Batting,
		Score:   s.Score[s.Batting],
		Wickets: s.Wickets[s.Batting],
		Target:  s.Score[s.Batting] + 1,
	}

	s.Target = s.Score[s.Batting] + 1
	s.Batting, s.Bowling = s.Bowling, s.Batting
	s.Innings = 2
	s.Balls = 0
	s.Wickets[s.Batting] = 0
	s.PendingBat, s.PendingBowl = 0, 0
	clear(s.UsedBatters)
	clear(s.UsedBowlers)

	s.Batter = ""
	s.Bowler = s.Rosters[s.Bowling][0].ID
	s.LastBowler = ""
	s.Opening = true

	more, s := requestSelection(s, RoleBat)
	return append([]Event{ended}, more...), s
}

func completeMatch(s State) ([]Event, State) {
	s.Phase = PhaseDone
	s.Awaiting = ""
	s.Options = nil
	s.PendingBat, s.PendingBowl = 0, 0

	ev := Event{
		Type:    EvtMatchCompleted,
		Team:    s.Batting,
		Score:   s.Score[s.Batting],
		Wickets: s.Wickets[s.Batting],
		Target:  s.Target,
	}
	switch {
	case s.Score[TeamA] > s.Score[TeamB]:
		s.Winner = TeamA
	case s.Score[TeamB] > s.Score[TeamA]:
		s.Winner = TeamB
	default:
		s.Winner = ""
		ev.Tie = true
	}
	ev.Winner = s.Winner
	return []Event{ev}, s
}

// assignRole fills the awaited role and reopens delivery input.
func assignRole(s State, playerID string) ([]Event, State) {
	role := s.Awaiting
	team := s.SelectingTeam()

	if role == RoleBat {
		s.Batter = playerID
	} else {
		s.Bowler = playerID
	}
	s.Phase = PhaseDelivery
	s.Awaiting = ""
	s.Options = nil

	events := []Event{{Type: EvtTurnAssigned, Team: team, Role: role, PlayerID: playerID}}
	if s.Opening {
		s.Opening = false
		events = append(events, Event{Type: EvtTurnAssigned, Team: s.Bowling, Role: RoleBowl, PlayerID: s.Bowler})
	}
	return events, s
}
