package engine

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func players(ids ...string) []Player {
	out := make([]Player, 0, len(ids))
	for _, id := range ids {
		out = append(out, Player{ID: id, Name: strings.ToUpper(id)})
	}
	return out
}

func newMatch(t *testing.T, perTeam, overs int) State {
	t.Helper()
	a := make([]string, 0, perTeam)
	b := make([]string, 0, perTeam)
	for i := 1; i <= perTeam; i++ {
		a = append(a, "a"+string(rune('0'+i)))
		b = append(b, "b"+string(rune('0'+i)))
	}
	s, _, err := NewMatch(
		map[Team][]Player{TeamA: players(a...), TeamB: players(b...)},
		map[Team]string{TeamA: "a1", TeamB: "b1"},
		Rules{Overs: overs},
		TeamA,
	)
	require.NoError(t, err)
	return s
}

func apply(t *testing.T, s State, cmd Command) ([]Event, State) {
	t.Helper()
	events, next, err := Apply(s, cmd)
	require.NoError(t, err)
	return events, next
}

// deliver submits the batter's call, then the bowler's.
func deliver(t *testing.T, s State, bat, bowl int) ([]Event, State) {
	t.Helper()
	events, s := apply(t, s, Command{Type: CmdCall, PlayerID: s.Batter, Number: bat})
	require.Empty(t, events, "no events until both calls are in")
	return apply(t, s, Command{Type: CmdCall, PlayerID: s.Bowler, Number: bowl})
}

func pick(t *testing.T, s State, selected string) ([]Event, State) {
	t.Helper()
	return apply(t, s, Command{
		Type:       CmdSelect,
		PlayerID:   s.Captains[s.SelectingTeam()],
		Role:       s.Awaiting,
		SelectedID: selected,
	})
}

func TestNewMatch_OpeningRoles(t *testing.T) {
	s, events, err := NewMatch(
		map[Team][]Player{TeamA: players("a1", "a2"), TeamB: players("b1", "b2")},
		map[Team]string{TeamA: "a2", TeamB: "b1"},
		Rules{Overs: 2},
		TeamB,
	)
	require.NoError(t, err)

	assert.Equal(t, PhaseDelivery, s.Phase)
	assert.Equal(t, 1, s.Innings)
	assert.Equal(t, TeamB, s.Batting)
	assert.Equal(t, TeamA, s.Bowling)
	assert.Equal(t, "b1", s.Batter)
	assert.Equal(t, "a1", s.Bowler)
	assert.Zero(t, s.Target)

	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EvtTurnAssigned, Team: TeamB, Role: RoleBat, PlayerID: "b1"}, events[0])
	assert.Equal(t, Event{Type: EvtTurnAssigned, Team: TeamA, Role: RoleBowl, PlayerID: "a1"}, events[1])
}

func TestNewMatch_RejectsBadSetup(t *testing.T) {
	cases := []struct {
		name     string
		rosters  map[Team][]Player
		captains map[Team]string
		overs    int
	}{
		{
			name:     "empty team",
			rosters:  map[Team][]Player{TeamA: players("a1", "a2")},
			captains: map[Team]string{TeamA: "a1", TeamB: "a2"},
			overs:    1,
		},
		{
			name:     "captain not in the match",
			rosters:  map[Team][]Player{TeamA: players("a1", "a2"), TeamB: players("b1", "b2")},
			captains: map[Team]string{TeamA: "a1", TeamB: "x9"},
			overs:    1,
		},
		{
			name:     "missing captain",
			rosters:  map[Team][]Player{TeamA: players("a1"), TeamB: players("b1")},
			captains: map[Team]string{TeamA: "a1"},
			overs:    1,
		},
		{
			name:     "zero overs",
			rosters:  map[Team][]Player{TeamA: players("a1", "a2"), TeamB: players("b1", "b2")},
			captains: map[Team]string{TeamA: "a1", TeamB: "b1"},
			overs:    0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := NewMatch(tc.rosters, tc.captains, Rules{Overs: tc.overs}, TeamA)
			require.ErrorIs(t, err, ErrInvalidSetup)
		})
	}
}

func TestNewMatch_CaptainMayPlayForTheOtherSide(t *testing.T) {
	s, _, err := NewMatch(
		map[Team][]Player{TeamA: players("a1", "a2"), TeamB: players("b1", "b2")},
		map[Team]string{TeamA: "b1", TeamB: "a1"},
		Rules{Overs: 1},
		TeamA,
	)
	require.NoError(t, err)

	// a1 runs the bowling changes for B while batting for A.
	events, s := deliver(t, s, 3, 5)
	req, ok := FindEvent(events, EvtSelectionRequested)
	require.True(t, ok)
	assert.Equal(t, TeamB, req.Team)
	assert.Equal(t, "a1", req.PlayerID)

	_, _, err = Apply(s, Command{Type: CmdSelect, PlayerID: "b1", Role: RoleBowl, SelectedID: "b2"})
	require.ErrorIs(t, err, ErrNotCaptain)

	events, s = apply(t, s, Command{Type: CmdSelect, PlayerID: "a1", Role: RoleBowl, SelectedID: "b2"})
	assert.True(t, ContainsEvent(events, EvtTurnAssigned))
	assert.Equal(t, "b2", s.Bowler)
}

// 2v1: the lone batter's innings lasts one ball, out or not.
func TestTwoVersusOne(t *testing.T) {
	s, _, err := NewMatch(
		map[Team][]Player{TeamA: players("a1", "a2"), TeamB: players("b1")},
		map[Team]string{TeamA: "a1", TeamB: "b1"},
		Rules{Overs: 1},
		TeamA,
	)
	require.NoError(t, err)

	// Runs: the only bowler is offered again.
	events, s := deliver(t, s, 3, 5)
	req, ok := FindEvent(events, EvtSelectionRequested)
	require.True(t, ok)
	assert.Equal(t, players("b1"), req.Options)
	_, s = pick(t, s, "b1")

	// A wicket with two batters ends A's innings.
	events, s = deliver(t, s, 2, 2)
	ended, ok := FindEvent(events, EvtInningsEnded)
	require.True(t, ok)
	assert.Equal(t, 3, ended.Score)
	assert.Equal(t, 4, s.Target)
	assert.Equal(t, TeamB, s.Batting)
	assert.Equal(t, "a1", s.Bowler)
	assert.Equal(t, []Player{{ID: "b1", Name: "B1"}}, s.Options)

	_, s = pick(t, s, "b1")
	require.Equal(t, PhaseDelivery, s.Phase)

	// B's innings ends after one ball without losing a wicket.
	events, s = deliver(t, s, 2, 6)
	done, ok := FindEvent(events, EvtMatchCompleted)
	require.True(t, ok)
	assert.Equal(t, TeamA, done.Winner)
	assert.False(t, done.Tie)
	assert.Equal(t, PhaseDone, s.Phase)
	assert.Zero(t, s.Wickets[TeamB])
	assert.Equal(t, 2, s.Score[TeamB])
}

func TestCall_BuffersUntilBothSidesCall(t *testing.T) {
	s := newMatch(t, 2, 1)

	events, next, err := Apply(s, Command{Type: CmdCall, PlayerID: "b1", Number: 4})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 4, next.PendingBowl)
	assert.Zero(t, next.PendingBat)
	assert.Zero(t, next.Balls)

	// The input state is never mutated.
	assert.Zero(t, s.PendingBowl)
}

func TestCall_DiscardedInput(t *testing.T) {
	base := newMatch(t, 2, 1)
	_, called := apply(t, base, Command{Type: CmdCall, PlayerID: "a1", Number: 2})

	selecting := base
	selecting.Phase = PhaseSelecting
	selecting.Awaiting = RoleBowl

	cases := []struct {
		name  string
		setup State
		cmd   Command
		want  error
	}{
		{"zero", base, Command{Type: CmdCall, PlayerID: "a1", Number: 0}, ErrInvalidCall},
		{"seven", base, Command{Type: CmdCall, PlayerID: "b1", Number: 7}, ErrInvalidCall},
		{"not batter or bowler", base, Command{Type: CmdCall, PlayerID: "a2", Number: 3}, ErrNotYourTurn},
		{"unknown player", base, Command{Type: CmdCall, PlayerID: "zz", Number: 3}, ErrNotYourTurn},
		{"second call from batter", called, Command{Type: CmdCall, PlayerID: "a1", Number: 5}, ErrAlreadyCalled},
		{"while captain picks", selecting, Command{Type: CmdCall, PlayerID: "a1", Number: 5}, ErrAwaitingSelection},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, next, err := Apply(tc.setup, tc.cmd)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, events)
			assert.Equal(t, tc.setup.PendingBat, next.PendingBat)
			assert.Equal(t, tc.setup.PendingBowl, next.PendingBowl)
		})
	}
}

func TestDelivery_EqualCallsAreAlwaysAWicket(t *testing.T) {
	for n := MinCall; n <= MaxCall; n++ {
		s := newMatch(t, 3, 2)

		events, next := deliver(t, s, n, n)

		require.NotEmpty(t, events)
		res := events[0]
		assert.Equal(t, EvtDeliveryResolved, res.Type)
		assert.True(t, res.Wicket)
		assert.Equal(t, "a1", res.PlayerID)
		assert.Zero(t, res.Runs)

		assert.Equal(t, 1, next.Balls)
		assert.Equal(t, 1, next.Wickets[TeamA])
		assert.Zero(t, next.Score[TeamA])
		assert.True(t, next.UsedBatters["a1"])
		assert.Empty(t, next.UsedBowlers)
		assert.Equal(t, "b1", next.Bowler, "bowler keeps bowling after a wicket")

		req, ok := FindEvent(events, EvtSelectionRequested)
		require.True(t, ok)
		assert.Equal(t, RoleBat, req.Role)
		assert.Equal(t, "a1", req.PlayerID, "batting captain picks the batter")
		assert.Equal(t, players("a2", "a3"), req.Options)
		assert.Equal(t, PhaseSelecting, next.Phase)
	}
}

func TestDelivery_RunsRotateTheBowler(t *testing.T) {
	s := newMatch(t, 3, 2)

	events, next := deliver(t, s, 3, 5)

	res := events[0]
	assert.False(t, res.Wicket)
	assert.Equal(t, 3, res.Runs)
	assert.Equal(t, 3, res.Score)
	assert.Equal(t, 3, next.Score[TeamA])
	assert.Zero(t, next.Wickets[TeamA])
	assert.True(t, next.UsedBowlers["b1"])
	assert.Equal(t, "a1", next.Batter)
	assert.Zero(t, next.PendingBat)
	assert.Zero(t, next.PendingBowl)

	req, ok := FindEvent(events, EvtSelectionRequested)
	require.True(t, ok)
	assert.Equal(t, RoleBowl, req.Role)
	assert.Equal(t, "b1", req.PlayerID)
	assert.Equal(t, players("b2", "b3"), req.Options)
}

func TestSelect_Rejections(t *testing.T) {
	s := newMatch(t, 3, 2)
	_, s = deliver(t, s, 3, 5) // bowling captain b1 must pick from b2, b3

	cases := []struct {
		name string
		cmd  Command
		want error
	}{
		{"used bowler", Command{Type: CmdSelect, PlayerID: "b1", Role: RoleBowl, SelectedID: "b1"}, ErrIneligiblePlayer},
		{"other team", Command{Type: CmdSelect, PlayerID: "b1", Role: RoleBowl, SelectedID: "a2"}, ErrIneligiblePlayer},
		{"not captain", Command{Type: CmdSelect, PlayerID: "b2", Role: RoleBowl, SelectedID: "b2"}, ErrNotCaptain},
		{"wrong captain", Command{Type: CmdSelect, PlayerID: "a1", Role: RoleBowl, SelectedID: "b2"}, ErrNotCaptain},
		{"wrong role", Command{Type: CmdSelect, PlayerID: "b1", Role: RoleBat, SelectedID: "b2"}, ErrWrongRole},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, next, err := Apply(s, tc.cmd)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, events)
			assert.Equal(t, PhaseSelecting, next.Phase)
			assert.Empty(t, next.Bowler)
			assert.Equal(t, "a1", next.Batter)
		})
	}

	t.Run("no selection pending", func(t *testing.T) {
		fresh := newMatch(t, 2, 1)
		_, _, err := Apply(fresh, Command{Type: CmdSelect, PlayerID: "b1", Role: RoleBowl, SelectedID: "b2"})
		require.ErrorIs(t, err, ErrNotSelecting)
	})
}

func TestSelect_AssignsRoleAndReopensDelivery(t *testing.T) {
	s := newMatch(t, 3, 2)
	_, s = deliver(t, s, 3, 5)

	events, next := pick(t, s, "b3")

	require.Len(t, events, 1)
	assert.Equal(t, Event{Type: EvtTurnAssigned, Team: TeamB, Role: RoleBowl, PlayerID: "b3"}, events[0])
	assert.Equal(t, PhaseDelivery, next.Phase)
	assert.Equal(t, "b3", next.Bowler)
	assert.Empty(t, next.Options)
	assert.Empty(t, next.Awaiting)

	_, next = apply(t, next, Command{Type: CmdCall, PlayerID: "b3", Number: 1})
	assert.Equal(t, 1, next.PendingBowl)
}

func TestSelectTimeout_PicksFirstEligible(t *testing.T) {
	s := newMatch(t, 3, 2)
	_, s = deliver(t, s, 6, 6) // a1 out

	events, next := apply(t, s, Command{Type: CmdSelectTimeout})

	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EvtSelectionTimedOut, Team: TeamA, Role: RoleBat, PlayerID: "a2"}, events[0])
	assert.Equal(t, Event{Type: EvtTurnAssigned, Team: TeamA, Role: RoleBat, PlayerID: "a2"}, events[1])
	assert.Equal(t, "a2", next.Batter)
	assert.Equal(t, PhaseDelivery, next.Phase)

	_, _, err := Apply(next, Command{Type: CmdSelectTimeout})
	require.ErrorIs(t, err, ErrNotSelecting, "a stale deadline has nothing to pick")
}

func TestInningsEnd_SetsTargetAndSwapsSides(t *testing.T) {
	s := newMatch(t, 2, 1)
	_, s = deliver(t, s, 4, 1) // 4 runs
	_, s = pick(t, s, "b2")

	events, next := deliver(t, s, 2, 2) // last-but-one batter out

	require.Len(t, events, 3)
	assert.Equal(t, EvtDeliveryResolved, events[0].Type)

	ended := events[1]
	assert.Equal(t, EvtInningsEnded, ended.Type)
	assert.Equal(t, TeamA, ended.Team)
	assert.Equal(t, 5, ended.Target)

	req := events[2]
	assert.Equal(t, EvtSelectionRequested, req.Type)
	assert.Equal(t, RoleBat, req.Role)
	assert.Equal(t, "b1", req.PlayerID)
	assert.Equal(t, players("b1", "b2"), req.Options, "whole roster is eligible to open")

	assert.Equal(t, 2, next.Innings)
	assert.Equal(t, 5, next.Target)
	assert.Equal(t, TeamB, next.Batting)
	assert.Equal(t, TeamA, next.Bowling)
	assert.Zero(t, next.Balls)
	assert.Zero(t, next.Wickets[TeamB])
	assert.Empty(t, next.UsedBatters)
	assert.Empty(t, next.UsedBowlers)
	assert.Equal(t, "a1", next.Bowler)

	// Opening batter pick also tells the bowler to play.
	events, next = pick(t, next, "b2")
	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EvtTurnAssigned, Team: TeamB, Role: RoleBat, PlayerID: "b2"}, events[0])
	assert.Equal(t, Event{Type: EvtTurnAssigned, Team: TeamA, Role: RoleBowl, PlayerID: "a1"}, events[1])
	assert.False(t, next.Opening)
}

func TestInningsEnd_ByOvers(t *testing.T) {
	s := newMatch(t, 3, 1)
	for ball := 1; ball <= BallsPerOver; ball++ {
		events, next := deliver(t, s, 1, 2)
		s = next
		if ball < BallsPerOver {
			require.Equal(t, PhaseSelecting, s.Phase)
			_, s = pick(t, s, s.Options[0].ID)
			continue
		}
		require.True(t, ContainsEvent(events, EvtInningsEnded))
	}
	assert.Equal(t, 7, s.Target)
	assert.Equal(t, 2, s.Innings)
}

func TestScenario_TwoVersusTwoTie(t *testing.T) {
	s := newMatch(t, 2, 1)

	_, s = deliver(t, s, 3, 5)
	_, s = pick(t, s, "b2")
	events, s := deliver(t, s, 2, 2)
	require.True(t, ContainsEvent(events, EvtInningsEnded))
	assert.Equal(t, 4, s.Target)

	_, s = pick(t, s, "b1")
	_, s = deliver(t, s, 3, 1)
	_, s = pick(t, s, "a2")
	events, s = deliver(t, s, 4, 4)

	done, ok := FindEvent(events, EvtMatchCompleted)
	require.True(t, ok)
	assert.True(t, done.Tie)
	assert.Empty(t, done.Winner)
	assert.Equal(t, PhaseDone, s.Phase)
	assert.Equal(t, 3, s.Score[TeamA])
	assert.Equal(t, 3, s.Score[TeamB])

	_, _, err := Apply(s, Command{Type: CmdCall, PlayerID: s.Batter, Number: 1})
	require.ErrorIs(t, err, ErrMatchCompleted)
}

func TestChase_EndsAsSoonAsTargetIsReached(t *testing.T) {
	s := newMatch(t, 2, 2)
	_, s = deliver(t, s, 3, 5)
	_, s = pick(t, s, "b2")
	_, s = deliver(t, s, 2, 2) // target 4
	_, s = pick(t, s, "b1")

	events, s := deliver(t, s, 6, 1)

	done, ok := FindEvent(events, EvtMatchCompleted)
	require.True(t, ok)
	assert.Equal(t, TeamB, done.Winner)
	assert.False(t, done.Tie)
	assert.Equal(t, 1, s.Balls)
	assert.Equal(t, TeamB, s.Winner)
}

func TestBowlerPool_RestartsRotation(t *testing.T) {
	s := newMatch(t, 2, 2)

	_, s = deliver(t, s, 1, 2) // b1 bowled
	_, s = pick(t, s, "b2")
	events, s := deliver(t, s, 1, 2) // b2 bowled, pool empty

	req, ok := FindEvent(events, EvtSelectionRequested)
	require.True(t, ok)
	assert.Equal(t, players("b1"), req.Options, "last bowler sits out the restart")
	assert.True(t, s.UsedBowlers["b2"])
	assert.False(t, s.UsedBowlers["b1"])
}

func TestForfeit(t *testing.T) {
	s := newMatch(t, 2, 1)

	events, next := apply(t, s, Command{Type: CmdForfeit, Team: TeamA})

	require.Len(t, events, 1)
	assert.True(t, events[0].Forfeit)
	assert.Equal(t, TeamB, events[0].Winner)
	assert.Equal(t, PhaseDone, next.Phase)

	_, _, err := Apply(next, Command{Type: CmdForfeit, Team: TeamB})
	require.ErrorIs(t, err, ErrMatchCompleted)
}

func TestApply_UnsupportedCommand(t *testing.T) {
	s := newMatch(t, 2, 1)
	_, _, err := Apply(s, Command{Type: "Hover"})
	require.ErrorIs(t, err, ErrUnsupportedCommand)
}

// Random full matches: every resolved delivery moves the ball count by one
// and changes exactly one of score or wickets.
func TestDelivery_Invariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for game := 0; game < 50; game++ {
		perTeam := 2 + rng.IntN(3)
		s := newMatch(t, perTeam, 1+rng.IntN(3))
		firstScore := -1

		for steps := 0; s.Phase != PhaseDone; steps++ {
			require.Less(t, steps, 1000, "match never finished")

			if s.Phase == PhaseSelecting {
				opt := s.Options[rng.IntN(len(s.Options))]
				_, s = pick(t, s, opt.ID)
				continue
			}

			before := s
			batting := s.Batting
			events, next := deliver(t, s, 1+rng.IntN(6), 1+rng.IntN(6))

			res, ok := FindEvent(events, EvtDeliveryResolved)
			require.True(t, ok)

			scoreMoved := next.Score[batting] != before.Score[batting]
			wicketsMoved := next.Wickets[batting] != before.Wickets[batting]
			if ended, ok := FindEvent(events, EvtInningsEnded); ok {
				// Wickets reset only for the incoming side.
				wicketsMoved = ended.Wickets != before.Wickets[batting]
				firstScore = ended.Score
				assert.Equal(t, firstScore+1, next.Target)
				assert.NotEqual(t, batting, next.Batting)
			} else if next.Phase != PhaseDone {
				assert.Equal(t, before.Balls+1, next.Balls)
			}
			assert.NotEqual(t, scoreMoved, wicketsMoved)
			assert.Equal(t, res.Wicket, wicketsMoved)
			assert.LessOrEqual(t, next.Wickets[batting], len(next.Rosters[batting])-1)

			s = next
		}
	}
}
