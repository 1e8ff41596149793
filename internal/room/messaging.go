package room

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/handcricket-backend/internal/apperror"
	"github.com/DoyleJ11/handcricket-backend/internal/engine"
	"github.com/DoyleJ11/handcricket-backend/internal/types"
)

// unicast reaches only the given player's current connection.
func (r *Room) unicast(playerID string, msg types.ServerMessage) {
	m := r.byID[playerID]
	if m == nil || m.outbox == nil {
		r.logger.Debug("unicast to offline player", zap.String("player", playerID), zap.String("type", msg.Type))
		return
	}
	r.deliver(m, msg)
}

// broadcast reaches every connected member of the room.
func (r *Room) broadcast(msg types.ServerMessage) {
	for _, m := range r.players {
		if m.outbox != nil {
			r.deliver(m, msg)
		}
	}
}

func (r *Room) deliver(m *member, msg types.ServerMessage) {
	select {
	case m.outbox <- msg:
	default:
		// Slow client. The transport owns the channel, so only the message is lost.
		r.logger.Warn("outbox full, dropping message",
			zap.String("player", m.ID),
			zap.String("type", msg.Type),
		)
	}
}

func (r *Room) sendError(playerID string, err error) {
	r.unicast(playerID, ErrorMessage(err))
}

// ErrorMessage renders err for the wire.
func ErrorMessage(err error) types.ServerMessage {
	return types.ServerMessage{
		Type:    types.MsgError,
		Code:    apperror.Code(err),
		Message: apperror.Message(err),
	}
}

// publish turns engine events into wire messages. Unicast and broadcast
// targets are fixed per event type.
func (r *Room) publish(events []engine.Event) {
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtTurnAssigned:
			r.stopCaptainTimer()
			r.unicast(ev.PlayerID, types.ServerMessage{
				Type:     types.MsgYourTurn,
				RoomCode: r.code,
				Role:     string(ev.Role),
				Team:     string(ev.Team),
			})
			r.watchAbsent(ev.PlayerID)

		case engine.EvtDeliveryResolved:
			r.broadcast(types.ServerMessage{
				Type:    types.MsgTurnResult,
				Message: deliveryMessage(ev),
				Team:    string(ev.Team),
				Delivery: &types.Delivery{
					BatterID:   ev.Batter,
					BowlerID:   ev.Bowler,
					BatterCall: ev.BatCall,
					BowlerCall: ev.BowlCall,
					Runs:       ev.Runs,
					Wicket:     ev.Wicket,
					Team:       string(ev.Team),
					Score:      ev.Score,
					Wickets:    ev.Wickets,
					Balls:      ev.Balls,
				},
			})

		case engine.EvtSelectionRequested:
			r.unicast(ev.PlayerID, selectionRequest(ev.Role, ev.Options))
			r.armCaptainTimer()

		case engine.EvtSelectionTimedOut:
			r.broadcast(types.ServerMessage{
				Type:     types.MsgSelectionTimedOut,
				PlayerID: ev.PlayerID,
				Role:     string(ev.Role),
				Team:     string(ev.Team),
				Message: fmt.Sprintf("Team %s captain ran out of time, %s picked as next %s",
					ev.Team, r.nameOf(ev.PlayerID), roleNoun(ev.Role)),
			})

		case engine.EvtInningsEnded:
			r.broadcast(types.ServerMessage{
				Type:    types.MsgEndInnings,
				Message: fmt.Sprintf("End of 1st innings. Target: %d", ev.Target),
				Target:  ev.Target,
				Score:   r.scoreboard(),
			})

		case engine.EvtMatchCompleted:
			r.phase = PhaseFinished
			r.stopTimers()
			r.logger.Info("game over",
				zap.String("winner", string(ev.Winner)),
				zap.Bool("tie", ev.Tie),
				zap.Bool("forfeit", ev.Forfeit),
			)
			r.broadcast(types.ServerMessage{
				Type:    types.MsgGameOver,
				Message: resultMessage(ev),
				Team:    string(ev.Winner),
				Score:   r.scoreboard(),
			})
		}
	}
}

// watchAbsent starts the disconnect grace for a player handed a role while offline.
func (r *Room) watchAbsent(playerID string) {
	m := r.byID[playerID]
	if m == nil || m.outbox != nil || r.phase != PhaseActive {
		return
	}
	if _, running := r.grace[playerID]; !running {
		r.startGrace(playerID)
	}
}

func selectionRequest(role engine.Role, options []engine.Player) types.ServerMessage {
	msgType := types.MsgNextBatter
	if role == engine.RoleBowl {
		msgType = types.MsgNextBowler
	}
	out := make([]types.PlayerSummary, 0, len(options))
	for _, p := range options {
		out = append(out, types.PlayerSummary{ID: p.ID, Name: p.Name})
	}
	return types.ServerMessage{Type: msgType, Role: string(role), Options: out}
}

func deliveryMessage(ev engine.Event) string {
	if ev.Wicket {
		return fmt.Sprintf("OUT! Batter: %d, Bowler: %d", ev.BatCall, ev.BowlCall)
	}
	return fmt.Sprintf("Runs: %d (Batter: %d, Bowler: %d)", ev.Runs, ev.BatCall, ev.BowlCall)
}

func resultMessage(ev engine.Event) string {
	switch {
	case ev.Forfeit:
		return fmt.Sprintf("Team %s wins! Team %s forfeited.", ev.Winner, ev.Team)
	case ev.Tie:
		return "Match Tied!"
	default:
		return fmt.Sprintf("Team %s wins!", ev.Winner)
	}
}

func roleNoun(role engine.Role) string {
	if role == engine.RoleBowl {
		return "bowler"
	}
	return "batter"
}

func (r *Room) nameOf(playerID string) string {
	if m := r.byID[playerID]; m != nil {
		return m.Name
	}
	return playerID
}

func (r *Room) summaries() []types.PlayerSummary {
	out := make([]types.PlayerSummary, 0, len(r.players))
	for _, m := range r.players {
		out = append(out, types.PlayerSummary{
			ID:        m.ID,
			Name:      m.Name,
			Team:      string(m.Team),
			Host:      m.ID == r.hostID,
			Connected: m.outbox != nil,
		})
	}
	return out
}

func (r *Room) scoreboard() *types.Scoreboard {
	if r.match == nil {
		return nil
	}
	s := r.match
	return &types.Scoreboard{
		Runs:    map[string]int{"A": s.Score[engine.TeamA], "B": s.Score[engine.TeamB]},
		Wickets: map[string]int{"A": s.Wickets[engine.TeamA], "B": s.Wickets[engine.TeamB]},
		Balls:   s.Balls,
		Innings: s.Innings,
		Target:  s.Target,
		Batting: string(s.Batting),
	}
}
