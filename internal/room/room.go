package room

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/handcricket-backend/internal/apperror"
	"github.com/DoyleJ11/handcricket-backend/internal/engine"
	"github.com/DoyleJ11/handcricket-backend/internal/types"
)

const (
	maxNameLen = 32
	maxChatLen = 500
)

type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

type Msg interface{ isRoomMsg() }

// Join adds a new player. The first player to join becomes the host.
type Join struct {
	ConnID string
	Name   string
	Outbox chan<- types.ServerMessage
	Reply  chan JoinResult
}

func (Join) isRoomMsg() {}

// Rejoin binds an existing player token to a new connection.
type Rejoin struct {
	PlayerID string
	ConnID   string
	Outbox   chan<- types.ServerMessage
	Reply    chan JoinResult
}

func (Rejoin) isRoomMsg() {}

type JoinResult struct {
	PlayerID string
	Err      error
}

// Leave is sent when a connection goes away. It is ignored if the player
// has already been rebound to a newer connection.
type Leave struct {
	PlayerID string
	ConnID   string
}

func (Leave) isRoomMsg() {}

type FromClient struct {
	PlayerID string
	Msg      types.ClientMessage
}

func (FromClient) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct {
	Reason string
}

func (Shutdown) isRoomMsg() {}

type captainTimeout struct{ gen int }

func (captainTimeout) isRoomMsg() {}

type graceExpired struct {
	playerID string
	gen      int
}

func (graceExpired) isRoomMsg() {}

type View struct {
	Code      string
	GameMode  string
	Overs     int
	Phase     Phase
	HostID    string
	Players   []types.PlayerSummary
	Captains  map[engine.Team]string
	LiveConns int
	Match     *engine.State
}

type Settings struct {
	CaptainTimeout  time.Duration
	DisconnectGrace time.Duration
}

type Options struct {
	Code     string
	GameMode string
	Overs    int
	Settings Settings
	Clock    clockwork.Clock
	Logger   *zap.Logger
	// Toss picks the batting team. Defaults to a fair coin.
	Toss func() engine.Team
}

type member struct {
	ID     string
	Name   string
	Team   engine.Team
	connID string
	outbox chan<- types.ServerMessage // nil while disconnected
}

type graceTimer struct {
	timer clockwork.Timer
	gen   int
}

type Room struct {
	code     string
	gameMode string
	overs    int
	settings Settings

	inbox    chan Msg
	phase    Phase
	hostID   string
	players  []*member
	byID     map[string]*member
	captains map[engine.Team]string
	match    *engine.State

	clock  clockwork.Clock
	logger *zap.Logger
	toss   func() engine.Team

	captainTimer clockwork.Timer
	captainGen   int
	grace        map[string]*graceTimer
	graceGen     int

	lastActivity atomic.Int64
	liveConns    atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRoom(parent context.Context, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Toss == nil {
		opts.Toss = coinToss
	}

	r := &Room{
		code:     opts.Code,
		gameMode: opts.GameMode,
		overs:    opts.Overs,
		settings: opts.Settings,
		inbox:    make(chan Msg, 64),
		phase:    PhaseLobby,
		byID:     make(map[string]*member),
		captains: make(map[engine.Team]string),
		clock:    opts.Clock,
		logger:   opts.Logger.With(zap.String("room", opts.Code)),
		toss:     opts.Toss,
		grace:    make(map[string]*graceTimer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.touch()

	go r.loop()
	return r
}

func coinToss() engine.Team {
	if rand.IntN(2) == 0 {
		return engine.TeamA
	}
	return engine.TeamB
}

func (r *Room) loop() {
	defer close(r.done)

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown("server shutting down")
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.touch()
				id, err := r.join(msg)
				msg.Reply <- JoinResult{PlayerID: id, Err: err}

			case Rejoin:
				r.touch()
				err := r.rejoin(msg)
				msg.Reply <- JoinResult{PlayerID: msg.PlayerID, Err: err}

			case Leave:
				r.touch()
				r.leave(msg)

			case FromClient:
				r.touch()
				r.handleClient(msg)

			case captainTimeout:
				r.onCaptainTimeout(msg)

			case graceExpired:
				r.onGraceExpired(msg)

			case GetState:
				msg.Reply <- r.view()

			case Shutdown:
				r.shutdown(msg.Reason)
				return
			}
		}
	}
}

func (r *Room) join(msg Join) (string, error) {
	name, err := cleanName(msg.Name)
	if err != nil {
		return "", err
	}
	if r.phase != PhaseLobby {
		return "", fmt.Errorf("join %s: %w", r.code, apperror.ErrRoomLocked)
	}

	m := &member{ID: uuid.NewString(), Name: name, connID: msg.ConnID, outbox: msg.Outbox}
	r.players = append(r.players, m)
	r.byID[m.ID] = m
	r.liveConns.Add(1)

	if len(r.players) == 1 {
		r.hostID = m.ID
		r.logger.Info("room created", zap.String("host", m.ID))
		r.unicast(m.ID, types.ServerMessage{
			Type:     types.MsgRoomCreated,
			RoomCode: r.code,
			PlayerID: m.ID,
			Players:  r.summaries(),
		})
		return m.ID, nil
	}

	r.logger.Info("player joined", zap.String("player", m.ID), zap.Int("players", len(r.players)))
	r.unicast(m.ID, types.ServerMessage{
		Type:     types.MsgJoinedRoom,
		RoomCode: r.code,
		PlayerID: m.ID,
		Players:  r.summaries(),
	})
	r.broadcast(types.ServerMessage{Type: types.MsgUpdatePlayers, Players: r.summaries()})
	return m.ID, nil
}

func (r *Room) rejoin(msg Rejoin) error {
	m := r.byID[msg.PlayerID]
	if m == nil {
		return fmt.Errorf("unknown player %q: %w", msg.PlayerID, apperror.ErrInvalidInput)
	}

	if m.outbox == nil {
		r.liveConns.Add(1)
	}
	m.connID, m.outbox = msg.ConnID, msg.Outbox
	r.stopGrace(m.ID)

	r.logger.Info("player reconnected", zap.String("player", m.ID))
	r.unicast(m.ID, types.ServerMessage{
		Type:     types.MsgRejoined,
		RoomCode: r.code,
		PlayerID: m.ID,
		Players:  r.summaries(),
		Score:    r.scoreboard(),
	})
	r.broadcast(types.ServerMessage{
		Type:     types.MsgPlayerReconnected,
		PlayerID: m.ID,
		Message:  m.Name + " reconnected",
	})
	r.resume(m)
	return nil
}

func (r *Room) leave(msg Leave) {
	m := r.byID[msg.PlayerID]
	if m == nil || m.outbox == nil || m.connID != msg.ConnID {
		return
	}

	m.connID, m.outbox = "", nil
	r.liveConns.Add(-1)
	r.logger.Info("player disconnected", zap.String("player", m.ID))

	r.broadcast(types.ServerMessage{
		Type:     types.MsgPlayerDisconnected,
		PlayerID: m.ID,
		Message:  m.Name + " disconnected",
	})
	if r.phase == PhaseLobby {
		r.broadcast(types.ServerMessage{Type: types.MsgUpdatePlayers, Players: r.summaries()})
	}
	if r.phase == PhaseActive {
		r.startGrace(m.ID)
	}
}

func (r *Room) handleClient(msg FromClient) {
	m := r.byID[msg.PlayerID]
	if m == nil {
		return
	}
	cm := msg.Msg

	switch cm.Type {
	case types.MsgStartGame:
		if err := r.startGame(m.ID, cm.CaptainA, cm.CaptainB); err != nil {
			r.logger.Debug("start rejected", zap.String("player", m.ID), zap.Error(err))
			r.sendError(m.ID, err)
		}

	case types.MsgTurnChoice:
		err := r.applyMatch(engine.Command{Type: engine.CmdCall, PlayerID: m.ID, Number: cm.Number.Int()})
		if err != nil {
			// Stray or out of range calls are dropped without a reply.
			r.logger.Debug("call discarded", zap.String("player", m.ID), zap.Error(err))
		}

	case types.MsgNextBatter, types.MsgNextBowler:
		role := engine.RoleBat
		if cm.Type == types.MsgNextBowler {
			role = engine.RoleBowl
		}
		err := r.applyMatch(engine.Command{Type: engine.CmdSelect, PlayerID: m.ID, Role: role, SelectedID: cm.SelectedID})
		if err != nil {
			r.sendError(m.ID, fmt.Errorf("%v: %w", err, apperror.ErrInvalidInput))
		}

	case types.MsgChat:
		text := strings.TrimSpace(cm.Message)
		if text == "" {
			return
		}
		if utf8.RuneCountInString(text) > maxChatLen {
			r.sendError(m.ID, fmt.Errorf("message longer than %d characters: %w", maxChatLen, apperror.ErrInvalidInput))
			return
		}
		r.broadcast(types.ServerMessage{
			Type:     types.MsgChat,
			PlayerID: m.ID,
			Message:  fmt.Sprintf("💬 %s: %s", m.Name, text),
		})
	}
}

func (r *Room) startGame(callerID, captainA, captainB string) error {
	if callerID != r.hostID {
		return fmt.Errorf("start %s by %s: %w", r.code, callerID, apperror.ErrNotAuthorized)
	}
	if r.phase != PhaseLobby {
		return fmt.Errorf("start %s: %w", r.code, apperror.ErrRoomLocked)
	}
	if r.byID[captainA] == nil || r.byID[captainB] == nil {
		return fmt.Errorf("captains must be players in the room: %w", apperror.ErrInvalidInput)
	}

	// Alternate by join order: even positions play for A. Captains are
	// taken as given and may end up leading the other side's roster.
	teams := make(map[string]engine.Team, len(r.players))
	rosters := map[engine.Team][]engine.Player{}
	for i, m := range r.players {
		team := engine.TeamA
		if i%2 == 1 {
			team = engine.TeamB
		}
		teams[m.ID] = team
		rosters[team] = append(rosters[team], engine.Player{ID: m.ID, Name: m.Name})
	}
	if len(rosters[engine.TeamB]) == 0 {
		return fmt.Errorf("need at least 2 players to start: %w", apperror.ErrInvalidInput)
	}

	captains := map[engine.Team]string{engine.TeamA: captainA, engine.TeamB: captainB}
	batting := r.toss()
	state, events, err := engine.NewMatch(rosters, captains, engine.Rules{Overs: r.overs}, batting)
	if err != nil {
		return fmt.Errorf("%v: %w", err, apperror.ErrInvalidInput)
	}

	for _, m := range r.players {
		m.Team = teams[m.ID]
	}
	r.captains = captains
	r.phase = PhaseActive
	r.match = &state

	r.logger.Info("game started",
		zap.Int("players", len(r.players)),
		zap.String("batting", string(batting)),
		zap.Int("overs", r.overs),
	)
	r.broadcast(types.ServerMessage{Type: types.MsgStartGame, Players: r.summaries()})
	r.broadcast(types.ServerMessage{
		Type:    types.MsgToss,
		Team:    string(batting),
		Message: fmt.Sprintf("Team %s won the toss and chose to bat first.", batting),
	})
	r.publish(events)

	// Anyone already offline at the start gets the same grace as a drop mid-game.
	for _, m := range r.players {
		if m.outbox == nil {
			r.startGrace(m.ID)
		}
	}
	return nil
}

// applyMatch runs cmd through the engine and publishes the events.
func (r *Room) applyMatch(cmd engine.Command) error {
	if r.match == nil {
		return fmt.Errorf("no match in progress: %w", engine.ErrNotYourTurn)
	}

	events, next, err := engine.Apply(*r.match, cmd)
	if err != nil {
		return err
	}
	r.match = &next
	r.publish(events)
	return nil
}

// resume repeats any prompt a reconnecting player missed.
func (r *Room) resume(m *member) {
	if r.phase != PhaseActive || r.match == nil {
		return
	}
	s := r.match

	switch s.Phase {
	case engine.PhaseDelivery:
		role, ok := s.RoleOf(m.ID)
		if !ok {
			return
		}
		if (role == engine.RoleBat && s.PendingBat == 0) || (role == engine.RoleBowl && s.PendingBowl == 0) {
			r.unicast(m.ID, types.ServerMessage{Type: types.MsgYourTurn, Role: string(role), RoomCode: r.code})
		}

	case engine.PhaseSelecting:
		if s.Captains[s.SelectingTeam()] == m.ID {
			r.unicast(m.ID, selectionRequest(s.Awaiting, s.Options))
		}
	}
}

func (r *Room) armCaptainTimer() {
	r.stopCaptainTimer()
	if r.settings.CaptainTimeout <= 0 {
		return
	}
	gen := r.captainGen
	r.captainTimer = r.clock.AfterFunc(r.settings.CaptainTimeout, func() {
		r.post(captainTimeout{gen: gen})
	})
}

// stopCaptainTimer also bumps the generation so a fire already queued in
// the inbox is recognised as stale.
func (r *Room) stopCaptainTimer() {
	if r.captainTimer != nil {
		r.captainTimer.Stop()
		r.captainTimer = nil
	}
	r.captainGen++
}

func (r *Room) onCaptainTimeout(msg captainTimeout) {
	if msg.gen != r.captainGen {
		return
	}
	r.captainTimer = nil
	r.touch()

	if err := r.applyMatch(engine.Command{Type: engine.CmdSelectTimeout}); err != nil {
		r.logger.Debug("captain timeout ignored", zap.Error(err))
	}
}

func (r *Room) startGrace(playerID string) {
	r.stopGrace(playerID)
	if r.settings.DisconnectGrace <= 0 {
		return
	}
	r.graceGen++
	gen := r.graceGen
	t := r.clock.AfterFunc(r.settings.DisconnectGrace, func() {
		r.post(graceExpired{playerID: playerID, gen: gen})
	})
	r.grace[playerID] = &graceTimer{timer: t, gen: gen}
}

func (r *Room) stopGrace(playerID string) {
	if g := r.grace[playerID]; g != nil {
		g.timer.Stop()
		delete(r.grace, playerID)
	}
}

func (r *Room) onGraceExpired(msg graceExpired) {
	g := r.grace[msg.playerID]
	if g == nil || g.gen != msg.gen {
		return
	}
	delete(r.grace, msg.playerID)

	m := r.byID[msg.playerID]
	if m == nil || m.outbox != nil || r.phase != PhaseActive || r.match == nil {
		return
	}
	if _, ok := r.match.RoleOf(m.ID); !ok {
		return
	}

	team, _ := r.match.TeamOf(m.ID)
	r.logger.Info("player did not return, forfeiting", zap.String("player", m.ID), zap.String("team", string(team)))
	r.touch()
	if err := r.applyMatch(engine.Command{Type: engine.CmdForfeit, Team: team}); err != nil {
		r.logger.Warn("forfeit failed", zap.Error(err))
	}
}

func (r *Room) stopTimers() {
	r.stopCaptainTimer()
	for id := range r.grace {
		r.stopGrace(id)
	}
}

func (r *Room) shutdown(reason string) {
	r.stopTimers()
	r.broadcast(types.ServerMessage{Type: types.MsgRoomClosed, RoomCode: r.code, Message: reason})
	r.logger.Info("room closed", zap.String("reason", reason))
	r.cancel()
}

// post is used by timer callbacks, which run on their own goroutines.
func (r *Room) post(m Msg) {
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
	}
}

func (r *Room) touch() {
	r.lastActivity.Store(r.clock.Now().UnixNano())
}

func (r *Room) view() View {
	v := View{
		Code:      r.code,
		GameMode:  r.gameMode,
		Overs:     r.overs,
		Phase:     r.phase,
		HostID:    r.hostID,
		Players:   r.summaries(),
		Captains:  make(map[engine.Team]string, len(r.captains)),
		LiveConns: int(r.liveConns.Load()),
	}
	for k, id := range r.captains {
		v.Captains[k] = id
	}
	if r.match != nil {
		s := r.match.Clone()
		v.Match = &s
	}
	return v
}

func cleanName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("name is required: %w", apperror.ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", fmt.Errorf("name longer than %d characters: %w", maxNameLen, apperror.ErrInvalidInput)
	}
	return name, nil
}

// Inbox exposes the room's mailbox to the transport and tests.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) Code() string { return r.code }

func (r *Room) Done() <-chan struct{} { return r.done }

// LastActivity is safe to call from any goroutine.
func (r *Room) LastActivity() time.Time {
	return time.Unix(0, r.lastActivity.Load())
}

func (r *Room) LiveConns() int { return int(r.liveConns.Load()) }

// Send queues m unless the room has closed.
func (r *Room) Send(ctx context.Context, m Msg) error {
	// A closed room's inbox may still have room; never queue into it.
	if r.ctx.Err() != nil {
		return fmt.Errorf("room %s closed: %w", r.code, apperror.ErrRoomNotFound)
	}
	select {
	case r.inbox <- m:
		return nil
	case <-r.ctx.Done():
		return fmt.Errorf("room %s closed: %w", r.code, apperror.ErrRoomNotFound)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) Join(ctx context.Context, connID, name string, outbox chan<- types.ServerMessage) (string, error) {
	reply := make(chan JoinResult, 1)
	if err := r.Send(ctx, Join{ConnID: connID, Name: name, Outbox: outbox, Reply: reply}); err != nil {
		return "", err
	}
	return r.awaitJoin(ctx, reply)
}

func (r *Room) Rejoin(ctx context.Context, playerID, connID string, outbox chan<- types.ServerMessage) error {
	reply := make(chan JoinResult, 1)
	if err := r.Send(ctx, Rejoin{PlayerID: playerID, ConnID: connID, Outbox: outbox, Reply: reply}); err != nil {
		return err
	}
	_, err := r.awaitJoin(ctx, reply)
	return err
}

func (r *Room) awaitJoin(ctx context.Context, reply <-chan JoinResult) (string, error) {
	select {
	case res := <-reply:
		return res.PlayerID, res.Err
	case <-r.done:
		return "", fmt.Errorf("room %s closed: %w", r.code, apperror.ErrRoomNotFound)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return View{}, fmt.Errorf("room %s closed: %w", r.code, apperror.ErrRoomNotFound)
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Close asks the room to shut down. It never blocks.
func (r *Room) Close(reason string) {
	select {
	case r.inbox <- Shutdown{Reason: reason}:
	default:
		r.cancel()
	}
}
