package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/handcricket-backend/internal/apperror"
	"github.com/DoyleJ11/handcricket-backend/internal/engine"
	"github.com/DoyleJ11/handcricket-backend/internal/room"
)

const (
	codeCharset  = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength   = 5
	codeAttempts = 10
)

var ErrHubClosed = errors.New("hub is shut down")

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	GameMode string
	Overs    int
	Reply    chan CreateResult
}

type CreateResult struct {
	Room *room.Room
	Err  error
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

type RemoveRoom struct {
	Code   string
	Reason string
}

type CountRooms struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (CountRooms) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Config struct {
	MinOvers int
	MaxOvers int
	Room     room.Settings

	// Rooms with no activity for IdleTTL are closed. Rooms with no live
	// connections are closed sooner, after EmptyTTL.
	IdleTTL       time.Duration
	EmptyTTL      time.Duration
	SweepInterval time.Duration
}

type Option func(*Hub)

func WithClock(c clockwork.Clock) Option { return func(h *Hub) { h.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(h *Hub) { h.logger = l } }

// WithCodeGenerator replaces the random room code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(h *Hub) { h.newCode = gen }
}

// WithToss fixes the coin toss for every room the hub creates.
func WithToss(toss func() engine.Team) Option { return func(h *Hub) { h.toss = toss } }

type Hub struct {
	inbox   chan HubMsg
	rooms   map[string]*room.Room
	closing []*room.Room // evicted, possibly still draining
	cfg     Config
	clock   clockwork.Clock
	logger  *zap.Logger
	newCode func() (string, error)
	toss    func() engine.Team
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, cfg Config, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		rooms:   make(map[string]*room.Room),
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
		newCode: GenerateCode,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cfg.SweepInterval <= 0 {
		h.cfg.SweepInterval = time.Minute
	}
	h.logger = h.logger.Named("hub")

	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)

	ticker := h.clock.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll("server shutting down")
			return

		case <-ticker.Chan():
			h.sweep()

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				r, err := h.create(msg)
				msg.Reply <- CreateResult{Room: r, Err: err}

			case GetRoom:
				msg.Reply <- h.rooms[normalizeCode(msg.Code)] // May be nil

			case RemoveRoom:
				code := normalizeCode(msg.Code)
				if r := h.rooms[code]; r != nil {
					h.evict(code, r, msg.Reason)
				}

			case CountRooms:
				msg.Reply <- len(h.rooms)

			case ShutdownHub:
				h.closeAll("server shutting down")
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) create(msg CreateRoom) (*room.Room, error) {
	if msg.Overs < h.cfg.MinOvers || msg.Overs > h.cfg.MaxOvers {
		return nil, fmt.Errorf("overs must be between %d and %d: %w", h.cfg.MinOvers, h.cfg.MaxOvers, apperror.ErrInvalidInput)
	}

	var code string
	for attempt := 0; attempt < codeAttempts; attempt++ {
		c, err := h.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		if _, taken := h.rooms[c]; !taken {
			code = c
			break
		}
		h.logger.Debug("collision on code, regenerating", zap.String("code", c))
	}
	if code == "" {
		return nil, apperror.ErrRoomCodeExhausted
	}

	r := room.NewRoom(h.ctx, room.Options{
		Code:     code,
		GameMode: msg.GameMode,
		Overs:    msg.Overs,
		Settings: h.cfg.Room,
		Clock:    h.clock,
		Logger:   h.logger.Named("room"),
		Toss:     h.toss,
	})
	h.rooms[code] = r
	return r, nil
}

func (h *Hub) sweep() {
	h.closing = slices.DeleteFunc(h.closing, func(r *room.Room) bool {
		select {
		case <-r.Done():
			return true
		default:
			return false
		}
	})

	now := h.clock.Now()
	for code, r := range h.rooms {
		select {
		case <-r.Done():
			delete(h.rooms, code)
			continue
		default:
		}

		idle := now.Sub(r.LastActivity())
		var reason string
		switch {
		case h.cfg.IdleTTL > 0 && idle >= h.cfg.IdleTTL:
			reason = "Room closed after inactivity"
		case h.cfg.EmptyTTL > 0 && r.LiveConns() == 0 && idle >= h.cfg.EmptyTTL:
			reason = "Room closed, everyone left"
		default:
			continue
		}

		h.logger.Info("evicting room", zap.String("code", code), zap.Duration("idle", idle), zap.String("reason", reason))
		h.evict(code, r, reason)
	}
}

func (h *Hub) evict(code string, r *room.Room, reason string) {
	r.Close(reason)
	delete(h.rooms, code)
	h.closing = append(h.closing, r)
}

// closeAll closes every room and waits for their loops to exit.
func (h *Hub) closeAll(reason string) {
	for code, r := range h.rooms {
		h.evict(code, r, reason)
	}
	for _, r := range h.closing {
		<-r.Done()
	}
	h.closing = nil
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateRoom allocates a room with a fresh code. The caller joins it as host.
func (h *Hub) CreateRoom(ctx context.Context, gameMode string, overs int) (*room.Room, error) {
	reply := make(chan CreateResult, 1)
	if err := h.send(ctx, CreateRoom{GameMode: gameMode, Overs: overs, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.Room, res.Err
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetRoom returns apperror.ErrRoomNotFound for unknown codes.
func (h *Hub) GetRoom(ctx context.Context, code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, GetRoom{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		if r == nil {
			return nil, fmt.Errorf("room %q: %w", code, apperror.ErrRoomNotFound)
		}
		return r, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) RemoveRoom(ctx context.Context, code, reason string) error {
	return h.send(ctx, RemoveRoom{Code: code, Reason: reason})
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, CountRooms{Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.done:
		return 0, ErrHubClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Shutdown closes every room and waits for the hub loop to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	if err := h.send(ctx, ShutdownHub{}); err != nil && !errors.Is(err, ErrHubClosed) {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func GenerateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
