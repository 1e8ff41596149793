package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/handcricket-backend/internal/apperror"
	"github.com/DoyleJ11/handcricket-backend/internal/hub"
	"github.com/DoyleJ11/handcricket-backend/internal/room"
	"github.com/DoyleJ11/handcricket-backend/internal/types"
)

type Config struct {
	SendBuffer     int
	OriginPatterns []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
	Clock          clockwork.Clock
}

func (c Config) withDefaults() Config {
	if c.SendBuffer < 1 {
		c.SendBuffer = 32
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 4096
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// session is one websocket connection. The reader goroutine owns room and
// playerID; the writer goroutine only drains out.
type session struct {
	connID   string
	hub      *hub.Hub
	out      chan types.ServerMessage
	logger   *zap.Logger
	room     *room.Room
	playerID string
}

func Handler(h *hub.Hub, cfg Config, logger *zap.Logger) http.HandlerFunc {
	cfg = cfg.withDefaults()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: cfg.OriginPatterns,
		})
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(cfg.ReadLimit)

		connID := uuid.NewString()
		s := &session{
			connID: connID,
			hub:    h,
			out:    make(chan types.ServerMessage, cfg.SendBuffer),
			logger: logger.With(zap.String("conn", connID)),
		}
		s.logger.Debug("connection opened", zap.String("remote", r.RemoteAddr))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine
		go s.writeLoop(ctx, cancel, conn, cfg)

		s.readLoop(ctx, conn)
		s.detach()
		conn.Close(websocket.StatusNormalClosure, "bye")
		s.logger.Debug("connection closed")
	}
}

func (s *session) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, cfg Config) {
	defer cancel()

	ping := cfg.Clock.NewTicker(cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-s.out:
			payload, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("encode message", zap.String("type", msg.Type), zap.Error(err))
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, cfg.WriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, payload)
			wcancel()
			if err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				return
			}

		case <-ping.Chan():
			pctx, pcancel := context.WithTimeout(ctx, cfg.WriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Treat clean close/going-away as normal
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					s.logger.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		cm, err := types.ParseClientMessage(data)
		if err != nil {
			s.logger.Warn("dropping message",
				zap.Error(fmt.Errorf("%w: %v", apperror.ErrMalformedMessage, err)),
				zap.Int("bytes", len(data)),
			)
			continue
		}
		s.dispatch(ctx, cm)
	}
}

func (s *session) dispatch(ctx context.Context, cm types.ClientMessage) {
	switch cm.Type {
	case types.MsgCreateRoom:
		s.createRoom(ctx, cm)
	case types.MsgJoinRoom:
		s.joinRoom(ctx, cm)
	case types.MsgRejoin:
		s.rejoin(ctx, cm)
	case types.MsgStartGame, types.MsgTurnChoice, types.MsgNextBatter, types.MsgNextBowler, types.MsgChat:
		s.forward(ctx, cm)
	default:
		s.logger.Debug("ignoring unknown message type", zap.String("type", cm.Type))
	}
}

func (s *session) createRoom(ctx context.Context, cm types.ClientMessage) {
	if strings.TrimSpace(cm.Name) == "" {
		s.sendError(fmt.Errorf("name is required: %w", apperror.ErrInvalidInput))
		return
	}

	rm, err := s.hub.CreateRoom(ctx, cm.GameMode, cm.Overs.Int())
	if err != nil {
		s.sendError(err)
		return
	}
	id, err := rm.Join(ctx, s.connID, cm.Name, s.out)
	if err != nil {
		if rerr := s.hub.RemoveRoom(ctx, rm.Code(), "Room creation failed"); rerr != nil {
			s.logger.Debug("remove unjoined room", zap.String("room", rm.Code()), zap.Error(rerr))
		}
		s.sendError(err)
		return
	}
	s.bind(rm, id)
}

func (s *session) joinRoom(ctx context.Context, cm types.ClientMessage) {
	rm, err := s.hub.GetRoom(ctx, cm.RoomCode)
	if err != nil {
		s.sendError(err)
		return
	}
	id, err := rm.Join(ctx, s.connID, cm.Name, s.out)
	if err != nil {
		s.sendError(err)
		return
	}
	s.bind(rm, id)
}

func (s *session) rejoin(ctx context.Context, cm types.ClientMessage) {
	rm, err := s.hub.GetRoom(ctx, cm.RoomCode)
	if err != nil {
		s.sendError(err)
		return
	}
	if err := rm.Rejoin(ctx, cm.PlayerID, s.connID, s.out); err != nil {
		s.sendError(err)
		return
	}
	s.bind(rm, cm.PlayerID)
}

// forward hands in-room messages to the bound room.
func (s *session) forward(ctx context.Context, cm types.ClientMessage) {
	silent := cm.Type == types.MsgTurnChoice

	if s.room == nil || (cm.RoomCode != "" && !strings.EqualFold(strings.TrimSpace(cm.RoomCode), s.room.Code())) {
		if !silent {
			s.sendError(fmt.Errorf("room %q: %w", cm.RoomCode, apperror.ErrRoomNotFound))
		}
		return
	}

	if err := s.room.Send(ctx, room.FromClient{PlayerID: s.playerID, Msg: cm}); err != nil {
		s.room, s.playerID = nil, ""
		if !silent {
			s.sendError(err)
		}
	}
}

func (s *session) bind(rm *room.Room, playerID string) {
	if s.room != rm || s.playerID != playerID {
		s.detach()
	}
	s.room, s.playerID = rm, playerID
	s.logger.Info("bound to room", zap.String("room", rm.Code()), zap.String("player", playerID))
}

// detach tells the current room this connection is gone.
func (s *session) detach() {
	if s.room == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.room.Send(ctx, room.Leave{PlayerID: s.playerID, ConnID: s.connID}); err != nil {
		s.logger.Debug("leave not delivered", zap.Error(err))
	}
	s.room, s.playerID = nil, ""
}

func (s *session) sendError(err error) {
	s.logger.Debug("request rejected", zap.String("code", apperror.Code(err)), zap.Error(err))
	select {
	case s.out <- room.ErrorMessage(err):
	default:
		s.logger.Warn("outbox full, dropping error", zap.Error(err))
	}
}

// OriginPatterns turns CORS style origins into host patterns for the
// websocket origin check.
func OriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		out = append(out, o)
	}
	return out
}
