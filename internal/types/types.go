package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Inbound message types.
const (
	MsgCreateRoom = "createRoom"
	MsgJoinRoom   = "joinRoom"
	MsgRejoin     = "rejoin"
	MsgStartGame  = "startGame"
	MsgTurnChoice = "turnChoice"
	MsgNextBatter = "nextBatter"
	MsgNextBowler = "nextBowler"
	MsgChat       = "chat"
)

// Outbound message types not shared with inbound ones.
const (
	MsgRoomCreated        = "roomCreated"
	MsgJoinedRoom         = "joinedRoom"
	MsgRejoined           = "rejoined"
	MsgUpdatePlayers      = "updatePlayers"
	MsgToss               = "toss"
	MsgYourTurn           = "yourTurn"
	MsgTurnResult         = "turnResult"
	MsgEndInnings         = "endInnings"
	MsgGameOver           = "gameOver"
	MsgSelectionTimedOut  = "selectionTimedOut"
	MsgPlayerDisconnected = "playerDisconnected"
	MsgPlayerReconnected  = "playerReconnected"
	MsgRoomClosed         = "roomClosed"
	MsgError              = "error"
)

type ClientMessage struct {
	Type       string  `json:"type"`
	RoomCode   string  `json:"roomCode,omitempty"`
	PlayerID   string  `json:"playerId,omitempty"`
	Name       string  `json:"name,omitempty"`
	GameMode   string  `json:"gameMode,omitempty"`
	Overs      FlexInt `json:"overs,omitempty"`
	CaptainA   string  `json:"captainA,omitempty"`
	CaptainB   string  `json:"captainB,omitempty"`
	Number     FlexInt `json:"number,omitempty"`
	SelectedID string  `json:"selectedId,omitempty"`
	Message    string  `json:"message,omitempty"`
}

type ServerMessage struct {
	Type     string          `json:"type"`
	RoomCode string          `json:"roomCode,omitempty"`
	PlayerID string          `json:"playerId,omitempty"`
	Players  []PlayerSummary `json:"players,omitempty"`
	Message  string          `json:"message,omitempty"`
	Code     string          `json:"code,omitempty"` // error code
	Role     string          `json:"role,omitempty"`
	Team     string          `json:"team,omitempty"`
	Options  []PlayerSummary `json:"options,omitempty"`
	Target   int             `json:"target,omitempty"`
	Delivery *Delivery       `json:"delivery,omitempty"`
	Score    *Scoreboard     `json:"score,omitempty"`
}

type PlayerSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Team      string `json:"team,omitempty"`
	Host      bool   `json:"host,omitempty"`
	Connected bool   `json:"connected,omitempty"`
}

type Delivery struct {
	BatterID   string `json:"batterId"`
	BowlerID   string `json:"bowlerId"`
	BatterCall int    `json:"batterCall"`
	BowlerCall int    `json:"bowlerCall"`
	Runs       int    `json:"runs"`
	Wicket     bool   `json:"wicket"`

	// Batting side after the ball.
	Team    string `json:"team"`
	Score   int    `json:"score"`
	Wickets int    `json:"wickets"`
	Balls   int    `json:"balls"`
}

type Scoreboard struct {
	Runs    map[string]int `json:"runs"`
	Wickets map[string]int `json:"wickets"`
	Balls   int            `json:"balls"`
	Innings int            `json:"innings"`
	Target  int            `json:"target,omitempty"`
	Batting string         `json:"batting"`
}

// FlexInt accepts a JSON number or a numeric string. Browser forms tend to
// send "5" where a number is meant.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("flexint %q: %w", s, err)
		}
		*f = FlexInt(n)
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

func (f FlexInt) Int() int { return int(f) }

// ParseClientMessage decodes one inbound frame.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var cm ClientMessage
	if err := json.Unmarshal(data, &cm); err != nil {
		return ClientMessage{}, err
	}
	if cm.Type == "" {
		return ClientMessage{}, fmt.Errorf("missing type")
	}
	return cm, nil
}
