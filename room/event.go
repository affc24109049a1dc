package room

import (
	"time"

	"github.com/wfunc/mahjongserver/game"
	"github.com/wfunc/mahjongserver/network"
	"github.com/wfunc/mahjongserver/tile"
)

// Event is one outbound message produced by a room operation, addressed to
// an explicit list of users.
type Event struct {
	Kind       network.Kind
	Payload    any
	Recipients []string
}

// Outcome is what a successful operation hands back to the router: the
// events to push, in order, followed by one freshly projected view per
// recipient. Both are computed under the room lock; pushing happens after.
type Outcome struct {
	Events  []Event
	Views   map[string]game.View
	Started bool
	Ended   bool
	Winner  string
	Closed  bool // the room emptied and should leave the registry
}

func (o *Outcome) emit(kind network.Kind, payload any, recipients []string) {
	o.Events = append(o.Events, Event{Kind: kind, Payload: payload, Recipients: recipients})
}

// ActionEvent echoes a successful mutating operation.
type ActionEvent struct {
	Action         game.ActionKind `json:"action"`
	Player         string          `json:"player"`
	Tile           *tile.Tile      `json:"tile,omitempty"`
	Tiles          []tile.Tile     `json:"tiles,omitempty"`
	TileIDs        []int           `json:"tileIds,omitempty"`
	RemainingTiles int             `json:"remainingTiles"`
}

type GameStartedEvent struct {
	RoomID      string         `json:"roomId"`
	Dealer      string         `json:"dealer"`
	PlayerCount int            `json:"playerCount"`
	Positions   map[string]int `json:"playerPositions"`
}

type WinClaimEvent struct {
	RoomID   string      `json:"roomId"`
	Claimant string      `json:"claimant"`
	Hand     []tile.Tile `json:"hand"`
	Revealed []tile.Tile `json:"revealedTiles"`
}

type WinDeniedEvent struct {
	RoomID   string `json:"roomId"`
	Denier   string `json:"denier"`
	Claimant string `json:"claimant"`
}

type GameEndEvent struct {
	RoomID string `json:"roomId"`
	Winner string `json:"winner,omitempty"`
	IsDraw bool   `json:"isDraw"`
}

// StateUpdate is the ROOM_STATE_UPDATE body.
type StateUpdate struct {
	RoomID       string    `json:"roomId"`
	Status       string    `json:"status"`
	PlayerCount  int       `json:"playerCount"`
	CreationTime time.Time `json:"creationTime"`
	IsExpired    bool      `json:"isExpired"`
}

// Info describes a room for listings and details.
type Info struct {
	StateUpdate
	Creator    string    `json:"creator"`
	Players    []string  `json:"players"`
	MaxPlayers int       `json:"maxPlayers"`
	Password   string    `json:"password,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
