package game

import (
	"time"

	"github.com/wfunc/mahjongserver/tile"
)

// ActionKind names an entry in the activity log.
type ActionKind string

const (
	ActionDraw       ActionKind = "DRAW"
	ActionDiscard    ActionKind = "DISCARD"
	ActionTake       ActionKind = "TAKE"
	ActionReveal     ActionKind = "REVEAL"
	ActionHide       ActionKind = "HIDE"
	ActionClaimWin   ActionKind = "CLAIM_WIN"
	ActionConfirmWin ActionKind = "CONFIRM_WIN"
	ActionDenyWin    ActionKind = "DENY_WIN"
)

// Action is an append-only log entry for the recent activity feed. It is
// never replayed.
type Action struct {
	Player    string      `json:"player"`
	Kind      ActionKind  `json:"kind"`
	Tiles     []tile.Tile `json:"tiles,omitempty"`
	TileIDs   []int       `json:"tileIds,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
