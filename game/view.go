package game

import (
	"encoding/json"
	"fmt"

	"github.com/wfunc/mahjongserver/tile"
)

// View is the game as seen by one player: only their own concealed hand is
// exposed, other hands are reduced to their size.
type View struct {
	RoomID         string                 `json:"roomId"`
	RoomStatus     string                 `json:"roomStatus,omitempty"`
	Status         string                 `json:"status"`
	RemainingTiles int                    `json:"remainingTiles"`
	Dealer         string                 `json:"dealer,omitempty"`
	Positions      map[string]int         `json:"playerPositions"`
	Hand           []tile.Tile            `json:"hand"`
	Revealed       map[string][]tile.Tile `json:"revealedTiles"`
	HandCounts     map[string]int         `json:"playerHandCounts"`
	Discards       []tile.Tile            `json:"discardPile"`
	RecentActions  []Action               `json:"recentActions"`
	PendingWinner  string                 `json:"pendingWinner,omitempty"`
	Confirmations  map[string]bool        `json:"winConfirmations,omitempty"`
	Winner         string                 `json:"winner,omitempty"`
	IsDraw         *bool                  `json:"isDraw,omitempty"`
	RequestID      json.RawMessage        `json:"requestId,omitempty"`
	// Seq orders the views of one room. A client keeps the view with the
	// highest Seq and drops any older one that arrives late.
	Seq uint64 `json:"seq"`
}

// ViewFor projects the game for user, copying everything it exposes.
func (g *Game) ViewFor(user string, recent int) View {
	v := View{
		RoomID:         g.RoomID,
		Status:         string(g.Status),
		RemainingTiles: len(g.DrawPile),
		Dealer:         g.Dealer,
		Positions:      make(map[string]int, len(g.Positions)),
		Hand:           append([]tile.Tile{}, g.Hands[user]...),
		Revealed:       make(map[string][]tile.Tile, len(g.Revealed)),
		HandCounts:     make(map[string]int, len(g.Hands)),
		Discards:       append([]tile.Tile{}, g.Discards...),
		RecentActions:  g.RecentActions(recent),
	}
	for p, pos := range g.Positions {
		v.Positions[p] = pos
	}
	for p, tiles := range g.Revealed {
		v.Revealed[p] = append([]tile.Tile{}, tiles...)
	}
	for p, hand := range g.Hands {
		v.HandCounts[p] = len(hand)
	}
	if g.Status == StatusFinished {
		draw := g.Winner == ""
		v.Winner = g.Winner
		v.IsDraw = &draw
	}
	return v
}

// WaitingView is the view of a room that has never dealt a game.
func WaitingView(roomID string) View {
	return View{
		RoomID:        roomID,
		RoomStatus:    "WAITING",
		Status:        "WAITING",
		Positions:     map[string]int{},
		Hand:          []tile.Tile{},
		Revealed:      map[string][]tile.Tile{},
		HandCounts:    map[string]int{},
		Discards:      []tile.Tile{},
		RecentActions: []Action{},
	}
}

// Audit checks that the draw pile, discards, hands and revealed sets together
// hold exactly the canonical deck.
func (g *Game) Audit() error {
	canonical := make(map[int]tile.Tile, tile.DeckSize)
	for _, t := range tile.BuildDeck() {
		canonical[t.ID] = t
	}
	seen := make(map[int]bool, tile.DeckSize)
	check := func(where string, tiles []tile.Tile) error {
		for _, t := range tiles {
			want, ok := canonical[t.ID]
			if !ok || want != t {
				return fmt.Errorf("%s holds unknown tile %v", where, t)
			}
			if seen[t.ID] {
				return fmt.Errorf("%s duplicates tile %v", where, t)
			}
			seen[t.ID] = true
		}
		return nil
	}

	if err := check("draw pile", g.DrawPile); err != nil {
		return err
	}
	if err := check("discard pile", g.Discards); err != nil {
		return err
	}
	for p, hand := range g.Hands {
		if err := check("hand of "+p, hand); err != nil {
			return err
		}
	}
	for p, rev := range g.Revealed {
		if err := check("revealed set of "+p, rev); err != nil {
			return err
		}
	}
	if len(seen) != tile.DeckSize {
		return fmt.Errorf("%d tiles accounted for, want %d", len(seen), tile.DeckSize)
	}
	return nil
}
