// Package game holds the tiles of one hand of play and the operations that
// move them between piles, hands and revealed sets. A Game is not safe for
// concurrent use; its owning room serializes access.
package game

import (
	"time"

	"github.com/wfunc/mahjongserver/apperr"
	"github.com/wfunc/mahjongserver/tile"
)

// Status 游戏状态
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
)

// Game is one playthrough from deal to finish.
type Game struct {
	RoomID    string
	Dealer    string
	Players   []string // seating order
	Positions map[string]int
	Hands     map[string][]tile.Tile
	Revealed  map[string][]tile.Tile
	Discards  []tile.Tile
	DrawPile  []tile.Tile
	Actions   []Action
	Status    Status
	Winner    string // empty when finished as a draw
	StartedAt time.Time
	EndedAt   time.Time

	now func() time.Time
}

// New deals a fresh game from deck. players is the seating order and dealer
// must be one of them.
func New(roomID string, players []string, dealer string, deck []tile.Tile, now func() time.Time) (*Game, error) {
	if len(players) < tile.MinPlayers {
		return nil, apperr.ErrNotEnoughPlayers
	}
	if now == nil {
		now = time.Now
	}

	dealerIndex := -1
	for i, p := range players {
		if p == dealer {
			dealerIndex = i
			break
		}
	}
	hands, rest := tile.Deal(deck, len(players), dealerIndex)
	if hands == nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "cannot deal %d tiles to %d players", len(deck), len(players))
	}

	g := &Game{
		RoomID:    roomID,
		Dealer:    dealer,
		Players:   append([]string(nil), players...),
		Positions: make(map[string]int, len(players)),
		Hands:     make(map[string][]tile.Tile, len(players)),
		Revealed:  make(map[string][]tile.Tile, len(players)),
		DrawPile:  rest,
		Status:    StatusInProgress,
		StartedAt: now(),
		now:       now,
	}
	for i, p := range players {
		g.Positions[p] = i
		g.Hands[p] = hands[i]
		g.Revealed[p] = []tile.Tile{}
	}
	return g, nil
}

// Seated reports whether user holds a seat in this game.
func (g *Game) Seated(user string) bool {
	_, ok := g.Positions[user]
	return ok
}

// InProgress reports whether tiles may still move.
func (g *Game) InProgress() bool {
	return g.Status == StatusInProgress
}

func (g *Game) checkActor(user string) error {
	if !g.InProgress() {
		return apperr.ErrNotInProgress
	}
	if !g.Seated(user) {
		return apperr.ErrNotInRoom
	}
	return nil
}

// Draw moves the head of the draw pile into user's hand. The caller ends the
// game when the pile is exhausted.
func (g *Game) Draw(user string) (tile.Tile, error) {
	if err := g.checkActor(user); err != nil {
		return tile.Tile{}, err
	}
	if len(g.DrawPile) == 0 {
		return tile.Tile{}, apperr.ErrDrawPileEmpty
	}
	t := g.DrawPile[0]
	g.DrawPile = g.DrawPile[1:]
	g.Hands[user] = append(g.Hands[user], t)
	g.record(user, ActionDraw, nil, nil)
	return t, nil
}

// Discard moves the tile with tileID from user's hand to the discard pile.
func (g *Game) Discard(user string, tileID int) (tile.Tile, error) {
	if err := g.checkActor(user); err != nil {
		return tile.Tile{}, err
	}
	hand := g.Hands[user]
	i := indexOf(hand, tileID)
	if i < 0 {
		return tile.Tile{}, apperr.Wrap(apperr.ErrTileNotInHand, "tile %d is not in your hand", tileID)
	}
	t := hand[i]
	g.Hands[user] = removeAt(hand, i)
	g.Discards = append(g.Discards, t)
	g.record(user, ActionDiscard, []tile.Tile{t}, nil)
	return t, nil
}

// Take moves the tile with tileID from the discard pile into user's hand.
// Any seated player may take any discarded tile.
func (g *Game) Take(user string, tileID int) (tile.Tile, error) {
	if err := g.checkActor(user); err != nil {
		return tile.Tile{}, err
	}
	i := indexOf(g.Discards, tileID)
	if i < 0 {
		return tile.Tile{}, apperr.Wrap(apperr.ErrTileNotInDiscards, "tile %d is not in the discard pile", tileID)
	}
	t := g.Discards[i]
	g.Discards = removeAt(g.Discards, i)
	g.Hands[user] = append(g.Hands[user], t)
	g.record(user, ActionTake, []tile.Tile{t}, nil)
	return t, nil
}

// Reveal moves the named tiles from user's hand to their revealed set.
// Either every id is found in the hand or nothing moves.
func (g *Game) Reveal(user string, tileIDs []int) ([]tile.Tile, error) {
	if err := g.checkActor(user); err != nil {
		return nil, err
	}
	moved, hand, ok := extract(g.Hands[user], tileIDs)
	if !ok {
		return nil, apperr.Wrap(apperr.ErrTileNotInHand, "tiles %v are not all in your hand", tileIDs)
	}
	g.Hands[user] = hand
	g.Revealed[user] = append(g.Revealed[user], moved...)
	g.record(user, ActionReveal, moved, nil)
	return moved, nil
}

// Hide moves the named tiles from user's revealed set back to their hand.
// Either every id is found in the revealed set or nothing moves.
func (g *Game) Hide(user string, tileIDs []int) ([]tile.Tile, error) {
	if err := g.checkActor(user); err != nil {
		return nil, err
	}
	moved, revealed, ok := extract(g.Revealed[user], tileIDs)
	if !ok {
		return nil, apperr.Wrap(apperr.ErrTileNotRevealed, "tiles %v are not all revealed", tileIDs)
	}
	g.Revealed[user] = revealed
	g.Hands[user] = append(g.Hands[user], moved...)
	g.record(user, ActionHide, nil, tileIDs)
	return moved, nil
}

// Finish ends the game. An empty winner records a draw.
func (g *Game) Finish(winner string) {
	g.Status = StatusFinished
	g.Winner = winner
	g.EndedAt = g.now()
}

// Log appends an action that does not move tiles (claims and votes).
func (g *Game) Log(user string, kind ActionKind) {
	g.record(user, kind, nil, nil)
}

func (g *Game) record(user string, kind ActionKind, tiles []tile.Tile, ids []int) {
	var idCopy []int
	if len(ids) > 0 {
		idCopy = append([]int(nil), ids...)
	}
	g.Actions = append(g.Actions, Action{
		Player:    user,
		Kind:      kind,
		Tiles:     tiles,
		TileIDs:   idCopy,
		Timestamp: g.now(),
	})
}

// RecentActions returns a copy of the last n log entries.
func (g *Game) RecentActions(n int) []Action {
	start := len(g.Actions) - n
	if n <= 0 || start < 0 {
		start = 0
	}
	return append([]Action{}, g.Actions[start:]...)
}

func indexOf(tiles []tile.Tile, id int) int {
	for i, t := range tiles {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// removeAt deletes index i preserving order. It never aliases the input.
func removeAt(tiles []tile.Tile, i int) []tile.Tile {
	out := make([]tile.Tile, 0, len(tiles)-1)
	out = append(out, tiles[:i]...)
	return append(out, tiles[i+1:]...)
}

// extract splits src into the tiles named by ids and the rest. ok is false if
// ids is empty, has duplicates, or names a tile missing from src.
func extract(src []tile.Tile, ids []int) (picked, rest []tile.Tile, ok bool) {
	if len(ids) == 0 {
		return nil, src, false
	}
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		if want[id] {
			return nil, src, false
		}
		want[id] = true
	}
	picked = make([]tile.Tile, 0, len(ids))
	rest = make([]tile.Tile, 0, len(src))
	for _, t := range src {
		if want[t.ID] {
			picked = append(picked, t)
		} else {
			rest = append(rest, t)
		}
	}
	if len(picked) != len(ids) {
		return nil, src, false
	}
	return picked, rest, true
}
