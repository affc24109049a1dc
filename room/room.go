// room/room.go
package room

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/mahjongserver/apperr"
	"github.com/wfunc/mahjongserver/game"
	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/network"
	"github.com/wfunc/mahjongserver/state"
	"github.com/wfunc/mahjongserver/tile"
)

// Shuffler permutes a freshly built deck.
type Shuffler func(deck []tile.Tile) []tile.Tile

// Room 是牌局房间：座位、生命周期状态机和当前牌局。
// 所有读改写都在 mu 下串行执行
type Room struct {
	ID        string
	Password  string
	CreatedAt time.Time

	ttl     time.Duration
	recent  int
	now     func() time.Time
	shuffle Shuffler

	mu      sync.Mutex
	creator string   // passes to the first seat when the creator leaves
	players []string // seating order
	machine *state.RoomMachine
	game    *game.Game
	claim   *game.WinClaim
	seq     uint64 // bumped for every broadcast batch of views
}

func newRoom(id, password, creator string, opts Options) *Room {
	r := &Room{
		ID:        id,
		Password:  password,
		creator:   creator,
		CreatedAt: opts.Now(),
		ttl:       opts.TTL,
		recent:    opts.RecentActions,
		now:       opts.Now,
		shuffle:   opts.Shuffle,
		players:   []string{creator},
	}
	r.machine = state.NewRoomMachine(r)
	return r
}

// --- 实现 state.RoomContext 接口 ---

// GetID 返回房间ID
func (r *Room) GetID() string {
	return r.ID
}

// SeatCount is called by the state machine with mu held.
func (r *Room) SeatCount() int {
	return len(r.players)
}

// --- 只读访问 ---

// ExpiresAt is the end of the room's lifetime.
func (r *Room) ExpiresAt() time.Time {
	return r.CreatedAt.Add(r.ttl)
}

// Expired reports whether the room outlived its TTL at now.
func (r *Room) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt())
}

// Status 获取房间状态
func (r *Room) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.Status()
}

// Players returns a copy of the seating order.
func (r *Room) Players() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.players...)
}

// Creator returns the current owner of the room.
func (r *Room) Creator() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creator
}

// HasPlayer reports whether user holds a seat.
func (r *Room) HasPlayer(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seated(user)
}

// Info describes the room to viewer. The password is only shown to members.
func (r *Room) Info(viewer string) Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := Info{
		StateUpdate: r.stateUpdateLocked(),
		Creator:     r.creator,
		Players:     append([]string(nil), r.players...),
		MaxPlayers:  tile.MaxPlayers,
		ExpiresAt:   r.ExpiresAt(),
	}
	if r.seated(viewer) {
		info.Password = r.Password
	}
	return info
}

// View projects the room for user. requestID is echoed back untouched.
func (r *Room) View(user string, requestID json.RawMessage) (game.View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closedLocked() {
		return game.View{}, apperr.ErrRoomClosed
	}
	if !r.seated(user) {
		return game.View{}, apperr.ErrNotInRoom
	}
	r.repairLocked()
	v := r.viewLocked(user)
	v.RequestID = requestID
	return v, nil
}

// --- 房间操作 ---

// Join seats user. Rejoining a seat already held is a successful no-op.
func (r *Room) Join(user, password string) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closedLocked() {
		return Outcome{}, apperr.ErrRoomClosed
	}
	if password != r.Password {
		return Outcome{}, apperr.ErrWrongPassword
	}
	if r.seated(user) {
		var out Outcome
		out.emit(network.KindRoomStateUpdate, r.stateUpdateLocked(), []string{user})
		out.Views = r.viewsLocked([]string{user})
		return out, nil
	}
	r.repairLocked()
	if r.machine.Status() != state.Waiting {
		return Outcome{}, apperr.ErrNotWaiting
	}
	if r.Expired(r.now()) {
		return Outcome{}, apperr.ErrRoomExpired
	}
	if len(r.players) >= tile.MaxPlayers {
		return Outcome{}, apperr.ErrRoomFull
	}

	r.players = append(r.players, user)
	logger.Log.Infow("player joined", "room", r.ID, "user", user, "players", len(r.players))

	var out Outcome
	all := r.everyoneLocked()
	out.emit(network.KindRoomStateUpdate, r.stateUpdateLocked(), all)
	out.emit(network.KindSystemNotification, r.notice("%s joined the room", user), all)
	out.Views = r.viewsLocked(all)
	return out, nil
}

// Enter announces a seated player who (re)connected to the room.
func (r *Room) Enter(user string) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closedLocked() {
		return Outcome{}, apperr.ErrRoomClosed
	}
	if !r.seated(user) {
		return Outcome{}, apperr.ErrNotInRoom
	}
	r.repairLocked()

	var out Outcome
	out.emit(network.KindRoomStateUpdate, r.stateUpdateLocked(), []string{user})
	out.emit(network.KindSystemNotification, r.notice("%s entered the room", user), r.othersLocked(user))
	out.Views = r.viewsLocked([]string{user})
	return out, nil
}

// Start deals a new game. Only the creator may start, from WAITING, with at
// least two seats. The previous winner deals; otherwise the creator does.
func (r *Room) Start(user string) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closedLocked() {
		return Outcome{}, apperr.ErrRoomClosed
	}
	if user != r.creator {
		return Outcome{}, apperr.ErrNotCreator
	}
	r.repairLocked()
	if r.machine.Status() != state.Waiting {
		return Outcome{}, apperr.ErrNotWaiting
	}
	if len(r.players) < tile.MinPlayers {
		return Outcome{}, apperr.ErrNotEnoughPlayers
	}

	dealer := r.creator
	if r.game != nil && r.game.Winner != "" && r.seated(r.game.Winner) {
		dealer = r.game.Winner
	}
	g, err := game.New(r.ID, r.players, dealer, r.shuffle(tile.BuildDeck()), r.now)
	if err != nil {
		return Outcome{}, err
	}
	if err := r.machine.To(state.Playing); err != nil {
		return Outcome{}, apperr.Wrap(apperr.ErrInternal, "room %s cannot start: %v", r.ID, err)
	}
	r.game = g
	r.claim = nil
	logger.Log.Infow("game started", "room", r.ID, "dealer", dealer, "players", len(r.players))

	out := Outcome{Started: true}
	all := r.everyoneLocked()
	positions := make(map[string]int, len(g.Positions))
	for p, i := range g.Positions {
		positions[p] = i
	}
	out.emit(network.KindGameStarted, GameStartedEvent{
		RoomID:      r.ID,
		Dealer:      dealer,
		PlayerCount: len(r.players),
		Positions:   positions,
	}, all)
	out.emit(network.KindSystemNotification, r.notice("Game started! %s is the dealer", dealer), all)
	out.emit(network.KindRoomStateUpdate, r.stateUpdateLocked(), all)
	out.Views = r.viewsLocked(all)
	return out, nil
}

// Draw gives user the head of the draw pile. Emptying the pile ends the game
// as a draw.
func (r *Room) Draw(user string) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.activeLocked(user)
	if err != nil {
		return Outcome{}, err
	}
	t, err := g.Draw(user)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	remaining := len(g.DrawPile)
	out.emit(network.KindAction, ActionEvent{Action: game.ActionDraw, Player: user, Tile: &t, RemainingTiles: remaining}, []string{user})
	out.emit(network.KindAction, ActionEvent{Action: game.ActionDraw, Player: user, RemainingTiles: remaining}, r.othersLocked(user))
	if remaining == 0 {
		r.endGameLocked(&out, "")
	}
	out.Views = r.viewsLocked(r.everyoneLocked())
	return out, nil
}

// Discard moves tileID from user's hand to the discard pile.
func (r *Room) Discard(user string, tileID int) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.activeLocked(user)
	if err != nil {
		return Outcome{}, err
	}
	t, err := g.Discard(user, tileID)
	if err != nil {
		return Outcome{}, err
	}
	return r.echoLocked(ActionEvent{Action: game.ActionDiscard, Player: user, Tile: &t}), nil
}

// Take moves tileID from the discard pile into user's hand.
func (r *Room) Take(user string, tileID int) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.activeLocked(user)
	if err != nil {
		return Outcome{}, err
	}
	t, err := g.Take(user, tileID)
	if err != nil {
		return Outcome{}, err
	}
	return r.echoLocked(ActionEvent{Action: game.ActionTake, Player: user, Tile: &t}), nil
}

// Reveal exposes the named tiles of user's hand to everyone.
func (r *Room) Reveal(user string, tileIDs []int) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.activeLocked(user)
	if err != nil {
		return Outcome{}, err
	}
	moved, err := g.Reveal(user, tileIDs)
	if err != nil {
		return Outcome{}, err
	}
	return r.echoLocked(ActionEvent{Action: game.ActionReveal, Player: user, Tiles: moved}), nil
}

// Hide returns the named revealed tiles to user's concealed hand.
func (r *Room) Hide(user string, tileIDs []int) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.activeLocked(user)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := g.Hide(user, tileIDs); err != nil {
		return Outcome{}, err
	}
	return r.echoLocked(ActionEvent{Action: game.ActionHide, Player: user, TileIDs: append([]int(nil), tileIDs...)}), nil
}

// Leave gives up user's seat. Seats can only be given up while no game is
// being played. When the creator leaves, the first remaining player takes the
// room over. The last player out closes the room and Outcome.Closed asks the
// registry to drop it.
func (r *Room) Leave(user string) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closedLocked() {
		return Outcome{}, apperr.ErrRoomClosed
	}
	if !r.seated(user) {
		return Outcome{}, apperr.ErrNotInRoom
	}
	r.repairLocked()
	if r.machine.Status() != state.Waiting {
		return Outcome{}, apperr.ErrCannotLeave
	}

	r.players = r.othersLocked(user)
	logger.Log.Infow("player left", "room", r.ID, "user", user, "players", len(r.players))

	var out Outcome
	if len(r.players) == 0 {
		r.claim = nil
		if err := r.machine.To(state.Finished); err != nil {
			logger.Log.Errorw("cannot close empty room", "room", r.ID, "error", err)
		}
		out.Closed = true
		out.emit(network.KindRoomStateUpdate, r.stateUpdateLocked(), []string{user})
		return out, nil
	}

	all := r.everyoneLocked()
	out.emit(network.KindRoomStateUpdate, r.stateUpdateLocked(), append(all, user))
	out.emit(network.KindSystemNotification, r.notice("%s left the room", user), all)
	if user == r.creator {
		r.creator = r.players[0]
		logger.Log.Infow("room owner changed", "room", r.ID, "creator", r.creator)
		out.emit(network.KindSystemNotification, r.notice("%s is now the room owner", r.creator), all)
	}
	out.Views = r.viewsLocked(all)
	return out, nil
}

// Claim opens a win claim by user, replacing any earlier one. The claimed
// hand is shown to every player for manual adjudication.
func (r *Room) Claim(user string) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.activeLocked(user)
	if err != nil {
		return Outcome{}, err
	}
	r.claim = game.NewWinClaim(user, r.players)
	g.Log(user, game.ActionClaimWin)
	logger.Log.Infow("win claimed", "room", r.ID, "user", user)

	var out Outcome
	all := r.everyoneLocked()
	out.emit(network.KindWinClaim, WinClaimEvent{
		RoomID:   r.ID,
		Claimant: user,
		Hand:     append([]tile.Tile{}, g.Hands[user]...),
		Revealed: append([]tile.Tile{}, g.Revealed[user]...),
	}, all)
	out.emit(network.KindSystemNotification, r.notice("%s claims a win, waiting for the other players to confirm", user), all)
	out.Views = r.viewsLocked(all)
	return out, nil
}

// Respond records user's vote on the pending claim. One denial voids the
// claim; the last confirmation ends the game with the claimant as winner.
func (r *Room) Respond(user string, confirm bool) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closedLocked() {
		return Outcome{}, apperr.ErrRoomClosed
	}
	if !r.seated(user) {
		return Outcome{}, apperr.ErrNotInRoom
	}
	r.repairLocked()
	if r.claim == nil || r.game == nil || !r.game.InProgress() {
		return Outcome{}, apperr.ErrNoPendingClaim
	}
	res, err := r.claim.Vote(user, confirm)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	all := r.everyoneLocked()
	claimant := r.claim.Claimant
	switch res {
	case game.ClaimDenied:
		r.game.Log(user, game.ActionDenyWin)
		r.claim = nil
		logger.Log.Infow("win denied", "room", r.ID, "user", user, "claimant", claimant)
		out.emit(network.KindWinDenied, WinDeniedEvent{RoomID: r.ID, Denier: user, Claimant: claimant}, all)
		out.emit(network.KindSystemNotification, r.notice("%s denied the win claim of %s, the game continues", user, claimant), all)
	case game.ClaimPending:
		r.game.Log(user, game.ActionConfirmWin)
		votes := r.claim.Snapshot()
		confirmed := 0
		for _, ok := range votes {
			if ok {
				confirmed++
			}
		}
		out.emit(network.KindSystemNotification, r.notice("%s confirmed the win of %s (%d/%d)", user, claimant, confirmed, len(votes)), all)
	case game.ClaimConfirmed:
		r.game.Log(user, game.ActionConfirmWin)
		r.endGameLocked(&out, claimant)
	}
	out.Views = r.viewsLocked(all)
	return out, nil
}

// close marks the room FINISHED. Used by the registry when it drops the room.
func (r *Room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closedLocked() {
		return
	}
	r.claim = nil
	if err := r.machine.To(state.Finished); err != nil {
		logger.Log.Errorw("cannot close room", "room", r.ID, "error", err)
	}
}

// --- 内部 ---

// endGameLocked is the single exit from a game, for both wins and draws.
func (r *Room) endGameLocked(out *Outcome, winner string) {
	r.game.Finish(winner)
	r.claim = nil
	if err := r.machine.To(state.Waiting); err != nil {
		logger.Log.Errorw("cannot return room to waiting", "room", r.ID, "error", err)
	}
	logger.Log.Infow("game finished", "room", r.ID, "winner", winner)

	out.Ended = true
	out.Winner = winner
	all := r.everyoneLocked()
	out.emit(network.KindGameEnd, GameEndEvent{RoomID: r.ID, Winner: winner, IsDraw: winner == ""}, all)
	if winner == "" {
		out.emit(network.KindSystemNotification, r.notice("The draw pile is empty, the game ends in a draw"), all)
	} else {
		out.emit(network.KindSystemNotification, r.notice("%s wins the game!", winner), all)
	}
	out.emit(network.KindRoomStateUpdate, r.stateUpdateLocked(), all)
}

// repairLocked returns a room stuck in PLAYING without a live game to WAITING.
func (r *Room) repairLocked() bool {
	if r.machine.Status() != state.Playing {
		return false
	}
	if r.game != nil && r.game.InProgress() {
		return false
	}
	logger.Log.Warnw("repairing stale room status", "room", r.ID, "hasGame", r.game != nil)
	r.claim = nil
	return r.machine.To(state.Waiting) == nil
}

func (r *Room) activeLocked(user string) (*game.Game, error) {
	if r.closedLocked() {
		return nil, apperr.ErrRoomClosed
	}
	if !r.seated(user) {
		return nil, apperr.ErrNotInRoom
	}
	r.repairLocked()
	if r.machine.Status() != state.Playing || r.game == nil || !r.game.InProgress() {
		return nil, apperr.ErrNotInProgress
	}
	return r.game, nil
}

func (r *Room) echoLocked(ev ActionEvent) Outcome {
	var out Outcome
	all := r.everyoneLocked()
	ev.RemainingTiles = len(r.game.DrawPile)
	out.emit(network.KindAction, ev, all)
	out.Views = r.viewsLocked(all)
	return out
}

func (r *Room) viewLocked(user string) game.View {
	if r.game == nil {
		v := game.WaitingView(r.ID)
		v.RoomStatus = r.machine.Status()
		v.Seq = r.seq
		for i, p := range r.players {
			v.Positions[p] = i
		}
		return v
	}
	v := r.game.ViewFor(user, r.recent)
	v.RoomStatus = r.machine.Status()
	v.Seq = r.seq
	if r.claim != nil {
		v.PendingWinner = r.claim.Claimant
		v.Confirmations = r.claim.Snapshot()
	}
	return v
}

// viewsLocked projects a new batch of views, stamped with a fresh sequence
// number.
func (r *Room) viewsLocked(users []string) map[string]game.View {
	r.seq++
	views := make(map[string]game.View, len(users))
	for _, u := range users {
		views[u] = r.viewLocked(u)
	}
	return views
}

func (r *Room) stateUpdateLocked() StateUpdate {
	return StateUpdate{
		RoomID:       r.ID,
		Status:       r.machine.Status(),
		PlayerCount:  len(r.players),
		CreationTime: r.CreatedAt,
		IsExpired:    r.Expired(r.now()),
	}
}

func (r *Room) notice(format string, args ...any) network.Notification {
	return network.Notification{
		Message: fmt.Sprintf(format, args...),
		Time:    r.now().UnixMilli(),
	}
}

func (r *Room) closedLocked() bool {
	return r.machine.Status() == state.Finished
}

func (r *Room) seated(user string) bool {
	for _, p := range r.players {
		if p == user {
			return true
		}
	}
	return false
}

func (r *Room) everyoneLocked() []string {
	return append([]string(nil), r.players...)
}

func (r *Room) othersLocked(user string) []string {
	others := make([]string, 0, len(r.players))
	for _, p := range r.players {
		if p != user {
			others = append(others, p)
		}
	}
	return others
}
