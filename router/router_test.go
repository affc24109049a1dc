package router

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wfunc/mahjongserver/broadcast"
	"github.com/wfunc/mahjongserver/game"
	"github.com/wfunc/mahjongserver/monitor"
	"github.com/wfunc/mahjongserver/network"
	"github.com/wfunc/mahjongserver/room"
	"github.com/wfunc/mahjongserver/session"
	"github.com/wfunc/mahjongserver/tile"
)

// MockConnection records every frame it is sent.
type MockConnection struct {
	mu     sync.Mutex
	frames []network.Envelope
}

func (m *MockConnection) Send(frame []byte) error {
	env, err := network.Decode(frame)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.frames = append(m.frames, env)
	m.mu.Unlock()
	return nil
}

func (m *MockConnection) ReadMessage() ([]byte, error) { return nil, nil }
func (m *MockConnection) Close() error                 { return nil }
func (m *MockConnection) RemoteAddr() net.Addr         { return &net.TCPAddr{} }

// take returns and clears the recorded frames.
func (m *MockConnection) take() []network.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.frames
	m.frames = nil
	return out
}

type harness struct {
	t      *testing.T
	router *Router
	rooms  *room.Manager
	dir    *session.Directory
	conns  map[string]*MockConnection
	ids    map[string]string
}

func newHarness(t *testing.T, users ...string) *harness {
	dir := session.NewDirectory()
	rooms := room.NewRoomManager(room.Options{
		Shuffle: func(d []tile.Tile) []tile.Tile { return d },
	})
	h := &harness{
		t:      t,
		rooms:  rooms,
		dir:    dir,
		router: New(rooms, dir, broadcast.NewBroadcaster(dir), monitor.NewMonitor("test", prometheus.NewRegistry())),
		conns:  make(map[string]*MockConnection),
		ids:    make(map[string]string),
	}
	for _, u := range users {
		conn := &MockConnection{}
		s := session.NewSession(conn, u, u)
		dir.Register(s)
		h.conns[u] = conn
		h.ids[u] = s.ID
	}
	return h
}

func (h *harness) send(user string, kind network.Kind, data string) {
	frame := fmt.Sprintf(`{"type":%q,"data":%s}`, kind, data)
	if data == "" {
		frame = fmt.Sprintf(`{"type":%q}`, kind)
	}
	h.router.Handle(h.ids[user], []byte(frame))
}

func (h *harness) kinds(user string) []network.Kind {
	var out []network.Kind
	for _, env := range h.conns[user].take() {
		out = append(out, env.Type)
	}
	return out
}

func (h *harness) lastError(user string) network.ErrorPayload {
	h.t.Helper()
	var last *network.ErrorPayload
	for _, env := range h.conns[user].take() {
		if env.Type == network.KindError {
			var p network.ErrorPayload
			json.Unmarshal(env.Data, &p)
			last = &p
		}
	}
	if last == nil {
		h.t.Fatalf("Expected an ERROR for %s", user)
	}
	return *last
}

func (h *harness) lastView(user string) game.View {
	h.t.Helper()
	var view *game.View
	for _, env := range h.conns[user].take() {
		if env.Type == network.KindGameState {
			var v game.View
			json.Unmarshal(env.Data, &v)
			view = &v
		}
	}
	if view == nil {
		h.t.Fatalf("Expected a GAME_STATE for %s", user)
	}
	return *view
}

// playing creates a room owned by users[0], seats the rest and starts.
func (h *harness) playing(users ...string) string {
	h.t.Helper()
	info, err := h.router.CreateRoom(users[0])
	if err != nil {
		h.t.Fatalf("CreateRoom failed: %v", err)
	}
	for _, u := range users[1:] {
		h.send(u, network.KindJoinRoom, fmt.Sprintf(`{"roomId":%q,"password":%q}`, info.RoomID, info.Password))
	}
	h.send(users[0], network.KindStartGame, fmt.Sprintf(`{"roomId":%q}`, info.RoomID))
	for _, u := range users {
		h.conns[u].take()
	}
	return info.RoomID
}

func TestRouter_UnknownAndMalformed(t *testing.T) {
	h := newHarness(t, "alice")

	h.router.Handle(h.ids["alice"], []byte("{not json"))
	if e := h.lastError("alice"); e.Code != "BAD_REQUEST" {
		t.Errorf("Expected BAD_REQUEST, got %s", e.Code)
	}

	h.send("alice", "FLY_AWAY", `{}`)
	if e := h.lastError("alice"); e.Code != "UNKNOWN_TYPE" {
		t.Errorf("Expected UNKNOWN_TYPE, got %s", e.Code)
	}

	h.send("alice", network.KindDrawTile, `{}`)
	if e := h.lastError("alice"); e.Code != "BAD_REQUEST" {
		t.Errorf("Expected BAD_REQUEST for missing roomId, got %s", e.Code)
	}

	h.send("alice", network.KindDrawTile, `{"roomId":"999x"}`)
	if e := h.lastError("alice"); e.Code != "ROOM_NOT_FOUND" {
		t.Errorf("Expected ROOM_NOT_FOUND, got %s", e.Code)
	}
}

func TestRouter_JoinAnnouncesAndErrorsGoToCallerOnly(t *testing.T) {
	h := newHarness(t, "alice", "bob", "carol")
	info, _ := h.router.CreateRoom("alice")

	// Not seated and no password.
	h.send("bob", network.KindJoinRoom, fmt.Sprintf(`{"roomId":%q}`, info.RoomID))
	if e := h.lastError("bob"); e.Code != "NOT_IN_ROOM" {
		t.Errorf("Expected NOT_IN_ROOM, got %s", e.Code)
	}
	if got := h.kinds("alice"); len(got) != 0 {
		t.Errorf("Errors must not reach other players, alice got %v", got)
	}

	h.send("bob", network.KindJoinRoom, fmt.Sprintf(`{"roomId":%q,"password":"wrong"}`, info.RoomID))
	if e := h.lastError("bob"); e.Code != "WRONG_PASSWORD" {
		t.Errorf("Expected WRONG_PASSWORD, got %s", e.Code)
	}

	h.send("bob", network.KindJoinRoom, fmt.Sprintf(`{"roomId":%q,"password":%q}`, info.RoomID, info.Password))
	got := h.kinds("alice")
	if len(got) == 0 || got[0] != network.KindRoomStateUpdate {
		t.Errorf("Expected alice to get ROOM_STATE_UPDATE first, got %v", got)
	}

	// A seated player re-entering gets the room state; others a notice.
	h.kinds("bob")
	h.send("alice", network.KindJoinRoom, fmt.Sprintf(`{"roomId":%q}`, info.RoomID))
	if got := h.kinds("alice"); len(got) != 2 || got[0] != network.KindRoomStateUpdate || got[1] != network.KindGameState {
		t.Errorf("Expected ROOM_STATE_UPDATE + GAME_STATE, got %v", got)
	}
	if got := h.kinds("bob"); len(got) != 1 || got[0] != network.KindSystemNotification {
		t.Errorf("Expected SYSTEM_NOTIFICATION for bob, got %v", got)
	}
	if got := h.kinds("carol"); len(got) != 0 {
		t.Errorf("Outsider should hear nothing, got %v", got)
	}
}

func TestRouter_Leave(t *testing.T) {
	h := newHarness(t, "alice", "bob", "carol")
	info, _ := h.router.CreateRoom("alice")
	h.send("bob", network.KindJoinRoom, fmt.Sprintf(`{"roomId":%q,"password":%q}`, info.RoomID, info.Password))
	h.conns["alice"].take()
	h.conns["bob"].take()

	h.send("carol", network.KindLeaveRoom, fmt.Sprintf(`{"roomId":%q}`, info.RoomID))
	if e := h.lastError("carol"); e.Code != "NOT_IN_ROOM" {
		t.Errorf("Expected NOT_IN_ROOM, got %s", e.Code)
	}

	h.send("alice", network.KindLeaveRoom, fmt.Sprintf(`{"roomId":%q}`, info.RoomID))
	got := h.kinds("bob")
	if !containsKind(got, network.KindRoomStateUpdate) || !containsKind(got, network.KindSystemNotification) {
		t.Errorf("Expected bob to hear about the departure, got %v", got)
	}
	if got := h.kinds("alice"); containsKind(got, network.KindError) {
		t.Errorf("Leave should succeed, alice got %v", got)
	}
	r, ok := h.rooms.GetRoom(info.RoomID)
	if !ok || r.Creator() != "bob" {
		t.Fatal("Expected bob to own the room")
	}

	// Seats are held while a game is running.
	h.router.JoinRoom("carol", info.RoomID, info.Password)
	h.send("bob", network.KindStartGame, fmt.Sprintf(`{"roomId":%q}`, info.RoomID))
	h.conns["bob"].take()
	h.send("bob", network.KindLeaveRoom, fmt.Sprintf(`{"roomId":%q}`, info.RoomID))
	if e := h.lastError("bob"); e.Code != "CANNOT_LEAVE" {
		t.Errorf("Expected CANNOT_LEAVE mid-game, got %s", e.Code)
	}
}

func TestRouter_LastLeaveRemovesRoom(t *testing.T) {
	h := newHarness(t, "alice")
	info, _ := h.router.CreateRoom("alice")

	if err := h.router.LeaveRoom("alice", info.RoomID); err != nil {
		t.Fatalf("LeaveRoom failed: %v", err)
	}
	if _, ok := h.rooms.GetRoom(info.RoomID); ok {
		t.Error("Expected the emptied room to leave the registry")
	}
	if h.rooms.Count() != 0 {
		t.Errorf("Expected no rooms, got %d", h.rooms.Count())
	}
}

func containsKind(kinds []network.Kind, want network.Kind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func TestRouter_PlayFlowSendsRedactedViews(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	roomID := h.playing("alice", "bob")

	h.send("bob", network.KindDrawTile, fmt.Sprintf(`{"roomId":%q}`, roomID))
	aliceView := h.lastView("alice")
	bobView := h.lastView("bob")

	if len(aliceView.Hand) != 14 || len(bobView.Hand) != 14 {
		t.Fatalf("Expected both hands at 14, got %d/%d", len(aliceView.Hand), len(bobView.Hand))
	}
	if aliceView.HandCounts["bob"] != 14 || aliceView.RemainingTiles != 108 {
		t.Errorf("Unexpected public counts: %v, remaining %d", aliceView.HandCounts, aliceView.RemainingTiles)
	}
	for _, a := range aliceView.Hand {
		for _, b := range bobView.Hand {
			if a.ID == b.ID {
				t.Fatalf("Tile %d appears in both views", a.ID)
			}
		}
	}

	discard := bobView.Hand[0]
	h.send("bob", network.KindDiscardTile, fmt.Sprintf(`{"roomId":%q,"tile":{"suit":%q,"rank":%d,"id":%d}}`, roomID, discard.Suit, discard.Rank, discard.ID))
	if v := h.lastView("alice"); len(v.Discards) != 1 || v.Discards[0].ID != discard.ID {
		t.Fatalf("Expected discard pile [%d], got %v", discard.ID, v.Discards)
	}
	h.conns["bob"].take()

	h.send("alice", network.KindTakeTile, fmt.Sprintf(`{"roomId":%q,"tileId":%d}`, roomID, discard.ID))
	if v := h.lastView("alice"); len(v.Hand) != 15 || len(v.Discards) != 0 {
		t.Errorf("Expected take to move the tile, hand=%d discards=%d", len(v.Hand), len(v.Discards))
	}
	h.conns["bob"].take()

	h.send("alice", network.KindTakeTile, fmt.Sprintf(`{"roomId":%q,"tileId":%d}`, roomID, discard.ID))
	if e := h.lastError("alice"); e.Code != "TILE_NOT_IN_DISCARDS" {
		t.Errorf("Expected TILE_NOT_IN_DISCARDS, got %s", e.Code)
	}
}

func TestRouter_ClaimFlow(t *testing.T) {
	h := newHarness(t, "alice", "bob", "carol")
	roomID := h.playing("alice", "bob", "carol")

	h.send("carol", network.KindClaimWin, fmt.Sprintf(`{"roomId":%q}`, roomID))
	if got := h.kinds("alice"); len(got) == 0 || got[0] != network.KindWinClaim {
		t.Fatalf("Expected WIN_CLAIM first, got %v", got)
	}
	h.conns["bob"].take()
	h.conns["carol"].take()

	h.send("alice", network.KindConfirmWin, fmt.Sprintf(`{"roomId":%q}`, roomID))
	if e := h.lastError("alice"); e.Code != "BAD_REQUEST" {
		t.Errorf("Expected BAD_REQUEST without confirm, got %s", e.Code)
	}

	h.send("alice", network.KindConfirmWin, fmt.Sprintf(`{"roomId":%q,"confirm":true}`, roomID))
	h.conns["alice"].take()
	h.conns["carol"].take()
	if v := h.lastView("bob"); v.PendingWinner != "carol" || !v.Confirmations["alice"] || v.Confirmations["bob"] {
		t.Errorf("Unexpected pending claim in view: %s %v", v.PendingWinner, v.Confirmations)
	}

	h.send("bob", network.KindConfirmWin, fmt.Sprintf(`{"roomId":%q,"confirm":true}`, roomID))
	v := h.lastView("alice")
	if v.Status != "FINISHED" || v.Winner != "carol" || v.IsDraw == nil || *v.IsDraw {
		t.Errorf("Expected carol to win, got status=%s winner=%s", v.Status, v.Winner)
	}
	if v.RoomStatus != "WAITING" {
		t.Errorf("Expected room back to WAITING, got %s", v.RoomStatus)
	}
}

func TestRouter_GetGameStateEchoesRequestID(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	roomID := h.playing("alice", "bob")

	h.send("bob", network.KindGetGameState, fmt.Sprintf(`{"roomId":%q,"requestId":"r-42"}`, roomID))
	if v := h.lastView("bob"); string(v.RequestID) != `"r-42"` {
		t.Errorf("Expected requestId r-42, got %s", v.RequestID)
	}
	if got := h.kinds("alice"); len(got) != 0 {
		t.Errorf("State fetch must only answer the caller, alice got %v", got)
	}
}

func TestRouter_GetGameStateAcceptsNumericIDs(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	roomID := h.playing("alice", "bob")

	h.send("bob", network.KindGetGameState, fmt.Sprintf(`{"roomId":%s,"requestId":42}`, strings.TrimLeft(roomID, "0")))
	v := h.lastView("bob")
	if string(v.RequestID) != "42" {
		t.Errorf("Expected requestId 42 echoed as a number, got %s", v.RequestID)
	}
	if v.RoomID != roomID {
		t.Errorf("Expected room %s, got %s", roomID, v.RoomID)
	}

	h.send("bob", network.KindGetGameState, fmt.Sprintf(`{"roomId":%q,"requestId":{"n":[1,2]}}`, roomID))
	if v := h.lastView("bob"); string(v.RequestID) != `{"n":[1,2]}` {
		t.Errorf("Expected requestId echoed unchanged, got %s", v.RequestID)
	}

	h.send("bob", network.KindGetGameState, fmt.Sprintf(`{"roomId":%q}`, roomID))
	if v := h.lastView("bob"); v.RequestID != nil {
		t.Errorf("Expected no requestId, got %s", v.RequestID)
	}
}

func TestRouter_GetGameStateCoalesces(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	roomID := h.playing("alice", "bob")

	// Pretend a request for the same user and room is still being served.
	h.router.inflight.Store("bob:"+roomID, struct{}{})
	h.send("bob", network.KindGetGameState, fmt.Sprintf(`{"roomId":%q}`, roomID))
	if got := h.kinds("bob"); len(got) != 0 {
		t.Errorf("Duplicate request should be dropped, got %v", got)
	}

	h.router.inflight.Delete("bob:" + roomID)
	h.send("bob", network.KindGetGameState, fmt.Sprintf(`{"roomId":%q}`, roomID))
	if got := h.kinds("bob"); len(got) != 1 || got[0] != network.KindGameState {
		t.Errorf("Expected one GAME_STATE, got %v", got)
	}
}

func TestRouter_Ping(t *testing.T) {
	h := newHarness(t, "alice")
	h.send("alice", network.KindPing, "")
	if got := h.kinds("alice"); len(got) != 1 || got[0] != network.KindPong {
		t.Errorf("Expected PONG, got %v", got)
	}
}

func TestRouter_ConcurrentRequests(t *testing.T) {
	h := newHarness(t, "alice", "bob", "carol", "dave")
	roomID := h.playing("alice", "bob", "carol", "dave")

	var wg sync.WaitGroup
	for _, u := range []string{"alice", "bob", "carol", "dave"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				h.send(u, network.KindDrawTile, fmt.Sprintf(`{"roomId":%q}`, roomID))
				h.send(u, network.KindGetGameState, fmt.Sprintf(`{"roomId":%q}`, roomID))
			}
		}(u)
	}
	wg.Wait()

	r, _ := h.rooms.GetRoom(roomID)
	v, err := r.View("alice", nil)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if v.RemainingTiles != 83-40 {
		t.Errorf("Expected %d tiles left, got %d", 83-40, v.RemainingTiles)
	}
	total := v.RemainingTiles + len(v.Discards)
	for _, n := range v.HandCounts {
		total += n
	}
	if total != tile.DeckSize {
		t.Errorf("Expected %d tiles in play, got %d", tile.DeckSize, total)
	}
}

func TestRouter_UnregisteredSessionIsIgnored(t *testing.T) {
	h := newHarness(t, "alice")
	h.router.Handle("no-such-session", []byte(`{"type":"PING"}`))
	if got := h.kinds("alice"); len(got) != 0 {
		t.Errorf("Expected nothing sent, got %v", got)
	}
}
