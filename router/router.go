// Package router decodes inbound envelopes, runs the requested room
// operation and fans the results out to the room's players.
package router

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/mahjongserver/apperr"
	"github.com/wfunc/mahjongserver/broadcast"
	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/network"
	"github.com/wfunc/mahjongserver/room"
	"github.com/wfunc/mahjongserver/session"
)

// RoomStore is the room registry.
type RoomStore interface {
	CreateRoom(creator string) (*room.Room, error)
	GetRoom(id string) (*room.Room, bool)
	ListActive() []*room.Room
	RemoveRoom(id string)
	Count() int
}

// Sessions resolves a connection handle to its bound session.
type Sessions interface {
	Get(sessionID string) (*session.Session, bool)
}

// Pusher delivers outbound messages.
type Pusher interface {
	SendToSession(s *session.Session, kind network.Kind, payload any) error
	Fanout(deliveries []broadcast.Delivery) error
}

// Metrics is the subset of the monitor the router reports to.
type Metrics interface {
	IncMessagesReceived(kind string)
	ObserveMessageLatency(d time.Duration)
	IncGamesStarted()
	IncGamesFinished(winner string)
	SetActiveRooms(count int)
}

type handlerFunc func(rt *Router, caller *session.Session, data json.RawMessage) error

// 消息分发表
var routes = map[network.Kind]handlerFunc{
	network.KindJoinRoom:     (*Router).handleJoin,
	network.KindLeaveRoom:    (*Router).handleLeave,
	network.KindStartGame:    (*Router).handleStart,
	network.KindDrawTile:     (*Router).handleDraw,
	network.KindDiscardTile:  (*Router).handleDiscard,
	network.KindTakeTile:     (*Router).handleTake,
	network.KindRevealTiles:  (*Router).handleReveal,
	network.KindHideTiles:    (*Router).handleHide,
	network.KindClaimWin:     (*Router).handleClaim,
	network.KindConfirmWin:   (*Router).handleConfirm,
	network.KindGetGameState: (*Router).handleGetState,
	network.KindPing:         (*Router).handlePing,
}

type Router struct {
	rooms    RoomStore
	sessions Sessions
	pusher   Pusher
	metrics  Metrics

	inflight sync.Map // "user:room" of GET_GAME_STATE requests being served
}

func New(rooms RoomStore, sessions Sessions, pusher Pusher, metrics Metrics) *Router {
	return &Router{
		rooms:    rooms,
		sessions: sessions,
		pusher:   pusher,
		metrics:  metrics,
	}
}

// Handle processes one inbound frame from the connection sessionID. The
// caller's identity comes from the session binding, never from the payload.
func (rt *Router) Handle(sessionID string, frame []byte) {
	start := time.Now()
	caller, ok := rt.sessions.Get(sessionID)
	if !ok {
		logger.Log.Warnw("frame from unregistered session", "session", sessionID)
		return
	}
	caller.Touch()

	env, err := network.Decode(frame)
	if err != nil {
		rt.reject(caller, "", apperr.Wrap(apperr.ErrBadRequest, "invalid envelope: %v", err))
		return
	}
	handler, ok := routes[env.Type]
	if !ok {
		rt.metrics.IncMessagesReceived("UNKNOWN")
		rt.reject(caller, env.Type, apperr.Wrap(apperr.ErrUnknownType, "unknown message type %q", env.Type))
		return
	}
	rt.metrics.IncMessagesReceived(string(env.Type))
	defer func() { rt.metrics.ObserveMessageLatency(time.Since(start)) }()

	if err := handler(rt, caller, env.Data); err != nil {
		rt.reject(caller, env.Type, err)
	}
}

// Welcome sends CONNECTED on a newly registered connection.
func (rt *Router) Welcome(s *session.Session) {
	rt.pusher.SendToSession(s, network.KindConnected, ConnectedEvent{
		SessionID: s.ID,
		Email:     s.UserID,
		Nickname:  s.Nickname,
	})
}

// --- 与 REST 共用的操作 ---

// CreateRoom opens a room owned by user.
func (rt *Router) CreateRoom(user string) (room.Info, error) {
	r, err := rt.rooms.CreateRoom(user)
	if err != nil {
		return room.Info{}, err
	}
	rt.metrics.SetActiveRooms(rt.rooms.Count())
	return r.Info(user), nil
}

// ListRooms lists every active room as seen by viewer.
func (rt *Router) ListRooms(viewer string) []room.Info {
	active := rt.rooms.ListActive()
	infos := make([]room.Info, 0, len(active))
	for _, r := range active {
		infos = append(infos, r.Info(viewer))
	}
	return infos
}

// RoomInfo describes one room to viewer.
func (rt *Router) RoomInfo(viewer, roomID string) (room.Info, error) {
	r, err := rt.lookup(roomID)
	if err != nil {
		return room.Info{}, err
	}
	return r.Info(viewer), nil
}

// JoinRoom seats user and announces it to the room.
func (rt *Router) JoinRoom(user, roomID, password string) (room.Info, error) {
	r, err := rt.lookup(roomID)
	if err != nil {
		return room.Info{}, err
	}
	out, err := r.Join(user, password)
	if err != nil {
		return room.Info{}, err
	}
	rt.publish(out)
	return r.Info(user), nil
}

// LeaveRoom gives up user's seat. An emptied room is dropped from the registry.
func (rt *Router) LeaveRoom(user, roomID string) error {
	r, err := rt.lookup(roomID)
	if err != nil {
		return err
	}
	out, err := r.Leave(user)
	if err != nil {
		return err
	}
	rt.publish(out)
	if out.Closed {
		rt.rooms.RemoveRoom(r.ID)
		rt.metrics.SetActiveRooms(rt.rooms.Count())
	}
	return nil
}

// StartGame deals a new game in roomID on behalf of user.
func (rt *Router) StartGame(user, roomID string) error {
	r, err := rt.lookup(roomID)
	if err != nil {
		return err
	}
	out, err := r.Start(user)
	if err != nil {
		return err
	}
	rt.publish(out)
	return nil
}

// --- 消息处理 ---

func (rt *Router) handleJoin(caller *session.Session, data json.RawMessage) error {
	var req joinRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	r, err := rt.lookup(req.room())
	if err != nil {
		return err
	}
	if !r.HasPlayer(caller.UserID) {
		if req.Password == "" {
			return apperr.ErrNotInRoom
		}
		_, err := rt.JoinRoom(caller.UserID, req.room(), req.Password)
		return err
	}
	return rt.apply(r.Enter(caller.UserID))
}

func (rt *Router) handleLeave(caller *session.Session, data json.RawMessage) error {
	var req roomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return rt.LeaveRoom(caller.UserID, req.room())
}

func (rt *Router) handleStart(caller *session.Session, data json.RawMessage) error {
	var req roomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return rt.StartGame(caller.UserID, req.room())
}

func (rt *Router) handleDraw(caller *session.Session, data json.RawMessage) error {
	var req roomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	r, err := rt.lookup(req.room())
	if err != nil {
		return err
	}
	return rt.apply(r.Draw(caller.UserID))
}

// handleDiscard matches the tile by id only; suit and rank are informational.
func (rt *Router) handleDiscard(caller *session.Session, data json.RawMessage) error {
	var req discardRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	r, err := rt.lookup(req.room())
	if err != nil {
		return err
	}
	return rt.apply(r.Discard(caller.UserID, req.Tile.ID))
}

func (rt *Router) handleTake(caller *session.Session, data json.RawMessage) error {
	var req takeRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	r, err := rt.lookup(req.room())
	if err != nil {
		return err
	}
	return rt.apply(r.Take(caller.UserID, req.TileID))
}

func (rt *Router) handleReveal(caller *session.Session, data json.RawMessage) error {
	var req tilesRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	r, err := rt.lookup(req.room())
	if err != nil {
		return err
	}
	return rt.apply(r.Reveal(caller.UserID, req.TileIDs))
}

func (rt *Router) handleHide(caller *session.Session, data json.RawMessage) error {
	var req tilesRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	r, err := rt.lookup(req.room())
	if err != nil {
		return err
	}
	return rt.apply(r.Hide(caller.UserID, req.TileIDs))
}

func (rt *Router) handleClaim(caller *session.Session, data json.RawMessage) error {
	var req roomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	r, err := rt.lookup(req.room())
	if err != nil {
		return err
	}
	return rt.apply(r.Claim(caller.UserID))
}

func (rt *Router) handleConfirm(caller *session.Session, data json.RawMessage) error {
	var req confirmRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	r, err := rt.lookup(req.room())
	if err != nil {
		return err
	}
	return rt.apply(r.Respond(caller.UserID, *req.Confirm))
}

// handleGetState answers only the caller. A second request for the same
// user and room while one is being served is dropped.
func (rt *Router) handleGetState(caller *session.Session, data json.RawMessage) error {
	var req stateRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	key := caller.UserID + ":" + req.room()
	if _, busy := rt.inflight.LoadOrStore(key, struct{}{}); busy {
		logger.Log.Debugw("coalesced state request", "user", caller.UserID, "room", req.room())
		return nil
	}
	defer rt.inflight.Delete(key)

	r, err := rt.lookup(req.room())
	if err != nil {
		return err
	}
	v, err := r.View(caller.UserID, req.RequestID)
	if err != nil {
		return err
	}
	rt.pusher.SendToSession(caller, network.KindGameState, v)
	return nil
}

func (rt *Router) handlePing(caller *session.Session, data json.RawMessage) error {
	rt.pusher.SendToSession(caller, network.KindPong, pongEvent{Time: time.Now().UnixMilli()})
	return nil
}

// --- 内部 ---

func (rt *Router) lookup(roomID string) (*room.Room, error) {
	r, ok := rt.rooms.GetRoom(roomID)
	if !ok {
		return nil, apperr.ErrRoomNotFound
	}
	return r, nil
}

func (rt *Router) apply(out room.Outcome, err error) error {
	if err != nil {
		return err
	}
	rt.publish(out)
	return nil
}

// publish pushes the outcome's events, then one GAME_STATE per recipient.
// It runs after the room lock has been released.
func (rt *Router) publish(out room.Outcome) {
	deliveries := make([]broadcast.Delivery, 0, len(out.Events)*4+len(out.Views))
	for _, ev := range out.Events {
		for _, user := range ev.Recipients {
			deliveries = append(deliveries, broadcast.Delivery{UserID: user, Kind: ev.Kind, Payload: ev.Payload})
		}
	}
	users := make([]string, 0, len(out.Views))
	for user := range out.Views {
		users = append(users, user)
	}
	sort.Strings(users)
	for _, user := range users {
		deliveries = append(deliveries, broadcast.Delivery{UserID: user, Kind: network.KindGameState, Payload: out.Views[user]})
	}

	if out.Started {
		rt.metrics.IncGamesStarted()
	}
	if out.Ended {
		rt.metrics.IncGamesFinished(out.Winner)
	}
	if err := rt.pusher.Fanout(deliveries); err != nil {
		logger.Log.Warnw("fan-out incomplete", "error", err)
	}
}

func (rt *Router) reject(caller *session.Session, kind network.Kind, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.ErrInternal.Code {
		logger.Log.Errorw("request failed", "kind", kind, "user", caller.UserID, "error", err)
	} else {
		logger.Log.Infow("request rejected", "kind", kind, "user", caller.UserID, "code", code)
	}
	rt.pusher.SendToSession(caller, network.KindError, network.ErrorPayload{
		Code:    code,
		Message: apperr.MessageOf(err),
	})
}
