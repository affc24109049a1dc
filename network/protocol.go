package network

import (
	"encoding/json"
	"time"
)

// Kind 消息类型
type Kind string

// 客户端 -> 服务端
const (
	KindJoinRoom     Kind = "JOIN_ROOM"
	KindLeaveRoom    Kind = "LEAVE_ROOM"
	KindStartGame    Kind = "START_GAME"
	KindDrawTile     Kind = "DRAW_TILE"
	KindDiscardTile  Kind = "DISCARD_TILE"
	KindTakeTile     Kind = "TAKE_TILE"
	KindRevealTiles  Kind = "REVEAL_TILES"
	KindHideTiles    Kind = "HIDE_TILES"
	KindClaimWin     Kind = "CLAIM_WIN"
	KindConfirmWin   Kind = "CONFIRM_WIN"
	KindGetGameState Kind = "GET_GAME_STATE"
	KindPing         Kind = "PING"
)

// 服务端 -> 客户端
const (
	KindConnected          Kind = "CONNECTED"
	KindGameState          Kind = "GAME_STATE"
	KindGameStarted        Kind = "GAME_STARTED"
	KindAction             Kind = "ACTION"
	KindWinClaim           Kind = "WIN_CLAIM"
	KindWinDenied          Kind = "WIN_DENIED"
	KindGameEnd            Kind = "GAME_END"
	KindRoomStateUpdate    Kind = "ROOM_STATE_UPDATE"
	KindSystemNotification Kind = "SYSTEM_NOTIFICATION"
	KindError              Kind = "ERROR"
	KindPong               Kind = "PONG"
)

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Encode wraps payload in an outbound envelope stamped with the current time.
func Encode(kind Kind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      kind,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Decode parses an inbound frame. The payload stays raw until the router
// knows which schema applies.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(frame, &env)
	return env, err
}

// ErrorPayload is the body of an ERROR event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Notification is the body of a SYSTEM_NOTIFICATION event.
type Notification struct {
	Message string `json:"message"`
	Time    int64  `json:"timestamp"`
}
