package router

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/wfunc/mahjongserver/apperr"
	"github.com/wfunc/mahjongserver/tile"
)

// 入站消息的 data 结构，每种消息一种

type validator interface {
	validate() error
}

// roomCode accepts the room code as a JSON string or a number. Numbers are
// zero padded the way codes are issued, so 42 names room "042".
type roomCode string

func (c *roomCode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = roomCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("roomId must be a string or number, got %s", b)
	}
	if v, err := strconv.Atoi(n.String()); err == nil && v >= 0 && v < 1000 {
		*c = roomCode(fmt.Sprintf("%03d", v))
		return nil
	}
	*c = roomCode(n.String())
	return nil
}

type roomRequest struct {
	RoomID roomCode `json:"roomId"`
}

func (r *roomRequest) room() string { return string(r.RoomID) }

func (r *roomRequest) validate() error {
	if r.RoomID == "" {
		return apperr.Wrap(apperr.ErrBadRequest, "roomId is required")
	}
	return nil
}

type joinRequest struct {
	roomRequest
	Password string `json:"password,omitempty"`
}

type discardRequest struct {
	roomRequest
	Tile *tile.Tile `json:"tile"`
}

func (r *discardRequest) validate() error {
	if err := r.roomRequest.validate(); err != nil {
		return err
	}
	if r.Tile == nil || r.Tile.ID <= 0 {
		return apperr.Wrap(apperr.ErrBadRequest, "tile with id is required")
	}
	return nil
}

type takeRequest struct {
	roomRequest
	TileID int `json:"tileId"`
}

func (r *takeRequest) validate() error {
	if err := r.roomRequest.validate(); err != nil {
		return err
	}
	if r.TileID <= 0 {
		return apperr.Wrap(apperr.ErrBadRequest, "tileId is required")
	}
	return nil
}

type tilesRequest struct {
	roomRequest
	TileIDs []int `json:"tileIds"`
}

func (r *tilesRequest) validate() error {
	if err := r.roomRequest.validate(); err != nil {
		return err
	}
	if len(r.TileIDs) == 0 {
		return apperr.Wrap(apperr.ErrBadRequest, "tileIds must not be empty")
	}
	return nil
}

type confirmRequest struct {
	roomRequest
	Confirm *bool `json:"confirm"`
}

func (r *confirmRequest) validate() error {
	if err := r.roomRequest.validate(); err != nil {
		return err
	}
	if r.Confirm == nil {
		return apperr.Wrap(apperr.ErrBadRequest, "confirm is required")
	}
	return nil
}

// stateRequest carries an optional requestId of any JSON type. It is echoed
// back byte for byte.
type stateRequest struct {
	roomRequest
	RequestID json.RawMessage `json:"requestId,omitempty"`
}

func decode(data json.RawMessage, req validator) error {
	if len(data) == 0 {
		return apperr.Wrap(apperr.ErrBadRequest, "data is required")
	}
	if err := json.Unmarshal(data, req); err != nil {
		return apperr.Wrap(apperr.ErrBadRequest, "invalid data: %v", err)
	}
	return req.validate()
}

// ConnectedEvent greets a freshly registered connection.
type ConnectedEvent struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	Nickname  string `json:"nickname"`
}

type pongEvent struct {
	Time int64 `json:"timestamp"`
}
