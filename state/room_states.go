package state

import (
	"fmt"

	"github.com/wfunc/mahjongserver/apperr"
	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/tile"
)

// 房间状态 ID，同时也是对外的房间状态字符串
const (
	Waiting  = "WAITING"
	Playing  = "PLAYING"
	Finished = "FINISHED"
)

// WaitingState 等待开局
type WaitingState struct {
	RoomStateBase
}

func (s *WaitingState) OnEnter() {
	logger.Log.Infow("room waiting", "room", s.Room.GetID(), "players", s.Room.SeatCount())
}

// PlayingState 牌局进行中
type PlayingState struct {
	RoomStateBase
}

func (s *PlayingState) OnEnter() {
	logger.Log.Infow("room playing", "room", s.Room.GetID(), "players", s.Room.SeatCount())
}

func (s *PlayingState) OnExit() {
	logger.Log.Infow("room leaves playing", "room", s.Room.GetID())
}

// FinishedState 房间已关闭(过期删除)，终态
type FinishedState struct {
	RoomStateBase
}

func (s *FinishedState) OnEnter() {
	logger.Log.Infow("room closed", "room", s.Room.GetID())
}

// RoomMachine is the lifecycle of one room:
//
//	WAITING -> PLAYING    needs at least two seats
//	PLAYING -> WAITING    game ended or stale status repaired
//	WAITING/PLAYING -> FINISHED    room deleted by the registry
type RoomMachine struct {
	*BaseStateMachine
	states map[string]State
}

func NewRoomMachine(room RoomContext) *RoomMachine {
	waiting := &WaitingState{RoomStateBase{ID: Waiting, Room: room}}
	playing := &PlayingState{RoomStateBase{ID: Playing, Room: room}}
	finished := &FinishedState{RoomStateBase{ID: Finished, Room: room}}

	m := &RoomMachine{
		BaseStateMachine: NewBaseStateMachine(waiting),
		states: map[string]State{
			Waiting:  waiting,
			Playing:  playing,
			Finished: finished,
		},
	}
	m.AddTransition(waiting, playing, func() error {
		if room.SeatCount() < tile.MinPlayers {
			return apperr.ErrNotEnoughPlayers
		}
		return nil
	})
	m.AddTransition(playing, waiting, nil)
	m.AddTransition(waiting, finished, nil)
	m.AddTransition(playing, finished, nil)
	return m
}

// Status returns the current state id.
func (m *RoomMachine) Status() string {
	return m.GetCurrentState().GetID()
}

// To moves to the state with the given id.
func (m *RoomMachine) To(id string) error {
	next, ok := m.states[id]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrTransitionNotAllowed, id)
	}
	return m.ChangeState(next)
}
