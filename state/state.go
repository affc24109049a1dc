package state

import (
	"errors"
	"fmt"
	"sync"
)

// 状态机接口
type StateMachine interface {
	ChangeState(state State) error
	GetCurrentState() State
	AddTransition(from State, to State, guard Guard)
}

// 状态接口
type State interface {
	OnEnter()
	OnExit()
	GetID() string
}

// Guard vets a registered transition. A non-nil error vetoes it and is
// returned from ChangeState unchanged.
type Guard func() error

// ErrTransitionNotAllowed is returned for a transition that was never registered.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

type edge struct {
	from, to string
}

// 基础状态机实现。只有登记过的转换才能执行
type BaseStateMachine struct {
	currentState State
	transitions  map[edge]Guard
	mutex        sync.RWMutex
}

var _ StateMachine = (*BaseStateMachine)(nil)

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[edge]Guard),
	}
	initialState.OnEnter()
	return machine
}

func (sm *BaseStateMachine) ChangeState(newState State) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	e := edge{from: sm.currentState.GetID(), to: newState.GetID()}
	guard, ok := sm.transitions[e]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, e.from, e.to)
	}
	if guard != nil {
		if err := guard(); err != nil {
			return err
		}
	}

	sm.currentState.OnExit()
	sm.currentState = newState
	sm.currentState.OnEnter()
	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// AddTransition registers from -> to. A nil guard always allows it.
func (sm *BaseStateMachine) AddTransition(from State, to State, guard Guard) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.transitions[edge{from: from.GetID(), to: to.GetID()}] = guard
}

// 房间状态基础结构，OnEnter/OnExit 默认不做事
type RoomStateBase struct {
	ID   string
	Room RoomContext
}

func (s *RoomStateBase) GetID() string { return s.ID }
func (s *RoomStateBase) OnEnter()      {}
func (s *RoomStateBase) OnExit()       {}
