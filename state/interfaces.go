// state/interfaces.go
package state

// RoomContext is the view of a room the lifecycle states need. Its methods are
// called while the room's own lock is held and must not lock again.
type RoomContext interface {
	GetID() string
	SeatCount() int
}
