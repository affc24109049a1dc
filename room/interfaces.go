package room

// Notifier delivers a free-text system notice to a room's players.
// This is defined here to break the import cycle between room and broadcast.
type Notifier interface {
	NotifyRoom(roomID string, players []string, message string)
}
