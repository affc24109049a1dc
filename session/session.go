// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/network"
)

// Session binds one live connection to an authenticated user.
type Session struct {
	ID        string
	Conn      network.Connection
	UserID    string
	Nickname  string
	CreatedAt time.Time

	lastActive time.Time
	mutex      sync.RWMutex
}

func NewSession(conn network.Connection, userID, nickname string) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		Conn:       conn,
		UserID:     userID,
		Nickname:   nickname,
		CreatedAt:  now,
		lastActive: now,
	}
}

func (s *Session) Send(frame []byte) error {
	s.Touch()
	return s.Conn.Send(frame)
}

// Touch records inbound or outbound activity.
func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Directory 连接目录: user <-> session，一个用户同时只有一个连接
type Directory struct {
	byID   map[string]*Session
	byUser map[string]*Session
	mutex  sync.RWMutex
}

func NewDirectory() *Directory {
	return &Directory{
		byID:   make(map[string]*Session),
		byUser: make(map[string]*Session),
	}
}

// Register binds s to its user, replacing any earlier session of that user.
// Both maps change under one lock so lookups never observe a half-replaced
// binding. The evicted session is closed after the lock is released and
// returned to the caller.
func (d *Directory) Register(s *Session) (evicted *Session) {
	d.mutex.Lock()
	if prev, ok := d.byUser[s.UserID]; ok && prev != s {
		delete(d.byID, prev.ID)
		evicted = prev
	}
	d.byUser[s.UserID] = s
	d.byID[s.ID] = s
	d.mutex.Unlock()

	if evicted != nil {
		logger.Log.Infow("session evicted", "user", s.UserID, "old", evicted.ID, "new", s.ID)
		evicted.Close()
	}
	logger.Log.Infow("session registered", "user", s.UserID, "session", s.ID)
	return evicted
}

// Unregister drops the session with sessionID. The user binding is removed
// only if it still points at this session, so a late unregister of an evicted
// connection cannot unbind its replacement.
func (d *Directory) Unregister(sessionID string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	s, ok := d.byID[sessionID]
	if !ok {
		return
	}
	delete(d.byID, sessionID)
	if cur, ok := d.byUser[s.UserID]; ok && cur == s {
		delete(d.byUser, s.UserID)
	}
	logger.Log.Infow("session unregistered", "user", s.UserID, "session", sessionID)
}

// ResolveUser returns the user bound to sessionID.
func (d *Directory) ResolveUser(sessionID string) (string, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	s, ok := d.byID[sessionID]
	if !ok {
		return "", false
	}
	return s.UserID, true
}

// ResolveConnection returns the live session of userID.
func (d *Directory) ResolveConnection(userID string) (*Session, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	s, ok := d.byUser[userID]
	return s, ok
}

// Get looks a session up by its id.
func (d *Directory) Get(sessionID string) (*Session, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	s, ok := d.byID[sessionID]
	return s, ok
}

// CloseAll closes every registered connection. Read loops notice and
// unregister their own sessions.
func (d *Directory) CloseAll() {
	d.mutex.RLock()
	sessions := make([]*Session, 0, len(d.byID))
	for _, s := range d.byID {
		sessions = append(sessions, s)
	}
	d.mutex.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Count returns the number of connected users.
func (d *Directory) Count() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.byUser)
}
