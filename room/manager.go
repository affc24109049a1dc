package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/mahjongserver/apperr"
	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/tile"
)

const maxRoomCode = 999

// Options 房间管理器参数
type Options struct {
	TTL           time.Duration
	RecentActions int
	Now           func() time.Time
	Shuffle       Shuffler
	Notifier      Notifier
}

func (o *Options) defaults() {
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.RecentActions <= 0 {
		o.RecentActions = 20
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Shuffle == nil {
		o.Shuffle = func(deck []tile.Tile) []tile.Tile { return tile.Shuffle(deck, nil) }
	}
}

// --- 房间管理器 ---

// Manager 管理所有房间
type Manager struct {
	rooms map[string]*Room
	mutex sync.RWMutex
	opts  Options
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager(opts Options) *Manager {
	opts.defaults()
	return &Manager{
		rooms: make(map[string]*Room),
		opts:  opts,
	}
}

// CreateRoom opens a room with a free 3-digit code and a 4-digit password,
// seating creator.
func (m *Manager) CreateRoom(creator string) (*Room, error) {
	if creator == "" {
		return nil, apperr.ErrUnauthenticated
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	id, err := m.freeCodeLocked()
	if err != nil {
		return nil, err
	}
	n, err := randomInt(10000)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "generate password: %v", err)
	}

	room := newRoom(id, fmt.Sprintf("%04d", n), creator, m.opts)
	m.rooms[id] = room
	logger.Log.Infow("room created", "room", id, "creator", creator)
	return room, nil
}

// freeCodeLocked picks a random unused code, falling back to a scan when the
// code space is crowded.
func (m *Manager) freeCodeLocked() (string, error) {
	for i := 0; i < 32; i++ {
		n, err := randomInt(maxRoomCode)
		if err != nil {
			return "", apperr.Wrap(apperr.ErrInternal, "generate room code: %v", err)
		}
		code := fmt.Sprintf("%03d", n+1)
		if _, taken := m.rooms[code]; !taken {
			return code, nil
		}
	}
	for n := 1; n <= maxRoomCode; n++ {
		code := fmt.Sprintf("%03d", n)
		if _, taken := m.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", apperr.ErrNoRoomCodes
}

func randomInt(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// RemoveRoom 从管理器中移除并关闭一个房间
func (m *Manager) RemoveRoom(id string) {
	m.mutex.Lock()
	room, exists := m.rooms[id]
	delete(m.rooms, id)
	m.mutex.Unlock()

	if exists {
		room.close()
		logger.Log.Infow("room removed", "room", id)
	}
}

// ListActive returns the rooms that have not expired, oldest first.
func (m *Manager) ListActive() []*Room {
	now := m.opts.Now()

	m.mutex.RLock()
	active := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if !r.Expired(now) {
			active = append(active, r)
		}
	}
	m.mutex.RUnlock()

	sortRooms(active)
	return active
}

// Count 房间数
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// SweepReport summarises one SweepExpired pass.
type SweepReport struct {
	Expired      []string `json:"expired"`
	ExpiringSoon []string `json:"expiringSoon"`
	Deleted      int      `json:"deleted"`
}

// SweepExpired notifies and deletes expired rooms, then warns rooms that
// expire within warnWithin. Players of an expired room are told before the
// room disappears.
func (m *Manager) SweepExpired(warnWithin time.Duration) SweepReport {
	now := m.opts.Now()

	m.mutex.RLock()
	var expired, expiring []*Room
	for _, r := range m.rooms {
		switch {
		case r.Expired(now):
			expired = append(expired, r)
		case warnWithin > 0 && r.ExpiresAt().Sub(now) <= warnWithin:
			expiring = append(expiring, r)
		}
	}
	m.mutex.RUnlock()
	sortRooms(expired)
	sortRooms(expiring)

	report := SweepReport{Expired: []string{}, ExpiringSoon: []string{}}
	for _, r := range expired {
		m.notify(r, fmt.Sprintf("Room %s has expired and is now closed", r.ID))

		m.mutex.Lock()
		if cur, ok := m.rooms[r.ID]; ok && cur == r {
			delete(m.rooms, r.ID)
			report.Deleted++
		}
		m.mutex.Unlock()
		r.close()
		report.Expired = append(report.Expired, r.ID)
	}
	for _, r := range expiring {
		minutes := int(r.ExpiresAt().Sub(now).Minutes())
		m.notify(r, fmt.Sprintf("Room %s will expire in %d minutes", r.ID, minutes))
		report.ExpiringSoon = append(report.ExpiringSoon, r.ID)
	}

	if report.Deleted > 0 || len(report.ExpiringSoon) > 0 {
		logger.Log.Infow("room sweep", "deleted", report.Deleted, "expiringSoon", len(report.ExpiringSoon))
	}
	return report
}

func (m *Manager) notify(r *Room, message string) {
	if m.opts.Notifier == nil {
		return
	}
	m.opts.Notifier.NotifyRoom(r.ID, r.Players(), message)
}

func sortRooms(rooms []*Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
}
