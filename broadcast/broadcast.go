// broadcast/broadcast.go
package broadcast

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/network"
	"github.com/wfunc/mahjongserver/session"
)

// Delivery is one message for one user.
type Delivery struct {
	UserID  string
	Kind    network.Kind
	Payload any
}

// 基于连接目录的广播器。推送尽力而为：写失败只关闭并注销该连接
type Broadcaster struct {
	directory *session.Directory
}

func NewBroadcaster(directory *session.Directory) *Broadcaster {
	return &Broadcaster{directory: directory}
}

// SendToSession pushes one message on a specific connection.
func (b *Broadcaster) SendToSession(s *session.Session, kind network.Kind, payload any) error {
	frame, err := network.Encode(kind, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := s.Send(frame); err != nil {
		b.drop(s, err)
		return err
	}
	return nil
}

// SendToUser pushes one message to the live connection of userID. Users
// without a connection are skipped.
func (b *Broadcaster) SendToUser(userID string, kind network.Kind, payload any) error {
	s, ok := b.directory.ResolveConnection(userID)
	if !ok {
		return nil
	}
	return b.SendToSession(s, kind, payload)
}

// Fanout pushes deliveries concurrently across users while keeping each
// user's messages in order. It returns the first write error after every
// user has been attempted.
func (b *Broadcaster) Fanout(deliveries []Delivery) error {
	var order []string
	perUser := make(map[string][]Delivery)
	for _, d := range deliveries {
		if _, seen := perUser[d.UserID]; !seen {
			order = append(order, d.UserID)
		}
		perUser[d.UserID] = append(perUser[d.UserID], d)
	}

	var g errgroup.Group
	for _, user := range order {
		queue := perUser[user]
		g.Go(func() error {
			for _, d := range queue {
				if err := b.SendToUser(d.UserID, d.Kind, d.Payload); err != nil {
					return fmt.Errorf("push %s to %s: %w", d.Kind, d.UserID, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// NotifyRoom sends a SYSTEM_NOTIFICATION to every player of a room.
func (b *Broadcaster) NotifyRoom(roomID string, players []string, message string) {
	note := network.Notification{Message: message, Time: time.Now().UnixMilli()}
	deliveries := make([]Delivery, 0, len(players))
	for _, p := range players {
		deliveries = append(deliveries, Delivery{UserID: p, Kind: network.KindSystemNotification, Payload: note})
	}
	if err := b.Fanout(deliveries); err != nil {
		logger.Log.Warnw("room notification incomplete", "room", roomID, "error", err)
	}
}

func (b *Broadcaster) drop(s *session.Session, cause error) {
	logger.Log.Warnw("push failed, closing connection", "user", s.UserID, "session", s.ID, "error", cause)
	s.Close()
	b.directory.Unregister(s.ID)
}
