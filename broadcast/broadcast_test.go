package broadcast

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/wfunc/mahjongserver/network"
	"github.com/wfunc/mahjongserver/session"
)

// MockConnection records every frame it is sent.
type MockConnection struct {
	mu     sync.Mutex
	Frames [][]byte
	Fail   bool
	Closed bool
}

func (m *MockConnection) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return errors.New("broken pipe")
	}
	m.Frames = append(m.Frames, frame)
	return nil
}

func (m *MockConnection) ReadMessage() ([]byte, error) { return nil, nil }
func (m *MockConnection) RemoteAddr() net.Addr         { return &net.TCPAddr{} }

func (m *MockConnection) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	return nil
}

func (m *MockConnection) kinds(t *testing.T) []network.Kind {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []network.Kind
	for _, f := range m.Frames {
		env, err := network.Decode(f)
		if err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		out = append(out, env.Type)
	}
	return out
}

func connect(d *session.Directory, user string) (*session.Session, *MockConnection) {
	conn := &MockConnection{}
	s := session.NewSession(conn, user, user)
	d.Register(s)
	return s, conn
}

func TestFanoutKeepsPerUserOrder(t *testing.T) {
	dir := session.NewDirectory()
	b := NewBroadcaster(dir)
	_, alice := connect(dir, "alice")
	_, bob := connect(dir, "bob")

	err := b.Fanout([]Delivery{
		{UserID: "alice", Kind: network.KindAction, Payload: "a1"},
		{UserID: "bob", Kind: network.KindAction, Payload: "b1"},
		{UserID: "alice", Kind: network.KindGameState, Payload: "a2"},
		{UserID: "carol", Kind: network.KindGameState, Payload: "offline"},
		{UserID: "bob", Kind: network.KindGameState, Payload: "b2"},
	})
	if err != nil {
		t.Fatalf("Fanout failed: %v", err)
	}

	for name, conn := range map[string]*MockConnection{"alice": alice, "bob": bob} {
		got := conn.kinds(t)
		if len(got) != 2 || got[0] != network.KindAction || got[1] != network.KindGameState {
			t.Errorf("Expected ACTION then GAME_STATE for %s, got %v", name, got)
		}
	}
}

func TestFailedWriteDropsOnlyThatConnection(t *testing.T) {
	dir := session.NewDirectory()
	b := NewBroadcaster(dir)
	_, alice := connect(dir, "alice")
	broken, bobConn := connect(dir, "bob")
	bobConn.Fail = true

	err := b.Fanout([]Delivery{
		{UserID: "alice", Kind: network.KindAction, Payload: 1},
		{UserID: "bob", Kind: network.KindAction, Payload: 1},
	})
	if err == nil {
		t.Fatal("Expected the failed push to be reported")
	}
	if !bobConn.Closed {
		t.Error("Expected bob's connection to be closed")
	}
	if _, ok := dir.ResolveUser(broken.ID); ok {
		t.Error("Expected bob's session to be unregistered")
	}
	if len(alice.kinds(t)) != 1 || alice.Closed {
		t.Error("Alice should be unaffected by bob's failure")
	}
}

func TestNotifyRoom(t *testing.T) {
	dir := session.NewDirectory()
	b := NewBroadcaster(dir)
	_, alice := connect(dir, "alice")

	b.NotifyRoom("101", []string{"alice", "ghost"}, "Room 101 will expire in 30 minutes")

	alice.mu.Lock()
	defer alice.mu.Unlock()
	if len(alice.Frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(alice.Frames))
	}
	var env struct {
		Type network.Kind         `json:"type"`
		Data network.Notification `json:"data"`
	}
	if err := json.Unmarshal(alice.Frames[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != network.KindSystemNotification || env.Data.Message != "Room 101 will expire in 30 minutes" {
		t.Errorf("Unexpected notification %+v", env)
	}
}
