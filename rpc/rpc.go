package rpc

import (
	"errors"
	"io"
	"net"
	"net/rpc"

	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/room"
)

// Server manages the RPC listener.
type Server struct {
	listener  net.Listener
	address   string
	rpcServer *rpc.Server
}

// NewServer creates a new RPC server listening on addr.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener:  listener,
		address:   listener.Addr().String(),
		rpcServer: rpc.NewServer(),
	}, nil
}

// Register exposes rcvr's exported methods under name.
func (s *Server) Register(name string, rcvr any) error {
	return s.rpcServer.RegisterName(name, rcvr)
}

// Addr is the bound address.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.ServeConn(conn)
	}
}

// ServeConn serves a single connection until the client hangs up.
func (s *Server) ServeConn(conn io.ReadWriteCloser) {
	s.rpcServer.ServeConn(conn)
}

// Stop closes the RPC listener.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	logger.Log.Info("Stopping RPC server.")
	return s.listener.Close()
}

// RoomLister is the read side of the room registry.
type RoomLister interface {
	ListActive() []*room.Room
}

// Sweeper triggers a cleanup pass on demand.
type Sweeper interface {
	RunOnce() room.SweepReport
}

// AdminService exposes operator methods. Methods follow the net/rpc
// signature: exported method, exported args, pointer reply, error result.
type AdminService struct {
	rooms   RoomLister
	sweeper Sweeper
}

// NewAdminService creates a new AdminService.
func NewAdminService(rooms RoomLister, sweeper Sweeper) *AdminService {
	return &AdminService{rooms: rooms, sweeper: sweeper}
}

type ListRoomsArgs struct {
	Limit int // 0 means all
}

type ListRoomsReply struct {
	Rooms []room.Info
}

// ListRooms returns every active room. Passwords are never included.
func (a *AdminService) ListRooms(args *ListRoomsArgs, reply *ListRoomsReply) error {
	for _, r := range a.rooms.ListActive() {
		if args.Limit > 0 && len(reply.Rooms) >= args.Limit {
			break
		}
		reply.Rooms = append(reply.Rooms, r.Info(""))
	}
	return nil
}

type SweepArgs struct {
	Operator string
}

type SweepReply struct {
	Report room.SweepReport
}

// Sweep runs the expired room cleanup immediately.
func (a *AdminService) Sweep(args *SweepArgs, reply *SweepReply) error {
	logger.Log.Infow("manual room sweep", "operator", args.Operator)
	reply.Report = a.sweeper.RunOnce()
	return nil
}
