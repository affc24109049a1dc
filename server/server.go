package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/wfunc/mahjongserver/apperr"
	"github.com/wfunc/mahjongserver/auth"
	"github.com/wfunc/mahjongserver/cleanup"
	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/monitor"
	"github.com/wfunc/mahjongserver/network"
	"github.com/wfunc/mahjongserver/router"
	gamerpc "github.com/wfunc/mahjongserver/rpc"
	"github.com/wfunc/mahjongserver/session"
)

// Options 服务器参数
type Options struct {
	HTTPAddress    string
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// Deps are the components the server wires together. RPC, Health and
// Cleaner are optional.
type Deps struct {
	Verifier  *auth.Verifier
	Directory *session.Directory
	Router    *router.Router
	Monitor   *monitor.Monitor
	RPC       *gamerpc.Server
	Health    *gamerpc.HealthServer
	Cleaner   *cleanup.Cleaner
}

type GameServer struct {
	opts         Options
	deps         Deps
	engine       *gin.Engine
	httpServer   *http.Server
	upgrader     websocket.Upgrader
	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

func NewGameServer(opts Options, deps Deps) *GameServer {
	s := &GameServer{
		opts:         opts,
		deps:         deps,
		shutdownChan: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestLogger(), cors.New(s.corsConfig()))

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(deps.Monitor.Handler()))
	engine.GET("/ws", s.handleWebSocket)

	api := engine.Group("/api/rooms", Authenticate(deps.Verifier))
	api.POST("", s.handleCreateRoom)
	api.GET("", s.handleListRooms)
	api.GET("/:roomId", s.handleGetRoom)
	api.POST("/:roomId/join", s.handleJoinRoom)
	api.POST("/:roomId/start", s.handleStartGame)
	api.POST("/:roomId/leave", s.handleLeaveRoom)

	s.engine = engine
	s.httpServer = &http.Server{
		Addr:              opts.HTTPAddress,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the HTTP routes, for tests and embedding.
func (s *GameServer) Handler() http.Handler {
	return s.engine
}

// Start runs the optional side services and blocks serving HTTP.
func (s *GameServer) Start() error {
	if s.deps.RPC != nil {
		go s.deps.RPC.Start()
	}
	if s.deps.Health != nil {
		go s.deps.Health.Start()
		s.deps.Health.SetServing(true)
	}
	if s.deps.Cleaner != nil {
		s.deps.Cleaner.Start()
	}

	logger.Log.Infof("Game server listening on %s", s.opts.HTTPAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting work, closes live connections and stops every
// side service. All failures are reported together.
func (s *GameServer) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
		if s.deps.Health != nil {
			s.deps.Health.SetServing(false)
		}
		err = multierr.Append(err, s.httpServer.Shutdown(ctx))
		s.deps.Directory.CloseAll()
		if s.deps.Cleaner != nil {
			s.deps.Cleaner.Stop()
		}
		if s.deps.RPC != nil {
			err = multierr.Append(err, s.deps.RPC.Stop())
		}
		if s.deps.Health != nil {
			s.deps.Health.Stop()
		}
	})
	return err
}

func (s *GameServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"online": s.deps.Directory.Count(),
		"uptime": s.deps.Monitor.Uptime().Seconds(),
	})
}

// --- WebSocket ---

func (s *GameServer) handleWebSocket(c *gin.Context) {
	id, err := s.deps.Verifier.Verify(auth.TokenFromRequest(c.Request))
	if err != nil {
		logger.Log.Infow("websocket handshake rejected", "remote", c.ClientIP(), "error", err)
		writeError(c, err)
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn, id)
}

func (s *GameServer) handleConnection(conn *websocket.Conn, id auth.Identity) {
	wsConn := network.NewWSConnection(conn, s.opts.WriteTimeout)
	sess := session.NewSession(wsConn, id.Email, id.Nickname)
	s.deps.Directory.Register(sess)
	s.deps.Monitor.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, user %s, session ID: %s", wsConn.RemoteAddr(), id.Email, sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.deps.Directory.Unregister(sess.GetID())
		s.deps.Monitor.DecOnlinePlayers()
		wsConn.Close()
	}()

	wsConn.KeepAlive(s.opts.PingInterval)
	s.deps.Router.Welcome(sess)

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			frame, err := wsConn.ReadMessage()
			if err != nil {
				return
			}
			s.deps.Router.Handle(sess.GetID(), frame)
		}
	}
}

// --- REST ---

type joinBody struct {
	Password string `json:"password"`
}

func (s *GameServer) handleCreateRoom(c *gin.Context) {
	info, err := s.deps.Router.CreateRoom(identityFrom(c).Email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *GameServer) handleListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Router.ListRooms(identityFrom(c).Email))
}

func (s *GameServer) handleGetRoom(c *gin.Context) {
	info, err := s.deps.Router.RoomInfo(identityFrom(c).Email, c.Param("roomId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *GameServer) handleJoinRoom(c *gin.Context) {
	var body joinBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperr.Wrap(apperr.ErrBadRequest, "invalid body: %v", err))
		return
	}
	info, err := s.deps.Router.JoinRoom(identityFrom(c).Email, c.Param("roomId"), body.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *GameServer) handleStartGame(c *gin.Context) {
	if err := s.deps.Router.StartGame(identityFrom(c).Email, c.Param("roomId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Game started"})
}

func (s *GameServer) handleLeaveRoom(c *gin.Context) {
	if err := s.deps.Router.LeaveRoom(identityFrom(c).Email, c.Param("roomId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left room"})
}

// --- CORS ---

func (s *GameServer) allowAllOrigins() bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *GameServer) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if s.allowAllOrigins() {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.AllowedOrigins
		cfg.AllowCredentials = true
	}
	return cfg
}

func (s *GameServer) checkOrigin(r *http.Request) bool {
	if s.allowAllOrigins() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
