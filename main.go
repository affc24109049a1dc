package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/wfunc/mahjongserver/auth"
	"github.com/wfunc/mahjongserver/broadcast"
	"github.com/wfunc/mahjongserver/cleanup"
	"github.com/wfunc/mahjongserver/config"
	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/monitor"
	"github.com/wfunc/mahjongserver/room"
	"github.com/wfunc/mahjongserver/router"
	gamerpc "github.com/wfunc/mahjongserver/rpc"
	"github.com/wfunc/mahjongserver/server"
	"github.com/wfunc/mahjongserver/session"
)

func main() {
	configPath := pflag.StringP("config", "c", ".", "directory containing config.yaml")
	pflag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Development)
	defer logger.Sync()

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Log.Warn("auth.jwt_secret is empty, using a random secret; tokens will not survive a restart")
	}

	directory := session.NewDirectory()
	broadcaster := broadcast.NewBroadcaster(directory)
	rooms := room.NewRoomManager(room.Options{
		TTL:           cfg.Room.TTL,
		RecentActions: cfg.Game.RecentActions,
		Notifier:      broadcaster,
	})
	mon := monitor.NewMonitor("mahjong", prometheus.NewRegistry())

	cleaner, err := cleanup.New(rooms, mon, cfg.Room.CleanupSchedule, cfg.Room.ExpiryWarning)
	if err != nil {
		logger.Log.Fatalf("Invalid cleanup schedule %q: %v", cfg.Room.CleanupSchedule, err)
	}

	rpcServer, err := gamerpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to listen for RPC: %v", err)
	}
	if err := rpcServer.Register("Admin", gamerpc.NewAdminService(rooms, cleaner)); err != nil {
		logger.Log.Fatalf("Failed to register admin service: %v", err)
	}

	health, err := gamerpc.NewHealthServer(cfg.Server.HealthAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to listen for health checks: %v", err)
	}

	// Initialize Game Server
	gameServer := server.NewGameServer(server.Options{
		HTTPAddress:    cfg.Server.HTTPAddress,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.WebSocket.PingInterval,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
	}, server.Deps{
		Verifier:  auth.NewVerifier(secret, cfg.Auth.Issuer),
		Directory: directory,
		Router:    router.New(rooms, directory, broadcaster, mon),
		Monitor:   mon,
		RPC:       rpcServer,
		Health:    health,
		Cleaner:   cleaner,
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Log.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gameServer.Shutdown(ctx); err != nil {
			logger.Log.Errorw("shutdown", "error", err)
		}
	}()

	// Start Server
	if err := gameServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
	logger.Log.Info("Server stopped")
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
