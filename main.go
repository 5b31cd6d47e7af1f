package main

import (
	"net/http"

	"codraft/config/database"
	"codraft/internal/config"
	"codraft/pkg/logger"
	"codraft/router"
	"codraft/socket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Sugar.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Logging.Level)

	db := database.Connect(cfg.Database)
	defer db.Close()

	// The hub is the server side of the change feed: every successful
	// save, share or delete is fanned out to subscribed sessions.
	hub := socket.NewHub(db, cfg.WebSocket)
	go hub.Run()

	handler := router.Setup(cfg, db, hub)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	logger.Sugar.Infof("codraft backend listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Sugar.Fatalf("Server stopped: %v", err)
	}
}
