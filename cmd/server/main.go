// Package main is the entry point of the application
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/pvp-server/internal/auth"
	"github.com/tecu23/pvp-server/pkg/config"
	"github.com/tecu23/pvp-server/pkg/events"
	"github.com/tecu23/pvp-server/pkg/manager"
	"github.com/tecu23/pvp-server/pkg/matchmaker"
	"github.com/tecu23/pvp-server/pkg/repository"
	"github.com/tecu23/pvp-server/pkg/rules"
	"github.com/tecu23/pvp-server/pkg/server"
)

// application encapsulates global dependencies
type application struct {
	Auth       *auth.APIKeyAuth
	Logger     *zap.Logger
	Config     *config.Config
	Publisher  *events.Publisher
	Repository *repository.InMemorySessionRepository
	Hub        *server.Hub
	Server     *http.Server
	Upgrader   websocket.Upgrader

	StartTime time.Time
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	// Initialize logger
	logger := initLogger(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	app := newApplication(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.Hub.Run(ctx)

	if err := app.serve(); err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

// newApplication wires the session stack behind the hub
func newApplication(cfg *config.Config, logger *zap.Logger) *application {
	// Initialize event publisher
	publisher := events.NewPublisher()
	publisher.SubscribeAll(func(event events.Event) {
		logger.Debug("event",
			zap.String("type", string(event.Type)),
			zap.String("game_id", event.GameID),
			zap.Any("payload", event.Payload),
		)
	})

	// Initialize repository
	repo := repository.NewInMemoryRepository(logger)

	mm := matchmaker.New(matchmaker.Params{
		Engine:       rules.NewChessEngine(),
		Repository:   repo,
		Publisher:    publisher,
		Logger:       logger,
		TickInterval: cfg.TickInterval,
	})

	// Initialize game manager
	gm := manager.NewManager(logger, publisher, mm, repo)

	hub := server.NewHub(server.HubParams{
		Manager:            gm,
		DefaultTimeControl: cfg.DefaultTimeControl(),
		SendBuffer:         cfg.SendBuffer,
		Publisher:          publisher,
		Logger:             logger,
	})

	app := &application{
		Auth:       auth.NewAPIKeyAuth(cfg.APIKeys),
		Logger:     logger,
		Config:     cfg,
		Hub:        hub,
		Publisher:  publisher,
		Repository: repo,
		StartTime:  time.Now(),
	}
	app.Upgrader = app.newUpgrader()

	return app
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	// Shut down hub
	if app.Hub != nil {
		app.Hub.Shutdown()
	}

	app.Logger.Info("All components shut down successfully")
}
