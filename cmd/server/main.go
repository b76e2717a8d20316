// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/nowplaying/internal/api/connect"
	"github.com/osa030/nowplaying/internal/api/ws"
	"github.com/osa030/nowplaying/internal/app/session"
	"github.com/osa030/nowplaying/internal/infra/config"
	"github.com/osa030/nowplaying/internal/infra/engine"
	"github.com/osa030/nowplaying/internal/infra/history"
	"github.com/osa030/nowplaying/internal/infra/logger"
	"github.com/osa030/nowplaying/internal/infra/redispub"
)

var (
	app        = kingpin.New("nowplaying-server", "nowplaying playback daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func init() {
	app.Command("start", "Start the server (default)").Default()
	app.Command("check-config", "Validate the config file and exit")
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == "check-config" {
		fmt.Printf("config ok: engine=%s addr=%s\n", cfg.Engine.Type, cfg.Server.Addr)
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		logCloser.Close()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	var (
		recorder session.Recorder
		reader   apiconnect.HistoryReader
	)
	if cfg.History.Enabled {
		store := history.NewStore(cfg.History.Path)
		if err := store.Open(); err != nil {
			return errors.Wrap(err, "failed to open history")
		}
		defer store.Close()
		recorder, reader = store, store
	}

	sessionMgr, err := session.NewManager(cfg, engine.New, recorder)
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}

	if cfg.Redis.Enabled {
		publisher, err := redispub.New(ctx, redispub.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			_ = sessionMgr.Close(ctx)
			return errors.Wrap(err, "failed to connect to redis")
		}
		defer publisher.Close()
		sessionMgr.GetNotificationManager().Subscribe(publisher)
		zlog.Info().Msgf("Publishing snapshots to redis: addr=%s channel=%s", cfg.Redis.Addr, cfg.Redis.Channel)
	}

	playerService := apiconnect.NewPlayerService(sessionMgr, reader)
	playerPath, playerHandler := playerService.Handler(
		connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Server.Token)),
	)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	ws.NewServer(sessionMgr, cfg.Server.Token).Mount(r)
	r.Handle(playerPath+"*", playerHandler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(r, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)

	sessionMgr.Start()

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s engine=%s", cfg.Server.Addr, cfg.Engine.Type)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case <-sessionMgr.Done():
		zlog.Info().Msg("Session ended, shutting down...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close session manager first to terminate active connections/streams
	if err := sessionMgr.Close(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to close session: %v", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return runErr
}
