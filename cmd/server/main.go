package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	streamchatui "github.com/MegaGrindStone/stream-chat-ui"
	"github.com/MegaGrindStone/stream-chat-ui/internal/handlers"
	"github.com/MegaGrindStone/stream-chat-ui/internal/services"
	"github.com/MegaGrindStone/stream-chat-ui/internal/session"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, configDirName)
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFilePath := flag.String("config", filepath.Join(cfgPath, "server.yaml"), "path of the YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgFilePath, cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("Config loaded",
		slog.String("port", cfg.Port),
		slog.String("endpointURL", cfg.EndpointURL),
		slog.Bool("history", cfg.History.Enabled))

	endpoint := services.NewChatEndpoint(cfg.EndpointURL, nil, logger)

	var opts []session.Option
	var archive *services.BoltDB
	if cfg.History.Enabled {
		db, err := services.NewBoltDB(cfg.History.Path)
		if err != nil {
			logger.Error("Failed to open history", slog.String("err", err.Error()))
			os.Exit(1)
		}
		archive = &db

		history, err := db.Messages(context.Background())
		if err != nil {
			logger.Error("Failed to load history", slog.String("err", err.Error()))
			os.Exit(1)
		}
		opts = append(opts, session.WithHistory(history))
	}

	sess := session.New(endpoint, logger, opts...)
	if archive != nil {
		stopArchive := sess.ArchiveTo(archive)
		defer func() {
			stopArchive()
			if err := archive.Close(); err != nil {
				logger.Error("Failed to close history", slog.String("err", err.Error()))
			}
		}()
	}

	m, err := handlers.NewMain(sess, sess.Transcript(), sess.Loading(), logger)
	if err != nil {
		logger.Error("Failed to create handlers", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// Serve static files
	staticFS, err := fs.Sub(streamchatui.StaticFS, "static")
	if err != nil {
		logger.Error("Failed to open static files", slog.String("err", err.Error()))
		os.Exit(1)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/clear", m.HandleClear)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
