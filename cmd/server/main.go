package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"shared-list-server/internal/config"
	"shared-list-server/internal/handler"
	"shared-list-server/internal/kvstore"
	"shared-list-server/internal/logging"
	"shared-list-server/internal/middleware"
	"shared-list-server/internal/notify"
	"shared-list-server/internal/repository"
	"shared-list-server/internal/service"
	"shared-list-server/internal/stream"

	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format).
		With("service", "shared-list-server", "env", cfg.Server.Env)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := kvstore.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	logger.Info("Store opened", "driver", cfg.Store.Driver)

	broker, err := newBroker(cfg, logger)
	if err != nil {
		store.Close(context.Background())
		return err
	}

	listRepo := repository.NewListRepository(store)
	listService := service.NewListService(listRepo, broker, logger)

	hub := stream.NewHub(cfg.Stream.MaxConnPerList, logger)
	go hub.Run(ctx)
	streamer := stream.NewStreamer(listService, broker, hub, cfg.StreamOptions(), logger)

	listHandler := handler.NewListHandler(listService, hub, logger)
	streamHandler := handler.NewStreamHandler(listHandler, streamer)

	r := mux.NewRouter()

	if cfg.Logging.AccessLog {
		r.Use(middleware.LoggerMiddleware(logger))
	}
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	handler.RegisterRoutes(api, listHandler, streamHandler)

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	// WriteTimeout stays zero: streams are long-lived responses.
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting shared list server", "addr", addr, "notify", cfg.Notify.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", "error", err)
	}
	if err := broker.Close(); err != nil {
		logger.Warn("Failed to close broker", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("Failed to close store", "error", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func newBroker(cfg *config.Config, logger *logging.Logger) (notify.Broker, error) {
	if cfg.Notify.Driver == "nats" {
		b, err := notify.NewNATS(cfg.Notify.NATSURL, cfg.Notify.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to NATS", "url", cfg.Notify.NATSURL)
		return b, nil
	}
	return notify.NewLocal(), nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"shared-list-server"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"Shared List Server API","version":"1.0.0","endpoints":{"/api/v1/lists":"POST","/api/v1/lists/{id}":"GET, DELETE","/api/v1/lists/{id}/sync":"POST","/api/v1/lists/{id}/stream":"GET (SSE or WebSocket)","/api/v1/lists/{id}/activity":"GET","/api/v1/lists/{id}/subscribers":"GET"}}`))
}
