package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"mailbridge/internal/config"
	"mailbridge/internal/httpserver"
	"mailbridge/internal/logging"
	"mailbridge/internal/mockbackend"
	"mailbridge/internal/util"
)

func main() {
	cfg := config.LoadMockBackend()
	logging.InitTo(os.Stdout, "mock-backend", cfg.LogFormat, cfg.LogLevel)

	st := mockbackend.NewStore()
	if cfg.Seed {
		mockbackend.Seed(st, util.NowUTC())
	}

	mb := mockbackend.New(st, cfg.Token)
	mb.Delay = cfg.SendDelay
	mb.FailureRatio = cfg.FailureRatio
	mb.DailyLimit = cfg.DailyLimit
	mb.From = cfg.From

	router := mux.NewRouter()
	mb.Register(router)
	router.HandleFunc("/healthz", httpserver.Healthz())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.Logging(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("mock backend shutdown", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("mock backend listening", "port", cfg.Port, "auth", cfg.Token != "")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("mock backend server failed", "err", err)
		os.Exit(1)
	}
	mb.Close()
}
