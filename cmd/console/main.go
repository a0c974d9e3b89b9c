package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"

	"mailbridge/internal/awsutil"
	"mailbridge/internal/backend"
	"mailbridge/internal/config"
	"mailbridge/internal/httpserver"
	"mailbridge/internal/logging"
	"mailbridge/internal/notify"
	"mailbridge/internal/notify/sqsnotify"
	"mailbridge/internal/observability"
	"mailbridge/internal/service"
	"mailbridge/internal/store"
	"mailbridge/internal/store/pg"
	"mailbridge/internal/store/sqlite"
)

func main() {
	cfg := config.LoadConsole()
	logging.InitTo(os.Stdout, "console", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observability.Register(prometheus.DefaultRegisterer)

	client := backend.New(backend.Options{
		BaseURL:   cfg.BaseURL,
		Token:     cfg.Token,
		TokenFile: cfg.TokenFile,
		Timeout:   cfg.HTTPTimeout,
		RPS:       cfg.RPS,
		Burst:     cfg.Burst,
		Breaker: backend.BreakerOptions{
			MaxRequests:         cfg.BreakerMaxRequests,
			Timeout:             cfg.BreakerTimeout,
			ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
		},
	})

	checks := []httpserver.Check{{Name: "backend", Fn: func(c context.Context) error {
		_, err := client.ListCampaigns(c)
		return err
	}}}

	var journal store.Journal = store.Discard{}
	var closeJournal func()
	switch {
	case cfg.DBDSN != "":
		db, err := pg.Open(ctx, cfg.DBDSN, pg.PoolOptions{MaxConns: 4})
		if err != nil {
			slog.Error("console journal connect failed", "err", err)
			os.Exit(1)
		}
		journal, closeJournal = db, db.Close
		checks = append(checks, httpserver.Check{Name: "journal", Fn: db.Ping})
	case cfg.JournalPath != "":
		db, err := sqlite.Open(cfg.JournalPath)
		if err != nil {
			slog.Error("console journal open failed", "err", err, "path", cfg.JournalPath)
			os.Exit(1)
		}
		journal, closeJournal = db, func() { _ = db.Close() }
		checks = append(checks, httpserver.Check{Name: "journal", Fn: db.Ping})
	}

	recent := &notify.Recorder{Max: cfg.NotificationsKept}
	notifiers := notify.Fanout{notify.Log{}, recent}
	if cfg.NotifyQueueURL != "" {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("console sqs client init failed", "err", err)
			os.Exit(1)
		}
		notifiers = append(notifiers, &sqsnotify.Publisher{
			SQS:      sqsClient,
			QueueURL: cfg.NotifyQueueURL,
			FIFO:     cfg.NotifyQueueFIFO,
		})
		checks = append(checks, httpserver.Check{Name: "notify_queue", Fn: func(c context.Context) error {
			_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
				QueueUrl:       &cfg.NotifyQueueURL,
				AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
			})
			return err
		}})
	}

	svc := service.New(service.Options{
		Backend:         client,
		Notifier:        notifiers,
		Journal:         journal,
		PollInterval:    cfg.PollInterval,
		StopWhenAllSent: cfg.StopWhenAllSent,
		SendAllGrace:    cfg.SendAllGrace,
		RefreshTimeout:  cfg.RefreshTimeout,
		WatchLease:      cfg.WatchLease,
	})

	s := httpserver.New()
	s.Mux.Use(httpserver.Metrics(observability.APIRequests))
	api := &httpserver.API{Svc: svc, Notifications: recent}
	api.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, checks...))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.Logging(s.Mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("console shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("console listening", "port", cfg.Port, "backend", cfg.BaseURL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("console server failed", "err", err)
		os.Exit(1)
	}

	svc.Shutdown()
	if closeJournal != nil {
		closeJournal()
	}
}
