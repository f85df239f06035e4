package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"azaan/internal/app"
	"azaan/internal/awsutil"
	"azaan/internal/config"
	"azaan/internal/httpserver"
	"azaan/internal/logging"
	"azaan/internal/observability"
	sqsqueue "azaan/internal/queue/sqs"
	"azaan/internal/scheduler"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		slog.Error("api config invalid", "err", err)
		os.Exit(1)
	}
	log := logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := cfg.Engine()
	if err != nil {
		log.Error("api location invalid", "err", err)
		os.Exit(1)
	}

	st, closeStore, err := app.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		log.Error("api store init failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	transport, err := app.NewTransport(ctx, cfg.Push, log)
	if err != nil {
		log.Error("api push transport init failed", "err", err, "driver", cfg.Push.Driver)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	// The worker's token cache lives in another process here; its TTL bounds
	// how long a registry change goes unseen.
	deps := app.APIDeps{
		Store:     st,
		Engine:    eng,
		Transport: transport,
		Sweeper:   &scheduler.Sweeper{Store: st, HistoryRetention: cfg.HistoryRetention, Logger: log},
		Started:   time.Now(),
		Logger:    log,
	}
	if cfg.SQSTickQueueURL != "" {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			log.Error("api sqs client init failed", "err", err)
			os.Exit(1)
		}
		deps.Ticks = &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSTickQueueURL}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.NewRouter(app.NewAPI(deps), st.Ping),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := httpserver.NewMetrics(":" + cfg.MetricsPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info("api metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api metrics server failed", "err", err)
		}
	}()

	log.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("api server failed", "err", err)
		closeStore()
		os.Exit(1)
	}
}
