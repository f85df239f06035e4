// Package app assembles the store, push transport and HTTP surface shared by
// the worker and API binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"azaan/internal/config"
	"azaan/internal/httpserver"
	"azaan/internal/observability"
	"azaan/internal/providers/fcm"
	"azaan/internal/push"
	"azaan/internal/schedule"
	"azaan/internal/scheduler"
	"azaan/internal/service"
	"azaan/internal/store"
	"azaan/internal/store/memory"
	"azaan/internal/store/pg"
)

const startupTimeout = 3 * time.Second

// OpenStore connects the configured backend, pings it and, for Postgres,
// applies the embedded schema when enabled. The returned func releases it.
func OpenStore(ctx context.Context, cfg config.Store, log *slog.Logger) (store.Store, func(), error) {
	if cfg.Driver == config.StoreMemory {
		log.WarnContext(ctx, "using in-memory store, state is lost on exit")
		return memory.New(), func() {}, nil
	}

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	})
	if err != nil {
		return nil, nil, err
	}

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := db.Ping(startupCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db not reachable: %w", err)
	}
	if cfg.DBMigrate {
		if err := pg.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return pg.New(db), db.Close, nil
}

// NewTransport builds the configured provider behind the rate limiter,
// circuit breaker and call timeout.
func NewTransport(ctx context.Context, cfg config.Push, log *slog.Logger) (*push.Guarded, error) {
	var next push.Transport
	switch cfg.Driver {
	case config.PushLog:
		next = push.LogTransport{Logger: log}
	default:
		c, err := fcm.New(ctx, fcm.Options{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsJSON: cfg.FirebaseCredentialsJSON,
			CredentialsFile: cfg.FirebaseCredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		next = c
	}
	return &push.Guarded{
		Name:    cfg.Driver,
		Next:    next,
		Limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		Breaker: push.NewBreaker(cfg.Driver),
		Timeout: cfg.Timeout,
	}, nil
}

type APIDeps struct {
	Store     store.Store
	Engine    *schedule.Engine
	Transport push.Transport
	Sweeper   *scheduler.Sweeper
	Cache     service.Invalidator   // optional
	Ticks     service.TickRequester // optional
	Started   time.Time
	Logger    *slog.Logger
}

func NewAPI(d APIDeps) *httpserver.API {
	return &httpserver.API{
		Tokens:  &service.TokenService{Store: d.Store, Cache: d.Cache},
		History: &service.HistoryService{Store: d.Store, Cleaner: d.Sweeper},
		Queue:   &service.QueueService{Store: d.Store, Ticks: d.Ticks, Logger: d.Logger},
		Status: &service.StatusService{
			Schedule: d.Engine,
			Location: d.Engine.Location,
			Store:    d.Store,
			Started:  d.Started,
		},
		Tester: &service.TestSender{
			Transport: d.Transport,
			Ledger:    d.Store,
			Location:  d.Engine.Location,
			Logger:    d.Logger,
		},
	}
}

// NewRouter mounts liveness and readiness plus, when api is non-nil, every
// API route, behind the logging, metrics and recovery middleware.
func NewRouter(api *httpserver.API, checks ...httpserver.ReadyzCheck) *mux.Router {
	r := httpserver.New().Mux
	r.Use(httpserver.Recover, httpserver.Logging, httpserver.Metrics(observability.APIRequests))
	r.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, checks...)).Methods(http.MethodGet)
	if api != nil {
		api.Register(r)
	}
	return r
}
