package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"azaan/internal/prayertime"
	"azaan/internal/schedule"
)

const (
	RunOnce = "once"
	RunLoop = "loop"
	RunSQS  = "sqs"

	StorePostgres = "postgres"
	StoreMemory   = "memory"

	PushFCM = "fcm"
	PushLog = "log"
)

// Location is the single place every prayer time is computed for.
type Location struct {
	Latitude    float64 `envconfig:"LATITUDE" default:"19.0760" validate:"gte=-90,lte=90"`
	Longitude   float64 `envconfig:"LONGITUDE" default:"72.8777" validate:"gte=-180,lte=180"`
	Elevation   float64 `envconfig:"ELEVATION" default:"0"`
	Timezone    string  `envconfig:"TIMEZONE" default:"Asia/Kolkata" validate:"required"`
	Method      string  `envconfig:"CALC_METHOD" default:"MWL"`
	AsrJuristic string  `envconfig:"ASR_JURISTIC" default:"standard"`
	HighLatRule string  `envconfig:"HIGH_LAT_RULE" default:"NightMiddle"`
}

type Store struct {
	Driver            string        `envconfig:"STORE_DRIVER" default:"postgres" validate:"oneof=postgres memory"`
	DBDSN             string        `envconfig:"DB_DSN"`
	DBMaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns        int32         `envconfig:"DB_MIN_CONNS" default:"0"`
	DBMaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	DBMaxConnIdleTime time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"5m"`
	DBMigrate         bool          `envconfig:"DB_MIGRATE" default:"true"`
}

type Push struct {
	Driver                  string        `envconfig:"PUSH_DRIVER" default:"fcm" validate:"oneof=fcm log"`
	FirebaseProjectID       string        `envconfig:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsJSON string        `envconfig:"FIREBASE_SERVICE_ACCOUNT"`
	FirebaseCredentialsFile string        `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
	Timeout                 time.Duration `envconfig:"PUSH_TIMEOUT" default:"10s" validate:"gt=0"`
	RPS                     float64       `envconfig:"PUSH_RPS" default:"20" validate:"gt=0"`
	Burst                   int           `envconfig:"PUSH_BURST" default:"40" validate:"gt=0"`
	BodyTemplate            string        `envconfig:"NOTIFICATION_BODY_TEMPLATE" default:"It's time for {prayer} prayer at {time}"`
}

type WorkerConfig struct {
	Location
	Store
	Push

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	// ServeAPI mounts the HTTP API on the worker's health port in loop and
	// sqs modes, so registry changes invalidate the live token cache.
	ServeAPI bool `envconfig:"SERVE_API" default:"false"`

	RunMode          string        `envconfig:"RUN_MODE" default:"once" validate:"oneof=once loop sqs"`
	TickInterval     time.Duration `envconfig:"TICK_INTERVAL" default:"1m" validate:"gt=0"`
	DispatchWindow   time.Duration `envconfig:"DISPATCH_WINDOW" default:"5m" validate:"gte=0"`
	ChunkSize        int           `envconfig:"CHUNK_SIZE" default:"500" validate:"gt=0,lte=500"`
	ChunkConcurrency int           `envconfig:"CHUNK_CONCURRENCY" default:"1" validate:"gt=0"`
	TokenCacheTTL    time.Duration `envconfig:"TOKEN_CACHE_TTL" default:"5m" validate:"gt=0"`
	QueueRetention   time.Duration `envconfig:"QUEUE_RETENTION" default:"72h" validate:"gt=0"`
	HistoryRetention time.Duration `envconfig:"HISTORY_RETENTION" default:"720h" validate:"gt=0"`

	// Redis dispatch lease (optional)
	RedisURL string        `envconfig:"REDIS_URL"`
	LeaseTTL time.Duration `envconfig:"LEASE_TTL" default:"10m" validate:"gt=0"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSTickQueueURL    string `envconfig:"SQS_TICK_QUEUE_URL"`
	SQSOutcomeQueueURL string `envconfig:"SQS_OUTCOME_QUEUE_URL"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"1"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"300"`
}

type APIConfig struct {
	Location
	Store
	Push

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	HistoryRetention time.Duration `envconfig:"HISTORY_RETENTION" default:"720h" validate:"gt=0"`

	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSTickQueueURL    string `envconfig:"SQS_TICK_QUEUE_URL"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadWorker reads a local .env (existing variables win) and then the
// environment.
func LoadWorker() (WorkerConfig, error) {
	_ = godotenv.Load()
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func LoadAPI() (APIConfig, error) {
	_ = godotenv.Load()
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c WorkerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid worker config: %w", err)
	}
	var errs []error
	errs = append(errs, c.Store.check(), c.Push.check(), c.Location.check())
	if c.RunMode == RunSQS && c.SQSTickQueueURL == "" {
		errs = append(errs, errors.New("SQS_TICK_QUEUE_URL is required when RUN_MODE=sqs"))
	}
	return errors.Join(errs...)
}

func (c APIConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid api config: %w", err)
	}
	return errors.Join(c.Store.check(), c.Push.check(), c.Location.check())
}

func (s Store) check() error {
	if s.Driver == StorePostgres && s.DBDSN == "" {
		return errors.New("DB_DSN is required when STORE_DRIVER=postgres")
	}
	return nil
}

func (p Push) check() error {
	if p.Driver == PushFCM && p.FirebaseCredentialsJSON == "" && p.FirebaseCredentialsFile == "" && p.FirebaseProjectID == "" {
		return errors.New("PUSH_DRIVER=fcm needs FIREBASE_SERVICE_ACCOUNT, GOOGLE_APPLICATION_CREDENTIALS or FIREBASE_PROJECT_ID")
	}
	return nil
}

func (l Location) check() error {
	_, err := l.Engine()
	return err
}

// Engine builds the schedule engine for this location.
func (l Location) Engine() (*schedule.Engine, error) {
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	method, err := prayertime.LookupMethod(l.Method)
	if err != nil {
		return nil, fmt.Errorf("CALC_METHOD: %w", err)
	}
	asr, err := prayertime.ParseAsrJuristic(l.AsrJuristic)
	if err != nil {
		return nil, fmt.Errorf("ASR_JURISTIC: %w", err)
	}
	rule, err := prayertime.ParseHighLatRule(l.HighLatRule)
	if err != nil {
		return nil, fmt.Errorf("HIGH_LAT_RULE: %w", err)
	}
	return &schedule.Engine{
		Calc:     prayertime.Calculator{Asr: asr, HighLat: rule},
		Coords:   prayertime.Coordinates{Lat: l.Latitude, Lng: l.Longitude, Elevation: l.Elevation},
		Method:   method,
		Location: loc,
	}, nil
}
