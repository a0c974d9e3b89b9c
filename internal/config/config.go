package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backend is shared by every process that talks to the campaign backend.
type Backend struct {
	BaseURL     string        `envconfig:"BACKEND_BASE_URL" default:"http://localhost:8000"`
	Token       string        `envconfig:"BACKEND_TOKEN"`
	TokenFile   string        `envconfig:"BACKEND_TOKEN_FILE"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	// dispatch rails
	RPS   float64 `envconfig:"BACKEND_RPS" default:"5"`
	Burst int     `envconfig:"BACKEND_BURST" default:"10"`

	BreakerMaxRequests         uint32        `envconfig:"BREAKER_MAX_REQUESTS" default:"1"`
	BreakerTimeout             time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
	BreakerConsecutiveFailures uint32        `envconfig:"BREAKER_CONSECUTIVE_FAILURES" default:"5"`
}

type ConsoleConfig struct {
	Backend

	Port        string `envconfig:"PORT" default:"8080"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	SendAllGrace    time.Duration `envconfig:"SEND_ALL_GRACE" default:"1500ms"`
	RefreshTimeout  time.Duration `envconfig:"REFRESH_TIMEOUT" default:"10s"`
	StopWhenAllSent bool          `envconfig:"STOP_WHEN_ALL_SENT" default:"false"`
	WatchLease      time.Duration `envconfig:"WATCH_LEASE" default:"30s"`

	// optional dispatch journal; DB_DSN wins over JOURNAL_PATH
	DBDSN       string `envconfig:"DB_DSN"`
	JournalPath string `envconfig:"JOURNAL_PATH"`

	// optional operator notifications over SQS
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	NotifyQueueURL     string `envconfig:"NOTIFY_QUEUE_URL"`
	NotifyQueueFIFO    bool   `envconfig:"NOTIFY_QUEUE_FIFO" default:"false"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	NotificationsKept  int    `envconfig:"NOTIFICATIONS_KEPT" default:"50"`
}

type CLIConfig struct {
	Backend

	LogFormat    string        `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"warn"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	SendAllGrace time.Duration `envconfig:"SEND_ALL_GRACE" default:"1500ms"`

	// notifications tail
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	NotifyQueueURL     string `envconfig:"NOTIFY_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type MockBackendConfig struct {
	Port      string `envconfig:"PORT" default:"8000"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// empty disables auth
	Token string `envconfig:"MOCK_TOKEN"`

	SendDelay    time.Duration `envconfig:"MOCK_SEND_DELAY" default:"2s"`
	FailureRatio float64       `envconfig:"MOCK_FAILURE_RATIO" default:"0"`
	DailyLimit   int           `envconfig:"MOCK_DAILY_LIMIT" default:"500"`
	Seed         bool          `envconfig:"MOCK_SEED" default:"true"`
	From         string        `envconfig:"MOCK_FROM" default:"Campaigns <campaigns@mailbridge.local>"`
}

// dotenv loads a .env file from the working directory when one exists.
// Variables already set in the environment win.
func dotenv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "err", err)
	}
}

func LoadConsole() ConsoleConfig {
	dotenv()
	var cfg ConsoleConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

// LoadCLI returns an error instead of panicking; the CLI reports it as a
// usage failure.
func LoadCLI() (CLIConfig, error) {
	dotenv()
	var cfg CLIConfig
	err := envconfig.Process("", &cfg)
	return cfg, err
}

func LoadMockBackend() MockBackendConfig {
	dotenv()
	var cfg MockBackendConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
