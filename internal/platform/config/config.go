package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string   `env:"SERVICE_NAME" env-default:"agora"`
	HTTPPort     string   `env:"HTTP_PORT" env-default:"8080"`
	PostgresDSN  string   `env:"POSTGRES_DSN"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-default:"*"`

	Ledger  LedgerConfig
	Sweeper SweeperConfig
}

// LedgerConfig carries chain connectivity for the ledger adapter. The
// private key belongs to the relayer account that pays gas on behalf of
// voters.
type LedgerConfig struct {
	RPCURL          string        `env:"LEDGER_RPC_URL"`
	ContractAddress string        `env:"LEDGER_CONTRACT_ADDRESS"`
	PrivateKeyHex   string        `env:"LEDGER_PRIVATE_KEY"`
	ChainID         int64         `env:"LEDGER_CHAIN_ID" env-default:"11155111"`
	ConfirmTimeout  time.Duration `env:"LEDGER_CONFIRM_TIMEOUT" env-default:"90s"`
	MaxAttempts     int           `env:"LEDGER_MAX_ATTEMPTS" env-default:"3"`
	RetryBackoff    time.Duration `env:"LEDGER_RETRY_BACKOFF" env-default:"2s"`
}

type SweeperConfig struct {
	Interval       time.Duration `env:"SWEEP_INTERVAL" env-default:"30s"`
	PendingAge     time.Duration `env:"SWEEP_PENDING_AGE" env-default:"5m"`
	BatchSize      int           `env:"SWEEP_BATCH_SIZE" env-default:"100"`
	DriftCheckSize int           `env:"SWEEP_DRIFT_CHECK_SIZE" env-default:"25"`
}

func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment config: %w", err)
	}
	return cfg, nil
}
