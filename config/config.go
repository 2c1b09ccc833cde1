// Package config reads process configuration from the environment. A .env file
// in the working directory is loaded first when present; variables already set
// in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"pactflow/agreement"
	"pactflow/chain"
	"pactflow/db"
	"pactflow/wallet"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	DBPool      db.PoolOptions
	JWTSecret   string
	LogLevel    logrus.Level

	RPCURL    string
	ChainID   int64
	Contracts chain.Addresses

	WalletKeys   string
	Mismatch     wallet.MismatchPolicy
	PollInterval time.Duration
	WaitTimeout  time.Duration

	PendingTTL    time.Duration
	DropAfter     time.Duration
	SweepInterval time.Duration

	TemporalHostPort  string
	TemporalNamespace string
	SweepCron         string

	PartySeed string
}

// Load reads .env (if any) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		HTTPAddr:          env("HTTP_ADDR", ":8080"),
		DatabaseURL:       getenv("DATABASE_URL"),
		JWTSecret:         getenv("JWT_SECRET"),
		RPCURL:            env("CHAIN_RPC_URL", "https://sepolia.era.zksync.dev"),
		WalletKeys:        getenv("WALLET_KEYS"),
		TemporalHostPort:  getenv("TEMPORAL_HOSTPORT"),
		TemporalNamespace: env("TEMPORAL_NAMESPACE", "default"),
		SweepCron:         env("SWEEP_CRON", "*/5 * * * *"),
		PartySeed:         getenv("PARTY_SEED"),
	}

	var err error
	if cfg.LogLevel, err = logrus.ParseLevel(env("LOG_LEVEL", "info")); err != nil {
		return Config{}, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	if cfg.ChainID, err = strconv.ParseInt(env("CHAIN_ID", "300"), 10, 64); err != nil {
		return Config{}, fmt.Errorf("config: CHAIN_ID: %w", err)
	}
	conns := []struct {
		key string
		def int32
		dst *int32
	}{
		{"DB_MAX_CONNS", 10, &cfg.DBPool.MaxConns},
		{"DB_MIN_CONNS", 1, &cfg.DBPool.MinConns},
	}
	for _, c := range conns {
		*c.dst = c.def
		raw := getenv(c.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || v < 0 {
			return Config{}, fmt.Errorf("config: %s: invalid connection count %q", c.key, raw)
		}
		*c.dst = int32(v)
	}
	if cfg.DBPool.MinConns > cfg.DBPool.MaxConns {
		return Config{}, fmt.Errorf("config: DB_MIN_CONNS: %d exceeds DB_MAX_CONNS %d", cfg.DBPool.MinConns, cfg.DBPool.MaxConns)
	}
	if cfg.Mismatch, err = wallet.ParseMismatchPolicy(getenv("WALLET_MISMATCH_POLICY")); err != nil {
		return Config{}, fmt.Errorf("config: WALLET_MISMATCH_POLICY: %w", err)
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"TX_POLL_INTERVAL", 2 * time.Second, &cfg.PollInterval},
		{"TX_WAIT_TIMEOUT", 2 * time.Minute, &cfg.WaitTimeout},
		{"PENDING_TTL", 10 * time.Minute, &cfg.PendingTTL},
		{"PENDING_DROP_AFTER", time.Hour, &cfg.DropAfter},
		{"SWEEP_INTERVAL", time.Minute, &cfg.SweepInterval},
		{"DB_MAX_CONN_LIFETIME", 30 * time.Minute, &cfg.DBPool.MaxConnLifetime},
		{"DB_MAX_CONN_IDLE_TIME", 5 * time.Minute, &cfg.DBPool.MaxConnIdleTime},
		{"DB_HEALTH_CHECK_PERIOD", 30 * time.Second, &cfg.DBPool.HealthCheckPeriod},
	}
	for _, d := range durations {
		*d.dst = d.def
		raw := getenv(d.key)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil || v <= 0 {
			return Config{}, fmt.Errorf("config: %s: invalid duration %q", d.key, raw)
		}
		*d.dst = v
	}

	cfg.Contracts = chain.DefaultAddresses()
	overrides := map[agreement.Type]string{
		agreement.TypeSoftwareFreelancing: "FREELANCE_CONTRACT_ADDRESS",
		agreement.TypeRental:              "RENTAL_CONTRACT_ADDRESS",
		agreement.TypeSubscription:        "SUBSCRIPTION_CONTRACT_ADDRESS",
	}
	for typ, key := range overrides {
		raw := getenv(key)
		if raw == "" {
			continue
		}
		if !common.IsHexAddress(raw) {
			return Config{}, fmt.Errorf("config: %s: invalid address %q", key, raw)
		}
		cfg.Contracts[typ] = common.HexToAddress(raw)
	}
	return cfg, nil
}

// Logger builds the JSON logger every binary uses.
func (c Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(c.LogLevel)
	return log
}
