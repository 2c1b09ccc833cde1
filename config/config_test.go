package config

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pactflow/agreement"
	"pactflow/chain"
	"pactflow/wallet"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.ChainID != 300 || cfg.LogLevel != logrus.InfoLevel {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Mismatch != wallet.PolicyAdopt || cfg.WaitTimeout != 2*time.Minute || cfg.PendingTTL != 10*time.Minute {
		t.Fatalf("unexpected wallet/sweep defaults %+v", cfg)
	}
	if cfg.Contracts[agreement.TypeRental] != chain.DefaultAddresses()[agreement.TypeRental] {
		t.Fatal("rental contract should default to the public deployment")
	}
	if cfg.DatabaseURL != "" || cfg.TemporalHostPort != "" {
		t.Fatal("database and temporal are opt-in")
	}
	if cfg.DBPool.MaxConns != 10 || cfg.DBPool.MinConns != 1 || cfg.DBPool.MaxConnIdleTime != 5*time.Minute {
		t.Fatalf("unexpected pool defaults %+v", cfg.DBPool)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	addr := "0x00000000000000000000000000000000000000aa"
	cfg, err := FromEnv(envMap(map[string]string{
		"CHAIN_ID":                "324",
		"RENTAL_CONTRACT_ADDRESS": addr,
		"WALLET_MISMATCH_POLICY":  "reject",
		"PENDING_TTL":             "90s",
		"LOG_LEVEL":               "debug",
		"DB_MAX_CONNS":            "25",
		"DB_MAX_CONN_IDLE_TIME":   "1m",
	}))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.ChainID != 324 || cfg.Mismatch != wallet.PolicyReject || cfg.PendingTTL != 90*time.Second {
		t.Fatalf("overrides not applied %+v", cfg)
	}
	if cfg.Contracts[agreement.TypeRental] != common.HexToAddress(addr) {
		t.Fatal("rental address override not applied")
	}
	if cfg.LogLevel != logrus.DebugLevel {
		t.Fatalf("log level = %s", cfg.LogLevel)
	}
	if cfg.DBPool.MaxConns != 25 || cfg.DBPool.MaxConnIdleTime != time.Minute {
		t.Fatalf("pool overrides not applied %+v", cfg.DBPool)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	for key, value := range map[string]string{
		"CHAIN_ID":                   "zk",
		"TX_WAIT_TIMEOUT":            "-1s",
		"FREELANCE_CONTRACT_ADDRESS": "nope",
		"WALLET_MISMATCH_POLICY":     "ignore",
		"LOG_LEVEL":                  "loud",
		"DB_MAX_CONNS":               "many",
		"DB_MAX_CONN_IDLE_TIME":      "soon",
	} {
		_, err := FromEnv(envMap(map[string]string{key: value}))
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("%s=%s: expected error naming the key, got %v", key, value, err)
		}
	}
}

func TestFromEnv_MinConnsAboveMax(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{"DB_MAX_CONNS": "2", "DB_MIN_CONNS": "3"}))
	if err == nil || !strings.Contains(err.Error(), "DB_MIN_CONNS") {
		t.Fatalf("expected DB_MIN_CONNS error, got %v", err)
	}
}
