package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear any env vars that would override defaults
	envVars := []string{
		"SERVICE_NAME", "ENV", "LOG_LEVEL", "PORT", "STREAM_PORT",
		"NATS_URL", "EVENT_SUBJECT_PREFIX", "REDIS_ADDR", "LEDGER_BACKEND",
		"AMOUNT_DECIMALS", "CREATE_POLICY", "CREATOR_ALLOWLIST",
		"SWEEP_INTERVAL", "SUMMARY_REFRESH_INTERVAL", "BID_RATE_BURST", "PG_MAX_CONNS", "HTTP_BODY_LIMIT",
	}
	for _, key := range envVars {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.ServiceName != "auction-engine" {
		t.Errorf("expected ServiceName=auction-engine, got %s", cfg.ServiceName)
	}
	if cfg.Env != "dev" {
		t.Errorf("expected Env=dev, got %s", cfg.Env)
	}
	if cfg.Port != 9040 {
		t.Errorf("expected Port=9040, got %d", cfg.Port)
	}
	if cfg.StreamPort != 9041 {
		t.Errorf("expected StreamPort=9041, got %d", cfg.StreamPort)
	}
	if cfg.EventSubjectPrefix != "evt.auction" {
		t.Errorf("expected EventSubjectPrefix=evt.auction, got %s", cfg.EventSubjectPrefix)
	}
	if cfg.LedgerBackend != "memory" {
		t.Errorf("expected LedgerBackend=memory, got %s", cfg.LedgerBackend)
	}
	if cfg.AmountDecimals != 6 {
		t.Errorf("expected AmountDecimals=6, got %d", cfg.AmountDecimals)
	}
	if cfg.CreatePolicy != "open" {
		t.Errorf("expected CreatePolicy=open, got %s", cfg.CreatePolicy)
	}
	if cfg.CreatorAllowlist != nil {
		t.Errorf("expected empty CreatorAllowlist, got %v", cfg.CreatorAllowlist)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Errorf("expected SweepInterval=5s, got %v", cfg.SweepInterval)
	}
	if cfg.SummaryInterval != time.Hour {
		t.Errorf("expected SummaryInterval=1h, got %v", cfg.SummaryInterval)
	}
	if cfg.BidRateBurst != 10 {
		t.Errorf("expected BidRateBurst=10, got %d", cfg.BidRateBurst)
	}
	if cfg.PGMaxConns != 10 {
		t.Errorf("expected PGMaxConns=10, got %d", cfg.PGMaxConns)
	}
	if cfg.HTTPBodyLimit != 1*1024*1024 {
		t.Errorf("expected HTTPBodyLimit=1048576, got %d", cfg.HTTPBodyLimit)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("AMOUNT_DECIMALS", "18")
	t.Setenv("CREATE_POLICY", "allowlist")
	t.Setenv("CREATOR_ALLOWLIST", "alice, bob ,,carol")
	t.Setenv("SWEEP_INTERVAL", "250ms")

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("expected Port=8080, got %d", cfg.Port)
	}
	if cfg.LedgerBackend != "redis" {
		t.Errorf("expected LedgerBackend=redis, got %s", cfg.LedgerBackend)
	}
	if cfg.AmountDecimals != 18 {
		t.Errorf("expected AmountDecimals=18, got %d", cfg.AmountDecimals)
	}
	if len(cfg.CreatorAllowlist) != 3 || cfg.CreatorAllowlist[1] != "bob" {
		t.Errorf("expected [alice bob carol], got %v", cfg.CreatorAllowlist)
	}
	if cfg.SweepInterval != 250*time.Millisecond {
		t.Errorf("expected SweepInterval=250ms, got %v", cfg.SweepInterval)
	}
}
