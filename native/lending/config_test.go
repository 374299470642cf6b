package lending

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
BackstopTakeRateBps = 500

[[reserve]]
Symbol = "USDC"
BaseRateBps = 100
SlopeOneBps = 400
SlopeTwoBps = 2000
SlopeThreeBps = 10000
TargetUtilizationBps = 8000
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BackstopAsset != "USDC" {
		t.Fatalf("backstop asset default = %q", cfg.BackstopAsset)
	}
	if cfg.OracleMaxAgeSeconds != 86_400 {
		t.Fatalf("oracle max age default = %d", cfg.OracleMaxAgeSeconds)
	}
	if cfg.Auction.RampSeconds != 200 || cfg.Auction.LotBonusMaxBps != 2_000 {
		t.Fatalf("auction defaults = %+v", cfg.Auction)
	}
	if len(cfg.Reserves) != 1 || cfg.Reserves[0].Symbol != "USDC" {
		t.Fatalf("reserves = %+v", cfg.Reserves)
	}
}

func TestLoadConfigRejectsBadPercentages(t *testing.T) {
	path := writeConfig(t, `BackstopTakeRateBps = 10001`)
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "take rate") {
		t.Fatalf("expected take rate rejection, got %v", err)
	}

	path = writeConfig(t, `
[[reserve]]
Symbol = "USDC"
TargetUtilizationBps = 9600
`)
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "target utilization") {
		t.Fatalf("expected target utilization rejection, got %v", err)
	}

	path = writeConfig(t, `
[[collateral]]
Symbol = "RWA1"
FactorBps = 12000
`)
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "factor") {
		t.Fatalf("expected collateral factor rejection, got %v", err)
	}
}

func TestAuctionConfigConvertsBpsToScalar(t *testing.T) {
	cfg := AuctionConfig{RampSeconds: 100, LotBonusMaxBps: 2_500}
	params := cfg.AuctionParams()
	if params.RampSeconds != 100 {
		t.Fatalf("ramp = %d", params.RampSeconds)
	}
	if params.LotBonusMax.Cmp(big.NewInt(250_000_000)) != 0 {
		t.Fatalf("lot bonus = %s, want 0.25 scalar", params.LotBonusMax)
	}
}

func TestReserveConfigInterestParams(t *testing.T) {
	cfg := DefaultConfig()
	params := cfg.Reserves[0].InterestParams()
	if !params.Valid() {
		t.Fatalf("default reserve params should validate: %+v", params)
	}
	if params.TargetUtilizationBps != 8_000 || params.BaseRateBps != 100 {
		t.Fatalf("params = %+v", params)
	}
}
