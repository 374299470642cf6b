package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"

	"rwalend/native/token"
)

// Config captures the deployable configuration for the pool: backstop
// economics, auction decay and the per-reserve interest curves.
type Config struct {
	BackstopAsset       string   `toml:"BackstopAsset"`
	BackstopThreshold   *big.Int `toml:"BackstopThreshold"`
	BackstopTakeRateBps uint64   `toml:"BackstopTakeRateBps"`
	OracleMaxAgeSeconds uint64   `toml:"OracleMaxAgeSeconds"`

	Auction    AuctionConfig      `toml:"auction"`
	Reserves   []ReserveConfig    `toml:"reserve"`
	Collateral []CollateralConfig `toml:"collateral"`
}

// AuctionConfig shapes the Dutch auction decay.
type AuctionConfig struct {
	RampSeconds    uint64 `toml:"RampSeconds"`
	LotBonusMaxBps uint64 `toml:"LotBonusMaxBps"`
}

// ReserveConfig declares one supported debt asset and its interest curve.
type ReserveConfig struct {
	Symbol               string `toml:"Symbol"`
	BaseRateBps          uint64 `toml:"BaseRateBps"`
	SlopeOneBps          uint64 `toml:"SlopeOneBps"`
	SlopeTwoBps          uint64 `toml:"SlopeTwoBps"`
	SlopeThreeBps        uint64 `toml:"SlopeThreeBps"`
	TargetUtilizationBps uint64 `toml:"TargetUtilizationBps"`
	ReactivityScalar     uint64 `toml:"ReactivityScalar"`
}

// CollateralConfig declares one accepted RWA collateral asset.
type CollateralConfig struct {
	Symbol    string `toml:"Symbol"`
	FactorBps uint64 `toml:"FactorBps"`
}

// DefaultConfig returns a conservative single-stable deployment template.
func DefaultConfig() Config {
	return Config{
		BackstopAsset:       "USDC",
		BackstopThreshold:   big.NewInt(0),
		BackstopTakeRateBps: 1_000,
		OracleMaxAgeSeconds: 86_400,
		Auction: AuctionConfig{
			RampSeconds:    200,
			LotBonusMaxBps: 2_000,
		},
		Reserves: []ReserveConfig{{
			Symbol:               "USDC",
			BaseRateBps:          100,
			SlopeOneBps:          400,
			SlopeTwoBps:          2_000,
			SlopeThreeBps:        10_000,
			TargetUtilizationBps: 8_000,
			ReactivityScalar:     100,
		}},
	}
}

// EnsureDefaults fills unset fields with the deployment template values.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	defaults := DefaultConfig()
	if strings.TrimSpace(c.BackstopAsset) == "" {
		c.BackstopAsset = defaults.BackstopAsset
	}
	if c.BackstopThreshold == nil {
		c.BackstopThreshold = big.NewInt(0)
	}
	if c.OracleMaxAgeSeconds == 0 {
		c.OracleMaxAgeSeconds = defaults.OracleMaxAgeSeconds
	}
	if c.Auction.RampSeconds == 0 {
		c.Auction.RampSeconds = defaults.Auction.RampSeconds
	}
	if c.Auction.LotBonusMaxBps == 0 {
		c.Auction.LotBonusMaxBps = defaults.Auction.LotBonusMaxBps
	}
}

// Validate rejects configurations the engine would refuse at runtime.
func (c *Config) Validate() error {
	if c.BackstopTakeRateBps > basisPointsMax {
		return fmt.Errorf("lending config: backstop take rate %d exceeds 10000 bps", c.BackstopTakeRateBps)
	}
	if c.BackstopThreshold != nil && c.BackstopThreshold.Sign() < 0 {
		return fmt.Errorf("lending config: backstop threshold must not be negative")
	}
	for _, reserve := range c.Reserves {
		if strings.TrimSpace(reserve.Symbol) == "" {
			return fmt.Errorf("lending config: reserve with empty symbol")
		}
		if reserve.TargetUtilizationBps == 0 || reserve.TargetUtilizationBps > utilCeilingBps {
			return fmt.Errorf("lending config: reserve %s target utilization %d outside (0, %d] bps",
				reserve.Symbol, reserve.TargetUtilizationBps, utilCeilingBps)
		}
	}
	for _, collateral := range c.Collateral {
		if strings.TrimSpace(collateral.Symbol) == "" {
			return fmt.Errorf("lending config: collateral with empty symbol")
		}
		if collateral.FactorBps > basisPointsMax {
			return fmt.Errorf("lending config: collateral %s factor %d exceeds 10000 bps",
				collateral.Symbol, collateral.FactorBps)
		}
	}
	return nil
}

// InterestParams converts a reserve declaration into engine parameters.
func (r ReserveConfig) InterestParams() InterestRateParams {
	return InterestRateParams{
		BaseRateBps:          r.BaseRateBps,
		SlopeOneBps:          r.SlopeOneBps,
		SlopeTwoBps:          r.SlopeTwoBps,
		SlopeThreeBps:        r.SlopeThreeBps,
		TargetUtilizationBps: r.TargetUtilizationBps,
		ReactivityScalar:     r.ReactivityScalar,
	}
}

// Asset resolves the reserve's symbol into an asset identifier.
func (r ReserveConfig) Asset() token.AssetID {
	return token.SymbolAsset(r.Symbol)
}

// AuctionParams converts the auction declaration into engine parameters,
// translating the basis-point lot bonus into scalar-9.
func (a AuctionConfig) AuctionParams() AuctionParams {
	bonus := new(big.Int).SetUint64(a.LotBonusMaxBps)
	bonus.Mul(bonus, scalar)
	bonus.Quo(bonus, basisPoints)
	return AuctionParams{RampSeconds: a.RampSeconds, LotBonusMax: bonus}
}

// LoadConfig reads and validates a TOML pool configuration.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("lending config: decode %s: %w", path, err)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
