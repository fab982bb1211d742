// Package config is the read-only global configuration singleton of
// spec.md §9. It is built once at boot and threaded explicitly into
// every executor and engine component — nothing under pkg/executor,
// pkg/funding, pkg/oracle or pkg/batch reads an ambient package-level
// global, so every one of them stays independently testable.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/starkdex/engine/pkg/field"
)

// LeverageDecimals is the fixed-point scale applied to leverage ratios
// throughout pkg/executor (spec.md §4.D perp swap: "leverage ≤
// 15·10^LEV_DEC").
const LeverageDecimals = 6

// CollateralToken is the synthetic token id used as margin collateral
// across all perpetual markets.
const CollateralToken uint32 = 55555

// AssetConfig is the per-token row of the asset tables spec.md §9
// requires to be threaded explicitly (DECIMALS_PER_ASSET,
// DUST_AMOUNT_PER_ASSET, PRICE_DECIMALS_PER_ASSET,
// LEVERAGE_BOUNDS_PER_ASSET, MIN_PARTIAL_LIQUIDATION_SIZE).
type AssetConfig struct {
	Decimals                  uint8
	PriceDecimals             uint8
	DustAmount                uint64
	MinLeverage               uint64 // scaled by LeverageDecimals
	MaxLeverage               uint64 // scaled by LeverageDecimals
	MinPartialLiquidationSize uint64
}

// ObserverKey is a configured price-oracle observer's verification key.
type ObserverKey struct {
	ObserverID uint64
	PublicKey  field.Point
}

// ObserverKeyMap adapts Observers into the map pkg/oracle.New expects,
// keyed by observer id.
func (c Config) ObserverKeyMap() map[uint64]field.Point {
	out := make(map[uint64]field.Point, len(c.Observers))
	for _, o := range c.Observers {
		out[o.ObserverID] = o.PublicKey
	}
	return out
}

// Config is the engine-wide configuration singleton. Build it once at
// boot with Load/Default and pass *Config (or a value copy) into every
// executor constructor — never reach for a package-level var.
type Config struct {
	// Three supported L1 chain ids, per spec.md §3/§6.
	SupportedChainIDs []uint32

	Assets map[uint32]AssetConfig

	Observers        []ObserverKey
	OracleThreshold  int // minimum verified signatures per OracleUpdate, §4.G
	SyntheticAssets   map[uint32]bool

	// RequireOnchainDepositRegistration resolves Open Question (a): off
	// by default (see SPEC_FULL.md / DESIGN.md).
	RequireOnchainDepositRegistration bool

	// MatchRetryLimit resolves the §9 "pick a small constant" open
	// question for the (external) matching edge.
	MatchRetryLimit int

	// MicroBatchFlushSize is "every ~N transactions" of §4.H.
	MicroBatchFlushSize int

	MaxLeverageGlobal uint64 // hard ceiling, scaled by LeverageDecimals
}

// Default returns a sane devnet configuration, mirroring the teacher's
// params.Default() shape (a literal struct, not env-sourced).
func Default() Config {
	return Config{
		SupportedChainIDs: []uint32{1, 5, 9090909},
		Assets: map[uint32]AssetConfig{
			54321: { // a spot/collateral token, matches spec.md S1
				Decimals: 6, PriceDecimals: 6, DustAmount: 100,
				MinLeverage: 0, MaxLeverage: 0, MinPartialLiquidationSize: 0,
			},
			12345: { // a synthetic perpetual token, matches spec.md S3/S4
				Decimals: 6, PriceDecimals: 6, DustAmount: 2500,
				MinLeverage: 1 * (1 << LeverageDecimals), MaxLeverage: 15 * (1 << LeverageDecimals),
				MinPartialLiquidationSize: 100000,
			},
			CollateralToken: {
				Decimals: 6, PriceDecimals: 6, DustAmount: 100,
			},
		},
		SyntheticAssets:                   map[uint32]bool{12345: true},
		OracleThreshold:                   2,
		RequireOnchainDepositRegistration: false,
		MatchRetryLimit:                   5,
		MicroBatchFlushSize:               50,
		MaxLeverageGlobal:                 15 * (1 << LeverageDecimals),
	}
}

// Load layers environment variables over Default(), mirroring the
// teacher's params.LoadFromEnv (godotenv + explicit os.Getenv reads,
// priority ENV > .env file > defaults).
func Load(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("ENGINE_ORACLE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OracleThreshold = n
		}
	}
	if v := os.Getenv("ENGINE_MATCH_RETRY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MatchRetryLimit = n
		}
	}
	if v := os.Getenv("ENGINE_MICRO_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MicroBatchFlushSize = n
		}
	}
	if v := os.Getenv("ENGINE_REQUIRE_ONCHAIN_DEPOSIT_REGISTRATION"); v != "" {
		cfg.RequireOnchainDepositRegistration = v == "true"
	}
	if v := os.Getenv("ENGINE_SUPPORTED_CHAIN_IDS"); v != "" {
		cfg.SupportedChainIDs = parseUint32CSV(v)
	}

	return cfg
}

func parseUint32CSV(v string) []uint32 {
	parts := strings.Split(v, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}

// Asset returns the configured row for token, or the zero value if
// unconfigured (callers treat zero decimals as "unknown token").
func (c Config) Asset(token uint32) (AssetConfig, bool) {
	a, ok := c.Assets[token]
	return a, ok
}

// IsSupportedChain reports whether chainID is one of the configured L1s.
func (c Config) IsSupportedChain(chainID uint32) bool {
	for _, id := range c.SupportedChainIDs {
		if id == chainID {
			return true
		}
	}
	return false
}

// IsSynthetic reports whether token is tradeable as a perpetual.
func (c Config) IsSynthetic(token uint32) bool {
	return c.SyntheticAssets[token]
}

// FundingTickInterval is how often the funding engine accumulates a
// per-minute deviation sample (spec.md §4.F).
const FundingTickInterval = time.Minute

// FundingEpochLength is how many ticks make up one funding epoch
// ("every 60 minutes", spec.md §4.F).
const FundingEpochLength = 60
