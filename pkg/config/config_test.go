package config

import (
	"testing"

	"github.com/starkdex/engine/pkg/field"
)

func TestDefaultIsSupportedChain(t *testing.T) {
	cfg := Default()
	if !cfg.IsSupportedChain(1) {
		t.Fatalf("expected chain 1 to be configured as supported")
	}
	if cfg.IsSupportedChain(999) {
		t.Fatalf("expected chain 999 to be unsupported")
	}
}

func TestDefaultIsSynthetic(t *testing.T) {
	cfg := Default()
	if !cfg.IsSynthetic(12345) {
		t.Fatalf("expected token 12345 to be configured as synthetic")
	}
	if cfg.IsSynthetic(54321) {
		t.Fatalf("expected the spot token 54321 to not be synthetic")
	}
}

func TestAssetLookup(t *testing.T) {
	cfg := Default()
	a, ok := cfg.Asset(54321)
	if !ok {
		t.Fatalf("expected asset 54321 to be configured")
	}
	if a.Decimals != 6 {
		t.Fatalf("expected 6 decimals, got %d", a.Decimals)
	}

	if _, ok := cfg.Asset(424242); ok {
		t.Fatalf("expected an unconfigured token to report ok=false")
	}
}

func TestObserverKeyMapRoundTrips(t *testing.T) {
	priv := field.FromUint64(1)
	pub, err := field.PointFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("derive pubkey: %v", err)
	}

	cfg := Default()
	cfg.Observers = []ObserverKey{{ObserverID: 7, PublicKey: pub}}

	m := cfg.ObserverKeyMap()
	got, ok := m[7]
	if !ok {
		t.Fatalf("expected observer id 7 in the map")
	}
	if !got.X.Equal(pub.X) || !got.Y.Equal(pub.Y) {
		t.Fatalf("expected the mapped public key to match the configured one")
	}
}

func TestLoadLayersEnvOverDefaults(t *testing.T) {
	t.Setenv("ENGINE_ORACLE_THRESHOLD", "4")
	t.Setenv("ENGINE_SUPPORTED_CHAIN_IDS", "1,2,3")

	cfg := Load("")
	if cfg.OracleThreshold != 4 {
		t.Fatalf("expected env override to set threshold 4, got %d", cfg.OracleThreshold)
	}
	if len(cfg.SupportedChainIDs) != 3 {
		t.Fatalf("expected 3 supported chains from env override, got %v", cfg.SupportedChainIDs)
	}
}
