package x402proxy

import (
	"errors"
	"testing"
)

func TestChainByNetwork(t *testing.T) {
	chain, err := ChainByNetwork("base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chain.ChainID != 8453 {
		t.Errorf("base chain id = %d, want 8453", chain.ChainID)
	}
	if chain.Testnet {
		t.Error("base must not be marked testnet")
	}

	sepolia, err := ChainByNetwork("base-sepolia")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sepolia.Testnet {
		t.Error("base-sepolia must be marked testnet")
	}

	if _, err := ChainByNetwork("dogecoin"); !errors.Is(err, ErrUnsupportedNetwork) {
		t.Errorf("expected ErrUnsupportedNetwork, got %v", err)
	}
}

func TestSupportedNetworks(t *testing.T) {
	networks := SupportedNetworks()
	if len(networks) != len(chains) {
		t.Fatalf("SupportedNetworks returned %d entries, want %d", len(networks), len(chains))
	}
	seen := make(map[string]bool)
	for _, id := range networks {
		if seen[id] {
			t.Errorf("duplicate network %q", id)
		}
		seen[id] = true
		if _, err := ChainByNetwork(id); err != nil {
			t.Errorf("listed network %q is not resolvable", id)
		}
	}
}

func TestChainDecimals(t *testing.T) {
	for id, chain := range chains {
		if chain.Decimals != 6 {
			t.Errorf("network %q: USDC decimals = %d, want 6", id, chain.Decimals)
		}
		if chain.USDCAddress == "" || chain.EIP3009Name == "" || chain.EIP3009Version == "" {
			t.Errorf("network %q: incomplete chain configuration", id)
		}
	}
}
