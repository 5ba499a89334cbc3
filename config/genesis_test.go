package config

import (
	"testing"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/internal/testutil"
	"github.com/team3d/merchantchain/wallet"
)

// TestCreateGenesisBlock verifies alloc credits and marketplace seeding.
func TestCreateGenesisBlock(t *testing.T) {
	w, _ := wallet.Generate()
	admin, _ := wallet.Generate()
	state := testutil.NewStateDB()

	cfg := DefaultConfig()
	cfg.Genesis.Alloc = map[string]uint64{w.PubKey(): 1_000_000}
	cfg.Genesis.MarketAdmin = admin.PubKey()
	cfg.Genesis.ListingFee = 25

	block, err := CreateGenesisBlock(cfg, state, w.PrivKey())
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if block.Header.Height != 0 || !IsGenesisHash(block.Header.PrevHash) {
		t.Errorf("genesis header: %+v", block.Header)
	}
	if err := block.Verify(w.PrivKey().Public()); err != nil {
		t.Errorf("genesis signature: %v", err)
	}

	acc, _ := state.GetAccount(w.PubKey())
	if acc.Balance != 1_000_000 {
		t.Errorf("alloc balance: got %d", acc.Balance)
	}

	market, _ := state.GetMarket()
	if market.Admin != admin.PubKey() || market.ListingFee != 25 {
		t.Errorf("market seed: %+v", market)
	}
	// With no vault configured the escrow account doubles as the vault.
	if market.Vault != core.MarketplaceAccount {
		t.Errorf("default vault: got %q want %q", market.Vault, core.MarketplaceAccount)
	}
}

// TestIsGenesisHash verifies the canonical zero-hash check.
func TestIsGenesisHash(t *testing.T) {
	if !IsGenesisHash(GenesisHash) {
		t.Error("canonical hash should match")
	}
	if IsGenesisHash("abc") {
		t.Error("short hash should not match")
	}
}
