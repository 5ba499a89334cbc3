package config

import (
	"strings"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs block #0. It credits the alloc
// accounts, seeds the marketplace scalars (admin, vault, listing fee) and
// the escrow account, then commits the resulting state.
func CreateGenesisBlock(cfg *Config, state core.State, sealerPriv crypto.PrivateKey) (*core.Block, error) {
	sealerPub := sealerPriv.Public()

	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		acc := &core.Account{
			Address: pubkeyHex,
			Balance: balance,
			Nonce:   0,
		}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}

	if err := state.SetAccount(&core.Account{Address: core.MarketplaceAccount}); err != nil {
		return nil, err
	}

	vault := cfg.Genesis.MarketVault
	if vault == "" {
		vault = core.MarketplaceAccount
	}
	market := &core.MarketState{
		Admin:      cfg.Genesis.MarketAdmin,
		Vault:      vault,
		ListingFee: cfg.Genesis.ListingFee,
	}
	if err := state.SetMarket(market); err != nil {
		return nil, err
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, sealerPub.Hex(), nil)
	block.Header.StateRoot = stateRoot
	// Bind the genesis block to its network: TxRoot of block #0 is the
	// chain ID hash.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(sealerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
