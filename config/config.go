package config

import (
	"encoding/json"
	"os"
)

// GenesisConfig describes the chain's initial state: funded accounts plus
// the marketplace's administrative seed values.
type GenesisConfig struct {
	ChainID     string            `json:"chain_id"`
	Alloc       map[string]uint64 `json:"alloc"`        // pubkey hex → initial balance
	MarketAdmin string            `json:"market_admin"` // pubkey hex; empty → no admin ops possible
	MarketVault string            `json:"market_vault"` // sale remainder recipient; empty → escrow account
	ListingFee  uint64            `json:"listing_fee"`  // initial flat fee charged per list_item
}

// Config holds all node configuration.
type Config struct {
	NodeID       string        `json:"node_id"`
	DataDir      string        `json:"data_dir"`
	RPCPort      int           `json:"rpc_port"`
	RPCAuthToken string        `json:"rpc_auth_token"` // empty → unauthenticated RPC
	MaxBlockTxs  int           `json:"max_block_txs"`  // max transactions per block; 0 → 500
	Authority    string        `json:"authority"`      // sealer pubkey hex; empty → this node's key
	Genesis      GenesisConfig `json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "merchant0",
		DataDir:     "./data",
		RPCPort:     8545,
		MaxBlockTxs: 500,
		Genesis: GenesisConfig{
			ChainID: "merchantchain-dev",
			Alloc:   map[string]uint64{},
		},
	}
}

// Load reads a JSON config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
