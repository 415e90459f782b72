package config

import (
	"encoding/json"
	"os"

	"github.com/talisrun/talischain/core"
)

// GenesisConfig describes the chain's initial state: token allocations,
// the engine and paymaster configuration, and the reward pool seed.
type GenesisConfig struct {
	ChainID         string               `json:"chain_id"`
	Alloc           map[string]uint64    `json:"alloc"` // address → initial balance
	RewardPool      uint64               `json:"reward_pool"`
	PaymasterFund   uint64               `json:"paymaster_fund"`
	GameParams      core.GameParams      `json:"game_params"`
	PaymasterParams core.PaymasterParams `json:"paymaster_params"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string        `json:"node_id"`
	DataDir       string        `json:"data_dir"`
	RPCPort       int           `json:"rpc_port"`
	RPCAuthToken  string        `json:"rpc_auth_token"` // empty → no auth
	MaxBlockTxs   int           `json:"max_block_txs"`  // max transactions per block; 0 → 500
	BlockInterval int           `json:"block_interval"` // seconds between blocks; 0 → 2
	GasPrice      uint64        `json:"gas_price"`      // flat fee schedule for user ops
	Validators    []string      `json:"validators"`     // authorised proposer pubkey hexes
	Genesis       GenesisConfig `json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		RPCPort:       8545,
		MaxBlockTxs:   500,
		BlockInterval: 2,
		GasPrice:      1,
		Genesis: GenesisConfig{
			ChainID:       "talischain-dev",
			Alloc:         map[string]uint64{},
			RewardPool:    10_000_000,
			PaymasterFund: 1_000_000,
			GameParams: core.GameParams{
				SessionCost:         100,
				RewardRatePerSecond: 10,
				MinSessionDuration:  10,
				MaxSessionDuration:  300,
				VestingDuration:     7 * 24 * 3600,
			},
			PaymasterParams: core.PaymasterParams{
				Active:            true,
				MaxCostPerOp:      500_000,
				DailyLimitPerUser: 2_000_000,
				AllowedMethods: []string{
					string(core.TxSessionStart),
					string(core.TxSessionEnd),
					string(core.TxClaimRewards),
				},
			},
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
