package config

import (
	"strings"

	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs block #0. It credits all alloc
// accounts, seeds the reward pool and paymaster fund on the well-known
// system addresses, writes the engine and paymaster configuration, and
// commits the resulting state.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	proposerPub := proposerPriv.Public()

	for addr, balance := range cfg.Genesis.Alloc {
		acc := &core.Account{
			Address: addr,
			Balance: balance,
			Nonce:   0,
		}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}

	if cfg.Genesis.RewardPool > 0 {
		if err := state.SetAccount(&core.Account{
			Address: core.GameEngineAddress,
			Balance: cfg.Genesis.RewardPool,
		}); err != nil {
			return nil, err
		}
	}
	if cfg.Genesis.PaymasterFund > 0 {
		if err := state.SetAccount(&core.Account{
			Address: core.PaymasterAddress,
			Balance: cfg.Genesis.PaymasterFund,
		}); err != nil {
			return nil, err
		}
	}

	gameParams := cfg.Genesis.GameParams
	if gameParams.Owner == "" {
		gameParams.Owner = proposerPub.Hex()
	}
	if err := state.SetGameParams(&gameParams); err != nil {
		return nil, err
	}
	pmParams := cfg.Genesis.PaymasterParams
	if err := state.SetPaymasterParams(&pmParams); err != nil {
		return nil, err
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, proposerPub.Hex(), nil)
	block.Header.StateRoot = stateRoot
	// Embed the chain ID in the tx root so genesis blocks of different
	// networks never collide.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
