package core

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Well-known system addresses, content-derived so every node agrees on them
// without deployment. Each is the last 20 bytes of the keccak-256 of a
// versioned tag, rendered in checksummed form.
var (
	// GameEngineAddress holds the reward pool and receives session costs.
	GameEngineAddress = deriveSystemAddress("talischain/game-engine/v1")
	// EntryPointAddress holds charged prefunds until they are swept to the
	// submitting beneficiary.
	EntryPointAddress = deriveSystemAddress("talischain/entry-point/v1")
	// PaymasterAddress identifies the sponsorship guard in PaymasterAndData.
	PaymasterAddress = deriveSystemAddress("talischain/paymaster/v1")
)

func deriveSystemAddress(tag string) string {
	h := ethcrypto.Keccak256([]byte(tag))
	return common.BytesToAddress(h[12:]).Hex()
}
