package config

import (
	"testing"

	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/crypto"
	"github.com/talisrun/talischain/internal/testutil"
)

func TestCreateGenesisBlockSeedsState(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Genesis.Alloc = map[string]uint64{"alice": 1000}
	st := testutil.NewStateDB()

	block, err := CreateGenesisBlock(cfg, st, priv)
	if err != nil {
		t.Fatalf("CreateGenesisBlock: %v", err)
	}
	if block.Header.Height != 0 || block.Header.PrevHash != GenesisHash {
		t.Fatalf("unexpected genesis header: %+v", block.Header)
	}
	if err := block.Verify(pub); err != nil {
		t.Fatalf("genesis signature: %v", err)
	}

	alice, _ := st.GetAccount("alice")
	if alice.Balance != 1000 {
		t.Fatalf("alloc balance = %d, want 1000", alice.Balance)
	}
	engine, _ := st.GetAccount(core.GameEngineAddress)
	if engine.Balance != cfg.Genesis.RewardPool {
		t.Fatalf("reward pool = %d, want %d", engine.Balance, cfg.Genesis.RewardPool)
	}
	pm, _ := st.GetAccount(core.PaymasterAddress)
	if pm.Balance != cfg.Genesis.PaymasterFund {
		t.Fatalf("paymaster fund = %d, want %d", pm.Balance, cfg.Genesis.PaymasterFund)
	}

	params, err := st.GetGameParams()
	if err != nil {
		t.Fatalf("game params not seeded: %v", err)
	}
	if params.Owner != pub.Hex() {
		t.Fatalf("default owner = %s, want proposer %s", params.Owner, pub.Hex())
	}
	if _, err := st.GetPaymasterParams(); err != nil {
		t.Fatalf("paymaster params not seeded: %v", err)
	}
}

func TestGenesisBlockDiffersPerChainID(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	cfgA := DefaultConfig()
	cfgA.Genesis.ChainID = "chain-a"
	blockA, err := CreateGenesisBlock(cfgA, testutil.NewStateDB(), priv)
	if err != nil {
		t.Fatal(err)
	}

	cfgB := DefaultConfig()
	cfgB.Genesis.ChainID = "chain-b"
	blockB, err := CreateGenesisBlock(cfgB, testutil.NewStateDB(), priv)
	if err != nil {
		t.Fatal(err)
	}

	if blockA.Hash == blockB.Hash {
		t.Fatal("different chain ids must produce different genesis hashes")
	}
}

func TestIsGenesisHash(t *testing.T) {
	if !IsGenesisHash(GenesisHash) {
		t.Fatal("canonical genesis hash not recognised")
	}
	if IsGenesisHash("deadbeef") {
		t.Fatal("non-genesis hash accepted")
	}
}
