package core

import (
	"testing"

	"github.com/talisrun/talischain/crypto"
)

func signedTx(t *testing.T, chainID string) (*Transaction, crypto.PrivateKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := NewTransaction(chainID, TxTransfer, pub.Hex(), 0, 1, TransferPayload{To: "someone", Amount: 10})
	if err != nil {
		t.Fatal(err)
	}
	tx.Sign(priv)
	return tx, priv
}

func TestTransactionSignVerify(t *testing.T) {
	tx, _ := signedTx(t, "test-chain")
	if tx.ID == "" {
		t.Fatal("Sign did not set ID")
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestTransactionTamperDetected(t *testing.T) {
	tx, _ := signedTx(t, "test-chain")
	tx.Fee = 9999
	if err := tx.Verify(); err == nil {
		t.Fatal("expected verification failure after tampering with fee")
	}
}

func TestTransactionChainIDBindsHash(t *testing.T) {
	tx, _ := signedTx(t, "chain-a")
	hashA := tx.Hash()
	tx.ChainID = "chain-b"
	if tx.Hash() == hashA {
		t.Fatal("hash must change with chain id")
	}
	if err := tx.Verify(); err == nil {
		t.Fatal("signature must not survive a chain id swap")
	}
}

func TestTransactionVerifyRejectsBadFrom(t *testing.T) {
	tx, _ := signedTx(t, "test-chain")
	tx.From = "not-a-pubkey"
	if err := tx.Verify(); err == nil {
		t.Fatal("expected error for invalid from field")
	}
}
