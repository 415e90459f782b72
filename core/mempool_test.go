package core

import (
	"testing"
	"time"
)

func TestMempoolAddAndDedup(t *testing.T) {
	mp := NewMempool()
	tx, _ := signedTx(t, "test-chain")
	now := time.Now().Unix()

	if err := mp.Add(tx, now); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := mp.Add(tx, now); err == nil {
		t.Fatal("expected duplicate rejection")
	}
	if mp.Size() != 1 {
		t.Fatalf("Size = %d, want 1", mp.Size())
	}
}

func TestMempoolRejectsStaleAndFutureTx(t *testing.T) {
	mp := NewMempool()

	tx, _ := signedTx(t, "test-chain")
	if err := mp.Add(tx, tx.Timestamp+3601); err == nil {
		t.Fatal("expected expiry rejection")
	}
	tx2, _ := signedTx(t, "test-chain")
	if err := mp.Add(tx2, tx2.Timestamp-301); err == nil {
		t.Fatal("expected future-timestamp rejection")
	}
}

func TestMempoolPendingOrderAndRemove(t *testing.T) {
	mp := NewMempool()
	now := time.Now().Unix()

	var ids []string
	for i := 0; i < 3; i++ {
		tx, _ := signedTx(t, "test-chain")
		if err := mp.Add(tx, now); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
		ids = append(ids, tx.ID)
	}

	pending := mp.Pending(10)
	if len(pending) != 3 {
		t.Fatalf("Pending = %d txs, want 3", len(pending))
	}
	for i, tx := range pending {
		if tx.ID != ids[i] {
			t.Fatalf("pending[%d] = %s, want %s (insertion order)", i, tx.ID, ids[i])
		}
	}

	mp.Remove(ids[:2])
	if mp.Size() != 1 {
		t.Fatalf("Size after remove = %d, want 1", mp.Size())
	}
	if rest := mp.Pending(10); len(rest) != 1 || rest[0].ID != ids[2] {
		t.Fatal("wrong tx survived removal")
	}
}
