package indexer

import (
	"testing"

	"github.com/talisrun/talischain/events"
	"github.com/talisrun/talischain/internal/testutil"
)

func TestIndexerRecordsSessionHistory(t *testing.T) {
	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := New(db, emitter)

	emitter.Emit(events.Event{
		Type:        events.EventSessionEnded,
		TxID:        "tx1",
		BlockHeight: 7,
		Data: map[string]any{
			"player":     "alice",
			"duration":   int64(60),
			"reward":     uint64(900),
			"talismans":  uint64(5),
			"multiplier": uint64(150),
		},
	})
	emitter.Emit(events.Event{
		Type:        events.EventSessionEnded,
		TxID:        "tx2",
		BlockHeight: 9,
		Data:        map[string]any{"player": "alice", "duration": int64(30), "reward": uint64(300)},
	})

	records, err := idx.GetSessionHistory("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("history length = %d, want 2", len(records))
	}
	first := records[0]
	if first.Reward != 900 || first.Talismans != 5 || first.Multiplier != 150 || first.Height != 7 {
		t.Fatalf("unexpected first record: %+v", first)
	}

	if other, _ := idx.GetSessionHistory("bob"); len(other) != 0 {
		t.Fatal("bob should have no history")
	}
}

func TestIndexerRecordsSponsorshipLog(t *testing.T) {
	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := New(db, emitter)

	emitter.Emit(events.Event{
		Type:        events.EventGasSponsored,
		TxID:        "tx9",
		BlockHeight: 3,
		Data:        map[string]any{"user": "0xabc", "amount": uint64(4200)},
	})

	records, err := idx.GetSponsorshipLog("0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("log length = %d, want 1", len(records))
	}
	if records[0].Amount != 4200 || records[0].TxID != "tx9" || records[0].Height != 3 {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}

func TestIndexerIgnoresMalformedEvents(t *testing.T) {
	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := New(db, emitter)

	emitter.Emit(events.Event{Type: events.EventSessionEnded, Data: map[string]any{}})

	if records, _ := idx.GetSessionHistory(""); len(records) != 0 {
		t.Fatal("events without a player must be dropped")
	}
}
