// Package indexer maintains secondary indexes over committed blocks so game
// servers can query a player's session history and sponsorship spending
// without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/events"
	"github.com/talisrun/talischain/storage"
)

const (
	prefixPlayerSessions = "idx:player:session:"
	prefixSponsorLog     = "idx:sponsor:"
)

// SessionRecord is one archived session as seen at session_ended.
type SessionRecord struct {
	Player     string `json:"player"`
	Duration   int64  `json:"duration"`
	Reward     uint64 `json:"reward"`
	Talismans  uint64 `json:"talismans"`
	Multiplier uint64 `json:"multiplier"`
	Height     int64  `json:"height"`
}

// SponsorRecord is one sponsored operation's settled gas cost.
type SponsorRecord struct {
	User   string `json:"user"`
	Amount uint64 `json:"amount"`
	TxID   string `json:"tx_id"`
	Height int64  `json:"height"`
}

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventSessionEnded, idx.onSessionEnded)
	emitter.Subscribe(events.EventGasSponsored, idx.onGasSponsored)
	return idx
}

// GetSessionHistory returns a player's ended sessions, oldest first.
func (idx *Indexer) GetSessionHistory(player string) ([]SessionRecord, error) {
	var records []SessionRecord
	if err := idx.getList(prefixPlayerSessions+player, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetSponsorshipLog returns a user's sponsored gas charges, oldest first.
func (idx *Indexer) GetSponsorshipLog(user string) ([]SponsorRecord, error) {
	var records []SponsorRecord
	if err := idx.getList(prefixSponsorLog+user, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ---- event handlers ----

func (idx *Indexer) onSessionEnded(ev events.Event) {
	player, _ := ev.Data["player"].(string)
	if player == "" {
		return
	}
	rec := SessionRecord{
		Player:     player,
		Duration:   asInt64(ev.Data["duration"]),
		Reward:     asUint64(ev.Data["reward"]),
		Talismans:  asUint64(ev.Data["talismans"]),
		Multiplier: asUint64(ev.Data["multiplier"]),
		Height:     ev.BlockHeight,
	}
	_ = idx.appendToList(prefixPlayerSessions+player, &rec)
}

func (idx *Indexer) onGasSponsored(ev events.Event) {
	user, _ := ev.Data["user"].(string)
	if user == "" {
		return
	}
	rec := SponsorRecord{
		User:   user,
		Amount: asUint64(ev.Data["amount"]),
		TxID:   ev.TxID,
		Height: ev.BlockHeight,
	}
	_ = idx.appendToList(prefixSponsorLog+user, &rec)
}

// ---- list helpers ----

func (idx *Indexer) getList(key string, out any) error {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil // empty list
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("indexer unmarshal: %w", err)
	}
	return nil
}

func (idx *Indexer) appendToList(key string, rec any) error {
	var list []json.RawMessage
	if err := idx.getList(key, &list); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	list = append(list, raw)
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	case int:
		return int64(x)
	}
	return 0
}

func asUint64(v any) uint64 {
	switch x := v.(type) {
	case uint64:
		return x
	case float64:
		return uint64(x)
	case int:
		return uint64(x)
	case int64:
		return uint64(x)
	}
	return 0
}
