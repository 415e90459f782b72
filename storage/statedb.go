package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount  = registerPrefix("acct:")
	prefixSession  = registerPrefix("gsess:")
	prefixVesting  = registerPrefix("vest:")
	prefixSmartAcc = registerPrefix("sacct:")
	prefixOwnerIdx = registerPrefix("sowner:")
	prefixSponsor  = registerPrefix("susage:")
	prefixDeposit  = registerPrefix("dep:")
	prefixGame     = registerPrefix("game:") // game:params, game:unclaimed
	prefixPm       = registerPrefix("pm:")   // pm:params
)

var (
	keyGameParams = prefixGame + "params"
	keyUnclaimed  = prefixGame + "unclaimed"
	keyPmParams   = prefixPm + "params"
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	data, err := s.get(prefixAccount + address)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	var acc core.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Game session ----

func (s *StateDB) GetGameSession(player string) (*core.GameSession, error) {
	data, err := s.get(prefixSession + player)
	if err != nil {
		return nil, err
	}
	var sess core.GameSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *StateDB) SetGameSession(sess *core.GameSession) error {
	return s.setJSON(prefixSession+sess.Player, sess)
}

// ---- Vesting ----

func (s *StateDB) GetVesting(player string) (*core.VestingSchedule, error) {
	data, err := s.get(prefixVesting + player)
	if errors.Is(err, core.ErrNotFound) {
		return &core.VestingSchedule{Player: player}, nil // empty schedule
	}
	if err != nil {
		return nil, err
	}
	var vs core.VestingSchedule
	if err := json.Unmarshal(data, &vs); err != nil {
		return nil, err
	}
	return &vs, nil
}

func (s *StateDB) SetVesting(vs *core.VestingSchedule) error {
	return s.setJSON(prefixVesting+vs.Player, vs)
}

// ---- Smart accounts ----

func (s *StateDB) GetSmartAccount(address string) (*core.SmartAccount, error) {
	data, err := s.get(prefixSmartAcc + address)
	if err != nil {
		return nil, err
	}
	var a core.SmartAccount
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) GetSmartAccountByOwner(owner string) (*core.SmartAccount, error) {
	addr, err := s.get(prefixOwnerIdx + owner)
	if err != nil {
		return nil, err
	}
	return s.GetSmartAccount(string(addr))
}

// SetSmartAccount stores the account record and maintains the owner index.
// The index is first-write-wins: one account per owner.
func (s *StateDB) SetSmartAccount(a *core.SmartAccount) error {
	if err := s.setJSON(prefixSmartAcc+a.Address, a); err != nil {
		return err
	}
	s.set(prefixOwnerIdx+a.Owner, []byte(a.Address))
	return nil
}

// ---- Sponsorship usage ----

func (s *StateDB) GetSponsorUsage(user string) (*core.SponsorUsage, error) {
	data, err := s.get(prefixSponsor + user)
	if errors.Is(err, core.ErrNotFound) {
		return &core.SponsorUsage{User: user}, nil
	}
	if err != nil {
		return nil, err
	}
	var u core.SponsorUsage
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *StateDB) SetSponsorUsage(u *core.SponsorUsage) error {
	return s.setJSON(prefixSponsor+u.User, u)
}

// ---- Engine configuration ----

func (s *StateDB) GetGameParams() (*core.GameParams, error) {
	data, err := s.get(keyGameParams)
	if err != nil {
		return nil, fmt.Errorf("game params not initialised: %w", err)
	}
	var p core.GameParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetGameParams(p *core.GameParams) error {
	return s.setJSON(keyGameParams, p)
}

func (s *StateDB) GetPaymasterParams() (*core.PaymasterParams, error) {
	data, err := s.get(keyPmParams)
	if err != nil {
		return nil, fmt.Errorf("paymaster params not initialised: %w", err)
	}
	var p core.PaymasterParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetPaymasterParams(p *core.PaymasterParams) error {
	return s.setJSON(keyPmParams, p)
}

// ---- Global counters / deposit ledger ----

func (s *StateDB) GetUnclaimedTotal() (uint64, error) {
	return s.getUint(keyUnclaimed)
}

func (s *StateDB) SetUnclaimedTotal(v uint64) error {
	s.set(keyUnclaimed, []byte(strconv.FormatUint(v, 10)))
	return nil
}

func (s *StateDB) GetDeposit(address string) (uint64, error) {
	return s.getUint(prefixDeposit + address)
}

func (s *StateDB) SetDeposit(address string, amount uint64) error {
	s.set(prefixDeposit+address, []byte(strconv.FormatUint(amount, 10)))
	return nil
}

func (s *StateDB) getUint(key string) (uint64, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	// Step 1: collect all persisted state entries from DB.
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	// Step 2: apply in-memory write buffer (uncommitted changes this block).
	for k, v := range s.dirty {
		merged[k] = v
	}

	// Step 3: exclude deleted keys.
	for k := range s.deleted {
		delete(merged, k)
	}

	// Step 4: sort keys for determinism.
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Step 5: length-prefix encode each key-value pair and hash.
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// WriteBatch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
