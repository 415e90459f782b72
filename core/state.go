package core

// Account holds a participant's token balance, replay-protection nonce and
// spending allowances. Address is either the hex-encoded ed25519 public key
// of a chain wallet or the 0x-prefixed address of a deployed smart account;
// both are plain string keys into the ledger.
type Account struct {
	Address    string            `json:"address"`
	Balance    uint64            `json:"balance"`
	Nonce      uint64            `json:"nonce"`
	Allowances map[string]uint64 `json:"allowances,omitempty"` // spender → approved amount
}

// Allowance returns the approved amount for spender.
func (a *Account) Allowance(spender string) uint64 {
	if a.Allowances == nil {
		return 0
	}
	return a.Allowances[spender]
}

// SetAllowance records an approved amount for spender.
func (a *Account) SetAllowance(spender string, amount uint64) {
	if a.Allowances == nil {
		a.Allowances = make(map[string]uint64)
	}
	if amount == 0 {
		delete(a.Allowances, spender)
		return
	}
	a.Allowances[spender] = amount
}

// GameSession is the single play-for-reward interval a player may have open.
// Keyed by player address; a new start overwrites the previous ended session
// (the indexer archives ended sessions for history queries).
type GameSession struct {
	Player             string `json:"player"`
	StartTime          int64  `json:"start_time"` // unix seconds, block time
	EndTime            int64  `json:"end_time"`   // 0 while active
	RewardEarned       uint64 `json:"reward_earned"`
	TalismansCollected uint64 `json:"talismans_collected"`
	Attempts           uint32 `json:"attempts"`
	Active             bool   `json:"active"`
}

// VestingSchedule accumulates a player's session rewards and unlocks them
// linearly over Duration seconds from StartTime. Adding a new reward resets
// StartTime and Duration (reset-on-add), so ClaimedAmount can transiently
// exceed the vested amount; claimable is clamped at zero in that window.
type VestingSchedule struct {
	Player        string `json:"player"`
	TotalAmount   uint64 `json:"total_amount"`   // cumulative granted, incl. claimed
	ClaimedAmount uint64 `json:"claimed_amount"` // cumulative paid out
	StartTime     int64  `json:"start_time"`
	Duration      int64  `json:"duration"` // seconds
}

// SmartAccount is a counterfactually-addressed contract account controlled by
// a secp256k1 owner key. Nonces is the 2D replay-protection space: namespace
// key → next expected sequence number.
type SmartAccount struct {
	Address   string            `json:"address"` // checksummed 0x address
	Owner     string            `json:"owner"`   // checksummed 0x address of the owner key
	Salt      string            `json:"salt"`    // hex; recorded for audit, first-write-wins
	CreatedAt int64             `json:"created_at"`
	Nonces    map[uint64]uint64 `json:"nonces"`
}

// NonceAt returns the next expected sequence number for a nonce namespace.
func (a *SmartAccount) NonceAt(key uint64) uint64 {
	if a.Nonces == nil {
		return 0
	}
	return a.Nonces[key]
}

// BumpNonce advances the sequence number for a nonce namespace.
func (a *SmartAccount) BumpNonce(key uint64) {
	if a.Nonces == nil {
		a.Nonces = make(map[uint64]uint64)
	}
	a.Nonces[key]++
}

// SponsorUsage tracks one sender's rolling-window gas sponsorship. The 24h
// window is anchored at WindowStart (the last reset), not wall-clock midnight.
type SponsorUsage struct {
	User        string `json:"user"`
	UsedToday   uint64 `json:"used_today"`
	WindowStart int64  `json:"window_start"`
}

// GameParams is the session/vesting engine configuration, admin-mutable.
type GameParams struct {
	Owner               string `json:"owner"` // admin pubkey hex
	SessionCost         uint64 `json:"session_cost"`
	RewardRatePerSecond uint64 `json:"reward_rate_per_second"`
	MinSessionDuration  int64  `json:"min_session_duration"` // seconds
	MaxSessionDuration  int64  `json:"max_session_duration"` // seconds
	VestingDuration     int64  `json:"vesting_duration"`     // seconds
	Paused              bool   `json:"paused"`
}

// PaymasterParams configures gas sponsorship.
type PaymasterParams struct {
	Active            bool     `json:"active"`
	MaxCostPerOp      uint64   `json:"max_cost_per_op"`
	DailyLimitPerUser uint64   `json:"daily_limit_per_user"`
	AllowedMethods    []string `json:"allowed_methods"` // game methods eligible for sponsorship
}

// MethodAllowed reports whether a game method may be sponsored.
func (p *PaymasterParams) MethodAllowed(method string) bool {
	for _, m := range p.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// State is the full chain state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts (token ledger)
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Game sessions, keyed by player address
	GetGameSession(player string) (*GameSession, error)
	SetGameSession(s *GameSession) error

	// Vesting schedules, keyed by player address; missing → zero-value schedule
	GetVesting(player string) (*VestingSchedule, error)
	SetVesting(vs *VestingSchedule) error

	// Smart accounts, keyed by address with an owner index
	GetSmartAccount(address string) (*SmartAccount, error)
	GetSmartAccountByOwner(owner string) (*SmartAccount, error)
	SetSmartAccount(a *SmartAccount) error

	// Paymaster sponsorship usage, keyed by sender; missing → zero-value
	GetSponsorUsage(user string) (*SponsorUsage, error)
	SetSponsorUsage(u *SponsorUsage) error

	// Engine configuration (set at genesis, admin-mutable)
	GetGameParams() (*GameParams, error)
	SetGameParams(p *GameParams) error
	GetPaymasterParams() (*PaymasterParams, error)
	SetPaymasterParams(p *PaymasterParams) error

	// Global Σ(TotalAmount − ClaimedAmount) over all vesting schedules
	GetUnclaimedTotal() (uint64, error)
	SetUnclaimedTotal(v uint64) error

	// Entry-point gas prefund ledger, keyed by account address
	GetDeposit(address string) (uint64, error)
	SetDeposit(address string, amount uint64) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
