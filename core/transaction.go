package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/talisrun/talischain/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	// Token ledger
	TxTransfer     TxType = "transfer"
	TxApprove      TxType = "approve"
	TxTransferFrom TxType = "transfer_from"

	// Session/vesting engine
	TxSessionStart TxType = "session_start"
	TxSessionRetry TxType = "session_retry"
	TxSessionEnd   TxType = "session_end"
	TxClaimRewards TxType = "claim_rewards"

	// Engine administration
	TxGameSetParams      TxType = "game_set_params"
	TxGameSetPaused      TxType = "game_set_paused"
	TxPoolDeposit        TxType = "pool_deposit"
	TxPoolWithdraw       TxType = "pool_withdraw"
	TxPaymasterSetParams TxType = "paymaster_set_params"

	// Account abstraction
	TxUserOps    TxType = "user_ops"
	TxEPDeposit  TxType = "ep_deposit"
	TxEPWithdraw TxType = "ep_withdraw"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// ChainID binds the transaction to one network. Signature covers all fields
// except Signature itself.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"` // unix seconds
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().Unix(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ApprovePayload grants spender the right to pull up to Amount tokens.
type ApprovePayload struct {
	Spender string `json:"spender"`
	Amount  uint64 `json:"amount"`
}

// TransferFromPayload moves tokens out of Owner's balance using an allowance
// previously granted to the transaction sender.
type TransferFromPayload struct {
	Owner  string `json:"owner"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// SessionEndPayload closes the caller's active session.
// Talismans is reported by the player and trusted as-is; there is no on-chain
// verification of in-game play.
type SessionEndPayload struct {
	Talismans uint64 `json:"talismans"`
}

// GameSetParamsPayload updates the engine configuration (owner only).
type GameSetParamsPayload struct {
	SessionCost         uint64 `json:"session_cost"`
	RewardRatePerSecond uint64 `json:"reward_rate_per_second"`
	MinSessionDuration  int64  `json:"min_session_duration"`
	MaxSessionDuration  int64  `json:"max_session_duration"`
	VestingDuration     int64  `json:"vesting_duration"`
}

// GameSetPausedPayload pauses or resumes session and claim operations.
type GameSetPausedPayload struct {
	Paused bool `json:"paused"`
}

// PoolAmountPayload carries a reward-pool deposit or withdrawal amount.
type PoolAmountPayload struct {
	Amount uint64 `json:"amount"`
}

// PaymasterSetParamsPayload updates sponsorship configuration (owner only).
type PaymasterSetParamsPayload struct {
	Active            bool     `json:"active"`
	MaxCostPerOp      uint64   `json:"max_cost_per_op"`
	DailyLimitPerUser uint64   `json:"daily_limit_per_user"`
	AllowedMethods    []string `json:"allowed_methods"`
}

// EPAmountPayload carries an entry-point deposit or withdrawal amount.
type EPAmountPayload struct {
	Amount uint64 `json:"amount"`
}
