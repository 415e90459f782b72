package aa

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/talisrun/talischain/core"
)

// Gas defaults used until a simulation path exists. Verification covers
// signature recovery and nonce checks; pre-verification covers the fixed
// dispatch overhead.
const (
	defaultVerificationGas    = 100000
	defaultPreVerificationGas = 21000
)

// feeSafetyMultiplier doubles the observed price so an operation survives
// fee movement between build and inclusion.
const feeSafetyMultiplier = 2

// FeeSource provides current fee data for populating gas price fields.
type FeeSource interface {
	SuggestGasPrice() (uint64, error)
}

// StaticFeeSource returns a fixed gas price. Used by tests and by the node
// config where the chain runs a flat fee schedule.
type StaticFeeSource uint64

func (s StaticFeeSource) SuggestGasPrice() (uint64, error) {
	if s == 0 {
		return 0, errors.New("no fee data available")
	}
	return uint64(s), nil
}

// Builder assembles UserOperations for an owner key's smart account.
type Builder struct {
	state      core.State
	entryPoint string
	chainID    string
	fees       FeeSource
}

// NewBuilder creates a Builder bound to one entry point and chain.
func NewBuilder(state core.State, entryPoint, chainID string, fees FeeSource) *Builder {
	return &Builder{state: state, entryPoint: entryPoint, chainID: chainID, fees: fees}
}

// Build assembles an unsigned operation for the owner's deployed account.
// Fails if the owner has no account yet (use BuildWithInit) or if no fee
// data is available.
func (b *Builder) Build(owner string, call *GameCall, sponsored bool) (*UserOperation, error) {
	acct, err := b.state.GetSmartAccountByOwner(owner)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("no smart account deployed for %s", owner)
	}
	if err != nil {
		return nil, err
	}
	return b.assemble(acct.Address, acct.NonceAt(0), nil, call, sponsored)
}

// BuildWithInit assembles an operation that deploys the owner's account on
// first use: Sender is the counterfactual address and InitCode carries the
// owner and salt.
func (b *Builder) BuildWithInit(owner string, salt []byte, call *GameCall, sponsored bool) (*UserOperation, error) {
	sender := DeriveAccountAddress(owner, salt)
	return b.assemble(sender, 0, packInitCode(owner, salt), call, sponsored)
}

func (b *Builder) assemble(sender string, nonce uint64, initCode []byte, call *GameCall, sponsored bool) (*UserOperation, error) {
	callData, err := EncodeGameCall(call)
	if err != nil {
		return nil, fmt.Errorf("encode call data: %w", err)
	}

	price, err := b.fees.SuggestGasPrice()
	if err != nil {
		return nil, fmt.Errorf("fee data: %w", err)
	}

	op := &UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		CallGasLimit:         EstimateCallGas(callData),
		VerificationGasLimit: defaultVerificationGas,
		PreVerificationGas:   defaultPreVerificationGas,
		MaxFeePerGas:         price * feeSafetyMultiplier,
		MaxPriorityFeePerGas: price,
	}
	if sponsored {
		op.PaymasterAndData = common.HexToAddress(core.PaymasterAddress).Bytes()
	}
	return op, nil
}

// Sign attaches the owner signature for this builder's domain.
func (b *Builder) Sign(op *UserOperation, key *ecdsa.PrivateKey) error {
	return SignOp(op, key, b.entryPoint, b.chainID)
}
