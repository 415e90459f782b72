package aa

import (
	"errors"
	"fmt"
	"math"

	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/events"
	"github.com/talisrun/talischain/vm"
	"github.com/talisrun/talischain/vm/modules/economy"
)

var (
	ErrUnknownAccount      = errors.New("unknown smart account and no init code")
	ErrNonceMismatch       = errors.New("nonce mismatch")
	ErrBadSignature        = errors.New("signature does not match account owner")
	ErrInsufficientPrefund = errors.New("insufficient funds for prefund")
	ErrNestedBatch         = errors.New("user_ops may not nest")
	ErrGasOverflow         = errors.New("gas or fee limits overflow")
	ErrBadCallTarget       = errors.New("call target is not the game engine")
)

// EntryPoint validates and executes batches of UserOperations. Any failing
// operation aborts the batch with an error; the executor's transaction
// snapshot then rolls back every side effect, so a batch commits all-or-
// nothing.
type EntryPoint struct {
	chainID  string
	registry *Registry
	guard    *SponsorshipGuard
}

// NewEntryPoint creates a dispatcher over the given state for one chain.
func NewEntryPoint(state core.State, chainID string) *EntryPoint {
	return &EntryPoint{
		chainID:  chainID,
		registry: NewRegistry(state),
		guard:    NewSponsorshipGuard(state),
	}
}

// GetNonce returns the next expected sequence number for a sender's nonce
// namespace. Undeployed accounts report zero.
func (ep *EntryPoint) GetNonce(sender string, key uint64) uint64 {
	acct, err := ep.registry.Get(sender)
	if err != nil {
		return 0
	}
	return acct.NonceAt(key)
}

// HandleOps runs each operation through the full pipeline, then sweeps the
// collected execution fees to the beneficiary.
func (ep *EntryPoint) HandleOps(ctx *vm.Context, ops []*UserOperation, beneficiary string) ([]*Receipt, error) {
	if len(ops) == 0 {
		return nil, errors.New("empty operation batch")
	}
	if beneficiary == "" {
		return nil, errors.New("beneficiary required")
	}

	receipts := make([]*Receipt, 0, len(ops))
	var collected uint64
	for i, op := range ops {
		receipt, err := ep.handleOp(ctx, op)
		if err != nil {
			return nil, fmt.Errorf("op %d (%s): %w", i, op.Sender, err)
		}
		collected += receipt.ActualCost
		receipts = append(receipts, receipt)
	}

	// The entry-point account holds deposits plus the fees charged above.
	// Only the fees are swept; deposits stay claimable via ep_withdraw.
	if collected > 0 {
		if err := economy.Move(ctx.State, core.EntryPointAddress, beneficiary, collected); err != nil {
			return nil, fmt.Errorf("sweep fees: %w", err)
		}
	}
	return receipts, nil
}

// checkGasBounds rejects operations whose worst-case cost arithmetic would
// wrap uint64. A wrapped MaxPrefund looks like a tiny charge for nominally
// astronomical limits, slipping under the paymaster's per-op cap.
func checkGasBounds(op *UserOperation) error {
	total := op.CallGasLimit
	if total > math.MaxUint64-op.VerificationGasLimit {
		return fmt.Errorf("%w: gas limits sum past uint64", ErrGasOverflow)
	}
	total += op.VerificationGasLimit
	if total > math.MaxUint64-op.PreVerificationGas {
		return fmt.Errorf("%w: gas limits sum past uint64", ErrGasOverflow)
	}
	total += op.PreVerificationGas
	if op.MaxFeePerGas > 0 && total > math.MaxUint64/op.MaxFeePerGas {
		return fmt.Errorf("%w: prefund %d gas at fee %d past uint64", ErrGasOverflow, total, op.MaxFeePerGas)
	}
	return nil
}

// handleOp runs the validate/prefund/execute/refund phases for one op.
func (ep *EntryPoint) handleOp(ctx *vm.Context, op *UserOperation) (*Receipt, error) {
	if err := checkGasBounds(op); err != nil {
		return nil, err
	}

	opHash := Hash(op, core.EntryPointAddress, ep.chainID)
	now := ctx.Now()

	// Phase 1: resolve or deploy the smart account.
	acct, err := ep.registry.Get(op.Sender)
	if errors.Is(err, core.ErrNotFound) {
		if len(op.InitCode) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, op.Sender)
		}
		acct, err = ep.deployFromInitCode(ctx, op, now)
	}
	if err != nil {
		return nil, err
	}

	// Phase 2: strict nonce match within the namespace.
	if expected := acct.NonceAt(op.NonceKey); op.Nonce != expected {
		return nil, fmt.Errorf("%w: key %d expected %d got %d", ErrNonceMismatch, op.NonceKey, expected, op.Nonce)
	}

	// Phase 3: owner signature over the domain-bound hash.
	signer, err := RecoverSigner(op, core.EntryPointAddress, ep.chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != acct.Owner {
		return nil, fmt.Errorf("%w: signed by %s, owner is %s", ErrBadSignature, signer, acct.Owner)
	}

	// Phase 4: paymaster validation and prefund.
	maxCost := op.MaxPrefund()
	sponsored := op.HasPaymaster()
	var spCtx *SponsorContext
	if sponsored {
		if op.Paymaster() != core.PaymasterAddress {
			return nil, fmt.Errorf("%w: unknown paymaster %s", ErrSponsorshipDenied, op.Paymaster())
		}
		spCtx, err = ep.guard.Validate(op, maxCost, now)
		if err != nil {
			return nil, err
		}
	}

	payer := op.Sender
	if sponsored {
		payer = core.PaymasterAddress
	}
	if err := chargePrefund(ctx.State, payer, maxCost); err != nil {
		return nil, err
	}

	// Phase 5: execute the inner call as the smart account.
	call, err := DecodeGameCall(op.CallData)
	if err != nil {
		return nil, err
	}
	if core.TxType(call.Method) == core.TxUserOps {
		return nil, ErrNestedBatch
	}
	if call.To != core.GameEngineAddress {
		return nil, fmt.Errorf("%w: %s", ErrBadCallTarget, call.To)
	}
	if err := vm.Dispatch(core.TxType(call.Method), ctx.WithCaller(op.Sender), call.Params); err != nil {
		return nil, fmt.Errorf("inner call %s: %w", call.Method, err)
	}

	// Phase 6: charge actual cost, refund the rest to the payer's deposit.
	// Saturating sum; the cap below keeps the charge within the checked limit.
	gasUsed := op.PreVerificationGas
	if extra := EstimateCallGas(op.CallData); gasUsed <= math.MaxUint64-extra {
		gasUsed += extra
	} else {
		gasUsed = math.MaxUint64
	}
	if limit := op.TotalGasLimit(); gasUsed > limit {
		gasUsed = limit
	}
	actualCost := gasUsed * op.MaxFeePerGas
	if actualCost > maxCost {
		actualCost = maxCost
	}
	if err := refundPrefund(ctx.State, payer, maxCost-actualCost); err != nil {
		return nil, err
	}
	if sponsored {
		if err := ep.guard.Settle(spCtx, actualCost); err != nil {
			return nil, err
		}
		emit(ctx, events.EventGasSponsored, map[string]any{
			"user":   op.Sender,
			"amount": actualCost,
		})
	}

	// Phase 7: advance the nonce and record the receipt.
	acct.BumpNonce(op.NonceKey)
	if err := ctx.State.SetSmartAccount(acct); err != nil {
		return nil, err
	}

	emit(ctx, events.EventUserOpExecuted, map[string]any{
		"sender":  op.Sender,
		"hash":    opHash.Hex(),
		"success": true,
	})
	return &Receipt{
		OpHash:     opHash.Hex(),
		Sender:     op.Sender,
		Success:    true,
		ActualCost: actualCost,
		Sponsored:  sponsored,
	}, nil
}

func (ep *EntryPoint) deployFromInitCode(ctx *vm.Context, op *UserOperation, now int64) (*core.SmartAccount, error) {
	owner, salt, err := unpackInitCode(op.InitCode)
	if err != nil {
		return nil, err
	}
	if derived := DeriveAccountAddress(owner, salt); derived != op.Sender {
		return nil, fmt.Errorf("init code derives %s, sender is %s", derived, op.Sender)
	}
	acct, created, err := ep.registry.Create(owner, salt, now)
	if err != nil {
		return nil, err
	}
	if acct.Address != op.Sender {
		return nil, fmt.Errorf("owner %s already has account %s", owner, acct.Address)
	}
	if created {
		emit(ctx, events.EventAccountCreated, map[string]any{
			"owner":   owner,
			"address": acct.Address,
		})
	}
	return acct, nil
}

// chargePrefund takes amount from the payer's entry-point deposit first and
// the remainder from their token balance. Deposited funds already sit in the
// entry-point account, so only the balance portion moves tokens.
func chargePrefund(state core.State, payer string, amount uint64) error {
	dep, err := state.GetDeposit(payer)
	if err != nil {
		return err
	}
	fromDeposit := amount
	if fromDeposit > dep {
		fromDeposit = dep
	}
	if err := state.SetDeposit(payer, dep-fromDeposit); err != nil {
		return err
	}
	if rem := amount - fromDeposit; rem > 0 {
		if err := economy.Move(state, payer, core.EntryPointAddress, rem); err != nil {
			return fmt.Errorf("%w: %v", ErrInsufficientPrefund, err)
		}
	}
	return nil
}

// refundPrefund returns unused prefund to the payer's deposit ledger, where
// ep_withdraw can reclaim it.
func refundPrefund(state core.State, payer string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	dep, err := state.GetDeposit(payer)
	if err != nil {
		return err
	}
	return state.SetDeposit(payer, dep+amount)
}

func emit(ctx *vm.Context, typ events.EventType, data map[string]any) {
	if ctx.Emitter == nil {
		return
	}
	ctx.Emitter.Emit(events.Event{
		Type:        typ,
		TxID:        ctx.Tx.ID,
		BlockHeight: ctx.Block.Header.Height,
		Data:        data,
	})
}
