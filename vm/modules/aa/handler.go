// Package aa wires the account-abstraction pipeline into the transaction
// registry: user_ops batches and the entry-point deposit ledger.
package aa

import (
	"encoding/json"
	"errors"
	"fmt"

	aapipe "github.com/talisrun/talischain/aa"
	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/vm"
	"github.com/talisrun/talischain/vm/modules/economy"
)

func init() {
	vm.Register(core.TxUserOps, handleUserOps)
	vm.Register(core.TxEPDeposit, handleEPDeposit)
	vm.Register(core.TxEPWithdraw, handleEPWithdraw)
}

func handleUserOps(ctx *vm.Context, payload json.RawMessage) error {
	var p aapipe.UserOpsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode user_ops payload: %w", err)
	}

	ep := aapipe.NewEntryPoint(ctx.State, ctx.Tx.ChainID)
	_, err := ep.HandleOps(ctx, p.Ops, p.Beneficiary)
	return err
}

// handleEPDeposit moves tokens into the entry-point account and credits the
// caller's prefund deposit.
func handleEPDeposit(ctx *vm.Context, payload json.RawMessage) error {
	var p core.EPAmountPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode ep_deposit payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("deposit amount must be > 0")
	}

	if err := economy.Move(ctx.State, ctx.Caller, core.EntryPointAddress, p.Amount); err != nil {
		return err
	}
	dep, err := ctx.State.GetDeposit(ctx.Caller)
	if err != nil {
		return err
	}
	return ctx.State.SetDeposit(ctx.Caller, dep+p.Amount)
}

// handleEPWithdraw reclaims unspent prefund deposit back to the caller.
func handleEPWithdraw(ctx *vm.Context, payload json.RawMessage) error {
	var p core.EPAmountPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode ep_withdraw payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("withdraw amount must be > 0")
	}

	dep, err := ctx.State.GetDeposit(ctx.Caller)
	if err != nil {
		return err
	}
	if p.Amount > dep {
		return fmt.Errorf("withdraw %d exceeds deposit %d", p.Amount, dep)
	}
	if err := ctx.State.SetDeposit(ctx.Caller, dep-p.Amount); err != nil {
		return err
	}
	return economy.Move(ctx.State, core.EntryPointAddress, ctx.Caller, p.Amount)
}
