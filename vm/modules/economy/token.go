// Package economy implements the fungible token ledger: transfer, approve
// and allowance-based transfer_from, plus balance-move helpers used by the
// game engine and the entry-point dispatcher.
package economy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/events"
	"github.com/talisrun/talischain/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
	vm.Register(core.TxApprove, handleApprove)
	vm.Register(core.TxTransferFrom, handleTransferFrom)
}

// Move debits amount from one account and credits another, failing with a
// distinguishable "insufficient balance" reason. Exported for the game and
// aa modules so every balance change goes through one code path.
func Move(state core.State, from, to string, amount uint64) error {
	sender, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", sender.Balance, amount)
	}
	sender.Balance -= amount
	if err := state.SetAccount(sender); err != nil {
		return err
	}
	recipient, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	recipient.Balance += amount
	return state.SetAccount(recipient)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("transfer amount must be > 0")
	}
	if p.To == "" {
		return errors.New("transfer to address required")
	}
	if err := Move(ctx.State, ctx.Caller, p.To, p.Amount); err != nil {
		return err
	}
	emitTransfer(ctx, ctx.Caller, p.To, p.Amount)
	return nil
}

func handleApprove(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ApprovePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode approve payload: %w", err)
	}
	if p.Spender == "" {
		return errors.New("approve spender required")
	}

	owner, err := ctx.State.GetAccount(ctx.Caller)
	if err != nil {
		return err
	}
	owner.SetAllowance(p.Spender, p.Amount)
	if err := ctx.State.SetAccount(owner); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventApproval,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"owner":   ctx.Caller,
				"spender": p.Spender,
				"amount":  p.Amount,
			},
		})
	}
	return nil
}

func handleTransferFrom(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferFromPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_from payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("transfer amount must be > 0")
	}
	if p.Owner == "" || p.To == "" {
		return errors.New("transfer_from owner and to addresses required")
	}

	owner, err := ctx.State.GetAccount(p.Owner)
	if err != nil {
		return err
	}
	allowed := owner.Allowance(ctx.Caller)
	if allowed < p.Amount {
		return fmt.Errorf("insufficient allowance: have %d, need %d", allowed, p.Amount)
	}
	owner.SetAllowance(ctx.Caller, allowed-p.Amount)
	if err := ctx.State.SetAccount(owner); err != nil {
		return err
	}

	if err := Move(ctx.State, p.Owner, p.To, p.Amount); err != nil {
		return err
	}
	emitTransfer(ctx, p.Owner, p.To, p.Amount)
	return nil
}

func emitTransfer(ctx *vm.Context, from, to string, amount uint64) {
	if ctx.Emitter == nil {
		return
	}
	ctx.Emitter.Emit(events.Event{
		Type:        events.EventTokenTransfer,
		TxID:        ctx.Tx.ID,
		BlockHeight: ctx.Block.Header.Height,
		Data: map[string]any{
			"from":   from,
			"to":     to,
			"amount": amount,
		},
	})
}
