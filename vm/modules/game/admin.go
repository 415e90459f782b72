package game

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/events"
	"github.com/talisrun/talischain/vm"
	"github.com/talisrun/talischain/vm/modules/economy"
)

func init() {
	vm.Register(core.TxGameSetParams, handleSetParams)
	vm.Register(core.TxGameSetPaused, handleSetPaused)
	vm.Register(core.TxPoolDeposit, handlePoolDeposit)
	vm.Register(core.TxPoolWithdraw, handlePoolWithdraw)
	vm.Register(core.TxPaymasterSetParams, handlePaymasterSetParams)
}

func requireOwner(ctx *vm.Context) (*core.GameParams, error) {
	params, err := ctx.State.GetGameParams()
	if err != nil {
		return nil, err
	}
	if ctx.Caller != params.Owner {
		return nil, errors.New("caller is not the engine owner")
	}
	return params, nil
}

func handleSetParams(ctx *vm.Context, payload json.RawMessage) error {
	params, err := requireOwner(ctx)
	if err != nil {
		return err
	}

	var p core.GameSetParamsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode game_set_params payload: %w", err)
	}
	if p.MaxSessionDuration <= p.MinSessionDuration {
		return fmt.Errorf("max session duration %d must exceed min %d", p.MaxSessionDuration, p.MinSessionDuration)
	}
	if p.VestingDuration <= 0 {
		return errors.New("vesting duration must be > 0")
	}

	params.SessionCost = p.SessionCost
	params.RewardRatePerSecond = p.RewardRatePerSecond
	params.MinSessionDuration = p.MinSessionDuration
	params.MaxSessionDuration = p.MaxSessionDuration
	params.VestingDuration = p.VestingDuration
	if err := ctx.State.SetGameParams(params); err != nil {
		return err
	}

	emit(ctx, events.EventGameParamsUpdated, map[string]any{
		"session_cost":           p.SessionCost,
		"reward_rate_per_second": p.RewardRatePerSecond,
		"min_session_duration":   p.MinSessionDuration,
		"max_session_duration":   p.MaxSessionDuration,
		"vesting_duration":       p.VestingDuration,
	})
	return nil
}

func handleSetPaused(ctx *vm.Context, payload json.RawMessage) error {
	params, err := requireOwner(ctx)
	if err != nil {
		return err
	}

	var p core.GameSetPausedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode game_set_paused payload: %w", err)
	}

	params.Paused = p.Paused
	if err := ctx.State.SetGameParams(params); err != nil {
		return err
	}

	emit(ctx, events.EventGamePaused, map[string]any{"paused": p.Paused})
	return nil
}

// handlePoolDeposit lets anyone top up the reward pool.
func handlePoolDeposit(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PoolAmountPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode pool_deposit payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("deposit amount must be > 0")
	}

	if err := economy.Move(ctx.State, ctx.Caller, core.GameEngineAddress, p.Amount); err != nil {
		return err
	}

	emit(ctx, events.EventPoolDeposit, map[string]any{
		"from":   ctx.Caller,
		"amount": p.Amount,
	})
	return nil
}

// handlePoolWithdraw lets the owner drain unreserved pool funds. The amount
// promised to players via UnclaimedTotal can never be withdrawn.
func handlePoolWithdraw(ctx *vm.Context, payload json.RawMessage) error {
	if _, err := requireOwner(ctx); err != nil {
		return err
	}

	var p core.PoolAmountPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode pool_withdraw payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("withdraw amount must be > 0")
	}

	capacity, err := PoolCapacity(ctx.State)
	if err != nil {
		return err
	}
	if p.Amount > capacity {
		return fmt.Errorf("withdraw %d exceeds free capacity %d", p.Amount, capacity)
	}

	if err := economy.Move(ctx.State, core.GameEngineAddress, ctx.Caller, p.Amount); err != nil {
		return err
	}

	emit(ctx, events.EventPoolWithdraw, map[string]any{
		"to":     ctx.Caller,
		"amount": p.Amount,
	})
	return nil
}

func handlePaymasterSetParams(ctx *vm.Context, payload json.RawMessage) error {
	if _, err := requireOwner(ctx); err != nil {
		return err
	}

	var p core.PaymasterSetParamsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode paymaster_set_params payload: %w", err)
	}

	return ctx.State.SetPaymasterParams(&core.PaymasterParams{
		Active:            p.Active,
		MaxCostPerOp:      p.MaxCostPerOp,
		DailyLimitPerUser: p.DailyLimitPerUser,
		AllowedMethods:    p.AllowedMethods,
	})
}
