// Package game implements the session and vesting engine: timed play
// sessions paid for in tokens, talisman-scaled rewards, and linear vesting
// with a reset-on-add schedule. The engine account holds the reward pool;
// UnclaimedTotal reserves the portion already promised to players.
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
	vm.Register(core.TxSessionStart, handleSessionStart)
	vm.Register(core.TxSessionRetry, handleSessionRetry)
	vm.Register(core.TxSessionEnd, handleSessionEnd)
	vm.Register(core.TxClaimRewards, handleClaimRewards)
}

// maxBonusPercent caps the talisman multiplier: 10% per talisman, flat
// from 20 talismans up.
const (
	bonusPerTalisman = 10
	maxBonusPercent  = 200
)

// PoolCapacity returns the engine balance not yet promised to players.
func PoolCapacity(state core.State) (uint64, error) {
	engine, err := state.GetAccount(core.GameEngineAddress)
	if err != nil {
		return 0, err
	}
	unclaimed, err := state.GetUnclaimedTotal()
	if err != nil {
		return 0, err
	}
	if engine.Balance < unclaimed {
		return 0, nil
	}
	return engine.Balance - unclaimed, nil
}

func handleSessionStart(ctx *vm.Context, _ json.RawMessage) error {
	params, err := ctx.State.GetGameParams()
	if err != nil {
		return err
	}
	if params.Paused {
		return errors.New("game is paused")
	}

	sess, err := ctx.State.GetGameSession(ctx.Caller)
	if err == nil && sess.Active {
		return errors.New("session already active")
	}
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}

	// Worst case payout if the player plays a full session with max bonus
	// already reserved pool-side via UnclaimedTotal at session end. Starting
	// only requires the base worst case to be coverable.
	worstCase := uint64(params.MaxSessionDuration) * params.RewardRatePerSecond
	capacity, err := PoolCapacity(ctx.State)
	if err != nil {
		return err
	}
	if capacity < worstCase {
		return fmt.Errorf("reward pool exhausted: capacity %d, need %d", capacity, worstCase)
	}

	if err := economy.Move(ctx.State, ctx.Caller, core.GameEngineAddress, params.SessionCost); err != nil {
		return fmt.Errorf("session cost: %w", err)
	}

	now := ctx.Now()
	if err := ctx.State.SetGameSession(&core.GameSession{
		Player:    ctx.Caller,
		StartTime: now,
		Attempts:  1,
		Active:    true,
	}); err != nil {
		return err
	}

	emit(ctx, events.EventSessionStarted, map[string]any{
		"player": ctx.Caller,
		"time":   now,
		"cost":   params.SessionCost,
	})
	return nil
}

func handleSessionRetry(ctx *vm.Context, _ json.RawMessage) error {
	params, err := ctx.State.GetGameParams()
	if err != nil {
		return err
	}
	if params.Paused {
		return errors.New("game is paused")
	}

	sess, err := ctx.State.GetGameSession(ctx.Caller)
	if errors.Is(err, core.ErrNotFound) {
		return errors.New("no active session")
	}
	if err != nil {
		return err
	}
	if !sess.Active {
		return errors.New("no active session")
	}

	if err := economy.Move(ctx.State, ctx.Caller, core.GameEngineAddress, params.SessionCost); err != nil {
		return fmt.Errorf("retry cost: %w", err)
	}

	sess.Attempts++
	if err := ctx.State.SetGameSession(sess); err != nil {
		return err
	}

	emit(ctx, events.EventGameRetried, map[string]any{
		"player":  ctx.Caller,
		"attempt": sess.Attempts,
		"cost":    params.SessionCost,
	})
	return nil
}

func handleSessionEnd(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SessionEndPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode session_end payload: %w", err)
	}

	params, err := ctx.State.GetGameParams()
	if err != nil {
		return err
	}
	if params.Paused {
		return errors.New("game is paused")
	}

	sess, err := ctx.State.GetGameSession(ctx.Caller)
	if errors.Is(err, core.ErrNotFound) {
		return errors.New("no active session")
	}
	if err != nil {
		return err
	}
	if !sess.Active {
		return errors.New("no active session")
	}

	now := ctx.Now()
	elapsed := now - sess.StartTime
	if elapsed < params.MinSessionDuration {
		return fmt.Errorf("session too short: %ds, minimum %ds", elapsed, params.MinSessionDuration)
	}

	duration := elapsed
	if duration > params.MaxSessionDuration {
		duration = params.MaxSessionDuration
	}

	base := uint64(duration) * params.RewardRatePerSecond
	// Cap the talisman count before multiplying so an absurd report cannot
	// wrap the bonus below the flat maximum.
	bonus := uint64(maxBonusPercent)
	if p.Talismans < maxBonusPercent/bonusPerTalisman {
		bonus = p.Talismans * bonusPerTalisman
	}
	reward := base * (100 + bonus) / 100

	sess.Active = false
	sess.EndTime = now
	sess.RewardEarned = reward
	sess.TalismansCollected = p.Talismans
	if err := ctx.State.SetGameSession(sess); err != nil {
		return err
	}

	vs, err := ctx.State.GetVesting(ctx.Caller)
	if err != nil {
		return err
	}
	addReward(vs, reward, now, params.VestingDuration)
	if err := ctx.State.SetVesting(vs); err != nil {
		return err
	}

	unclaimed, err := ctx.State.GetUnclaimedTotal()
	if err != nil {
		return err
	}
	if err := ctx.State.SetUnclaimedTotal(unclaimed + reward); err != nil {
		return err
	}

	emit(ctx, events.EventSessionEnded, map[string]any{
		"player":     ctx.Caller,
		"duration":   duration,
		"reward":     reward,
		"talismans":  p.Talismans,
		"multiplier": 100 + bonus,
	})
	return nil
}

func handleClaimRewards(ctx *vm.Context, _ json.RawMessage) error {
	params, err := ctx.State.GetGameParams()
	if err != nil {
		return err
	}
	if params.Paused {
		return errors.New("game is paused")
	}

	vs, err := ctx.State.GetVesting(ctx.Caller)
	if err != nil {
		return err
	}

	claimable := ClaimableAmount(vs, ctx.Now())
	if claimable == 0 {
		return errors.New("nothing claimable")
	}

	vs.ClaimedAmount += claimable
	if err := ctx.State.SetVesting(vs); err != nil {
		return err
	}

	unclaimed, err := ctx.State.GetUnclaimedTotal()
	if err != nil {
		return err
	}
	if unclaimed < claimable {
		return fmt.Errorf("unclaimed total underflow: %d < %d", unclaimed, claimable)
	}
	if err := ctx.State.SetUnclaimedTotal(unclaimed - claimable); err != nil {
		return err
	}

	if err := economy.Move(ctx.State, core.GameEngineAddress, ctx.Caller, claimable); err != nil {
		return fmt.Errorf("payout: %w", err)
	}

	emit(ctx, events.EventRewardsClaimed, map[string]any{
		"player": ctx.Caller,
		"amount": claimable,
	})
	return nil
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
