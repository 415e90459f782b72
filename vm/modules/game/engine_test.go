package game

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/internal/testutil"
	"github.com/talisrun/talischain/vm"
)

const player = "player-pubkey"

func testParams() *core.GameParams {
	return &core.GameParams{
		Owner:               "owner-pubkey",
		SessionCost:         100,
		RewardRatePerSecond: 10,
		MinSessionDuration:  10,
		MaxSessionDuration:  300,
		VestingDuration:     1000,
	}
}

func newGameState(t *testing.T, playerBalance, pool uint64) core.State {
	t.Helper()
	st := testutil.NewStateDB()
	if err := st.SetGameParams(testParams()); err != nil {
		t.Fatal(err)
	}
	if err := st.SetAccount(&core.Account{Address: player, Balance: playerBalance}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetAccount(&core.Account{Address: core.GameEngineAddress, Balance: pool}); err != nil {
		t.Fatal(err)
	}
	return st
}

func ctxAt(st core.State, ts int64, caller string) *vm.Context {
	blk := core.NewBlock(1, "prev", "proposer", nil)
	blk.Header.Timestamp = ts
	return &vm.Context{
		State:  st,
		Block:  blk,
		Tx:     &core.Transaction{ID: "test-tx"},
		Caller: caller,
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestSessionStartDebitsAndActivates(t *testing.T) {
	st := newGameState(t, 1000, 100_000)

	if err := handleSessionStart(ctxAt(st, 500, player), nil); err != nil {
		t.Fatalf("session_start: %v", err)
	}

	sess, err := st.GetGameSession(player)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Active || sess.StartTime != 500 || sess.Attempts != 1 {
		t.Fatalf("unexpected session state: %+v", sess)
	}

	acc, _ := st.GetAccount(player)
	if acc.Balance != 900 {
		t.Fatalf("player balance = %d, want 900 after session cost", acc.Balance)
	}
	engine, _ := st.GetAccount(core.GameEngineAddress)
	if engine.Balance != 100_100 {
		t.Fatalf("engine balance = %d, want 100100", engine.Balance)
	}
}

func TestSessionStartRejectsSecondSession(t *testing.T) {
	st := newGameState(t, 1000, 100_000)
	if err := handleSessionStart(ctxAt(st, 500, player), nil); err != nil {
		t.Fatal(err)
	}
	if err := handleSessionStart(ctxAt(st, 510, player), nil); err == nil {
		t.Fatal("expected rejection while a session is active")
	}
}

func TestSessionStartChecksPoolCapacity(t *testing.T) {
	// Worst case payout = 300s * 10/s = 3000. Pool holds 3000 but 500 of it
	// is already promised, so the start must be rejected.
	st := newGameState(t, 1000, 3000)
	if err := st.SetUnclaimedTotal(500); err != nil {
		t.Fatal(err)
	}
	err := handleSessionStart(ctxAt(st, 500, player), nil)
	if err == nil || !strings.Contains(err.Error(), "pool") {
		t.Fatalf("expected pool exhaustion error, got %v", err)
	}
}

func TestSessionStartRejectedWhilePaused(t *testing.T) {
	st := newGameState(t, 1000, 100_000)
	params, _ := st.GetGameParams()
	params.Paused = true
	if err := st.SetGameParams(params); err != nil {
		t.Fatal(err)
	}
	if err := handleSessionStart(ctxAt(st, 500, player), nil); err == nil {
		t.Fatal("expected rejection while paused")
	}
}

func TestSessionRetryIncrementsAttempts(t *testing.T) {
	st := newGameState(t, 1000, 100_000)
	if err := handleSessionStart(ctxAt(st, 500, player), nil); err != nil {
		t.Fatal(err)
	}
	if err := handleSessionRetry(ctxAt(st, 520, player), nil); err != nil {
		t.Fatalf("session_retry: %v", err)
	}

	sess, _ := st.GetGameSession(player)
	if sess.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", sess.Attempts)
	}
	if sess.StartTime != 500 {
		t.Fatal("retry must not move the start time")
	}
	acc, _ := st.GetAccount(player)
	if acc.Balance != 800 {
		t.Fatalf("player balance = %d, want 800 after two session costs", acc.Balance)
	}
}

func TestSessionRetryWithoutSession(t *testing.T) {
	st := newGameState(t, 1000, 100_000)
	if err := handleSessionRetry(ctxAt(st, 500, player), nil); err == nil {
		t.Fatal("expected rejection without an active session")
	}
}

func TestSessionEndRewardAndVesting(t *testing.T) {
	st := newGameState(t, 1000, 100_000)
	if err := handleSessionStart(ctxAt(st, 500, player), nil); err != nil {
		t.Fatal(err)
	}

	// 60s played, 5 talismans → base 600, bonus 50% → 900.
	payload := mustJSON(t, core.SessionEndPayload{Talismans: 5})
	if err := handleSessionEnd(ctxAt(st, 560, player), payload); err != nil {
		t.Fatalf("session_end: %v", err)
	}

	sess, _ := st.GetGameSession(player)
	if sess.Active {
		t.Fatal("session must be marked ended")
	}
	if sess.RewardEarned != 900 {
		t.Fatalf("reward = %d, want 900", sess.RewardEarned)
	}

	vs, _ := st.GetVesting(player)
	if vs.TotalAmount != 900 || vs.StartTime != 560 || vs.Duration != 1000 {
		t.Fatalf("unexpected vesting schedule: %+v", vs)
	}

	unclaimed, _ := st.GetUnclaimedTotal()
	if unclaimed != 900 {
		t.Fatalf("unclaimed total = %d, want 900", unclaimed)
	}
}

func TestSessionEndCapsDurationAndBonus(t *testing.T) {
	st := newGameState(t, 1000, 100_000)
	if err := handleSessionStart(ctxAt(st, 500, player), nil); err != nil {
		t.Fatal(err)
	}

	// 1000s elapsed caps at 300s; 50 talismans cap at 200% bonus.
	// base 3000 × 300/100 = 9000.
	payload := mustJSON(t, core.SessionEndPayload{Talismans: 50})
	if err := handleSessionEnd(ctxAt(st, 1500, player), payload); err != nil {
		t.Fatal(err)
	}
	sess, _ := st.GetGameSession(player)
	if sess.RewardEarned != 9000 {
		t.Fatalf("reward = %d, want 9000 (capped duration and bonus)", sess.RewardEarned)
	}
}

func TestSessionEndHugeTalismanCountGetsFlatBonus(t *testing.T) {
	st := newGameState(t, 1000, 100_000)
	if err := handleSessionStart(ctxAt(st, 500, player), nil); err != nil {
		t.Fatal(err)
	}

	// A count large enough to wrap count*10 in uint64 must still earn the
	// flat 200% bonus: 120s → base 1200 × 300/100 = 3600.
	payload := mustJSON(t, core.SessionEndPayload{Talismans: 1_844_674_407_370_955_170})
	if err := handleSessionEnd(ctxAt(st, 620, player), payload); err != nil {
		t.Fatal(err)
	}
	sess, _ := st.GetGameSession(player)
	if sess.RewardEarned != 3600 {
		t.Fatalf("reward = %d, want 3600 (flat max bonus)", sess.RewardEarned)
	}
}

func TestSessionEndTooShort(t *testing.T) {
	st := newGameState(t, 1000, 100_000)
	if err := handleSessionStart(ctxAt(st, 500, player), nil); err != nil {
		t.Fatal(err)
	}
	payload := mustJSON(t, core.SessionEndPayload{Talismans: 0})
	if err := handleSessionEnd(ctxAt(st, 505, player), payload); err == nil {
		t.Fatal("expected rejection below minimum session duration")
	}
}

func TestClaimRewardsConservation(t *testing.T) {
	st := newGameState(t, 1000, 100_000)
	if err := handleSessionStart(ctxAt(st, 500, player), nil); err != nil {
		t.Fatal(err)
	}
	payload := mustJSON(t, core.SessionEndPayload{Talismans: 0})
	if err := handleSessionEnd(ctxAt(st, 600, player), payload); err != nil {
		t.Fatal(err)
	}
	// Reward 1000, vesting over 1000s from t=600.

	// Half vested at t=1100.
	if err := handleClaimRewards(ctxAt(st, 1100, player), nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	vs, _ := st.GetVesting(player)
	if vs.ClaimedAmount != 500 {
		t.Fatalf("claimed = %d, want 500", vs.ClaimedAmount)
	}
	unclaimed, _ := st.GetUnclaimedTotal()
	if unclaimed != 500 {
		t.Fatalf("unclaimed total = %d, want 500", unclaimed)
	}

	// Nothing more vested yet: claim again at the same instant must fail.
	if err := handleClaimRewards(ctxAt(st, 1100, player), nil); err == nil {
		t.Fatal("expected rejection with nothing claimable")
	}

	// Fully vested: claim the rest. Total claimed never exceeds total earned.
	if err := handleClaimRewards(ctxAt(st, 1600, player), nil); err != nil {
		t.Fatal(err)
	}
	vs, _ = st.GetVesting(player)
	if vs.ClaimedAmount != vs.TotalAmount {
		t.Fatalf("claimed %d != earned %d after full vest", vs.ClaimedAmount, vs.TotalAmount)
	}
	unclaimed, _ = st.GetUnclaimedTotal()
	if unclaimed != 0 {
		t.Fatalf("unclaimed total = %d, want 0", unclaimed)
	}
}

func TestPoolWithdrawCappedByUnclaimed(t *testing.T) {
	st := newGameState(t, 1000, 10_000)
	if err := st.SetAccount(&core.Account{Address: "owner-pubkey", Balance: 0}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetUnclaimedTotal(9_500); err != nil {
		t.Fatal(err)
	}

	payload := mustJSON(t, core.PoolAmountPayload{Amount: 600})
	if err := handlePoolWithdraw(ctxAt(st, 500, "owner-pubkey"), payload); err == nil {
		t.Fatal("expected rejection: withdraw would dip into promised rewards")
	}

	payload = mustJSON(t, core.PoolAmountPayload{Amount: 500})
	if err := handlePoolWithdraw(ctxAt(st, 500, "owner-pubkey"), payload); err != nil {
		t.Fatalf("withdraw within capacity: %v", err)
	}
}

func TestPoolWithdrawOwnerOnly(t *testing.T) {
	st := newGameState(t, 1000, 10_000)
	payload := mustJSON(t, core.PoolAmountPayload{Amount: 1})
	if err := handlePoolWithdraw(ctxAt(st, 500, player), payload); err == nil {
		t.Fatal("expected owner check rejection")
	}
}

func TestSetParamsValidatesDurations(t *testing.T) {
	st := newGameState(t, 1000, 10_000)
	bad := mustJSON(t, core.GameSetParamsPayload{
		SessionCost:         1,
		RewardRatePerSecond: 1,
		MinSessionDuration:  100,
		MaxSessionDuration:  100,
		VestingDuration:     10,
	})
	if err := handleSetParams(ctxAt(st, 500, "owner-pubkey"), bad); err == nil {
		t.Fatal("expected rejection when max <= min")
	}
}

func TestSetPaused(t *testing.T) {
	st := newGameState(t, 1000, 10_000)
	payload := mustJSON(t, core.GameSetPausedPayload{Paused: true})
	if err := handleSetPaused(ctxAt(st, 500, "owner-pubkey"), payload); err != nil {
		t.Fatal(err)
	}
	params, _ := st.GetGameParams()
	if !params.Paused {
		t.Fatal("pause flag not persisted")
	}
}
