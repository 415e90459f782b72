package aa

import (
	"crypto/ecdsa"
	"errors"
	"math"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/internal/testutil"
	"github.com/talisrun/talischain/vm"

	// Register the game and token handlers that user operations dispatch to.
	_ "github.com/talisrun/talischain/vm/modules/game"
)

const testChainID = "talischain-test"

func pipelineState(t *testing.T) core.State {
	t.Helper()
	st := testutil.NewStateDB()
	if err := st.SetGameParams(&core.GameParams{
		Owner:               "admin",
		SessionCost:         100,
		RewardRatePerSecond: 10,
		MinSessionDuration:  10,
		MaxSessionDuration:  300,
		VestingDuration:     1000,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetPaymasterParams(&core.PaymasterParams{
		Active:            true,
		MaxCostPerOp:      500_000,
		DailyLimitPerUser: 1_000_000,
		AllowedMethods: []string{
			string(core.TxSessionStart),
			string(core.TxSessionEnd),
			string(core.TxClaimRewards),
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetAccount(&core.Account{Address: core.GameEngineAddress, Balance: 1_000_000}); err != nil {
		t.Fatal(err)
	}
	return st
}

func pipelineCtx(st core.State, ts int64) *vm.Context {
	blk := core.NewBlock(1, "prev", "proposer", nil)
	blk.Header.Timestamp = ts
	return &vm.Context{
		State:  st,
		Block:  blk,
		Tx:     &core.Transaction{ID: "bundle-tx", ChainID: testChainID, From: "bundler"},
		Caller: "bundler",
	}
}

func fund(t *testing.T, st core.State, addr string, amount uint64) {
	t.Helper()
	acc, err := st.GetAccount(addr)
	if err != nil {
		t.Fatal(err)
	}
	acc.Balance = amount
	if err := st.SetAccount(acc); err != nil {
		t.Fatal(err)
	}
}

func buildSignedOp(t *testing.T, st core.State, key *ecdsa.PrivateKey, call *GameCall, sponsored bool) *UserOperation {
	t.Helper()
	owner := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	b := NewBuilder(st, core.EntryPointAddress, testChainID, StaticFeeSource(1))

	var op *UserOperation
	var err error
	if _, lookupErr := st.GetSmartAccountByOwner(owner); lookupErr == nil {
		op, err = b.Build(owner, call, sponsored)
	} else {
		op, err = b.BuildWithInit(owner, []byte{1}, call, sponsored)
	}
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := b.Sign(op, key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return op
}

func TestHandleOpsDeploysAndExecutes(t *testing.T) {
	st := pipelineState(t)
	key, _ := ethcrypto.GenerateKey()
	op := buildSignedOp(t, st, key, NewSessionStartCall(), false)
	fund(t, st, op.Sender, 1_000_000)

	ep := NewEntryPoint(st, testChainID)
	receipts, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary")
	if err != nil {
		t.Fatalf("HandleOps: %v", err)
	}
	if len(receipts) != 1 || !receipts[0].Success {
		t.Fatalf("unexpected receipts: %+v", receipts)
	}

	// Account deployed with the nonce advanced.
	acct, err := st.GetSmartAccount(op.Sender)
	if err != nil {
		t.Fatalf("smart account not deployed: %v", err)
	}
	if acct.NonceAt(0) != 1 {
		t.Fatalf("nonce = %d, want 1", acct.NonceAt(0))
	}

	// The inner call ran as the smart account.
	sess, err := st.GetGameSession(op.Sender)
	if err != nil {
		t.Fatalf("session not started: %v", err)
	}
	if !sess.Active {
		t.Fatal("session should be active")
	}

	// Fees went to the beneficiary and the refund to the sender's deposit.
	ben, _ := st.GetAccount("beneficiary")
	if ben.Balance != receipts[0].ActualCost {
		t.Fatalf("beneficiary balance = %d, want %d", ben.Balance, receipts[0].ActualCost)
	}
	dep, _ := st.GetDeposit(op.Sender)
	if dep != op.MaxPrefund()-receipts[0].ActualCost {
		t.Fatalf("deposit refund = %d, want %d", dep, op.MaxPrefund()-receipts[0].ActualCost)
	}
}

func TestHandleOpsRejectsReplay(t *testing.T) {
	st := pipelineState(t)
	key, _ := ethcrypto.GenerateKey()
	op := buildSignedOp(t, st, key, NewSessionStartCall(), false)
	fund(t, st, op.Sender, 1_000_000)

	ep := NewEntryPoint(st, testChainID)
	if _, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary"); err != nil {
		t.Fatal(err)
	}
	// Same signed operation again: the nonce has advanced, so it must fail.
	_, err := ep.HandleOps(pipelineCtx(st, 510), []*UserOperation{op}, "beneficiary")
	if !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("expected nonce mismatch, got %v", err)
	}
}

func TestHandleOpsRejectsWrongSigner(t *testing.T) {
	st := pipelineState(t)
	key, _ := ethcrypto.GenerateKey()
	op := buildSignedOp(t, st, key, NewSessionStartCall(), false)
	fund(t, st, op.Sender, 1_000_000)

	// Re-sign with a different key: recovery yields a non-owner address.
	intruder, _ := ethcrypto.GenerateKey()
	if err := SignOp(op, intruder, core.EntryPointAddress, testChainID); err != nil {
		t.Fatal(err)
	}

	ep := NewEntryPoint(st, testChainID)
	_, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary")
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected bad signature, got %v", err)
	}
}

func TestHandleOpsUnknownAccountWithoutInitCode(t *testing.T) {
	st := pipelineState(t)
	key, _ := ethcrypto.GenerateKey()
	op := buildSignedOp(t, st, key, NewSessionStartCall(), false)
	op.InitCode = nil
	if err := SignOp(op, key, core.EntryPointAddress, testChainID); err != nil {
		t.Fatal(err)
	}

	ep := NewEntryPoint(st, testChainID)
	_, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary")
	if !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected unknown account, got %v", err)
	}
}

func TestHandleOpsSponsoredFlow(t *testing.T) {
	st := pipelineState(t)
	fund(t, st, core.PaymasterAddress, 1_000_000)

	key, _ := ethcrypto.GenerateKey()
	op := buildSignedOp(t, st, key, NewSessionStartCall(), true)
	// The player only holds enough for the session cost; gas is sponsored.
	fund(t, st, op.Sender, 100)

	ep := NewEntryPoint(st, testChainID)
	receipts, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary")
	if err != nil {
		t.Fatalf("HandleOps: %v", err)
	}
	if !receipts[0].Sponsored {
		t.Fatal("receipt should be marked sponsored")
	}

	// The player paid the session cost but no gas.
	player, _ := st.GetAccount(op.Sender)
	if player.Balance != 0 {
		t.Fatalf("player balance = %d, want 0 (session cost only)", player.Balance)
	}

	// The daily budget reflects the settled actual cost, not the reserve.
	usage, _ := st.GetSponsorUsage(op.Sender)
	if usage.UsedToday != receipts[0].ActualCost {
		t.Fatalf("used today = %d, want %d", usage.UsedToday, receipts[0].ActualCost)
	}

	// Paymaster funds shrank by the actual cost.
	pm, _ := st.GetAccount(core.PaymasterAddress)
	pmDep, _ := st.GetDeposit(core.PaymasterAddress)
	if pm.Balance+pmDep != 1_000_000-receipts[0].ActualCost {
		t.Fatalf("paymaster holds %d, want %d", pm.Balance+pmDep, 1_000_000-receipts[0].ActualCost)
	}
}

func TestHandleOpsSponsorshipDeniedForRetry(t *testing.T) {
	st := pipelineState(t)
	fund(t, st, core.PaymasterAddress, 1_000_000)

	key, _ := ethcrypto.GenerateKey()
	op := buildSignedOp(t, st, key, NewSessionRetryCall(), true)
	fund(t, st, op.Sender, 1_000_000)

	ep := NewEntryPoint(st, testChainID)
	_, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary")
	if !errors.Is(err, ErrSponsorshipDenied) {
		t.Fatalf("expected sponsorship denial, got %v", err)
	}
}

func TestHandleOpsInnerFailurePropagates(t *testing.T) {
	st := pipelineState(t)
	key, _ := ethcrypto.GenerateKey()
	// claim_rewards with nothing vested fails inside the engine.
	op := buildSignedOp(t, st, key, NewClaimRewardsCall(), false)
	fund(t, st, op.Sender, 1_000_000)

	ep := NewEntryPoint(st, testChainID)
	_, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary")
	if err == nil || !strings.Contains(err.Error(), "claimable") {
		t.Fatalf("expected inner claim failure, got %v", err)
	}
}

func TestHandleOpsRejectsNestedBatch(t *testing.T) {
	st := pipelineState(t)
	key, _ := ethcrypto.GenerateKey()
	call := &GameCall{To: core.EntryPointAddress, Method: string(core.TxUserOps), Params: []byte(`{}`)}
	op := buildSignedOp(t, st, key, call, false)
	fund(t, st, op.Sender, 1_000_000)

	ep := NewEntryPoint(st, testChainID)
	_, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary")
	if !errors.Is(err, ErrNestedBatch) {
		t.Fatalf("expected nested batch rejection, got %v", err)
	}
}

func TestHandleOpsRejectsGasOverflow(t *testing.T) {
	st := pipelineState(t)
	fund(t, st, core.PaymasterAddress, 1_000_000)
	key, _ := ethcrypto.GenerateKey()

	// Wrapped product: (2^63 + other limits) * 4 mod 2^64 is a small number,
	// so the op would slip under the paymaster cap and prefund almost nothing.
	op := buildSignedOp(t, st, key, NewSessionStartCall(), true)
	op.CallGasLimit = 1 << 63
	op.MaxFeePerGas = 4
	if op.MaxPrefund() >= op.CallGasLimit {
		t.Fatal("fixture no longer wraps; pick larger limits")
	}
	if err := SignOp(op, key, core.EntryPointAddress, testChainID); err != nil {
		t.Fatal(err)
	}
	fund(t, st, op.Sender, 1_000_000)

	ep := NewEntryPoint(st, testChainID)
	_, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary")
	if !errors.Is(err, ErrGasOverflow) {
		t.Fatalf("expected gas overflow rejection, got %v", err)
	}

	// Wrapped sum of the gas limit fields is rejected the same way.
	op2 := buildSignedOp(t, st, key, NewSessionStartCall(), false)
	op2.VerificationGasLimit = math.MaxUint64
	if err := SignOp(op2, key, core.EntryPointAddress, testChainID); err != nil {
		t.Fatal(err)
	}
	_, err = ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op2}, "beneficiary")
	if !errors.Is(err, ErrGasOverflow) {
		t.Fatalf("expected gas overflow rejection, got %v", err)
	}
}

func TestHandleOpsRejectsForeignCallTarget(t *testing.T) {
	st := pipelineState(t)
	key, _ := ethcrypto.GenerateKey()
	call := &GameCall{
		To:     "0x000000000000000000000000000000000000dEaD",
		Method: string(core.TxSessionStart),
		Params: []byte(`{}`),
	}
	op := buildSignedOp(t, st, key, call, false)
	fund(t, st, op.Sender, 1_000_000)

	ep := NewEntryPoint(st, testChainID)
	_, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary")
	if !errors.Is(err, ErrBadCallTarget) {
		t.Fatalf("expected call target rejection, got %v", err)
	}
}

func TestHandleOpsInsufficientPrefund(t *testing.T) {
	st := pipelineState(t)
	key, _ := ethcrypto.GenerateKey()
	op := buildSignedOp(t, st, key, NewSessionStartCall(), false)
	fund(t, st, op.Sender, 10) // nowhere near MaxPrefund

	ep := NewEntryPoint(st, testChainID)
	_, err := ep.HandleOps(pipelineCtx(st, 500), []*UserOperation{op}, "beneficiary")
	if !errors.Is(err, ErrInsufficientPrefund) {
		t.Fatalf("expected prefund failure, got %v", err)
	}
}

func TestBuilderPopulatesFeesAndGas(t *testing.T) {
	st := pipelineState(t)
	key, _ := ethcrypto.GenerateKey()
	owner := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	b := NewBuilder(st, core.EntryPointAddress, testChainID, StaticFeeSource(5))
	op, err := b.BuildWithInit(owner, []byte{1}, NewSessionStartCall(), false)
	if err != nil {
		t.Fatal(err)
	}
	if op.MaxFeePerGas != 10 || op.MaxPriorityFeePerGas != 5 {
		t.Fatalf("fees = %d/%d, want 10/5 (2x safety multiplier)", op.MaxFeePerGas, op.MaxPriorityFeePerGas)
	}
	if op.CallGasLimit < 21000 {
		t.Fatalf("call gas = %d, want at least the intrinsic cost", op.CallGasLimit)
	}
	if op.Sender != DeriveAccountAddress(owner, []byte{1}) {
		t.Fatal("sender must be the counterfactual address")
	}
}

func TestBuilderFailsWithoutAccountOrFees(t *testing.T) {
	st := pipelineState(t)
	key, _ := ethcrypto.GenerateKey()
	owner := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	b := NewBuilder(st, core.EntryPointAddress, testChainID, StaticFeeSource(1))
	if _, err := b.Build(owner, NewSessionStartCall(), false); err == nil {
		t.Fatal("Build must fail without a deployed account")
	}

	noFees := NewBuilder(st, core.EntryPointAddress, testChainID, StaticFeeSource(0))
	if _, err := noFees.BuildWithInit(owner, []byte{1}, NewSessionStartCall(), false); err == nil {
		t.Fatal("Build must fail without fee data")
	}
}
