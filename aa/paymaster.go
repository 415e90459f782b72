package aa

import (
	"errors"
	"fmt"

	"github.com/talisrun/talischain/core"
)

// sponsorWindowSec is the rolling budget window. The window is anchored at
// the user's last reset, not wall-clock midnight, and resets lazily on the
// next validation after it elapses.
const sponsorWindowSec = 24 * 60 * 60

// ErrSponsorshipDenied is wrapped by every Validate rejection so callers
// can distinguish "pay your own gas" from execution failures.
var ErrSponsorshipDenied = errors.New("sponsorship denied")

// SponsorContext carries the reservation from Validate to Settle.
type SponsorContext struct {
	User     string
	Reserved uint64
}

// SponsorshipGuard authorizes gas sponsorship per operation against a
// rolling daily budget and an allow-list of game methods.
type SponsorshipGuard struct {
	state core.State
}

// NewSponsorshipGuard wraps a chain state.
func NewSponsorshipGuard(state core.State) *SponsorshipGuard {
	return &SponsorshipGuard{state: state}
}

// Validate checks the operation against sponsorship policy and reserves
// maxCost from the sender's daily budget. The reservation is conservative;
// Settle returns the unused portion afterwards.
func (g *SponsorshipGuard) Validate(op *UserOperation, maxCost uint64, now int64) (*SponsorContext, error) {
	params, err := g.state.GetPaymasterParams()
	if err != nil {
		return nil, err
	}
	if !params.Active {
		return nil, fmt.Errorf("%w: paymaster inactive", ErrSponsorshipDenied)
	}
	if maxCost > params.MaxCostPerOp {
		return nil, fmt.Errorf("%w: cost %d exceeds per-op cap %d", ErrSponsorshipDenied, maxCost, params.MaxCostPerOp)
	}

	call, err := DecodeGameCall(op.CallData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSponsorshipDenied, err)
	}
	if call.To != core.GameEngineAddress {
		return nil, fmt.Errorf("%w: target %s is not the game engine", ErrSponsorshipDenied, call.To)
	}
	if !params.MethodAllowed(call.Method) {
		return nil, fmt.Errorf("%w: method %s not sponsorable", ErrSponsorshipDenied, call.Method)
	}

	usage, err := g.state.GetSponsorUsage(op.Sender)
	if err != nil {
		return nil, err
	}
	if now-usage.WindowStart >= sponsorWindowSec {
		usage.UsedToday = 0
		usage.WindowStart = now
	}
	if usage.UsedToday+maxCost > params.DailyLimitPerUser {
		return nil, fmt.Errorf("%w: daily budget exhausted (used %d, limit %d)",
			ErrSponsorshipDenied, usage.UsedToday, params.DailyLimitPerUser)
	}

	usage.UsedToday += maxCost
	if err := g.state.SetSponsorUsage(usage); err != nil {
		return nil, err
	}
	return &SponsorContext{User: op.Sender, Reserved: maxCost}, nil
}

// Settle refunds the reserve minus the gas actually consumed back to the
// user's daily budget, so conservative estimates do not burn allowance.
func (g *SponsorshipGuard) Settle(ctx *SponsorContext, actualCost uint64) error {
	if ctx == nil {
		return nil
	}
	refund := uint64(0)
	if actualCost < ctx.Reserved {
		refund = ctx.Reserved - actualCost
	}
	if refund == 0 {
		return nil
	}

	usage, err := g.state.GetSponsorUsage(ctx.User)
	if err != nil {
		return err
	}
	if refund > usage.UsedToday {
		refund = usage.UsedToday
	}
	usage.UsedToday -= refund
	return g.state.SetSponsorUsage(usage)
}
