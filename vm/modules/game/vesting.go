package game

import "github.com/talisrun/talischain/core"

// VestedAmount returns how much of the schedule's total has unlocked at time
// now. Unlocking is linear from StartTime over Duration seconds.
func VestedAmount(vs *core.VestingSchedule, now int64) uint64 {
	if vs.TotalAmount == 0 || now <= vs.StartTime {
		return 0
	}
	elapsed := now - vs.StartTime
	if vs.Duration <= 0 || elapsed >= vs.Duration {
		return vs.TotalAmount
	}
	return vs.TotalAmount * uint64(elapsed) / uint64(vs.Duration)
}

// ClaimableAmount returns the portion unlocked but not yet paid out.
// After a reset-on-add the vested amount can fall below ClaimedAmount
// until the new schedule catches up, so the result is clamped at zero.
func ClaimableAmount(vs *core.VestingSchedule, now int64) uint64 {
	vested := VestedAmount(vs, now)
	if vested <= vs.ClaimedAmount {
		return 0
	}
	return vested - vs.ClaimedAmount
}

// addReward folds a new session reward into the schedule, restarting the
// linear unlock from now over duration seconds.
func addReward(vs *core.VestingSchedule, reward uint64, now, duration int64) {
	vs.TotalAmount += reward
	vs.StartTime = now
	vs.Duration = duration
}
