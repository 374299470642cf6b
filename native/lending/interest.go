package lending

import "math/big"

// utilCeilingBps is the fixed upper knee of the rate curve. Beyond it the
// third slope engages to protect the reserve against full depletion.
const utilCeilingBps = 9_500

var (
	rateModifierFloor = big.NewInt(scalarOne / 10)
	rateModifierCap   = big.NewInt(scalarOne * 10)
)

// RateBps evaluates the three-segment borrow rate curve at the given
// utilization. The first two segments scale with the reserve's rate modifier;
// the emergency segment above the ceiling does not, so a damped modifier can
// never mask near-depletion pricing.
func RateBps(utilBps uint64, params InterestRateParams, rateModifier *big.Int) uint64 {
	if rateModifier == nil || rateModifier.Sign() <= 0 {
		rateModifier = big.NewInt(scalarOne)
	}
	target := params.TargetUtilizationBps
	if target == 0 || target > utilCeilingBps {
		target = utilCeilingBps
	}
	util := new(big.Int).SetUint64(utilBps)
	base := new(big.Int).SetUint64(params.BaseRateBps)

	curve := new(big.Int)
	extra := new(big.Int)
	switch {
	case utilBps <= target:
		// base + util/target * slope1
		seg := new(big.Int).SetUint64(params.SlopeOneBps)
		seg.Mul(seg, util)
		seg.Quo(seg, new(big.Int).SetUint64(target))
		curve.Add(base, seg)
	case utilBps <= utilCeilingBps:
		// base + slope1 + (util-target)/(ceiling-target) * slope2
		seg := new(big.Int).SetUint64(params.SlopeTwoBps)
		seg.Mul(seg, new(big.Int).SetUint64(utilBps-target))
		seg.Quo(seg, new(big.Int).SetUint64(utilCeilingBps-target))
		curve.Add(base, new(big.Int).SetUint64(params.SlopeOneBps))
		curve.Add(curve, seg)
	default:
		over := utilBps - utilCeilingBps
		if over > basisPointsMax-utilCeilingBps {
			over = basisPointsMax - utilCeilingBps
		}
		curve.Add(base, new(big.Int).SetUint64(params.SlopeOneBps))
		curve.Add(curve, new(big.Int).SetUint64(params.SlopeTwoBps))
		extra.SetUint64(params.SlopeThreeBps)
		extra.Mul(extra, new(big.Int).SetUint64(over))
		extra.Quo(extra, new(big.Int).SetUint64(basisPointsMax-utilCeilingBps))
	}

	rate := new(big.Int).Mul(curve, rateModifier)
	rate.Quo(rate, scalar)
	rate.Add(rate, extra)
	return rate.Uint64()
}

// stepRateModifier nudges the modifier toward the value that would restore
// target utilization: above target the modifier rises (borrowing becomes more
// expensive), below target it decays. Steps truncate toward zero so repeated
// tiny intervals never overshoot, and the result is clamped to [0.1, 10.0].
func stepRateModifier(current *big.Int, utilBps uint64, params InterestRateParams, elapsed uint64) *big.Int {
	next := cloneBig(current)
	if next.Sign() <= 0 {
		next = big.NewInt(scalarOne)
	}
	if params.ReactivityScalar == 0 || elapsed == 0 {
		return clampRateModifier(next)
	}
	target := params.TargetUtilizationBps
	if target == 0 || target > utilCeilingBps {
		target = utilCeilingBps
	}
	var errBps uint64
	rising := utilBps > target
	if rising {
		errBps = utilBps - target
	} else {
		errBps = target - utilBps
	}
	step := new(big.Int).SetUint64(params.ReactivityScalar)
	step.Mul(step, new(big.Int).SetUint64(errBps))
	step.Mul(step, new(big.Int).SetUint64(elapsed))
	step.Quo(step, basisPoints)
	if rising {
		next.Add(next, step)
	} else {
		next.Sub(next, step)
	}
	return clampRateModifier(next)
}

func clampRateModifier(v *big.Int) *big.Int {
	if v.Cmp(rateModifierFloor) < 0 {
		return new(big.Int).Set(rateModifierFloor)
	}
	if v.Cmp(rateModifierCap) > 0 {
		return new(big.Int).Set(rateModifierCap)
	}
	return v
}
