package lending

import "math/big"

// accrueReserve advances the reserve's exchange rates to the supplied
// timestamp and returns the interest slice routed to the backstop. Calling it
// again at the same timestamp is a no-op; rates never move backwards.
//
// dTokenRate grows by the full pro-rated borrow rate. Lender value grows by
// the accrued interest minus the backstop take, and bTokenRate is re-derived
// from the post-accrual deposits so rounding dust from intervening operations
// is folded back into the lender side.
func accrueReserve(r *ReserveState, takeRateBps uint64, now uint64) *big.Int {
	take := big.NewInt(0)
	if r == nil || now <= r.LastAccrual {
		return take
	}
	elapsed := now - r.LastAccrual
	r.LastAccrual = now

	util := utilizationBps(r.TotalDeposited, r.TotalBorrowed)
	r.RateModifier = stepRateModifier(r.RateModifier, util, r.Params, elapsed)

	if r.TotalBorrowed.Sign() <= 0 {
		return take
	}

	rateBps := RateBps(util, r.Params, r.RateModifier)
	if rateBps == 0 {
		return take
	}

	// denom = seconds-per-year * 10_000; both the rate growth and the
	// interest amount truncate down, keeping accrual conservative.
	denom := new(big.Int).Mul(yearSeconds, basisPoints)
	factor := new(big.Int).SetUint64(rateBps)
	factor.Mul(factor, new(big.Int).SetUint64(elapsed))

	growth := new(big.Int).Mul(r.DTokenRate, factor)
	growth.Quo(growth, denom)
	r.DTokenRate = new(big.Int).Add(r.DTokenRate, growth)

	interest := new(big.Int).Mul(r.TotalBorrowed, factor)
	interest.Quo(interest, denom)
	if interest.Sign() <= 0 {
		return take
	}

	if takeRateBps > basisPointsMax {
		takeRateBps = basisPointsMax
	}
	take = new(big.Int).Mul(interest, new(big.Int).SetUint64(takeRateBps))
	take.Quo(take, basisPoints)
	lenderInterest := new(big.Int).Sub(interest, take)

	r.TotalBorrowed = new(big.Int).Add(r.TotalBorrowed, interest)
	r.TotalDeposited = new(big.Int).Add(r.TotalDeposited, lenderInterest)
	r.BackstopCredit = new(big.Int).Add(r.BackstopCredit, take)

	if r.BTokenSupply.Sign() > 0 {
		implied := new(big.Int).Mul(r.TotalDeposited, scalar)
		implied.Quo(implied, r.BTokenSupply)
		if implied.Cmp(r.BTokenRate) > 0 {
			r.BTokenRate = implied
		}
	}
	return take
}
