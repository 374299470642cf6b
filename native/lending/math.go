package lending

import "math/big"

// Fixed-point conventions shared by the whole module: exchange rates and
// auction modifiers are scalar-9 values (1_000_000_000 == 1.0), percentages
// are basis points (10_000 == 100%).
const (
	scalarOne      = 1_000_000_000
	basisPointsMax = 10_000
	secondsPerYear = 31_536_000
)

var (
	scalar      = big.NewInt(scalarOne)
	basisPoints = big.NewInt(basisPointsMax)
	yearSeconds = big.NewInt(secondsPerYear)
)

// Rounding selects the direction share/underlying conversions truncate in.
// Every conversion call sites names its direction explicitly; the pool-favoring
// choice is RoundDown for value leaving the pool and RoundUp for value owed to
// the pool.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

func mulDiv(a, b, denom *big.Int, rounding Rounding) *big.Int {
	if denom.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(num, denom, new(big.Int))
	if rounding == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// ToShares converts an underlying amount into shares at the given scalar-9
// exchange rate.
func ToShares(underlying, rate *big.Int, rounding Rounding) *big.Int {
	if underlying == nil || rate == nil || underlying.Sign() <= 0 || rate.Sign() <= 0 {
		return big.NewInt(0)
	}
	return mulDiv(underlying, scalar, rate, rounding)
}

// ToUnderlying converts a share amount into underlying at the given scalar-9
// exchange rate.
func ToUnderlying(shares, rate *big.Int, rounding Rounding) *big.Int {
	if shares == nil || rate == nil || shares.Sign() <= 0 || rate.Sign() <= 0 {
		return big.NewInt(0)
	}
	return mulDiv(shares, rate, scalar, rounding)
}

// utilizationBps returns borrowed/deposited in basis points, zero when the
// reserve holds no deposits.
func utilizationBps(deposited, borrowed *big.Int) uint64 {
	if deposited == nil || borrowed == nil || deposited.Sign() <= 0 || borrowed.Sign() <= 0 {
		return 0
	}
	util := new(big.Int).Mul(borrowed, basisPoints)
	util.Quo(util, deposited)
	return util.Uint64()
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
