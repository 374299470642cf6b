package lending

import (
	"math/big"

	"rwalend/crypto"
)

// healthFloorBps is the liquidation threshold: positions at or above 1.0 are
// safe, below it they are eligible for auction.
const healthFloorBps = basisPointsMax

// collateralValue sums the risk-discounted value of every collateral asset in
// the position: amount * price * factor / 10000. A missing price or factor
// fails the whole valuation; callers must reject their operation rather than
// proceed on partial data.
func (e *Engine) collateralValue(position *Position, params *PoolParams) (*big.Int, error) {
	if e.collateralFeed == nil {
		return nil, errNilOracle
	}
	now := e.now()
	total := big.NewInt(0)
	for _, entry := range position.Collateral {
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		factor, ok := params.CollateralFactorBps(entry.Asset)
		if !ok {
			return nil, errCollateralNotSupported
		}
		price, err := e.collateralFeed.Price(entry.Asset, now)
		if err != nil {
			return nil, err
		}
		value := new(big.Int).Mul(entry.Amount, price.Price)
		value.Mul(value, new(big.Int).SetUint64(factor))
		value.Quo(value, basisPoints)
		total.Add(total, value)
	}
	return total, nil
}

// debtValue prices the position's outstanding debt, rounding the owed
// underlying up so the borrower never benefits from truncation.
func (e *Engine) debtValue(position *Position, reserve *ReserveState) (*big.Int, error) {
	if position.DTokens == nil || position.DTokens.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if e.debtFeed == nil {
		return nil, errNilOracle
	}
	price, err := e.debtFeed.Price(reserve.Asset, e.now())
	if err != nil {
		return nil, err
	}
	owed := ToUnderlying(position.DTokens, reserve.DTokenRate, RoundUp)
	return owed.Mul(owed, price.Price), nil
}

// healthFactorBps returns the position's health factor in basis points
// (10_000 == 1.0). A nil result with nil error means the position carries no
// debt and is maximally healthy.
func (e *Engine) healthFactorBps(position *Position, reserve *ReserveState, params *PoolParams) (*big.Int, error) {
	debt, err := e.debtValue(position, reserve)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return nil, nil
	}
	collateral, err := e.collateralValue(position, params)
	if err != nil {
		return nil, err
	}
	hf := new(big.Int).Mul(collateral, basisPoints)
	return hf.Quo(hf, debt), nil
}

// positionHealthy reports whether the position's health factor is at or above
// the liquidation floor.
func (e *Engine) positionHealthy(position *Position, reserve *ReserveState, params *PoolParams) (bool, error) {
	hf, err := e.healthFactorBps(position, reserve, params)
	if err != nil {
		return false, err
	}
	if hf == nil {
		return true, nil
	}
	return hf.Cmp(big.NewInt(healthFloorBps)) >= 0, nil
}

// HealthFactorBps exposes the health valuation for keepers and tooling. The
// boolean reports whether the position carries debt; without debt the factor
// is undefined and the position is trivially safe. The valuation accrues the
// reserve in memory only; a read never writes state.
func (e *Engine) HealthFactorBps(borrower crypto.Address) (*big.Int, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	position, err := e.loadPosition(borrower)
	if err != nil {
		return nil, false, err
	}
	if position.DTokens.Sign() == 0 {
		return nil, false, nil
	}
	reserve, err := e.loadReserve(debtAssetOf(position))
	if err != nil {
		return nil, false, err
	}
	params, _, err := e.settleAccrual(reserve)
	if err != nil {
		return nil, false, err
	}
	hf, err := e.healthFactorBps(position, reserve, params)
	if err != nil {
		return nil, false, err
	}
	return hf, true, nil
}
