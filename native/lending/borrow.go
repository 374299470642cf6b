package lending

import (
	"math/big"

	"rwalend/core/events"
	"rwalend/crypto"
	"rwalend/native/token"
)

// Borrow draws underlying from a reserve against the caller's collateral,
// minting dTokens rounded up. A borrower holds at most one open debt asset;
// the post-borrow health factor must stay at or above 1.0 against fresh
// prices. Returns the minted dToken amount.
func (e *Engine) Borrow(caller crypto.Address, asset token.AssetID, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	params, take, err := e.settleAccrual(reserve)
	if err != nil {
		return nil, err
	}
	if params.State != PoolActive {
		return nil, errBorrowsSuspended
	}

	backstop, err := e.loadBackstop()
	if err != nil {
		return nil, err
	}
	if params.BackstopThreshold.Sign() > 0 && backstop.TotalValue().Cmp(params.BackstopThreshold) < 0 {
		return nil, errBackstopTooSmall
	}

	position, err := e.loadPosition(caller)
	if err != nil {
		return nil, err
	}
	if position.DebtAsset != nil && !position.DebtAsset.Equal(asset) {
		return nil, errDebtAssetConflict
	}

	borrowed := new(big.Int).Add(reserve.TotalBorrowed, amount)
	if borrowed.Cmp(reserve.TotalDeposited) > 0 {
		return nil, errInsufficientLiquidity
	}

	minted := ToShares(amount, reserve.DTokenRate, RoundUp)
	if minted.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	simulated := position.Clone()
	simulated.DTokens = new(big.Int).Add(simulated.DTokens, minted)
	debt := asset
	simulated.DebtAsset = &debt
	healthy, err := e.positionHealthy(simulated, reserve, params)
	if err != nil {
		return nil, err
	}
	if !healthy {
		return nil, errUndercollateralized
	}

	if err := e.ledger.Transfer(asset, e.moduleAddress, caller, amount); err != nil {
		return nil, err
	}

	position.DTokens = new(big.Int).Add(position.DTokens, minted)
	position.DebtAsset = &debt
	reserve.TotalBorrowed = borrowed
	reserve.DTokenSupply = new(big.Int).Add(reserve.DTokenSupply, minted)

	if err := e.commitAccrual(reserve, take); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}

	e.emit(events.Borrowed{Borrower: caller, Asset: asset.Key(), Amount: cloneBig(amount), DTokens: cloneBig(minted)})
	return minted, nil
}

// Repay burns dTokens against underlying transferred in, with the owed amount
// rounded up. The requested share amount clamps to the outstanding balance;
// full repayment clears the position's debt asset. Returns the underlying
// collected.
func (e *Engine) Repay(caller crypto.Address, asset token.AssetID, dTokens *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if dTokens == nil || dTokens.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	_, take, err := e.settleAccrual(reserve)
	if err != nil {
		return nil, err
	}

	position, err := e.loadPosition(caller)
	if err != nil {
		return nil, err
	}
	if position.DebtAsset == nil || !position.DebtAsset.Equal(asset) || position.DTokens.Sign() == 0 {
		return nil, errNoDebt
	}

	burn := minBig(dTokens, position.DTokens)
	owed := ToUnderlying(burn, reserve.DTokenRate, RoundUp)
	if owed.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	if err := e.ledger.Transfer(asset, caller, e.moduleAddress, owed); err != nil {
		return nil, err
	}

	position.DTokens = new(big.Int).Sub(position.DTokens, burn)
	if position.DTokens.Sign() == 0 {
		position.DebtAsset = nil
	}
	reserve.DTokenSupply = new(big.Int).Sub(reserve.DTokenSupply, burn)
	reserve.TotalBorrowed = new(big.Int).Sub(reserve.TotalBorrowed, owed)
	if reserve.TotalBorrowed.Sign() < 0 {
		reserve.TotalBorrowed = big.NewInt(0)
	}

	if err := e.commitAccrual(reserve, take); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}

	e.emit(events.Repaid{Borrower: caller, Asset: asset.Key(), Amount: cloneBig(owed), DTokens: cloneBig(burn)})
	return owed, nil
}
