package lending

import (
	"math/big"
	"strings"

	"rwalend/crypto"
	"rwalend/native/token"
)

func (e *Engine) requireAdmin(caller crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !caller.Equal(e.admin) {
		return errNotAdmin
	}
	return nil
}

// InitReserve registers a debt asset with its interest curve. Re-initialising
// an existing reserve is rejected; parameter changes go through
// SetInterestParams.
func (e *Engine) InitReserve(caller crypto.Address, asset token.AssetID, params InterestRateParams) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if !asset.Valid() {
		return errAssetNotSupported
	}
	if !params.Valid() {
		return errInvalidPercent
	}
	existing, err := e.state.GetReserve(asset)
	if err != nil {
		return err
	}
	if existing != nil {
		return errReserveExists
	}
	return e.state.PutReserve(NewReserveState(asset, params, e.now()))
}

// SetInterestParams replaces a reserve's curve parameters after accruing at
// the old ones.
func (e *Engine) SetInterestParams(caller crypto.Address, asset token.AssetID, params InterestRateParams) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if !params.Valid() {
		return errInvalidPercent
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return err
	}
	_, take, err := e.settleAccrual(reserve)
	if err != nil {
		return err
	}
	if err := e.commitAccrual(reserve, take); err != nil {
		return err
	}
	reserve.Params = params
	return e.state.PutReserve(reserve)
}

// SetCollateralFactor configures the basis-point risk discount for one
// collateral asset. A factor above 100% would let positions borrow more than
// their collateral is worth.
func (e *Engine) SetCollateralFactor(caller crypto.Address, asset token.AssetID, bps uint64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if !asset.Valid() {
		return errAssetNotSupported
	}
	if bps > basisPointsMax {
		return errInvalidPercent
	}
	params, err := e.loadPoolParams()
	if err != nil {
		return err
	}
	params.SetCollateralFactor(asset, bps)
	return e.state.PutPoolParams(params)
}

// SetPoolState forces the pool gate. The next backstop mutation recomputes it
// from backstop health.
func (e *Engine) SetPoolState(caller crypto.Address, state PoolState) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	switch state {
	case PoolActive, PoolOnIce, PoolFrozen:
	default:
		return errInvalidPoolState
	}
	params, err := e.loadPoolParams()
	if err != nil {
		return err
	}
	params.State = state
	return e.state.PutPoolParams(params)
}

// SetBackstopThreshold sets the capital level below which borrowing stays
// gated.
func (e *Engine) SetBackstopThreshold(caller crypto.Address, threshold *big.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if threshold == nil || threshold.Sign() < 0 {
		return errInvalidAmount
	}
	params, err := e.loadPoolParams()
	if err != nil {
		return err
	}
	params.BackstopThreshold = cloneBig(threshold)
	return e.state.PutPoolParams(params)
}

// SetBackstopTakeRate sets the basis-point slice of accrued interest routed
// to the backstop.
func (e *Engine) SetBackstopTakeRate(caller crypto.Address, bps uint64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if bps > basisPointsMax {
		return errInvalidPercent
	}
	params, err := e.loadPoolParams()
	if err != nil {
		return err
	}
	params.BackstopTakeRateBps = bps
	return e.state.PutPoolParams(params)
}

// SetBackstopAsset configures the asset backstop capital is denominated in.
func (e *Engine) SetBackstopAsset(caller crypto.Address, asset token.AssetID) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if !asset.Valid() {
		return errAssetNotSupported
	}
	params, err := e.loadPoolParams()
	if err != nil {
		return err
	}
	params.BackstopAsset = asset
	return e.state.PutPoolParams(params)
}

// RegisterTokenContract records the contract address backing a symbol asset
// so integrations can resolve tickers to on-ledger tokens.
func (e *Engine) RegisterTokenContract(caller crypto.Address, symbol string, contract crypto.Address) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || contract.IsZero() {
		return errAssetNotSupported
	}
	params, err := e.loadPoolParams()
	if err != nil {
		return err
	}
	for i := range params.TokenRegistry {
		if params.TokenRegistry[i].Symbol == symbol {
			params.TokenRegistry[i].Contract = contract
			return e.state.PutPoolParams(params)
		}
	}
	params.TokenRegistry = append(params.TokenRegistry, RegisteredToken{Symbol: symbol, Contract: contract})
	return e.state.PutPoolParams(params)
}
