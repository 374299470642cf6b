package lending

import (
	"math/big"

	"rwalend/core/events"
	"rwalend/crypto"
)

// backstopLockSeconds is the withdrawal unlock period: 21 days.
const backstopLockSeconds uint64 = 21 * 24 * 60 * 60

// updatePoolState recomputes the pool gate from backstop health: half or more
// of the shares queued for exit freezes the pool, a quarter queued or capital
// below the activation threshold puts it on ice.
func updatePoolState(params *PoolParams, backstop *BackstopState) {
	if backstop.Shares.Sign() > 0 {
		queuedTwice := new(big.Int).Lsh(backstop.QueuedShares, 1)
		if queuedTwice.Cmp(backstop.Shares) >= 0 {
			params.State = PoolFrozen
			return
		}
		queuedQuad := new(big.Int).Lsh(backstop.QueuedShares, 2)
		if queuedQuad.Cmp(backstop.Shares) >= 0 {
			params.State = PoolOnIce
			return
		}
	}
	if params.BackstopThreshold.Sign() > 0 && backstop.TotalValue().Cmp(params.BackstopThreshold) < 0 {
		params.State = PoolOnIce
		return
	}
	params.State = PoolActive
}

func (e *Engine) loadBackstopAccount(addr crypto.Address) (*BackstopAccount, error) {
	account, err := e.state.GetBackstopAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = NewBackstopAccount(addr)
	}
	account.EnsureDefaults()
	return account, nil
}

// BackstopDeposit supplies first-loss capital, minting backstop shares at the
// current exchange rate rounded down. Returns the minted share amount.
func (e *Engine) BackstopDeposit(caller crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	params, err := e.loadPoolParams()
	if err != nil {
		return nil, err
	}
	if !params.BackstopAsset.Valid() {
		return nil, errAssetNotSupported
	}
	backstop, err := e.loadBackstop()
	if err != nil {
		return nil, err
	}
	account, err := e.loadBackstopAccount(caller)
	if err != nil {
		return nil, err
	}

	minted := ToShares(amount, backstop.ShareRate(), RoundDown)
	if minted.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	if err := e.ledger.Transfer(params.BackstopAsset, caller, e.backstopAddress, amount); err != nil {
		return nil, err
	}

	backstop.Underlying = new(big.Int).Add(backstop.Underlying, amount)
	backstop.Shares = new(big.Int).Add(backstop.Shares, minted)
	account.Shares = new(big.Int).Add(account.Shares, minted)

	updatePoolState(params, backstop)

	if err := e.state.PutBackstop(backstop); err != nil {
		return nil, err
	}
	if err := e.state.PutBackstopAccount(account); err != nil {
		return nil, err
	}
	if err := e.state.PutPoolParams(params); err != nil {
		return nil, err
	}

	e.emit(events.BackstopDeposited{Depositor: caller, Amount: cloneBig(amount), Shares: cloneBig(minted)})
	return minted, nil
}

// InitiateBackstopWithdrawal queues shares for exit behind the 21-day lock.
// Only one withdrawal may be pending per depositor.
func (e *Engine) InitiateBackstopWithdrawal(caller crypto.Address, shares *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if shares == nil || shares.Sign() <= 0 {
		return errInvalidAmount
	}
	account, err := e.loadBackstopAccount(caller)
	if err != nil {
		return err
	}
	if account.QueuedShares.Sign() > 0 {
		return errWithdrawalPending
	}
	if account.Shares.Cmp(shares) < 0 {
		return errInsufficientShares
	}
	params, err := e.loadPoolParams()
	if err != nil {
		return err
	}
	backstop, err := e.loadBackstop()
	if err != nil {
		return err
	}

	account.QueuedShares = cloneBig(shares)
	account.UnlockTime = e.now() + backstopLockSeconds
	backstop.QueuedShares = new(big.Int).Add(backstop.QueuedShares, shares)

	updatePoolState(params, backstop)

	if err := e.state.PutBackstop(backstop); err != nil {
		return err
	}
	if err := e.state.PutBackstopAccount(account); err != nil {
		return err
	}
	if err := e.state.PutPoolParams(params); err != nil {
		return err
	}

	e.emit(events.BackstopQueued{Depositor: caller, Amount: cloneBig(shares), UnlockAt: account.UnlockTime})
	return nil
}

// CompleteBackstopWithdrawal burns the queued shares once the lock has
// matured and pays out underlying at the current exchange rate, rounded down.
// Returns the underlying paid out.
func (e *Engine) CompleteBackstopWithdrawal(caller crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.loadBackstopAccount(caller)
	if err != nil {
		return nil, err
	}
	if account.QueuedShares.Sign() == 0 {
		return nil, errNoWithdrawal
	}
	if e.now() < account.UnlockTime {
		return nil, errWithdrawalLocked
	}
	params, err := e.loadPoolParams()
	if err != nil {
		return nil, err
	}
	backstop, err := e.loadBackstop()
	if err != nil {
		return nil, err
	}

	shares := cloneBig(account.QueuedShares)
	out := ToUnderlying(shares, backstop.ShareRate(), RoundDown)
	out = minBig(out, backstop.TotalValue())

	if out.Sign() > 0 {
		if err := e.ledger.Transfer(params.BackstopAsset, e.backstopAddress, caller, out); err != nil {
			return nil, err
		}
	}

	account.Shares = new(big.Int).Sub(account.Shares, shares)
	account.QueuedShares = big.NewInt(0)
	account.UnlockTime = 0
	backstop.Shares = new(big.Int).Sub(backstop.Shares, shares)
	backstop.QueuedShares = new(big.Int).Sub(backstop.QueuedShares, shares)
	if backstop.QueuedShares.Sign() < 0 {
		backstop.QueuedShares = big.NewInt(0)
	}
	// Drain the payout from cash first, then from recognised credit.
	fromCash := minBig(out, backstop.Underlying)
	backstop.Underlying = new(big.Int).Sub(backstop.Underlying, fromCash)
	credit := new(big.Int).Sub(out, fromCash)
	backstop.InterestCredit = new(big.Int).Sub(backstop.InterestCredit, credit)
	if backstop.InterestCredit.Sign() < 0 {
		backstop.InterestCredit = big.NewInt(0)
	}

	updatePoolState(params, backstop)

	if err := e.state.PutBackstop(backstop); err != nil {
		return nil, err
	}
	if err := e.state.PutBackstopAccount(account); err != nil {
		return nil, err
	}
	if err := e.state.PutPoolParams(params); err != nil {
		return nil, err
	}

	e.emit(events.BackstopWithdrawn{Depositor: caller, Amount: cloneBig(out), Shares: shares})
	return out, nil
}

// absorbBackstopLoss socialises bad debt across backstop shares by writing
// down the backstop's value, recognised credit first. Returns the absorbed
// amount and the unabsorbed remainder. The caller persists the pool params.
func (e *Engine) absorbBackstopLoss(params *PoolParams, loss *big.Int) (*big.Int, *big.Int, error) {
	backstop, err := e.loadBackstop()
	if err != nil {
		return nil, nil, err
	}
	absorbed := minBig(loss, backstop.TotalValue())
	fromCredit := minBig(absorbed, backstop.InterestCredit)
	backstop.InterestCredit = new(big.Int).Sub(backstop.InterestCredit, fromCredit)
	fromCash := new(big.Int).Sub(absorbed, fromCredit)
	backstop.Underlying = new(big.Int).Sub(backstop.Underlying, fromCash)
	if backstop.Underlying.Sign() < 0 {
		backstop.Underlying = big.NewInt(0)
	}
	remainder := new(big.Int).Sub(loss, absorbed)

	updatePoolState(params, backstop)

	if err := e.state.PutBackstop(backstop); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutPoolParams(params); err != nil {
		return nil, nil, err
	}
	return absorbed, remainder, nil
}

// BackstopTotal reports the backstop's current capital for keepers and the
// activation gate.
func (e *Engine) BackstopTotal() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	backstop, err := e.loadBackstop()
	if err != nil {
		return nil, err
	}
	return backstop.TotalValue(), nil
}
