package lending

import (
	"math/big"

	"rwalend/core/events"
	"rwalend/crypto"
	"rwalend/native/token"
)

// ModifierFunc maps elapsed auction seconds to a scalar-9 modifier. Both
// built-in modifiers are clamped linear ramps; alternative decay curves can be
// swapped in without touching the auction state machine.
type ModifierFunc func(elapsed uint64) *big.Int

// lotModifier rises from 0 to LotBonusMax over the ramp window and holds
// there: the longer the auction sits, the more bonus collateral a fill earns.
func (p AuctionParams) lotModifier(elapsed uint64) *big.Int {
	if elapsed >= p.RampSeconds {
		return cloneBig(p.LotBonusMax)
	}
	lm := new(big.Int).SetUint64(elapsed)
	lm.Mul(lm, p.LotBonusMax)
	return lm.Quo(lm, new(big.Int).SetUint64(p.RampSeconds))
}

// bidModifier holds at 1.0 through the first ramp window, then falls linearly
// to 0 over a second window: late fills repay a shrinking share of the debt.
func (p AuctionParams) bidModifier(elapsed uint64) *big.Int {
	if elapsed <= p.RampSeconds {
		return big.NewInt(scalarOne)
	}
	if elapsed >= 2*p.RampSeconds {
		return big.NewInt(0)
	}
	bm := new(big.Int).SetUint64(2*p.RampSeconds - elapsed)
	bm.Mul(bm, scalar)
	return bm.Quo(bm, new(big.Int).SetUint64(p.RampSeconds))
}

// maxDuration is the point past which an auction expires and must be
// re-initiated against recomputed health.
func (p AuctionParams) maxDuration() uint64 { return 2 * p.RampSeconds }

// SetAuctionModifiers overrides the decay curves. Nil funcs fall back to the
// linear defaults derived from the auction params.
func (e *Engine) SetAuctionModifiers(lot, bid ModifierFunc) {
	if e == nil {
		return
	}
	e.lotFn = lot
	e.bidFn = bid
}

func (e *Engine) lotModifierAt(elapsed uint64) *big.Int {
	if e.lotFn != nil {
		return clampModifier(e.lotFn(elapsed), e.auctionParams.LotBonusMax)
	}
	return e.auctionParams.lotModifier(elapsed)
}

func (e *Engine) bidModifierAt(elapsed uint64) *big.Int {
	if e.bidFn != nil {
		return clampModifier(e.bidFn(elapsed), scalar)
	}
	return e.auctionParams.bidModifier(elapsed)
}

func clampModifier(v, max *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	if max != nil && v.Cmp(max) > 0 {
		return cloneBig(max)
	}
	return v
}

// InitiateLiquidation opens a Dutch auction over one collateral asset of an
// unhealthy position. liabilityBps is the debt fraction being liquidated in
// basis points. An existing Active auction for the same (borrower, collateral)
// pair blocks a new one unless it has already run past its maximum duration.
func (e *Engine) InitiateLiquidation(borrower crypto.Address, collateral token.AssetID, liabilityBps uint32) error {
	if err := e.ready(); err != nil {
		return err
	}
	if liabilityBps == 0 || liabilityBps > basisPointsMax {
		return errInvalidPercent
	}

	position, err := e.loadPosition(borrower)
	if err != nil {
		return err
	}
	if position.DebtAsset == nil || position.DTokens.Sign() == 0 {
		return errNoDebt
	}
	if position.CollateralAmount(collateral).Sign() == 0 {
		return errInsufficientCollateral
	}

	existing, err := e.state.GetAuction(borrower, collateral)
	if err != nil {
		return err
	}
	now := e.now()
	if existing != nil && existing.Status == AuctionActive {
		if now-existing.Start <= e.auctionParams.maxDuration() {
			return errAuctionExists
		}
		existing.Status = AuctionExpired
		if err := e.state.PutAuction(existing); err != nil {
			return err
		}
		e.emit(events.AuctionClosed{Borrower: borrower, Token: collateral.Key(), Expired: true})
	}

	reserve, err := e.loadReserve(debtAssetOf(position))
	if err != nil {
		return err
	}
	params, take, err := e.settleAccrual(reserve)
	if err != nil {
		return err
	}

	healthy, err := e.positionHealthy(position, reserve, params)
	if err != nil {
		return err
	}
	if healthy {
		return errPositionHealthy
	}

	if err := e.commitAccrual(reserve, take); err != nil {
		return err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}

	auction := &Auction{
		Borrower:              borrower,
		Collateral:            collateral,
		DebtAsset:             reserve.Asset,
		Start:                 now,
		RemainingLiabilityBps: liabilityBps,
		Status:                AuctionActive,
	}
	if err := e.state.PutAuction(auction); err != nil {
		return err
	}

	e.emit(events.AuctionStarted{
		Borrower:     borrower,
		Token:        collateral.Key(),
		DebtAsset:    reserve.Asset.Key(),
		LiabilityBps: liabilityBps,
	})
	return nil
}

// FillAuction lets the caller take fillBps of the auction's remaining
// liability: they repay debtOwed*fill*bidModifier and receive
// collateralHeld*fill*(1+lotModifier), both capped at what the position
// actually holds. Consuming the full target fills the auction; restoring the
// position's health cancels the remainder; exhausting the collateral with
// debt left routes the shortfall to the backstop. Returns the debt paid and
// the collateral released.
func (e *Engine) FillAuction(caller crypto.Address, borrower crypto.Address, collateral token.AssetID, fillBps uint32) (*big.Int, *big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if fillBps == 0 {
		return nil, nil, errInvalidPercent
	}

	auction, err := e.state.GetAuction(borrower, collateral)
	if err != nil {
		return nil, nil, err
	}
	if auction == nil || auction.Status != AuctionActive {
		return nil, nil, errAuctionNotFound
	}
	now := e.now()
	elapsed := now - auction.Start
	if elapsed > e.auctionParams.maxDuration() {
		auction.Status = AuctionExpired
		if err := e.state.PutAuction(auction); err != nil {
			return nil, nil, err
		}
		e.emit(events.AuctionClosed{Borrower: borrower, Token: collateral.Key(), Expired: true})
		return nil, nil, errAuctionExpired
	}
	if fillBps > auction.RemainingLiabilityBps {
		return nil, nil, errFillTooLarge
	}

	reserve, err := e.loadReserve(auction.DebtAsset)
	if err != nil {
		return nil, nil, err
	}
	params, take, err := e.settleAccrual(reserve)
	if err != nil {
		return nil, nil, err
	}

	position, err := e.loadPosition(borrower)
	if err != nil {
		return nil, nil, err
	}
	if position.DTokens.Sign() == 0 {
		// Debt vanished since initiation: nothing left to liquidate.
		auction.Status = AuctionCancelled
		if err := e.state.PutAuction(auction); err != nil {
			return nil, nil, err
		}
		e.emit(events.AuctionClosed{Borrower: borrower, Token: collateral.Key()})
		return nil, nil, errNoDebt
	}

	debtOwed := ToUnderlying(position.DTokens, reserve.DTokenRate, RoundUp)
	held := position.CollateralAmount(collateral)

	fill := new(big.Int).SetUint64(uint64(fillBps))
	scaleDenom := new(big.Int).Mul(basisPoints, scalar)

	debtPaid := new(big.Int).Mul(debtOwed, fill)
	debtPaid.Mul(debtPaid, e.bidModifierAt(elapsed))
	debtPaid.Quo(debtPaid, scaleDenom)
	debtPaid = minBig(debtPaid, debtOwed)

	lotScale := new(big.Int).Add(scalar, e.lotModifierAt(elapsed))
	collateralOut := new(big.Int).Mul(held, fill)
	collateralOut.Mul(collateralOut, lotScale)
	collateralOut.Quo(collateralOut, scaleDenom)
	collateralOut = minBig(collateralOut, held)

	dBurn := ToShares(debtPaid, reserve.DTokenRate, RoundDown)
	dBurn = minBig(dBurn, position.DTokens)

	// Stage the post-fill position first: the health and bad-debt checks run
	// before any transfer or write, so a failure leaves no partial effect.
	staged := position.Clone()
	staged.DTokens = new(big.Int).Sub(staged.DTokens, dBurn)
	if staged.DTokens.Sign() == 0 {
		staged.DebtAsset = nil
	}
	if collateralOut.Sign() > 0 {
		staged.ReduceCollateral(collateral, collateralOut)
	}

	badDebt := staged.TotalCollateral().Sign() == 0 && staged.DTokens.Sign() > 0
	var shortfall *big.Int
	selfCured := false
	if badDebt {
		shortfall = ToUnderlying(staged.DTokens, reserve.DTokenRate, RoundUp)
	} else if staged.DTokens.Sign() > 0 {
		healthy, err := e.positionHealthy(staged, reserve, params)
		if err != nil {
			return nil, nil, err
		}
		selfCured = healthy
	}

	if debtPaid.Sign() > 0 {
		if err := e.ledger.Transfer(auction.DebtAsset, caller, e.moduleAddress, debtPaid); err != nil {
			return nil, nil, err
		}
	}
	if collateralOut.Sign() > 0 {
		if err := e.ledger.Transfer(collateral, e.moduleAddress, caller, collateralOut); err != nil {
			return nil, nil, err
		}
	}

	// Book the staged take before any bad-debt absorption so the shortfall
	// drains the freshly credited backstop.
	if err := e.commitAccrual(reserve, take); err != nil {
		return nil, nil, err
	}

	reserve.DTokenSupply = new(big.Int).Sub(reserve.DTokenSupply, dBurn)
	reserve.TotalBorrowed = new(big.Int).Sub(reserve.TotalBorrowed, debtPaid)
	if reserve.TotalBorrowed.Sign() < 0 {
		reserve.TotalBorrowed = big.NewInt(0)
	}

	auction.RemainingLiabilityBps -= fillBps

	if badDebt {
		absorbed, remainder, err := e.absorbBackstopLoss(params, shortfall)
		if err != nil {
			return nil, nil, err
		}
		reserve.DTokenSupply = new(big.Int).Sub(reserve.DTokenSupply, staged.DTokens)
		reserve.TotalBorrowed = new(big.Int).Sub(reserve.TotalBorrowed, shortfall)
		if reserve.TotalBorrowed.Sign() < 0 {
			reserve.TotalBorrowed = big.NewInt(0)
		}
		if remainder.Sign() > 0 {
			reserve.UnrecoverableLoss = true
		}
		staged.DTokens = big.NewInt(0)
		staged.DebtAsset = nil
		auction.Status = AuctionFilled
		e.emit(events.BadDebt{
			Borrower:  borrower,
			Asset:     reserve.Asset.Key(),
			Shortfall: cloneBig(shortfall),
			Absorbed:  absorbed,
		})
	} else if auction.RemainingLiabilityBps == 0 || staged.DTokens.Sign() == 0 {
		auction.Status = AuctionFilled
	} else if selfCured {
		auction.Status = AuctionCancelled
	}

	if err := e.state.PutPosition(staged); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutAuction(auction); err != nil {
		return nil, nil, err
	}

	e.emit(events.AuctionFilled{
		Borrower:   borrower,
		Token:      collateral.Key(),
		Liquidator: caller,
		DebtPaid:   cloneBig(debtPaid),
		Collateral: cloneBig(collateralOut),
		Remaining:  auction.RemainingLiabilityBps,
	})
	if auction.Status == AuctionCancelled {
		e.emit(events.AuctionClosed{Borrower: borrower, Token: collateral.Key()})
	}
	return debtPaid, collateralOut, nil
}
