package lending

import (
	"errors"
	"math/big"
	"testing"

	"rwalend/crypto"
)

// liquidationFixture seeds a reserve with an already-unhealthy borrower:
// collateralUnits of RWA1 at price 1 with a 100% factor against debtUnits of
// USDC debt at price 1, so healthFactor = collateral/debt.
func liquidationFixture(t *testing.T, collateralUnits, debtUnits int64) (*testEnv, crypto.Address, crypto.Address) {
	t.Helper()
	env := newTestEnv(t)
	env.setPrice(usdc, 1)
	env.setPrice(rwa1, 1)
	if err := env.engine.SetCollateralFactor(env.admin, rwa1, 10_000); err != nil {
		t.Fatalf("set collateral factor: %v", err)
	}

	reserve := NewReserveState(usdc, defaultInterestParams(), env.now)
	reserve.TotalDeposited = big.NewInt(10_000)
	reserve.TotalBorrowed = big.NewInt(debtUnits)
	reserve.BTokenSupply = big.NewInt(10_000)
	reserve.DTokenSupply = big.NewInt(debtUnits)
	env.state.reserves[usdc.Key()] = reserve

	borrower := makeAddress(0x11)
	debt := usdc
	position := NewPosition(borrower)
	position.AddCollateral(rwa1, big.NewInt(collateralUnits))
	position.DebtAsset = &debt
	position.DTokens = big.NewInt(debtUnits)
	env.state.positions[string(borrower.Bytes())] = position

	liquidator := makeAddress(0x20)
	env.fund(t, usdc, env.moduleAddr, 10_000-debtUnits)
	env.fund(t, rwa1, env.moduleAddr, collateralUnits)
	env.fund(t, usdc, liquidator, 10_000)
	return env, borrower, liquidator
}

func TestInitiateLiquidationRejectsHealthyPosition(t *testing.T) {
	env, borrower, _ := liquidationFixture(t, 8_000, 5_000)
	env.now += 100
	err := env.engine.InitiateLiquidation(borrower, rwa1, 5_000)
	if !errors.Is(err, errPositionHealthy) {
		t.Fatalf("expected errPositionHealthy, got %v", err)
	}
	reserve := env.state.reserves[usdc.Key()]
	if reserve.LastAccrual != env.now-100 {
		t.Fatalf("rejected initiation persisted accrual at %d", reserve.LastAccrual)
	}
	if env.state.auctions[env.state.auctionKey(borrower, rwa1)] != nil {
		t.Fatalf("rejected initiation left an auction behind")
	}
}

func TestInitiateLiquidationValidatesPercent(t *testing.T) {
	env, borrower, _ := liquidationFixture(t, 4_000, 5_000)
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 0); !errors.Is(err, errInvalidPercent) {
		t.Fatalf("expected errInvalidPercent for 0, got %v", err)
	}
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 10_001); !errors.Is(err, errInvalidPercent) {
		t.Fatalf("expected errInvalidPercent for 10001, got %v", err)
	}
}

func TestInitiateLiquidationRejectsDuplicateActive(t *testing.T) {
	env, borrower, _ := liquidationFixture(t, 4_000, 5_000)
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 5_000); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 5_000); !errors.Is(err, errAuctionExists) {
		t.Fatalf("expected errAuctionExists, got %v", err)
	}
}

func TestImmediateFullFillAtStartPrices(t *testing.T) {
	env, borrower, liquidator := liquidationFixture(t, 4_000, 5_000)
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 5_000); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// At t=start the bid modifier is 1.0 and the lot modifier 0: half the
	// 5,000 debt costs exactly 2,500 and earns half the 4,000 collateral.
	debtPaid, collateralOut, err := env.engine.FillAuction(liquidator, borrower, rwa1, 5_000)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if debtPaid.Cmp(big.NewInt(2_500)) != 0 {
		t.Fatalf("debtPaid = %s, want 2500", debtPaid)
	}
	if collateralOut.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("collateralOut = %s, want 2000", collateralOut)
	}

	auction := env.state.auctions[env.state.auctionKey(borrower, rwa1)]
	if auction.Status != AuctionFilled || auction.RemainingLiabilityBps != 0 {
		t.Fatalf("auction = %+v, want filled with zero remaining", auction)
	}
	reserve := env.state.reserves[usdc.Key()]
	if reserve.TotalBorrowed.Cmp(big.NewInt(2_500)) != 0 || reserve.DTokenSupply.Cmp(big.NewInt(2_500)) != 0 {
		t.Fatalf("reserve after fill: borrowed=%s dSupply=%s", reserve.TotalBorrowed, reserve.DTokenSupply)
	}
	position := env.state.positions[string(borrower.Bytes())]
	if position.DTokens.Cmp(big.NewInt(2_500)) != 0 {
		t.Fatalf("borrower dTokens = %s, want 2500", position.DTokens)
	}
	if position.CollateralAmount(rwa1).Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("borrower collateral = %s, want 2000", position.CollateralAmount(rwa1))
	}
	if env.ledger.Balance(rwa1, liquidator).Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("liquidator collateral = %s", env.ledger.Balance(rwa1, liquidator))
	}
}

func TestPartialFillsReduceRemainingTarget(t *testing.T) {
	env, borrower, liquidator := liquidationFixture(t, 4_000, 5_000)
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 5_000); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	debtPaid, collateralOut, err := env.engine.FillAuction(liquidator, borrower, rwa1, 2_500)
	if err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if debtPaid.Cmp(big.NewInt(1_250)) != 0 || collateralOut.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("first fill paid %s for %s, want 1250 for 1000", debtPaid, collateralOut)
	}
	auction := env.state.auctions[env.state.auctionKey(borrower, rwa1)]
	if auction.Status != AuctionActive || auction.RemainingLiabilityBps != 2_500 {
		t.Fatalf("auction after partial fill: %+v", auction)
	}

	if _, _, err := env.engine.FillAuction(liquidator, borrower, rwa1, 2_600); !errors.Is(err, errFillTooLarge) {
		t.Fatalf("expected errFillTooLarge, got %v", err)
	}

	if _, _, err := env.engine.FillAuction(liquidator, borrower, rwa1, 2_500); err != nil {
		t.Fatalf("closing fill: %v", err)
	}
	auction = env.state.auctions[env.state.auctionKey(borrower, rwa1)]
	if auction.Status != AuctionFilled {
		t.Fatalf("auction should be filled, got %s", auction.Status)
	}
}

func TestAuctionModifierRamps(t *testing.T) {
	params := DefaultAuctionParams()

	lotCases := map[uint64]int64{0: 0, 100: 100_000_000, 200: 200_000_000, 10_000: 200_000_000}
	for elapsed, want := range lotCases {
		if got := params.lotModifier(elapsed); got.Cmp(big.NewInt(want)) != 0 {
			t.Fatalf("lotModifier(%d) = %s, want %d", elapsed, got, want)
		}
	}
	bidCases := map[uint64]int64{0: scalarOne, 200: scalarOne, 300: scalarOne / 2, 400: 0, 9_999: 0}
	for elapsed, want := range bidCases {
		if got := params.bidModifier(elapsed); got.Cmp(big.NewInt(want)) != 0 {
			t.Fatalf("bidModifier(%d) = %s, want %d", elapsed, got, want)
		}
	}
}

func TestLateFillGetsBonusCollateralAtDiscount(t *testing.T) {
	env, borrower, liquidator := liquidationFixture(t, 4_000, 5_000)
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 5_000); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// 1.5 ramps in: bid modifier 0.5, lot modifier +20%.
	env.now += 300
	debtPaid, collateralOut, err := env.engine.FillAuction(liquidator, borrower, rwa1, 5_000)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if debtPaid.Cmp(big.NewInt(1_250)) != 0 {
		t.Fatalf("debtPaid = %s, want 1250", debtPaid)
	}
	if collateralOut.Cmp(big.NewInt(2_400)) != 0 {
		t.Fatalf("collateralOut = %s, want 2400", collateralOut)
	}
}

func TestAuctionExpiresPastMaxDuration(t *testing.T) {
	env, borrower, liquidator := liquidationFixture(t, 4_000, 5_000)
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 5_000); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	env.now += 401
	if _, _, err := env.engine.FillAuction(liquidator, borrower, rwa1, 5_000); !errors.Is(err, errAuctionExpired) {
		t.Fatalf("expected errAuctionExpired, got %v", err)
	}
	auction := env.state.auctions[env.state.auctionKey(borrower, rwa1)]
	if auction.Status != AuctionExpired {
		t.Fatalf("auction should be expired, got %s", auction.Status)
	}

	// An expired auction can be re-initiated against recomputed health.
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 5_000); err != nil {
		t.Fatalf("re-initiate after expiry: %v", err)
	}
	fresh := env.state.auctions[env.state.auctionKey(borrower, rwa1)]
	if fresh.Status != AuctionActive || fresh.Start != env.now {
		t.Fatalf("fresh auction = %+v", fresh)
	}
}

func TestStaleActiveAuctionReplacedOnInitiate(t *testing.T) {
	env, borrower, _ := liquidationFixture(t, 4_000, 5_000)
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 5_000); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	env.now += 500
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 3_000); err != nil {
		t.Fatalf("initiate over stale auction: %v", err)
	}
	auction := env.state.auctions[env.state.auctionKey(borrower, rwa1)]
	if auction.Status != AuctionActive || auction.RemainingLiabilityBps != 3_000 {
		t.Fatalf("replacement auction = %+v", auction)
	}
}

func TestSelfCuredPositionCancelsRemainder(t *testing.T) {
	env, borrower, liquidator := liquidationFixture(t, 4_000, 5_000)
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 5_000); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// Collateral price doubles after initiation; a quarter fill leaves the
	// position healthy so the remaining lot is released.
	env.setPrice(rwa1, 2)
	_, _, err := env.engine.FillAuction(liquidator, borrower, rwa1, 2_500)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	auction := env.state.auctions[env.state.auctionKey(borrower, rwa1)]
	if auction.Status != AuctionCancelled {
		t.Fatalf("auction should cancel on self-cure, got %s", auction.Status)
	}
	if auction.RemainingLiabilityBps != 2_500 {
		t.Fatalf("remaining = %d, want 2500", auction.RemainingLiabilityBps)
	}
	if _, _, err := env.engine.FillAuction(liquidator, borrower, rwa1, 1_000); !errors.Is(err, errAuctionNotFound) {
		t.Fatalf("cancelled auction should not fill, got %v", err)
	}
}

func TestExhaustedCollateralSocializesBadDebt(t *testing.T) {
	env, borrower, liquidator := liquidationFixture(t, 1_000, 5_000)
	env.state.params.BackstopAsset = usdc
	env.state.backstop = &BackstopState{
		Shares:         big.NewInt(3_000),
		Underlying:     big.NewInt(3_000),
		QueuedShares:   big.NewInt(0),
		InterestCredit: big.NewInt(0),
	}
	if err := env.engine.InitiateLiquidation(borrower, rwa1, 10_000); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// At exactly 2x ramp the bid modifier has decayed to zero: the fill takes
	// all collateral while repaying nothing, leaving the full debt stranded.
	env.now += 400
	debtPaid, collateralOut, err := env.engine.FillAuction(liquidator, borrower, rwa1, 10_000)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if debtPaid.Sign() != 0 {
		t.Fatalf("debtPaid = %s, want 0", debtPaid)
	}
	if collateralOut.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("collateralOut = %s, want all 1000 held", collateralOut)
	}

	position := env.state.positions[string(borrower.Bytes())]
	if position.DTokens.Sign() != 0 || position.DebtAsset != nil {
		t.Fatalf("bad debt should clear the position, got %+v", position)
	}
	reserve := env.state.reserves[usdc.Key()]
	if reserve.TotalBorrowed.Sign() != 0 || reserve.DTokenSupply.Sign() != 0 {
		t.Fatalf("reserve not written down: borrowed=%s dSupply=%s", reserve.TotalBorrowed, reserve.DTokenSupply)
	}
	if !reserve.UnrecoverableLoss {
		t.Fatalf("5000 of loss against 3000 of backstop should flag unrecoverable loss")
	}
	backstop := env.state.backstop
	if backstop.Underlying.Sign() != 0 {
		t.Fatalf("backstop should be exhausted, underlying=%s", backstop.Underlying)
	}
	if backstop.Shares.Cmp(big.NewInt(3_000)) != 0 {
		t.Fatalf("loss socialisation must not burn shares, got %s", backstop.Shares)
	}
}

func TestFillRequiresActiveAuction(t *testing.T) {
	env, borrower, liquidator := liquidationFixture(t, 4_000, 5_000)
	if _, _, err := env.engine.FillAuction(liquidator, borrower, rwa1, 1_000); !errors.Is(err, errAuctionNotFound) {
		t.Fatalf("expected errAuctionNotFound, got %v", err)
	}
}
