package lending

import (
	"errors"
	"math/big"
	"testing"

	"rwalend/crypto"
	"rwalend/native/oracle"
	"rwalend/native/token"
)

type mockEngineState struct {
	params           *PoolParams
	reserves         map[string]*ReserveState
	positions        map[string]*Position
	auctions         map[string]*Auction
	backstop         *BackstopState
	backstopAccounts map[string]*BackstopAccount
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		reserves:         make(map[string]*ReserveState),
		positions:        make(map[string]*Position),
		auctions:         make(map[string]*Auction),
		backstopAccounts: make(map[string]*BackstopAccount),
	}
}

func (m *mockEngineState) addrKey(addr crypto.Address) string {
	return string(addr.Bytes())
}

func (m *mockEngineState) auctionKey(borrower crypto.Address, collateral token.AssetID) string {
	return string(borrower.Bytes()) + "|" + collateral.Key()
}

func (m *mockEngineState) GetPoolParams() (*PoolParams, error) {
	return m.params.Clone(), nil
}

func (m *mockEngineState) PutPoolParams(params *PoolParams) error {
	m.params = params.Clone()
	return nil
}

func (m *mockEngineState) GetReserve(asset token.AssetID) (*ReserveState, error) {
	return m.reserves[asset.Key()].Clone(), nil
}

func (m *mockEngineState) PutReserve(reserve *ReserveState) error {
	m.reserves[reserve.Asset.Key()] = reserve.Clone()
	return nil
}

func (m *mockEngineState) GetPosition(addr crypto.Address) (*Position, error) {
	return m.positions[m.addrKey(addr)].Clone(), nil
}

func (m *mockEngineState) PutPosition(position *Position) error {
	m.positions[m.addrKey(position.Address)] = position.Clone()
	return nil
}

func (m *mockEngineState) GetAuction(borrower crypto.Address, collateral token.AssetID) (*Auction, error) {
	return m.auctions[m.auctionKey(borrower, collateral)].Clone(), nil
}

func (m *mockEngineState) PutAuction(auction *Auction) error {
	m.auctions[m.auctionKey(auction.Borrower, auction.Collateral)] = auction.Clone()
	return nil
}

func (m *mockEngineState) GetBackstop() (*BackstopState, error) {
	return m.backstop.Clone(), nil
}

func (m *mockEngineState) PutBackstop(backstop *BackstopState) error {
	m.backstop = backstop.Clone()
	return nil
}

func (m *mockEngineState) GetBackstopAccount(addr crypto.Address) (*BackstopAccount, error) {
	return m.backstopAccounts[m.addrKey(addr)].Clone(), nil
}

func (m *mockEngineState) PutBackstopAccount(account *BackstopAccount) error {
	m.backstopAccounts[m.addrKey(account.Address)] = account.Clone()
	return nil
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.RWAPrefix, raw)
}

var (
	usdc = token.SymbolAsset("USDC")
	rwa1 = token.SymbolAsset("RWA1")
)

type testEnv struct {
	engine        *Engine
	state         *mockEngineState
	ledger        *token.Ledger
	collateralSrc *oracle.Static
	debtSrc       *oracle.Static
	now           uint64

	admin        crypto.Address
	moduleAddr   crypto.Address
	backstopAddr crypto.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		admin:        makeAddress(0x01),
		moduleAddr:   makeAddress(0x02),
		backstopAddr: makeAddress(0x03),
		now:          1_000_000,
	}
	env.state = newMockEngineState()
	env.ledger = token.NewLedger(env.moduleAddr)
	env.collateralSrc = oracle.NewStatic(0)
	env.debtSrc = oracle.NewStatic(0)

	env.engine = NewEngine(env.admin, env.moduleAddr, env.backstopAddr)
	env.engine.SetState(env.state)
	env.engine.SetLedger(env.ledger)
	env.engine.SetCollateralFeed(oracle.NewFeed(env.collateralSrc, 86_400))
	env.engine.SetDebtFeed(oracle.NewFeed(env.debtSrc, 86_400))
	env.engine.SetNowFunc(func() uint64 { return env.now })
	return env
}

func defaultInterestParams() InterestRateParams {
	return InterestRateParams{
		BaseRateBps:          100,
		SlopeOneBps:          400,
		SlopeTwoBps:          2_000,
		SlopeThreeBps:        10_000,
		TargetUtilizationBps: 8_000,
	}
}

func (env *testEnv) initReserve(t *testing.T, asset token.AssetID) {
	t.Helper()
	if err := env.engine.InitReserve(env.admin, asset, defaultInterestParams()); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
}

func (env *testEnv) fund(t *testing.T, asset token.AssetID, addr crypto.Address, amount int64) {
	t.Helper()
	if err := env.ledger.Mint(env.moduleAddr, asset, addr, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (env *testEnv) setPrice(asset token.AssetID, price int64) {
	if asset.Equal(usdc) {
		env.debtSrc.Set(asset, big.NewInt(price), env.now)
		return
	}
	env.collateralSrc.Set(asset, big.NewInt(price), env.now)
}

func TestFirstDepositMintsAtParRate(t *testing.T) {
	env := newTestEnv(t)
	env.initReserve(t, usdc)
	lender := makeAddress(0x10)
	env.fund(t, usdc, lender, 1_000_000)

	minted, err := env.engine.Deposit(lender, usdc, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected 1,000,000 bTokens at par, got %s", minted)
	}
	reserve := env.state.reserves[usdc.Key()]
	if reserve.BTokenRate.Cmp(big.NewInt(scalarOne)) != 0 {
		t.Fatalf("bTokenRate should stay 1.0 on first deposit, got %s", reserve.BTokenRate)
	}
	if reserve.TotalDeposited.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("totalDeposited = %s", reserve.TotalDeposited)
	}
	if env.ledger.Balance(usdc, env.moduleAddr).Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("module balance = %s", env.ledger.Balance(usdc, env.moduleAddr))
	}
}

func TestDepositWithdrawRoundTripNeverProfits(t *testing.T) {
	env := newTestEnv(t)
	env.initReserve(t, usdc)
	lender := makeAddress(0x10)
	env.fund(t, usdc, lender, 777_777)

	minted, err := env.engine.Deposit(lender, usdc, big.NewInt(777_777))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	out, err := env.engine.Withdraw(lender, usdc, minted)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Cmp(big.NewInt(777_777)) > 0 {
		t.Fatalf("round trip returned %s, more than deposited", out)
	}
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	env := newTestEnv(t)
	env.initReserve(t, usdc)
	lender := makeAddress(0x10)

	if _, err := env.engine.Deposit(lender, usdc, big.NewInt(0)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected errInvalidAmount, got %v", err)
	}
	if _, err := env.engine.Deposit(lender, usdc, big.NewInt(-5)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected errInvalidAmount, got %v", err)
	}
}

func TestDepositRejectsUnknownAsset(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x10)
	if _, err := env.engine.Deposit(lender, usdc, big.NewInt(100)); !errors.Is(err, errAssetNotSupported) {
		t.Fatalf("expected errAssetNotSupported, got %v", err)
	}
}

func TestWithdrawKeepsReserveSolvent(t *testing.T) {
	env := newTestEnv(t)
	env.initReserve(t, usdc)
	env.setPrice(usdc, 1)
	env.setPrice(rwa1, 50)
	if err := env.engine.SetCollateralFactor(env.admin, rwa1, 8_000); err != nil {
		t.Fatalf("set collateral factor: %v", err)
	}

	lender := makeAddress(0x10)
	borrower := makeAddress(0x11)
	env.fund(t, usdc, lender, 10_000)
	env.fund(t, rwa1, borrower, 100)

	if _, err := env.engine.Deposit(lender, usdc, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.AddCollateral(borrower, rwa1, big.NewInt(100)); err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, usdc, big.NewInt(3_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// 10,000 deposited, 3,000 borrowed: only 7,000 can leave.
	if _, err := env.engine.Withdraw(lender, usdc, big.NewInt(8_000)); !errors.Is(err, errInsufficientLiquidity) {
		t.Fatalf("expected errInsufficientLiquidity, got %v", err)
	}
	if _, err := env.engine.Withdraw(lender, usdc, big.NewInt(7_000)); err != nil {
		t.Fatalf("withdraw within solvency bound: %v", err)
	}
}

func TestWithdrawRequiresShareBalance(t *testing.T) {
	env := newTestEnv(t)
	env.initReserve(t, usdc)
	lender := makeAddress(0x10)
	env.fund(t, usdc, lender, 500)
	if _, err := env.engine.Deposit(lender, usdc, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Withdraw(lender, usdc, big.NewInt(501)); !errors.Is(err, errInsufficientShares) {
		t.Fatalf("expected errInsufficientShares, got %v", err)
	}
}

func TestFrozenPoolBlocksDeposits(t *testing.T) {
	env := newTestEnv(t)
	env.initReserve(t, usdc)
	if err := env.engine.SetPoolState(env.admin, PoolFrozen); err != nil {
		t.Fatalf("set pool state: %v", err)
	}
	lender := makeAddress(0x10)
	env.fund(t, usdc, lender, 100)
	if _, err := env.engine.Deposit(lender, usdc, big.NewInt(100)); !errors.Is(err, errPoolFrozen) {
		t.Fatalf("expected errPoolFrozen, got %v", err)
	}
	if env.state.backstop != nil {
		t.Fatalf("rejected deposit wrote the backstop: %+v", env.state.backstop)
	}
}

func TestAddCollateralRequiresConfiguredFactor(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x11)
	env.fund(t, rwa1, borrower, 100)
	err := env.engine.AddCollateral(borrower, rwa1, big.NewInt(100))
	if !errors.Is(err, errCollateralNotSupported) {
		t.Fatalf("expected errCollateralNotSupported, got %v", err)
	}
}

// borrowFixture stands up a funded reserve plus a borrower holding 100 RWA1
// at price 50 with an 80% collateral factor: 4,000 units of borrowing power.
func borrowFixture(t *testing.T) (*testEnv, crypto.Address) {
	t.Helper()
	env := newTestEnv(t)
	env.initReserve(t, usdc)
	env.setPrice(usdc, 1)
	env.setPrice(rwa1, 50)
	if err := env.engine.SetCollateralFactor(env.admin, rwa1, 8_000); err != nil {
		t.Fatalf("set collateral factor: %v", err)
	}

	lender := makeAddress(0x10)
	borrower := makeAddress(0x11)
	env.fund(t, usdc, lender, 10_000)
	env.fund(t, rwa1, borrower, 100)
	if _, err := env.engine.Deposit(lender, usdc, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.AddCollateral(borrower, rwa1, big.NewInt(100)); err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	return env, borrower
}

func TestBorrowAgainstCollateralValue(t *testing.T) {
	env, borrower := borrowFixture(t)

	minted, err := env.engine.Borrow(borrower, usdc, big.NewInt(3_900))
	if err != nil {
		t.Fatalf("borrow 3,900 against 4,000 of power: %v", err)
	}
	if minted.Cmp(big.NewInt(3_900)) != 0 {
		t.Fatalf("expected 3,900 dTokens at par, got %s", minted)
	}
	if env.ledger.Balance(usdc, borrower).Cmp(big.NewInt(3_900)) != 0 {
		t.Fatalf("borrower balance = %s", env.ledger.Balance(usdc, borrower))
	}

	// One more unit keeps the health factor above 1.0.
	if _, err := env.engine.Borrow(borrower, usdc, big.NewInt(1)); err != nil {
		t.Fatalf("borrow to 3,901: %v", err)
	}
	// Pushing total debt past 4,000 crosses the floor.
	if _, err := env.engine.Borrow(borrower, usdc, big.NewInt(100)); !errors.Is(err, errUndercollateralized) {
		t.Fatalf("expected errUndercollateralized at 4,001 total, got %v", err)
	}
}

func TestBorrowEnforcesSingleDebtAsset(t *testing.T) {
	env, borrower := borrowFixture(t)
	xlm := token.SymbolAsset("XLM")
	env.initReserve(t, xlm)
	env.debtSrc.Set(xlm, big.NewInt(1), env.now)
	lender := makeAddress(0x12)
	env.fund(t, xlm, lender, 5_000)
	if _, err := env.engine.Deposit(lender, xlm, big.NewInt(5_000)); err != nil {
		t.Fatalf("deposit xlm: %v", err)
	}

	if _, err := env.engine.Borrow(borrower, usdc, big.NewInt(1_000)); err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, xlm, big.NewInt(100)); !errors.Is(err, errDebtAssetConflict) {
		t.Fatalf("expected errDebtAssetConflict, got %v", err)
	}
}

func TestBorrowCappedByLiquidity(t *testing.T) {
	env := newTestEnv(t)
	env.initReserve(t, usdc)
	env.setPrice(usdc, 1)
	env.setPrice(rwa1, 1_000)
	if err := env.engine.SetCollateralFactor(env.admin, rwa1, 8_000); err != nil {
		t.Fatalf("set collateral factor: %v", err)
	}
	lender := makeAddress(0x10)
	borrower := makeAddress(0x11)
	env.fund(t, usdc, lender, 1_000)
	env.fund(t, rwa1, borrower, 100)
	if _, err := env.engine.Deposit(lender, usdc, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.AddCollateral(borrower, rwa1, big.NewInt(100)); err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, usdc, big.NewInt(1_001)); !errors.Is(err, errInsufficientLiquidity) {
		t.Fatalf("expected errInsufficientLiquidity, got %v", err)
	}
}

func TestBorrowFailsClosedWithoutDebtPrice(t *testing.T) {
	env, borrower := borrowFixture(t)
	env.debtSrc.Delete(usdc)

	before := env.state.reserves[usdc.Key()].Clone()
	positionBefore := env.state.positions[string(borrower.Bytes())].Clone()

	_, err := env.engine.Borrow(borrower, usdc, big.NewInt(100))
	if !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("expected oracle.ErrPriceUnavailable, got %v", err)
	}

	after := env.state.reserves[usdc.Key()]
	if after.TotalBorrowed.Cmp(before.TotalBorrowed) != 0 ||
		after.TotalDeposited.Cmp(before.TotalDeposited) != 0 ||
		after.DTokenSupply.Cmp(before.DTokenSupply) != 0 ||
		after.LastAccrual != before.LastAccrual {
		t.Fatalf("reserve mutated by failed borrow: before=%+v after=%+v", before, after)
	}
	positionAfter := env.state.positions[string(borrower.Bytes())]
	if positionAfter.DTokens.Cmp(positionBefore.DTokens) != 0 || positionAfter.DebtAsset != nil {
		t.Fatalf("position mutated by failed borrow")
	}
	if env.state.backstop != nil {
		t.Fatalf("failed borrow wrote the backstop: %+v", env.state.backstop)
	}
	if env.ledger.Balance(usdc, borrower).Sign() != 0 {
		t.Fatalf("borrower received funds from failed borrow")
	}
}

func TestRejectedBorrowDoesNotBookBackstopTake(t *testing.T) {
	env, borrower := borrowFixture(t)
	if err := env.engine.SetBackstopTakeRate(env.admin, 1_000); err != nil {
		t.Fatalf("set take rate: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, usdc, big.NewInt(3_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// A year of 2.5% interest on 3,000 earns 75, of which the 10% take is 7.
	env.now += secondsPerYear
	env.debtSrc.Delete(usdc)
	if _, err := env.engine.Borrow(borrower, usdc, big.NewInt(100)); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("expected oracle.ErrPriceUnavailable, got %v", err)
	}
	if env.state.backstop != nil && env.state.backstop.InterestCredit.Sign() != 0 {
		t.Fatalf("rejected borrow credited the backstop: %s", env.state.backstop.InterestCredit)
	}

	// The next successful settle books the same year exactly once.
	if err := env.engine.Accrue(usdc); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if env.state.backstop.InterestCredit.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("interest credit = %s, want 7", env.state.backstop.InterestCredit)
	}
	if err := env.engine.Accrue(usdc); err != nil {
		t.Fatalf("repeat accrue: %v", err)
	}
	if env.state.backstop.InterestCredit.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("repeat accrue double-booked the take: %s", env.state.backstop.InterestCredit)
	}
}

func TestRepayClearsDebtAsset(t *testing.T) {
	env, borrower := borrowFixture(t)
	if _, err := env.engine.Borrow(borrower, usdc, big.NewInt(2_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	paid, err := env.engine.Repay(borrower, usdc, big.NewInt(800))
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if paid.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("expected 800 underlying at par, got %s", paid)
	}
	position := env.state.positions[string(borrower.Bytes())]
	if position.DebtAsset == nil || position.DTokens.Cmp(big.NewInt(1_200)) != 0 {
		t.Fatalf("partial repay bookkeeping wrong: %+v", position)
	}

	// Over-asking clamps to the outstanding balance and clears the debt.
	if _, err := env.engine.Repay(borrower, usdc, big.NewInt(5_000)); err != nil {
		t.Fatalf("final repay: %v", err)
	}
	position = env.state.positions[string(borrower.Bytes())]
	if position.DebtAsset != nil || position.DTokens.Sign() != 0 {
		t.Fatalf("debt asset should clear at zero: %+v", position)
	}
	if _, err := env.engine.Repay(borrower, usdc, big.NewInt(1)); !errors.Is(err, errNoDebt) {
		t.Fatalf("expected errNoDebt, got %v", err)
	}
}

func TestRemoveCollateralGuardsHealth(t *testing.T) {
	env, borrower := borrowFixture(t)
	if _, err := env.engine.Borrow(borrower, usdc, big.NewInt(3_900)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	env.now += 3_600
	before := env.state.reserves[usdc.Key()].Clone()

	// Removing 3 units leaves 97*50*0.8 = 3,880 of power against 3,900 debt.
	err := env.engine.RemoveCollateral(borrower, rwa1, big.NewInt(3))
	if !errors.Is(err, errUndercollateralized) {
		t.Fatalf("expected errUndercollateralized, got %v", err)
	}
	if env.state.reserves[usdc.Key()].LastAccrual != before.LastAccrual {
		t.Fatalf("rejected removal persisted accrual")
	}
	// Removing 2 units leaves 3,920 of power: still healthy.
	if err := env.engine.RemoveCollateral(borrower, rwa1, big.NewInt(2)); err != nil {
		t.Fatalf("healthy removal: %v", err)
	}
	if env.ledger.Balance(rwa1, borrower).Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("collateral not returned: %s", env.ledger.Balance(rwa1, borrower))
	}
}

func TestRemoveCollateralWithoutDebtSkipsOracle(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetCollateralFactor(env.admin, rwa1, 8_000); err != nil {
		t.Fatalf("set collateral factor: %v", err)
	}
	holder := makeAddress(0x11)
	env.fund(t, rwa1, holder, 100)
	if err := env.engine.AddCollateral(holder, rwa1, big.NewInt(100)); err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	// No prices configured anywhere: debt-free removal must still work.
	if err := env.engine.RemoveCollateral(holder, rwa1, big.NewInt(100)); err != nil {
		t.Fatalf("debt-free removal: %v", err)
	}
}

func TestPausedModuleRejectsOperations(t *testing.T) {
	env := newTestEnv(t)
	env.initReserve(t, usdc)
	env.engine.SetPauses(stubPauses{paused: true})
	lender := makeAddress(0x10)
	env.fund(t, usdc, lender, 100)
	if _, err := env.engine.Deposit(lender, usdc, big.NewInt(100)); err == nil {
		t.Fatalf("expected pause rejection")
	}
}

type stubPauses struct{ paused bool }

func (s stubPauses) IsPaused(string) bool { return s.paused }

func TestAdminSurfaceRejectsNonAdmin(t *testing.T) {
	env := newTestEnv(t)
	outsider := makeAddress(0x42)
	if err := env.engine.SetCollateralFactor(outsider, rwa1, 8_000); !errors.Is(err, errNotAdmin) {
		t.Fatalf("expected errNotAdmin, got %v", err)
	}
	if err := env.engine.InitReserve(outsider, usdc, defaultInterestParams()); !errors.Is(err, errNotAdmin) {
		t.Fatalf("expected errNotAdmin, got %v", err)
	}
	if err := env.engine.SetBackstopTakeRate(outsider, 500); !errors.Is(err, errNotAdmin) {
		t.Fatalf("expected errNotAdmin, got %v", err)
	}
}

func TestInitReserveRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.initReserve(t, usdc)
	err := env.engine.InitReserve(env.admin, usdc, defaultInterestParams())
	if !errors.Is(err, errReserveExists) {
		t.Fatalf("expected errReserveExists, got %v", err)
	}
}

func TestSetCollateralFactorBounds(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetCollateralFactor(env.admin, rwa1, 10_001); !errors.Is(err, errInvalidPercent) {
		t.Fatalf("expected errInvalidPercent, got %v", err)
	}
	if err := env.engine.SetCollateralFactor(env.admin, rwa1, 10_000); err != nil {
		t.Fatalf("factor at 100%%: %v", err)
	}
}
