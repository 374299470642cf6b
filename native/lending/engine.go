package lending

import (
	"math/big"
	"time"

	"rwalend/core/events"
	"rwalend/crypto"
	nativecommon "rwalend/native/common"
	"rwalend/native/oracle"
	"rwalend/native/token"
)

const moduleName = "lending"

// engineState is the persistence boundary the engine mutates through. The
// host wires a concrete store; tests wire an in-memory mock.
type engineState interface {
	GetPoolParams() (*PoolParams, error)
	PutPoolParams(params *PoolParams) error
	GetReserve(asset token.AssetID) (*ReserveState, error)
	PutReserve(reserve *ReserveState) error
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(position *Position) error
	GetAuction(borrower crypto.Address, collateral token.AssetID) (*Auction, error)
	PutAuction(auction *Auction) error
	GetBackstop() (*BackstopState, error)
	PutBackstop(backstop *BackstopState) error
	GetBackstopAccount(addr crypto.Address) (*BackstopAccount, error)
	PutBackstopAccount(account *BackstopAccount) error
}

// AuctionParams shape the Dutch auction's time decay. LotBonusMax is scalar-9
// (200_000_000 == +20% bonus collateral at full ramp).
type AuctionParams struct {
	RampSeconds uint64
	LotBonusMax *big.Int
}

// DefaultAuctionParams mirrors the 200-unit ramp the auction mechanism was
// tuned against.
func DefaultAuctionParams() AuctionParams {
	return AuctionParams{RampSeconds: 200, LotBonusMax: big.NewInt(scalarOne / 5)}
}

// Engine orchestrates every state transition of the pool: lending, collateral,
// borrowing, liquidation auctions and the backstop.
type Engine struct {
	state           engineState
	ledger          *token.Ledger
	collateralFeed  *oracle.Feed
	debtFeed        *oracle.Feed
	admin           crypto.Address
	moduleAddress   crypto.Address
	backstopAddress crypto.Address
	auctionParams   AuctionParams
	lotFn           ModifierFunc
	bidFn           ModifierFunc
	pauses          nativecommon.PauseView
	emitter         events.Emitter
	nowFn           func() uint64
}

// NewEngine constructs an engine bound to the pool admin and the module's two
// custody addresses (reserve liquidity and backstop capital).
func NewEngine(admin, moduleAddr, backstopAddr crypto.Address) *Engine {
	return &Engine{
		admin:           admin,
		moduleAddress:   moduleAddr,
		backstopAddress: backstopAddr,
		auctionParams:   DefaultAuctionParams(),
		nowFn:           func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the fungible token ledger used for every asset movement.
func (e *Engine) SetLedger(ledger *token.Ledger) {
	if e == nil {
		return
	}
	e.ledger = ledger
}

// SetCollateralFeed wires the price feed valuing RWA collateral.
func (e *Engine) SetCollateralFeed(feed *oracle.Feed) {
	if e == nil {
		return
	}
	e.collateralFeed = feed
}

// SetDebtFeed wires the price feed valuing debt assets.
func (e *Engine) SetDebtFeed(feed *oracle.Feed) {
	if e == nil {
		return
	}
	e.debtFeed = feed
}

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter wires the event sink notified after successful mutations.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine clock.
func (e *Engine) SetNowFunc(now func() uint64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// SetAuctionParams overrides the auction decay parameters.
func (e *Engine) SetAuctionParams(params AuctionParams) {
	if e == nil {
		return
	}
	if params.RampSeconds == 0 {
		params.RampSeconds = DefaultAuctionParams().RampSeconds
	}
	if params.LotBonusMax == nil || params.LotBonusMax.Sign() < 0 {
		params.LotBonusMax = DefaultAuctionParams().LotBonusMax
	}
	e.auctionParams = AuctionParams{
		RampSeconds: params.RampSeconds,
		LotBonusMax: cloneBig(params.LotBonusMax),
	}
}

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) loadPoolParams() (*PoolParams, error) {
	params, err := e.state.GetPoolParams()
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = NewPoolParams()
	}
	params.EnsureDefaults()
	return params, nil
}

func (e *Engine) loadReserve(asset token.AssetID) (*ReserveState, error) {
	reserve, err := e.state.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, errAssetNotSupported
	}
	reserve.EnsureDefaults()
	return reserve, nil
}

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	position, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = NewPosition(addr)
	}
	position.EnsureDefaults()
	return position, nil
}

func (e *Engine) loadBackstop() (*BackstopState, error) {
	backstop, err := e.state.GetBackstop()
	if err != nil {
		return nil, err
	}
	if backstop == nil {
		backstop = NewBackstopState()
	}
	backstop.EnsureDefaults()
	return backstop, nil
}

// settleAccrual advances the reserve to now in memory and stages the
// backstop's interest take. Nothing is persisted: callers run their gates
// against the accrued reserve and hand the take to commitAccrual only once
// the operation is certain to succeed. Returns the loaded pool params so
// callers avoid a second read.
func (e *Engine) settleAccrual(reserve *ReserveState) (*PoolParams, *big.Int, error) {
	params, err := e.loadPoolParams()
	if err != nil {
		return nil, nil, err
	}
	take := accrueReserve(reserve, params.BackstopTakeRateBps, e.now())
	return params, take, nil
}

// commitAccrual books a staged interest take against the backstop and emits
// the accrual event. A rejected operation never reaches this point, so the
// reserve's next settle re-derives the same take without double counting.
func (e *Engine) commitAccrual(reserve *ReserveState, take *big.Int) error {
	if take == nil || take.Sign() <= 0 {
		return nil
	}
	backstop, err := e.loadBackstop()
	if err != nil {
		return err
	}
	backstop.InterestCredit = new(big.Int).Add(backstop.InterestCredit, take)
	if err := e.state.PutBackstop(backstop); err != nil {
		return err
	}
	e.emit(events.InterestAccrued{
		Asset:        reserve.Asset.Key(),
		BTokenRate:   cloneBig(reserve.BTokenRate),
		DTokenRate:   cloneBig(reserve.DTokenRate),
		RateModifier: cloneBig(reserve.RateModifier),
	})
	return nil
}

// Accrue advances a reserve's rates without any other side effect. The daemon
// ticker calls this so dormant reserves still track time.
func (e *Engine) Accrue(asset token.AssetID) error {
	if e == nil || e.state == nil {
		return errNilState
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
	return e.state.PutReserve(reserve)
}

// Deposit supplies underlying to a reserve and mints bTokens at the current
// exchange rate, rounding shares down. Returns the minted share amount.
func (e *Engine) Deposit(caller crypto.Address, asset token.AssetID, amount *big.Int) (*big.Int, error) {
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
	if params.State == PoolFrozen {
		return nil, errPoolFrozen
	}

	minted := ToShares(amount, reserve.BTokenRate, RoundDown)
	if minted.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	position, err := e.loadPosition(caller)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Transfer(asset, caller, e.moduleAddress, amount); err != nil {
		return nil, err
	}

	position.AddBTokens(asset, minted)
	reserve.TotalDeposited = new(big.Int).Add(reserve.TotalDeposited, amount)
	reserve.BTokenSupply = new(big.Int).Add(reserve.BTokenSupply, minted)

	if err := e.commitAccrual(reserve, take); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}

	e.emit(events.Deposited{Lender: caller, Asset: asset.Key(), Amount: cloneBig(amount), BTokens: cloneBig(minted)})
	return minted, nil
}

// Withdraw burns bTokens and pays out underlying at the current exchange rate,
// rounding the payout down. The reserve must stay solvent against outstanding
// borrows. Returns the underlying paid out.
func (e *Engine) Withdraw(caller crypto.Address, asset token.AssetID, bTokens *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if bTokens == nil || bTokens.Sign() <= 0 {
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
	if position.BTokenBalance(asset).Cmp(bTokens) < 0 {
		return nil, errInsufficientShares
	}

	out := ToUnderlying(bTokens, reserve.BTokenRate, RoundDown)
	if out.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	remaining := new(big.Int).Sub(reserve.TotalDeposited, out)
	if remaining.Cmp(reserve.TotalBorrowed) < 0 {
		return nil, errInsufficientLiquidity
	}

	if err := e.ledger.Transfer(asset, e.moduleAddress, caller, out); err != nil {
		return nil, err
	}

	position.ReduceBTokens(asset, bTokens)
	reserve.TotalDeposited = remaining
	reserve.BTokenSupply = new(big.Int).Sub(reserve.BTokenSupply, bTokens)

	if err := e.commitAccrual(reserve, take); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}

	e.emit(events.Withdrawn{Lender: caller, Asset: asset.Key(), Amount: cloneBig(out), BTokens: cloneBig(bTokens)})
	return out, nil
}

// AddCollateral locks RWA tokens against the caller's position. The asset
// must carry a configured collateral factor, otherwise it can never count
// toward borrowing power and locking it would only strand funds.
func (e *Engine) AddCollateral(caller crypto.Address, asset token.AssetID, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	params, err := e.loadPoolParams()
	if err != nil {
		return err
	}
	if _, ok := params.CollateralFactorBps(asset); !ok {
		return errCollateralNotSupported
	}

	position, err := e.loadPosition(caller)
	if err != nil {
		return err
	}

	if err := e.ledger.Transfer(asset, caller, e.moduleAddress, amount); err != nil {
		return err
	}

	position.AddCollateral(asset, amount)
	if err := e.state.PutPosition(position); err != nil {
		return err
	}

	e.emit(events.CollateralAdded{Borrower: caller, Token: asset.Key(), Amount: cloneBig(amount)})
	return nil
}

// RemoveCollateral releases RWA tokens back to the caller. When the position
// carries debt, the post-removal health factor must stay at or above 1.0,
// valued against fresh oracle prices.
func (e *Engine) RemoveCollateral(caller crypto.Address, asset token.AssetID, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	position, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if position.CollateralAmount(asset).Cmp(amount) < 0 {
		return errInsufficientCollateral
	}

	var (
		debtReserve *ReserveState
		debtTake    *big.Int
	)
	if position.DTokens.Sign() > 0 {
		reserve, err := e.loadReserve(debtAssetOf(position))
		if err != nil {
			return err
		}
		params, take, err := e.settleAccrual(reserve)
		if err != nil {
			return err
		}
		simulated := position.Clone()
		simulated.ReduceCollateral(asset, amount)
		healthy, err := e.positionHealthy(simulated, reserve, params)
		if err != nil {
			return err
		}
		if !healthy {
			return errUndercollateralized
		}
		debtReserve, debtTake = reserve, take
	}

	if err := e.ledger.Transfer(asset, e.moduleAddress, caller, amount); err != nil {
		return err
	}

	position.ReduceCollateral(asset, amount)
	if debtReserve != nil {
		if err := e.commitAccrual(debtReserve, debtTake); err != nil {
			return err
		}
		if err := e.state.PutReserve(debtReserve); err != nil {
			return err
		}
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}

	e.emit(events.CollateralRemoved{Borrower: caller, Token: asset.Key(), Amount: cloneBig(amount)})
	return nil
}

func debtAssetOf(p *Position) token.AssetID {
	if p == nil || p.DebtAsset == nil {
		return token.AssetID{}
	}
	return *p.DebtAsset
}
