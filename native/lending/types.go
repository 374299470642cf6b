package lending

import (
	"math/big"
	"sort"

	"rwalend/crypto"
	"rwalend/native/token"
)

// InterestRateParams configures the three-segment utilization curve for one
// reserve. Rates are annualized basis points; the segments join at
// TargetUtilizationBps and at the fixed 9_500 bps ceiling.
type InterestRateParams struct {
	BaseRateBps          uint64
	SlopeOneBps          uint64
	SlopeTwoBps          uint64
	SlopeThreeBps        uint64
	TargetUtilizationBps uint64
	// ReactivityScalar steps the reserve's rate modifier per second of
	// utilization error, scalar-9 per basis point of error.
	ReactivityScalar uint64
}

// Clone returns a copy of the parameters.
func (p InterestRateParams) Clone() InterestRateParams { return p }

// Valid reports whether the parameters describe a usable curve.
func (p InterestRateParams) Valid() bool {
	return p.TargetUtilizationBps > 0 && p.TargetUtilizationBps <= utilCeilingBps
}

// ReserveState tracks one debt asset's aggregate position. Exchange rates are
// scalar-9 and only ever move forward via accrual.
type ReserveState struct {
	Asset          token.AssetID
	TotalDeposited *big.Int
	TotalBorrowed  *big.Int
	BTokenRate     *big.Int
	DTokenRate     *big.Int
	BTokenSupply   *big.Int
	DTokenSupply   *big.Int
	// RateModifier is the scalar-9 damping multiplier applied to the curve,
	// bounded to [0.1, 10.0].
	RateModifier *big.Int
	LastAccrual  uint64
	// BackstopCredit is the lifetime interest routed to the backstop from
	// this reserve.
	BackstopCredit *big.Int
	// UnrecoverableLoss is set when bad debt exceeded the backstop's
	// remaining capital; it is surfaced for governance resolution and never
	// cleared automatically.
	UnrecoverableLoss bool
	Params            InterestRateParams
}

// NewReserveState initialises a reserve at rate 1.0 with neutral modifier.
func NewReserveState(asset token.AssetID, params InterestRateParams, now uint64) *ReserveState {
	return &ReserveState{
		Asset:          asset,
		TotalDeposited: big.NewInt(0),
		TotalBorrowed:  big.NewInt(0),
		BTokenRate:     big.NewInt(scalarOne),
		DTokenRate:     big.NewInt(scalarOne),
		BTokenSupply:   big.NewInt(0),
		DTokenSupply:   big.NewInt(0),
		RateModifier:   big.NewInt(scalarOne),
		LastAccrual:    now,
		BackstopCredit: big.NewInt(0),
		Params:         params,
	}
}

// EnsureDefaults replaces nil big.Int fields with zero values so loaded
// records are always safe to operate on.
func (r *ReserveState) EnsureDefaults() {
	if r == nil {
		return
	}
	if r.TotalDeposited == nil {
		r.TotalDeposited = big.NewInt(0)
	}
	if r.TotalBorrowed == nil {
		r.TotalBorrowed = big.NewInt(0)
	}
	if r.BTokenRate == nil || r.BTokenRate.Sign() <= 0 {
		r.BTokenRate = big.NewInt(scalarOne)
	}
	if r.DTokenRate == nil || r.DTokenRate.Sign() <= 0 {
		r.DTokenRate = big.NewInt(scalarOne)
	}
	if r.BTokenSupply == nil {
		r.BTokenSupply = big.NewInt(0)
	}
	if r.DTokenSupply == nil {
		r.DTokenSupply = big.NewInt(0)
	}
	if r.RateModifier == nil || r.RateModifier.Sign() <= 0 {
		r.RateModifier = big.NewInt(scalarOne)
	}
	if r.BackstopCredit == nil {
		r.BackstopCredit = big.NewInt(0)
	}
}

// Clone deep-copies the reserve.
func (r *ReserveState) Clone() *ReserveState {
	if r == nil {
		return nil
	}
	clone := &ReserveState{
		Asset:             r.Asset,
		TotalDeposited:    cloneBig(r.TotalDeposited),
		TotalBorrowed:     cloneBig(r.TotalBorrowed),
		BTokenRate:        cloneBig(r.BTokenRate),
		DTokenRate:        cloneBig(r.DTokenRate),
		BTokenSupply:      cloneBig(r.BTokenSupply),
		DTokenSupply:      cloneBig(r.DTokenSupply),
		RateModifier:      cloneBig(r.RateModifier),
		LastAccrual:       r.LastAccrual,
		BackstopCredit:    cloneBig(r.BackstopCredit),
		UnrecoverableLoss: r.UnrecoverableLoss,
		Params:            r.Params.Clone(),
	}
	return clone
}

// CollateralEntry holds one RWA collateral balance inside a position. Entries
// are kept sorted by asset key so persisted encodings stay canonical.
type CollateralEntry struct {
	Asset  token.AssetID
	Amount *big.Int
}

// SupplyEntry holds one reserve's bToken balance inside a position.
type SupplyEntry struct {
	Asset   token.AssetID
	BTokens *big.Int
}

// Position is the per-address record: RWA collateral held directly (raw token
// units), bToken balances per lending asset, and at most one open debt asset.
type Position struct {
	Address    crypto.Address
	Collateral []CollateralEntry
	Supplies   []SupplyEntry
	DebtAsset  *token.AssetID
	DTokens    *big.Int
}

// NewPosition initialises an empty position for the address.
func NewPosition(addr crypto.Address) *Position {
	return &Position{Address: addr, DTokens: big.NewInt(0)}
}

// EnsureDefaults replaces nil big.Int fields with zero values.
func (p *Position) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.DTokens == nil {
		p.DTokens = big.NewInt(0)
	}
	for i := range p.Collateral {
		if p.Collateral[i].Amount == nil {
			p.Collateral[i].Amount = big.NewInt(0)
		}
	}
	for i := range p.Supplies {
		if p.Supplies[i].BTokens == nil {
			p.Supplies[i].BTokens = big.NewInt(0)
		}
	}
}

// Clone deep-copies the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address, DTokens: cloneBig(p.DTokens)}
	if p.DebtAsset != nil {
		asset := *p.DebtAsset
		clone.DebtAsset = &asset
	}
	if len(p.Collateral) > 0 {
		clone.Collateral = make([]CollateralEntry, len(p.Collateral))
		for i, entry := range p.Collateral {
			clone.Collateral[i] = CollateralEntry{Asset: entry.Asset, Amount: cloneBig(entry.Amount)}
		}
	}
	if len(p.Supplies) > 0 {
		clone.Supplies = make([]SupplyEntry, len(p.Supplies))
		for i, entry := range p.Supplies {
			clone.Supplies[i] = SupplyEntry{Asset: entry.Asset, BTokens: cloneBig(entry.BTokens)}
		}
	}
	return clone
}

// CollateralAmount returns the held balance for the asset, zero when absent.
func (p *Position) CollateralAmount(asset token.AssetID) *big.Int {
	for _, entry := range p.Collateral {
		if entry.Asset.Equal(asset) {
			return cloneBig(entry.Amount)
		}
	}
	return big.NewInt(0)
}

// AddCollateral credits the asset's collateral balance, inserting a sorted
// entry when needed.
func (p *Position) AddCollateral(asset token.AssetID, amount *big.Int) {
	for i := range p.Collateral {
		if p.Collateral[i].Asset.Equal(asset) {
			p.Collateral[i].Amount = new(big.Int).Add(p.Collateral[i].Amount, amount)
			return
		}
	}
	p.Collateral = append(p.Collateral, CollateralEntry{Asset: asset, Amount: cloneBig(amount)})
	sort.Slice(p.Collateral, func(i, j int) bool {
		return p.Collateral[i].Asset.Key() < p.Collateral[j].Asset.Key()
	})
}

// ReduceCollateral debits the asset's collateral balance, dropping the entry
// when it reaches zero. Reports false when the balance is insufficient.
func (p *Position) ReduceCollateral(asset token.AssetID, amount *big.Int) bool {
	for i := range p.Collateral {
		if !p.Collateral[i].Asset.Equal(asset) {
			continue
		}
		if p.Collateral[i].Amount.Cmp(amount) < 0 {
			return false
		}
		p.Collateral[i].Amount = new(big.Int).Sub(p.Collateral[i].Amount, amount)
		if p.Collateral[i].Amount.Sign() == 0 {
			p.Collateral = append(p.Collateral[:i], p.Collateral[i+1:]...)
		}
		return true
	}
	return false
}

// TotalCollateral reports whether the position still holds any collateral.
func (p *Position) TotalCollateral() *big.Int {
	total := big.NewInt(0)
	for _, entry := range p.Collateral {
		if entry.Amount != nil {
			total.Add(total, entry.Amount)
		}
	}
	return total
}

// BTokenBalance returns the bToken balance for a reserve, zero when absent.
func (p *Position) BTokenBalance(asset token.AssetID) *big.Int {
	for _, entry := range p.Supplies {
		if entry.Asset.Equal(asset) {
			return cloneBig(entry.BTokens)
		}
	}
	return big.NewInt(0)
}

// AddBTokens credits minted bTokens to the position.
func (p *Position) AddBTokens(asset token.AssetID, shares *big.Int) {
	for i := range p.Supplies {
		if p.Supplies[i].Asset.Equal(asset) {
			p.Supplies[i].BTokens = new(big.Int).Add(p.Supplies[i].BTokens, shares)
			return
		}
	}
	p.Supplies = append(p.Supplies, SupplyEntry{Asset: asset, BTokens: cloneBig(shares)})
	sort.Slice(p.Supplies, func(i, j int) bool {
		return p.Supplies[i].Asset.Key() < p.Supplies[j].Asset.Key()
	})
}

// ReduceBTokens burns bTokens from the position. Reports false when the
// balance is insufficient.
func (p *Position) ReduceBTokens(asset token.AssetID, shares *big.Int) bool {
	for i := range p.Supplies {
		if !p.Supplies[i].Asset.Equal(asset) {
			continue
		}
		if p.Supplies[i].BTokens.Cmp(shares) < 0 {
			return false
		}
		p.Supplies[i].BTokens = new(big.Int).Sub(p.Supplies[i].BTokens, shares)
		if p.Supplies[i].BTokens.Sign() == 0 {
			p.Supplies = append(p.Supplies[:i], p.Supplies[i+1:]...)
		}
		return true
	}
	return false
}

// AuctionStatus is the liquidation auction lifecycle state.
type AuctionStatus uint8

const (
	AuctionActive AuctionStatus = iota + 1
	AuctionFilled
	AuctionExpired
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionActive:
		return "active"
	case AuctionFilled:
		return "filled"
	case AuctionExpired:
		return "expired"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Auction is one Dutch liquidation auction, keyed by (borrower, collateral
// asset). RemainingLiabilityBps shrinks with every partial fill.
type Auction struct {
	Borrower              crypto.Address
	Collateral            token.AssetID
	DebtAsset             token.AssetID
	Start                 uint64
	RemainingLiabilityBps uint32
	Status                AuctionStatus
}

// Clone deep-copies the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// PoolState gates pool operations based on backstop health.
type PoolState uint8

const (
	PoolActive PoolState = iota + 1
	// PoolOnIce blocks new borrows; deposits and repayments stay open.
	PoolOnIce
	// PoolFrozen additionally blocks lender deposits.
	PoolFrozen
)

func (s PoolState) String() string {
	switch s {
	case PoolActive:
		return "active"
	case PoolOnIce:
		return "on_ice"
	case PoolFrozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// CollateralFactor maps one collateral asset to its basis-point risk discount.
type CollateralFactor struct {
	Asset     token.AssetID
	FactorBps uint64
}

// RegisteredToken records the contract address backing a symbol asset.
type RegisteredToken struct {
	Symbol   string
	Contract crypto.Address
}

// PoolParams is the singleton pool configuration record.
type PoolParams struct {
	State               PoolState
	BackstopAsset       token.AssetID
	BackstopThreshold   *big.Int
	BackstopTakeRateBps uint64
	CollateralFactors   []CollateralFactor
	TokenRegistry       []RegisteredToken
}

// NewPoolParams returns an active pool with no collateral factors configured.
func NewPoolParams() *PoolParams {
	return &PoolParams{State: PoolActive, BackstopThreshold: big.NewInt(0)}
}

// EnsureDefaults replaces nil fields with safe zero values.
func (p *PoolParams) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.State == 0 {
		p.State = PoolActive
	}
	if p.BackstopThreshold == nil {
		p.BackstopThreshold = big.NewInt(0)
	}
}

// Clone deep-copies the params.
func (p *PoolParams) Clone() *PoolParams {
	if p == nil {
		return nil
	}
	clone := &PoolParams{
		State:               p.State,
		BackstopAsset:       p.BackstopAsset,
		BackstopThreshold:   cloneBig(p.BackstopThreshold),
		BackstopTakeRateBps: p.BackstopTakeRateBps,
	}
	if len(p.CollateralFactors) > 0 {
		clone.CollateralFactors = append([]CollateralFactor(nil), p.CollateralFactors...)
	}
	if len(p.TokenRegistry) > 0 {
		clone.TokenRegistry = append([]RegisteredToken(nil), p.TokenRegistry...)
	}
	return clone
}

// CollateralFactorBps returns the configured factor for the asset.
func (p *PoolParams) CollateralFactorBps(asset token.AssetID) (uint64, bool) {
	for _, cf := range p.CollateralFactors {
		if cf.Asset.Equal(asset) {
			return cf.FactorBps, true
		}
	}
	return 0, false
}

// SetCollateralFactor inserts or replaces the factor for the asset, keeping
// the slice sorted by asset key.
func (p *PoolParams) SetCollateralFactor(asset token.AssetID, bps uint64) {
	for i := range p.CollateralFactors {
		if p.CollateralFactors[i].Asset.Equal(asset) {
			p.CollateralFactors[i].FactorBps = bps
			return
		}
	}
	p.CollateralFactors = append(p.CollateralFactors, CollateralFactor{Asset: asset, FactorBps: bps})
	sort.Slice(p.CollateralFactors, func(i, j int) bool {
		return p.CollateralFactors[i].Asset.Key() < p.CollateralFactors[j].Asset.Key()
	})
}

// ContractFor resolves the registered contract address for a symbol asset.
func (p *PoolParams) ContractFor(symbol string) (crypto.Address, bool) {
	for _, reg := range p.TokenRegistry {
		if reg.Symbol == symbol {
			return reg.Contract, true
		}
	}
	return crypto.Address{}, false
}

// BackstopState aggregates the first-loss capital pool.
type BackstopState struct {
	Shares       *big.Int
	Underlying   *big.Int
	QueuedShares *big.Int
	// InterestCredit is take-rate interest recognised in the share rate but
	// not yet cash-settled into the backstop balance.
	InterestCredit *big.Int
}

// NewBackstopState returns an empty backstop.
func NewBackstopState() *BackstopState {
	return &BackstopState{
		Shares:         big.NewInt(0),
		Underlying:     big.NewInt(0),
		QueuedShares:   big.NewInt(0),
		InterestCredit: big.NewInt(0),
	}
}

// EnsureDefaults replaces nil fields with zeros.
func (b *BackstopState) EnsureDefaults() {
	if b == nil {
		return
	}
	if b.Shares == nil {
		b.Shares = big.NewInt(0)
	}
	if b.Underlying == nil {
		b.Underlying = big.NewInt(0)
	}
	if b.QueuedShares == nil {
		b.QueuedShares = big.NewInt(0)
	}
	if b.InterestCredit == nil {
		b.InterestCredit = big.NewInt(0)
	}
}

// Clone deep-copies the backstop.
func (b *BackstopState) Clone() *BackstopState {
	if b == nil {
		return nil
	}
	return &BackstopState{
		Shares:         cloneBig(b.Shares),
		Underlying:     cloneBig(b.Underlying),
		QueuedShares:   cloneBig(b.QueuedShares),
		InterestCredit: cloneBig(b.InterestCredit),
	}
}

// TotalValue is the capital the share rate is computed against.
func (b *BackstopState) TotalValue() *big.Int {
	total := cloneBig(b.Underlying)
	if b.InterestCredit != nil {
		total.Add(total, b.InterestCredit)
	}
	return total
}

// ShareRate returns the scalar-9 exchange rate from backstop shares to
// underlying value, 1.0 while no shares exist.
func (b *BackstopState) ShareRate() *big.Int {
	if b.Shares == nil || b.Shares.Sign() == 0 {
		return big.NewInt(scalarOne)
	}
	rate := new(big.Int).Mul(b.TotalValue(), scalar)
	return rate.Quo(rate, b.Shares)
}

// BackstopAccount is one depositor's share balance plus its pending
// withdrawal, at most one at a time.
type BackstopAccount struct {
	Address      crypto.Address
	Shares       *big.Int
	QueuedShares *big.Int
	UnlockTime   uint64
}

// NewBackstopAccount returns an empty account for the address.
func NewBackstopAccount(addr crypto.Address) *BackstopAccount {
	return &BackstopAccount{Address: addr, Shares: big.NewInt(0), QueuedShares: big.NewInt(0)}
}

// EnsureDefaults replaces nil fields with zeros.
func (a *BackstopAccount) EnsureDefaults() {
	if a == nil {
		return
	}
	if a.Shares == nil {
		a.Shares = big.NewInt(0)
	}
	if a.QueuedShares == nil {
		a.QueuedShares = big.NewInt(0)
	}
}

// Clone deep-copies the account.
func (a *BackstopAccount) Clone() *BackstopAccount {
	if a == nil {
		return nil
	}
	return &BackstopAccount{
		Address:      a.Address,
		Shares:       cloneBig(a.Shares),
		QueuedShares: cloneBig(a.QueuedShares),
		UnlockTime:   a.UnlockTime,
	}
}
