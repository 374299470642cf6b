package events

import (
	"math/big"
	"strconv"

	"rwalend/core/types"
	"rwalend/crypto"
)

const (
	// TypeLendingDeposited is emitted whenever a lender supplies underlying to a reserve.
	TypeLendingDeposited = "lending.deposited"
	// TypeLendingWithdrawn is emitted when bTokens are burnt for underlying.
	TypeLendingWithdrawn = "lending.withdrawn"
	// TypeCollateralAdded is emitted when RWA collateral is locked for a borrower.
	TypeCollateralAdded = "lending.collateral_added"
	// TypeCollateralRemoved is emitted when RWA collateral is released to a borrower.
	TypeCollateralRemoved = "lending.collateral_removed"
	// TypeLendingBorrowed is emitted when a borrower draws underlying against collateral.
	TypeLendingBorrowed = "lending.borrowed"
	// TypeLendingRepaid is emitted when dTokens are burnt against repaid underlying.
	TypeLendingRepaid = "lending.repaid"
	// TypeInterestAccrued is emitted after a reserve's rates advance.
	TypeInterestAccrued = "lending.interest_accrued"
	// TypeBadDebt is emitted when an exhausted auction leaves a shortfall.
	TypeBadDebt = "lending.bad_debt"
)

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addrString(a crypto.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

type Deposited struct {
	Lender  crypto.Address
	Asset   string
	Amount  *big.Int
	BTokens *big.Int
}

func (Deposited) EventType() string { return TypeLendingDeposited }

func (e Deposited) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingDeposited,
		Attributes: map[string]string{
			"lender":  addrString(e.Lender),
			"asset":   e.Asset,
			"amount":  bigString(e.Amount),
			"bTokens": bigString(e.BTokens),
		},
	}
}

type Withdrawn struct {
	Lender  crypto.Address
	Asset   string
	Amount  *big.Int
	BTokens *big.Int
}

func (Withdrawn) EventType() string { return TypeLendingWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingWithdrawn,
		Attributes: map[string]string{
			"lender":  addrString(e.Lender),
			"asset":   e.Asset,
			"amount":  bigString(e.Amount),
			"bTokens": bigString(e.BTokens),
		},
	}
}

type CollateralAdded struct {
	Borrower crypto.Address
	Token    string
	Amount   *big.Int
}

func (CollateralAdded) EventType() string { return TypeCollateralAdded }

func (e CollateralAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralAdded,
		Attributes: map[string]string{
			"borrower": addrString(e.Borrower),
			"token":    e.Token,
			"amount":   bigString(e.Amount),
		},
	}
}

type CollateralRemoved struct {
	Borrower crypto.Address
	Token    string
	Amount   *big.Int
}

func (CollateralRemoved) EventType() string { return TypeCollateralRemoved }

func (e CollateralRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRemoved,
		Attributes: map[string]string{
			"borrower": addrString(e.Borrower),
			"token":    e.Token,
			"amount":   bigString(e.Amount),
		},
	}
}

type Borrowed struct {
	Borrower crypto.Address
	Asset    string
	Amount   *big.Int
	DTokens  *big.Int
}

func (Borrowed) EventType() string { return TypeLendingBorrowed }

func (e Borrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingBorrowed,
		Attributes: map[string]string{
			"borrower": addrString(e.Borrower),
			"asset":    e.Asset,
			"amount":   bigString(e.Amount),
			"dTokens":  bigString(e.DTokens),
		},
	}
}

type Repaid struct {
	Borrower crypto.Address
	Asset    string
	Amount   *big.Int
	DTokens  *big.Int
}

func (Repaid) EventType() string { return TypeLendingRepaid }

func (e Repaid) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingRepaid,
		Attributes: map[string]string{
			"borrower": addrString(e.Borrower),
			"asset":    e.Asset,
			"amount":   bigString(e.Amount),
			"dTokens":  bigString(e.DTokens),
		},
	}
}

type InterestAccrued struct {
	Asset        string
	BTokenRate   *big.Int
	DTokenRate   *big.Int
	RateModifier *big.Int
}

func (InterestAccrued) EventType() string { return TypeInterestAccrued }

func (e InterestAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypeInterestAccrued,
		Attributes: map[string]string{
			"asset":        e.Asset,
			"bTokenRate":   bigString(e.BTokenRate),
			"dTokenRate":   bigString(e.DTokenRate),
			"rateModifier": bigString(e.RateModifier),
		},
	}
}

type BadDebt struct {
	Borrower  crypto.Address
	Asset     string
	Shortfall *big.Int
	Absorbed  *big.Int
}

func (BadDebt) EventType() string { return TypeBadDebt }

func (e BadDebt) Event() *types.Event {
	return &types.Event{
		Type: TypeBadDebt,
		Attributes: map[string]string{
			"borrower":  addrString(e.Borrower),
			"asset":     e.Asset,
			"shortfall": bigString(e.Shortfall),
			"absorbed":  bigString(e.Absorbed),
		},
	}
}

const (
	// TypeAuctionStarted marks the creation of a Dutch auction for an unhealthy position.
	TypeAuctionStarted = "auction.started"
	// TypeAuctionFilled marks a full consumption of the auction's target liability.
	TypeAuctionFilled = "auction.filled"
	// TypeAuctionCancelled marks a self-cured position releasing its remaining lot.
	TypeAuctionCancelled = "auction.cancelled"
	// TypeAuctionExpired marks an auction that ran past its maximum duration.
	TypeAuctionExpired = "auction.expired"
)

type AuctionStarted struct {
	Borrower     crypto.Address
	Token        string
	DebtAsset    string
	LiabilityBps uint32
}

func (AuctionStarted) EventType() string { return TypeAuctionStarted }

func (e AuctionStarted) Event() *types.Event {
	return &types.Event{
		Type: TypeAuctionStarted,
		Attributes: map[string]string{
			"borrower":     addrString(e.Borrower),
			"token":        e.Token,
			"debtAsset":    e.DebtAsset,
			"liabilityBps": strconv.FormatUint(uint64(e.LiabilityBps), 10),
		},
	}
}

type AuctionFilled struct {
	Borrower   crypto.Address
	Token      string
	Liquidator crypto.Address
	DebtPaid   *big.Int
	Collateral *big.Int
	Remaining  uint32
}

func (AuctionFilled) EventType() string { return TypeAuctionFilled }

func (e AuctionFilled) Event() *types.Event {
	return &types.Event{
		Type: TypeAuctionFilled,
		Attributes: map[string]string{
			"borrower":   addrString(e.Borrower),
			"token":      e.Token,
			"liquidator": addrString(e.Liquidator),
			"debtPaid":   bigString(e.DebtPaid),
			"collateral": bigString(e.Collateral),
			"remaining":  strconv.FormatUint(uint64(e.Remaining), 10),
		},
	}
}

type AuctionClosed struct {
	Borrower crypto.Address
	Token    string
	Expired  bool
}

func (e AuctionClosed) EventType() string {
	if e.Expired {
		return TypeAuctionExpired
	}
	return TypeAuctionCancelled
}

func (e AuctionClosed) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"borrower": addrString(e.Borrower),
			"token":    e.Token,
		},
	}
}

const (
	// TypeBackstopDeposited is emitted when first-loss capital enters the backstop.
	TypeBackstopDeposited = "backstop.deposited"
	// TypeBackstopQueued is emitted when a withdrawal enters its unlock period.
	TypeBackstopQueued = "backstop.withdrawal_queued"
	// TypeBackstopWithdrawn is emitted when a matured withdrawal completes.
	TypeBackstopWithdrawn = "backstop.withdrawn"
)

type BackstopDeposited struct {
	Depositor crypto.Address
	Amount    *big.Int
	Shares    *big.Int
}

func (BackstopDeposited) EventType() string { return TypeBackstopDeposited }

func (e BackstopDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeBackstopDeposited,
		Attributes: map[string]string{
			"depositor": addrString(e.Depositor),
			"amount":    bigString(e.Amount),
			"shares":    bigString(e.Shares),
		},
	}
}

type BackstopQueued struct {
	Depositor crypto.Address
	Amount    *big.Int
	UnlockAt  uint64
}

func (BackstopQueued) EventType() string { return TypeBackstopQueued }

func (e BackstopQueued) Event() *types.Event {
	return &types.Event{
		Type: TypeBackstopQueued,
		Attributes: map[string]string{
			"depositor": addrString(e.Depositor),
			"amount":    bigString(e.Amount),
			"unlockAt":  strconv.FormatUint(e.UnlockAt, 10),
		},
	}
}

type BackstopWithdrawn struct {
	Depositor crypto.Address
	Amount    *big.Int
	Shares    *big.Int
}

func (BackstopWithdrawn) EventType() string { return TypeBackstopWithdrawn }

func (e BackstopWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeBackstopWithdrawn,
		Attributes: map[string]string{
			"depositor": addrString(e.Depositor),
			"amount":    bigString(e.Amount),
			"shares":    bigString(e.Shares),
		},
	}
}
