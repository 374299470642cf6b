package lending

import "errors"

var (
	errNilState               = errors.New("lending engine: state not configured")
	errNilLedger              = errors.New("lending engine: token ledger not configured")
	errNilOracle              = errors.New("lending engine: price feed not configured")
	errInvalidAmount          = errors.New("lending engine: amount must be positive")
	errInvalidPercent         = errors.New("lending engine: percentage outside (0, 10000] basis points")
	errAssetNotSupported      = errors.New("lending engine: asset not supported by the pool")
	errReserveExists          = errors.New("lending engine: reserve already initialised")
	errCollateralNotSupported = errors.New("lending engine: no collateral factor configured for asset")
	errNotAdmin               = errors.New("lending engine: caller is not the pool admin")

	errInsufficientShares     = errors.New("lending engine: insufficient share balance")
	errInsufficientCollateral = errors.New("lending engine: insufficient collateral balance")
	errInsufficientLiquidity  = errors.New("lending engine: insufficient reserve liquidity")

	errUndercollateralized = errors.New("lending engine: health factor below 1")
	errPositionHealthy     = errors.New("lending engine: position not eligible for liquidation")
	errNoDebt              = errors.New("lending engine: no outstanding debt")
	errDebtAssetConflict   = errors.New("lending engine: borrower already holds debt in another asset")

	errInvalidPoolState = errors.New("lending engine: unknown pool state")
	errPoolFrozen       = errors.New("lending engine: pool frozen")
	errBorrowsSuspended = errors.New("lending engine: borrowing suspended while pool is on ice")
	errBackstopTooSmall = errors.New("lending engine: backstop below activation threshold")

	errAuctionExists   = errors.New("lending engine: active auction already exists for position")
	errAuctionNotFound = errors.New("lending engine: no active auction for position")
	errAuctionExpired  = errors.New("lending engine: auction past its maximum duration")
	errFillTooLarge    = errors.New("lending engine: fill exceeds remaining auction liability")

	errWithdrawalPending = errors.New("lending engine: backstop withdrawal already pending")
	errNoWithdrawal      = errors.New("lending engine: no pending backstop withdrawal")
	errWithdrawalLocked  = errors.New("lending engine: backstop withdrawal still locked")
)

// Exported aliases for the rejection reasons callers are expected to branch on.
var (
	ErrInvalidAmount       = errInvalidAmount
	ErrAssetNotSupported   = errAssetNotSupported
	ErrUndercollateralized = errUndercollateralized
	ErrPositionHealthy     = errPositionHealthy
	ErrAuctionExpired      = errAuctionExpired
	ErrWithdrawalLocked    = errWithdrawalLocked
	ErrNotAdmin            = errNotAdmin
)
