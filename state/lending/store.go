// Package lending persists the pool's records as RLP-encoded values in a
// key-value database. Asset identifiers are stored by their canonical string
// key and addresses by their raw bytes, so every record stays RLP-encodable
// without maps or unexported fields.
package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"rwalend/crypto"
	"rwalend/native/lending"
	"rwalend/native/token"
	"rwalend/storage"
)

const (
	keyPoolParams      = "lending/params"
	keyBackstop        = "lending/backstop"
	prefixReserve      = "lending/reserve/"
	prefixPosition     = "lending/position/"
	prefixAuction      = "lending/auction/"
	prefixBackstopAcct = "lending/backstop/acct/"
)

// Store implements the engine's persistence boundary over a storage.Database.
type Store struct {
	db storage.Database
}

// NewStore wraps the database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) get(key string, out interface{}) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lending store: get %s: %w", key, err)
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("lending store: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(key string, record interface{}) error {
	raw, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("lending store: encode %s: %w", key, err)
	}
	if err := s.db.Put([]byte(key), raw); err != nil {
		return fmt.Errorf("lending store: put %s: %w", key, err)
	}
	return nil
}

func reserveKey(asset token.AssetID) string {
	return prefixReserve + asset.Key()
}

func positionKey(addr crypto.Address) string {
	return prefixPosition + string(addr.Bytes())
}

func auctionKey(borrower crypto.Address, collateral token.AssetID) string {
	return prefixAuction + string(borrower.Bytes()) + "/" + collateral.Key()
}

func backstopAcctKey(addr crypto.Address) string {
	return prefixBackstopAcct + string(addr.Bytes())
}

// --- stored record shapes ---

type storedInterestParams struct {
	BaseRateBps          uint64
	SlopeOneBps          uint64
	SlopeTwoBps          uint64
	SlopeThreeBps        uint64
	TargetUtilizationBps uint64
	ReactivityScalar     uint64
}

type storedReserve struct {
	AssetKey          string
	TotalDeposited    *big.Int
	TotalBorrowed     *big.Int
	BTokenRate        *big.Int
	DTokenRate        *big.Int
	BTokenSupply      *big.Int
	DTokenSupply      *big.Int
	RateModifier      *big.Int
	LastAccrual       uint64
	BackstopCredit    *big.Int
	UnrecoverableLoss bool
	Params            storedInterestParams
}

type storedCollateralEntry struct {
	AssetKey string
	Amount   *big.Int
}

type storedSupplyEntry struct {
	AssetKey string
	BTokens  *big.Int
}

type storedPosition struct {
	Address      []byte
	Collateral   []storedCollateralEntry
	Supplies     []storedSupplyEntry
	DebtAssetKey string
	DTokens      *big.Int
}

type storedAuction struct {
	Borrower              []byte
	CollateralKey         string
	DebtAssetKey          string
	Start                 uint64
	RemainingLiabilityBps uint32
	Status                uint8
}

type storedCollateralFactor struct {
	AssetKey  string
	FactorBps uint64
}

type storedRegisteredToken struct {
	Symbol   string
	Contract []byte
}

type storedPoolParams struct {
	State               uint8
	BackstopAssetKey    string
	BackstopThreshold   *big.Int
	BackstopTakeRateBps uint64
	CollateralFactors   []storedCollateralFactor
	TokenRegistry       []storedRegisteredToken
}

type storedBackstop struct {
	Shares         *big.Int
	Underlying     *big.Int
	QueuedShares   *big.Int
	InterestCredit *big.Int
}

type storedBackstopAccount struct {
	Address      []byte
	Shares       *big.Int
	QueuedShares *big.Int
	UnlockTime   uint64
}

func storedBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func storedAddress(addr crypto.Address) []byte {
	return append([]byte(nil), addr.Bytes()...)
}

func loadAddress(raw []byte) crypto.Address {
	return crypto.NewAddress(crypto.RWAPrefix, append([]byte(nil), raw...))
}

func storedAssetKey(asset token.AssetID) string {
	if !asset.Valid() {
		return ""
	}
	return asset.Key()
}

func loadAssetKey(key string) (token.AssetID, error) {
	if key == "" {
		return token.AssetID{}, nil
	}
	return token.ParseKey(key)
}

// --- engine state implementation ---

// GetPoolParams loads the singleton pool configuration, nil when unset.
func (s *Store) GetPoolParams() (*lending.PoolParams, error) {
	record := storedPoolParams{}
	ok, err := s.get(keyPoolParams, &record)
	if err != nil || !ok {
		return nil, err
	}
	params := &lending.PoolParams{
		State:               lending.PoolState(record.State),
		BackstopThreshold:   record.BackstopThreshold,
		BackstopTakeRateBps: record.BackstopTakeRateBps,
	}
	if record.BackstopAssetKey != "" {
		asset, err := loadAssetKey(record.BackstopAssetKey)
		if err != nil {
			return nil, fmt.Errorf("lending store: pool params: %w", err)
		}
		params.BackstopAsset = asset
	}
	for _, cf := range record.CollateralFactors {
		asset, err := loadAssetKey(cf.AssetKey)
		if err != nil {
			return nil, fmt.Errorf("lending store: pool params: %w", err)
		}
		params.CollateralFactors = append(params.CollateralFactors, lending.CollateralFactor{
			Asset:     asset,
			FactorBps: cf.FactorBps,
		})
	}
	for _, reg := range record.TokenRegistry {
		params.TokenRegistry = append(params.TokenRegistry, lending.RegisteredToken{
			Symbol:   reg.Symbol,
			Contract: loadAddress(reg.Contract),
		})
	}
	params.EnsureDefaults()
	return params, nil
}

// PutPoolParams persists the pool configuration.
func (s *Store) PutPoolParams(params *lending.PoolParams) error {
	if params == nil {
		return nil
	}
	record := storedPoolParams{
		State:               uint8(params.State),
		BackstopAssetKey:    storedAssetKey(params.BackstopAsset),
		BackstopThreshold:   storedBig(params.BackstopThreshold),
		BackstopTakeRateBps: params.BackstopTakeRateBps,
	}
	for _, cf := range params.CollateralFactors {
		record.CollateralFactors = append(record.CollateralFactors, storedCollateralFactor{
			AssetKey:  storedAssetKey(cf.Asset),
			FactorBps: cf.FactorBps,
		})
	}
	for _, reg := range params.TokenRegistry {
		record.TokenRegistry = append(record.TokenRegistry, storedRegisteredToken{
			Symbol:   reg.Symbol,
			Contract: storedAddress(reg.Contract),
		})
	}
	return s.put(keyPoolParams, record)
}

// GetReserve loads one reserve, nil when the asset is not initialised.
func (s *Store) GetReserve(asset token.AssetID) (*lending.ReserveState, error) {
	record := storedReserve{}
	ok, err := s.get(reserveKey(asset), &record)
	if err != nil || !ok {
		return nil, err
	}
	stored, err := loadAssetKey(record.AssetKey)
	if err != nil {
		return nil, fmt.Errorf("lending store: reserve: %w", err)
	}
	reserve := &lending.ReserveState{
		Asset:             stored,
		TotalDeposited:    record.TotalDeposited,
		TotalBorrowed:     record.TotalBorrowed,
		BTokenRate:        record.BTokenRate,
		DTokenRate:        record.DTokenRate,
		BTokenSupply:      record.BTokenSupply,
		DTokenSupply:      record.DTokenSupply,
		RateModifier:      record.RateModifier,
		LastAccrual:       record.LastAccrual,
		BackstopCredit:    record.BackstopCredit,
		UnrecoverableLoss: record.UnrecoverableLoss,
		Params: lending.InterestRateParams{
			BaseRateBps:          record.Params.BaseRateBps,
			SlopeOneBps:          record.Params.SlopeOneBps,
			SlopeTwoBps:          record.Params.SlopeTwoBps,
			SlopeThreeBps:        record.Params.SlopeThreeBps,
			TargetUtilizationBps: record.Params.TargetUtilizationBps,
			ReactivityScalar:     record.Params.ReactivityScalar,
		},
	}
	reserve.EnsureDefaults()
	return reserve, nil
}

// PutReserve persists one reserve.
func (s *Store) PutReserve(reserve *lending.ReserveState) error {
	if reserve == nil {
		return nil
	}
	record := storedReserve{
		AssetKey:          storedAssetKey(reserve.Asset),
		TotalDeposited:    storedBig(reserve.TotalDeposited),
		TotalBorrowed:     storedBig(reserve.TotalBorrowed),
		BTokenRate:        storedBig(reserve.BTokenRate),
		DTokenRate:        storedBig(reserve.DTokenRate),
		BTokenSupply:      storedBig(reserve.BTokenSupply),
		DTokenSupply:      storedBig(reserve.DTokenSupply),
		RateModifier:      storedBig(reserve.RateModifier),
		LastAccrual:       reserve.LastAccrual,
		BackstopCredit:    storedBig(reserve.BackstopCredit),
		UnrecoverableLoss: reserve.UnrecoverableLoss,
		Params: storedInterestParams{
			BaseRateBps:          reserve.Params.BaseRateBps,
			SlopeOneBps:          reserve.Params.SlopeOneBps,
			SlopeTwoBps:          reserve.Params.SlopeTwoBps,
			SlopeThreeBps:        reserve.Params.SlopeThreeBps,
			TargetUtilizationBps: reserve.Params.TargetUtilizationBps,
			ReactivityScalar:     reserve.Params.ReactivityScalar,
		},
	}
	return s.put(reserveKey(reserve.Asset), record)
}

// GetPosition loads one borrower position, nil when the address has none.
func (s *Store) GetPosition(addr crypto.Address) (*lending.Position, error) {
	record := storedPosition{}
	ok, err := s.get(positionKey(addr), &record)
	if err != nil || !ok {
		return nil, err
	}
	position := &lending.Position{
		Address: loadAddress(record.Address),
		DTokens: record.DTokens,
	}
	if record.DebtAssetKey != "" {
		asset, err := loadAssetKey(record.DebtAssetKey)
		if err != nil {
			return nil, fmt.Errorf("lending store: position: %w", err)
		}
		position.DebtAsset = &asset
	}
	for _, entry := range record.Collateral {
		asset, err := loadAssetKey(entry.AssetKey)
		if err != nil {
			return nil, fmt.Errorf("lending store: position: %w", err)
		}
		position.Collateral = append(position.Collateral, lending.CollateralEntry{
			Asset:  asset,
			Amount: entry.Amount,
		})
	}
	for _, entry := range record.Supplies {
		asset, err := loadAssetKey(entry.AssetKey)
		if err != nil {
			return nil, fmt.Errorf("lending store: position: %w", err)
		}
		position.Supplies = append(position.Supplies, lending.SupplyEntry{
			Asset:   asset,
			BTokens: entry.BTokens,
		})
	}
	position.EnsureDefaults()
	return position, nil
}

// PutPosition persists one borrower position.
func (s *Store) PutPosition(position *lending.Position) error {
	if position == nil {
		return nil
	}
	record := storedPosition{
		Address: storedAddress(position.Address),
		DTokens: storedBig(position.DTokens),
	}
	if position.DebtAsset != nil {
		record.DebtAssetKey = storedAssetKey(*position.DebtAsset)
	}
	for _, entry := range position.Collateral {
		record.Collateral = append(record.Collateral, storedCollateralEntry{
			AssetKey: storedAssetKey(entry.Asset),
			Amount:   storedBig(entry.Amount),
		})
	}
	for _, entry := range position.Supplies {
		record.Supplies = append(record.Supplies, storedSupplyEntry{
			AssetKey: storedAssetKey(entry.Asset),
			BTokens:  storedBig(entry.BTokens),
		})
	}
	return s.put(positionKey(position.Address), record)
}

// GetAuction loads the auction for a (borrower, collateral) pair, nil when
// none was ever created.
func (s *Store) GetAuction(borrower crypto.Address, collateral token.AssetID) (*lending.Auction, error) {
	record := storedAuction{}
	ok, err := s.get(auctionKey(borrower, collateral), &record)
	if err != nil || !ok {
		return nil, err
	}
	collateralAsset, err := loadAssetKey(record.CollateralKey)
	if err != nil {
		return nil, fmt.Errorf("lending store: auction: %w", err)
	}
	debtAsset, err := loadAssetKey(record.DebtAssetKey)
	if err != nil {
		return nil, fmt.Errorf("lending store: auction: %w", err)
	}
	return &lending.Auction{
		Borrower:              loadAddress(record.Borrower),
		Collateral:            collateralAsset,
		DebtAsset:             debtAsset,
		Start:                 record.Start,
		RemainingLiabilityBps: record.RemainingLiabilityBps,
		Status:                lending.AuctionStatus(record.Status),
	}, nil
}

// PutAuction persists one auction.
func (s *Store) PutAuction(auction *lending.Auction) error {
	if auction == nil {
		return nil
	}
	record := storedAuction{
		Borrower:              storedAddress(auction.Borrower),
		CollateralKey:         storedAssetKey(auction.Collateral),
		DebtAssetKey:          storedAssetKey(auction.DebtAsset),
		Start:                 auction.Start,
		RemainingLiabilityBps: auction.RemainingLiabilityBps,
		Status:                uint8(auction.Status),
	}
	return s.put(auctionKey(auction.Borrower, auction.Collateral), record)
}

// GetBackstop loads the backstop aggregate, nil when never touched.
func (s *Store) GetBackstop() (*lending.BackstopState, error) {
	record := storedBackstop{}
	ok, err := s.get(keyBackstop, &record)
	if err != nil || !ok {
		return nil, err
	}
	backstop := &lending.BackstopState{
		Shares:         record.Shares,
		Underlying:     record.Underlying,
		QueuedShares:   record.QueuedShares,
		InterestCredit: record.InterestCredit,
	}
	backstop.EnsureDefaults()
	return backstop, nil
}

// PutBackstop persists the backstop aggregate.
func (s *Store) PutBackstop(backstop *lending.BackstopState) error {
	if backstop == nil {
		return nil
	}
	record := storedBackstop{
		Shares:         storedBig(backstop.Shares),
		Underlying:     storedBig(backstop.Underlying),
		QueuedShares:   storedBig(backstop.QueuedShares),
		InterestCredit: storedBig(backstop.InterestCredit),
	}
	return s.put(keyBackstop, record)
}

// GetBackstopAccount loads one depositor account, nil when absent.
func (s *Store) GetBackstopAccount(addr crypto.Address) (*lending.BackstopAccount, error) {
	record := storedBackstopAccount{}
	ok, err := s.get(backstopAcctKey(addr), &record)
	if err != nil || !ok {
		return nil, err
	}
	account := &lending.BackstopAccount{
		Address:      loadAddress(record.Address),
		Shares:       record.Shares,
		QueuedShares: record.QueuedShares,
		UnlockTime:   record.UnlockTime,
	}
	account.EnsureDefaults()
	return account, nil
}

// PutBackstopAccount persists one depositor account.
func (s *Store) PutBackstopAccount(account *lending.BackstopAccount) error {
	if account == nil {
		return nil
	}
	record := storedBackstopAccount{
		Address:      storedAddress(account.Address),
		Shares:       storedBig(account.Shares),
		QueuedShares: storedBig(account.QueuedShares),
		UnlockTime:   account.UnlockTime,
	}
	return s.put(backstopAcctKey(account.Address), record)
}
