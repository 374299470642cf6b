package oracle

import (
	"errors"
	"math/big"
	"sync"

	"rwalend/native/token"
)

var (
	// ErrPriceUnavailable indicates the source holds no observation for the asset.
	ErrPriceUnavailable = errors.New("oracle: no price available for asset")
	// ErrStalePrice indicates the freshest observation is older than the feed tolerates.
	ErrStalePrice = errors.New("oracle: price older than freshness window")
	// ErrInvalidPrice indicates the source reported a non-positive price.
	ErrInvalidPrice = errors.New("oracle: non-positive price")
)

// DefaultMaxAge is the freshness window applied when a feed is constructed
// without one: observations older than 24 hours are rejected.
const DefaultMaxAge uint64 = 24 * 60 * 60

// PriceData is a single verified price observation.
type PriceData struct {
	Price     *big.Int
	Timestamp uint64
}

// Clone returns a deep copy of the observation.
func (p PriceData) Clone() PriceData {
	clone := PriceData{Timestamp: p.Timestamp}
	if p.Price != nil {
		clone.Price = new(big.Int).Set(p.Price)
	}
	return clone
}

// Source resolves price observations for assets. Implementations return false
// when no observation exists; callers must treat that as a hard failure.
type Source interface {
	LastPrice(asset token.AssetID) (PriceData, bool)
	PriceAt(asset token.AssetID, timestamp uint64) (PriceData, bool)
	Decimals() uint32
}

// Feed wraps a Source with fail-closed validation: a missing, stale or
// non-positive price is an error, never a default.
type Feed struct {
	source Source
	maxAge uint64
}

// NewFeed constructs a validated feed over the source. A zero maxAge selects
// DefaultMaxAge.
func NewFeed(source Source, maxAge uint64) *Feed {
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	return &Feed{source: source, maxAge: maxAge}
}

// Price returns the freshest valid observation for the asset, judged against
// the supplied current time.
func (f *Feed) Price(asset token.AssetID, now uint64) (PriceData, error) {
	if f == nil || f.source == nil {
		return PriceData{}, ErrPriceUnavailable
	}
	data, ok := f.source.LastPrice(asset)
	if !ok {
		return PriceData{}, ErrPriceUnavailable
	}
	if data.Price == nil || data.Price.Sign() <= 0 {
		return PriceData{}, ErrInvalidPrice
	}
	if data.Timestamp+f.maxAge < now {
		return PriceData{}, ErrStalePrice
	}
	return data.Clone(), nil
}

// Decimals reports the decimal count the source quotes prices in.
func (f *Feed) Decimals() uint32 {
	if f == nil || f.source == nil {
		return 0
	}
	return f.source.Decimals()
}

// Static is an in-memory Source holding manually supplied observations. It is
// the deterministic stand-in for the external price contracts in tests and at
// bootstrap.
type Static struct {
	mu       sync.RWMutex
	decimals uint32
	history  map[string][]PriceData
}

// NewStatic constructs an empty manual source quoting at the given decimals.
func NewStatic(decimals uint32) *Static {
	return &Static{decimals: decimals, history: make(map[string][]PriceData)}
}

// Set records an observation for the asset. Observations are expected in
// non-decreasing timestamp order.
func (s *Static) Set(asset token.AssetID, price *big.Int, timestamp uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := asset.Key()
	entry := PriceData{Timestamp: timestamp}
	if price != nil {
		entry.Price = new(big.Int).Set(price)
	}
	s.history[key] = append(s.history[key], entry)
}

// Delete removes every observation for the asset. Used by tests to simulate an
// oracle outage.
func (s *Static) Delete(asset token.AssetID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, asset.Key())
}

// LastPrice implements Source.
func (s *Static) LastPrice(asset token.AssetID) (PriceData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[asset.Key()]
	if len(entries) == 0 {
		return PriceData{}, false
	}
	return entries[len(entries)-1].Clone(), true
}

// PriceAt implements Source: the freshest observation at or before timestamp.
func (s *Static) PriceAt(asset token.AssetID, timestamp uint64) (PriceData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[asset.Key()]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Timestamp <= timestamp {
			return entries[i].Clone(), true
		}
	}
	return PriceData{}, false
}

// Decimals implements Source.
func (s *Static) Decimals() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decimals
}
