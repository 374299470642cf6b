package token

import (
	"encoding/hex"
	"fmt"
	"strings"

	"rwalend/crypto"
)

// AssetKind discriminates the two ways the pool references a fungible asset.
type AssetKind uint8

const (
	// KindSymbol references a pool-listed debt asset by its ticker symbol
	// (e.g. USDC, XLM). Symbol assets are resolved to a token contract via
	// the pool configuration.
	KindSymbol AssetKind = iota + 1
	// KindContract references an RWA token directly by its contract address.
	KindContract
)

// AssetID is a closed tagged variant identifying a fungible asset. Exactly one
// of Symbol or Contract is set, according to Kind.
type AssetID struct {
	Kind     AssetKind
	Symbol   string
	Contract crypto.Address
}

// SymbolAsset builds an AssetID for a ticker symbol, normalised to upper case.
func SymbolAsset(symbol string) AssetID {
	return AssetID{Kind: KindSymbol, Symbol: strings.ToUpper(strings.TrimSpace(symbol))}
}

// ContractAsset builds an AssetID for an RWA token contract address.
func ContractAsset(contract crypto.Address) AssetID {
	return AssetID{Kind: KindContract, Contract: contract}
}

// Valid reports whether the identifier carries a usable discriminant.
func (a AssetID) Valid() bool {
	switch a.Kind {
	case KindSymbol:
		return a.Symbol != ""
	case KindContract:
		return !a.Contract.IsZero()
	default:
		return false
	}
}

// Equal reports whether two identifiers reference the same asset.
func (a AssetID) Equal(other AssetID) bool {
	if a.Kind != other.Kind {
		return false
	}
	switch a.Kind {
	case KindSymbol:
		return a.Symbol == other.Symbol
	case KindContract:
		return a.Contract.Equal(other.Contract)
	default:
		return false
	}
}

// Key renders a canonical string usable as a map or storage key.
func (a AssetID) Key() string {
	switch a.Kind {
	case KindSymbol:
		return "sym:" + a.Symbol
	case KindContract:
		return "ctr:" + hex.EncodeToString(a.Contract.Bytes())
	default:
		return ""
	}
}

// String renders a human-readable identifier: the ticker for symbol assets and
// the bech32 address for contract assets.
func (a AssetID) String() string {
	switch a.Kind {
	case KindSymbol:
		return a.Symbol
	case KindContract:
		return a.Contract.String()
	default:
		return ""
	}
}

// ParseKey reverses Key. It is used when loading persisted records.
func ParseKey(key string) (AssetID, error) {
	switch {
	case strings.HasPrefix(key, "sym:"):
		symbol := strings.TrimPrefix(key, "sym:")
		if symbol == "" {
			return AssetID{}, fmt.Errorf("empty asset symbol in key %q", key)
		}
		return SymbolAsset(symbol), nil
	case strings.HasPrefix(key, "ctr:"):
		raw, err := hex.DecodeString(strings.TrimPrefix(key, "ctr:"))
		if err != nil {
			return AssetID{}, fmt.Errorf("invalid contract asset key %q: %w", key, err)
		}
		if len(raw) != 20 {
			return AssetID{}, fmt.Errorf("contract asset key %q must hold 20 bytes", key)
		}
		return ContractAsset(crypto.NewAddress(crypto.RWAPrefix, raw)), nil
	default:
		return AssetID{}, fmt.Errorf("unrecognised asset key %q", key)
	}
}
