// Package types holds the vocabulary shared across every darkpool package:
// the asset tag, fixed-point amount/price representation, and order side.
package types

import "github.com/ethereum/go-ethereum/common"

// Scale is the fixed 7-decimal denominator for both Amount and Price.
// price·quantity notional and reservation math both divide by Scale.
const Scale = 10_000_000

// Address identifies a user. The spec describes a 32-byte on-chain public
// key; this implementation follows the teacher's stack and represents it
// as a go-ethereum common.Address (20-byte, secp256k1-derived) so the same
// crypto package verifies both chain transactions and API requests. See
// DESIGN.md "Address representation" for the full rationale.
type Address = common.Address

// Asset is one of the two fungible on-chain assets the venue trades.
type Asset int8

const (
	AssetA Asset = iota
	AssetB
)

func (a Asset) String() string {
	switch a {
	case AssetA:
		return "a"
	case AssetB:
		return "b"
	default:
		return "unknown"
	}
}

// ParseAsset parses the wire representation ("a" or "b") of an asset.
func ParseAsset(s string) (Asset, bool) {
	switch s {
	case "a":
		return AssetA, true
	case "b":
		return AssetB, true
	default:
		return 0, false
	}
}

// Opposite returns the other asset in the fixed A/B pair.
func (a Asset) Opposite() Asset {
	if a == AssetA {
		return AssetB
	}
	return AssetA
}

// Amount is a non-negative integer in base units at Scale precision.
// All ledger and matching arithmetic is integer; no float ever appears
// on these paths.
type Amount int64

// Price is price_num, a positive integer over the implicit Scale
// denominator, interpreted as units of B per unit of A.
type Price int64

// Notional computes floor(price·qty / Scale), the amount of B owed for
// qty of A at this price. This is the one rounding rule used both at
// reservation time and at settlement time — spec.md §9 requires the same
// rounding on both sides so no fractional wei is lost or invented.
func (p Price) Notional(qty Amount) Amount {
	return Amount((int64(p) * int64(qty)) / Scale)
}

// Side is which direction of the book an order rests on.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// ParseSide parses the wire representation ("buy" or "sell") of a side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy":
		return Buy, true
	case "sell":
		return Sell, true
	default:
		return 0, false
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}
