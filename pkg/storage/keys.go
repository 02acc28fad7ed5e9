package storage

import (
	"fmt"

	"github.com/lumendark/darkpool/pkg/types"
)

// Key schema for the snapshot keyspace, spec.md §6's "Persisted state
// layout". Adapted from the teacher's pkg/app/core/account/keys.go
// address/symbol-keyed scheme (acc:/pos:/ord:/trade:) to the venue's
// five state-owning tables:
//
//	bal:<address>:<asset>  -> Balance
//	ord:<orderID>          -> Order
//	msg:<messageID>        -> Message
//	dep:<tx_hash>:<event_index> -> (empty value, presence is the record)
//	cursor                 -> ingestor's ledger-sequence checkpoint
const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixMessage = "msg:"
	prefixDeposit = "dep:"
	keyCursor     = "cursor"
)

func balanceKey(user types.Address, asset types.Asset) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, user.Hex(), asset))
}

func balancePrefix(user types.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, user.Hex()))
}

// orderKey is zero-padded to 20 digits so a prefix scan over prefixOrder
// yields orders in ID order.
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func messageKey(id string) []byte {
	return []byte(prefixMessage + id)
}

// depositSeenKey is keyed on the exact (tx_hash, event_index) pair the
// executor's deposit dedup set tracks.
func depositSeenKey(key string) []byte {
	return []byte(prefixDeposit + key)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
