package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/lumendark/darkpool/pkg/book"
	"github.com/lumendark/darkpool/pkg/ledger"
	"github.com/lumendark/darkpool/pkg/message"
	"github.com/lumendark/darkpool/pkg/types"
)

// splitBalanceKey parses "bal:<hex>:<asset>" back into its address and
// asset components.
func splitBalanceKey(key string) (addrHex, asset string, ok bool) {
	rest := strings.TrimPrefix(key, prefixBalance)
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func hexToAddress(hex string) types.Address {
	return common.HexToAddress(hex)
}

// PebbleSnapshotter is the durable Snapshotter, grounded on the teacher's
// pkg/app/core/account/store.go: one Pebble key per record, JSON-encoded,
// synced on every write. Replaying its full keyspace on startup
// reconstructs the Ledger, the Order Book's open orders, the Message
// Store, and the ingestor's cursor exactly as spec.md §6's "Persisted
// state layout" describes.
type PebbleSnapshotter struct {
	db *pebble.DB
}

// NewPebbleSnapshotter opens (or creates) a Pebble database at path.
func NewPebbleSnapshotter(path string) (*PebbleSnapshotter, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble snapshot db: %w", err)
	}
	return &PebbleSnapshotter{db: db}, nil
}

func (s *PebbleSnapshotter) Close() error { return s.db.Close() }

func (s *PebbleSnapshotter) SaveLedger(user types.Address, asset types.Asset, bal ledger.Balance) error {
	data, err := json.Marshal(bal)
	if err != nil {
		return fmt.Errorf("marshal balance: %w", err)
	}
	if err := s.db.Set(balanceKey(user, asset), data, pebble.Sync); err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

// LoadBalances returns every persisted (user, asset) -> Balance pair, for
// reconstructing a Ledger at startup.
func (s *PebbleSnapshotter) LoadBalances() (map[types.Address]map[types.Asset]ledger.Balance, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixBalance),
		UpperBound: keyUpperBound([]byte(prefixBalance)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[types.Address]map[types.Asset]ledger.Balance)
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		addrHex, assetStr, ok := splitBalanceKey(key)
		if !ok {
			continue
		}
		asset, ok := types.ParseAsset(assetStr)
		if !ok {
			continue
		}
		var bal ledger.Balance
		if err := json.Unmarshal(iter.Value(), &bal); err != nil {
			continue
		}
		user := hexToAddress(addrHex)
		byAsset, ok := out[user]
		if !ok {
			byAsset = make(map[types.Asset]ledger.Balance)
			out[user] = byAsset
		}
		byAsset[asset] = bal
	}
	return out, nil
}

func (s *PebbleSnapshotter) SaveOrder(o *book.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (s *PebbleSnapshotter) DeleteOrder(id uint64) error {
	if err := s.db.Delete(orderKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

// LoadOpenOrders returns every persisted resting order, for reconstructing
// the Order Book at startup.
func (s *PebbleSnapshotter) LoadOpenOrders() ([]*book.Order, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixOrder),
		UpperBound: keyUpperBound([]byte(prefixOrder)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []*book.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o book.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue
		}
		orders = append(orders, &o)
	}
	return orders, nil
}

func (s *PebbleSnapshotter) SaveMessage(m *message.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.db.Set(messageKey(m.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// LoadMessages returns every persisted message, for reconstructing the
// Message Store at startup.
func (s *PebbleSnapshotter) LoadMessages() ([]*message.Message, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixMessage),
		UpperBound: keyUpperBound([]byte(prefixMessage)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var messages []*message.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m message.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		messages = append(messages, &m)
	}
	return messages, nil
}

// SaveDepositSeen persists a (tx_hash, event_index) key. The value is
// empty: presence of the key is the entire record.
func (s *PebbleSnapshotter) SaveDepositSeen(key string) error {
	if err := s.db.Set(depositSeenKey(key), nil, pebble.Sync); err != nil {
		return fmt.Errorf("save deposit seen: %w", err)
	}
	return nil
}

// LoadDepositSeen returns every (tx_hash, event_index) key the executor has
// already credited, for reconstructing its dedup set at startup.
func (s *PebbleSnapshotter) LoadDepositSeen() ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixDeposit),
		UpperBound: keyUpperBound([]byte(prefixDeposit)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, strings.TrimPrefix(string(iter.Key()), prefixDeposit))
	}
	return keys, nil
}

func (s *PebbleSnapshotter) SaveCursor(seq uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := s.db.Set([]byte(keyCursor), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// LoadCursor returns the persisted ingestor checkpoint, or (0, false) if
// none has been written yet.
func (s *PebbleSnapshotter) LoadCursor() (uint64, bool, error) {
	val, closer, err := s.db.Get([]byte(keyCursor))
	if err == pebble.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(val), true, nil
}

var _ Snapshotter = (*PebbleSnapshotter)(nil)
