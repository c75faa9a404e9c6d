// Package storage persists exchange state in Pebble: custody balances,
// orders, the cancelled/filled sets, the fee percent, and the full event log.
// Every exchange mutation lands as one atomic batch, so on-disk state is
// all-or-nothing exactly like the in-memory state.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sbhlabs/tokendex/pkg/exchange"
)

// Store is the Pebble-backed persistence layer.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Batch starts a new atomic write batch.
func (s *Store) Batch() exchange.Batch {
	return &writeBatch{batch: s.db.NewBatch()}
}

var _ exchange.Store = (*Store)(nil)

// writeBatch collects one mutation's writes. Set errors are deferred to
// Commit, which is where Pebble surfaces them anyway.
type writeBatch struct {
	batch *pebble.Batch
	err   error
}

func (b *writeBatch) SetBalance(token, account common.Address, amount int64) {
	b.set(balanceKey(token, account), encodeInt64(amount))
}

func (b *writeBatch) PutOrder(o exchange.Order) {
	data, err := json.Marshal(o)
	if err != nil {
		b.fail(fmt.Errorf("marshal order %d: %w", o.ID, err))
		return
	}
	b.set(orderKey(o.ID), data)
}

func (b *writeBatch) MarkCancelled(id uint64) {
	b.set(cancelledKey(id), []byte{1})
}

func (b *writeBatch) MarkFilled(id uint64) {
	b.set(filledKey(id), []byte{1})
}

func (b *writeBatch) SetOrdersCount(n uint64) {
	b.set([]byte(keyOrdersCount), encodeUint64(n))
}

func (b *writeBatch) SetFeePercent(p int64) {
	b.set([]byte(keyFeePercent), encodeInt64(p))
}

func (b *writeBatch) AppendEvent(e exchange.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.fail(fmt.Errorf("marshal event %d: %w", e.Seq, err))
		return
	}
	b.set(eventKey(e.Seq), data)
	b.set([]byte(keyEventSeq), encodeUint64(e.Seq))
}

func (b *writeBatch) Commit() error {
	if b.err != nil {
		b.batch.Close()
		return b.err
	}
	return b.batch.Commit(pebble.Sync)
}

func (b *writeBatch) set(key, val []byte) {
	if b.err != nil {
		return
	}
	if err := b.batch.Set(key, val, nil); err != nil {
		b.fail(err)
	}
}

func (b *writeBatch) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// LoadSnapshot reads the entire persisted exchange state. A fresh database
// yields an empty snapshot with defaultFee.
func (s *Store) LoadSnapshot(defaultFee int64) (*exchange.Snapshot, error) {
	snap := &exchange.Snapshot{
		Balances:   make(map[common.Address]map[common.Address]int64),
		Orders:     make(map[uint64]exchange.Order),
		Cancelled:  make(map[uint64]bool),
		Filled:     make(map[uint64]bool),
		FeePercent: defaultFee,
	}

	if err := s.scan(prefixBalance, func(key, val []byte) error {
		token, account, err := balanceKeyAddrs(key)
		if err != nil {
			return err
		}
		accounts, ok := snap.Balances[token]
		if !ok {
			accounts = make(map[common.Address]int64)
			snap.Balances[token] = accounts
		}
		accounts[account] = decodeInt64(val)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan(prefixOrder, func(key, val []byte) error {
		var o exchange.Order
		if err := json.Unmarshal(val, &o); err != nil {
			return fmt.Errorf("unmarshal order at %s: %w", key, err)
		}
		snap.Orders[o.ID] = o
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan(prefixCancelled, func(key, _ []byte) error {
		id, err := idFromKey(key, prefixCancelled)
		if err != nil {
			return err
		}
		snap.Cancelled[id] = true
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan(prefixFilled, func(key, _ []byte) error {
		id, err := idFromKey(key, prefixFilled)
		if err != nil {
			return err
		}
		snap.Filled[id] = true
		return nil
	}); err != nil {
		return nil, err
	}

	if val, ok, err := s.get([]byte(keyOrdersCount)); err != nil {
		return nil, err
	} else if ok {
		snap.OrdersCount = decodeUint64(val)
	}
	if val, ok, err := s.get([]byte(keyFeePercent)); err != nil {
		return nil, err
	} else if ok {
		snap.FeePercent = decodeInt64(val)
	}
	if val, ok, err := s.get([]byte(keyEventSeq)); err != nil {
		return nil, err
	} else if ok {
		snap.EventSeq = decodeUint64(val)
	}

	return snap, nil
}

// Events returns up to limit events with seq > after, in feed order.
// limit <= 0 means no limit.
func (s *Store) Events(after uint64, limit int) ([]exchange.Event, error) {
	lower := eventKey(after + 1)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound([]byte(prefixEvent)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := []exchange.Event{}
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(events) >= limit {
			break
		}
		var e exchange.Event
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("unmarshal event at %s: %w", iter.Key(), err)
		}
		events = append(events, e)
	}
	return events, iter.Error()
}

func (s *Store) scan(prefix string, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func encodeInt64(v int64) []byte {
	return encodeUint64(uint64(v))
}

func decodeInt64(b []byte) int64 {
	return int64(decodeUint64(b))
}
