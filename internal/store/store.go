// Package store persists the protocol state and its audit journal in a
// key-value store. Every mutating protocol call commits one batch holding
// the touched balances, the touched allowance, the touched record, the
// creation nonces and the event describing the mutation, so disk state is
// always a consistent snapshot of some committed mutation.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/mintclaw/paycore/internal/escrow"
	"github.com/mintclaw/paycore/internal/event"
	"github.com/mintclaw/paycore/internal/ident"
	"github.com/mintclaw/paycore/internal/ledger"
	"github.com/mintclaw/paycore/internal/stream"
	"github.com/mintclaw/paycore/pkg/db"
	"github.com/mintclaw/paycore/pkg/db/pebble"
)

const (
	prefixBalance byte = iota + 1
	prefixAllowance
	prefixEscrow
	prefixStream
	prefixEvent
	prefixMeta
)

var (
	metaEscrowNonce = []byte("escrow_nonce")
	metaStreamNonce = []byte("stream_nonce")
)

// Store wraps a KVStore with the protocol's key schema.
type Store struct {
	db db.KVStore
}

func New(kv db.KVStore) *Store {
	return &Store{db: kv}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Mutation is everything one protocol call changed. Only non-nil parts are
// written; the whole mutation commits atomically.
type Mutation struct {
	Balances    []ledger.Entry
	Allowance   *ledger.AllowanceEntry
	Escrow      *escrow.Escrow
	Stream      *stream.Stream
	EscrowNonce *uint64
	StreamNonce *uint64
	Event       *event.Event
}

// Commit writes a mutation in one atomic batch.
func (s *Store) Commit(m Mutation) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, e := range m.Balances {
		if err := batch.Put(balanceKey(e.Addr), e.Value.Bytes()); err != nil {
			return fmt.Errorf("put balance: %w", err)
		}
	}
	if m.Allowance != nil {
		if err := batch.Put(allowanceKey(m.Allowance.Owner, m.Allowance.Spender), m.Allowance.Value.Bytes()); err != nil {
			return fmt.Errorf("put allowance: %w", err)
		}
	}
	if m.Escrow != nil {
		if err := putJSON(batch, recordKey(prefixEscrow, m.Escrow.ID), m.Escrow); err != nil {
			return fmt.Errorf("put escrow: %w", err)
		}
	}
	if m.Stream != nil {
		if err := putJSON(batch, recordKey(prefixStream, m.Stream.ID), m.Stream); err != nil {
			return fmt.Errorf("put stream: %w", err)
		}
	}
	if m.EscrowNonce != nil {
		if err := batch.Put(metaKey(metaEscrowNonce), encodeUint64(*m.EscrowNonce)); err != nil {
			return fmt.Errorf("put escrow nonce: %w", err)
		}
	}
	if m.StreamNonce != nil {
		if err := batch.Put(metaKey(metaStreamNonce), encodeUint64(*m.StreamNonce)); err != nil {
			return fmt.Errorf("put stream nonce: %w", err)
		}
	}
	if m.Event != nil {
		if err := putJSON(batch, eventKey(m.Event.Seq), m.Event); err != nil {
			return fmt.Errorf("put event: %w", err)
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit mutation: %w", err)
	}
	return nil
}

// State is a full snapshot loaded at startup.
type State struct {
	Balances     []ledger.Entry
	Allowances   []ledger.AllowanceEntry
	Escrows      []*escrow.Escrow
	Streams      []*stream.Stream
	EscrowNonce  uint64
	StreamNonce  uint64
	NextEventSeq uint64
}

// Load reads the complete persisted state.
func (s *Store) Load() (*State, error) {
	st := &State{}

	err := s.scan(prefixBalance, func(key, value []byte) error {
		var addr ident.Address
		if len(key) != 1+ident.AddressSize {
			return fmt.Errorf("malformed balance key of length %d", len(key))
		}
		copy(addr[:], key[1:])
		st.Balances = append(st.Balances, ledger.Entry{Addr: addr, Value: new(uint256.Int).SetBytes(value)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}

	err = s.scan(prefixAllowance, func(key, value []byte) error {
		if len(key) != 1+2*ident.AddressSize {
			return fmt.Errorf("malformed allowance key of length %d", len(key))
		}
		var owner, spender ident.Address
		copy(owner[:], key[1:1+ident.AddressSize])
		copy(spender[:], key[1+ident.AddressSize:])
		st.Allowances = append(st.Allowances, ledger.AllowanceEntry{
			Owner:   owner,
			Spender: spender,
			Value:   new(uint256.Int).SetBytes(value),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load allowances: %w", err)
	}

	err = s.scan(prefixEscrow, func(_, value []byte) error {
		rec := &escrow.Escrow{}
		if err := json.Unmarshal(value, rec); err != nil {
			return err
		}
		st.Escrows = append(st.Escrows, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load escrows: %w", err)
	}

	err = s.scan(prefixStream, func(_, value []byte) error {
		rec := &stream.Stream{}
		if err := json.Unmarshal(value, rec); err != nil {
			return err
		}
		st.Streams = append(st.Streams, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load streams: %w", err)
	}

	if st.EscrowNonce, err = s.loadMeta(metaEscrowNonce); err != nil {
		return nil, fmt.Errorf("load escrow nonce: %w", err)
	}
	if st.StreamNonce, err = s.loadMeta(metaStreamNonce); err != nil {
		return nil, fmt.Errorf("load stream nonce: %w", err)
	}

	err = s.scan(prefixEvent, func(key, _ []byte) error {
		if len(key) != 9 {
			return fmt.Errorf("malformed event key of length %d", len(key))
		}
		st.NextEventSeq = binary.BigEndian.Uint64(key[1:]) + 1
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load event sequence: %w", err)
	}

	return st, nil
}

// Events returns up to limit journal entries ending at the newest one, in
// insertion order. limit <= 0 returns the whole journal.
func (s *Store) Events(limit int) ([]event.Event, error) {
	var out []event.Event
	err := s.scan(prefixEvent, func(_, value []byte) error {
		var e event.Event
		if err := json.Unmarshal(value, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) scan(prefix byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIterator([]byte{prefix}, []byte{prefix + 1})
	if err != nil {
		return fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	for iter.Next() {
		value, err := iter.Value()
		if err != nil {
			return fmt.Errorf("read value: %w", err)
		}
		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadMeta(name []byte) (uint64, error) {
	value, err := s.db.Get(metaKey(name))
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("malformed meta value of length %d", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func putJSON(w db.Writer, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.Put(key, data)
}

func balanceKey(addr ident.Address) []byte {
	key := make([]byte, 1+ident.AddressSize)
	key[0] = prefixBalance
	copy(key[1:], addr[:])
	return key
}

func allowanceKey(owner, spender ident.Address) []byte {
	key := make([]byte, 1+2*ident.AddressSize)
	key[0] = prefixAllowance
	copy(key[1:], owner[:])
	copy(key[1+ident.AddressSize:], spender[:])
	return key
}

func recordKey(prefix byte, id ident.ID) []byte {
	key := make([]byte, 1+ident.IDSize)
	key[0] = prefix
	copy(key[1:], id[:])
	return key
}

// eventKey orders the journal by big-endian sequence number so iteration
// yields insertion order.
func eventKey(seq uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixEvent
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

func metaKey(name []byte) []byte {
	return append([]byte{prefixMeta}, name...)
}

func encodeUint64(v uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, v)
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}
