// Package ident defines the protocol's identifier types: 160-bit account
// addresses and 256-bit record ids, with deterministic id derivation.
package ident

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	AddressSize = 20
	IDSize      = 32
)

var (
	ErrBadAddress = errors.New("malformed address")
	ErrBadID      = errors.New("malformed id")
)

// Address identifies an account.
type Address [AddressSize]byte

// ID identifies an escrow or a stream.
type ID [IDSize]byte

// ParseAddress reads a 40-digit hex address, with or without a 0x prefix.
func ParseAddress(s string) (Address, error) {
	b, err := parseHex(s, AddressSize)
	if err != nil {
		return Address{}, ErrBadAddress
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseID reads a 64-digit hex id, with or without a 0x prefix.
func ParseID(s string) (ID, error) {
	b, err := parseHex(s, IDSize)
	if err != nil {
		return ID{}, ErrBadID
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

func (id ID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// DeriveID produces a record id from the creating parties, an opaque
// correlation token and a per-creation nonce. The derivation is a blake2b
// hash, so ids are collision-resistant without a shared counter and can be
// re-derived for idempotency checks.
func DeriveID(payer, counterpart Address, token string, nonce uint64) ID {
	buf := make([]byte, 0, 2*AddressSize+len(token)+8)
	buf = append(buf, payer[:]...)
	buf = append(buf, counterpart[:]...)
	buf = append(buf, token...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	return ID(blake2b.Sum256(buf))
}

// AddressFromTag derives a well-known address from a human-readable tag.
// Used for protocol-internal accounts such as the escrow vault.
func AddressFromTag(tag string) Address {
	sum := blake2b.Sum256([]byte(tag))
	var a Address
	copy(a[:], sum[:AddressSize])
	return a
}

func parseHex(s string, size int) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, errors.New("wrong length")
	}
	return b, nil
}
