// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package order

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

type ChainId uint64

// Address is a chain-scoped byte string. Equality is byte equality, never
// string-form equality; the same token rendered checksummed and lowercased
// must compare equal.
type Address []byte

func (a Address) Equal(b Address) bool {
	return bytes.Equal(a, b)
}

func (a Address) IsZero() bool {
	for _, b := range a {
		if b != 0 {
			return false
		}
	}
	return true
}

func (a Address) Hex() string {
	return common.Bytes2Hex(a)
}

// Base58 renders the address the way non-account-model chains do.
func (a Address) Base58() string {
	return base58.Encode(a)
}

func AddressFromHex(s string) Address {
	return Address(common.FromHex(s))
}

func AddressFromBase58(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	return Address(raw), nil
}

// ID is the 32-byte content hash of an order payload, deterministic and
// globally unique across chains.
type ID [32]byte

func (id ID) Hex() string {
	return common.Bytes2Hex(id[:])
}

func (id ID) String() string {
	return id.Hex()
}

func IDFromBytes(b []byte) ID {
	var id ID
	copy(id[:], b)
	return id
}

// Offer is one side of an order: a token amount on a chain.
type Offer struct {
	ChainId      ChainId
	TokenAddress Address
	Amount       *big.Int
}

// Order is a user-signed cross-chain swap request: lock Give on the source
// chain, deliver Take on the destination chain.
type Order struct {
	Give Offer
	Take Offer

	// Pass-through metadata consumed by the chain clients.
	Maker                    Address
	Receiver                 Address
	GivePatchAuthority       Address
	OrderAuthorityDst        Address
	AllowedTakerDst          Address
	AllowedCancelBeneficiary Address
	Nonce                    uint64
}

// CalculateId hashes the canonical encoding of the order. The encoding is
// length-prefixed per field so that no two distinct orders collide on a
// shared byte stream.
func CalculateId(o *Order) ID {
	var buf bytes.Buffer

	writeU64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
	writeBytes := func(p []byte) {
		writeU64(uint64(len(p)))
		buf.Write(p)
	}
	writeOffer := func(of Offer) {
		writeU64(uint64(of.ChainId))
		writeBytes(of.TokenAddress)
		amount := of.Amount
		if amount == nil {
			amount = new(big.Int)
		}
		writeBytes(amount.Bytes())
	}

	writeU64(o.Nonce)
	writeOffer(o.Give)
	writeOffer(o.Take)
	writeBytes(o.Maker)
	writeBytes(o.Receiver)
	writeBytes(o.GivePatchAuthority)
	writeBytes(o.OrderAuthorityDst)
	writeBytes(o.AllowedTakerDst)
	writeBytes(o.AllowedCancelBeneficiary)

	return IDFromBytes(crypto.Keccak256(buf.Bytes()))
}
