// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package core

import "github.com/crosslane/taker/order"

// Payload carries the chain-variant-specific inputs of the fulfill and
// unlock builders. It is a closed sum over the supported chain families.
type Payload interface {
	payloadVariant()
}

// EvmPayload is the account-model variant: the live RPC handle plus the
// authority allowed to issue unlocks.
type EvmPayload struct {
	Conn            interface{}
	UnlockAuthority order.Address
}

func (EvmPayload) payloadVariant() {}

// SolanaPayload is the non-account-model variant: the taker wallet public
// key and the address lookup table initialized at startup.
type SolanaPayload struct {
	TakerWallet order.Address
	LookupTable order.Address
}

func (SolanaPayload) payloadVariant() {}
