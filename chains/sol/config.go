// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package sol

import (
	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/order"
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
)

// Config is the parsed Solana chain configuration.
type Config struct {
	Name            string
	Id              order.ChainId
	Endpoint        string
	Program         solana.PublicKey // PMM program id
	LookupTable     solana.PublicKey // address lookup table for the large fulfill txs
	Beneficiary     order.Address
	UnlockAuthority order.Address
	TakerKey        string // base58 private key
	ConfirmationCap uint64
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return errors.Wrap(constant.ErrConfigInvalid, "missing rpc endpoint")
	}
	if c.TakerKey == "" {
		return errors.Wrapf(constant.ErrConfigInvalid, "chain %s missing key material", c.Name)
	}
	if len(c.Beneficiary) == 0 {
		return errors.Wrapf(constant.ErrConfigInvalid, "chain %s missing beneficiary", c.Name)
	}
	if c.Program.IsZero() {
		return errors.Wrapf(constant.ErrConfigInvalid, "chain %s missing pmm program", c.Name)
	}
	// Finality on Solana is fixed; anything above it can never be observed.
	c.ConfirmationCap = constant.SolanaConfirmationCap
	return nil
}
