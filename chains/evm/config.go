// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package evm

import (
	"math/big"

	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const (
	DefaultGasLimit      = 1000000
	DefaultGasMultiplier = 1
)

// Config is the parsed EVM chain configuration.
type Config struct {
	Name            string
	Id              order.ChainId
	Endpoint        string
	Pmm             common.Address // destination PMM, take-side order book
	Forwarder       common.Address // crosschain forwarder, pre-swap entry
	Beneficiary     order.Address
	UnlockAuthority order.Address
	TakerKey        string // hex private key
	UnlockKey       string
	GasLimit        *big.Int
	GasMultiplier   float64
	ConfirmationCap uint64
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return errors.Wrap(constant.ErrConfigInvalid, "missing rpc endpoint")
	}
	if c.TakerKey == "" || c.UnlockKey == "" {
		return errors.Wrapf(constant.ErrConfigInvalid, "chain %s missing key material", c.Name)
	}
	if len(c.Beneficiary) == 0 {
		return errors.Wrapf(constant.ErrConfigInvalid, "chain %s missing beneficiary", c.Name)
	}
	if (c.Pmm == common.Address{}) {
		return errors.Wrapf(constant.ErrConfigInvalid, "chain %s missing pmm contract", c.Name)
	}
	if c.ConfirmationCap == 0 {
		c.ConfirmationCap = constant.DefaultEvmConfirmationCap
	}
	if c.GasLimit == nil {
		c.GasLimit = big.NewInt(DefaultGasLimit)
	}
	if c.GasMultiplier == 0 {
		c.GasMultiplier = DefaultGasMultiplier
	}
	return nil
}
