// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package evm

import (
	"context"
	"math/big"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/order"
	"github.com/crosslane/taker/pkg/keystore"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

var _ core.Chain = &Chain{}

// maxAllowance marks an already-granted unbounded approval.
var maxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Chain is one EVM-family chain: connection, adapter, client and the
// operator addresses on it.
type Chain struct {
	cfg     *Config
	conn    *ethclient.Client
	adapter *Adapter
	client  *Client
	buckets []order.TokensBucket
	log     log15.Logger
	stop    chan struct{}
}

func InitializeChain(cfg *Config, buckets []order.TokensBucket, logger log15.Logger) (*Chain, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	key, err := keystore.EcdsaFromHex(cfg.TakerKey)
	if err != nil {
		return nil, errors.Wrapf(err, "chain %s taker key", cfg.Name)
	}

	conn, err := ethclient.Dial(cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", cfg.Endpoint)
	}

	return &Chain{
		cfg:     cfg,
		conn:    conn,
		adapter: NewAdapter(cfg, conn, key),
		client:  NewClient(cfg, conn),
		buckets: buckets,
		log:     logger,
		stop:    make(chan struct{}),
	}, nil
}

func (c *Chain) Id() order.ChainId     { return c.cfg.Id }
func (c *Chain) Name() string          { return c.cfg.Name }
func (c *Chain) Family() core.Family   { return core.FamilyEvm }
func (c *Chain) Adapter() core.Adapter { return c.adapter }
func (c *Chain) Client() core.Client   { return c.client }

func (c *Chain) Payload() core.Payload {
	return core.EvmPayload{
		Conn:            c.conn,
		UnlockAuthority: c.cfg.UnlockAuthority,
	}
}

func (c *Chain) Beneficiary() order.Address     { return c.cfg.Beneficiary }
func (c *Chain) UnlockAuthority() order.Address { return c.cfg.UnlockAuthority }
func (c *Chain) ConfirmationCap() uint64        { return c.cfg.ConfirmationCap }

// Start grants the forwarder and the PMM spending rights over every bucket
// token held on this chain. Approval is idempotent; tokens already approved
// are skipped.
func (c *Chain) Start() error {
	ctx := context.Background()
	spenders := []common.Address{c.cfg.Forwarder, c.cfg.Pmm}
	for _, bucket := range c.buckets {
		for _, token := range bucket[c.cfg.Id] {
			for _, spender := range spenders {
				if (spender == common.Address{}) {
					continue
				}
				if err := c.approve(ctx, token, spender); err != nil {
					return errors.Wrapf(err, "approve %s for %s", token.Hex(), spender)
				}
			}
		}
	}
	return nil
}

func (c *Chain) Stop() {
	close(c.stop)
	c.conn.Close()
}

func (c *Chain) approve(ctx context.Context, token order.Address, spender common.Address) error {
	tokenAddr := common.BytesToAddress(token)
	owner := common.BytesToAddress(c.adapter.Address())

	input, err := erc20Abi.Pack("allowance", owner, spender)
	if err != nil {
		return err
	}
	out, err := c.conn.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: input}, nil)
	if err != nil {
		return errors.Wrap(err, "allowance call")
	}
	res, err := erc20Abi.Unpack("allowance", out)
	if err != nil {
		return err
	}
	current := res[0].(*big.Int)
	// Half the max still outlives the process; anything above it was granted
	// by a previous run.
	if current.Cmp(new(big.Int).Rsh(maxAllowance, 1)) > 0 {
		c.log.Debug("Allowance already granted", "token", token.Hex(), "spender", spender)
		return nil
	}

	approveInput, err := erc20Abi.Pack("approve", spender, maxAllowance)
	if err != nil {
		return err
	}
	hash, err := c.adapter.SendTransaction(ctx, &core.Transaction{
		ChainId: c.cfg.Id,
		To:      token,
		Data:    approveInput,
	}, c.log)
	if err != nil {
		return err
	}
	c.log.Info("Approved bucket token", "token", token.Hex(), "spender", spender, "tx", hash)
	return nil
}
