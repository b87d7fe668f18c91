// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package sol

import (
	"context"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/order"
	"github.com/crosslane/taker/pkg/keystore"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
)

var _ core.Chain = &Chain{}

// lookup table accounts carry a 56-byte header before the address list.
const lookupTableHeaderLen = 56

type Chain struct {
	cfg     *Config
	conn    *rpc.Client
	adapter *Adapter
	client  *Client
	log     log15.Logger
}

func InitializeChain(cfg *Config, logger log15.Logger) (*Chain, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	key, err := keystore.SolanaFromBase58(cfg.TakerKey)
	if err != nil {
		return nil, errors.Wrapf(err, "chain %s taker key", cfg.Name)
	}

	conn := rpc.New(cfg.Endpoint)
	return &Chain{
		cfg:     cfg,
		conn:    conn,
		adapter: NewAdapter(cfg, conn, key),
		client:  NewClient(cfg, conn),
		log:     logger,
	}, nil
}

func (c *Chain) Id() order.ChainId     { return c.cfg.Id }
func (c *Chain) Name() string          { return c.cfg.Name }
func (c *Chain) Family() core.Family   { return core.FamilySolana }
func (c *Chain) Adapter() core.Adapter { return c.adapter }
func (c *Chain) Client() core.Client   { return c.client }

func (c *Chain) Payload() core.Payload {
	return core.SolanaPayload{
		TakerWallet: c.adapter.Address(),
		LookupTable: order.Address(c.cfg.LookupTable.Bytes()),
	}
}

func (c *Chain) Beneficiary() order.Address     { return c.cfg.Beneficiary }
func (c *Chain) UnlockAuthority() order.Address { return c.cfg.UnlockAuthority }
func (c *Chain) ConfirmationCap() uint64        { return c.cfg.ConfirmationCap }

// Start resolves the address lookup table before any order is accepted;
// fulfill transactions cannot be built without it.
func (c *Chain) Start() error {
	if c.cfg.LookupTable.IsZero() {
		return errors.New("lookup table is required for solana fulfillment")
	}
	ctx := context.Background()
	info, err := c.conn.GetAccountInfo(ctx, c.cfg.LookupTable)
	if err != nil {
		return errors.Wrap(err, "fetch lookup table")
	}
	if info == nil || info.Value == nil {
		return errors.New("lookup table account not found")
	}
	data := info.Value.Data.GetBinary()
	if len(data) < lookupTableHeaderLen {
		return errors.Errorf("lookup table account too short: %d bytes", len(data))
	}

	body := data[lookupTableHeaderLen:]
	addresses := make(solana.PublicKeySlice, 0, len(body)/solana.PublicKeyLength)
	for len(body) >= solana.PublicKeyLength {
		addresses = append(addresses, solana.PublicKeyFromBytes(body[:solana.PublicKeyLength]))
		body = body[solana.PublicKeyLength:]
	}
	c.client.tableAddresses = addresses
	c.log.Info("Loaded address lookup table", "table", c.cfg.LookupTable, "addresses", len(addresses))
	return nil
}

func (c *Chain) Stop() {}
