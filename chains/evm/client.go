// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package evm

import (
	"context"
	"math/big"

	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/order"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	fulfillGasEstimate = 290000
	unlockGasEstimate  = 120000
	weiPerEth          = 1e18
)

// Client builds PMM transactions and answers order state queries on one EVM
// chain.
type Client struct {
	cfg    *Config
	client *ethclient.Client
}

func NewClient(cfg *Config, client *ethclient.Client) *Client {
	return &Client{cfg: cfg, client: client}
}

func (c *Client) orderStatus(ctx context.Context, method string, id order.ID) (order.ChainStatus, error) {
	input, err := pmmAbi.Pack(method, [32]byte(id))
	if err != nil {
		return order.ChainStatusUnknown, err
	}
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.cfg.Pmm, Data: input}, nil)
	if err != nil {
		return order.ChainStatusUnknown, errors.Wrapf(err, "%s call", method)
	}
	res, err := pmmAbi.Unpack(method, out)
	if err != nil {
		return order.ChainStatusUnknown, err
	}
	return order.ChainStatus(res[0].(uint8)), nil
}

func (c *Client) GetTakeOrderStatus(ctx context.Context, id order.ID) (order.ChainStatus, error) {
	return c.orderStatus(ctx, "takeOrderStatus", id)
}

func (c *Client) GetGiveOrderStatus(ctx context.Context, id order.ID) (order.ChainStatus, error) {
	return c.orderStatus(ctx, "giveOrderStatus", id)
}

// GetAmountToSend values a give-chain fee total in take-chain native units.
// The PMM protocol fee is flat per unlock message, so the conversion is the
// fee itself; no per-chain conversion is applied.
func (c *Client) GetAmountToSend(ctx context.Context, takeChain, giveChain order.ChainId, feeTotal *big.Int) (*big.Int, error) {
	if feeTotal == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(feeTotal), nil
}

// GetTakerFlowCost estimates what fulfilling now and unlocking later costs,
// in USD at the supplied native prices, plus the source-side execution fee.
func (c *Client) GetTakerFlowCost(ctx context.Context, o *order.Order, giveNativePrice, takeNativePrice decimal.Decimal) (*core.Fees, error) {
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "suggest gas price")
	}

	fulfillWei := new(big.Int).Mul(gasPrice, big.NewInt(fulfillGasEstimate))
	unlockWei := new(big.Int).Mul(gasPrice, big.NewInt(unlockGasEstimate))

	weiToUsd := func(wei *big.Int, nativePrice decimal.Decimal) decimal.Decimal {
		return decimal.NewFromBigInt(wei, 0).
			Div(decimal.NewFromInt(weiPerEth)).
			Mul(nativePrice)
	}

	return &core.Fees{
		ExecutionFee:   unlockWei,
		FulfillCostUsd: weiToUsd(fulfillWei, takeNativePrice),
		UnlockCostUsd:  weiToUsd(unlockWei, giveNativePrice),
		RewardA:        new(big.Int),
		RewardB:        new(big.Int),
	}, nil
}

func (c *Client) FulfillOrder(ctx context.Context, o *order.Order, id order.ID, payload core.Payload) (*core.Transaction, error) {
	p, ok := payload.(core.EvmPayload)
	if !ok {
		return nil, errors.New("evm client requires an evm payload")
	}
	input, err := pmmAbi.Pack("fulfillOrder",
		[32]byte(id),
		common.BytesToAddress(o.Take.TokenAddress),
		o.Take.Amount,
		common.BytesToAddress(o.Receiver),
		common.BytesToAddress(p.UnlockAuthority),
	)
	if err != nil {
		return nil, errors.Wrap(err, "pack fulfillOrder")
	}
	return &core.Transaction{
		ChainId: c.cfg.Id,
		To:      order.Address(c.cfg.Pmm.Bytes()),
		Data:    input,
	}, nil
}

// PreswapAndFulfillOrder routes through the crosschain forwarder, swapping
// the reserve token into the take token and fulfilling in one transaction.
// The route slippage is passed as-is; the forwarder's internal buffer is
// pinned to zero because the quote already includes it.
func (c *Client) PreswapAndFulfillOrder(ctx context.Context, o *order.Order, id order.ID, reserveDstToken order.Address, slippageBps uint32, payload core.Payload) (*core.Transaction, error) {
	p, ok := payload.(core.EvmPayload)
	if !ok {
		return nil, errors.New("evm client requires an evm payload")
	}
	input, err := pmmAbi.Pack("preswapAndFulfillOrder",
		[32]byte(id),
		common.BytesToAddress(reserveDstToken),
		slippageBps,
		common.BytesToAddress(o.Take.TokenAddress),
		o.Take.Amount,
		common.BytesToAddress(o.Receiver),
		common.BytesToAddress(p.UnlockAuthority),
	)
	if err != nil {
		return nil, errors.Wrap(err, "pack preswapAndFulfillOrder")
	}
	return &core.Transaction{
		ChainId: c.cfg.Id,
		To:      order.Address(c.cfg.Forwarder.Bytes()),
		Data:    input,
	}, nil
}

// SendUnlockOrder carries every entry's unlock in one transaction. Entries
// share a source chain by construction.
func (c *Client) SendUnlockOrder(ctx context.Context, entries []core.UnlockEntry, beneficiary order.Address, executionFee *big.Int, rewards core.Rewards, payload core.Payload) (*core.Transaction, error) {
	if len(entries) == 0 {
		return nil, errors.New("empty unlock batch")
	}
	ids := make([][32]byte, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, [32]byte(e.OrderId))
	}
	if executionFee == nil {
		executionFee = new(big.Int)
	}
	input, err := pmmAbi.Pack("sendBatchUnlock",
		ids,
		[]byte(beneficiary),
		new(big.Int).SetUint64(uint64(entries[0].Order.Give.ChainId)),
		executionFee,
	)
	if err != nil {
		return nil, errors.Wrap(err, "pack sendBatchUnlock")
	}
	return &core.Transaction{
		ChainId: c.cfg.Id,
		To:      order.Address(c.cfg.Pmm.Bytes()),
		Value:   new(big.Int).Set(executionFee),
		Data:    input,
	}, nil
}
