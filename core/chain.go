// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package core

import (
	"context"
	"math/big"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/order"
	"github.com/shopspring/decimal"
)

// Family distinguishes the account-model chain families the tx builders
// support.
type Family int

const (
	FamilyEvm Family = iota
	FamilySolana
)

// Chain is one configured destination (and source) chain registered with the
// core: its adapter, its client and the operator addresses on it.
type Chain interface {
	Start() error // Start performs chain-specific init (lookup tables, allowances)
	Stop()
	Id() order.ChainId
	Name() string
	Family() Family
	Adapter() Adapter
	Client() Client
	Payload() Payload
	Beneficiary() order.Address
	UnlockAuthority() order.Address
	ConfirmationCap() uint64
}

// Adapter sends transactions and reports operator balances on one chain.
type Adapter interface {
	SendTransaction(ctx context.Context, tx *Transaction, logger log15.Logger) (string, error)
	GetBalance(ctx context.Context, token order.Address) (*big.Int, error)
	Address() order.Address
	Connection() interface{} // opaque RPC handle, passed through to the chain client
}

// Transaction is a chain-agnostic envelope for a built transaction. Raw
// carries the chain-native form when the builder produced one.
type Transaction struct {
	ChainId order.ChainId
	To      order.Address
	Value   *big.Int
	Data    []byte
	Raw     interface{}
}

// Fees is the output of the taker flow cost estimation: what fulfilling and
// later unlocking one order costs the operator.
type Fees struct {
	// ExecutionFee is the amount needed to execute the unlock relay on the
	// source side, denominated in the give chain's native token.
	ExecutionFee *big.Int
	// FulfillCostUsd and UnlockCostUsd are execution cost estimates before
	// batch amortization.
	FulfillCostUsd decimal.Decimal
	UnlockCostUsd  decimal.Decimal
	// RewardA/RewardB are passthrough reward amounts used when the source
	// chain is the non-account-model chain; zero elsewhere.
	RewardA *big.Int
	RewardB *big.Int
}

// Rewards is the pair forwarded into an unlock submission.
type Rewards struct {
	RewardA *big.Int
	RewardB *big.Int
}

// UnlockEntry is one fulfilled order awaiting its cross-chain unlock,
// together with the fee context pre-computed during fulfillment.
type UnlockEntry struct {
	OrderId      order.ID
	Order        *order.Order
	ExecutionFee *big.Int
	Rewards      Rewards
}

// Client builds transactions and answers order state queries for one chain.
type Client interface {
	GetTakeOrderStatus(ctx context.Context, id order.ID) (order.ChainStatus, error)
	GetGiveOrderStatus(ctx context.Context, id order.ID) (order.ChainStatus, error)

	// GetAmountToSend converts a fee total on the give chain into the amount
	// that must accompany the unlock submission on the take chain.
	GetAmountToSend(ctx context.Context, takeChain, giveChain order.ChainId, feeTotal *big.Int) (*big.Int, error)
	GetTakerFlowCost(ctx context.Context, o *order.Order, giveNativePrice, takeNativePrice decimal.Decimal) (*Fees, error)

	// PreswapAndFulfillOrder combines the reserve-to-take swap and the
	// fulfill into a single transaction. slippageBps is the route slippage
	// already accounted for by the pre-swap; the client's own slippage
	// buffer must be zero.
	PreswapAndFulfillOrder(ctx context.Context, o *order.Order, id order.ID, reserveDstToken order.Address, slippageBps uint32, payload Payload) (*Transaction, error)
	FulfillOrder(ctx context.Context, o *order.Order, id order.ID, payload Payload) (*Transaction, error)

	// SendUnlockOrder builds one transaction unlocking every entry towards
	// the beneficiary on the entries' shared source chain.
	SendUnlockOrder(ctx context.Context, entries []UnlockEntry, beneficiary order.Address, executionFee *big.Int, rewards Rewards, payload Payload) (*Transaction, error)
}

// PriceService quotes USD per whole token unit. Implementations must be safe
// for concurrent calls.
type PriceService interface {
	GetPrice(ctx context.Context, chain order.ChainId, token order.Address) (decimal.Decimal, error)
}

// SwapQuote is a route quote from the swap connector.
type SwapQuote struct {
	AmountOut   *big.Int
	SlippageBps uint32
}

// SwapConnector quotes reserve-token-to-take-token swaps on a chain. Safe for
// concurrent calls.
type SwapConnector interface {
	GetSwapQuote(ctx context.Context, chain order.ChainId, fromToken, toToken order.Address, amountIn *big.Int) (*SwapQuote, error)
}

// OrderProcessor consumes feed events for one destination chain. Process
// must return quickly; heavy work happens on the processor's own worker.
type OrderProcessor interface {
	Process(ev *order.Event)
	Stop()
}

// Hooks is the notification sink. Calls never block the caller.
type Hooks interface {
	Notify(ctx context.Context, msg string)
}
