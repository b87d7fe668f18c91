// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package estimator

import (
	"context"
	"math/big"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/order"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const bpsDenominator = 10000

// Params bundles the shared services the estimation consults.
type Params struct {
	Prices  core.PriceService
	Buckets []order.TokensBucket
	Swap    core.SwapConnector
	Client  core.Client
	// BatchSize amortizes the unlock cost. Nil when either chain does not
	// participate in batching.
	BatchSize *int
}

// Estimation is the outcome of the profitability computation for one order.
type Estimation struct {
	ReserveDstToken          order.Address
	RequiredReserveDstAmount *big.Int
	IsProfitable             bool
	ProfitBps                int64
	ReserveToTakeSlippageBps uint32
	Fees                     *core.Fees
}

// CalculateExpectedTakeAmount computes the reserve token, the reserve amount
// needed on the destination, and whether fulfilling clears the operator's
// margin threshold at live prices.
func CalculateExpectedTakeAmount(ctx context.Context, o *order.Order, minProfitabilityBps int, p Params, logger log15.Logger) (*Estimation, error) {
	bucket := order.FindBucket(p.Buckets, o.Give.ChainId, o.Take.ChainId)
	if bucket == nil {
		return nil, constant.ErrNoReserveCoverage
	}
	reserveDst := bucket.FindFirstToken(o.Take.ChainId)

	givePrice, err := p.Prices.GetPrice(ctx, o.Give.ChainId, o.Give.TokenAddress)
	if err != nil {
		return nil, errors.Wrap(err, "give token price")
	}
	takePrice, err := p.Prices.GetPrice(ctx, o.Take.ChainId, o.Take.TokenAddress)
	if err != nil {
		return nil, errors.Wrap(err, "take token price")
	}
	reservePrice, err := p.Prices.GetPrice(ctx, o.Take.ChainId, reserveDst)
	if err != nil {
		return nil, errors.Wrap(err, "reserve token price")
	}
	giveNative, err := p.Prices.GetPrice(ctx, o.Give.ChainId, nil)
	if err != nil {
		return nil, errors.Wrap(err, "give native price")
	}
	takeNative, err := p.Prices.GetPrice(ctx, o.Take.ChainId, nil)
	if err != nil {
		return nil, errors.Wrap(err, "take native price")
	}

	fees, err := p.Client.GetTakerFlowCost(ctx, o, giveNative, takeNative)
	if err != nil {
		return nil, errors.Wrap(err, "taker flow cost")
	}

	giveUsd := decimal.NewFromBigInt(o.Give.Amount, 0).Mul(givePrice)
	takeUsd := decimal.NewFromBigInt(o.Take.Amount, 0).Mul(takePrice)

	unlockUsd := fees.UnlockCostUsd
	if p.BatchSize != nil && *p.BatchSize > 1 {
		unlockUsd = unlockUsd.Div(decimal.NewFromInt(int64(*p.BatchSize)))
	}
	costUsd := fees.FulfillCostUsd.Add(unlockUsd)

	profitBps := int64(0)
	if giveUsd.Sign() > 0 {
		profitBps = giveUsd.Sub(takeUsd).Sub(costUsd).
			Mul(decimal.NewFromInt(bpsDenominator)).
			Div(giveUsd).IntPart()
	}

	// Reserve amount at par, then the route's slippage on top when a
	// pre-swap is needed.
	required := new(big.Int).Set(o.Take.Amount)
	var slippageBps uint32
	if !reserveDst.Equal(o.Take.TokenAddress) {
		if reservePrice.Sign() <= 0 {
			return nil, errors.New("reserve token price is zero")
		}
		required = takeUsd.Div(reservePrice).Ceil().BigInt()
		quote, err := p.Swap.GetSwapQuote(ctx, o.Take.ChainId, reserveDst, o.Take.TokenAddress, required)
		if err != nil {
			return nil, errors.Wrap(err, "swap quote")
		}
		slippageBps = quote.SlippageBps
		buffer := new(big.Int).Mul(required, big.NewInt(int64(slippageBps)))
		buffer.Div(buffer, big.NewInt(bpsDenominator))
		required.Add(required, buffer)
	}

	est := &Estimation{
		ReserveDstToken:          reserveDst,
		RequiredReserveDstAmount: required,
		IsProfitable:             profitBps >= int64(minProfitabilityBps),
		ProfitBps:                profitBps,
		ReserveToTakeSlippageBps: slippageBps,
		Fees:                     fees,
	}
	logger.Debug("Estimated order", "giveUsd", giveUsd, "takeUsd", takeUsd,
		"costUsd", costUsd, "profitBps", profitBps, "required", required)
	return est, nil
}
