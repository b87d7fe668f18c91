// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package swapper

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/internal/client"
	"github.com/crosslane/taker/order"
	"github.com/pkg/errors"
)

const UrlOfQuote = "/quote"

// Aggregator is the DEX-aggregator connector used to price the reserve
// token against the take token ahead of a pre-swap fulfill.
type Aggregator struct {
	domain string
}

func New(domain string) *Aggregator {
	return &Aggregator{domain: domain}
}

type quoteResp struct {
	Errno   int    `json:"errno"`
	Message string `json:"message"`
	Data    struct {
		AmountOut   string `json:"amountOut"`
		SlippageBps uint32 `json:"slippageBps"`
	} `json:"data"`
}

func (a *Aggregator) GetSwapQuote(ctx context.Context, chain order.ChainId, fromToken, toToken order.Address, amountIn *big.Int) (*core.SwapQuote, error) {
	query := fmt.Sprintf("chainId=%d&fromToken=%s&toToken=%s&amount=%s",
		chain, fromToken.Hex(), toToken.Hex(), amountIn.String())
	body, err := client.JsonGet(ctx, fmt.Sprintf("%s%s?%s", a.domain, UrlOfQuote, query))
	if err != nil {
		return nil, errors.Wrap(err, "quote request failed")
	}
	data := quoteResp{}
	if err = json.Unmarshal(body, &data); err != nil {
		return nil, errors.Wrap(err, "unmarshal quote resp")
	}
	if data.Errno != 0 {
		return nil, errors.Errorf("code %d, mess:%s", data.Errno, data.Message)
	}

	amountOut, ok := new(big.Int).SetString(data.Data.AmountOut, 10)
	if !ok {
		return nil, errors.Errorf("bad amountOut %q", data.Data.AmountOut)
	}
	return &core.SwapQuote{
		AmountOut:   amountOut,
		SlippageBps: data.Data.SlippageBps,
	}, nil
}
