// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package price

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crosslane/taker/internal/client"
	"github.com/crosslane/taker/order"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// HttpService quotes token prices from an HTTP oracle. The endpoint answers
// GET <host>/price?chainId=<id>&token=<hex> with {"price":"<usd>"}; an empty
// token parameter means the chain's native token.
type HttpService struct {
	host string
}

func NewHttpService(host string) *HttpService {
	return &HttpService{host: host}
}

type priceResp struct {
	Price   string `json:"price"`
	Errno   int    `json:"errno"`
	Message string `json:"message"`
}

func (s *HttpService) GetPrice(ctx context.Context, chain order.ChainId, token order.Address) (decimal.Decimal, error) {
	uri := fmt.Sprintf("%s/price?chainId=%d&token=%s", s.host, chain, token.Hex())
	body, err := client.JsonGet(ctx, uri)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "price request failed")
	}
	ret := priceResp{}
	if err = json.Unmarshal(body, &ret); err != nil {
		return decimal.Zero, errors.Wrap(err, "unmarshal price resp")
	}
	if ret.Errno != 0 {
		return decimal.Zero, errors.Errorf("price oracle code %d, mess:%s", ret.Errno, ret.Message)
	}

	p, err := decimal.NewFromString(ret.Price)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse price")
	}
	return p, nil
}
