// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package price

import (
	"context"
	"fmt"
	"time"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/order"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// CachedService wraps a price source with a short-lived redis cache so the
// per-order estimation does not hammer the oracle. A cache failure falls
// back to the underlying source.
type CachedService struct {
	inner core.PriceService
	rdb   *redis.Client
	ttl   time.Duration
	log   log15.Logger
}

func NewCachedService(inner core.PriceService, redisUrl string, logger log15.Logger) (*CachedService, error) {
	opt, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, err
	}
	return &CachedService{
		inner: inner,
		rdb:   redis.NewClient(opt),
		ttl:   constant.PriceCacheTTL,
		log:   logger,
	}, nil
}

func cacheKey(chain order.ChainId, token order.Address) string {
	return fmt.Sprintf("taker:price:%d:%s", chain, token.Hex())
}

func (s *CachedService) GetPrice(ctx context.Context, chain order.ChainId, token order.Address) (decimal.Decimal, error) {
	key := cacheKey(chain, token)
	cached, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		if p, perr := decimal.NewFromString(cached); perr == nil {
			return p, nil
		}
	} else if err != redis.Nil {
		s.log.Debug("Price cache read failed", "key", key, "err", err)
	}

	p, err := s.inner.GetPrice(ctx, chain, token)
	if err != nil {
		return decimal.Zero, err
	}
	if serr := s.rdb.Set(ctx, key, p.String(), s.ttl).Err(); serr != nil {
		s.log.Debug("Price cache write failed", "key", key, "err", serr)
	}
	return p, nil
}
