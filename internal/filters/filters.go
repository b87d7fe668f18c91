// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package filters

import (
	"context"
	"strconv"
	"time"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/internal/blacklist"
	"github.com/crosslane/taker/order"
)

// Context is what a filter may consult besides the order itself.
type Context struct {
	OrderId     order.ID
	GiveChainId order.ChainId
	TakeChainId order.ChainId
	Status      order.Status
	Log         log15.Logger
}

// Filter is a pure predicate over an order. An order is admitted only when
// every filter in the chain returns true.
type Filter interface {
	Allow(o *order.Order, ctx *Context) bool
	Name() string
}

// Apply combines filter results by logical AND.
func Apply(chain []Filter, o *order.Order, ctx *Context) bool {
	for _, f := range chain {
		if !f.Allow(o, ctx) {
			if ctx.Log != nil {
				ctx.Log.Debug("Order rejected by filter", "filter", f.Name(), "order", ctx.OrderId)
			}
			return false
		}
	}
	return true
}

// DisableFulfill rejects everything. It is appended automatically when a
// destination chain is marked disabled.
type DisableFulfill struct{}

func (DisableFulfill) Allow(*order.Order, *Context) bool { return false }
func (DisableFulfill) Name() string                      { return "disableFulfill" }

// WhitelistOrderId admits only orders whose computed id is in the set.
type WhitelistOrderId struct {
	ids map[order.ID]struct{}
}

func NewWhitelistOrderId(ids []order.ID) *WhitelistOrderId {
	set := make(map[order.ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return &WhitelistOrderId{ids: set}
}

func (f *WhitelistOrderId) Allow(o *order.Order, _ *Context) bool {
	_, ok := f.ids[order.CalculateId(o)]
	return ok
}

func (f *WhitelistOrderId) Name() string { return "whitelistOrderId" }

// ApprovedTakeToken admits only orders whose take token byte-equals one of
// the approved list. Used by the strict policy.
type ApprovedTakeToken struct {
	tokens []order.Address
}

func NewApprovedTakeToken(tokens []order.Address) *ApprovedTakeToken {
	return &ApprovedTakeToken{tokens: tokens}
}

func (f *ApprovedTakeToken) Allow(o *order.Order, _ *Context) bool {
	for _, t := range f.tokens {
		if t.Equal(o.Take.TokenAddress) {
			return true
		}
	}
	return false
}

func (f *ApprovedTakeToken) Name() string { return "approvedTakeToken" }

// BlockedMaker rejects orders from makers on the external blocklist. The
// screen fails open: an unreachable blocklist service must not halt the
// pipeline.
type BlockedMaker struct{}

func (BlockedMaker) Allow(o *order.Order, ctx *Context) bool {
	if len(o.Maker) == 0 {
		return true
	}
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	blocked, err := blacklist.CheckAccount(ctxTimeout, o.Maker.Hex(), strconv.FormatUint(uint64(o.Give.ChainId), 10))
	if err != nil {
		if ctx.Log != nil {
			ctx.Log.Debug("Blocklist check failed, allowing order", "err", err)
		}
		return true
	}
	return !blocked
}

func (BlockedMaker) Name() string { return "blockedMaker" }

// GiveTokenNotZero drops malformed orders locking the zero amount; cheap
// sanity ahead of any RPC work.
type GiveTokenNotZero struct{}

func (GiveTokenNotZero) Allow(o *order.Order, _ *Context) bool {
	return o.Give.Amount != nil && o.Give.Amount.Sign() > 0
}

func (GiveTokenNotZero) Name() string { return "giveAmountNotZero" }
