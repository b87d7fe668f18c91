// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package processor

import (
	"context"
	"sync"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/order"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Strict is the deterministic policy: the only admission criterion beyond
// the filter chain is an approved take token. No profitability gate, no
// mempool; an admitted order is fulfilled and unlocked immediately and
// individually, trading unlock amortization for predictability.
type Strict struct {
	chain          core.Chain
	lookup         Lookup
	approvedTokens []order.Address
	log            log15.Logger

	mu        sync.Mutex
	locked    bool
	inFlight  order.ID
	primary   *orderedSet
	secondary *orderedSet
	pending   map[order.ID]*order.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStrict(chain core.Chain, lookup Lookup, approvedTokens []order.Address, logger log15.Logger) *Strict {
	ctx, cancel := context.WithCancel(context.Background())
	return &Strict{
		chain:          chain,
		lookup:         lookup,
		approvedTokens: approvedTokens,
		log:            logger,
		primary:        newOrderedSet(),
		secondary:      newOrderedSet(),
		pending:        make(map[order.ID]*order.Event),
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (p *Strict) Process(ev *order.Event) {
	if ev == nil {
		return
	}
	switch ev.Status {
	case order.StatusCreated:
		p.admit(ev, p.primary)
	case order.StatusArchivalCreated:
		p.admit(ev, p.secondary)
	case order.StatusFulfilled, order.StatusCancelled:
		p.mu.Lock()
		p.primary.Remove(ev.OrderId)
		p.secondary.Remove(ev.OrderId)
		delete(p.pending, ev.OrderId)
		p.mu.Unlock()
	default:
		p.log.Trace("Strict processor ignoring event", "order", ev.OrderId, "status", ev.Status)
	}
}

func (p *Strict) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Strict) admit(ev *order.Event, queue *orderedSet) {
	p.mu.Lock()
	if p.locked {
		if ev.OrderId != p.inFlight {
			queue.Push(ev.OrderId)
			p.pending[ev.OrderId] = ev
		}
		p.mu.Unlock()
		return
	}
	p.locked = true
	p.inFlight = ev.OrderId
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ev)
}

func (p *Strict) run(ev *order.Event) {
	defer p.wg.Done()
	for {
		if ev != nil {
			if err := p.processOrder(ev); err != nil {
				p.log.Info("Order dropped", "order", ev.OrderId, "err", err)
			}
		}

		p.mu.Lock()
		next, ok := p.primary.Pop()
		if !ok {
			next, ok = p.secondary.Pop()
		}
		if !ok {
			p.locked = false
			p.inFlight = order.ID{}
			p.mu.Unlock()
			return
		}
		p.inFlight = next
		ev = p.pending[next]
		delete(p.pending, next)
		p.mu.Unlock()

		if ev == nil {
			continue
		}
		select {
		case <-p.ctx.Done():
			return
		default:
		}
	}
}

func (p *Strict) processOrder(ev *order.Event) error {
	o := ev.Order
	id := ev.OrderId
	if o == nil {
		return errors.New("event without order payload")
	}

	if !p.approved(o.Take.TokenAddress) {
		return errors.Errorf("take token %s not approved", o.Take.TokenAddress.Hex())
	}

	takeStatus, err := p.chain.Client().GetTakeOrderStatus(p.ctx, id)
	if err != nil {
		return errors.Wrap(err, "take status")
	}
	if takeStatus != order.ChainStatusNotSet && takeStatus != order.ChainStatusUnknown {
		return errors.Wrapf(constant.ErrAlreadyFulfilled, "take status %s", takeStatus)
	}

	tx, err := p.chain.Client().FulfillOrder(p.ctx, o, id, p.chain.Payload())
	if err != nil {
		return errors.Wrap(err, "build fulfill")
	}
	hash, err := p.chain.Adapter().SendTransaction(p.ctx, tx, p.log)
	if err != nil {
		return errors.Wrap(err, "send fulfill")
	}
	p.log.Info("Submitted fulfill", "order", id, "tx", hash)

	// Immediate, unbatched unlock.
	src := p.lookup(o.Give.ChainId)
	if src == nil {
		return errors.Errorf("source chain %d not configured", o.Give.ChainId)
	}
	fees, err := p.chain.Client().GetTakerFlowCost(p.ctx, o, decimal.Zero, decimal.Zero)
	if err != nil {
		return errors.Wrap(err, "taker flow cost")
	}
	entries := []core.UnlockEntry{{OrderId: id, Order: o, ExecutionFee: fees.ExecutionFee}}
	unlockTx, err := p.chain.Client().SendUnlockOrder(p.ctx, entries, src.Beneficiary(), fees.ExecutionFee, core.Rewards{}, p.chain.Payload())
	if err != nil {
		return errors.Wrap(err, "build unlock")
	}
	unlockHash, err := p.chain.Adapter().SendTransaction(p.ctx, unlockTx, p.log)
	if err != nil {
		return errors.Wrap(err, "send unlock")
	}
	p.log.Info("Submitted unlock", "order", id, "tx", unlockHash)
	return nil
}

func (p *Strict) approved(token order.Address) bool {
	for _, t := range p.approvedTokens {
		if t.Equal(token) {
			return true
		}
	}
	return false
}
