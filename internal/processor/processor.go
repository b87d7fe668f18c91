// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/internal/estimator"
	"github.com/crosslane/taker/internal/mempool"
	"github.com/crosslane/taker/internal/unlocker"
	"github.com/crosslane/taker/order"
	"github.com/pkg/errors"
)

// Lookup resolves a configured chain by id; used for give-side queries.
type Lookup func(id order.ChainId) core.Chain

// Config is the universal policy's tuning.
type Config struct {
	MinProfitabilityBps int
	MempoolInterval     time.Duration
	BatchUnlockSize     int
}

// Universal is the per-destination-chain order pipeline: a serialized state
// machine over the feed events of one take chain. At most one order is under
// active processing at any time; everything else waits in the queues or the
// mempool.
type Universal struct {
	cfg     Config
	chain   core.Chain
	lookup  Lookup
	prices  core.PriceService
	swap    core.SwapConnector
	buckets []order.TokensBucket
	batcher *unlocker.BatchUnlocker
	pool    *mempool.Service
	hooks   core.Hooks
	log     log15.Logger

	mu        sync.Mutex
	locked    bool
	inFlight  order.ID
	primary   *orderedSet // live Created events
	secondary *orderedSet // ArchivalCreated replays
	pending   map[order.ID]*order.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewUniversal(cfg Config, chain core.Chain, lookup Lookup, prices core.PriceService,
	swap core.SwapConnector, buckets []order.TokensBucket, batcher *unlocker.BatchUnlocker,
	hooks core.Hooks, logger log15.Logger) *Universal {

	if cfg.MinProfitabilityBps <= 0 {
		cfg.MinProfitabilityBps = constant.DefaultMinProfitabilityBps
	}
	if cfg.BatchUnlockSize == 0 {
		cfg.BatchUnlockSize = constant.DefaultBatchUnlockSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Universal{
		cfg:       cfg,
		chain:     chain,
		lookup:    lookup,
		prices:    prices,
		swap:      swap,
		buckets:   buckets,
		batcher:   batcher,
		hooks:     hooks,
		log:       logger,
		primary:   newOrderedSet(),
		secondary: newOrderedSet(),
		pending:   make(map[order.ID]*order.Event),
		ctx:       ctx,
		cancel:    cancel,
	}
	p.pool = mempool.New(cfg.MempoolInterval, p.Process, logger.New("sub", "mempool"))
	p.pool.Start()
	return p
}

// Mempool exposes the retry ring, mainly to tests.
func (p *Universal) Mempool() *mempool.Service { return p.pool }

// Process absorbs one feed event. It never blocks on chain I/O: live orders
// either start the worker or land in a queue, terminal statuses only mutate
// queue state.
func (p *Universal) Process(ev *order.Event) {
	if ev == nil {
		return
	}
	switch ev.Status {
	case order.StatusCreated:
		p.admit(ev, p.primary)
	case order.StatusArchivalCreated:
		p.admit(ev, p.secondary)
	case order.StatusFulfilled:
		p.forget(ev.OrderId)
		p.forwardUnlock(ev)
	case order.StatusArchivalFulfilled:
		p.forwardUnlock(ev)
	case order.StatusCancelled:
		p.forget(ev.OrderId)
		p.log.Info("Order cancelled, forgotten", "order", ev.OrderId)
	default:
		p.log.Info("Ignoring event with unhandled status", "order", ev.OrderId, "status", ev.Status)
	}
}

func (p *Universal) Stop() {
	p.cancel()
	p.pool.Stop()
	p.wg.Wait()
}

// admit starts processing when idle, otherwise enqueues. Queues are sets,
// so a second enqueue of a busy order id is a no-op.
func (p *Universal) admit(ev *order.Event, queue *orderedSet) {
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

// run drives processOrder for the admitted event, then drains the queues:
// primary before secondary, FIFO within each, until both are empty.
func (p *Universal) run(ev *order.Event) {
	defer p.wg.Done()
	for {
		if ev != nil {
			p.handleResult(ev, p.processOrder(ev))
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
			// No pending context for this id: it sat in both queues and the
			// earlier pop already consumed it. Move on to the next pop.
			continue
		}
		select {
		case <-p.ctx.Done():
			return
		default:
		}
	}
}

// forget clears the order from every local structure. Membership in the
// queues and the pending map are cleared together; the in-flight attempt,
// if any, is left to resolve against chain state.
func (p *Universal) forget(id order.ID) {
	p.mu.Lock()
	p.primary.Remove(id)
	p.secondary.Remove(id)
	delete(p.pending, id)
	p.mu.Unlock()
	p.pool.Delete(id)
}

// forwardUnlock hands a previously fulfilled order straight to the batch
// unlocker. Fee context is unknown for replays; the unlock carries no extra
// execution fee.
func (p *Universal) forwardUnlock(ev *order.Event) {
	if ev.Order == nil {
		p.log.Warn("Fulfilled event without order payload", "order", ev.OrderId)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.batcher.UnlockOrder(p.ctx, ev.OrderId, ev.Order, nil, core.Rewards{})
	}()
}

// handleResult applies the error taxonomy: soft errors defer to the
// mempool, fatal ones drop the order, success and drops both end here.
func (p *Universal) handleResult(ev *order.Event, err error) {
	id := ev.OrderId
	switch {
	case err == nil:
		p.pool.Delete(id)
	case errors.Is(err, constant.ErrUnprofitable),
		errors.Is(err, constant.ErrInsufficientReserve),
		errors.Is(err, constant.ErrFulfillSendFailed):
		p.log.Info("Order deferred", "order", id, "reason", err)
		p.pool.AddOrder(ev)
	case errors.Is(err, constant.ErrFulfillNotObserved):
		p.log.Error("Fulfillment not observed, operator attention needed", "order", id, "err", err)
		p.pool.Delete(id)
		if p.hooks != nil {
			p.hooks.Notify(p.ctx, fmt.Sprintf("order %s: fulfill sent but not observed on chain %d", id, p.chain.Id()))
		}
	default:
		p.log.Info("Order dropped", "order", id, "err", err)
		p.pool.Delete(id)
	}
}

// processOrder runs the admission checks, the profitability and balance
// gates, the fulfill submission and the visibility poll for one order.
// Invoked with the processor lock held by this order.
func (p *Universal) processOrder(ev *order.Event) error {
	o := ev.Order
	id := ev.OrderId
	if o == nil {
		return errors.New("event without order payload")
	}
	log := p.log.New("order", id)

	// Reserve discovery comes first: without a bucket spanning both chains
	// there is nothing to fulfill with, and no RPC is worth spending.
	if order.FindBucket(p.buckets, o.Give.ChainId, o.Take.ChainId) == nil {
		return constant.ErrNoReserveCoverage
	}

	// Take-side status: anything already set means the order was fulfilled
	// (by us or a competitor) or is past fulfillment.
	takeStatus, err := p.chain.Client().GetTakeOrderStatus(p.ctx, id)
	if err != nil {
		return errors.Wrap(constant.ErrFulfillSendFailed, err.Error())
	}
	if takeStatus != order.ChainStatusNotSet && takeStatus != order.ChainStatusUnknown {
		return errors.Wrapf(constant.ErrAlreadyFulfilled, "take status %s", takeStatus)
	}

	// Give-side status: the lock must exist and still be live on source.
	src := p.lookup(o.Give.ChainId)
	if src == nil {
		return errors.Errorf("give chain %d not configured", o.Give.ChainId)
	}
	giveStatus, err := src.Client().GetGiveOrderStatus(p.ctx, id)
	if err != nil {
		return errors.Wrap(constant.ErrFulfillSendFailed, err.Error())
	}
	if giveStatus != order.ChainStatusCreated {
		return errors.Wrapf(constant.ErrNotCreatedOnSource, "give status %s", giveStatus)
	}

	// Profitability and the expected reserve amount. The non-account-model
	// chain does not participate in batching, so unlock cost amortization
	// only applies to pure account-model pairs.
	var batchSize *int
	if p.chain.Family() != core.FamilySolana && src.Family() != core.FamilySolana {
		size := p.cfg.BatchUnlockSize
		batchSize = &size
	}
	est, err := estimator.CalculateExpectedTakeAmount(p.ctx, o, p.cfg.MinProfitabilityBps, estimator.Params{
		Prices:    p.prices,
		Buckets:   p.buckets,
		Swap:      p.swap,
		Client:    p.chain.Client(),
		BatchSize: batchSize,
	}, log)
	if err != nil {
		return err
	}
	if !est.IsProfitable {
		return errors.Wrapf(constant.ErrUnprofitable, "profit %dbps < %dbps", est.ProfitBps, p.cfg.MinProfitabilityBps)
	}

	// Balance gate on the reserve token.
	balance, err := p.chain.Adapter().GetBalance(p.ctx, est.ReserveDstToken)
	if err != nil {
		return errors.Wrap(constant.ErrFulfillSendFailed, err.Error())
	}
	if balance.Cmp(est.RequiredReserveDstAmount) < 0 {
		return errors.Wrapf(constant.ErrInsufficientReserve, "have %s need %s", balance, est.RequiredReserveDstAmount)
	}

	// Build and submit the fulfill. The pre-swap already carries the route
	// slippage, so the builder's internal buffer is overridden to zero by
	// contract.
	var tx *core.Transaction
	if est.ReserveDstToken.Equal(o.Take.TokenAddress) {
		tx, err = p.chain.Client().FulfillOrder(p.ctx, o, id, p.chain.Payload())
	} else {
		tx, err = p.chain.Client().PreswapAndFulfillOrder(p.ctx, o, id, est.ReserveDstToken, est.ReserveToTakeSlippageBps, p.chain.Payload())
	}
	if err != nil {
		return errors.Wrap(constant.ErrFulfillSendFailed, err.Error())
	}

	hash, err := p.chain.Adapter().SendTransaction(p.ctx, tx, log)
	if err != nil {
		return errors.Wrap(constant.ErrFulfillSendFailed, err.Error())
	}
	log.Info("Submitted fulfill", "tx", hash, "reserve", est.ReserveDstToken.Hex(), "required", est.RequiredReserveDstAmount)

	if err := p.awaitFulfillment(id); err != nil {
		return err
	}

	rewards := core.Rewards{}
	if src.Family() == core.FamilySolana {
		rewards = core.Rewards{RewardA: est.Fees.RewardA, RewardB: est.Fees.RewardB}
	}
	p.batcher.UnlockOrder(p.ctx, id, o, est.Fees.ExecutionFee, rewards)
	return nil
}

// awaitFulfillment polls the take-side status until it reads Fulfilled or
// the poll budget runs out.
func (p *Universal) awaitFulfillment(id order.ID) error {
	for i := 0; i < constant.FulfillPollLimit; i++ {
		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-time.After(constant.FulfillPollStep):
		}
		status, err := p.chain.Client().GetTakeOrderStatus(p.ctx, id)
		if err != nil {
			p.log.Debug("Take status poll failed", "order", id, "err", err)
			continue
		}
		if status == order.ChainStatusFulfilled {
			return nil
		}
	}
	return constant.ErrFulfillNotObserved
}
