// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package core

import (
	"sync"

	log "github.com/ChainSafe/log15"
	"github.com/crosslane/taker/internal/filters"
	"github.com/crosslane/taker/order"
)

// registration is one configured chain with its processor and filter lists.
type registration struct {
	chain      Chain
	processor  OrderProcessor
	srcFilters []filters.Filter
	dstFilters []filters.Filter
}

// Executor routes each feed event to the processor of the order's
// destination chain, applying the admission filter chain first. Dispatch
// never waits for processing to complete.
type Executor struct {
	registry map[order.ChainId]*registration
	global   []filters.Filter
	lock     *sync.RWMutex
	log      log.Logger
}

func NewExecutor(logger log.Logger, global []filters.Filter) *Executor {
	return &Executor{
		registry: make(map[order.ChainId]*registration),
		global:   global,
		lock:     &sync.RWMutex{},
		log:      logger,
	}
}

// Listen registers a chain and its processor so Dispatch can route to it.
func (e *Executor) Listen(ch Chain, p OrderProcessor, srcFilters, dstFilters []filters.Filter) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.log.Debug("Registering chain in executor", "id", ch.Id(), "name", ch.Name())
	e.registry[ch.Id()] = &registration{
		chain:      ch,
		processor:  p,
		srcFilters: srcFilters,
		dstFilters: dstFilters,
	}
}

// Dispatch routes one feed event. Unconfigured chains and filtered orders
// are dropped, not errors.
func (e *Executor) Dispatch(ev *order.Event) {
	if ev == nil {
		return
	}

	var (
		giveId order.ChainId
		takeId order.ChainId
	)
	if ev.Order != nil {
		giveId = ev.Order.Give.ChainId
		takeId = ev.Order.Take.ChainId
	}

	e.lock.RLock()
	give := e.registry[giveId]
	take := e.registry[takeId]
	e.lock.RUnlock()

	if ev.Order != nil && (give == nil || take == nil) {
		e.log.Info("Order references unconfigured chain, dropping",
			"order", ev.OrderId, "give", giveId, "take", takeId)
		return
	}

	if ev.Status.Live() {
		if take == nil {
			e.log.Info("Live order without destination, dropping", "order", ev.OrderId)
			return
		}
		ctx := &filters.Context{
			OrderId:     ev.OrderId,
			GiveChainId: giveId,
			TakeChainId: takeId,
			Status:      ev.Status,
			Log:         e.log,
		}
		chain := make([]filters.Filter, 0, len(e.global)+len(take.dstFilters)+len(give.srcFilters))
		chain = append(chain, e.global...)
		chain = append(chain, take.dstFilters...)
		chain = append(chain, give.srcFilters...)
		if !filters.Apply(chain, ev.Order, ctx) {
			return
		}
		take.processor.Process(ev)
		return
	}

	// Terminal and unlock-replay statuses bypass the filter chain; they act
	// on state the processor already holds.
	if take != nil {
		take.processor.Process(ev)
		return
	}
	e.log.Trace("Event without routable destination", "order", ev.OrderId, "status", ev.Status)
}
