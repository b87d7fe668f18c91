// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package core

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/ChainSafe/log15"
	"github.com/crosslane/taker/internal/filters"
	"github.com/crosslane/taker/order"
)

// Feed is the ingress of order events. It pushes every event it admits into
// the deliver callback, in arrival order.
type Feed interface {
	Start(deliver func(*order.Event)) error
	Stop()
}

type Core struct {
	Registry []Chain
	executor *Executor
	feed     Feed
	log      log.Logger
	sysErr   <-chan error
	stopped  []OrderProcessor
}

func NewCore(sysErr <-chan error, executor *Executor, feed Feed) *Core {
	return &Core{
		Registry: make([]Chain, 0),
		executor: executor,
		feed:     feed,
		log:      log.New("system", "core"),
		sysErr:   sysErr,
	}
}

// AddChain registers the chain and its processor with the executor.
func (c *Core) AddChain(chain Chain, p OrderProcessor, srcFilters, dstFilters []filters.Filter) {
	c.Registry = append(c.Registry, chain)
	c.stopped = append(c.stopped, p)
	c.executor.Listen(chain, p, srcFilters, dstFilters)
}

// Start calls every registered chain's Start method, opens the feed and
// blocks until a fatal error or a signal arrives.
func (c *Core) Start() {
	for _, chain := range c.Registry {
		err := chain.Start()
		if err != nil {
			c.log.Error("failed to start chain", "chain", chain.Id(), "err", err)
			return
		}
		c.log.Info(fmt.Sprintf("Started %s chain", chain.Name()))
	}

	if err := c.feed.Start(c.executor.Dispatch); err != nil {
		c.log.Error("failed to start order feed", "err", err)
		return
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case err := <-c.sysErr:
		c.log.Error("FATAL ERROR. Shutting down.", "err", err)
	case <-sigc:
		c.log.Warn("Interrupt received, shutting down now.")
	}

	c.feed.Stop()
	for _, p := range c.stopped {
		p.Stop()
	}
	for _, chain := range c.Registry {
		chain.Stop()
	}
}

func (c *Core) Errors() <-chan error {
	return c.sysErr
}
