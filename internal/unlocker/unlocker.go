// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package unlocker

import (
	"context"
	"math/big"
	"sync"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/order"
	"github.com/pkg/errors"
)

// Lookup resolves another configured chain, used to find the source chain's
// beneficiary when a batch flushes.
type Lookup func(id order.ChainId) core.Chain

// BatchUnlocker accumulates fulfilled orders of one destination chain,
// keyed by source chain, and flushes a single cross-chain unlock transaction
// once a batch fills. Partial batches stay resident until filled; a failed
// flush re-prepends its entries so the next call retries.
type BatchUnlocker struct {
	chain     core.Chain
	lookup    Lookup
	batchSize int
	log       log15.Logger

	mu      sync.Mutex
	batches map[order.ChainId][]core.UnlockEntry
}

func New(chain core.Chain, lookup Lookup, batchSize int, logger log15.Logger) *BatchUnlocker {
	if batchSize < constant.MinBatchUnlockSize || batchSize > constant.MaxBatchUnlockSize {
		batchSize = constant.DefaultBatchUnlockSize
	}
	return &BatchUnlocker{
		chain:     chain,
		lookup:    lookup,
		batchSize: batchSize,
		log:       logger,
		batches:   make(map[order.ChainId][]core.UnlockEntry),
	}
}

// UnlockOrder appends the fulfilled order to its source chain's batch and
// flushes when the batch fills.
func (b *BatchUnlocker) UnlockOrder(ctx context.Context, id order.ID, o *order.Order, executionFee *big.Int, rewards core.Rewards) {
	b.mu.Lock()
	src := o.Give.ChainId
	b.batches[src] = append(b.batches[src], core.UnlockEntry{
		OrderId:      id,
		Order:        o,
		ExecutionFee: executionFee,
		Rewards:      rewards,
	})
	pending := len(b.batches[src])
	b.mu.Unlock()

	b.log.Info("Order awaiting unlock", "order", id, "src", src, "pending", pending, "batchSize", b.batchSize)
	if pending >= b.batchSize {
		if err := b.flush(ctx, src); err != nil {
			b.log.Error("Batch unlock failed, batch retained", "src", src, "err", err)
		}
	}
}

// Pending returns the current batch depth for a source chain.
func (b *BatchUnlocker) Pending(src order.ChainId) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches[src])
}

// flush drains the first batchSize entries for src and submits one unlock
// transaction on the destination chain.
func (b *BatchUnlocker) flush(ctx context.Context, src order.ChainId) error {
	b.mu.Lock()
	queue := b.batches[src]
	if len(queue) < b.batchSize {
		b.mu.Unlock()
		return nil
	}
	drained := make([]core.UnlockEntry, b.batchSize)
	copy(drained, queue[:b.batchSize])
	b.batches[src] = queue[b.batchSize:]
	b.mu.Unlock()

	err := b.submit(ctx, src, drained)
	if err != nil {
		// Re-prepend in original order; the next UnlockOrder retries.
		b.mu.Lock()
		b.batches[src] = append(drained, b.batches[src]...)
		b.mu.Unlock()
		return errors.Wrap(constant.ErrUnlockSendFailed, err.Error())
	}
	return nil
}

func (b *BatchUnlocker) submit(ctx context.Context, src order.ChainId, entries []core.UnlockEntry) error {
	srcChain := b.lookup(src)
	if srcChain == nil {
		return errors.Errorf("source chain %d not configured", src)
	}

	feeTotal := new(big.Int)
	rewards := core.Rewards{RewardA: new(big.Int), RewardB: new(big.Int)}
	for _, e := range entries {
		if e.ExecutionFee != nil {
			feeTotal.Add(feeTotal, e.ExecutionFee)
		}
		if e.Rewards.RewardA != nil {
			rewards.RewardA.Add(rewards.RewardA, e.Rewards.RewardA)
		}
		if e.Rewards.RewardB != nil {
			rewards.RewardB.Add(rewards.RewardB, e.Rewards.RewardB)
		}
	}

	client := b.chain.Client()
	tx, err := client.SendUnlockOrder(ctx, entries, srcChain.Beneficiary(), feeTotal, rewards, b.chain.Payload())
	if err != nil {
		return errors.Wrap(err, "build unlock tx")
	}
	if tx.Value == nil {
		amount, err := client.GetAmountToSend(ctx, b.chain.Id(), src, feeTotal)
		if err != nil {
			return errors.Wrap(err, "amount to send")
		}
		tx.Value = amount
	}

	hash, err := b.chain.Adapter().SendTransaction(ctx, tx, b.log)
	if err != nil {
		return errors.Wrap(err, "send unlock tx")
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.OrderId.Hex())
	}
	b.log.Info("Submitted batch unlock", "src", src, "count", len(entries), "tx", hash, "orders", ids)
	return nil
}
