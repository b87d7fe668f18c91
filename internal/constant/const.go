// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package constant

import (
	"errors"
	"time"
)

const (
	TxRetryInterval = time.Second * 5 // TxRetryInterval Time between retrying a failed tx
	HttpTimeOut     = 10 * time.Second
	Agent           = "taker-go"
)

var (
	FulfillPollLimit = 10 // FulfillPollLimit Maximum take-status polls after a fulfill send
	FulfillPollStep  = time.Second * 2
)

const (
	DefaultMinProfitabilityBps = 4
	DefaultMempoolInterval     = time.Second * 60
	DefaultBatchUnlockSize     = 10
	MinBatchUnlockSize         = 1
	MaxBatchUnlockSize         = 10

	DefaultMempoolMaxAge  = time.Hour * 24
	DefaultMempoolMaxSize = 1024

	DefaultEvmConfirmationCap = 256
	SolanaConfirmationCap     = 32
)

// Per-order fatal errors, the order is dropped.
var (
	ErrNoReserveCoverage  = errors.New("no reserve bucket spans both chains")
	ErrAlreadyFulfilled   = errors.New("order already fulfilled on destination")
	ErrNotCreatedOnSource = errors.New("order not in created state on source")
	ErrFulfillNotObserved = errors.New("fulfillment not observed within poll budget")
)

// Soft errors, the order is deferred to the mempool.
var (
	ErrUnprofitable        = errors.New("order below profitability threshold")
	ErrInsufficientReserve = errors.New("insufficient reserve balance")
	ErrFulfillSendFailed   = errors.New("fulfill transaction send failed")
)

var (
	ErrUnlockSendFailed = errors.New("unlock transaction send failed")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

var (
	FeedReconnectBase = time.Second
	FeedReconnectMax  = time.Second * 30
	PriceCacheTTL     = time.Second * 10
)
