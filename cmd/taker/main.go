// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package main

import (
	"os"
	"strconv"

	log "github.com/ChainSafe/log15"
	"github.com/crosslane/taker/chains/evm"
	"github.com/crosslane/taker/chains/sol"
	"github.com/crosslane/taker/config"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/internal/blacklist"
	"github.com/crosslane/taker/internal/feed"
	"github.com/crosslane/taker/internal/filters"
	"github.com/crosslane/taker/internal/price"
	"github.com/crosslane/taker/internal/processor"
	"github.com/crosslane/taker/internal/swapper"
	"github.com/crosslane/taker/internal/unlocker"
	"github.com/crosslane/taker/order"
	"github.com/crosslane/taker/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var app = cli.NewApp()

var cliFlags = []cli.Flag{
	config.ConfigFileFlag,
	config.VerbosityFlag,
}

var (
	Version = "0.9.0"
)

// init initializes CLI
func init() {
	app.Name = "taker"
	app.Usage = "Cross-chain order taker daemon"
	app.Version = Version
	app.EnableBashCompletion = true
	app.Action = run
	app.Flags = append(app.Flags, cliFlags...)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func startLogger(ctx *cli.Context) error {
	logger := log.Root()
	handler := logger.GetHandler()
	var lvl log.Lvl

	if lvlToInt, err := strconv.Atoi(ctx.String(config.VerbosityFlag.Name)); err == nil {
		lvl = log.Lvl(lvlToInt)
	} else if lvl, err = log.LvlFromString(ctx.String(config.VerbosityFlag.Name)); err != nil {
		return err
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, handler))

	return nil
}

func run(ctx *cli.Context) error {
	err := startLogger(ctx)
	if err != nil {
		return err
	}
	log.Info("Starting Taker...")

	cfg, err := config.GetConfig(ctx)
	if err != nil {
		return err
	}

	buckets, err := cfg.ParseBuckets()
	if err != nil {
		return err
	}

	hooks := util.NewHooks(cfg.Other.Env, cfg.Other.HooksUrl, log.Root().New("system", "hooks"))

	var prices core.PriceService = price.NewHttpService(cfg.TokenPriceService)
	if cfg.PriceCacheRedis != "" {
		prices, err = price.NewCachedService(prices, cfg.PriceCacheRedis, log.Root().New("system", "pricecache"))
		if err != nil {
			return errors.Wrap(err, "price cache")
		}
	}
	swap := swapper.New(cfg.SwapAggregator)

	sysErr := make(chan error)
	globalFilters := []filters.Filter{filters.GiveTokenNotZero{}}
	if cfg.Other.Blocklist != "" {
		blacklist.Init(cfg.Other.Blocklist)
		globalFilters = append(globalFilters, filters.BlockedMaker{})
	}
	executor := core.NewExecutor(log.Root().New("system", "executor"), globalFilters)

	// First pass builds every chain so give-side lookups work regardless of
	// declaration order.
	registry := make(map[order.ChainId]core.Chain, len(cfg.Chains))
	for i := range cfg.Chains {
		raw := &cfg.Chains[i]
		logger := log.Root().New("chain", raw.Name)
		chain, err := initChain(raw, buckets, logger)
		if err != nil {
			return err
		}
		registry[chain.Id()] = chain
	}
	lookup := func(id order.ChainId) core.Chain { return registry[id] }

	c := core.NewCore(sysErr, executor, feed.NewClient(
		cfg.OrderFeed,
		feedAuthorities(cfg, registry),
		feedThresholds(cfg),
		hooks,
		log.Root().New("system", "feed"),
	))

	for i := range cfg.Chains {
		raw := &cfg.Chains[i]
		chain := registry[order.ChainId(raw.Id)]
		logger := log.Root().New("chain", raw.Name)

		var proc core.OrderProcessor
		policy := cfg.OrderProcessor
		if raw.OrderProcessor != "" {
			policy = raw.OrderProcessor
		}
		switch policy {
		case config.ProcessorStrict:
			approved, err := parseAddresses(raw.ApprovedTakeTokens)
			if err != nil {
				return err
			}
			proc = processor.NewStrict(chain, lookup, approved, logger.New("system", "processor"))
		default:
			batcher := unlocker.New(chain, lookup, cfg.Params.BatchUnlockSize, logger.New("system", "unlocker"))
			proc = processor.NewUniversal(processor.Config{
				MinProfitabilityBps: cfg.Params.MinProfitabilityBps,
				MempoolInterval:     cfg.Params.MempoolInterval(),
				BatchUnlockSize:     cfg.Params.BatchUnlockSize,
			}, chain, lookup, prices, swap, buckets, batcher, hooks, logger.New("system", "processor"))
		}

		srcFilters, err := whitelistFilters(raw.SrcWhitelistOrderIds)
		if err != nil {
			return err
		}
		dstFilters, err := whitelistFilters(raw.DstWhitelistOrderIds)
		if err != nil {
			return err
		}
		if raw.Disabled {
			dstFilters = append(dstFilters, filters.DisableFulfill{})
		}

		c.AddChain(chain, proc, srcFilters, dstFilters)
	}

	c.Start()
	return nil
}

func initChain(raw *config.RawChainConfig, buckets []order.TokensBucket, logger log.Logger) (core.Chain, error) {
	beneficiary, err := config.ParseAddress(raw.Beneficiary)
	if err != nil {
		return nil, err
	}
	var unlockAuthority order.Address
	if raw.UnlockAuthority != "" {
		if unlockAuthority, err = config.ParseAddress(raw.UnlockAuthority); err != nil {
			return nil, err
		}
	}

	switch raw.Type {
	case config.ChainTypeSolana:
		c := &sol.Config{
			Name:            raw.Name,
			Id:              order.ChainId(raw.Id),
			Endpoint:        raw.Endpoint,
			Beneficiary:     beneficiary,
			UnlockAuthority: unlockAuthority,
			TakerKey:        raw.TakerPrivateKey,
		}
		if v := raw.Opts["pmmProgram"]; v != "" {
			if c.Program, err = solana.PublicKeyFromBase58(v); err != nil {
				return nil, errors.Wrapf(err, "chain %s pmmProgram", raw.Name)
			}
		}
		if v := raw.Opts["lookupTable"]; v != "" {
			if c.LookupTable, err = solana.PublicKeyFromBase58(v); err != nil {
				return nil, errors.Wrapf(err, "chain %s lookupTable", raw.Name)
			}
		}
		return sol.InitializeChain(c, logger)
	default:
		c := &evm.Config{
			Name:            raw.Name,
			Id:              order.ChainId(raw.Id),
			Endpoint:        raw.Endpoint,
			Beneficiary:     beneficiary,
			UnlockAuthority: unlockAuthority,
			TakerKey:        raw.TakerPrivateKey,
			UnlockKey:       raw.UnlockAuthorityPrivateKey,
			ConfirmationCap: raw.ConfirmationCap(),
		}
		if v := raw.Opts["pmm"]; v != "" {
			c.Pmm = common.HexToAddress(v)
		}
		if v := raw.Opts["forwarder"]; v != "" {
			c.Forwarder = common.HexToAddress(v)
		}
		return evm.InitializeChain(c, buckets, logger)
	}
}

func whitelistFilters(ids []string) ([]filters.Filter, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parsed := make([]order.ID, 0, len(ids))
	for _, s := range ids {
		raw := order.AddressFromHex(s)
		if len(raw) != 32 {
			return nil, errors.Errorf("bad order id %q", s)
		}
		parsed = append(parsed, order.IDFromBytes(raw))
	}
	return []filters.Filter{filters.NewWhitelistOrderId(parsed)}, nil
}

func parseAddresses(raw []string) ([]order.Address, error) {
	out := make([]order.Address, 0, len(raw))
	for _, s := range raw {
		a, err := config.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func feedAuthorities(cfg *config.Config, registry map[order.ChainId]core.Chain) []feed.Authority {
	out := make([]feed.Authority, 0, len(cfg.Chains))
	for i := range cfg.Chains {
		raw := &cfg.Chains[i]
		chain := registry[order.ChainId(raw.Id)]
		addr := chain.UnlockAuthority()
		if len(addr) == 0 {
			addr = chain.Adapter().Address()
		}
		out = append(out, feed.Authority{
			ChainId: chain.Id(),
			Address: addr.Hex(),
		})
	}
	return out
}

func feedThresholds(cfg *config.Config) map[order.ChainId][]feed.ThresholdPoint {
	out := make(map[order.ChainId][]feed.ThresholdPoint, len(cfg.Chains))
	for i := range cfg.Chains {
		raw := &cfg.Chains[i]
		points := make([]feed.ThresholdPoint, 0, len(raw.Constraints.RequiredConfirmationsThresholds))
		for _, t := range raw.Constraints.RequiredConfirmationsThresholds {
			points = append(points, feed.ThresholdPoint{
				UsdAmount:             t.ThresholdAmountInUSD,
				MinBlockConfirmations: t.MinBlockConfirmations,
			})
		}
		if len(points) > 0 {
			out[order.ChainId(raw.Id)] = points
		}
	}
	return out
}
