// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/order"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

const (
	ChainTypeEvm    = "evm"
	ChainTypeSolana = "solana"

	ProcessorUniversal = "universalProcessor"
	ProcessorStrict    = "strictProcessor"
)

// Threshold is one confirmation gate point: orders worth at least the USD
// amount wait for at least the given source confirmations.
type Threshold struct {
	ThresholdAmountInUSD  uint64 `json:"thresholdAmountInUSD"`
	MinBlockConfirmations uint64 `json:"minBlockConfirmations"`
}

type Constraints struct {
	RequiredConfirmationsThresholds []Threshold `json:"requiredConfirmationsThresholds,omitempty"`
}

// RawChainConfig is one entry of the chains array, straight from JSON.
type RawChainConfig struct {
	Name                      string            `json:"name"`
	Type                      string            `json:"type"`
	Id                        uint64            `json:"id"`
	Endpoint                  string            `json:"chainRpc"`
	Beneficiary               string            `json:"beneficiary"`
	TakerPrivateKey           string            `json:"takerPrivateKey"`
	UnlockAuthorityPrivateKey string            `json:"unlockAuthorityPrivateKey"`
	UnlockAuthority           string            `json:"unlockAuthority"`
	Disabled                  bool              `json:"disabled,omitempty"`
	OrderProcessor            string            `json:"orderProcessor,omitempty"`
	ApprovedTakeTokens        []string          `json:"approvedTakeTokens,omitempty"`
	SrcWhitelistOrderIds      []string          `json:"srcWhitelistOrderIds,omitempty"`
	DstWhitelistOrderIds      []string          `json:"dstWhitelistOrderIds,omitempty"`
	Environment               string            `json:"environment,omitempty"`
	Constraints               Constraints       `json:"constraints,omitempty"`
	Opts                      map[string]string `json:"opts,omitempty"`
}

type UniversalParams struct {
	MinProfitabilityBps int `json:"minProfitabilityBps,omitempty"`
	MempoolIntervalSec  int `json:"mempoolInterval,omitempty"`
	BatchUnlockSize     int `json:"batchUnlockSize,omitempty"`
}

type Other struct {
	Env       string `json:"env,omitempty"`
	HooksUrl  string `json:"hooks,omitempty"`
	Blocklist string `json:"blocklist,omitempty"`
}

// Config is the top-level daemon configuration.
type Config struct {
	OrderFeed         string                `json:"orderFeed"`
	Buckets           []map[string][]string `json:"buckets"`
	TokenPriceService string                `json:"tokenPriceService"`
	PriceCacheRedis   string                `json:"priceCacheRedis,omitempty"`
	SwapAggregator    string                `json:"swapAggregator,omitempty"`
	OrderProcessor    string                `json:"orderProcessor,omitempty"`
	Params            UniversalParams       `json:"orderProcessorParams,omitempty"`
	Chains            []RawChainConfig      `json:"chains"`
	Other             Other                 `json:"other,omitempty"`
}

func (p UniversalParams) MempoolInterval() time.Duration {
	if p.MempoolIntervalSec <= 0 {
		return constant.DefaultMempoolInterval
	}
	return time.Duration(p.MempoolIntervalSec) * time.Second
}

// GetConfig loads and validates the JSON configuration named by --config.
func GetConfig(ctx *cli.Context) (*Config, error) {
	path := ctx.String(ConfigFileFlag.Name)
	if path == "" {
		return nil, errors.Wrap(constant.ErrConfigInvalid, "no config file supplied")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := &Config{}
	if err = json.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies the startup rules: known chain types, key material
// present, batch size in range, confirmation thresholds monotonic and under
// the chain's hard cap.
func (c *Config) Validate() error {
	if c.OrderFeed == "" {
		return errors.Wrap(constant.ErrConfigInvalid, "orderFeed is required")
	}
	if c.TokenPriceService == "" {
		return errors.Wrap(constant.ErrConfigInvalid, "tokenPriceService is required")
	}
	if c.OrderProcessor == "" {
		c.OrderProcessor = ProcessorUniversal
	}
	if err := validateProcessor(c.OrderProcessor); err != nil {
		return err
	}
	if c.Params.BatchUnlockSize == 0 {
		c.Params.BatchUnlockSize = constant.DefaultBatchUnlockSize
	}
	if c.Params.BatchUnlockSize < constant.MinBatchUnlockSize || c.Params.BatchUnlockSize > constant.MaxBatchUnlockSize {
		return errors.Wrapf(constant.ErrConfigInvalid, "batchUnlockSize %d outside [%d,%d]",
			c.Params.BatchUnlockSize, constant.MinBatchUnlockSize, constant.MaxBatchUnlockSize)
	}
	if c.Params.MinProfitabilityBps == 0 {
		c.Params.MinProfitabilityBps = constant.DefaultMinProfitabilityBps
	}

	seen := make(map[uint64]struct{}, len(c.Chains))
	for i := range c.Chains {
		ch := &c.Chains[i]
		if err := ch.validate(); err != nil {
			return err
		}
		if _, dup := seen[ch.Id]; dup {
			return errors.Wrapf(constant.ErrConfigInvalid, "duplicate chain id %d", ch.Id)
		}
		seen[ch.Id] = struct{}{}
	}
	return nil
}

func validateProcessor(name string) error {
	switch name {
	case ProcessorUniversal, ProcessorStrict:
		return nil
	default:
		return errors.Wrapf(constant.ErrConfigInvalid, "unknown orderProcessor %q", name)
	}
}

func (ch *RawChainConfig) validate() error {
	switch ch.Type {
	case ChainTypeEvm, ChainTypeSolana:
	default:
		return errors.Wrapf(constant.ErrConfigInvalid, "chain %s: unsupported type %q", ch.Name, ch.Type)
	}
	if ch.TakerPrivateKey == "" {
		return errors.Wrapf(constant.ErrConfigInvalid, "chain %s: takerPrivateKey is required", ch.Name)
	}
	if ch.Beneficiary == "" {
		return errors.Wrapf(constant.ErrConfigInvalid, "chain %s: beneficiary is required", ch.Name)
	}
	if ch.OrderProcessor != "" {
		if err := validateProcessor(ch.OrderProcessor); err != nil {
			return err
		}
	}
	return ValidateThresholds(ch.Constraints.RequiredConfirmationsThresholds, ch.ConfirmationCap())
}

// ConfirmationCap is the chain's hard bound on block confirmations.
func (ch *RawChainConfig) ConfirmationCap() uint64 {
	if ch.Type == ChainTypeSolana {
		return constant.SolanaConfirmationCap
	}
	return constant.DefaultEvmConfirmationCap
}

// ValidateThresholds enforces ascending USD points with strictly increasing
// confirmation requirements, all under the hard cap.
func ValidateThresholds(points []Threshold, cap uint64) error {
	for i, p := range points {
		if p.MinBlockConfirmations >= cap {
			return errors.Wrapf(constant.ErrConfigInvalid,
				"threshold %d: %d confirmations exceeds hard cap %d", i, p.MinBlockConfirmations, cap)
		}
		if i == 0 {
			continue
		}
		prev := points[i-1]
		if p.ThresholdAmountInUSD <= prev.ThresholdAmountInUSD {
			return errors.Wrapf(constant.ErrConfigInvalid,
				"threshold %d: USD points must be ascending", i)
		}
		if p.MinBlockConfirmations <= prev.MinBlockConfirmations {
			return errors.Wrapf(constant.ErrConfigInvalid,
				"threshold %d: confirmations must be strictly increasing", i)
		}
	}
	return nil
}

// ParseBuckets converts the raw bucket maps into the typed form. Addresses
// are hex with a 0x prefix or base58 otherwise.
func (c *Config) ParseBuckets() ([]order.TokensBucket, error) {
	buckets := make([]order.TokensBucket, 0, len(c.Buckets))
	for i, raw := range c.Buckets {
		bucket := make(order.TokensBucket, len(raw))
		for chainStr, tokens := range raw {
			chainId, err := strconv.ParseUint(chainStr, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(constant.ErrConfigInvalid, "bucket %d: bad chain id %q", i, chainStr)
			}
			addrs := make([]order.Address, 0, len(tokens))
			for _, t := range tokens {
				a, err := ParseAddress(t)
				if err != nil {
					return nil, errors.Wrapf(err, "bucket %d", i)
				}
				addrs = append(addrs, a)
			}
			bucket[order.ChainId(chainId)] = addrs
		}
		if bucket.IsEmpty() {
			return nil, errors.Wrapf(constant.ErrConfigInvalid, "bucket %d covers no chain", i)
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// ParseAddress accepts 0x-prefixed hex or base58.
func ParseAddress(s string) (order.Address, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		a := order.AddressFromHex(s)
		if len(a) == 0 {
			return nil, errors.Wrapf(constant.ErrConfigInvalid, "bad hex address %q", s)
		}
		return a, nil
	}
	a, err := order.AddressFromBase58(s)
	if err != nil {
		return nil, errors.Wrapf(constant.ErrConfigInvalid, "bad base58 address %q", s)
	}
	return a, nil
}
