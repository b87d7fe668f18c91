package config

import (
	"testing"

	"github.com/crosslane/taker/internal/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		OrderFeed:         "wss://feed.example/ws",
		TokenPriceService: "https://prices.example",
		Chains: []RawChainConfig{
			{
				Name:            "polygon",
				Type:            ChainTypeEvm,
				Id:              137,
				Endpoint:        "https://polygon.example",
				Beneficiary:     "0x00000000000000000000000000000000000000b1",
				TakerPrivateKey: "0x01",
			},
			{
				Name:            "arbitrum",
				Type:            ChainTypeEvm,
				Id:              42161,
				Endpoint:        "https://arbitrum.example",
				Beneficiary:     "0x00000000000000000000000000000000000000b2",
				TakerPrivateKey: "0x02",
			},
		},
	}
}

func TestValidConfigDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ProcessorUniversal, cfg.OrderProcessor)
	assert.Equal(t, constant.DefaultBatchUnlockSize, cfg.Params.BatchUnlockSize)
	assert.Equal(t, constant.DefaultMinProfitabilityBps, cfg.Params.MinProfitabilityBps)
	assert.Equal(t, constant.DefaultMempoolInterval, cfg.Params.MempoolInterval())
}

func TestNonMonotonicThresholdsRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Chains[0].Constraints.RequiredConfirmationsThresholds = []Threshold{
		{ThresholdAmountInUSD: 100, MinBlockConfirmations: 300},
		{ThresholdAmountInUSD: 1000, MinBlockConfirmations: 256},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, constant.ErrConfigInvalid)
}

func TestThresholdAboveHardCapRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Chains[0].Constraints.RequiredConfirmationsThresholds = []Threshold{
		{ThresholdAmountInUSD: 100, MinBlockConfirmations: 256}, // equals the EVM cap
	}
	assert.ErrorIs(t, cfg.Validate(), constant.ErrConfigInvalid)
}

func TestValidThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Chains[0].Constraints.RequiredConfirmationsThresholds = []Threshold{
		{ThresholdAmountInUSD: 100, MinBlockConfirmations: 12},
		{ThresholdAmountInUSD: 1000, MinBlockConfirmations: 32},
		{ThresholdAmountInUSD: 10000, MinBlockConfirmations: 64},
	}
	assert.NoError(t, cfg.Validate())
}

func TestSolanaCapTighter(t *testing.T) {
	cfg := validConfig()
	cfg.Chains[0].Type = ChainTypeSolana
	cfg.Chains[0].Constraints.RequiredConfirmationsThresholds = []Threshold{
		{ThresholdAmountInUSD: 100, MinBlockConfirmations: 32},
	}
	assert.ErrorIs(t, cfg.Validate(), constant.ErrConfigInvalid)

	cfg.Chains[0].Constraints.RequiredConfirmationsThresholds[0].MinBlockConfirmations = 31
	assert.NoError(t, cfg.Validate())
}

func TestBatchUnlockSizeRange(t *testing.T) {
	for _, size := range []int{-1, 11, 100} {
		cfg := validConfig()
		cfg.Params.BatchUnlockSize = size
		assert.ErrorIs(t, cfg.Validate(), constant.ErrConfigInvalid, "size %d", size)
	}
	for _, size := range []int{1, 5, 10} {
		cfg := validConfig()
		cfg.Params.BatchUnlockSize = size
		assert.NoError(t, cfg.Validate(), "size %d", size)
	}
}

func TestMissingKeyMaterialRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Chains[0].TakerPrivateKey = ""
	assert.ErrorIs(t, cfg.Validate(), constant.ErrConfigInvalid)

	cfg = validConfig()
	cfg.Chains[0].Beneficiary = ""
	assert.ErrorIs(t, cfg.Validate(), constant.ErrConfigInvalid)
}

func TestUnsupportedChainTypeRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Chains[0].Type = "cosmos"
	assert.ErrorIs(t, cfg.Validate(), constant.ErrConfigInvalid)
}

func TestDuplicateChainIdRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Chains[1].Id = cfg.Chains[0].Id
	assert.ErrorIs(t, cfg.Validate(), constant.ErrConfigInvalid)
}

func TestUnknownProcessorRejected(t *testing.T) {
	cfg := validConfig()
	cfg.OrderProcessor = "greedyProcessor"
	assert.ErrorIs(t, cfg.Validate(), constant.ErrConfigInvalid)

	cfg = validConfig()
	cfg.Chains[0].OrderProcessor = "greedyProcessor"
	assert.ErrorIs(t, cfg.Validate(), constant.ErrConfigInvalid)
}

func TestParseBuckets(t *testing.T) {
	cfg := validConfig()
	cfg.Buckets = []map[string][]string{
		{
			"137":   {"0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"},
			"42161": {"0xaf88d065e77c8cc2239327c5edb3a432268e5831", "0xff970a61a04b1ca14834a43f5de4533ebddb5cc8"},
		},
	}
	buckets, err := cfg.ParseBuckets()
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Len(t, buckets[0][137], 1)
	assert.Len(t, buckets[0][42161], 2)
}

func TestParseBucketsRejectsEmpty(t *testing.T) {
	cfg := validConfig()
	cfg.Buckets = []map[string][]string{{}}
	_, err := cfg.ParseBuckets()
	assert.ErrorIs(t, err, constant.ErrConfigInvalid)
}

func TestParseAddress(t *testing.T) {
	hex, err := ParseAddress("0xaf88d065e77c8cc2239327c5edb3a432268e5831")
	require.NoError(t, err)
	assert.Len(t, []byte(hex), 20)

	b58, err := ParseAddress("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	require.NoError(t, err)
	assert.Len(t, []byte(b58), 32)

	_, err = ParseAddress("!!notanaddress")
	assert.Error(t, err)
}
