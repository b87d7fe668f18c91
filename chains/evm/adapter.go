// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/order"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// Adapter owns the taker key for one EVM chain and serializes transaction
// submission on it.
type Adapter struct {
	cfg    *Config
	client *ethclient.Client
	key    *ecdsa.PrivateKey
	from   common.Address

	lock sync.Mutex // one submission at a time keeps nonces ordered
}

func NewAdapter(cfg *Config, client *ethclient.Client, key *ecdsa.PrivateKey) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: client,
		key:    key,
		from:   crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (a *Adapter) Address() order.Address {
	return order.Address(a.from.Bytes())
}

func (a *Adapter) Connection() interface{} {
	return a.client
}

// GetBalance returns the operator's balance of the token; the empty address
// means the native token.
func (a *Adapter) GetBalance(ctx context.Context, token order.Address) (*big.Int, error) {
	if len(token) == 0 || token.IsZero() {
		return a.client.BalanceAt(ctx, a.from, nil)
	}
	input, err := erc20Abi.Pack("balanceOf", a.from)
	if err != nil {
		return nil, err
	}
	to := common.BytesToAddress(token)
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "balanceOf call")
	}
	res, err := erc20Abi.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}

// SendTransaction estimates gas, signs with the taker key and submits.
func (a *Adapter) SendTransaction(ctx context.Context, tx *core.Transaction, logger log15.Logger) (string, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	to := common.BytesToAddress(tx.To)
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := a.client.PendingNonceAt(ctx, a.from)
	if err != nil {
		return "", errors.Wrap(err, "pending nonce")
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", errors.Wrap(err, "suggest gas price")
	}

	msg := ethereum.CallMsg{
		From:     a.from,
		To:       &to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     tx.Data,
	}
	gasLimit, err := a.client.EstimateGas(ctx, msg)
	if err != nil {
		logger.Error("EstimateGas failed sendTx", "error:", err.Error())
		return "", err
	}
	if a.cfg.GasMultiplier > 1 {
		gasPrice = new(big.Int).SetInt64(int64(float64(gasPrice.Int64()) * a.cfg.GasMultiplier))
	}
	if a.cfg.GasLimit != nil && gasLimit > a.cfg.GasLimit.Uint64() {
		gasLimit = a.cfg.GasLimit.Uint64()
	}

	signed, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		Value:    value,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     tx.Data,
	}), types.NewLondonSigner(big.NewInt(int64(a.cfg.Id))), a.key)
	if err != nil {
		return "", errors.Wrap(err, "sign tx")
	}

	if err = a.client.SendTransaction(ctx, signed); err != nil {
		logger.Error("SendTransaction failed", "error:", err.Error())
		return "", err
	}
	logger.Debug("Sent tx", "hash", signed.Hash(), "nonce", nonce, "gasLimit", gasLimit)
	return signed.Hash().Hex(), nil
}
