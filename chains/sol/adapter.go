// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package sol

import (
	"context"
	"math/big"
	"sync"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/order"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
)

// Adapter owns the taker keypair on Solana and submits pre-built versioned
// transactions.
type Adapter struct {
	cfg    *Config
	client *rpc.Client
	key    solana.PrivateKey
	wallet solana.PublicKey

	lock sync.Mutex
}

func NewAdapter(cfg *Config, client *rpc.Client, key solana.PrivateKey) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: client,
		key:    key,
		wallet: key.PublicKey(),
	}
}

func (a *Adapter) Address() order.Address {
	return order.Address(a.wallet.Bytes())
}

func (a *Adapter) Connection() interface{} {
	return a.client
}

// GetBalance reads the associated token account, or the wallet's lamports
// for the empty token.
func (a *Adapter) GetBalance(ctx context.Context, token order.Address) (*big.Int, error) {
	if len(token) == 0 || token.IsZero() {
		out, err := a.client.GetBalance(ctx, a.wallet, rpc.CommitmentFinalized)
		if err != nil {
			return nil, errors.Wrap(err, "get lamports")
		}
		return new(big.Int).SetUint64(out.Value), nil
	}

	mint := solana.PublicKeyFromBytes(token)
	ata, _, err := solana.FindAssociatedTokenAddress(a.wallet, mint)
	if err != nil {
		return nil, errors.Wrap(err, "derive ata")
	}
	out, err := a.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentFinalized)
	if err != nil {
		return nil, errors.Wrap(err, "token balance")
	}
	amount, ok := new(big.Int).SetString(out.Value.Amount, 10)
	if !ok {
		return nil, errors.Errorf("bad token amount %q", out.Value.Amount)
	}
	return amount, nil
}

// SendTransaction signs the pre-built transaction and submits it. The
// builder already resolved the lookup table and the blockhash.
func (a *Adapter) SendTransaction(ctx context.Context, tx *core.Transaction, logger log15.Logger) (string, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	raw, ok := tx.Raw.(*solana.Transaction)
	if !ok {
		return "", errors.New("solana adapter requires a pre-built transaction")
	}

	_, err := raw.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(a.wallet) {
			return &a.key
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "sign tx")
	}

	sig, err := a.client.SendTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		logger.Error("SendTransaction failed", "error:", err.Error())
		return "", err
	}
	logger.Debug("Sent tx", "sig", sig)
	return sig.String(), nil
}
