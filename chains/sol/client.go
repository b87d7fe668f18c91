// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package sol

import (
	"context"
	"encoding/binary"
	"math/big"

	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/order"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Instruction discriminators of the PMM program.
const (
	ixFulfillOrder = iota + 1
	ixPreswapAndFulfillOrder
	ixSendUnlockOrder
)

const (
	lamportsPerSignature = 5000
	stateRentLamports    = 2039280 // rent-exempt minimum of an order-state account
	lamportsPerSol       = 1e9
)

var (
	seedTakeOrderState = []byte("take_order_state")
	seedGiveOrderState = []byte("give_order_state")
)

// Client builds PMM program transactions on Solana. Fulfill transactions
// reference many accounts and only fit under the packet limit through the
// address lookup table resolved at startup.
type Client struct {
	cfg    *Config
	client *rpc.Client

	// Lookup table contents, loaded once by Chain.Start.
	tableAddresses solana.PublicKeySlice
}

func NewClient(cfg *Config, client *rpc.Client) *Client {
	return &Client{cfg: cfg, client: client}
}

func (c *Client) statePda(seed []byte, id order.ID) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{seed, id[:]}, c.cfg.Program)
	return pda, err
}

func (c *Client) orderStatus(ctx context.Context, seed []byte, id order.ID) (order.ChainStatus, error) {
	pda, err := c.statePda(seed, id)
	if err != nil {
		return order.ChainStatusUnknown, err
	}
	info, err := c.client.GetAccountInfoWithOpts(ctx, pda, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if err == rpc.ErrNotFound {
			return order.ChainStatusNotSet, nil
		}
		return order.ChainStatusUnknown, errors.Wrap(err, "get state account")
	}
	if info == nil || info.Value == nil {
		return order.ChainStatusNotSet, nil
	}
	data := info.Value.Data.GetBinary()
	if len(data) == 0 {
		return order.ChainStatusNotSet, nil
	}
	// First byte of the state account is the status tag.
	return order.ChainStatus(data[0]), nil
}

func (c *Client) GetTakeOrderStatus(ctx context.Context, id order.ID) (order.ChainStatus, error) {
	return c.orderStatus(ctx, seedTakeOrderState, id)
}

func (c *Client) GetGiveOrderStatus(ctx context.Context, id order.ID) (order.ChainStatus, error) {
	return c.orderStatus(ctx, seedGiveOrderState, id)
}

func (c *Client) GetAmountToSend(ctx context.Context, takeChain, giveChain order.ChainId, feeTotal *big.Int) (*big.Int, error) {
	if feeTotal == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(feeTotal), nil
}

// GetTakerFlowCost prices the fulfill and unlock legs in USD and computes
// the source-side execution fee plus the reward passthroughs the program
// expects on unlock.
func (c *Client) GetTakerFlowCost(ctx context.Context, o *order.Order, giveNativePrice, takeNativePrice decimal.Decimal) (*core.Fees, error) {
	fulfillLamports := int64(lamportsPerSignature + stateRentLamports)
	unlockLamports := int64(lamportsPerSignature + stateRentLamports)

	lamportsToUsd := func(l int64, nativePrice decimal.Decimal) decimal.Decimal {
		return decimal.NewFromInt(l).
			Div(decimal.NewFromInt(lamportsPerSol)).
			Mul(nativePrice)
	}

	return &core.Fees{
		ExecutionFee:   big.NewInt(unlockLamports),
		FulfillCostUsd: lamportsToUsd(fulfillLamports, takeNativePrice),
		UnlockCostUsd:  lamportsToUsd(unlockLamports, giveNativePrice),
		RewardA:        big.NewInt(lamportsPerSignature),
		RewardB:        big.NewInt(stateRentLamports),
	}, nil
}

// buildTransaction assembles a transaction against the lookup table so the
// heavy account lists stay within the packet limit.
func (c *Client) buildTransaction(ctx context.Context, wallet solana.PublicKey, ix solana.Instruction) (*solana.Transaction, error) {
	recent, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, errors.Wrap(err, "latest blockhash")
	}

	opts := []solana.TransactionOption{solana.TransactionPayer(wallet)}
	if !c.cfg.LookupTable.IsZero() && len(c.tableAddresses) > 0 {
		opts = append(opts, solana.TransactionAddressTables(map[solana.PublicKey]solana.PublicKeySlice{
			c.cfg.LookupTable: c.tableAddresses,
		}))
	}

	return solana.NewTransaction([]solana.Instruction{ix}, recent.Value.Blockhash, opts...)
}

func (c *Client) payloadWallet(payload core.Payload) (solana.PublicKey, error) {
	p, ok := payload.(core.SolanaPayload)
	if !ok {
		return solana.PublicKey{}, errors.New("solana client requires a solana payload")
	}
	return solana.PublicKeyFromBytes(p.TakerWallet), nil
}

func (c *Client) FulfillOrder(ctx context.Context, o *order.Order, id order.ID, payload core.Payload) (*core.Transaction, error) {
	return c.fulfill(ctx, o, id, nil, 0, payload)
}

func (c *Client) PreswapAndFulfillOrder(ctx context.Context, o *order.Order, id order.ID, reserveDstToken order.Address, slippageBps uint32, payload core.Payload) (*core.Transaction, error) {
	return c.fulfill(ctx, o, id, reserveDstToken, slippageBps, payload)
}

func (c *Client) fulfill(ctx context.Context, o *order.Order, id order.ID, reserveDstToken order.Address, slippageBps uint32, payload core.Payload) (*core.Transaction, error) {
	wallet, err := c.payloadWallet(payload)
	if err != nil {
		return nil, err
	}
	state, err := c.statePda(seedTakeOrderState, id)
	if err != nil {
		return nil, err
	}

	disc := byte(ixFulfillOrder)
	data := make([]byte, 0, 1+32+8+4)
	if reserveDstToken != nil {
		disc = byte(ixPreswapAndFulfillOrder)
	}
	data = append(data, disc)
	data = append(data, id[:]...)
	var amount [8]byte
	binary.LittleEndian.PutUint64(amount[:], o.Take.Amount.Uint64())
	data = append(data, amount[:]...)
	if reserveDstToken != nil {
		data = append(data, solana.PublicKeyFromBytes(reserveDstToken).Bytes()...)
		var slip [4]byte
		binary.LittleEndian.PutUint32(slip[:], slippageBps)
		data = append(data, slip[:]...)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(state, true, false),
		solana.NewAccountMeta(solana.PublicKeyFromBytes(o.Take.TokenAddress), false, false),
		solana.NewAccountMeta(solana.PublicKeyFromBytes(o.Receiver), true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	ix := solana.NewInstruction(c.cfg.Program, accounts, data)

	tx, err := c.buildTransaction(ctx, wallet, ix)
	if err != nil {
		return nil, err
	}
	return &core.Transaction{ChainId: c.cfg.Id, Raw: tx}, nil
}

// SendUnlockOrder emits the cross-chain unlock message. Solana sources do
// not batch, but the entry list shape is kept so the builder serves both
// policies.
func (c *Client) SendUnlockOrder(ctx context.Context, entries []core.UnlockEntry, beneficiary order.Address, executionFee *big.Int, rewards core.Rewards, payload core.Payload) (*core.Transaction, error) {
	if len(entries) == 0 {
		return nil, errors.New("empty unlock batch")
	}
	wallet, err := c.payloadWallet(payload)
	if err != nil {
		return nil, err
	}

	if executionFee == nil {
		executionFee = new(big.Int)
	}
	data := make([]byte, 0, 1+2+len(entries)*32+len(beneficiary)+8)
	data = append(data, byte(ixSendUnlockOrder))
	var count [2]byte
	binary.LittleEndian.PutUint16(count[:], uint16(len(entries)))
	data = append(data, count[:]...)
	for _, e := range entries {
		data = append(data, e.OrderId[:]...)
	}
	var fee [8]byte
	binary.LittleEndian.PutUint64(fee[:], executionFee.Uint64())
	data = append(data, fee[:]...)
	for _, r := range []*big.Int{rewards.RewardA, rewards.RewardB} {
		var buf [8]byte
		if r != nil {
			binary.LittleEndian.PutUint64(buf[:], r.Uint64())
		}
		data = append(data, buf[:]...)
	}
	data = append(data, beneficiary...)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	for _, e := range entries {
		state, err := c.statePda(seedGiveOrderState, e.OrderId)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, solana.NewAccountMeta(state, true, false))
	}

	tx, err := c.buildTransaction(ctx, wallet, solana.NewInstruction(c.cfg.Program, accounts, data))
	if err != nil {
		return nil, err
	}
	return &core.Transaction{ChainId: c.cfg.Id, Value: new(big.Int).Set(executionFee), Raw: tx}, nil
}
