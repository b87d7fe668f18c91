// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	pmmAbi   abi.ABI
	erc20Abi abi.ABI
)

const pmmAbiJson = `[
  {"name":"takeOrderStatus","type":"function","stateMutability":"view","inputs":[{"name":"orderId","type":"bytes32"}],"outputs":[{"name":"status","type":"uint8"}]},
  {"name":"giveOrderStatus","type":"function","stateMutability":"view","inputs":[{"name":"orderId","type":"bytes32"}],"outputs":[{"name":"status","type":"uint8"}]},
  {"name":"fulfillOrder","type":"function","stateMutability":"payable","inputs":[
    {"name":"orderId","type":"bytes32"},
    {"name":"takeToken","type":"address"},
    {"name":"takeAmount","type":"uint256"},
    {"name":"receiver","type":"address"},
    {"name":"unlockAuthority","type":"address"}],"outputs":[]},
  {"name":"preswapAndFulfillOrder","type":"function","stateMutability":"payable","inputs":[
    {"name":"orderId","type":"bytes32"},
    {"name":"reserveToken","type":"address"},
    {"name":"slippageBps","type":"uint32"},
    {"name":"takeToken","type":"address"},
    {"name":"takeAmount","type":"uint256"},
    {"name":"receiver","type":"address"},
    {"name":"unlockAuthority","type":"address"}],"outputs":[]},
  {"name":"sendBatchUnlock","type":"function","stateMutability":"payable","inputs":[
    {"name":"orderIds","type":"bytes32[]"},
    {"name":"beneficiary","type":"bytes"},
    {"name":"giveChainId","type":"uint256"},
    {"name":"executionFee","type":"uint256"}],"outputs":[]}
]`

const erc20AbiJson = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

func init() {
	var err error
	pmmAbi, err = abi.JSON(strings.NewReader(pmmAbiJson))
	if err != nil {
		panic(err)
	}
	erc20Abi, err = abi.JSON(strings.NewReader(erc20AbiJson))
	if err != nil {
		panic(err)
	}
}
