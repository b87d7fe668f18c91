// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package keystore

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/term"
)

const (
	EnvPassword = "KEYSTORE_PASSWORD"
)

var pswCache = make(map[string][]byte)

// EcdsaFromHex loads a secp256k1 key for the account-model chains from its
// raw hex form.
func EcdsaFromHex(raw string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
}

// EcdsaFromFile decrypts a geth-style keystore file.
func EcdsaFromFile(path string) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("key file not found: %s", path)
	}

	var pswd = pswCache[path]
	if len(pswd) == 0 {
		pswd = GetPassword(fmt.Sprintf("Enter password for key %s:", path))
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyFile failed, err:%s", err)
	}
	ret, err := keystore.DecryptKey(file, string(pswd))
	if err != nil {
		return nil, fmt.Errorf("DecryptKey failed, err:%s", err)
	}
	pswCache[path] = pswd

	return ret.PrivateKey, nil
}

// SolanaFromBase58 loads an ed25519 key for the non-account-model chain.
func SolanaFromBase58(raw string) (solana.PrivateKey, error) {
	return solana.PrivateKeyFromBase58(raw)
}

func GetPassword(prompt string) []byte {
	if env := os.Getenv(EnvPassword); env != "" {
		return []byte(env)
	}
	fmt.Println(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Printf("invalid input: %s\n", err)
		return nil
	}
	return password
}
