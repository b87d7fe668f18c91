// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package blacklist

import (
	"context"
	"fmt"
	"strconv"

	"github.com/crosslane/taker/internal/client"
	"github.com/pkg/errors"
)

// Blacklist screens order makers against an external blocklist service
// before the operator commits reserves to them.
type Blacklist interface {
	CheckAccount(ctx context.Context, account, chainId string) (bool, error)
}

type blockList struct {
	domain string
}

var defaultBlockList *blockList

const (
	UrlOfCheckAccount = "/blocklist/blockedAccount"
)

func Init(domain string) {
	defaultBlockList = &blockList{domain: domain}
}

func (b *blockList) CheckAccount(ctx context.Context, account, chainId string) (bool, error) {
	uri := fmt.Sprintf("%s%s?account=%s&chainId=%s", b.domain, UrlOfCheckAccount, account, chainId)
	body, err := client.JsonGet(ctx, uri)
	if err != nil {
		return false, errors.Wrap(err, "CheckAccount JsonGet")
	}

	ret, err := strconv.ParseBool(string(body))
	if err != nil {
		return false, errors.Wrap(err, fmt.Sprintf("CheckAccount, account: %s body: %s", account, string(body)))
	}
	return ret, nil
}

func CheckAccount(ctx context.Context, account, chainId string) (bool, error) {
	if defaultBlockList == nil {
		return false, nil
	}
	return defaultBlockList.CheckAccount(ctx, account, chainId)
}
