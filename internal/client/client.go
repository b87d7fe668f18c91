// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	log "github.com/ChainSafe/log15"
	"github.com/crosslane/taker/internal/constant"
)

var (
	cli = http.Client{
		Timeout: constant.HttpTimeOut,
	}
)

func JsonPost(ctx context.Context, url string, data []byte) ([]byte, error) {
	start := time.Now()
	defer func() {
		log.Debug("JsonPost", "url", url, "duration", time.Since(start))
	}()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", constant.Agent)
	return do(req)
}

func JsonGet(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	defer func() {
		log.Debug("JsonGet", "url", url, "duration", time.Since(start))
	}()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", constant.Agent)
	return do(req)
}

func do(req *http.Request) ([]byte, error) {
	resp, err := cli.Do(req)
	if err != nil {
		log.Error("request error", "url", req.URL, "error", err)
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("io.ReadAll error", "url", req.URL, "error", err)
		return nil, err
	}
	return body, nil
}
