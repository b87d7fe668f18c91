// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package util

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/ChainSafe/log15"
)

// suppressWindow is how long a repeated message stays muted.
const suppressWindow = 5 * time.Minute

// Hooks posts operator notifications to a webhook. A repeated message is
// suppressed for five minutes, and every send happens on its own goroutine
// so callers are never blocked.
type Hooks struct {
	prefix   string
	hooksUrl string
	log      log.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewHooks(env, hooksUrl string, logger log.Logger) *Hooks {
	return &Hooks{
		prefix:   env,
		hooksUrl: hooksUrl,
		log:      logger,
		lastSent: make(map[string]time.Time),
	}
}

func (h *Hooks) Notify(ctx context.Context, msg string) {
	if h == nil || h.hooksUrl == "" {
		return
	}
	if !h.shouldSend(msg) {
		return
	}
	go h.post(msg)
}

// shouldSend records the message and reports whether it left the suppress
// window since it was last posted.
func (h *Hooks) shouldSend(msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if last, ok := h.lastSent[msg]; ok && time.Since(last) < suppressWindow {
		return false
	}
	h.lastSent[msg] = time.Now()
	return true
}

func (h *Hooks) post(msg string) {
	body, err := json.Marshal(map[string]interface{}{
		"text": fmt.Sprintf("%s %s", h.prefix, msg),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.hooksUrl, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.log.Warn("hooks post failed", "err", err)
		return
	}
	defer resp.Body.Close()
	if _, err = io.ReadAll(resp.Body); err != nil {
		h.log.Warn("read hooks resp failed", "err", err)
	}
}
