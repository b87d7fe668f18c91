// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package feed

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/order"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ThresholdPoint is one confirmation gate: orders worth at least UsdAmount
// wait for MinBlockConfirmations source confirmations before delivery.
type ThresholdPoint struct {
	UsdAmount             uint64 `json:"thresholdAmountInUSD"`
	MinBlockConfirmations uint64 `json:"minBlockConfirmations"`
}

// Authority pairs a chain with the operator's unlock authority address on
// it; the feed only delivers orders the authorities can act on.
type Authority struct {
	ChainId order.ChainId `json:"chainId"`
	Address string        `json:"unlockAuthority"`
}

type subscribeMsg struct {
	Action      string                             `json:"action"`
	Authorities []Authority                        `json:"authorities"`
	Thresholds  map[order.ChainId][]ThresholdPoint `json:"confirmationThresholds"`
}

type wireOffer struct {
	ChainId uint64 `json:"chainId"`
	Token   string `json:"tokenAddress"`
	Amount  string `json:"amount"`
}

type wireOrder struct {
	Give                     wireOffer `json:"give"`
	Take                     wireOffer `json:"take"`
	Maker                    string    `json:"maker"`
	Receiver                 string    `json:"receiverDst"`
	GivePatchAuthority       string    `json:"givePatchAuthoritySrc"`
	OrderAuthorityDst        string    `json:"orderAuthorityAddressDst"`
	AllowedTakerDst          string    `json:"allowedTakerDst"`
	AllowedCancelBeneficiary string    `json:"allowedCancelBeneficiarySrc"`
	Nonce                    uint64    `json:"nonce"`
}

type wireEvent struct {
	OrderId            string     `json:"orderId"`
	Status             string     `json:"status"`
	Order              *wireOrder `json:"order,omitempty"`
	BlockConfirmations uint64     `json:"blockConfirmations,omitempty"`
}

// Client subscribes to the order feed over a websocket and pushes decoded
// events into the deliver callback in arrival order. It reconnects with
// exponential backoff and relies on the server re-sending archival events
// after resubscription.
type Client struct {
	url         string
	authorities []Authority
	thresholds  map[order.ChainId][]ThresholdPoint
	hooks       core.Hooks
	log         log15.Logger

	deliver func(*order.Event)
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewClient(url string, authorities []Authority, thresholds map[order.ChainId][]ThresholdPoint, hooks core.Hooks, logger log15.Logger) *Client {
	return &Client{
		url:         url,
		authorities: authorities,
		thresholds:  thresholds,
		hooks:       hooks,
		log:         logger,
		stop:        make(chan struct{}),
	}
}

func (c *Client) Start(deliver func(*order.Event)) error {
	if deliver == nil {
		return errors.New("feed requires a delivery callback")
	}
	c.deliver = deliver
	c.wg.Add(1)
	go c.run()
	return nil
}

func (c *Client) Stop() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}

func (c *Client) run() {
	defer c.wg.Done()
	backoff := constant.FeedReconnectBase
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		err := c.session()
		if err != nil {
			c.log.Warn("Feed session ended, will reconnect", "err", err, "backoff", backoff)
			if c.hooks != nil {
				c.hooks.Notify(context.Background(), "order feed disconnected: "+err.Error())
			}
		}
		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > constant.FeedReconnectMax {
			backoff = constant.FeedReconnectMax
		}
	}
}

// session dials, subscribes and pumps messages until the connection drops.
func (c *Client) session() error {
	dialer := websocket.Dialer{HandshakeTimeout: constant.HttpTimeOut}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial feed")
	}
	defer conn.Close()

	sub := subscribeMsg{
		Action:      "subscribe",
		Authorities: c.authorities,
		Thresholds:  c.thresholds,
	}
	if err = conn.WriteJSON(&sub); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	c.log.Info("Subscribed to order feed", "url", c.url, "authorities", len(c.authorities))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(constant.HttpTimeOut * 6))
	})
	go c.pinger(conn)

	for {
		select {
		case <-c.stop:
			return nil
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(constant.HttpTimeOut * 6))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read feed")
		}
		ev, err := decodeEvent(raw)
		if err != nil {
			c.log.Warn("Undecodable feed message", "err", err)
			continue
		}
		if !c.confirmed(ev) {
			c.log.Debug("Order below confirmation threshold, skipped", "order", ev.OrderId,
				"confirmations", ev.BlockConfirmations)
			continue
		}
		c.deliver(ev)
	}
}

func (c *Client) pinger(conn *websocket.Conn) {
	ticker := time.NewTicker(constant.HttpTimeOut * 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(constant.HttpTimeOut)); err != nil {
				return
			}
		}
	}
}

// confirmed applies the lowest configured tier as a defensive local floor;
// the server applies the USD-keyed gating before delivery.
func (c *Client) confirmed(ev *order.Event) bool {
	if !ev.Status.Live() || ev.Order == nil {
		return true
	}
	points := c.thresholds[ev.Order.Give.ChainId]
	if len(points) == 0 {
		return true
	}
	return ev.BlockConfirmations >= points[0].MinBlockConfirmations
}

func decodeEvent(raw []byte) (*order.Event, error) {
	we := wireEvent{}
	if err := json.Unmarshal(raw, &we); err != nil {
		return nil, err
	}

	ev := &order.Event{
		OrderId:            order.IDFromBytes(order.AddressFromHex(we.OrderId)),
		Status:             parseStatus(we.Status),
		BlockConfirmations: we.BlockConfirmations,
	}
	if we.Order != nil {
		o, err := decodeOrder(we.Order)
		if err != nil {
			return nil, err
		}
		ev.Order = o
	}
	return ev, nil
}

func decodeOrder(w *wireOrder) (*order.Order, error) {
	give, err := decodeOffer(w.Give)
	if err != nil {
		return nil, errors.Wrap(err, "give")
	}
	take, err := decodeOffer(w.Take)
	if err != nil {
		return nil, errors.Wrap(err, "take")
	}
	return &order.Order{
		Give:                     give,
		Take:                     take,
		Maker:                    order.AddressFromHex(w.Maker),
		Receiver:                 order.AddressFromHex(w.Receiver),
		GivePatchAuthority:       order.AddressFromHex(w.GivePatchAuthority),
		OrderAuthorityDst:        order.AddressFromHex(w.OrderAuthorityDst),
		AllowedTakerDst:          order.AddressFromHex(w.AllowedTakerDst),
		AllowedCancelBeneficiary: order.AddressFromHex(w.AllowedCancelBeneficiary),
		Nonce:                    w.Nonce,
	}, nil
}

func decodeOffer(w wireOffer) (order.Offer, error) {
	amount, ok := new(big.Int).SetString(w.Amount, 10)
	if !ok {
		return order.Offer{}, errors.Errorf("bad amount %q", w.Amount)
	}
	return order.Offer{
		ChainId:      order.ChainId(w.ChainId),
		TokenAddress: order.AddressFromHex(w.Token),
		Amount:       amount,
	}, nil
}

func parseStatus(s string) order.Status {
	switch s {
	case "Created":
		return order.StatusCreated
	case "ArchivalCreated":
		return order.StatusArchivalCreated
	case "Fulfilled":
		return order.StatusFulfilled
	case "ArchivalFulfilled":
		return order.StatusArchivalFulfilled
	case "Cancelled":
		return order.StatusCancelled
	default:
		return order.StatusOther
	}
}
