package feed

import (
	"testing"

	"github.com/crosslane/taker/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCreatedEvent(t *testing.T) {
	raw := []byte(`{
		"orderId": "0x0102030000000000000000000000000000000000000000000000000000000000",
		"status": "Created",
		"blockConfirmations": 14,
		"order": {
			"give": {"chainId": 42161, "tokenAddress": "0xaf88d065e77c8cc2239327c5edb3a432268e5831", "amount": "100000000"},
			"take": {"chainId": 137, "tokenAddress": "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", "amount": "99500000"},
			"maker": "0x1111111111111111111111111111111111111111",
			"receiverDst": "0x2222222222222222222222222222222222222222",
			"nonce": 7
		}
	}`)

	ev, err := decodeEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, order.StatusCreated, ev.Status)
	assert.EqualValues(t, 14, ev.BlockConfirmations)
	assert.Equal(t, byte(0x01), ev.OrderId[0])
	require.NotNil(t, ev.Order)
	assert.EqualValues(t, 42161, ev.Order.Give.ChainId)
	assert.Equal(t, "100000000", ev.Order.Give.Amount.String())
	assert.EqualValues(t, 7, ev.Order.Nonce)
}

func TestDecodeTerminalEventWithoutOrder(t *testing.T) {
	raw := []byte(`{"orderId": "0xff", "status": "Cancelled"}`)
	ev, err := decodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, ev.Status)
	assert.Nil(t, ev.Order)
}

func TestDecodeBadAmount(t *testing.T) {
	raw := []byte(`{
		"orderId": "0x01",
		"status": "Created",
		"order": {
			"give": {"chainId": 1, "tokenAddress": "0x01", "amount": "not-a-number"},
			"take": {"chainId": 2, "tokenAddress": "0x02", "amount": "1"}
		}
	}`)
	_, err := decodeEvent(raw)
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, order.StatusCreated, parseStatus("Created"))
	assert.Equal(t, order.StatusArchivalCreated, parseStatus("ArchivalCreated"))
	assert.Equal(t, order.StatusFulfilled, parseStatus("Fulfilled"))
	assert.Equal(t, order.StatusArchivalFulfilled, parseStatus("ArchivalFulfilled"))
	assert.Equal(t, order.StatusCancelled, parseStatus("Cancelled"))
	assert.Equal(t, order.StatusOther, parseStatus("SomethingNew"))
}

func TestConfirmationFloor(t *testing.T) {
	c := NewClient("", nil, map[order.ChainId][]ThresholdPoint{
		42161: {{UsdAmount: 100, MinBlockConfirmations: 12}},
	}, nil, nil)

	give := order.Offer{ChainId: 42161, TokenAddress: order.AddressFromHex("0x01")}
	below := &order.Event{Status: order.StatusCreated, BlockConfirmations: 5, Order: &order.Order{Give: give}}
	atFloor := &order.Event{Status: order.StatusCreated, BlockConfirmations: 12, Order: &order.Order{Give: give}}
	terminal := &order.Event{Status: order.StatusCancelled}

	assert.False(t, c.confirmed(below))
	assert.True(t, c.confirmed(atFloor))
	assert.True(t, c.confirmed(terminal), "terminal events are never gated")
}
