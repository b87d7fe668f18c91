package core

import (
	"math/big"
	"testing"

	log "github.com/ChainSafe/log15"
	"github.com/crosslane/taker/internal/filters"
	"github.com/crosslane/taker/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChain struct {
	id order.ChainId
}

func (c *stubChain) Start() error                   { return nil }
func (c *stubChain) Stop()                          {}
func (c *stubChain) Id() order.ChainId              { return c.id }
func (c *stubChain) Name() string                   { return "stub" }
func (c *stubChain) Family() Family                 { return FamilyEvm }
func (c *stubChain) Adapter() Adapter               { return nil }
func (c *stubChain) Client() Client                 { return nil }
func (c *stubChain) Payload() Payload               { return EvmPayload{} }
func (c *stubChain) Beneficiary() order.Address     { return order.AddressFromHex("0xbeef") }
func (c *stubChain) UnlockAuthority() order.Address { return order.AddressFromHex("0xfeed") }
func (c *stubChain) ConfirmationCap() uint64        { return 256 }

type stubProcessor struct {
	events []*order.Event
}

func (p *stubProcessor) Process(ev *order.Event) { p.events = append(p.events, ev) }
func (p *stubProcessor) Stop()                   {}

type rejectAll struct{}

func (rejectAll) Allow(*order.Order, *filters.Context) bool { return false }
func (rejectAll) Name() string                              { return "rejectAll" }

func discardLogger() log.Logger {
	l := log.New("test", "executor")
	l.SetHandler(log.DiscardHandler())
	return l
}

func testEvent(give, take order.ChainId, st order.Status) *order.Event {
	o := &order.Order{
		Give: order.Offer{ChainId: give, TokenAddress: order.AddressFromHex("0x01"), Amount: big.NewInt(100)},
		Take: order.Offer{ChainId: take, TokenAddress: order.AddressFromHex("0x02"), Amount: big.NewInt(99)},
	}
	return &order.Event{OrderId: order.CalculateId(o), Status: st, Order: o}
}

func TestDispatchRoutesToDestination(t *testing.T) {
	e := NewExecutor(discardLogger(), nil)
	src := &stubProcessor{}
	dst := &stubProcessor{}
	e.Listen(&stubChain{id: 1}, src, nil, nil)
	e.Listen(&stubChain{id: 2}, dst, nil, nil)

	e.Dispatch(testEvent(1, 2, order.StatusCreated))

	assert.Empty(t, src.events)
	require.Len(t, dst.events, 1)
}

func TestDispatchDropsUnconfiguredChain(t *testing.T) {
	e := NewExecutor(discardLogger(), nil)
	dst := &stubProcessor{}
	e.Listen(&stubChain{id: 2}, dst, nil, nil)

	// Source chain 1 is not configured; drop, not an error.
	e.Dispatch(testEvent(1, 2, order.StatusCreated))
	assert.Empty(t, dst.events)
}

func TestDispatchAppliesFilterUnanimity(t *testing.T) {
	e := NewExecutor(discardLogger(), nil)
	dst := &stubProcessor{}
	e.Listen(&stubChain{id: 1}, &stubProcessor{}, nil, nil)
	e.Listen(&stubChain{id: 2}, dst, nil, []filters.Filter{rejectAll{}})

	e.Dispatch(testEvent(1, 2, order.StatusCreated))
	assert.Empty(t, dst.events, "any false filter drops the order")
}

func TestDispatchDisabledDestination(t *testing.T) {
	e := NewExecutor(discardLogger(), nil)
	dst := &stubProcessor{}
	e.Listen(&stubChain{id: 1}, &stubProcessor{}, nil, nil)
	e.Listen(&stubChain{id: 2}, dst, nil, []filters.Filter{filters.DisableFulfill{}})

	e.Dispatch(testEvent(1, 2, order.StatusCreated))
	assert.Empty(t, dst.events, "disabled destination never sees the order")
}

func TestDispatchSourceFiltersApply(t *testing.T) {
	e := NewExecutor(discardLogger(), nil)
	dst := &stubProcessor{}
	e.Listen(&stubChain{id: 1}, &stubProcessor{}, []filters.Filter{rejectAll{}}, nil)
	e.Listen(&stubChain{id: 2}, dst, nil, nil)

	e.Dispatch(testEvent(1, 2, order.StatusCreated))
	assert.Empty(t, dst.events)
}

func TestDispatchTerminalStatusBypassesFilters(t *testing.T) {
	e := NewExecutor(discardLogger(), nil)
	dst := &stubProcessor{}
	e.Listen(&stubChain{id: 1}, &stubProcessor{}, nil, nil)
	e.Listen(&stubChain{id: 2}, dst, nil, []filters.Filter{rejectAll{}})

	e.Dispatch(testEvent(1, 2, order.StatusCancelled))
	require.Len(t, dst.events, 1, "terminal statuses skip the filter chain")
	assert.Equal(t, order.StatusCancelled, dst.events[0].Status)
}

func TestDispatchGlobalFilters(t *testing.T) {
	e := NewExecutor(discardLogger(), []filters.Filter{filters.GiveTokenNotZero{}})
	dst := &stubProcessor{}
	e.Listen(&stubChain{id: 1}, &stubProcessor{}, nil, nil)
	e.Listen(&stubChain{id: 2}, dst, nil, nil)

	ev := testEvent(1, 2, order.StatusCreated)
	ev.Order.Give.Amount = big.NewInt(0)
	e.Dispatch(ev)
	assert.Empty(t, dst.events)

	e.Dispatch(testEvent(1, 2, order.StatusCreated))
	assert.Len(t, dst.events, 1)
}
