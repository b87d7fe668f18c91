package processor

import (
	"context"
	"math/big"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/internal/unlocker"
	"github.com/crosslane/taker/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	giveChainId order.ChainId = 42161
	takeChainId order.ChainId = 137
)

var (
	giveToken = order.AddressFromHex("0xaf88d065e77c8cc2239327c5edb3a432268e5831")
	takeToken = order.AddressFromHex("0x3c499c542cef5e3811e1192ce70d8cc03d5c3359")
)

func TestMain(m *testing.M) {
	// Keep the visibility poll fast; production paces at 2s x 10.
	constant.FulfillPollStep = time.Millisecond
	constant.FulfillPollLimit = 5
	log.Root().SetHandler(log.DiscardHandler())
	os.Exit(m.Run())
}

// fakeState backs the fake chain, client and adapter of one test.
type fakeState struct {
	mu         sync.Mutex
	takeStatus map[order.ID]order.ChainStatus
	giveStatus map[order.ID]order.ChainStatus
	sent       []order.ID           // fulfill submissions in order
	unlocks    [][]core.UnlockEntry // one element per unlock tx
	balance    *big.Int

	gateId   *order.ID     // first take-status query for this id blocks...
	gate     chan struct{} // ...until this closes
	gateOnce sync.Once

	active    int32
	maxActive int32
}

func newFakeState() *fakeState {
	return &fakeState{
		takeStatus: make(map[order.ID]order.ChainStatus),
		giveStatus: make(map[order.ID]order.ChainStatus),
		balance:    big.NewInt(1_000_000_000),
	}
}

func (s *fakeState) enter() {
	n := atomic.AddInt32(&s.active, 1)
	for {
		max := atomic.LoadInt32(&s.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxActive, max, n) {
			return
		}
	}
}

func (s *fakeState) leave() { atomic.AddInt32(&s.active, -1) }

type fakeClient struct{ s *fakeState }

func (c *fakeClient) GetTakeOrderStatus(_ context.Context, id order.ID) (order.ChainStatus, error) {
	c.s.enter()
	defer c.s.leave()
	if c.s.gateId != nil && *c.s.gateId == id {
		c.s.gateOnce.Do(func() {
			c.s.leave()
			<-c.s.gate
			c.s.enter()
		})
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if st, ok := c.s.takeStatus[id]; ok {
		return st, nil
	}
	return order.ChainStatusNotSet, nil
}

func (c *fakeClient) GetGiveOrderStatus(_ context.Context, id order.ID) (order.ChainStatus, error) {
	c.s.enter()
	defer c.s.leave()
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if st, ok := c.s.giveStatus[id]; ok {
		return st, nil
	}
	return order.ChainStatusCreated, nil
}

func (c *fakeClient) GetAmountToSend(_ context.Context, _, _ order.ChainId, feeTotal *big.Int) (*big.Int, error) {
	if feeTotal == nil {
		return new(big.Int), nil
	}
	return feeTotal, nil
}

func (c *fakeClient) GetTakerFlowCost(context.Context, *order.Order, decimal.Decimal, decimal.Decimal) (*core.Fees, error) {
	return &core.Fees{
		ExecutionFee:   new(big.Int),
		FulfillCostUsd: decimal.Zero,
		UnlockCostUsd:  decimal.Zero,
		RewardA:        new(big.Int),
		RewardB:        new(big.Int),
	}, nil
}

type fulfillMarker struct{ id order.ID }
type unlockMarker struct{ entries []core.UnlockEntry }

func (c *fakeClient) FulfillOrder(_ context.Context, _ *order.Order, id order.ID, _ core.Payload) (*core.Transaction, error) {
	c.s.enter()
	defer c.s.leave()
	return &core.Transaction{ChainId: takeChainId, Raw: fulfillMarker{id: id}}, nil
}

func (c *fakeClient) PreswapAndFulfillOrder(_ context.Context, _ *order.Order, id order.ID, _ order.Address, _ uint32, _ core.Payload) (*core.Transaction, error) {
	c.s.enter()
	defer c.s.leave()
	return &core.Transaction{ChainId: takeChainId, Raw: fulfillMarker{id: id}}, nil
}

func (c *fakeClient) SendUnlockOrder(_ context.Context, entries []core.UnlockEntry, _ order.Address, fee *big.Int, _ core.Rewards, _ core.Payload) (*core.Transaction, error) {
	return &core.Transaction{ChainId: takeChainId, Value: fee, Raw: unlockMarker{entries: entries}}, nil
}

type fakeAdapter struct{ s *fakeState }

func (a *fakeAdapter) Address() order.Address  { return order.AddressFromHex("0xfeed") }
func (a *fakeAdapter) Connection() interface{} { return nil }

func (a *fakeAdapter) GetBalance(context.Context, order.Address) (*big.Int, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return new(big.Int).Set(a.s.balance), nil
}

func (a *fakeAdapter) SendTransaction(_ context.Context, tx *core.Transaction, _ log.Logger) (string, error) {
	a.s.enter()
	defer a.s.leave()
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	switch m := tx.Raw.(type) {
	case fulfillMarker:
		a.s.sent = append(a.s.sent, m.id)
		a.s.takeStatus[m.id] = order.ChainStatusFulfilled
	case unlockMarker:
		a.s.unlocks = append(a.s.unlocks, m.entries)
	}
	return "0xhash", nil
}

type fakeChain struct {
	s      *fakeState
	id     order.ChainId
	family core.Family
}

func (c *fakeChain) Start() error                   { return nil }
func (c *fakeChain) Stop()                          {}
func (c *fakeChain) Id() order.ChainId              { return c.id }
func (c *fakeChain) Name() string                   { return "fake" }
func (c *fakeChain) Family() core.Family            { return c.family }
func (c *fakeChain) Adapter() core.Adapter          { return &fakeAdapter{s: c.s} }
func (c *fakeChain) Client() core.Client            { return &fakeClient{s: c.s} }
func (c *fakeChain) Payload() core.Payload          { return core.EvmPayload{} }
func (c *fakeChain) Beneficiary() order.Address     { return order.AddressFromHex("0xbeef") }
func (c *fakeChain) UnlockAuthority() order.Address { return order.AddressFromHex("0xfeed") }
func (c *fakeChain) ConfirmationCap() uint64        { return 256 }

type fakePrices struct {
	mu   sync.Mutex
	give decimal.Decimal // give token price; everything else quotes at 1
}

func (p *fakePrices) GetPrice(_ context.Context, chain order.ChainId, token order.Address) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if chain == giveChainId && token.Equal(giveToken) {
		return p.give, nil
	}
	return decimal.NewFromInt(1), nil
}

func (p *fakePrices) set(v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.give = decimal.RequireFromString(v)
}

type fakeSwap struct{}

func (fakeSwap) GetSwapQuote(_ context.Context, _ order.ChainId, _, _ order.Address, amountIn *big.Int) (*core.SwapQuote, error) {
	return &core.SwapQuote{AmountOut: new(big.Int).Set(amountIn), SlippageBps: 30}, nil
}

type harness struct {
	state   *fakeState
	prices  *fakePrices
	proc    *Universal
	batcher *unlocker.BatchUnlocker
}

func newHarness(t *testing.T, batchSize int, mempoolInterval time.Duration) *harness {
	t.Helper()
	state := newFakeState()
	take := &fakeChain{s: state, id: takeChainId, family: core.FamilyEvm}
	give := &fakeChain{s: state, id: giveChainId, family: core.FamilyEvm}
	lookup := func(id order.ChainId) core.Chain {
		switch id {
		case giveChainId:
			return give
		case takeChainId:
			return take
		}
		return nil
	}

	buckets := []order.TokensBucket{{
		giveChainId: {giveToken},
		takeChainId: {takeToken}, // reserve == take token, no pre-swap
	}}
	prices := &fakePrices{give: decimal.RequireFromString("1.001")}
	logger := log.New("test", t.Name())
	batcher := unlocker.New(take, lookup, batchSize, logger)
	proc := NewUniversal(Config{
		MinProfitabilityBps: 4,
		MempoolInterval:     mempoolInterval,
		BatchUnlockSize:     batchSize,
	}, take, lookup, prices, fakeSwap{}, buckets, batcher, nil, logger)
	t.Cleanup(proc.Stop)

	return &harness{state: state, prices: prices, proc: proc, batcher: batcher}
}

func makeOrder(nonce uint64) (*order.Order, order.ID) {
	o := &order.Order{
		Give:     order.Offer{ChainId: giveChainId, TokenAddress: giveToken, Amount: big.NewInt(1_000_000)},
		Take:     order.Offer{ChainId: takeChainId, TokenAddress: takeToken, Amount: big.NewInt(1_000_000)},
		Receiver: order.AddressFromHex("0x2222222222222222222222222222222222222222"),
		Nonce:    nonce,
	}
	return o, order.CalculateId(o)
}

func event(o *order.Order, id order.ID, st order.Status) *order.Event {
	return &order.Event{OrderId: id, Status: st, Order: o}
}

func (h *harness) sentCount() int {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return len(h.state.sent)
}

func waitSent(t *testing.T, h *harness, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sentCount() == n }, 5*time.Second, 2*time.Millisecond)
}

func TestHappyPathAppendsToBatch(t *testing.T) {
	h := newHarness(t, 10, time.Minute)
	o, id := makeOrder(1)

	h.proc.Process(event(o, id, order.StatusCreated))
	waitSent(t, h, 1)

	assert.Equal(t, []order.ID{id}, h.state.sent)
	assert.Equal(t, 1, h.batcher.Pending(giveChainId))
	assert.Empty(t, h.state.unlocks, "partial batch must not flush")
	assert.Equal(t, 0, h.proc.Mempool().Len())
}

func TestBatchFlushAfterTenOrders(t *testing.T) {
	h := newHarness(t, 10, time.Minute)

	var ids []order.ID
	for n := uint64(1); n <= 10; n++ {
		o, id := makeOrder(n)
		ids = append(ids, id)
		h.proc.Process(event(o, id, order.StatusCreated))
	}
	waitSent(t, h, 10)

	require.Eventually(t, func() bool {
		h.state.mu.Lock()
		defer h.state.mu.Unlock()
		return len(h.state.unlocks) == 1
	}, 5*time.Second, 2*time.Millisecond)

	h.state.mu.Lock()
	batch := h.state.unlocks[0]
	h.state.mu.Unlock()
	require.Len(t, batch, 10)
	for i, e := range batch {
		assert.Equal(t, ids[i], e.OrderId, "unlock batch must preserve arrival order")
	}
	assert.Equal(t, 0, h.batcher.Pending(giveChainId))
}

func TestSerialProcessingPerChain(t *testing.T) {
	h := newHarness(t, 10, time.Minute)

	for n := uint64(1); n <= 20; n++ {
		o, id := makeOrder(n)
		h.proc.Process(event(o, id, order.StatusCreated))
	}
	waitSent(t, h, 20)

	assert.LessOrEqual(t, atomic.LoadInt32(&h.state.maxActive), int32(1),
		"at most one order may be under active processing")
}

func TestPriorityOrdering(t *testing.T) {
	h := newHarness(t, 10, time.Minute)

	o0, id0 := makeOrder(100)
	h.state.gateId = &id0
	h.state.gate = make(chan struct{})

	h.proc.Process(event(o0, id0, order.StatusCreated))
	// Processor is now blocked inside the in-flight order.
	oc1, c1 := makeOrder(1)
	oa1, a1 := makeOrder(2)
	oc2, c2 := makeOrder(3)
	oa2, a2 := makeOrder(4)
	h.proc.Process(event(oc1, c1, order.StatusCreated))
	h.proc.Process(event(oa1, a1, order.StatusArchivalCreated))
	h.proc.Process(event(oc2, c2, order.StatusCreated))
	h.proc.Process(event(oa2, a2, order.StatusArchivalCreated))

	close(h.state.gate)
	waitSent(t, h, 5)

	assert.Equal(t, []order.ID{id0, c1, c2, a1, a2}, h.state.sent,
		"primary drains before secondary, FIFO within each")
}

func TestIdempotentReenqueue(t *testing.T) {
	h := newHarness(t, 10, time.Minute)

	o0, id0 := makeOrder(100)
	h.state.gateId = &id0
	h.state.gate = make(chan struct{})
	h.proc.Process(event(o0, id0, order.StatusCreated))

	o1, id1 := makeOrder(1)
	h.proc.Process(event(o1, id1, order.StatusCreated))
	h.proc.Process(event(o1, id1, order.StatusCreated))

	close(h.state.gate)
	waitSent(t, h, 2)

	// Give the worker a beat; a duplicate would appear as a third send.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []order.ID{id0, id1}, h.state.sent)
}

func TestAlreadyFulfilledDropsOrder(t *testing.T) {
	h := newHarness(t, 10, time.Minute)
	o, id := makeOrder(1)
	h.state.takeStatus[id] = order.ChainStatusFulfilled

	h.proc.Process(event(o, id, order.StatusCreated))
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, h.state.sent)
	assert.Equal(t, 0, h.batcher.Pending(giveChainId), "drop path must not enqueue an unlock")
	assert.Equal(t, 0, h.proc.Mempool().Len())
}

func TestNotCreatedOnSourceDropsOrder(t *testing.T) {
	h := newHarness(t, 10, time.Minute)
	o, id := makeOrder(1)
	h.state.giveStatus[id] = order.ChainStatusCancelled

	h.proc.Process(event(o, id, order.StatusCreated))
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, h.state.sent)
	assert.Equal(t, 0, h.proc.Mempool().Len())
}

func TestUnprofitableDefersThenFulfills(t *testing.T) {
	h := newHarness(t, 10, 40*time.Millisecond)
	h.prices.set("1.0002") // 2bps, below the 4bps threshold

	o, id := makeOrder(1)
	h.proc.Process(event(o, id, order.StatusCreated))

	require.Eventually(t, func() bool { return h.proc.Mempool().Len() == 1 }, time.Second, 2*time.Millisecond)
	assert.Empty(t, h.state.sent)

	// Prices move; the mempool re-drive promotes the order.
	h.prices.set("1.0006")
	waitSent(t, h, 1)
	require.Eventually(t, func() bool { return h.proc.Mempool().Len() == 0 }, time.Second, 2*time.Millisecond)
}

func TestInsufficientReserveDefers(t *testing.T) {
	h := newHarness(t, 10, time.Minute)
	h.state.mu.Lock()
	h.state.balance = big.NewInt(0)
	h.state.mu.Unlock()

	o, id := makeOrder(1)
	h.proc.Process(event(o, id, order.StatusCreated))

	require.Eventually(t, func() bool { return h.proc.Mempool().Len() == 1 }, time.Second, 2*time.Millisecond)
	assert.Empty(t, h.state.sent)
}

func TestCancelledRemovesQueuedOrder(t *testing.T) {
	h := newHarness(t, 10, time.Minute)

	o0, id0 := makeOrder(100)
	h.state.gateId = &id0
	h.state.gate = make(chan struct{})
	h.proc.Process(event(o0, id0, order.StatusCreated))

	o1, id1 := makeOrder(1)
	h.proc.Process(event(o1, id1, order.StatusCreated))
	h.proc.Process(event(o1, id1, order.StatusCancelled))

	close(h.state.gate)
	waitSent(t, h, 1)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []order.ID{id0}, h.state.sent, "cancelled order must not be processed")
}

func TestFulfilledEventForwardsToUnlocker(t *testing.T) {
	h := newHarness(t, 10, time.Minute)
	o, id := makeOrder(1)

	h.proc.Process(event(o, id, order.StatusFulfilled))

	require.Eventually(t, func() bool { return h.batcher.Pending(giveChainId) == 1 }, time.Second, 2*time.Millisecond)
	assert.Empty(t, h.state.sent, "replayed fulfillment must not fulfill again")
}

func TestNoReserveCoverageCheckedBeforeStatusQueries(t *testing.T) {
	h := newHarness(t, 10, time.Minute)

	o, id := makeOrder(1)
	o.Give.ChainId = 999 // no bucket spans (999, take)
	id = order.CalculateId(o)
	// Even an already-fulfilled take side must not mask the coverage check.
	h.state.takeStatus[id] = order.ChainStatusFulfilled

	h.proc.Process(event(o, id, order.StatusCreated))
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, h.state.sent)
	assert.Equal(t, 0, h.proc.Mempool().Len())
	assert.Zero(t, atomic.LoadInt32(&h.state.maxActive), "coverage check must precede any status RPC")
}
