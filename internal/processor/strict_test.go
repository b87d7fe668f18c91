package processor

import (
	"testing"
	"time"

	log "github.com/ChainSafe/log15"
	"github.com/crosslane/taker/core"
	"github.com/crosslane/taker/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStrictHarness(t *testing.T, approved []order.Address) (*Strict, *fakeState) {
	t.Helper()
	state := newFakeState()
	take := &fakeChain{s: state, id: takeChainId, family: core.FamilyEvm}
	give := &fakeChain{s: state, id: giveChainId, family: core.FamilyEvm}
	lookup := func(id order.ChainId) core.Chain {
		if id == giveChainId {
			return give
		}
		return take
	}
	p := NewStrict(take, lookup, approved, log.New("test", t.Name()))
	t.Cleanup(p.Stop)
	return p, state
}

func TestStrictFulfillsAndUnlocksImmediately(t *testing.T) {
	p, state := newStrictHarness(t, []order.Address{takeToken})
	o, id := makeOrder(1)

	p.Process(event(o, id, order.StatusCreated))

	require.Eventually(t, func() bool {
		state.mu.Lock()
		defer state.mu.Unlock()
		return len(state.sent) == 1 && len(state.unlocks) == 1
	}, time.Second, 2*time.Millisecond)

	state.mu.Lock()
	defer state.mu.Unlock()
	assert.Equal(t, []order.ID{id}, state.sent)
	require.Len(t, state.unlocks[0], 1, "strict unlocks are unbatched")
	assert.Equal(t, id, state.unlocks[0][0].OrderId)
}

func TestStrictRejectsUnapprovedToken(t *testing.T) {
	p, state := newStrictHarness(t, []order.Address{order.AddressFromHex("0x99")})
	o, id := makeOrder(1)

	p.Process(event(o, id, order.StatusCreated))
	time.Sleep(30 * time.Millisecond)

	state.mu.Lock()
	defer state.mu.Unlock()
	assert.Empty(t, state.sent)
	assert.Empty(t, state.unlocks)
}

func TestStrictAlreadyFulfilledDrops(t *testing.T) {
	p, state := newStrictHarness(t, []order.Address{takeToken})
	o, id := makeOrder(1)
	state.takeStatus[id] = order.ChainStatusFulfilled

	p.Process(event(o, id, order.StatusCreated))
	time.Sleep(30 * time.Millisecond)

	state.mu.Lock()
	defer state.mu.Unlock()
	assert.Empty(t, state.sent)
}
