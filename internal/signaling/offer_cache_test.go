package signaling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcall_realtime/internal/clock"
)

func TestOfferCache_ServesWithinTTL(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := NewOfferCache(60*time.Second, clk)
	key := OfferKey{ChatID: 1, CallerID: 2, CalleeID: 3}

	c.Put(PendingOffer{Key: key, Offer: json.RawMessage(`{"sdp":"v=0"}`)})

	clk.Advance(60 * time.Second)
	got, ok := c.Get(key)
	require.True(t, ok, "offer exactly at the TTL boundary is still live")
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(got.Offer))

	clk.Advance(time.Millisecond)
	_, ok = c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is evicted on touch")
}

func TestOfferCache_OneEntryPerKey(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := NewOfferCache(time.Minute, clk)
	key := OfferKey{ChatID: 1, CallerID: 2, CalleeID: 3}

	c.Put(PendingOffer{Key: key, Offer: json.RawMessage(`1`)})
	clk.Advance(50 * time.Second)
	c.Put(PendingOffer{Key: key, Offer: json.RawMessage(`2`)})
	clk.Advance(30 * time.Second)

	got, ok := c.Get(key)
	require.True(t, ok, "re-offer refreshes CreatedAt")
	assert.Equal(t, "2", string(got.Offer))
	assert.Equal(t, 1, c.Len())
}

func TestOfferCache_DeletePairLeavesOtherPairs(t *testing.T) {
	c := NewOfferCache(time.Minute, clock.NewFake(time.Unix(0, 0)))
	ab := OfferKey{ChatID: 9, CallerID: 1, CalleeID: 2}
	ba := ab.Reverse()
	ac := OfferKey{ChatID: 9, CallerID: 1, CalleeID: 3}
	c.Put(PendingOffer{Key: ab})
	c.Put(PendingOffer{Key: ba})
	c.Put(PendingOffer{Key: ac})

	assert.Equal(t, 2, c.DeletePair(9, 2, 1))

	_, ok := c.Get(ac)
	assert.True(t, ok)
	_, ok = c.Get(ab)
	assert.False(t, ok)
}

func TestOfferCache_Sweep(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := NewOfferCache(10*time.Second, clk)
	c.Put(PendingOffer{Key: OfferKey{ChatID: 1}})
	clk.Advance(5 * time.Second)
	c.Put(PendingOffer{Key: OfferKey{ChatID: 2}})
	clk.Advance(6 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Delete(OfferKey{ChatID: 1}))
}
