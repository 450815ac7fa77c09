package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatcall_realtime/internal/clock"
)

func TestDeduper_SuppressesWithinWindow(t *testing.T) {
	clk := clock.NewFake(time.Unix(100, 0))
	d := NewDeduper(5*time.Second, clk)

	assert.True(t, d.Allow("a"))
	clk.Advance(4 * time.Second)
	assert.False(t, d.Allow("a"))
	assert.True(t, d.Allow("b"))

	clk.Advance(5 * time.Second)
	assert.True(t, d.Allow("a"), "window elapsed since first record")
}

func TestDeduper_EvictsAfterTwiceWindow(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	d := NewDeduper(5*time.Second, clk)
	d.Allow("old")

	clk.Advance(11 * time.Second)
	d.Allow("new")

	assert.Equal(t, 1, d.Len())

	clk.Advance(11 * time.Second)
	d.Sweep()
	assert.Equal(t, 0, d.Len())
}
