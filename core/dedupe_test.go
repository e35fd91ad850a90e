package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_BroadcastDedupe_remembers_within_ttl(t *testing.T) {
	d := NewBroadcastDedupe(1000)
	assert.False(t, d.Seen(Address(1), 42, Millis(0)))

	d.Remember(Address(1), 42, Millis(0))
	assert.True(t, d.Seen(Address(1), 42, Millis(500)))
}

func Test_BroadcastDedupe_expires_after_ttl(t *testing.T) {
	d := NewBroadcastDedupe(1000)
	d.Remember(Address(1), 42, Millis(0))
	assert.False(t, d.Seen(Address(1), 42, Millis(2000)))
}

func Test_BroadcastDedupe_distinguishes_source_and_packet_id(t *testing.T) {
	d := NewBroadcastDedupe(1000)
	d.Remember(Address(1), 42, Millis(0))

	assert.False(t, d.Seen(Address(2), 42, Millis(0)))
	assert.False(t, d.Seen(Address(1), 43, Millis(0)))
}

func Test_BroadcastDedupe_wraps_around_fixed_history(t *testing.T) {
	d := NewBroadcastDedupe(1_000_000)
	for i := 0; i < broadcastHistorySize+5; i++ {
		d.Remember(Address(1), uint16(i), Millis(0))
	}
	// The oldest entries were evicted by the ring wrapping around.
	assert.False(t, d.Seen(Address(1), 0, Millis(0)))
	assert.True(t, d.Seen(Address(1), uint16(broadcastHistorySize+4), Millis(0)))
}
