package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ReliabilityShim_OnAck_frees_slot(t *testing.T) {
	r := NewReliabilityShim(4, 1000, 3, nil)
	require.True(t, r.Queue(7, Address(9), []byte("frame"), Millis(0)))

	assert.True(t, r.OnAck(7))
	assert.Len(t, r.Pending(), 0)
}

func Test_ReliabilityShim_OnAck_unknown_id_is_noop(t *testing.T) {
	r := NewReliabilityShim(4, 1000, 3, nil)
	assert.False(t, r.OnAck(99))
}

func Test_ReliabilityShim_retransmits_until_max_retries_then_fails(t *testing.T) {
	r := NewReliabilityShim(4, 100, 2, nil)
	r.Queue(1, Address(5), []byte("f"), Millis(0))

	retransmits := 0
	r.Retransmit = func([]byte, Address) { retransmits++ }
	failed := false
	r.OnFailure = func(uint16, Address) { failed = true }

	r.Tick(Millis(150)) // first retry
	r.Tick(Millis(300)) // second retry, hits maxRetries
	r.Tick(Millis(450)) // gives up

	assert.Equal(t, 2, retransmits)
	assert.True(t, failed)
	assert.Len(t, r.Pending(), 0)
}

func Test_ReliabilityShim_does_not_retransmit_before_deadline(t *testing.T) {
	r := NewReliabilityShim(4, 1000, 3, nil)
	r.Queue(1, Address(5), []byte("f"), Millis(0))

	retransmits := 0
	r.Retransmit = func([]byte, Address) { retransmits++ }
	r.Tick(Millis(500))

	assert.Equal(t, 0, retransmits)
}

func Test_ReliabilityShim_queue_fails_when_table_full(t *testing.T) {
	r := NewReliabilityShim(2, 1000, 3, nil)
	require.True(t, r.Queue(1, Address(1), []byte("a"), Millis(0)))
	require.True(t, r.Queue(2, Address(2), []byte("b"), Millis(0)))

	assert.False(t, r.Queue(3, Address(3), []byte("c"), Millis(0)))
}
