package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_DTNQueue_single_fragment_round_trip(t *testing.T) {
	sender := NewDTNQueue(Address(1), DTNMaxBundles, newTestRNG(), nil)
	receiver := NewDTNQueue(Address(2), DTNMaxBundles, newTestRNG(), nil)

	var delivered []byte
	receiver.OnDelivered = func(id uint32, payload []byte) { delivered = payload }

	id, ok := sender.CreateBundle(Address(2), []byte("short message"), BundleNormal, 0, 0, Millis(0))
	require.True(t, ok)

	sender.SendFragment = func(nextHop Address, bundleID uint32, fragmentIdx uint8, header Bundle, payload []byte) {
		require.Equal(t, uint8(1), header.TotalFragments, "single-fragment bundles must stamp TotalFragments=1")
		receiver.HandleFragment(bundleID, header.Source, header.Destination, fragmentIdx, header.TotalFragments, header.Priority, header.Flags, header.MaxHops, payload, header.Source, Millis(10))
	}

	require.True(t, sender.Forward(id, Address(2), Millis(0)))
	assert.Equal(t, "short message", string(delivered))
}

func Test_DTNQueue_fragments_large_bundle_and_reassembles(t *testing.T) {
	sender := NewDTNQueue(Address(1), DTNMaxBundles, newTestRNG(), nil)
	receiver := NewDTNQueue(Address(2), DTNMaxBundles, newTestRNG(), nil)

	payload := make([]byte, DTNFragmentSize*3+50)
	for i := range payload {
		payload[i] = byte(i)
	}

	var delivered []byte
	receiver.OnDelivered = func(id uint32, p []byte) { delivered = p }

	id, ok := sender.CreateBundle(Address(2), payload, BundleExpedited, 0, 0, Millis(0))
	require.True(t, ok)

	fragmentsSent := 0
	sender.SendFragment = func(nextHop Address, bundleID uint32, fragmentIdx uint8, header Bundle, frag []byte) {
		fragmentsSent++
		receiver.HandleFragment(bundleID, header.Source, header.Destination, fragmentIdx, header.TotalFragments, header.Priority, header.Flags, header.MaxHops, frag, header.Source, Millis(10))
	}

	require.True(t, sender.Forward(id, Address(2), Millis(0)))
	assert.Equal(t, 4, fragmentsSent)
	assert.Equal(t, payload, delivered)
}

func Test_DTNQueue_custody_bundle_enters_custody_wait(t *testing.T) {
	sender := NewDTNQueue(Address(1), DTNMaxBundles, newTestRNG(), nil)
	sender.SendFragment = func(Address, uint32, uint8, Bundle, []byte) {}

	id, _ := sender.CreateBundle(Address(2), []byte("x"), BundleNormal, 0, BundleFlagCustody, Millis(0))
	sender.Forward(id, Address(2), Millis(0))

	b := sender.findByID(id)
	require.NotNil(t, b)
	assert.Equal(t, BundleCustodyWait, b.Status)
}

func Test_DTNQueue_expires_bundle_past_ttl(t *testing.T) {
	q := NewDTNQueue(Address(1), DTNMaxBundles, newTestRNG(), nil)
	var status BundleStatus
	q.OnStatus = func(id uint32, s BundleStatus) { status = s }

	id, ok := q.CreateBundle(Address(2), []byte("x"), BundleBulk, 1000, 0, Millis(0))
	require.True(t, ok)

	q.Tick(Millis(500))
	assert.Equal(t, 1, q.TotalBundles())

	q.Tick(Millis(2000))
	assert.Equal(t, BundleExpired, status)
	assert.Equal(t, 0, q.TotalBundles())
	_ = id
}

func Test_DTNQueue_evicts_lower_priority_when_full(t *testing.T) {
	q := NewDTNQueue(Address(1), DTNMaxBundles, newTestRNG(), nil)
	for i := 0; i < DTNMaxBundles; i++ {
		_, ok := q.CreateBundle(Address(2), []byte("bulk"), BundleBulk, 0, 0, Millis(0))
		require.True(t, ok)
	}
	require.Equal(t, DTNMaxBundles, q.TotalBundles())

	_, ok := q.CreateBundle(Address(3), []byte("urgent"), BundleEmergency, 0, 0, Millis(0))
	assert.True(t, ok, "a higher priority bundle should evict a lower priority one once full")
	assert.Equal(t, DTNMaxBundles, q.TotalBundles())
}
