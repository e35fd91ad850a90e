package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_NameDirectory_resolves_bound_names(t *testing.T) {
	d := NewNameDirectory(nil)
	d.SetName("basecamp", Address(42))

	addr, ok := d.ResolveName("basecamp")
	assert.True(t, ok)
	assert.Equal(t, Address(42), addr)
	assert.Equal(t, "basecamp", d.GetName(Address(42)))
}

func Test_NameDirectory_falls_back_to_hex_address(t *testing.T) {
	d := NewNameDirectory(nil)
	assert.Equal(t, "0x0000002A", d.GetName(Address(42)))
}

func Test_NameDirectory_rebinds_existing_address(t *testing.T) {
	d := NewNameDirectory(nil)
	d.SetName("alpha", Address(1))
	d.SetName("beta", Address(1))

	assert.Equal(t, "beta", d.GetName(Address(1)))
	_, ok := d.ResolveName("alpha")
	assert.False(t, ok)
}

func Test_NameDirectory_evicts_oldest_when_full(t *testing.T) {
	d := NewNameDirectory(nil)
	for i := 0; i < MaxNames; i++ {
		d.SetName("n", Address(uint32(i)+1))
	}
	// One more forces the oldest (address 1) out.
	d.SetName("newest", Address(uint32(MaxNames)+100))

	assert.Equal(t, "0x00000001", d.GetName(Address(1)))
	assert.Equal(t, "newest", d.GetName(Address(uint32(MaxNames)+100)))
}

func Test_MessageHistory_orders_newest_first(t *testing.T) {
	h := NewMessageHistory()
	h.Record(Address(1), true, "first", Millis(0))
	h.Record(Address(1), false, "second", Millis(1))

	newest, ok := h.FromNewest(0)
	assert.True(t, ok)
	assert.Equal(t, "second", newest.Text)

	oldest, ok := h.FromNewest(1)
	assert.True(t, ok)
	assert.Equal(t, "first", oldest.Text)
}

func Test_MessageHistory_wraps_at_capacity(t *testing.T) {
	h := NewMessageHistory()
	for i := 0; i < HistorySize+3; i++ {
		h.Record(Address(1), true, "m", Millis(uint32(i)))
	}
	assert.Equal(t, HistorySize, h.Len())

	newest, _ := h.FromNewest(0)
	assert.Equal(t, Millis(HistorySize+2), newest.Timestamp)
}

func Test_MessageHistory_filter_by_peer_and_substring(t *testing.T) {
	h := NewMessageHistory()
	h.Record(Address(1), true, "status ok", Millis(0))
	h.Record(Address(2), true, "status bad", Millis(1))
	h.Record(Address(1), false, "ping", Millis(2))

	results := h.Filter(Address(1), "status")
	assert.Len(t, results, 1)
	assert.Equal(t, "status ok", results[0].Text)
}

func Test_PersistenceView_round_trips_through_NopStore(t *testing.T) {
	p := NewPersistenceView("routes", nil)
	p.Save("key", []byte("value"))

	_, ok := p.Load("key")
	assert.False(t, ok, "NopStore never actually retains anything")
}

type memStore struct {
	data map[string][]byte
}

func (m *memStore) Save(namespace, key string, value []byte) error {
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[namespace+"/"+key] = value
	return nil
}

func (m *memStore) Load(namespace, key string) ([]byte, bool) {
	v, ok := m.data[namespace+"/"+key]
	return v, ok
}

func Test_PersistenceView_namespaces_keys(t *testing.T) {
	store := &memStore{}
	routes := NewPersistenceView("routes", store)
	groups := NewPersistenceView("groups", store)

	routes.Save("a", []byte("route-data"))
	groups.Save("a", []byte("group-data"))

	v, ok := routes.Load("a")
	assert.True(t, ok)
	assert.Equal(t, "route-data", string(v))

	v, ok = groups.Load("a")
	assert.True(t, ok)
	assert.Equal(t, "group-data", string(v))
}
