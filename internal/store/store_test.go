package store

import (
	"testing"

	"github.com/reforgehq/reforge-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intRow(v int64) []wire.ConfigRow {
	return []wire.ConfigRow{{Values: []wire.ConditionalValue{{Value: wire.ConfigValue{Int: &v}}}}}
}

func TestSet_HighwaterMonotonic(t *testing.T) {
	s := New(nil)
	require.Equal(t, uint64(0), s.Highwater())

	s.Set(wire.ConfigEntry{ID: 1, Key: "sample_int", Rows: intRow(456)}, "test")
	assert.Equal(t, uint64(1), s.Highwater())

	s.Set(wire.ConfigEntry{ID: 5, Key: "sample_int", Rows: intRow(456)}, "test")
	assert.Equal(t, uint64(5), s.Highwater())

	// stale redelivery still advances highwater but doesn't change the
	// visible value.
	changed := s.Set(wire.ConfigEntry{ID: 2, Key: "sample_int", Rows: intRow(456)}, "test")
	assert.False(t, changed)
	assert.Equal(t, uint64(5), s.Highwater())

	entry, ok := s.Get("sample_int")
	require.True(t, ok)
	assert.Equal(t, uint64(5), entry.ID)
}

func TestSet_StaleRedeliveryIgnored(t *testing.T) {
	s := New(nil)
	s.Set(wire.ConfigEntry{ID: 5, Key: "k", Rows: intRow(5)}, "sse_streaming")
	s.Set(wire.ConfigEntry{ID: 3, Key: "k", Rows: intRow(3)}, "poll")

	entry, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, uint64(5), entry.ID)
	assert.Equal(t, uint64(5), s.Highwater())
}

func TestTombstone_RemovesKeyWhenNewer(t *testing.T) {
	s := New(nil)
	s.Set(wire.ConfigEntry{ID: 2, Key: "k", Rows: intRow(1)}, "test")
	s.Set(wire.ConfigEntry{ID: 3, Key: "k", Rows: nil}, "test")

	_, ok := s.Get("k")
	assert.False(t, ok)
	assert.Equal(t, uint64(3), s.Highwater())
}

func TestTombstone_NoopWhenNotNewer(t *testing.T) {
	s := New(nil)
	s.Set(wire.ConfigEntry{ID: 5, Key: "k", Rows: intRow(1)}, "test")
	changed := s.Set(wire.ConfigEntry{ID: 2, Key: "k", Rows: nil}, "test")

	assert.False(t, changed)
	entry, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, uint64(5), entry.ID)
	assert.Equal(t, uint64(5), s.Highwater())
}

func TestInvariant_RowsNeverEmptyForPresentKey(t *testing.T) {
	s := New(nil)
	s.Set(wire.ConfigEntry{ID: 1, Key: "k", Rows: intRow(1)}, "test")

	entry, ok := s.Get("k")
	require.True(t, ok)
	assert.NotEmpty(t, entry.Rows)
}

func TestSetAll_ArrivalOrderAndPointer(t *testing.T) {
	s := New(nil)
	ptr := &wire.ConfigServicePointer{ProjectID: 1, ProjectEnvID: 2}

	changed, nonEmpty := s.SetAll(wire.Configs{
		Configs: []wire.ConfigEntry{
			{ID: 1, Key: "a", Rows: intRow(1)},
			{ID: 2, Key: "b", Rows: intRow(2)},
		},
		ConfigServicePointer: ptr,
	}, "remote_cdn_api")

	assert.True(t, changed)
	assert.True(t, nonEmpty)

	gotPtr, ok := s.ProjectPointer()
	require.True(t, ok)
	assert.Equal(t, *ptr, gotPtr)
}

func TestSetAll_EmptyEnvelopeReportsNonEmptyFalse(t *testing.T) {
	s := New(nil)
	_, nonEmpty := s.SetAll(wire.Configs{}, "remote_cdn_api")
	assert.False(t, nonEmpty)
}

func TestSnapshot_IsolatedFromFutureWrites(t *testing.T) {
	s := New(nil)
	s.Set(wire.ConfigEntry{ID: 1, Key: "k", Rows: intRow(1)}, "test")

	snap := s.Snapshot()
	s.Set(wire.ConfigEntry{ID: 2, Key: "k", Rows: intRow(2)}, "test")

	assert.Equal(t, uint64(1), snap["k"].ID)
	entry, _ := s.Get("k")
	assert.Equal(t, uint64(2), entry.ID)
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	s := New(nil)
	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 200; i++ {
			s.Set(wire.ConfigEntry{ID: i, Key: "k", Rows: intRow(int64(i))}, "test")
		}
		close(done)
	}()

	for i := 0; i < 200; i++ {
		s.Get("k")
		s.Snapshot()
	}
	<-done
	assert.Equal(t, uint64(200), s.Highwater())
}
