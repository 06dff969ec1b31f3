package common_test

import (
	"testing"

	"github.com/latoulicious/reelcore/pkg/common"
	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handle(id string, duration float64) decoder.SourceHandle {
	return decoder.SourceHandle{ID: id, Path: id + ".mp4", Duration: duration, FrameRate: 30}
}

func newQueue(t *testing.T, sources ...decoder.SourceHandle) *common.SourceQueue {
	t.Helper()
	q := common.NewSourceQueue("test-session")
	for _, src := range sources {
		require.NoError(t, q.Add(src))
	}
	return q
}

func TestSourceQueue_Add(t *testing.T) {
	q := newQueue(t, handle("a", 3))

	assert.Error(t, q.Add(decoder.SourceHandle{Duration: 1}), "empty id")
	assert.Error(t, q.Add(handle("b", 0)), "no duration")
	assert.Error(t, q.Add(handle("a", 2)), "duplicate id")
	assert.Equal(t, 1, q.Size())
}

func TestSourceQueue_Navigation(t *testing.T) {
	q := newQueue(t, handle("a", 3), handle("b", 2), handle("c", 4))

	next, ok := q.Next("a")
	require.True(t, ok)
	assert.Equal(t, "b", next.ID)

	_, ok = q.Next("c")
	assert.False(t, ok)
	_, ok = q.Next("missing")
	assert.False(t, ok)

	prev, ok := q.Previous("c")
	require.True(t, ok)
	assert.Equal(t, "b", prev.ID)
	_, ok = q.Previous("a")
	assert.False(t, ok)

	first, ok := q.First()
	require.True(t, ok)
	assert.Equal(t, "a", first.ID)

	got, ok := q.Get("c")
	require.True(t, ok)
	assert.Equal(t, 4.0, got.Duration)
}

func TestSourceQueue_Offsets(t *testing.T) {
	q := newQueue(t, handle("a", 3), handle("b", 2), handle("c", 4))

	for id, want := range map[string]float64{"a": 0, "b": 3, "c": 5} {
		offset, ok := q.Offset(id)
		require.True(t, ok)
		assert.Equal(t, want, offset, id)
	}
	assert.Equal(t, 9.0, q.Duration())

	_, ok := q.Offset("missing")
	assert.False(t, ok)
}

func TestSourceQueue_Locate(t *testing.T) {
	q := newQueue(t, handle("a", 3), handle("b", 2))

	src, local, ok := q.Locate(4.5)
	require.True(t, ok)
	assert.Equal(t, "b", src.ID)
	assert.InDelta(t, 1.5, local, 1e-9)

	src, local, _ = q.Locate(3)
	assert.Equal(t, "b", src.ID, "a boundary belongs to the next source")
	assert.Equal(t, 0.0, local)

	src, local, _ = q.Locate(-1)
	assert.Equal(t, "a", src.ID)
	assert.Equal(t, 0.0, local)

	src, local, _ = q.Locate(100)
	assert.Equal(t, "b", src.ID)
	assert.Equal(t, 2.0, local)

	_, _, ok = common.NewSourceQueue("empty").Locate(1)
	assert.False(t, ok)
}

func TestSourceQueue_RemoveReindexes(t *testing.T) {
	q := newQueue(t, handle("a", 3), handle("b", 2), handle("c", 4))

	require.NoError(t, q.Remove(1))
	assert.Error(t, q.Remove(5))
	assert.Error(t, q.Remove(-1))

	next, ok := q.Next("a")
	require.True(t, ok)
	assert.Equal(t, "c", next.ID)
	offset, _ := q.Offset("c")
	assert.Equal(t, 3.0, offset)

	items := q.List()
	require.Len(t, items, 2)
	assert.Equal(t, 3.0, items[1].Offset)
	assert.False(t, items[0].AddedAt.IsZero())
}

func TestSourceQueue_ClearAndStatus(t *testing.T) {
	q := newQueue(t, handle("a", 3), handle("b", 2))

	status := q.GetDetailedStatus()
	assert.Equal(t, "test-session", status["session_id"])
	assert.Equal(t, 2, status["queue_size"])
	assert.Equal(t, []string{"a", "b"}, status["sources"])
	assert.Equal(t, 5.0, status["duration"])

	q.Clear()
	assert.Equal(t, 0, q.Size())
	_, ok := q.First()
	assert.False(t, ok)
	require.NoError(t, q.Add(handle("a", 1)), "ids are free again after Clear")
}
