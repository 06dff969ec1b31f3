package mixer_test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/latoulicious/reelcore/pkg/mixer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_PushPopWraps(t *testing.T) {
	r := mixer.NewRing(4)

	assert.Equal(t, 3, r.Push([]float32{1, 2, 3}))
	out := make([]float32, 2)
	assert.Equal(t, 2, r.Pop(out))
	assert.Equal(t, []float32{1, 2}, out)

	// wraps around the end of the buffer
	assert.Equal(t, 3, r.Push([]float32{4, 5, 6, 7}))
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, 0, r.Free())

	out = make([]float32, 8)
	assert.Equal(t, 4, r.Pop(out))
	assert.Equal(t, []float32{3, 4, 5, 6}, out[:4])
	assert.Equal(t, 0, r.Pop(out))
}

func TestRing_ConcurrentSPSC(t *testing.T) {
	r := mixer.NewRing(64)
	const total = 100000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		next := 0
		chunk := make([]float32, 7)
		for next < total {
			n := 0
			for i := range chunk {
				if next+i >= total {
					break
				}
				chunk[i] = float32(next + i)
				n++
			}
			written := r.Push(chunk[:n])
			next += written
		}
	}()

	got := make([]float32, 0, total)
	buf := make([]float32, 13)
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < total && time.Now().Before(deadline) {
		n := r.Pop(buf)
		got = append(got, buf[:n]...)
	}
	wg.Wait()

	require.Len(t, got, total)
	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("sample %d out of order: got %v", i, v)
		}
	}
}

func TestMixer_SumsAndClamps(t *testing.T) {
	m := mixer.New(mixer.Config{SampleRate: 48000})
	a := m.NewSource("a", true)
	b := m.NewSource("b", true)

	a.Push([]float32{0.5, 0.9, -0.9, 0.1})
	b.Push([]float32{0.25, 0.9, -0.9})

	assert.Equal(t, 4, m.MixTick())

	out := make([]float32, 4)
	require.Equal(t, 4, m.Pull(out))
	assert.Equal(t, []float32{0.75, 1, -1, 0.1}, out)
	assert.Equal(t, uint64(2), m.Stats().Clipped)
}

func TestMixer_ZeroSourcesYieldsSilence(t *testing.T) {
	m := mixer.New(mixer.DefaultConfig())

	assert.Equal(t, 0, m.MixTick())

	out := []float32{9, 9, 9}
	assert.Equal(t, 0, m.Pull(out))
	assert.Equal(t, []float32{0, 0, 0}, out)
	assert.Equal(t, uint64(3), m.Stats().Underrun)
}

func TestMixer_InactiveSourceNotMixed(t *testing.T) {
	m := mixer.New(mixer.DefaultConfig())
	active := m.NewSource("primary", true)
	shadow := m.NewSource("shadow", false)

	active.Push([]float32{0.2, 0.2})
	shadow.Push([]float32{0.5, 0.5})

	m.MixTick()
	out := make([]float32, 2)
	m.Pull(out)
	assert.InDeltaSlice(t, []float64{0.2, 0.2}, []float64{float64(out[0]), float64(out[1])}, 1e-6)
	assert.Equal(t, 2, shadow.Buffered())

	shadow.Activate()
	active.Deactivate()
	m.MixTick()
	m.Pull(out)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, []float64{float64(out[0]), float64(out[1])}, 1e-6)
}

func TestMixer_TickBoundedByMixBufMax(t *testing.T) {
	m := mixer.New(mixer.Config{SampleRate: 48000, MixBufMax: 100})
	s := m.NewSource("s", true)
	s.Push(make([]float32, 250))

	assert.Equal(t, 100, m.MixTick())
	assert.Equal(t, 150, s.Buffered())
}

func TestMixer_OutputCapacityIsQuarterSecond(t *testing.T) {
	m := mixer.New(mixer.Config{SampleRate: 8000, MixBufMax: 4096})
	s := m.NewSource("s", true)
	for i := 0; i < 4; i++ {
		s.Push(make([]float32, 4096))
		m.MixTick()
	}
	assert.Equal(t, 2000, m.Buffered())
}

func TestSource_SwapBuffer(t *testing.T) {
	m := mixer.New(mixer.DefaultConfig())
	s := m.NewSource("preview", true)
	s.Push([]float32{0.9, 0.9})

	fresh := mixer.NewRing(16)
	fresh.Push([]float32{0.1})
	old := s.SwapBuffer(fresh)
	assert.Equal(t, 2, old.Len())

	m.MixTick()
	out := make([]float32, 2)
	assert.Equal(t, 1, m.Pull(out))
	assert.InDelta(t, 0.1, out[0], 1e-6)
	assert.Equal(t, float32(0), out[1])
}

func TestSource_OverflowDrops(t *testing.T) {
	s := mixer.NewSource("s", 4, true)
	assert.Equal(t, 4, s.Push(make([]float32, 6)))
	assert.Equal(t, uint64(2), s.Dropped())
}

func TestMixer_RemoveAndReplace(t *testing.T) {
	m := mixer.New(mixer.DefaultConfig())
	a := m.NewSource("a", true)
	b := m.NewSource("b", false)
	assert.Equal(t, 2, m.SourceCount())
	assert.Equal(t, 1, m.ActiveCount())

	assert.True(t, m.RemoveSource(a.ID()))
	assert.False(t, m.RemoveSource(a.ID()))
	assert.Equal(t, 1, m.SourceCount())

	m.ReplaceSources([]*mixer.Source{a, b})
	assert.Equal(t, 2, m.SourceCount())
	m.Clear()
	assert.Equal(t, 0, m.SourceCount())
}

func TestMixer_PullInterleaved(t *testing.T) {
	m := mixer.New(mixer.DefaultConfig())
	s := m.NewSource("s", true)
	s.Push([]float32{0.1, 0.2})
	m.MixTick()

	out := make([]float32, 6)
	assert.Equal(t, 2, m.PullInterleaved(out, 2))
	assert.InDeltaSlice(t,
		[]float64{0.1, 0.1, 0.2, 0.2, 0, 0},
		[]float64{float64(out[0]), float64(out[1]), float64(out[2]), float64(out[3]), float64(out[4]), float64(out[5])},
		1e-6)
}

func TestMixer_PullInterleavedReusesScratch(t *testing.T) {
	m := mixer.New(mixer.DefaultConfig())
	s := m.NewSource("s", true)

	out := make([]float32, 960*2)
	m.PullInterleaved(out, 2)
	allocs := testing.AllocsPerRun(100, func() {
		m.PullInterleaved(out, 2)
	})
	assert.Zero(t, allocs)

	// a shorter pull after a longer one only sees its own samples
	s.Push([]float32{0.3, 0.4, 0.5})
	m.MixTick()
	small := make([]float32, 4)
	assert.Equal(t, 2, m.PullInterleaved(small, 2))
	assert.InDeltaSlice(t,
		[]float64{0.3, 0.3, 0.4, 0.4},
		[]float64{float64(small[0]), float64(small[1]), float64(small[2]), float64(small[3])},
		1e-6)
	assert.Equal(t, 1, m.Buffered())
}

func TestNopProducer(t *testing.T) {
	var p mixer.Producer = mixer.NopProducer{}
	assert.Equal(t, 3, p.Push([]float32{1, 2, 3}))
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

func TestWriterDevice_PullsPeriodically(t *testing.T) {
	out := &safeBuffer{}
	dev := mixer.NewWriterDevice(out, 1000, 2, 5*time.Millisecond)

	var mu sync.Mutex
	calls := 0
	require.NoError(t, dev.Start(func(dst []float32) int {
		mu.Lock()
		calls++
		mu.Unlock()
		for i := range dst {
			dst[i] = 0
		}
		return len(dst) / 2
	}))

	assert.Eventually(t, func() bool { return out.Len() >= 2*5*2*4 }, time.Second, time.Millisecond)
	require.NoError(t, dev.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2)
}

func TestWriterDevice_Unavailable(t *testing.T) {
	dev := mixer.NewWriterDevice(nil, 48000, 2, 0)
	assert.ErrorIs(t, dev.Start(func([]float32) int { return 0 }), mixer.ErrDeviceUnavailable)
	assert.NoError(t, dev.Close())
}
