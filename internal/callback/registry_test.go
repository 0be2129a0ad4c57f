package callback

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorapi/internal/monitoring"
)

type reading struct {
	value int
}

// recorder appends every delivery to a shared log.
type recorder struct {
	name string
	log  *[]string
	mu   *sync.Mutex
}

func (r *recorder) OnMessage(h int, msg *reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.log = append(*r.log, r.name)
}

// valueListener has a non-comparable field.
type valueListener struct {
	seen []int
}

func (v valueListener) OnMessage(int, *reading) {}

func newRecorders(names ...string) ([]*recorder, *[]string) {
	log := &[]string{}
	mu := &sync.Mutex{}
	out := make([]*recorder, len(names))
	for i, n := range names {
		out[i] = &recorder{name: n, log: log, mu: mu}
	}
	return out, log
}

func TestRegistry_NotifyInOrder(t *testing.T) {
	r := NewRegistry[int, reading]("test")
	recs, log := newRecorders("a", "b", "c")
	for _, rec := range recs {
		require.NoError(t, r.Add(1, rec))
	}

	n := r.Notify(1, &reading{value: 5})
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, *log)
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	r := NewRegistry[int, reading]("test")
	recs, log := newRecorders("a")

	require.NoError(t, r.Add(1, recs[0]))
	require.NoError(t, r.Add(1, recs[0]))
	assert.Equal(t, 1, r.Len(1))

	r.Notify(1, &reading{})
	assert.Equal(t, []string{"a"}, *log)

	// a single remove undoes a double add
	assert.True(t, r.Remove(1, recs[0]))
	assert.Equal(t, 0, r.Len(1))
	*log = nil
	assert.Equal(t, 0, r.Notify(1, &reading{}))
	assert.Empty(t, *log)
}

func TestRegistry_RemoveAbsentIsNoop(t *testing.T) {
	r := NewRegistry[int, reading]("test")
	recs, _ := newRecorders("a", "b")
	require.NoError(t, r.Add(1, recs[0]))

	assert.False(t, r.Remove(1, recs[1]))
	assert.False(t, r.Remove(2, recs[0]))
	assert.False(t, r.Remove(1, nil))
	assert.Equal(t, 1, r.Len(1))
}

func TestRegistry_RemoveKeepsOrder(t *testing.T) {
	r := NewRegistry[int, reading]("test")
	recs, log := newRecorders("a", "b", "c")
	for _, rec := range recs {
		require.NoError(t, r.Add(1, rec))
	}
	r.Remove(1, recs[1])
	r.Notify(1, &reading{})
	assert.Equal(t, []string{"a", "c"}, *log)
}

func TestRegistry_HandleIsolation(t *testing.T) {
	r := NewRegistry[int, reading]("test")
	recs, log := newRecorders("h1", "h2")
	require.NoError(t, r.Add(1, recs[0]))
	require.NoError(t, r.Add(2, recs[1]))

	r.Notify(2, &reading{})
	assert.Equal(t, []string{"h2"}, *log)

	// the same listener may be registered on several handles
	require.NoError(t, r.Add(2, recs[0]))
	assert.Equal(t, 2, r.Len(2))
	assert.Equal(t, 2, r.Handles())
}

func TestRegistry_ClearHandleAndClear(t *testing.T) {
	r := NewRegistry[int, reading]("test")
	recs, _ := newRecorders("a", "b")
	require.NoError(t, r.Add(1, recs[0]))
	require.NoError(t, r.Add(2, recs[1]))

	r.ClearHandle(1)
	assert.Equal(t, 0, r.Len(1))
	assert.Equal(t, 1, r.Len(2))

	r.Clear()
	assert.Equal(t, 0, r.Handles())
	assert.Equal(t, 0, r.Notify(2, &reading{}))
}

func TestRegistry_RejectsInvalidListeners(t *testing.T) {
	r := NewRegistry[int, reading]("test")

	assert.ErrorIs(t, r.Add(1, nil), ErrNilListener)

	var typedNil *recorder
	assert.ErrorIs(t, r.Add(1, typedNil), ErrNilListener)

	assert.ErrorIs(t, r.Add(1, valueListener{}), ErrListenerNotComparable)
	assert.Equal(t, 0, r.Len(1))
}

func TestRegistry_FuncListenersHaveIdentity(t *testing.T) {
	r := NewRegistry[int, reading]("test")
	var got []int
	fn := func(_ int, m *reading) { got = append(got, m.value) }

	l1 := Func(fn)
	l2 := Func(fn)
	require.NoError(t, r.Add(1, l1))
	require.NoError(t, r.Add(1, l2))
	assert.Equal(t, 2, r.Len(1))

	r.Remove(1, l1)
	r.Notify(1, &reading{value: 9})
	assert.Equal(t, []int{9}, got)
}

func TestRegistry_PanickingListenerIsContained(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	var logged int
	monitoring.SetLogger(func(string, ...interface{}) { logged++ })

	r := NewRegistry[int, reading]("test")
	var panics int
	r.OnPanic(func(any) { panics++ })

	recs, log := newRecorders("after")
	require.NoError(t, r.Add(1, Func(func(int, *reading) { panic("boom") })))
	require.NoError(t, r.Add(1, recs[0]))

	assert.NotPanics(t, func() { r.Notify(1, &reading{}) })
	assert.Equal(t, []string{"after"}, *log)
	assert.Equal(t, 1, panics)
	assert.Equal(t, 1, logged)
}

func TestRegistry_ConcurrentNotifyAndMutate(t *testing.T) {
	r := NewRegistry[int, reading]("test")
	recs, _ := newRecorders("a", "b", "c", "d")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(rec *recorder) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Add(1, rec)
				r.Remove(1, rec)
			}
		}(recs[i])
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Notify(1, &reading{value: j})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len(1))
}
