package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorapi/internal/callback"
	"github.com/banshee-data/sensorapi/internal/driver"
	"github.com/banshee-data/sensorapi/internal/driver/drivertest"
	"github.com/banshee-data/sensorapi/internal/flatmsg"
	"github.com/banshee-data/sensorapi/internal/monitoring"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
)

const (
	testTimeout = 5 * time.Second
	tick        = time.Millisecond
)

func quiet(t *testing.T) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

func newTestManager(t *testing.T, opts Options) (*Manager, *[]*drivertest.Driver) {
	t.Helper()
	quiet(t)
	created := &[]*drivertest.Driver{}
	if opts.Factory == nil {
		opts.Factory = drivertest.Factory(created)
	}
	m := NewManager(opts)
	t.Cleanup(m.Shutdown)
	return m, created
}

func testCloud() *scanmsg.PointCloudWithEcho {
	return &scanmsg.PointCloudWithEcho{
		PointCloud: scanmsg.PointCloud{
			Header: scanmsg.Header{Seq: 42, Stamp: scanmsg.Time{Sec: 5, Nsec: 6}, FrameID: "cloud"},
			Width:  2,
			Height: 1,
			Fields: []scanmsg.PointField{
				{Name: "x", Offset: 0, Datatype: 7, Count: 1},
				{Name: "y", Offset: 4, Datatype: 7, Count: 1},
				{Name: "z", Offset: 8, Datatype: 7, Count: 1},
				{Name: "i", Offset: 12, Datatype: 7, Count: 1},
			},
			PointStep: 16,
			RowStep:   32,
			Data:      make([]byte, 32),
		},
		NumEchos: 1,
	}
}

func TestManager_Lifecycle(t *testing.T) {
	m, created := newTestManager(t, Options{})

	h, err := m.Create([]string{"caller"})
	require.NoError(t, err)
	require.NotZero(t, h)
	drv := (*created)[0]
	assert.Equal(t, "caller", drv.CallerID)

	state, err := m.State(h)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, state)

	// close before init is a no-op
	require.NoError(t, m.Close(h))
	assert.Equal(t, 0, drv.Stops())

	require.NoError(t, m.Initialize(h, []string{"caller", "--x"}))
	state, _ = m.State(h)
	assert.Equal(t, StateRunning, state)
	assert.True(t, drv.Running())

	assert.ErrorIs(t, m.Initialize(h, nil), ErrAlreadyRunning)

	require.NoError(t, m.Close(h))
	require.NoError(t, m.Close(h))
	state, _ = m.State(h)
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 1, drv.Stops())

	// a closed session may be started again
	require.NoError(t, m.Initialize(h, []string{"caller"}))
	state, _ = m.State(h)
	assert.Equal(t, StateRunning, state)

	require.NoError(t, m.Release(h))
	assert.False(t, drv.Running())
	_, err = m.State(h)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, m.Release(h), ErrNotInitialized)
	assert.ErrorIs(t, m.Initialize(h, nil), ErrNotInitialized)
	assert.ErrorIs(t, m.Close(h), ErrNotInitialized)
}

func TestManager_InvalidHandles(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	for _, h := range []Handle{0, 1, makeHandle(7, 1), Handle(1 << 40)} {
		assert.ErrorIs(t, m.Validate(h), ErrNotInitialized, "handle %v", h)
		assert.ErrorIs(t, m.Initialize(h, nil), ErrNotInitialized)
		assert.ErrorIs(t, m.InitializeString(h, "--a"), ErrNotInitialized)
		assert.ErrorIs(t, m.Close(h), ErrNotInitialized)
		assert.ErrorIs(t, m.Release(h), ErrNotInitialized)
		l := callback.Func(func(Handle, *flatmsg.Imu) {})
		assert.ErrorIs(t, Register(m, h, scanmsg.KindImu, l), ErrNotInitialized)
		assert.ErrorIs(t, Deregister(m, h, scanmsg.KindImu, l), ErrNotInitialized)
	}
}

func TestManager_StaleHandleAfterSlotReuse(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	h1, err := m.Create(nil)
	require.NoError(t, err)
	require.NoError(t, m.Release(h1))

	h2, err := m.Create(nil)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	i1, _ := h1.index()
	i2, _ := h2.index()
	assert.Equal(t, i1, i2, "slot is reused")

	assert.ErrorIs(t, m.Validate(h1), ErrNotInitialized)
	assert.NoError(t, m.Validate(h2))
}

func TestManager_StartFailureKeepsPriorState(t *testing.T) {
	m, created := newTestManager(t, Options{})
	h, err := m.Create([]string{"caller"})
	require.NoError(t, err)
	drv := (*created)[0]

	drv.StartErr = errors.New("device unreachable")
	err = m.Initialize(h, []string{"caller"})
	assert.ErrorIs(t, err, ErrStartFailed)
	state, _ := m.State(h)
	assert.Equal(t, StateCreated, state)

	drv.StartErr = nil
	drv.ExitCode = 3
	assert.ErrorIs(t, m.Initialize(h, []string{"caller"}), ErrStartFailed)
	state, _ = m.State(h)
	assert.Equal(t, StateCreated, state)

	// the caller may retry
	drv.ExitCode = 0
	require.NoError(t, m.Initialize(h, []string{"caller"}))
	state, _ = m.State(h)
	assert.Equal(t, StateRunning, state)
}

func TestManager_CreateFailures(t *testing.T) {
	quiet(t)
	m := NewManager(Options{Factory: func(string) (driver.Driver, error) {
		return nil, errors.New("no node")
	}})
	h, err := m.Create([]string{"caller"})
	assert.Error(t, err)
	assert.Zero(t, h)

	m = NewManager(Options{})
	h, err = m.Create(nil)
	assert.ErrorIs(t, err, ErrNoDriver)
	assert.Zero(t, h)
}

func TestManager_DefaultCallerID(t *testing.T) {
	m, created := newTestManager(t, Options{CallerID: "configured"})
	_, err := m.Create(nil)
	require.NoError(t, err)
	_, err = m.Create([]string{""})
	require.NoError(t, err)
	assert.Equal(t, "configured", (*created)[0].CallerID)
	assert.Equal(t, "configured", (*created)[1].CallerID)
}

func TestManager_InitializeStringTokenizes(t *testing.T) {
	budget := flatmsg.NewBudget(0)
	m, created := newTestManager(t, Options{Allocator: budget})
	h, err := m.Create([]string{"caller"})
	require.NoError(t, err)

	require.NoError(t, m.InitializeString(h, "--a 1 --b 2"))
	starts := (*created)[0].Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, []string{"caller", "--a", "1", "--b", "2"}, starts[0])

	infos := m.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, 5, infos[0].Scratch)
	assert.Greater(t, budget.InUse(), int64(0))

	require.NoError(t, m.Release(h))
	assert.Equal(t, int64(0), budget.InUse())
}

func TestSplitLaunch(t *testing.T) {
	assert.Equal(t, []string{"me"}, SplitLaunch("me", ""))
	assert.Equal(t, []string{"me", "a", "", "b"}, SplitLaunch("me", "a  b"))
	assert.Equal(t, []string{"me", "--a", "1"}, SplitLaunch("me", "--a 1 "))
	assert.Equal(t, []string{"me", "--a", ""}, SplitLaunch("me", "--a  "))
	assert.Equal(t, []string{"me", "", "--a"}, SplitLaunch("me", " --a"))
	assert.Equal(t, []string{"me", ""}, SplitLaunch("me", " "))
	assert.Equal(t, []string{"me", "sick.launch", "hostname=10.0.0.1"}, SplitLaunch("me", "sick.launch hostname=10.0.0.1"))
}

func TestManager_ScratchExhausted(t *testing.T) {
	budget := flatmsg.NewBudget(8)
	m, created := newTestManager(t, Options{Allocator: budget})
	h, err := m.Create([]string{"caller"})
	require.NoError(t, err)

	err = m.InitializeString(h, "--launch-file very-long-path.launch")
	assert.ErrorIs(t, err, ErrScratchExhausted)
	assert.Empty(t, (*created)[0].Starts())
	assert.Equal(t, int64(0), budget.InUse())
	state, _ := m.State(h)
	assert.Equal(t, StateCreated, state)
}

func TestManager_PointCloudScenario(t *testing.T) {
	m, created := newTestManager(t, Options{})
	h, err := m.Create([]string{"caller"})
	require.NoError(t, err)

	var calls int
	var width, height uint32
	var seq uint32
	var fields, dataLen int
	l := callback.Func(func(hh Handle, msg *flatmsg.PointCloud) {
		calls++
		assert.Equal(t, h, hh)
		width, height, seq = msg.Width, msg.Height, msg.Seq
		fields = msg.Fields.Len()
		dataLen = msg.Data.Len()
	})
	require.NoError(t, Register(m, h, scanmsg.KindCartesianPointCloud, l))
	drv := (*created)[0]
	assert.True(t, drv.Subscribed(scanmsg.KindCartesianPointCloud))
	require.NoError(t, m.Initialize(h, []string{"caller"}))

	src := testCloud()
	assert.Equal(t, 1, drv.Emit(scanmsg.KindCartesianPointCloud, src))

	require.Equal(t, 1, calls)
	assert.Equal(t, uint32(2), width)
	assert.Equal(t, uint32(1), height)
	assert.Equal(t, uint32(42), seq)
	assert.Equal(t, 4, fields)
	assert.Equal(t, int(src.PointCloud.RowStep*src.PointCloud.Height), dataLen)

	// polar listeners do not see cartesian clouds
	assert.Equal(t, 0, m.Listeners(h, scanmsg.KindPolarPointCloud))
}

func TestManager_RegisterIdempotentAndDeregister(t *testing.T) {
	m, created := newTestManager(t, Options{})
	h, err := m.Create(nil)
	require.NoError(t, err)
	drv := (*created)[0]

	var calls int
	l := callback.Func(func(Handle, *flatmsg.Imu) { calls++ })
	require.NoError(t, Register(m, h, scanmsg.KindImu, l))
	require.NoError(t, Register(m, h, scanmsg.KindImu, l))
	assert.Equal(t, 1, m.Listeners(h, scanmsg.KindImu))

	drv.Emit(scanmsg.KindImu, &scanmsg.Imu{})
	assert.Equal(t, 1, calls)

	require.NoError(t, Deregister(m, h, scanmsg.KindImu, l))
	assert.False(t, drv.Subscribed(scanmsg.KindImu))
	drv.Emit(scanmsg.KindImu, &scanmsg.Imu{})
	assert.Equal(t, 1, calls)

	// deregistering again is not an error
	require.NoError(t, Deregister(m, h, scanmsg.KindImu, l))
}

// slowUnsubscribe widens the window between a Deregister deciding to disarm
// a kind and the driver acting on it.
type slowUnsubscribe struct {
	*drivertest.Driver
	delay time.Duration
}

func (d *slowUnsubscribe) Unsubscribe(kind scanmsg.Kind, sink driver.Sink) {
	time.Sleep(d.delay)
	d.Driver.Unsubscribe(kind, sink)
}

func TestManager_RegisterDuringDeregisterKeepsSubscription(t *testing.T) {
	var fake *drivertest.Driver
	m, _ := newTestManager(t, Options{Factory: func(callerID string) (driver.Driver, error) {
		fake = drivertest.New(callerID)
		return &slowUnsubscribe{Driver: fake, delay: 5 * time.Millisecond}, nil
	}})
	h, err := m.Create(nil)
	require.NoError(t, err)

	old := callback.Func(func(Handle, *flatmsg.Imu) {})
	require.NoError(t, Register(m, h, scanmsg.KindImu, old))

	var calls atomic.Int32
	fresh := callback.Func(func(Handle, *flatmsg.Imu) { calls.Add(1) })

	done := make(chan error, 1)
	go func() { done <- Deregister(m, h, scanmsg.KindImu, old) }()
	time.Sleep(tick)
	require.NoError(t, Register(m, h, scanmsg.KindImu, fresh))
	require.NoError(t, <-done)

	assert.Equal(t, 1, m.Listeners(h, scanmsg.KindImu))
	assert.True(t, fake.Subscribed(scanmsg.KindImu), "listener registered but driver subscription disarmed")
	fake.Emit(scanmsg.KindImu, &scanmsg.Imu{})
	assert.Equal(t, int32(1), calls.Load())
}

// drainingStop runs onStop from Stop the way a driver waits for its
// playback goroutine, which may still be inside a listener.
type drainingStop struct {
	*drivertest.Driver
	onStop func()
}

func (d *drainingStop) Stop() error {
	if d.onStop != nil {
		d.onStop()
	}
	return d.Driver.Stop()
}

func TestManager_CloseLetsDrainingListenersQuerySession(t *testing.T) {
	var drv *drainingStop
	m, _ := newTestManager(t, Options{Factory: func(callerID string) (driver.Driver, error) {
		drv = &drainingStop{Driver: drivertest.New(callerID)}
		return drv, nil
	}})
	h, err := m.Create(nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(h, []string{"caller"}))

	var stateDuringStop State
	var closeErr, initErr error
	drv.onStop = func() {
		queried := make(chan struct{})
		go func() {
			defer close(queried)
			stateDuringStop, _ = m.State(h)
			_ = m.Sessions()
			closeErr = m.Close(h)
			initErr = m.Initialize(h, []string{"caller"})
		}()
		select {
		case <-queried:
		case <-time.After(testTimeout):
			t.Error("session queries blocked while the driver was stopping")
		}
	}

	require.NoError(t, m.Close(h))
	assert.Equal(t, StateRunning, stateDuringStop)
	assert.ErrorIs(t, closeErr, ErrClosing)
	assert.ErrorIs(t, initErr, ErrClosing)

	state, err := m.State(h)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 1, drv.Stops())
}

func TestManager_CloseStopFailureKeepsRunning(t *testing.T) {
	m, created := newTestManager(t, Options{})
	h, err := m.Create(nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(h, []string{"caller"}))

	(*created)[0].StopErr = errors.New("port stuck")
	assert.Error(t, m.Close(h))
	state, _ := m.State(h)
	assert.Equal(t, StateRunning, state)

	(*created)[0].StopErr = nil
	require.NoError(t, m.Close(h))
	state, _ = m.State(h)
	assert.Equal(t, StateClosed, state)
}

func TestManager_RegisterRejects(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	h, err := m.Create(nil)
	require.NoError(t, err)

	imu := callback.Func(func(Handle, *flatmsg.Imu) {})
	assert.ErrorIs(t, Register(m, h, scanmsg.KindCartesianPointCloud, imu), ErrKindMismatch)
	assert.ErrorIs(t, Register(m, h, scanmsg.Kind(99), imu), ErrInvalidKind)
	assert.ErrorIs(t, Register[flatmsg.Imu](m, h, scanmsg.KindImu, nil), callback.ErrNilListener)
}

func TestManager_HandleIsolation(t *testing.T) {
	m, created := newTestManager(t, Options{})
	h1, _ := m.Create([]string{"one"})
	h2, _ := m.Create([]string{"two"})

	var got []Handle
	l := callback.Func(func(h Handle, _ *flatmsg.ObjectArray) { got = append(got, h) })
	require.NoError(t, Register(m, h1, scanmsg.KindObjectArray, l))
	require.NoError(t, Register(m, h2, scanmsg.KindObjectArray, l))

	(*created)[1].Emit(scanmsg.KindObjectArray, &scanmsg.ObjectArray{})
	assert.Equal(t, []Handle{h2}, got)
}

func TestManager_ReleaseClearsListeners(t *testing.T) {
	m, created := newTestManager(t, Options{})
	h, err := m.Create([]string{"caller"})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(h, []string{"caller"}))

	var calls int
	require.NoError(t, Register(m, h, scanmsg.KindImu, callback.Func(func(Handle, *flatmsg.Imu) { calls++ })))
	require.NoError(t, Register(m, h, scanmsg.KindMarkerArray, callback.Func(func(Handle, *flatmsg.MarkerArray) { calls++ })))

	m.mu.RLock()
	sink := m.sessions.get(h).sink
	m.mu.RUnlock()

	require.NoError(t, m.Release(h))
	assert.Equal(t, 0, m.Listeners(h, scanmsg.KindImu))
	assert.Equal(t, 0, m.Listeners(h, scanmsg.KindMarkerArray))
	drv := (*created)[0]
	assert.False(t, drv.Subscribed(scanmsg.KindImu))

	// a driver still holding the sink reaches no listener
	sink.Imu(&scanmsg.Imu{})
	sink.MarkerArray(&scanmsg.MarkerArray{Markers: make([]scanmsg.Marker, 1)})
	assert.Equal(t, 0, calls)
}

func TestManager_NoDeliveryAfterRelease(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	h, err := m.Create(nil)
	require.NoError(t, err)

	var calls atomic.Int64
	require.NoError(t, Register(m, h, scanmsg.KindImu, callback.Func(func(Handle, *flatmsg.Imu) { calls.Add(1) })))
	m.mu.RLock()
	sink := m.sessions.get(h).sink
	m.mu.RUnlock()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				sink.Imu(&scanmsg.Imu{})
			}
		}
	}()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, testTimeout, tick)
	require.NoError(t, m.Release(h))
	after := calls.Load()
	for i := 0; i < 1000; i++ {
		sink.Imu(&scanmsg.Imu{})
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, after, calls.Load())
}

func TestManager_DispatchReleasesBuffers(t *testing.T) {
	budget := flatmsg.NewBudget(0)
	m, created := newTestManager(t, Options{Allocator: budget})
	h, _ := m.Create(nil)

	var objects int
	require.NoError(t, Register(m, h, scanmsg.KindRadarScan, callback.Func(func(_ Handle, msg *flatmsg.RadarScan) {
		objects = msg.Objects.Len()
		assert.Greater(t, budget.InUse(), int64(0))
	})))
	(*created)[0].Emit(scanmsg.KindRadarScan, &scanmsg.RadarScan{
		Targets: testCloud().PointCloud,
		Objects: []scanmsg.TrackedObject{{ID: 1, ContourPoints: make([]scanmsg.Vector3, 4)}, {ID: 2}},
	})
	assert.Equal(t, 2, objects)
	assert.Equal(t, int64(0), budget.InUse())

	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "radar_scan", stats[0].Kind)
	assert.Equal(t, uint64(1), stats[0].Delivered)
	assert.InDelta(t, 4.0, stats[0].MeanElements, 1e-9)
}

func TestManager_ListenerPanicCounted(t *testing.T) {
	m, created := newTestManager(t, Options{})
	h, _ := m.Create(nil)
	var after int
	require.NoError(t, Register(m, h, scanmsg.KindOutputState, callback.Func(func(Handle, *flatmsg.OutputState) { panic("listener bug") })))
	require.NoError(t, Register(m, h, scanmsg.KindOutputState, callback.Func(func(Handle, *flatmsg.OutputState) { after++ })))

	assert.NotPanics(t, func() { (*created)[0].Emit(scanmsg.KindOutputState, &scanmsg.OutputState{}) })
	assert.Equal(t, 1, after)
	assert.Equal(t, uint64(1), m.Stats()[0].Panics)
}

func TestManager_Shutdown(t *testing.T) {
	quiet(t)
	var created []*drivertest.Driver
	m := NewManager(Options{Factory: drivertest.Factory(&created)})
	h1, _ := m.Create(nil)
	h2, _ := m.Create(nil)
	require.NoError(t, m.Initialize(h1, nil))
	require.NoError(t, Register(m, h2, scanmsg.KindFieldResult, callback.Func(func(Handle, *flatmsg.FieldResult) {})))

	m.Shutdown()
	assert.False(t, created[0].Running())
	assert.ErrorIs(t, m.Validate(h1), ErrNotInitialized)
	assert.ErrorIs(t, m.Validate(h2), ErrNotInitialized)
	assert.Equal(t, 0, m.Listeners(h2, scanmsg.KindFieldResult))

	_, err := m.Create(nil)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestManager_AdminRoutes(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	h, _ := m.Create([]string{"caller", "--x"})
	require.NoError(t, Register(m, h, scanmsg.KindImu, callback.Func(func(Handle, *flatmsg.Imu) {})))

	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, h, infos[0].Handle)
	assert.Equal(t, "caller", infos[0].CallerID)
	assert.Equal(t, map[string]int{"imu": 1}, infos[0].Listeners)

	req = httptest.NewRequest(http.MethodPost, "/debug/sessions", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/debug/dispatch-stats", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	id, err := m.SessionID(h)
	require.NoError(t, err)
	for _, tc := range []struct {
		path string
		code int
	}{
		{"/debug/sessions?id=" + id, http.StatusOK},
		{"/debug/sessions?id=missing", http.StatusNotFound},
		{"/debug/dispatch-stats?kind=imu", http.StatusOK},
		{"/debug/dispatch-stats?kind=lidar", http.StatusBadRequest},
	} {
		req = httptest.NewRequest(http.MethodGet, tc.path, nil)
		req.RemoteAddr = "127.0.0.1:12345"
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, tc.code, rec.Code, tc.path)
	}

	req = httptest.NewRequest(http.MethodGet, "/debug/sessions?id="+id, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var one Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, id, one.ID)
}
