// Package session owns the lifecycle of driver sessions: the handle table,
// the created/initializing/running/closed state machine, the per-kind
// listener registries and the dispatch of driver messages to listeners.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/sensorapi/internal/callback"
	"github.com/banshee-data/sensorapi/internal/driver"
	"github.com/banshee-data/sensorapi/internal/flatmsg"
	"github.com/banshee-data/sensorapi/internal/monitoring"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
	"github.com/banshee-data/sensorapi/internal/timeutil"
	"github.com/banshee-data/sensorapi/internal/version"
)

var (
	ErrNotInitialized = errors.New("session: invalid or released handle")
	ErrAlreadyRunning = errors.New("session: already initialized")
	ErrInitializing   = errors.New("session: initialization in progress")
	ErrClosing        = errors.New("session: close in progress")
	ErrStartFailed    = errors.New("session: driver start failed")
	ErrInvalidKind    = errors.New("session: invalid message kind")
	ErrKindMismatch   = errors.New("session: listener type does not match message kind")
	ErrNoDriver       = errors.New("session: no driver factory configured")
	ErrShutdown       = errors.New("session: manager shut down")
)

// DefaultCallerID is used when Create receives no caller identity and none
// is configured.
const DefaultCallerID = "sensorapi"

// Options configure a Manager.
type Options struct {
	// Factory builds the driver for each new session.
	Factory driver.Factory
	// Allocator accounts flat message buffers and scratch records. Nil
	// means unbounded.
	Allocator flatmsg.Allocator
	// Clock times dispatch. Nil uses the real clock.
	Clock timeutil.Clock
	// CallerID is the identity used when Create gets none.
	CallerID string
	// StatsWindow is the number of dispatch samples kept per kind.
	StatsWindow int
}

type session struct {
	id       uuid.UUID
	callerID string
	created  time.Time
	drv      driver.Driver
	sink     *dispatcher

	mu       sync.Mutex
	state    State
	stopping bool
	released bool
	args     []string
	scratch  scratch

	// subMu serializes registry changes with the driver subscription they
	// arm or disarm.
	subMu sync.Mutex
}

// Manager is an explicit context holding every session of one process-wide
// driver context. It is safe for concurrent use.
type Manager struct {
	factory  driver.Factory
	alloc    flatmsg.Allocator
	conv     *flatmsg.Converter
	clock    timeutil.Clock
	callerID string
	stats    *monitoring.DispatchStats

	ctx    context.Context
	cancel context.CancelFunc

	regs map[scanmsg.Kind]registry

	mu       sync.RWMutex
	sessions table
	closed   bool
}

// registry is the kind-independent part of callback.Registry.
type registry interface {
	Len(h Handle) int
	Handles() int
	ClearHandle(h Handle)
	Clear()
}

func newRegistry[M any](m *Manager, kind scanmsg.Kind) *callback.Registry[Handle, M] {
	r := callback.NewRegistry[Handle, M](kind.String())
	r.OnPanic(func(any) { m.stats.ObservePanic(kind.String()) })
	m.regs[kind] = r
	return r
}

// NewManager returns a Manager with one registry per message kind.
func NewManager(opts Options) *Manager {
	alloc := opts.Allocator
	if alloc == nil {
		alloc = flatmsg.Unbounded
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	callerID := opts.CallerID
	if callerID == "" {
		callerID = DefaultCallerID
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		factory:  opts.Factory,
		alloc:    alloc,
		conv:     flatmsg.NewConverter(alloc),
		clock:    clock,
		callerID: callerID,
		stats:    monitoring.NewDispatchStats(opts.StatsWindow),
		ctx:      ctx,
		cancel:   cancel,
		regs:     make(map[scanmsg.Kind]registry, len(scanmsg.Kinds)),
	}
	newRegistry[flatmsg.PointCloud](m, scanmsg.KindCartesianPointCloud)
	newRegistry[flatmsg.PointCloud](m, scanmsg.KindPolarPointCloud)
	newRegistry[flatmsg.Imu](m, scanmsg.KindImu)
	newRegistry[flatmsg.FieldResult](m, scanmsg.KindFieldResult)
	newRegistry[flatmsg.OutputState](m, scanmsg.KindOutputState)
	newRegistry[flatmsg.RadarScan](m, scanmsg.KindRadarScan)
	newRegistry[flatmsg.ObjectArray](m, scanmsg.KindObjectArray)
	newRegistry[flatmsg.MarkerArray](m, scanmsg.KindMarkerArray)
	return m
}

// Allocator returns the allocator flat messages are accounted against.
func (m *Manager) Allocator() flatmsg.Allocator {
	return m.alloc
}

func (m *Manager) lookup(h Handle) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions.get(h)
	if s == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInitialized, h)
	}
	return s, nil
}

// Create allocates a session. args[0], when present and non-empty, is the
// caller identity handed to the driver.
func (m *Manager) Create(args []string) (Handle, error) {
	callerID := m.callerID
	if len(args) > 0 && args[0] != "" {
		callerID = args[0]
	}
	if m.factory == nil {
		return 0, ErrNoDriver
	}
	drv, err := m.factory(callerID)
	if err != nil {
		return 0, fmt.Errorf("session: create driver: %w", err)
	}

	s := &session{
		id:       uuid.New(),
		callerID: callerID,
		created:  m.clock.Now(),
		drv:      drv,
		state:    StateCreated,
		args:     append([]string(nil), args...),
		scratch:  scratch{alloc: m.alloc},
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrShutdown
	}
	h := m.sessions.insert(s)
	s.sink = &dispatcher{m: m, handle: h}
	m.mu.Unlock()

	monitoring.Logf("[session] created %v id=%s caller=%q (sensorapi %s, %s)", h, s.id, callerID, version.Version, version.GitSHA)
	return h, nil
}

// Initialize starts the session's driver with args passed through as the
// launch vector.
func (m *Manager) Initialize(h Handle, args []string) error {
	s, err := m.lookup(h)
	if err != nil {
		return err
	}
	return m.start(h, s, args)
}

// InitializeString splits launch on single spaces, prepends the caller
// identity and starts the driver with the result. No quoting is supported,
// consecutive spaces produce empty arguments and a single trailing space is
// dropped.
func (m *Manager) InitializeString(h Handle, launch string) error {
	s, err := m.lookup(h)
	if err != nil {
		return err
	}
	args := SplitLaunch(s.callerID, launch)

	s.mu.Lock()
	tracked, err := s.scratch.track(args)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return m.start(h, s, tracked)
}

// SplitLaunch builds the launch vector for a launch string.
func SplitLaunch(callerID, launch string) []string {
	args := []string{callerID}
	if launch == "" {
		return args
	}
	tokens := strings.Split(launch, " ")
	if tokens[len(tokens)-1] == "" {
		tokens = tokens[:len(tokens)-1]
	}
	return append(args, tokens...)
}

func (m *Manager) start(h Handle, s *session, args []string) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNotInitialized, h)
	}
	prior := s.state
	switch prior {
	case StateInitializing:
		s.mu.Unlock()
		return ErrInitializing
	case StateRunning:
		stopping := s.stopping
		s.mu.Unlock()
		if stopping {
			return ErrClosing
		}
		return ErrAlreadyRunning
	}
	s.state = StateInitializing
	s.mu.Unlock()

	code, err := s.drv.Start(m.ctx, args)

	s.mu.Lock()
	if err != nil || code != 0 {
		s.state = prior
		s.mu.Unlock()
		monitoring.Logf("[session] %v: driver start failed (exit code %d): %v", h, code, err)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStartFailed, err)
		}
		return fmt.Errorf("%w: exit code %d", ErrStartFailed, code)
	}
	released := s.released
	if !released {
		s.state = StateRunning
	}
	s.mu.Unlock()

	if released {
		// Released while starting; the release could not stop what had not
		// started yet. Stop may wait on listeners, so s.mu is not held.
		if err := s.drv.Stop(); err != nil {
			monitoring.Logf("[session] %v: stop after release: %v", h, err)
		}
		return fmt.Errorf("%w: %v", ErrNotInitialized, h)
	}
	monitoring.Logf("[session] %v: running with %d launch args", h, len(args))
	return nil
}

// Close stops a running driver. Closing a session that is not running is a
// no-op; listeners stay registered either way. The driver is stopped without
// holding the session lock, so listeners still draining may query the
// session.
func (m *Manager) Close(h Handle) error {
	s, err := m.lookup(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	switch {
	case s.state == StateInitializing:
		s.mu.Unlock()
		return ErrInitializing
	case s.stopping:
		s.mu.Unlock()
		return ErrClosing
	case s.state != StateRunning:
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	stopErr := s.drv.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = false
	if stopErr != nil {
		return fmt.Errorf("session: stop driver: %w", stopErr)
	}
	s.state = StateClosed
	monitoring.Logf("[session] %v: closed", h)
	return nil
}

// Release invalidates h, stops its driver, removes every listener it has in
// every registry and frees its scratch records. Once Release returns no
// listener of h is called again.
func (m *Manager) Release(h Handle) error {
	m.mu.Lock()
	s := m.sessions.remove(h)
	m.mu.Unlock()
	if s == nil {
		return fmt.Errorf("%w: %v", ErrNotInitialized, h)
	}
	m.teardown(h, s)
	return nil
}

func (m *Manager) teardown(h Handle, s *session) {
	s.mu.Lock()
	s.released = true
	running := s.state == StateRunning
	freed := s.scratch.free()
	s.mu.Unlock()

	if running {
		if err := s.drv.Stop(); err != nil {
			monitoring.Logf("[session] %v: stop on release: %v", h, err)
		}
	}
	for _, kind := range scanmsg.Kinds {
		s.drv.Unsubscribe(kind, s.sink)
		m.regs[kind].ClearHandle(h)
	}
	monitoring.Logf("[session] %v: released (%d scratch records freed)", h, freed)
}

// Shutdown releases every live session and clears all registries. The
// manager rejects new sessions afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	type live struct {
		h Handle
		s *session
	}
	var all []live
	m.sessions.each(func(h Handle, s *session) { all = append(all, live{h, s}) })
	for _, l := range all {
		m.sessions.remove(l.h)
	}
	m.mu.Unlock()

	for _, l := range all {
		m.teardown(l.h, l.s)
	}
	for _, r := range m.regs {
		r.Clear()
	}
	m.cancel()
}

// Validate reports ErrNotInitialized for handles that are not live.
func (m *Manager) Validate(h Handle) error {
	_, err := m.lookup(h)
	return err
}

// State returns the lifecycle state of h.
func (m *Manager) State(h Handle) (State, error) {
	s, err := m.lookup(h)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Register adds l to the registry of kind for h and arms the driver
// subscription for kind. M must be the flat message type of kind.
func Register[M any](m *Manager, h Handle, kind scanmsg.Kind, l callback.Listener[Handle, M]) error {
	reg, err := registryFor[M](m, kind)
	if err != nil {
		return err
	}
	// The read lock spans the add so a concurrent Release either rejects
	// the handle or clears the listener afterwards.
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions.get(h)
	if s == nil {
		return fmt.Errorf("%w: %v", ErrNotInitialized, h)
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if err := reg.Add(h, l); err != nil {
		return err
	}
	s.drv.Subscribe(kind, s.sink)
	return nil
}

// Deregister removes l from the registry of kind for h. The driver
// subscription is disarmed once h has no listener left for kind.
func Deregister[M any](m *Manager, h Handle, kind scanmsg.Kind, l callback.Listener[Handle, M]) error {
	reg, err := registryFor[M](m, kind)
	if err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions.get(h)
	if s == nil {
		return fmt.Errorf("%w: %v", ErrNotInitialized, h)
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	reg.Remove(h, l)
	if reg.Len(h) == 0 {
		s.drv.Unsubscribe(kind, s.sink)
	}
	return nil
}

func registryFor[M any](m *Manager, kind scanmsg.Kind) (*callback.Registry[Handle, M], error) {
	r, ok := m.regs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKind, kind)
	}
	reg, ok := r.(*callback.Registry[Handle, M])
	if !ok {
		var zero M
		return nil, fmt.Errorf("%w: %v does not carry %T", ErrKindMismatch, kind, zero)
	}
	return reg, nil
}

// Listeners returns the number of listeners h has for kind.
func (m *Manager) Listeners(h Handle, kind scanmsg.Kind) int {
	r, ok := m.regs[kind]
	if !ok {
		return 0
	}
	return r.Len(h)
}

// Stats returns the per-kind dispatch summary.
func (m *Manager) Stats() []monitoring.KindSummary {
	return m.stats.Summary()
}

// Info describes one live session.
type Info struct {
	Handle    Handle         `json:"handle"`
	ID        string         `json:"id"`
	CallerID  string         `json:"caller_id"`
	State     State          `json:"state"`
	Created   time.Time      `json:"created"`
	Args      []string       `json:"args,omitempty"`
	Scratch   int            `json:"scratch_records"`
	Listeners map[string]int `json:"listeners,omitempty"`
}

// Sessions returns a snapshot of every live session ordered by slot.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Info
	m.sessions.each(func(h Handle, s *session) {
		s.mu.Lock()
		info := Info{
			Handle:   h,
			ID:       s.id.String(),
			CallerID: s.callerID,
			State:    s.state,
			Created:  s.created,
			Args:     append([]string(nil), s.args...),
			Scratch:  s.scratch.len(),
		}
		s.mu.Unlock()
		for _, kind := range scanmsg.Kinds {
			if n := m.regs[kind].Len(h); n > 0 {
				if info.Listeners == nil {
					info.Listeners = make(map[string]int)
				}
				info.Listeners[kind.String()] = n
			}
		}
		out = append(out, info)
	})
	return out
}

// SessionID returns the unique id assigned to h at creation.
func (m *Manager) SessionID(h Handle) (string, error) {
	s, err := m.lookup(h)
	if err != nil {
		return "", err
	}
	return s.id.String(), nil
}
