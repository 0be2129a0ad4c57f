// Package drivertest provides an in-memory driver for exercising sessions
// without a device.
package drivertest

import (
	"context"
	"sync"

	"github.com/banshee-data/sensorapi/internal/driver"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
)

// Driver is a scriptable driver.Driver. Messages passed to Emit are
// delivered synchronously to the sinks subscribed for their kind, whether or
// not the driver is running, so tests can also observe the unstarted case.
type Driver struct {
	CallerID string

	// StartErr and ExitCode are returned by the next Start.
	StartErr error
	ExitCode int
	StopErr  error

	mu        sync.Mutex
	running   bool
	starts    [][]string
	stops     int
	subs      map[scanmsg.Kind][]driver.Sink
	ctxCancel context.CancelFunc
}

// New returns a stopped fake.
func New(callerID string) *Driver {
	return &Driver{CallerID: callerID, subs: make(map[scanmsg.Kind][]driver.Sink)}
}

// Factory returns a driver.Factory that records every fake it creates.
func Factory(created *[]*Driver) driver.Factory {
	var mu sync.Mutex
	return func(callerID string) (driver.Driver, error) {
		d := New(callerID)
		mu.Lock()
		*created = append(*created, d)
		mu.Unlock()
		return d, nil
	}
}

func (d *Driver) Subscribe(kind scanmsg.Kind, sink driver.Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs[kind] {
		if s == sink {
			return
		}
	}
	d.subs[kind] = append(d.subs[kind], sink)
}

func (d *Driver) Unsubscribe(kind scanmsg.Kind, sink driver.Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.subs[kind]
	for i, s := range list {
		if s == sink {
			d.subs[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Subscribed reports whether any sink is armed for kind.
func (d *Driver) Subscribed(kind scanmsg.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[kind]) > 0
}

func (d *Driver) Start(ctx context.Context, args []string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts = append(d.starts, append([]string(nil), args...))
	if d.StartErr != nil || d.ExitCode != 0 {
		return d.ExitCode, d.StartErr
	}
	if d.running {
		return 0, driver.ErrAlreadyRunning
	}
	_, d.ctxCancel = context.WithCancel(ctx)
	d.running = true
	return 0, nil
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	if d.ctxCancel != nil {
		d.ctxCancel()
		d.ctxCancel = nil
	}
	d.running = false
	return d.StopErr
}

// Running reports whether Start succeeded and Stop has not been called since.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Starts returns the argument vectors of every Start call.
func (d *Driver) Starts() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]string(nil), d.starts...)
}

// Stops returns how many times Stop was called.
func (d *Driver) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// Emit delivers msg to every sink subscribed for kind and returns how many
// sinks received it.
func (d *Driver) Emit(kind scanmsg.Kind, msg any) int {
	d.mu.Lock()
	sinks := append([]driver.Sink(nil), d.subs[kind]...)
	d.mu.Unlock()

	n := 0
	for _, s := range sinks {
		if driver.Deliver(s, kind, msg) {
			n++
		}
	}
	return n
}
