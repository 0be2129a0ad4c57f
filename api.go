// Package sensorapi exposes sensor driver sessions to external callers.
//
// A caller creates a session handle, registers listeners for the message
// kinds it wants, initializes the handle to start the driver and finally
// closes and releases it. Listeners receive flat messages that are only
// valid for the duration of the callback; the library frees them as soon as
// every listener has returned.
//
// Every operation reports failures as an *Error carrying one Status.
// Listeners must return promptly and must not call Register, Deregister,
// Close or Release from inside a callback.
package sensorapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/sensorapi/internal/driver"
	"github.com/banshee-data/sensorapi/internal/driver/replay"
	"github.com/banshee-data/sensorapi/internal/flatmsg"
	"github.com/banshee-data/sensorapi/internal/monitoring"
	"github.com/banshee-data/sensorapi/internal/session"
	"github.com/banshee-data/sensorapi/internal/timeutil"
)

// Handle identifies one session. The zero Handle is never valid.
type Handle = session.Handle

// Options configure an API.
type Options struct {
	// Driver builds the driver of each session. Nil uses the replay driver
	// configured by Replay.
	Driver driver.Factory
	// Replay holds the replay defaults used when Driver is nil.
	Replay replay.Options
	// MaxMessageBytes caps the bytes held by live flat messages and launch
	// argument copies. Zero means no limit.
	MaxMessageBytes int64
	// CallerID is used when Create receives no caller identity.
	CallerID string
	Clock    timeutil.Clock
}

// API is one driver context. Sessions of different APIs share nothing.
type API struct {
	mgr    *session.Manager
	budget *flatmsg.Budget
}

// New returns an API with no sessions.
func New(opts Options) *API {
	factory := opts.Driver
	if factory == nil {
		factory = replay.NewFactory(opts.Replay, opts.Clock)
	}
	budget := flatmsg.NewBudget(opts.MaxMessageBytes)
	return &API{
		budget: budget,
		mgr: session.NewManager(session.Options{
			Factory:   factory,
			Allocator: budget,
			Clock:     opts.Clock,
			CallerID:  opts.CallerID,
		}),
	}
}

// guard turns a panic into StatusError and wraps any other failure in an
// *Error for op. It must be deferred.
func guard(op string, errp *error) {
	if p := recover(); p != nil {
		*errp = &Error{Op: op, Status: StatusError, Err: fmt.Errorf("panic: %v", p)}
	} else if *errp != nil {
		if _, ok := (*errp).(*Error); !ok {
			*errp = &Error{Op: op, Status: classify(*errp), Err: *errp}
		}
	} else {
		return
	}
	monitoring.Logf("[sensorapi] %v", *errp)
}

// Create allocates a session. args[0], when present, is the caller
// identity passed to the driver. On failure the returned Handle is zero.
func (a *API) Create(args []string) (h Handle, err error) {
	defer func() {
		if err != nil {
			h = 0
		}
	}()
	defer guard("Create", &err)
	return a.mgr.Create(args)
}

// InitializeByArgs starts the driver of h with args as its launch vector.
// A handle that is already running is rejected; a failed start leaves the
// handle as it was.
func (a *API) InitializeByArgs(h Handle, args []string) (err error) {
	defer guard("InitializeByArgs", &err)
	return a.mgr.Initialize(h, args)
}

// InitializeByString splits launch on single spaces, puts the caller
// identity first and starts the driver of h with the result.
func (a *API) InitializeByString(h Handle, launch string) (err error) {
	defer guard("InitializeByString", &err)
	return a.mgr.InitializeString(h, launch)
}

// Close stops the driver of h. Listeners stay registered and the handle
// may be initialized again.
func (a *API) Close(h Handle) (err error) {
	defer guard("Close", &err)
	return a.mgr.Close(h)
}

// Release invalidates h and removes all of its listeners. No listener of h
// is called after Release returns.
func (a *API) Release(h Handle) (err error) {
	defer guard("Release", &err)
	return a.mgr.Release(h)
}

// WaitNext would block up to timeout for the next message of kind and hand
// its ownership to the caller. It is not implemented; after validating h
// and kind it reports StatusNotImplemented.
func (a *API) WaitNext(h Handle, kind Kind, timeout time.Duration) (msg any, err error) {
	defer guard("WaitNext", &err)
	if err := a.validate(h, kind); err != nil {
		return nil, err
	}
	return nil, ErrNotImplemented
}

// Free releases a message obtained from WaitNext. It is not implemented.
func (a *API) Free(h Handle, kind Kind, msg any) (err error) {
	defer guard("Free", &err)
	if err := a.validate(h, kind); err != nil {
		return err
	}
	return ErrNotImplemented
}

func (a *API) validate(h Handle, kind Kind) error {
	if err := a.mgr.Validate(h); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %v", session.ErrInvalidKind, kind)
	}
	return nil
}

// Shutdown releases every session of the API.
func (a *API) Shutdown() {
	a.mgr.Shutdown()
}

// Stats returns per-kind dispatch counters.
func (a *API) Stats() []monitoring.KindSummary {
	return a.mgr.Stats()
}

// Sessions describes every live session.
func (a *API) Sessions() []session.Info {
	return a.mgr.Sessions()
}

// SessionID returns the unique id assigned to h.
func (a *API) SessionID(h Handle) (string, error) {
	return a.mgr.SessionID(h)
}

// BytesInUse returns the bytes currently held by live flat messages and
// launch argument copies.
func (a *API) BytesInUse() int64 {
	return a.budget.InUse()
}

// AttachAdminRoutes registers session debug pages on mux under /debug/.
func (a *API) AttachAdminRoutes(mux *http.ServeMux) {
	a.mgr.AttachAdminRoutes(mux)
}
