// Package replay implements a driver that plays back recorded sensor
// messages from a newline-delimited JSON file or a serial line. Each line is
// an envelope:
//
//	{"kind":"imu","msg":{"header":{"seq":1,...},...}}
//
// Lines that fail to decode are logged and skipped.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/sensorapi/internal/driver"
	"github.com/banshee-data/sensorapi/internal/monitoring"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
	"github.com/banshee-data/sensorapi/internal/timeutil"
)

// DefaultMaxLineBytes bounds one envelope line.
const DefaultMaxLineBytes = 16 << 20

var ErrNoSource = errors.New("replay: no --replay file or --serial port given")

// Envelope is one recorded message.
type Envelope struct {
	Kind scanmsg.Kind    `json:"kind"`
	Msg  json.RawMessage `json:"msg"`
}

// Options select the replay source. They are usually parsed from the
// launch arguments; Defaults fill what the arguments leave unset.
type Options struct {
	Path   string
	Serial string
	Port   PortOptions
	// Rate is the number of lines replayed per second; zero replays as
	// fast as the sinks accept them.
	Rate float64
	// Loop restarts a file source at EOF.
	Loop         bool
	MaxLineBytes int
}

// Driver is a driver.Driver backed by recorded messages.
type Driver struct {
	callerID string
	defaults Options
	clock    timeutil.Clock

	mu      sync.Mutex
	subs    map[scanmsg.Kind][]driver.Sink
	running bool
	cancel  context.CancelFunc
	src     io.Closer
	done    chan struct{}
	err     error
	lines   uint64
	skipped uint64
}

// New returns a stopped replay driver. defaults supply any option the launch
// arguments do not set. A nil clock uses the real clock.
func New(callerID string, defaults Options, clock timeutil.Clock) *Driver {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Driver{
		callerID: callerID,
		defaults: defaults,
		clock:    clock,
		subs:     make(map[scanmsg.Kind][]driver.Sink),
	}
}

// NewFactory returns a driver.Factory producing replay drivers.
func NewFactory(defaults Options, clock timeutil.Clock) driver.Factory {
	return func(callerID string) (driver.Driver, error) {
		return New(callerID, defaults, clock), nil
	}
}

var knownFlags = map[string]bool{
	"replay": false, "serial": false, "baud": false, "rate": false, "loop": true,
}

// filterArgs keeps the flags this driver understands. Everything else in
// the launch vector belongs to other driver configurations and is dropped
// along with its value.
func filterArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			continue
		}
		name, _, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		isBool, known := knownFlags[name]
		takesNext := !hasValue && !isBool && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-")
		if known {
			out = append(out, a)
			if takesNext {
				out = append(out, args[i+1])
			}
		}
		if takesNext {
			i++
		}
	}
	return out
}

// ParseArgs applies the replay flags found in a launch argument vector to
// the defaults. args[0] is the caller identity and is skipped.
func ParseArgs(args []string, defaults Options) (Options, error) {
	opts := defaults
	if len(args) <= 1 {
		return opts, nil
	}
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.Path, "replay", opts.Path, "NDJSON file to replay")
	fs.StringVar(&opts.Serial, "serial", opts.Serial, "serial port to replay from")
	fs.IntVar(&opts.Port.BaudRate, "baud", opts.Port.BaudRate, "serial baud rate")
	fs.Float64Var(&opts.Rate, "rate", opts.Rate, "lines per second, 0 for unpaced")
	fs.BoolVar(&opts.Loop, "loop", opts.Loop, "restart the file at EOF")
	if err := fs.Parse(filterArgs(args[1:])); err != nil {
		return opts, fmt.Errorf("replay: %w", err)
	}
	if opts.Rate < 0 {
		return opts, fmt.Errorf("replay: negative rate %v", opts.Rate)
	}
	return opts, nil
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

// openSource opens the configured file or serial port.
func openSource(opts Options) (io.ReadCloser, error) {
	if opts.Path != "" {
		return os.Open(opts.Path)
	}
	mode, err := opts.Port.SerialMode()
	if err != nil {
		return nil, err
	}
	return openSerial(opts.Serial, mode)
}

// Start opens the source and begins replay in the background. Failures to
// parse arguments or open the source are reported with exit code 1.
func (d *Driver) Start(ctx context.Context, args []string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return 0, driver.ErrAlreadyRunning
	}

	opts, err := ParseArgs(args, d.defaults)
	if err != nil {
		return 1, err
	}
	if opts.Path == "" && opts.Serial == "" {
		return 1, ErrNoSource
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	src, err := openSource(opts)
	if err != nil {
		return 1, fmt.Errorf("replay: open source: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.src = src
	d.done = make(chan struct{})
	d.err = nil
	d.running = true

	monitoring.Logf("[replay] %s: started (file=%q serial=%q rate=%v loop=%v)", d.callerID, opts.Path, opts.Serial, opts.Rate, opts.Loop)
	go d.run(runCtx, src, opts, d.done)
	return 0, nil
}

// Stop cancels replay, closes the source and waits for the reader to exit.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel, src, done := d.cancel, d.src, d.done
	d.cancel, d.src = nil, nil
	d.mu.Unlock()

	cancel()
	// Closing unblocks a reader parked in Read on a serial port.
	closeErr := src.Close()
	<-done
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return closeErr
	}
	return nil
}

// Done is closed when the current replay run ends, either at the end of a
// non-looping source or after Stop. It returns nil before the first Start.
func (d *Driver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Err returns the error that ended the last run, if any.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Counts returns the number of lines delivered and skipped so far.
func (d *Driver) Counts() (delivered, skipped uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines, d.skipped
}

func (d *Driver) run(ctx context.Context, src io.ReadCloser, opts Options, done chan struct{}) {
	defer close(done)
	var interval time.Duration
	if opts.Rate > 0 {
		interval = time.Duration(float64(time.Second) / opts.Rate)
	}

	for {
		err := d.replayOnce(ctx, src, opts.MaxLineBytes, interval)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			monitoring.Logf("[replay] %s: read error: %v", d.callerID, err)
			d.setErr(err)
			return
		}
		if !opts.Loop || opts.Path == "" {
			monitoring.Logf("[replay] %s: end of source", d.callerID)
			return
		}
		seeker, ok := src.(io.Seeker)
		if !ok {
			return
		}
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			d.setErr(err)
			return
		}
	}
}

func (d *Driver) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *Driver) replayOnce(ctx context.Context, src io.Reader, maxLine int, interval time.Duration) error {
	scan := bufio.NewScanner(src)
	scan.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if interval > 0 {
			select {
			case <-d.clock.After(interval):
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		d.handleLine([]byte(line))
	}
	if ctx.Err() != nil {
		return nil
	}
	return scan.Err()
}

func (d *Driver) handleLine(line []byte) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		d.skip("bad envelope: %v", err)
		return
	}
	msg := driver.NewMessage(env.Kind)
	if msg == nil {
		d.skip("unknown kind %d", int(env.Kind))
		return
	}
	if len(env.Msg) > 0 {
		if err := json.Unmarshal(env.Msg, msg); err != nil {
			d.skip("bad %s payload: %v", env.Kind, err)
			return
		}
	}

	d.mu.Lock()
	sinks := append([]driver.Sink(nil), d.subs[env.Kind]...)
	d.lines++
	d.mu.Unlock()

	for _, s := range sinks {
		driver.Deliver(s, env.Kind, msg)
	}
}

func (d *Driver) skip(format string, v ...interface{}) {
	d.mu.Lock()
	d.skipped++
	d.mu.Unlock()
	monitoring.Logf("[replay] %s: skipping line: "+format, append([]interface{}{d.callerID}, v...)...)
}
