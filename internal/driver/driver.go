// Package driver defines the contract between a sensor session and the
// component that talks to the device. A driver decodes device traffic into
// scanmsg values and pushes them to the sinks subscribed for each kind.
package driver

import (
	"context"
	"errors"

	"github.com/banshee-data/sensorapi/internal/scanmsg"
)

var (
	// ErrNotRunning is returned by operations that need a started driver.
	ErrNotRunning = errors.New("driver: not running")
	// ErrAlreadyRunning is returned by Start on a running driver.
	ErrAlreadyRunning = errors.New("driver: already running")
)

// Sink receives decoded messages. Each method is called from a driver
// goroutine; the message is only valid for the duration of the call.
type Sink interface {
	CartesianPointCloud(msg *scanmsg.PointCloudWithEcho)
	PolarPointCloud(msg *scanmsg.PointCloudWithEcho)
	Imu(msg *scanmsg.Imu)
	FieldResult(msg *scanmsg.FieldResult)
	OutputState(msg *scanmsg.OutputState)
	RadarScan(msg *scanmsg.RadarScan)
	ObjectArray(msg *scanmsg.ObjectArray)
	MarkerArray(msg *scanmsg.MarkerArray)
}

// Driver runs one sensor connection.
type Driver interface {
	// Subscribe arms delivery of kind to sink. Subscribing an armed pair
	// again is a no-op.
	Subscribe(kind scanmsg.Kind, sink Sink)
	// Unsubscribe disarms delivery of kind to sink.
	Unsubscribe(kind scanmsg.Kind, sink Sink)
	// Start launches the driver with a launch argument vector whose first
	// entry is the caller identity. It returns once the driver has either
	// started or failed; a nonzero exit code is a start failure.
	Start(ctx context.Context, args []string) (exitCode int, err error)
	// Stop halts a running driver. Stopping a stopped driver is a no-op.
	Stop() error
}

// Factory creates a driver for one session. callerID identifies the
// process using the library.
type Factory func(callerID string) (Driver, error)

// Deliver hands msg to the Sink method matching kind. Unknown kinds and
// mismatched message types are ignored and reported false.
func Deliver(sink Sink, kind scanmsg.Kind, msg any) bool {
	switch kind {
	case scanmsg.KindCartesianPointCloud:
		if m, ok := msg.(*scanmsg.PointCloudWithEcho); ok {
			sink.CartesianPointCloud(m)
			return true
		}
	case scanmsg.KindPolarPointCloud:
		if m, ok := msg.(*scanmsg.PointCloudWithEcho); ok {
			sink.PolarPointCloud(m)
			return true
		}
	case scanmsg.KindImu:
		if m, ok := msg.(*scanmsg.Imu); ok {
			sink.Imu(m)
			return true
		}
	case scanmsg.KindFieldResult:
		if m, ok := msg.(*scanmsg.FieldResult); ok {
			sink.FieldResult(m)
			return true
		}
	case scanmsg.KindOutputState:
		if m, ok := msg.(*scanmsg.OutputState); ok {
			sink.OutputState(m)
			return true
		}
	case scanmsg.KindRadarScan:
		if m, ok := msg.(*scanmsg.RadarScan); ok {
			sink.RadarScan(m)
			return true
		}
	case scanmsg.KindObjectArray:
		if m, ok := msg.(*scanmsg.ObjectArray); ok {
			sink.ObjectArray(m)
			return true
		}
	case scanmsg.KindMarkerArray:
		if m, ok := msg.(*scanmsg.MarkerArray); ok {
			sink.MarkerArray(m)
			return true
		}
	}
	return false
}

// NewMessage returns a zero message of the type carried by kind, suitable
// for decoding into. It returns nil for unknown kinds.
func NewMessage(kind scanmsg.Kind) any {
	switch kind {
	case scanmsg.KindCartesianPointCloud, scanmsg.KindPolarPointCloud:
		return &scanmsg.PointCloudWithEcho{}
	case scanmsg.KindImu:
		return &scanmsg.Imu{}
	case scanmsg.KindFieldResult:
		return &scanmsg.FieldResult{}
	case scanmsg.KindOutputState:
		return &scanmsg.OutputState{}
	case scanmsg.KindRadarScan:
		return &scanmsg.RadarScan{}
	case scanmsg.KindObjectArray:
		return &scanmsg.ObjectArray{}
	case scanmsg.KindMarkerArray:
		return &scanmsg.MarkerArray{}
	}
	return nil
}
