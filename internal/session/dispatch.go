package session

import (
	"sync"

	"github.com/banshee-data/sensorapi/internal/callback"
	"github.com/banshee-data/sensorapi/internal/driver"
	"github.com/banshee-data/sensorapi/internal/flatmsg"
	"github.com/banshee-data/sensorapi/internal/monitoring"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
)

// dispatcher is the driver.Sink of one session. Each message is converted,
// handed to every listener of the session for its kind and released before
// the next message of the session is converted.
type dispatcher struct {
	m      *Manager
	handle Handle
	mu     sync.Mutex
}

var _ driver.Sink = (*dispatcher)(nil)

type releaser[M any] interface {
	*M
	Release()
}

func deliver[M any, PM releaser[M]](d *dispatcher, kind scanmsg.Kind, convert func() M, elements func(*M) int) {
	reg := d.m.regs[kind].(*callback.Registry[Handle, M])
	if reg.Len(d.handle) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := d.m.clock.Now()
	msg := convert()
	n := elements(&msg)
	listeners := reg.Notify(d.handle, &msg)
	PM(&msg).Release()

	d.m.stats.Observe(kind.String(), listeners, n, d.m.clock.Since(start))
	monitoring.Debugf("[session] %v: %s with %d elements to %d listeners", d.handle, kind, n, listeners)
}

func one[M any](*M) int { return 1 }

func cloudPoints(m *flatmsg.PointCloud) int {
	return int(m.Width) * int(m.Height)
}

func (d *dispatcher) CartesianPointCloud(src *scanmsg.PointCloudWithEcho) {
	deliver(d, scanmsg.KindCartesianPointCloud, func() flatmsg.PointCloud { return d.m.conv.PointCloud(src) }, cloudPoints)
}

func (d *dispatcher) PolarPointCloud(src *scanmsg.PointCloudWithEcho) {
	deliver(d, scanmsg.KindPolarPointCloud, func() flatmsg.PointCloud { return d.m.conv.PointCloud(src) }, cloudPoints)
}

func (d *dispatcher) Imu(src *scanmsg.Imu) {
	deliver(d, scanmsg.KindImu, func() flatmsg.Imu { return d.m.conv.Imu(src) }, one[flatmsg.Imu])
}

func (d *dispatcher) FieldResult(src *scanmsg.FieldResult) {
	deliver(d, scanmsg.KindFieldResult, func() flatmsg.FieldResult { return d.m.conv.FieldResult(src) },
		func(m *flatmsg.FieldResult) int { return int(m.FieldsNumber) })
}

func (d *dispatcher) OutputState(src *scanmsg.OutputState) {
	deliver(d, scanmsg.KindOutputState, func() flatmsg.OutputState { return d.m.conv.OutputState(src) }, one[flatmsg.OutputState])
}

func (d *dispatcher) RadarScan(src *scanmsg.RadarScan) {
	deliver(d, scanmsg.KindRadarScan, func() flatmsg.RadarScan { return d.m.conv.RadarScan(src) },
		func(m *flatmsg.RadarScan) int { return cloudPoints(&m.Targets) + m.Objects.Len() })
}

func (d *dispatcher) ObjectArray(src *scanmsg.ObjectArray) {
	deliver(d, scanmsg.KindObjectArray, func() flatmsg.ObjectArray { return d.m.conv.ObjectArray(src) },
		func(m *flatmsg.ObjectArray) int { return m.Objects.Len() })
}

func (d *dispatcher) MarkerArray(src *scanmsg.MarkerArray) {
	deliver(d, scanmsg.KindMarkerArray, func() flatmsg.MarkerArray { return d.m.conv.MarkerArray(src) },
		func(m *flatmsg.MarkerArray) int { return m.Markers.Len() })
}
