package sensorapi

import (
	"github.com/banshee-data/sensorapi/internal/callback"
	"github.com/banshee-data/sensorapi/internal/flatmsg"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
	"github.com/banshee-data/sensorapi/internal/session"
)

// Kind selects a message stream.
type Kind = scanmsg.Kind

const (
	KindCartesianPointCloud = scanmsg.KindCartesianPointCloud
	KindPolarPointCloud     = scanmsg.KindPolarPointCloud
	KindImu                 = scanmsg.KindImu
	KindFieldResult         = scanmsg.KindFieldResult
	KindOutputState         = scanmsg.KindOutputState
	KindRadarScan           = scanmsg.KindRadarScan
	KindObjectArray         = scanmsg.KindObjectArray
	KindMarkerArray         = scanmsg.KindMarkerArray
)

// Flat message types delivered to listeners.
type (
	Header         = flatmsg.Header
	PointCloud     = flatmsg.PointCloud
	Imu            = flatmsg.Imu
	FieldResult    = flatmsg.FieldResult
	OutputState    = flatmsg.OutputState
	RadarScan      = flatmsg.RadarScan
	ObjectArray    = flatmsg.ObjectArray
	MarkerArray    = flatmsg.MarkerArray
	TrackedObject  = flatmsg.TrackedObject
	Marker         = flatmsg.Marker
	PointField     = flatmsg.PointField
	Vector3        = flatmsg.Vector3
	Quaternion     = flatmsg.Quaternion
	ColorRGBA      = flatmsg.ColorRGBA
	RadarPreHeader = flatmsg.RadarPreHeader
)

// Listener receives messages of type M. Listeners are compared by identity:
// registering the same value twice delivers once.
type Listener[M any] = callback.Listener[Handle, M]

// ListenerFunc wraps fn as a Listener. Keep the result to deregister it.
func ListenerFunc[M any](fn func(h Handle, msg *M)) Listener[M] {
	return callback.Func(fn)
}

type (
	PointCloudListener  = Listener[PointCloud]
	ImuListener         = Listener[Imu]
	FieldResultListener = Listener[FieldResult]
	OutputStateListener = Listener[OutputState]
	RadarScanListener   = Listener[RadarScan]
	ObjectArrayListener = Listener[ObjectArray]
	MarkerArrayListener = Listener[MarkerArray]
)

func register[M any](a *API, op string, h Handle, kind Kind, l Listener[M]) (err error) {
	defer guard(op, &err)
	return session.Register(a.mgr, h, kind, l)
}

func deregister[M any](a *API, op string, h Handle, kind Kind, l Listener[M]) (err error) {
	defer guard(op, &err)
	return session.Deregister(a.mgr, h, kind, l)
}

func (a *API) RegisterCartesianPointCloud(h Handle, l PointCloudListener) error {
	return register(a, "RegisterCartesianPointCloud", h, KindCartesianPointCloud, l)
}

func (a *API) DeregisterCartesianPointCloud(h Handle, l PointCloudListener) error {
	return deregister(a, "DeregisterCartesianPointCloud", h, KindCartesianPointCloud, l)
}

func (a *API) RegisterPolarPointCloud(h Handle, l PointCloudListener) error {
	return register(a, "RegisterPolarPointCloud", h, KindPolarPointCloud, l)
}

func (a *API) DeregisterPolarPointCloud(h Handle, l PointCloudListener) error {
	return deregister(a, "DeregisterPolarPointCloud", h, KindPolarPointCloud, l)
}

func (a *API) RegisterImu(h Handle, l ImuListener) error {
	return register(a, "RegisterImu", h, KindImu, l)
}

func (a *API) DeregisterImu(h Handle, l ImuListener) error {
	return deregister(a, "DeregisterImu", h, KindImu, l)
}

func (a *API) RegisterFieldResult(h Handle, l FieldResultListener) error {
	return register(a, "RegisterFieldResult", h, KindFieldResult, l)
}

func (a *API) DeregisterFieldResult(h Handle, l FieldResultListener) error {
	return deregister(a, "DeregisterFieldResult", h, KindFieldResult, l)
}

func (a *API) RegisterOutputState(h Handle, l OutputStateListener) error {
	return register(a, "RegisterOutputState", h, KindOutputState, l)
}

func (a *API) DeregisterOutputState(h Handle, l OutputStateListener) error {
	return deregister(a, "DeregisterOutputState", h, KindOutputState, l)
}

func (a *API) RegisterRadarScan(h Handle, l RadarScanListener) error {
	return register(a, "RegisterRadarScan", h, KindRadarScan, l)
}

func (a *API) DeregisterRadarScan(h Handle, l RadarScanListener) error {
	return deregister(a, "DeregisterRadarScan", h, KindRadarScan, l)
}

func (a *API) RegisterObjectArray(h Handle, l ObjectArrayListener) error {
	return register(a, "RegisterObjectArray", h, KindObjectArray, l)
}

func (a *API) DeregisterObjectArray(h Handle, l ObjectArrayListener) error {
	return deregister(a, "DeregisterObjectArray", h, KindObjectArray, l)
}

func (a *API) RegisterMarkerArray(h Handle, l MarkerArrayListener) error {
	return register(a, "RegisterMarkerArray", h, KindMarkerArray, l)
}

func (a *API) DeregisterMarkerArray(h Handle, l MarkerArrayListener) error {
	return deregister(a, "DeregisterMarkerArray", h, KindMarkerArray, l)
}
