package flatmsg

import (
	"unicode/utf8"

	"github.com/banshee-data/sensorapi/internal/scanmsg"
)

// Converter builds flat messages from driver messages. Conversions never
// fail: a buffer the allocator refuses is left empty and the remaining
// members are still copied.
type Converter struct {
	alloc Allocator
}

// NewConverter returns a Converter accounting buffers against a. A nil
// allocator means Unbounded.
func NewConverter(a Allocator) *Converter {
	if a == nil {
		a = Unbounded
	}
	return &Converter{alloc: a}
}

// Allocator returns the allocator buffers are reserved from.
func (c *Converter) Allocator() Allocator {
	return c.alloc
}

// truncate bounds s to capacity-1 bytes without splitting a UTF-8 sequence.
func truncate(s string, capacity int) string {
	limit := capacity - 1
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func convertHeader(src scanmsg.Header) Header {
	return Header{
		Seq:       src.Seq,
		StampSec:  src.Stamp.Sec,
		StampNsec: src.Stamp.Nsec,
		FrameID:   truncate(src.FrameID, FrameIDCapacity),
	}
}

func vector3(v scanmsg.Vector3) Vector3 {
	return Vector3{X: v.X, Y: v.Y, Z: v.Z}
}

func quaternion(q scanmsg.Quaternion) Quaternion {
	return Quaternion{X: q.X, Y: q.Y, Z: q.Z, W: q.W}
}

func color(c scanmsg.ColorRGBA) ColorRGBA {
	return ColorRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

// PointCloud converts a point cloud. The data buffer holds RowStep*Height
// bytes, or fewer if the source carries fewer.
func (c *Converter) PointCloud(src *scanmsg.PointCloudWithEcho) PointCloud {
	var dst PointCloud
	if src == nil {
		return dst
	}
	c.fillPointCloud(&dst, &src.PointCloud)
	dst.NumEchos = src.NumEchos
	dst.SegmentIdx = src.SegmentIdx
	return dst
}

func (c *Converter) fillPointCloud(dst *PointCloud, src *scanmsg.PointCloud) {
	dst.Header = convertHeader(src.Header)
	dst.Width = src.Width
	dst.Height = src.Height
	dst.IsBigEndian = src.IsBigEndian
	dst.IsDense = src.IsDense
	dst.PointStep = src.PointStep
	dst.RowStep = src.RowStep

	dst.Fields = allocBuffer[PointField](c.alloc, len(src.Fields))
	for i := 0; i < dst.Fields.Len(); i++ {
		f := src.Fields[i]
		*dst.Fields.ptr(i) = PointField{
			Name:     truncate(f.Name, FieldNameCapacity),
			Offset:   f.Offset,
			Datatype: f.Datatype,
			Count:    f.Count,
		}
	}

	n := int(src.RowStep) * int(src.Height)
	if n > len(src.Data) {
		n = len(src.Data)
	}
	dst.Data = allocBuffer[uint8](c.alloc, n)
	copy(dst.Data.data, src.Data)
}

// Imu converts an inertial reading. Covariances longer than 3x3 are cut.
func (c *Converter) Imu(src *scanmsg.Imu) Imu {
	var dst Imu
	if src == nil {
		return dst
	}
	dst.Header = convertHeader(src.Header)
	dst.Orientation = quaternion(src.Orientation)
	dst.AngularVelocity = vector3(src.AngularVelocity)
	dst.LinearAcceleration = vector3(src.LinearAcceleration)
	copy(dst.OrientationCovariance[:], src.OrientationCovariance)
	copy(dst.AngularVelocityCovariance[:], src.AngularVelocityCovariance)
	copy(dst.LinearAccelerationCovariance[:], src.LinearAccelerationCovariance)
	return dst
}

// FieldResult converts a field evaluation telegram. FieldsNumber is clamped
// to both MaxFieldResults and the entries actually present.
func (c *Converter) FieldResult(src *scanmsg.FieldResult) FieldResult {
	var dst FieldResult
	if src == nil {
		return dst
	}
	dst.Header = convertHeader(src.Header)
	n := int(src.FieldsNumber)
	n = min(n, MaxFieldResults, len(src.Fields))
	dst.FieldsNumber = uint16(n)
	for i := 0; i < n; i++ {
		f := src.Fields[i]
		dst.Fields[i] = FieldResultEntry{
			VersionNumber:    f.VersionNumber,
			FieldIndex:       f.FieldIndex,
			SysCount:         f.SysCount,
			DistScaleFactor:  f.DistScaleFactor,
			DistScaleOffset:  f.DistScaleOffset,
			AngleScaleFactor: f.AngleScaleFactor,
			AngleScaleOffset: f.AngleScaleOffset,
			FieldResultMRS:   f.FieldResultMRS,
			TimeState:        f.TimeState,
			Year:             f.Year,
			Month:            f.Month,
			Day:              f.Day,
			Hour:             f.Hour,
			Minute:           f.Minute,
			Second:           f.Second,
			Microsecond:      f.Microsecond,
		}
	}
	return dst
}

// OutputState converts an output state telegram, keeping at most
// MaxOutputStates states and counts.
func (c *Converter) OutputState(src *scanmsg.OutputState) OutputState {
	var dst OutputState
	if src == nil {
		return dst
	}
	dst.Header = convertHeader(src.Header)
	dst.VersionNumber = src.VersionNumber
	dst.SystemCounter = src.SystemCounter
	copy(dst.OutputState[:], src.OutputState)
	copy(dst.OutputCount[:], src.OutputCount)
	dst.TimeState = src.TimeState
	dst.Year = src.Year
	dst.Month = src.Month
	dst.Day = src.Day
	dst.Hour = src.Hour
	dst.Minute = src.Minute
	dst.Second = src.Second
	dst.Microsecond = src.Microsecond
	return dst
}

// RadarScan converts a radar telegram with its target cloud and objects.
func (c *Converter) RadarScan(src *scanmsg.RadarScan) RadarScan {
	var dst RadarScan
	if src == nil {
		return dst
	}
	dst.Header = convertHeader(src.Header)

	ph := &src.PreHeader
	dst.PreHeader = RadarPreHeader{
		VersionNo:            ph.VersionNo,
		Ident:                ph.Device.Ident,
		SerialNo:             ph.Device.SerialNo,
		DeviceError:          ph.Device.DeviceError,
		ContaminationWarning: ph.Device.ContaminationWarning,
		ContaminationError:   ph.Device.ContaminationError,
		TelegramCount:        ph.Status.TelegramCount,
		CycleCount:           ph.Status.CycleCount,
		SystemCountScan:      ph.Status.SystemCountScan,
		SystemCountTransmit:  ph.Status.SystemCountTransmit,
		Inputs:               ph.Status.Inputs,
		Outputs:              ph.Status.Outputs,
		CycleDuration:        ph.Measurement.CycleDuration,
		NoiseLevel:           ph.Measurement.NoiseLevel,
	}
	numEncoder := min(len(ph.Encoders), MaxEncoders)
	dst.PreHeader.NumEncoder = uint16(numEncoder)
	for i := 0; i < numEncoder; i++ {
		dst.PreHeader.EncoderPos[i] = ph.Encoders[i].Position
		dst.PreHeader.EncoderSpeed[i] = ph.Encoders[i].Speed
	}

	c.fillPointCloud(&dst.Targets, &src.Targets)
	dst.Targets.NumEchos = 1
	dst.Objects = c.trackedObjects(src.Objects)
	return dst
}

// ObjectArray converts a tracked object list.
func (c *Converter) ObjectArray(src *scanmsg.ObjectArray) ObjectArray {
	var dst ObjectArray
	if src == nil {
		return dst
	}
	dst.Header = convertHeader(src.Header)
	dst.Objects = c.trackedObjects(src.Objects)
	return dst
}

func (c *Converter) trackedObjects(src []scanmsg.TrackedObject) Buffer[TrackedObject] {
	objects := allocBuffer[TrackedObject](c.alloc, len(src))
	for i := 0; i < objects.Len(); i++ {
		s := &src[i]
		d := objects.ptr(i)
		d.ID = s.ID
		d.TrackingTimeSec = s.TrackingTime.Sec
		d.TrackingTimeNsec = s.TrackingTime.Nsec
		d.LastSeenSec = s.LastSeen.Sec
		d.LastSeenNsec = s.LastSeen.Nsec
		d.VelocityLinear = vector3(s.Velocity.Twist.Linear)
		d.VelocityAngular = vector3(s.Velocity.Twist.Angular)
		copy(d.VelocityCovariance[:], s.Velocity.Covariance)
		d.BoundingBoxCenterPosition = vector3(s.BoundingBoxCenter.Position)
		d.BoundingBoxCenterOrientation = quaternion(s.BoundingBoxCenter.Orientation)
		d.BoundingBoxSize = vector3(s.BoundingBoxSize)
		d.ObjectBoxCenterPosition = vector3(s.ObjectBoxCenter.Pose.Position)
		d.ObjectBoxCenterOrientation = quaternion(s.ObjectBoxCenter.Pose.Orientation)
		copy(d.ObjectBoxCenterCovariance[:], s.ObjectBoxCenter.Covariance)
		d.ObjectBoxSize = vector3(s.ObjectBoxSize)

		d.ContourPoints = allocBuffer[Vector3](c.alloc, len(s.ContourPoints))
		for j := 0; j < d.ContourPoints.Len(); j++ {
			*d.ContourPoints.ptr(j) = vector3(s.ContourPoints[j])
		}
	}
	return objects
}

// MarkerArray converts visualization markers, each with its own header.
func (c *Converter) MarkerArray(src *scanmsg.MarkerArray) MarkerArray {
	var dst MarkerArray
	if src == nil {
		return dst
	}
	dst.Markers = allocBuffer[Marker](c.alloc, len(src.Markers))
	for i := 0; i < dst.Markers.Len(); i++ {
		s := &src.Markers[i]
		d := dst.Markers.ptr(i)
		d.Header = convertHeader(s.Header)
		d.Namespace = truncate(s.Namespace, NamespaceCapacity)
		d.ID = s.ID
		d.Type = s.Type
		d.Action = s.Action
		d.PosePosition = vector3(s.Pose.Position)
		d.PoseOrientation = quaternion(s.Pose.Orientation)
		d.Scale = vector3(s.Scale)
		d.Color = color(s.Color)
		d.LifetimeSec = s.Lifetime.Sec
		d.LifetimeNsec = s.Lifetime.Nsec
		d.FrameLocked = s.FrameLocked
		d.Text = truncate(s.Text, TextCapacity)
		d.MeshResource = truncate(s.MeshResource, MeshResourceCapacity)
		d.MeshUseEmbeddedMaterials = s.MeshUseEmbeddedMaterials

		d.Points = allocBuffer[Vector3](c.alloc, len(s.Points))
		for j := 0; j < d.Points.Len(); j++ {
			*d.Points.ptr(j) = vector3(s.Points[j])
		}
		d.Colors = allocBuffer[ColorRGBA](c.alloc, len(s.Colors))
		for j := 0; j < d.Colors.Len(); j++ {
			*d.Colors.ptr(j) = color(s.Colors[j])
		}
	}
	return dst
}
