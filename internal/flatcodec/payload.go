package flatcodec

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/sensorapi/internal/flatmsg"
)

// Point cloud payload field numbers.
const (
	CloudHeight      protowire.Number = 1
	CloudWidth       protowire.Number = 2
	CloudField       protowire.Number = 3
	CloudIsBigEndian protowire.Number = 4
	CloudPointStep   protowire.Number = 5
	CloudRowStep     protowire.Number = 6
	CloudData        protowire.Number = 7
	CloudIsDense     protowire.Number = 8
	CloudNumEchos    protowire.Number = 9
	CloudSegmentIdx  protowire.Number = 10
)

func appendPointCloud(b []byte, m *flatmsg.PointCloud) []byte {
	b = appendVarint(b, CloudHeight, uint64(m.Height))
	b = appendVarint(b, CloudWidth, uint64(m.Width))
	for _, f := range m.Fields.Slice() {
		var fb []byte
		fb = appendString(fb, 1, f.Name)
		fb = appendVarint(fb, 2, uint64(f.Offset))
		fb = appendVarint(fb, 3, uint64(f.Datatype))
		fb = appendVarint(fb, 4, uint64(f.Count))
		b = appendMessage(b, CloudField, fb)
	}
	b = appendBool(b, CloudIsBigEndian, m.IsBigEndian)
	b = appendVarint(b, CloudPointStep, uint64(m.PointStep))
	b = appendVarint(b, CloudRowStep, uint64(m.RowStep))
	if m.Data.Len() > 0 {
		b = appendMessage(b, CloudData, m.Data.Slice())
	}
	b = appendBool(b, CloudIsDense, m.IsDense)
	b = appendSigned(b, CloudNumEchos, int64(m.NumEchos))
	return appendSigned(b, CloudSegmentIdx, int64(m.SegmentIdx))
}

// DecodePointCloudSummary reads the geometry of a point cloud payload
// without copying its data.
func DecodePointCloudSummary(payload []byte) (width, height uint32, fields []string, dataLen int, err error) {
	err = walk(payload, func(num protowire.Number, _ protowire.Type, v uint64, bytes []byte) error {
		switch num {
		case CloudWidth:
			width = uint32(v)
		case CloudHeight:
			height = uint32(v)
		case CloudData:
			dataLen = len(bytes)
		case CloudField:
			return walk(bytes, func(n protowire.Number, _ protowire.Type, _ uint64, name []byte) error {
				if n == 1 {
					fields = append(fields, string(name))
				}
				return nil
			})
		}
		return nil
	})
	return width, height, fields, dataLen, err
}

func appendImu(b []byte, m *flatmsg.Imu) []byte {
	b = appendMessage(b, 1, quaternion(m.Orientation))
	b = appendDoubles(b, 2, m.OrientationCovariance[:])
	b = appendMessage(b, 3, vector3(m.AngularVelocity))
	b = appendDoubles(b, 4, m.AngularVelocityCovariance[:])
	b = appendMessage(b, 5, vector3(m.LinearAcceleration))
	return appendDoubles(b, 6, m.LinearAccelerationCovariance[:])
}

func appendFieldResult(b []byte, m *flatmsg.FieldResult) []byte {
	b = appendVarint(b, 1, uint64(m.FieldsNumber))
	for i := 0; i < int(m.FieldsNumber) && i < len(m.Fields); i++ {
		f := &m.Fields[i]
		var fb []byte
		fb = appendVarint(fb, 1, uint64(f.VersionNumber))
		fb = appendVarint(fb, 2, uint64(f.FieldIndex))
		fb = appendVarint(fb, 3, uint64(f.SysCount))
		fb = appendFloat(fb, 4, f.DistScaleFactor)
		fb = appendFloat(fb, 5, f.DistScaleOffset)
		fb = appendFloat(fb, 6, f.AngleScaleFactor)
		fb = appendFloat(fb, 7, f.AngleScaleOffset)
		fb = appendVarint(fb, 8, uint64(f.FieldResultMRS))
		fb = appendVarint(fb, 9, uint64(f.TimeState))
		fb = appendVarint(fb, 10, uint64(f.Year))
		fb = appendVarint(fb, 11, uint64(f.Month))
		fb = appendVarint(fb, 12, uint64(f.Day))
		fb = appendVarint(fb, 13, uint64(f.Hour))
		fb = appendVarint(fb, 14, uint64(f.Minute))
		fb = appendVarint(fb, 15, uint64(f.Second))
		fb = appendVarint(fb, 16, uint64(f.Microsecond))
		b = appendMessage(b, 2, fb)
	}
	return b
}

func appendOutputState(b []byte, m *flatmsg.OutputState) []byte {
	b = appendVarint(b, 1, uint64(m.VersionNumber))
	b = appendVarint(b, 2, uint64(m.SystemCounter))
	b = appendMessage(b, 3, m.OutputState[:])
	var counts []byte
	for _, c := range m.OutputCount {
		counts = protowire.AppendVarint(counts, uint64(c))
	}
	b = appendMessage(b, 4, counts)
	b = appendVarint(b, 5, uint64(m.TimeState))
	b = appendVarint(b, 6, uint64(m.Year))
	b = appendVarint(b, 7, uint64(m.Month))
	b = appendVarint(b, 8, uint64(m.Day))
	b = appendVarint(b, 9, uint64(m.Hour))
	b = appendVarint(b, 10, uint64(m.Minute))
	b = appendVarint(b, 11, uint64(m.Second))
	return appendVarint(b, 12, uint64(m.Microsecond))
}

func appendPreHeader(b []byte, p *flatmsg.RadarPreHeader) []byte {
	b = appendVarint(b, 1, uint64(p.VersionNo))
	b = appendVarint(b, 2, uint64(p.Ident))
	b = appendVarint(b, 3, uint64(p.SerialNo))
	b = appendVarint(b, 4, uint64(p.DeviceError))
	b = appendVarint(b, 5, uint64(p.ContaminationWarning))
	b = appendVarint(b, 6, uint64(p.ContaminationError))
	b = appendVarint(b, 7, uint64(p.TelegramCount))
	b = appendVarint(b, 8, uint64(p.CycleCount))
	b = appendVarint(b, 9, uint64(p.SystemCountScan))
	b = appendVarint(b, 10, uint64(p.SystemCountTransmit))
	b = appendVarint(b, 11, uint64(p.Inputs))
	b = appendVarint(b, 12, uint64(p.Outputs))
	b = appendVarint(b, 13, uint64(p.CycleDuration))
	b = appendVarint(b, 14, uint64(p.NoiseLevel))
	for i := 0; i < int(p.NumEncoder) && i < flatmsg.MaxEncoders; i++ {
		var eb []byte
		eb = appendVarint(eb, 1, uint64(p.EncoderPos[i]))
		eb = appendSigned(eb, 2, int64(p.EncoderSpeed[i]))
		b = appendMessage(b, 15, eb)
	}
	return b
}

func appendRadarScan(b []byte, m *flatmsg.RadarScan) []byte {
	b = appendMessage(b, 1, appendPreHeader(nil, &m.PreHeader))
	b = appendMessage(b, 2, appendPointCloud(nil, &m.Targets))
	return appendObjects(b, 3, m.Objects)
}

func appendObjects(b []byte, num protowire.Number, objects flatmsg.Buffer[flatmsg.TrackedObject]) []byte {
	for _, o := range objects.Slice() {
		var ob []byte
		ob = appendSigned(ob, 1, int64(o.ID))
		ob = appendVarint(ob, 2, uint64(o.TrackingTimeSec))
		ob = appendVarint(ob, 3, uint64(o.TrackingTimeNsec))
		ob = appendVarint(ob, 4, uint64(o.LastSeenSec))
		ob = appendVarint(ob, 5, uint64(o.LastSeenNsec))
		ob = appendMessage(ob, 6, vector3(o.VelocityLinear))
		ob = appendMessage(ob, 7, vector3(o.VelocityAngular))
		ob = appendDoubles(ob, 8, o.VelocityCovariance[:])
		ob = appendMessage(ob, 9, vector3(o.BoundingBoxCenterPosition))
		ob = appendMessage(ob, 10, quaternion(o.BoundingBoxCenterOrientation))
		ob = appendMessage(ob, 11, vector3(o.BoundingBoxSize))
		ob = appendMessage(ob, 12, vector3(o.ObjectBoxCenterPosition))
		ob = appendMessage(ob, 13, quaternion(o.ObjectBoxCenterOrientation))
		ob = appendDoubles(ob, 14, o.ObjectBoxCenterCovariance[:])
		ob = appendMessage(ob, 15, vector3(o.ObjectBoxSize))
		for _, p := range o.ContourPoints.Slice() {
			ob = appendMessage(ob, 16, vector3(p))
		}
		b = appendMessage(b, num, ob)
	}
	return b
}

func appendMarkerArray(b []byte, m *flatmsg.MarkerArray) []byte {
	for _, mk := range m.Markers.Slice() {
		var mb []byte
		mb = appendMessage(mb, 1, appendHeader(nil, mk.Header))
		mb = appendString(mb, 2, mk.Namespace)
		mb = appendSigned(mb, 3, int64(mk.ID))
		mb = appendSigned(mb, 4, int64(mk.Type))
		mb = appendSigned(mb, 5, int64(mk.Action))
		mb = appendMessage(mb, 6, vector3(mk.PosePosition))
		mb = appendMessage(mb, 7, quaternion(mk.PoseOrientation))
		mb = appendMessage(mb, 8, vector3(mk.Scale))
		mb = appendMessage(mb, 9, colorRGBA(mk.Color))
		mb = appendSigned(mb, 10, int64(mk.LifetimeSec))
		mb = appendSigned(mb, 11, int64(mk.LifetimeNsec))
		mb = appendBool(mb, 12, mk.FrameLocked)
		for _, p := range mk.Points.Slice() {
			mb = appendMessage(mb, 13, vector3(p))
		}
		for _, c := range mk.Colors.Slice() {
			mb = appendMessage(mb, 14, colorRGBA(c))
		}
		mb = appendString(mb, 15, mk.Text)
		mb = appendString(mb, 16, mk.MeshResource)
		mb = appendBool(mb, 17, mk.MeshUseEmbeddedMaterials)
		b = appendMessage(b, 1, mb)
	}
	return b
}
