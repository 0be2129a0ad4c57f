// Package flatcodec encodes flat messages in protobuf wire format so they
// can outlive the listener call that delivered them.
//
// An encoded message is an envelope:
//
//	1: kind     (varint)
//	2: header   (message: 1 seq, 2 stamp_sec, 3 stamp_nsec, 4 frame_id)
//	3: payload  (message, kind specific)
//	4: elements (varint: points, objects or markers carried)
//
// Marker arrays have no header of their own; their envelope carries the
// header of the first marker.
package flatcodec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/sensorapi/internal/flatmsg"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
)

var ErrUnsupported = errors.New("flatcodec: unsupported message")

const (
	fieldKind     protowire.Number = 1
	fieldHeader   protowire.Number = 2
	fieldPayload  protowire.Number = 3
	fieldElements protowire.Number = 4
)

// Envelope is a decoded envelope. Payload is left encoded.
type Envelope struct {
	Kind     scanmsg.Kind
	Header   flatmsg.Header
	Elements uint64
	Payload  []byte
}

// Encode returns a fresh protobuf wire
// encoding of msg, which must be a pointer to the flat type of kind.
func Encode(kind scanmsg.Kind, msg any) ([]byte, error) {
	var (
		hdr      flatmsg.Header
		payload  []byte
		elements int
	)
	switch m := msg.(type) {
	case *flatmsg.PointCloud:
		if kind != scanmsg.KindCartesianPointCloud && kind != scanmsg.KindPolarPointCloud {
			return nil, mismatch(kind, msg)
		}
		hdr, payload, elements = m.Header, appendPointCloud(nil, m), int(m.Width)*int(m.Height)
	case *flatmsg.Imu:
		if kind != scanmsg.KindImu {
			return nil, mismatch(kind, msg)
		}
		hdr, payload, elements = m.Header, appendImu(nil, m), 1
	case *flatmsg.FieldResult:
		if kind != scanmsg.KindFieldResult {
			return nil, mismatch(kind, msg)
		}
		hdr, payload, elements = m.Header, appendFieldResult(nil, m), int(m.FieldsNumber)
	case *flatmsg.OutputState:
		if kind != scanmsg.KindOutputState {
			return nil, mismatch(kind, msg)
		}
		hdr, payload, elements = m.Header, appendOutputState(nil, m), 1
	case *flatmsg.RadarScan:
		if kind != scanmsg.KindRadarScan {
			return nil, mismatch(kind, msg)
		}
		hdr, payload, elements = m.Header, appendRadarScan(nil, m), m.Objects.Len()
	case *flatmsg.ObjectArray:
		if kind != scanmsg.KindObjectArray {
			return nil, mismatch(kind, msg)
		}
		hdr, payload, elements = m.Header, appendObjects(nil, 1, m.Objects), m.Objects.Len()
	case *flatmsg.MarkerArray:
		if kind != scanmsg.KindMarkerArray {
			return nil, mismatch(kind, msg)
		}
		if m.Markers.Len() > 0 {
			hdr = m.Markers.At(0).Header
		}
		payload, elements = appendMarkerArray(nil, m), m.Markers.Len()
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, msg)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(kind))
	b = protowire.AppendTag(b, fieldHeader, protowire.BytesType)
	b = protowire.AppendBytes(b, appendHeader(nil, hdr))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	b = protowire.AppendTag(b, fieldElements, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(elements))
	return b, nil
}

func mismatch(kind scanmsg.Kind, msg any) error {
	return fmt.Errorf("%w: %T is not a %v message", ErrUnsupported, msg, kind)
}

// DecodeEnvelope parses the envelope of an encoded message. Unknown fields
// are skipped.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte) error {
		switch num {
		case fieldKind:
			env.Kind = scanmsg.Kind(v)
		case fieldElements:
			env.Elements = v
		case fieldPayload:
			env.Payload = bytes
		case fieldHeader:
			h, err := decodeHeader(bytes)
			if err != nil {
				return err
			}
			env.Header = h
		}
		return nil
	})
	if err != nil {
		return Envelope{}, err
	}
	if !env.Kind.Valid() {
		return Envelope{}, fmt.Errorf("flatcodec: invalid kind %d", int(env.Kind))
	}
	return env, nil
}

// walk calls fn for every top-level field of b. Varint and fixed values are
// passed in v; length-delimited values in bytes.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("flatcodec: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var (
			v     uint64
			bytes []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(b)
			v = uint64(x)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("flatcodec: field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(num, typ, v, bytes); err != nil {
			return err
		}
	}
	return nil
}

func appendHeader(b []byte, h flatmsg.Header) []byte {
	b = appendVarint(b, 1, uint64(h.Seq))
	b = appendVarint(b, 2, uint64(h.StampSec))
	b = appendVarint(b, 3, uint64(h.StampNsec))
	if h.FrameID != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, h.FrameID)
	}
	return b
}

func decodeHeader(b []byte) (flatmsg.Header, error) {
	var h flatmsg.Header
	err := walk(b, func(num protowire.Number, _ protowire.Type, v uint64, bytes []byte) error {
		switch num {
		case 1:
			h.Seq = uint32(v)
		case 2:
			h.StampSec = uint32(v)
		case 3:
			h.StampNsec = uint32(v)
		case 4:
			h.FrameID = string(bytes)
		}
		return nil
	})
	return h, err
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSigned(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func appendDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

func vector3(v flatmsg.Vector3) []byte {
	var b []byte
	b = appendDouble(b, 1, v.X)
	b = appendDouble(b, 2, v.Y)
	return appendDouble(b, 3, v.Z)
}

func quaternion(q flatmsg.Quaternion) []byte {
	var b []byte
	b = appendDouble(b, 1, q.X)
	b = appendDouble(b, 2, q.Y)
	b = appendDouble(b, 3, q.Z)
	return appendDouble(b, 4, q.W)
}

func colorRGBA(c flatmsg.ColorRGBA) []byte {
	var b []byte
	b = appendFloat(b, 1, c.R)
	b = appendFloat(b, 2, c.G)
	b = appendFloat(b, 3, c.B)
	return appendFloat(b, 4, c.A)
}
