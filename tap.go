package sensorapi

import (
	"fmt"

	"github.com/banshee-data/sensorapi/internal/scanmsg"
	"github.com/banshee-data/sensorapi/internal/session"
)

// TapFunc receives every message of the kinds a Tap is attached to. msg is
// a pointer to the flat message type of kind and is only valid during the
// call.
type TapFunc func(h Handle, kind Kind, msg any)

// Tap is one callback registered for several message kinds at once.
type Tap struct {
	fn  TapFunc
	ops map[Kind]tapOps
}

type tapOps struct {
	attach func(a *API, h Handle) error
	detach func(a *API, h Handle) error
}

type tapListener[M any] struct {
	tap  *Tap
	kind Kind
}

func (l *tapListener[M]) OnMessage(h Handle, msg *M) {
	l.tap.fn(h, l.kind, msg)
}

func tapEntry[M any](t *Tap, kind Kind) tapOps {
	l := &tapListener[M]{tap: t, kind: kind}
	return tapOps{
		attach: func(a *API, h Handle) error { return session.Register[M](a.mgr, h, kind, l) },
		detach: func(a *API, h Handle) error { return session.Deregister[M](a.mgr, h, kind, l) },
	}
}

// NewTap returns a Tap calling fn.
func NewTap(fn TapFunc) *Tap {
	t := &Tap{fn: fn}
	t.ops = map[Kind]tapOps{
		KindCartesianPointCloud: tapEntry[PointCloud](t, KindCartesianPointCloud),
		KindPolarPointCloud:     tapEntry[PointCloud](t, KindPolarPointCloud),
		KindImu:                 tapEntry[Imu](t, KindImu),
		KindFieldResult:         tapEntry[FieldResult](t, KindFieldResult),
		KindOutputState:         tapEntry[OutputState](t, KindOutputState),
		KindRadarScan:           tapEntry[RadarScan](t, KindRadarScan),
		KindObjectArray:         tapEntry[ObjectArray](t, KindObjectArray),
		KindMarkerArray:         tapEntry[MarkerArray](t, KindMarkerArray),
	}
	return t
}

func (t *Tap) apply(op string, kinds []Kind, fn func(tapOps) error) (err error) {
	defer guard(op, &err)
	if t.fn == nil {
		return fmt.Errorf("nil tap function")
	}
	if len(kinds) == 0 {
		kinds = AllKinds()
	}
	for _, k := range kinds {
		ops, ok := t.ops[k]
		if !ok {
			return fmt.Errorf("%w: %v", session.ErrInvalidKind, k)
		}
		if err := fn(ops); err != nil {
			return err
		}
	}
	return nil
}

// Attach registers the tap on h for kinds, or for every kind if none are
// given.
func (t *Tap) Attach(a *API, h Handle, kinds ...Kind) error {
	return t.apply("TapAttach", kinds, func(o tapOps) error { return o.attach(a, h) })
}

// Detach deregisters the tap from h for kinds, or for every kind if none
// are given.
func (t *Tap) Detach(a *API, h Handle, kinds ...Kind) error {
	return t.apply("TapDetach", kinds, func(o tapOps) error { return o.detach(a, h) })
}

// AllKinds returns every message kind.
func AllKinds() []Kind {
	return append([]Kind(nil), scanmsg.Kinds...)
}
