package scanmsg

import (
	"fmt"
	"strings"
)

// Kind identifies a message stream of a session.
type Kind int

const (
	KindCartesianPointCloud Kind = iota + 1
	KindPolarPointCloud
	KindImu
	KindFieldResult
	KindOutputState
	KindRadarScan
	KindObjectArray
	KindMarkerArray
)

// Kinds lists every message kind in a stable order.
var Kinds = []Kind{
	KindCartesianPointCloud,
	KindPolarPointCloud,
	KindImu,
	KindFieldResult,
	KindOutputState,
	KindRadarScan,
	KindObjectArray,
	KindMarkerArray,
}

var kindNames = map[Kind]string{
	KindCartesianPointCloud: "cartesian_pointcloud",
	KindPolarPointCloud:     "polar_pointcloud",
	KindImu:                 "imu",
	KindFieldResult:         "field_result",
	KindOutputState:         "output_state",
	KindRadarScan:           "radar_scan",
	KindObjectArray:         "object_array",
	KindMarkerArray:         "marker_array",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind accepts the names produced by Kind.String, case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown message kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid message kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
