// Package flatmsg defines the flat, ownership-explicit message records handed
// to listeners, and the conversions that build them from driver messages.
//
// Every variable-length member is a Buffer allocated by the conversion. A
// message is either empty (the zero value) or populated; a buffer whose
// allocation is refused is left empty while the rest of the message is still
// filled in. Release frees every buffer, nested ones first, and zeroes the
// message so a second Release is a no-op.
package flatmsg

// Fixed capacities of the bounded members. Strings are truncated to the
// capacity minus one byte.
const (
	FrameIDCapacity      = 256
	FieldNameCapacity    = 256
	NamespaceCapacity    = 1024
	TextCapacity         = 1024
	MeshResourceCapacity = 1024

	MaxFieldResults = 3
	MaxOutputStates = 8
	MaxEncoders     = 3

	Covariance3x3 = 9
	Covariance6x6 = 36
)

// Header is embedded in every flat message.
type Header struct {
	Seq       uint32
	StampSec  uint32
	StampNsec uint32
	FrameID   string
}

type Vector3 struct {
	X, Y, Z float64
}

type Quaternion struct {
	X, Y, Z, W float64
}

type ColorRGBA struct {
	R, G, B, A float32
}

type PointField struct {
	Name     string
	Offset   uint32
	Datatype uint8
	Count    uint32
}

// PointCloud is used for both cartesian and polar clouds.
type PointCloud struct {
	Header
	Height      uint32
	Width       uint32
	Fields      Buffer[PointField]
	IsBigEndian bool
	PointStep   uint32
	RowStep     uint32
	Data        Buffer[uint8]
	IsDense     bool
	NumEchos    int32
	SegmentIdx  int32
}

type Imu struct {
	Header
	Orientation                  Quaternion
	OrientationCovariance        [Covariance3x3]float64
	AngularVelocity              Vector3
	AngularVelocityCovariance    [Covariance3x3]float64
	LinearAcceleration           Vector3
	LinearAccelerationCovariance [Covariance3x3]float64
}

type FieldResultEntry struct {
	VersionNumber    uint16
	FieldIndex       uint8
	SysCount         uint32
	DistScaleFactor  float32
	DistScaleOffset  float32
	AngleScaleFactor float32
	AngleScaleOffset float32
	FieldResultMRS   uint8
	TimeState        uint16
	Year             uint16
	Month            uint8
	Day              uint8
	Hour             uint8
	Minute           uint8
	Second           uint8
	Microsecond      uint32
}

// FieldResult holds at most MaxFieldResults entries; FieldsNumber counts the
// valid ones.
type FieldResult struct {
	Header
	FieldsNumber uint16
	Fields       [MaxFieldResults]FieldResultEntry
}

type OutputState struct {
	Header
	VersionNumber uint16
	SystemCounter uint32
	OutputState   [MaxOutputStates]uint8
	OutputCount   [MaxOutputStates]uint32
	TimeState     uint16
	Year          uint16
	Month         uint8
	Day           uint8
	Hour          uint8
	Minute        uint8
	Second        uint8
	Microsecond   uint32
}

// RadarPreHeader flattens the device, status, measurement and encoder blocks
// of a radar telegram.
type RadarPreHeader struct {
	VersionNo            uint16
	Ident                uint32
	SerialNo             uint32
	DeviceError          uint8
	ContaminationWarning uint8
	ContaminationError   uint8
	TelegramCount        uint16
	CycleCount           uint16
	SystemCountScan      uint32
	SystemCountTransmit  uint32
	Inputs               uint16
	Outputs              uint16
	CycleDuration        uint16
	NoiseLevel           uint16
	NumEncoder           uint16
	EncoderPos           [MaxEncoders]uint32
	EncoderSpeed         [MaxEncoders]int16
}

type TrackedObject struct {
	ID                           int32
	TrackingTimeSec              uint32
	TrackingTimeNsec             uint32
	LastSeenSec                  uint32
	LastSeenNsec                 uint32
	VelocityLinear               Vector3
	VelocityAngular              Vector3
	VelocityCovariance           [Covariance6x6]float64
	BoundingBoxCenterPosition    Vector3
	BoundingBoxCenterOrientation Quaternion
	BoundingBoxSize              Vector3
	ObjectBoxCenterPosition      Vector3
	ObjectBoxCenterOrientation   Quaternion
	ObjectBoxCenterCovariance    [Covariance6x6]float64
	ObjectBoxSize                Vector3
	ContourPoints                Buffer[Vector3]
}

type RadarScan struct {
	Header
	PreHeader RadarPreHeader
	Targets   PointCloud
	Objects   Buffer[TrackedObject]
}

type ObjectArray struct {
	Header
	Objects Buffer[TrackedObject]
}

type Marker struct {
	Header
	Namespace                string
	ID                       int32
	Type                     int32
	Action                   int32
	PosePosition             Vector3
	PoseOrientation          Quaternion
	Scale                    Vector3
	Color                    ColorRGBA
	LifetimeSec              int32
	LifetimeNsec             int32
	FrameLocked              bool
	Points                   Buffer[Vector3]
	Colors                   Buffer[ColorRGBA]
	Text                     string
	MeshResource             string
	MeshUseEmbeddedMaterials bool
}

type MarkerArray struct {
	Markers Buffer[Marker]
}
