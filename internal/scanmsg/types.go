// Package scanmsg holds the decoded messages a driver produces for one
// sensor session. Values are owned by the driver and are only read by the
// conversion layer; nothing here is safe to hand to external callers.
package scanmsg

// Time is a wall-clock stamp split into seconds and nanoseconds.
type Time struct {
	Sec  uint32 `json:"sec"`
	Nsec uint32 `json:"nsec"`
}

// Duration is a signed span split into seconds and nanoseconds.
type Duration struct {
	Sec  int32 `json:"sec"`
	Nsec int32 `json:"nsec"`
}

// Header is carried by every message. Seq is assigned by the driver.
type Header struct {
	Seq     uint32 `json:"seq"`
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// PoseWithCovariance carries a row-major 6x6 covariance.
type PoseWithCovariance struct {
	Pose       Pose      `json:"pose"`
	Covariance []float64 `json:"covariance"`
}

type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// TwistWithCovariance carries a row-major 6x6 covariance.
type TwistWithCovariance struct {
	Twist      Twist     `json:"twist"`
	Covariance []float64 `json:"covariance"`
}

type ColorRGBA struct {
	R float32 `json:"r"`
	G float32 `json:"g"`
	B float32 `json:"b"`
	A float32 `json:"a"`
}

// PointField describes one channel of a point cloud record.
type PointField struct {
	Name     string `json:"name"`
	Offset   uint32 `json:"offset"`
	Datatype uint8  `json:"datatype"`
	Count    uint32 `json:"count"`
}

// PointCloud is a packed point cloud. Data holds RowStep*Height bytes.
type PointCloud struct {
	Header      Header       `json:"header"`
	Height      uint32       `json:"height"`
	Width       uint32       `json:"width"`
	Fields      []PointField `json:"fields"`
	IsBigEndian bool         `json:"is_bigendian"`
	PointStep   uint32       `json:"point_step"`
	RowStep     uint32       `json:"row_step"`
	Data        []byte       `json:"data"`
	IsDense     bool         `json:"is_dense"`
}

// PointCloudWithEcho adds multi-echo bookkeeping to a point cloud.
type PointCloudWithEcho struct {
	PointCloud PointCloud `json:"pointcloud"`
	NumEchos   int32      `json:"num_echos"`
	SegmentIdx int32      `json:"segment_idx"`
}

// Imu covariances are row-major 3x3.
type Imu struct {
	Header                       Header     `json:"header"`
	Orientation                  Quaternion `json:"orientation"`
	OrientationCovariance        []float64  `json:"orientation_covariance"`
	AngularVelocity              Vector3    `json:"angular_velocity"`
	AngularVelocityCovariance    []float64  `json:"angular_velocity_covariance"`
	LinearAcceleration           Vector3    `json:"linear_acceleration"`
	LinearAccelerationCovariance []float64  `json:"linear_acceleration_covariance"`
}

// FieldResultEntry is the evaluation result of one monitoring field.
type FieldResultEntry struct {
	VersionNumber    uint16  `json:"version_number"`
	FieldIndex       uint8   `json:"field_index"`
	SysCount         uint32  `json:"sys_count"`
	DistScaleFactor  float32 `json:"dist_scale_factor"`
	DistScaleOffset  float32 `json:"dist_scale_offset"`
	AngleScaleFactor float32 `json:"angle_scale_factor"`
	AngleScaleOffset float32 `json:"angle_scale_offset"`
	FieldResultMRS   uint8   `json:"field_result_mrs"` // 0 invalid, 1 free, 2 infringed
	TimeState        uint16  `json:"time_state"`
	Year             uint16  `json:"year"`
	Month            uint8   `json:"month"`
	Day              uint8   `json:"day"`
	Hour             uint8   `json:"hour"`
	Minute           uint8   `json:"minute"`
	Second           uint8   `json:"second"`
	Microsecond      uint32  `json:"microsecond"`
}

// FieldResult is a field evaluation telegram. FieldsNumber is the count the
// device reported and may disagree with len(Fields).
type FieldResult struct {
	Header       Header             `json:"header"`
	FieldsNumber uint16             `json:"fields_number"`
	Fields       []FieldResultEntry `json:"fields"`
}

// OutputState is a digital output state telegram.
type OutputState struct {
	Header        Header   `json:"header"`
	VersionNumber uint16   `json:"version_number"`
	SystemCounter uint32   `json:"system_counter"`
	OutputState   []uint8  `json:"output_state"`
	OutputCount   []uint32 `json:"output_count"`
	TimeState     uint16   `json:"time_state"`
	Year          uint16   `json:"year"`
	Month         uint8    `json:"month"`
	Day           uint8    `json:"day"`
	Hour          uint8    `json:"hour"`
	Minute        uint8    `json:"minute"`
	Second        uint8    `json:"second"`
	Microsecond   uint32   `json:"microsecond"`
}

type RadarDeviceBlock struct {
	Ident                uint32 `json:"ident"`
	SerialNo             uint32 `json:"serial_no"`
	DeviceError          uint8  `json:"device_error"`
	ContaminationWarning uint8  `json:"contamination_warning"`
	ContaminationError   uint8  `json:"contamination_error"`
}

type RadarStatusBlock struct {
	TelegramCount       uint16 `json:"telegram_count"`
	CycleCount          uint16 `json:"cycle_count"`
	SystemCountScan     uint32 `json:"system_count_scan"`
	SystemCountTransmit uint32 `json:"system_count_transmit"`
	Inputs              uint16 `json:"inputs"`
	Outputs             uint16 `json:"outputs"`
}

type RadarMeasurementBlock struct {
	CycleDuration uint16 `json:"cycle_duration"`
	NoiseLevel    uint16 `json:"noise_level"`
}

type RadarEncoder struct {
	Position uint32 `json:"position"`
	Speed    int16  `json:"speed"`
}

type RadarPreHeader struct {
	VersionNo   uint16                `json:"version_no"`
	Device      RadarDeviceBlock      `json:"device"`
	Status      RadarStatusBlock      `json:"status"`
	Measurement RadarMeasurementBlock `json:"measurement"`
	Encoders    []RadarEncoder        `json:"encoders"`
}

// TrackedObject is a tracked target reported by radar and object-tracking
// devices alike.
type TrackedObject struct {
	ID                int32               `json:"id"`
	TrackingTime      Time                `json:"tracking_time"`
	LastSeen          Time                `json:"last_seen"`
	Velocity          TwistWithCovariance `json:"velocity"`
	BoundingBoxCenter Pose                `json:"bounding_box_center"`
	BoundingBoxSize   Vector3             `json:"bounding_box_size"`
	ObjectBoxCenter   PoseWithCovariance  `json:"object_box_center"`
	ObjectBoxSize     Vector3             `json:"object_box_size"`
	ContourPoints     []Vector3           `json:"contour_points"`
}

// RadarScan bundles raw radar targets with tracked objects.
type RadarScan struct {
	Header    Header          `json:"header"`
	PreHeader RadarPreHeader  `json:"preheader"`
	Targets   PointCloud      `json:"targets"`
	Objects   []TrackedObject `json:"objects"`
}

// ObjectArray is the object list of a tracking device.
type ObjectArray struct {
	Header  Header          `json:"header"`
	Objects []TrackedObject `json:"objects"`
}

type Marker struct {
	Header                   Header      `json:"header"`
	Namespace                string      `json:"ns"`
	ID                       int32       `json:"id"`
	Type                     int32       `json:"type"`
	Action                   int32       `json:"action"`
	Pose                     Pose        `json:"pose"`
	Scale                    Vector3     `json:"scale"`
	Color                    ColorRGBA   `json:"color"`
	Lifetime                 Duration    `json:"lifetime"`
	FrameLocked              bool        `json:"frame_locked"`
	Points                   []Vector3   `json:"points"`
	Colors                   []ColorRGBA `json:"colors"`
	Text                     string      `json:"text"`
	MeshResource             string      `json:"mesh_resource"`
	MeshUseEmbeddedMaterials bool        `json:"mesh_use_embedded_materials"`
}

// MarkerArray has no header of its own; each marker carries one.
type MarkerArray struct {
	Markers []Marker `json:"markers"`
}
