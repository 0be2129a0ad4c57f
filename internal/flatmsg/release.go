package flatmsg

// Release frees the point cloud buffers and zeroes the message.
func (m *PointCloud) Release() {
	if m == nil {
		return
	}
	m.Fields.free()
	m.Data.free()
	*m = PointCloud{}
}

// Release zeroes the message; Imu owns no buffers.
func (m *Imu) Release() {
	if m == nil {
		return
	}
	*m = Imu{}
}

// Release zeroes the message; FieldResult owns no buffers.
func (m *FieldResult) Release() {
	if m == nil {
		return
	}
	*m = FieldResult{}
}

// Release zeroes the message; OutputState owns no buffers.
func (m *OutputState) Release() {
	if m == nil {
		return
	}
	*m = OutputState{}
}

// Release frees the target cloud, every object's contour and then the
// object array itself.
func (m *RadarScan) Release() {
	if m == nil {
		return
	}
	m.Targets.Release()
	releaseObjects(&m.Objects)
	*m = RadarScan{}
}

// Release frees every object's contour and then the object array.
func (m *ObjectArray) Release() {
	if m == nil {
		return
	}
	releaseObjects(&m.Objects)
	*m = ObjectArray{}
}

// Release frees the points and colors of every marker and then the marker
// array.
func (m *MarkerArray) Release() {
	if m == nil {
		return
	}
	for i := 0; i < m.Markers.Len(); i++ {
		marker := m.Markers.ptr(i)
		marker.Points.free()
		marker.Colors.free()
	}
	m.Markers.free()
	*m = MarkerArray{}
}

func releaseObjects(objects *Buffer[TrackedObject]) {
	for i := 0; i < objects.Len(); i++ {
		objects.ptr(i).ContourPoints.free()
	}
	objects.free()
}
