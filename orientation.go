package scancapture

// ResolveOrientation returns the display orientation, in degrees within
// [0, 360), that makes the preview upright for the given host rotation.
//
// Front-facing cameras are mirrored, so the mount and host rotations are
// summed and the result inverted:
//
//	front: (360 - (mount + host) % 360) % 360
//	back:  (mount - host + 360) % 360
//
// mountDegrees is expected in [0, 360); it is normalized first so the result
// stays in range for any driver-reported value.
func ResolveOrientation(host Rotation, mountDegrees int, front bool) int {
	mount := ((mountDegrees % 360) + 360) % 360
	hostDegrees := host.Degrees()

	if front {
		return (360 - (mount+hostDegrees)%360) % 360
	}
	return (mount - hostDegrees + 360) % 360
}
