package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// PointPickTolerance is the screen distance, in pixels, within which a
// point-cloud particle counts as under the cursor.
const PointPickTolerance = 6.0

// Pick returns the id of the nearest particle under screen pixel (sx, sy).
func Pick(v *View, cam CameraState, sx, sy float64) (int, bool) {
	if v == nil || cam.Width <= 0 || cam.Height <= 0 {
		return 0, false
	}
	if v.Points != nil {
		return pickPoint(v, cam, sx, sy)
	}

	origin, dir := cam.Ray(sx, sy)
	best, bestT, found := 0, math.Inf(1), false
	for _, s := range v.Spheres {
		t, ok := raySphere(origin, dir, s.Center, s.Radius)
		if ok && t < bestT {
			best, bestT, found = s.ID, t, true
		}
	}
	return best, found
}

func pickPoint(v *View, cam CameraState, sx, sy float64) (int, bool) {
	tol := math.Max(PointPickTolerance, v.Points.Size)
	best, bestDepth, found := 0, math.Inf(1), false
	for i, p := range v.Points.Positions {
		px, py, depth, ok := cam.Project(p)
		if !ok || math.Hypot(px-sx, py-sy) > tol {
			continue
		}
		if depth < bestDepth {
			best, bestDepth, found = v.Points.IDs[i], depth, true
		}
	}
	return best, found
}

// raySphere returns the distance along a unit ray to the first intersection
// with the sphere, ignoring hits behind the origin.
func raySphere(origin, dir, center r3.Vec, radius float64) (float64, bool) {
	oc := r3.Sub(origin, center)
	b := r3.Dot(oc, dir)
	c := r3.Dot(oc, oc) - radius*radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	if t < 0 {
		return 0, false
	}
	return t, true
}
