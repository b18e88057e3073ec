package strain

// RadiusFloor is the minimum display radius. Keeping the radius strictly
// positive means the polar view always has a drawable reference circle, even
// before the first sample arrives.
const RadiusFloor = 1e-6

// TargetPadding is the headroom applied to the incoming bending magnitude so
// the plotted point never sits exactly on the reference circle.
const TargetPadding = 1.2

// RadiusSmoother maintains the exponentially smoothed display radius of one
// plane's polar plot. In auto-scale mode each update moves the radius a
// fraction alpha of the way toward the padded bending magnitude, so a single
// noisy spike nudges the scale instead of snapping it. In fixed mode the
// radius is pinned and updates are no-ops.
type RadiusSmoother struct {
	auto   bool
	alpha  float64
	radius float64
}

// NewRadiusSmoother returns a smoother in auto-scale mode. alpha must be in
// (0, 1]; smaller values give slower, visually calmer scale changes.
func NewRadiusSmoother(alpha float64) *RadiusSmoother {
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	return &RadiusSmoother{auto: true, alpha: alpha, radius: RadiusFloor}
}

// NewFixedRadius returns a smoother pinned to the given radius.
func NewFixedRadius(radius float64) *RadiusSmoother {
	if radius < RadiusFloor {
		radius = RadiusFloor
	}
	return &RadiusSmoother{auto: false, radius: radius}
}

// Update feeds one bending magnitude and returns the new display radius.
func (s *RadiusSmoother) Update(epsBMag float64) float64 {
	if !s.auto {
		return s.radius
	}
	target := epsBMag * TargetPadding
	if target < RadiusFloor {
		target = RadiusFloor
	}
	s.radius += s.alpha * (target - s.radius)
	if s.radius < RadiusFloor {
		s.radius = RadiusFloor
	}
	return s.radius
}

// Radius returns the current display radius without updating it.
func (s *RadiusSmoother) Radius() float64 {
	return s.radius
}
