// Package strain implements the ASTM E1012 style axial/bending decomposition
// for a plane of four strain gauges at 0°, 90°, 180° and 270° around the
// specimen, plus alignment classification and display-radius smoothing.
package strain

import "math"

// DefaultPBFloor is the minimum |eps_ax| used when normalising percent
// bending. It keeps the division finite when the axial strain is near zero;
// the resulting (very large) percent bending then falls through the class
// tables to the out-of-class bucket.
const DefaultPBFloor = 1e-6

// GaugeSet holds the four gauge readings of one plane in fixed angular order.
type GaugeSet struct {
	E0   float64
	E90  float64
	E180 float64
	E270 float64
}

// Decomposition is the result of splitting a GaugeSet into axial and bending
// components.
type Decomposition struct {
	EpsAx          float64 `json:"eps_ax"`          // axial strain, mean of the four gauges
	EpsBx          float64 `json:"eps_bx"`          // bending component along the 0°-180° axis
	EpsBy          float64 `json:"eps_by"`          // bending component along the 90°-270° axis
	EpsBMag        float64 `json:"eps_b_mag"`       // bending magnitude, >= 0
	PhiDeg         float64 `json:"phi_deg"`         // bending direction in degrees, (-180, 180]
	PercentBending float64 `json:"percent_bending"` // 100 * |eps_b| / max(|eps_ax|, floor), >= 0
}

// Decompose computes the axial strain, bending vector and percent bending for
// one plane. pbFloor guards the percent-bending division when the axial
// strain is near zero; values <= 0 fall back to DefaultPBFloor.
//
// The computation is a pure function of its inputs: identical gauge values
// always produce identical results.
func Decompose(g GaugeSet, pbFloor float64) Decomposition {
	if pbFloor <= 0 {
		pbFloor = DefaultPBFloor
	}

	// Average the two opposite gauge pairs first; summing all four in one
	// expression would be equivalent analytically but this matches the
	// pairwise form used for bending and fixes the aggregation order.
	axPair1 := (g.E0 + g.E180) / 2
	axPair2 := (g.E90 + g.E270) / 2
	epsAx := (axPair1 + axPair2) / 2

	epsBx := (g.E0 - g.E180) / 2
	epsBy := (g.E90 - g.E270) / 2
	epsBMag := math.Hypot(epsBx, epsBy)

	denom := math.Abs(epsAx)
	if denom < pbFloor {
		denom = pbFloor
	}

	return Decomposition{
		EpsAx:          epsAx,
		EpsBx:          epsBx,
		EpsBy:          epsBy,
		EpsBMag:        epsBMag,
		PhiDeg:         phiDegrees(epsBx, epsBy),
		PercentBending: 100 * epsBMag / denom,
	}
}

// phiDegrees converts the bending vector to a direction in degrees using the
// (-180, 180] convention: a pure negative-x vector reports +180, never -180.
func phiDegrees(bx, by float64) float64 {
	deg := math.Atan2(by, bx) * 180 / math.Pi
	if deg <= -180 {
		deg += 360
	}
	return deg
}
