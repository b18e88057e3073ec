package strain

import "fmt"

// RGB is a display colour for an alignment class.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// ClassBound is one entry of an ordered alignment-class table. Below the
// axial split the Limit bounds the bending magnitude |eps_b|; at or above the
// split it bounds percent bending. First entry whose limit contains the value
// wins, so tables must be authored in ascending limit order.
type ClassBound struct {
	Name  string  `json:"name"`
	Limit float64 `json:"limit"`
	Color RGB     `json:"color"`
}

// ClassTable holds the two-tier alignment-class thresholds. The acceptable
// bending band depends on how large the axial load is, so small and big axial
// strains consult separate sub-tables with different metrics.
type ClassTable struct {
	// AxialSplit separates the small and big axial-strain regimes, compared
	// against |eps_ax|.
	AxialSplit float64 `json:"axial_split"`

	// SmallAxial classes bound the bending magnitude directly.
	SmallAxial []ClassBound `json:"classes_axial_strain_small"`

	// BigAxial classes bound percent bending.
	BigAxial []ClassBound `json:"classes_axial_strain_big"`

	// OutOfClass is the sentinel reported when no bound matches.
	OutOfClass ClassBound `json:"out_of_class"`
}

// Validate checks both sub-tables for the invariants the classifier relies
// on: non-empty, named entries with strictly ascending limits. Tables are
// never re-sorted; an out-of-order table is a configuration error.
func (t *ClassTable) Validate() error {
	if t.AxialSplit <= 0 {
		return fmt.Errorf("axial_split must be positive, got %g", t.AxialSplit)
	}
	if err := validateBounds("classes_axial_strain_small", t.SmallAxial); err != nil {
		return err
	}
	if err := validateBounds("classes_axial_strain_big", t.BigAxial); err != nil {
		return err
	}
	if t.OutOfClass.Name == "" {
		return fmt.Errorf("out_of_class entry must have a name")
	}
	return nil
}

func validateBounds(table string, bounds []ClassBound) error {
	if len(bounds) == 0 {
		return fmt.Errorf("%s must contain at least one class", table)
	}
	prev := 0.0
	for i, b := range bounds {
		if b.Name == "" {
			return fmt.Errorf("%s[%d] is missing a name", table, i)
		}
		if b.Limit <= 0 {
			return fmt.Errorf("%s[%d] (%s) has non-positive limit %g", table, i, b.Name, b.Limit)
		}
		if i > 0 && b.Limit <= prev {
			return fmt.Errorf("%s[%d] (%s) limit %g is not above previous limit %g; classes must be ordered by ascending severity", table, i, b.Name, b.Limit, prev)
		}
		prev = b.Limit
	}
	return nil
}

// Classify assigns an alignment class to one plane's decomposition. The
// axial-strain magnitude selects the regime: below the split the bending
// magnitude is compared against the small-axial table, otherwise percent
// bending is compared against the big-axial table. The first entry whose
// limit contains the value wins; if none match the out-of-class sentinel is
// returned.
func (t *ClassTable) Classify(d Decomposition) ClassBound {
	var value float64
	var bounds []ClassBound
	if abs(d.EpsAx) < t.AxialSplit {
		value = d.EpsBMag
		bounds = t.SmallAxial
	} else {
		value = d.PercentBending
		bounds = t.BigAxial
	}

	for _, b := range bounds {
		if value <= b.Limit {
			return b
		}
	}
	return t.OutOfClass
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
