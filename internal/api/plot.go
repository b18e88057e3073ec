package api

import (
	"fmt"
	"image/color"
	"math"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/me-systeme/alignprobe/internal/align"
	"github.com/me-systeme/alignprobe/internal/strain"
)

const circleSegments = 128

// circlePoints traces a display-radius circle for the polar snapshot.
func circlePoints(radius float64) plotter.XYs {
	pts := make(plotter.XYs, circleSegments+1)
	for i := 0; i <= circleSegments; i++ {
		theta := 2 * math.Pi * float64(i) / circleSegments
		pts[i] = plotter.XY{X: radius * math.Cos(theta), Y: radius * math.Sin(theta)}
	}
	return pts
}

func rgba(c strain.RGB) color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

func addPlane(p *plot.Plot, name string, pr align.PlaneResult) error {
	circle, err := plotter.NewLine(circlePoints(pr.Radius))
	if err != nil {
		return fmt.Errorf("plane %s circle: %w", name, err)
	}
	circle.Color = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	circle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(circle)

	scatter, err := plotter.NewScatter(plotter.XYs{{X: pr.EpsBx, Y: pr.EpsBy}})
	if err != nil {
		return fmt.Errorf("plane %s point: %w", name, err)
	}
	scatter.GlyphStyle.Color = rgba(pr.Class.Color)
	scatter.GlyphStyle.Radius = vg.Points(5)
	p.Add(scatter)
	p.Legend.Add(fmt.Sprintf("%s (%s)", name, pr.Class.Name), scatter)
	return nil
}

// handlePlotPNG renders a static snapshot of the current bending state, the
// offline counterpart to the live /view page.
func (s *Server) handlePlotPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	res := s.ctrl.Latest()
	if res == nil {
		s.writeJSONError(w, http.StatusNotFound, "no alignment result yet")
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Alignment Probe - seq %d", res.Seq)
	p.X.Label.Text = "eps_bx (µm/m)"
	p.Y.Label.Text = "eps_by (µm/m)"

	if err := addPlane(p, "Plane A", res.PlaneA); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := addPlane(p, "Plane B", res.PlaneB); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pad := viewPad(res)
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = -pad, pad

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		// Client likely went away mid-transfer.
		return
	}
}
