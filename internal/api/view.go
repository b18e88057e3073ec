package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/me-systeme/alignprobe/internal/align"
	"github.com/me-systeme/alignprobe/internal/strain"
)

func hexColor(c strain.RGB) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// viewPad picks symmetric axis bounds covering both bending vectors and
// display radii with a little headroom.
func viewPad(res *align.AlignmentResult) float64 {
	pad := 1.0
	for _, pr := range []align.PlaneResult{res.PlaneA, res.PlaneB} {
		for _, v := range []float64{math.Abs(pr.EpsBx), math.Abs(pr.EpsBy), pr.Radius} {
			if v > pad {
				pad = v
			}
		}
	}
	return pad * 1.15
}

// handleView renders the live bending-vector chart. Each plane is one
// scatter series drawn in its alignment-class colour; the page reloads
// itself so a browser tab doubles as a bare-bones monitor.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	res := s.ctrl.Latest()
	subtitle := "waiting for first batch"
	pad := 1.0
	if res != nil {
		subtitle = fmt.Sprintf("seq=%d frames=%d A=%s B=%s",
			res.Seq, res.BatchFrames, res.PlaneA.Class.Name, res.PlaneB.Class.Name)
		pad = viewPad(res)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Alignment Probe", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Bending Vector", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "eps_bx (µm/m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "eps_by (µm/m)", NameLocation: "middle", NameGap: 30}),
	)

	if res != nil {
		planes := []struct {
			name string
			pr   align.PlaneResult
		}{
			{"Plane A", res.PlaneA},
			{"Plane B", res.PlaneB},
		}
		for _, p := range planes {
			data := []opts.ScatterData{{
				Value:      []float64{p.pr.EpsBx, p.pr.EpsBy},
				Name:       fmt.Sprintf("%s (%s)", p.name, p.pr.Class.Name),
				SymbolSize: 14,
			}}
			scatter.AddSeries(p.name, data,
				charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(p.pr.Class.Color)}),
			)
		}
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
