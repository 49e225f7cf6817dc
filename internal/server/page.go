package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/particleview/internal/httputil"
	"github.com/banshee-data/particleview/internal/projection"
	"github.com/banshee-data/particleview/internal/scene"
	"github.com/banshee-data/particleview/internal/simapi"
	"github.com/banshee-data/particleview/internal/viewer"
)

//go:embed templates/*
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))

type indexData struct {
	State            *viewer.Snapshot
	Rows             []simapi.Particle
	SimulationFields []string
	BoxFields        []string
	Recordings       bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	rows, err := s.ctrl.VisibleRows(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	data := indexData{
		State:            s.ctrl.Snapshot(),
		Rows:             rows,
		SimulationFields: simapi.SimulationFields,
		BoxFields:        simapi.BoxFields,
		Recordings:       s.store != nil,
	}
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func chart3D(v r3.Vec, name string, color uint32) opts.Chart3DData {
	return opts.Chart3DData{
		Name:      name,
		Value:     []interface{}{v.X, v.Y, v.Z},
		ItemStyle: &opts.ItemStyle{Color: projection.FormatColor(color)},
	}
}

// sceneCharts builds the 3D charts for one view: the particles as a
// Scatter3D, the selected trail and the box wireframe as Line3D.
func sceneCharts(v *scene.View, title string) []components.Charter {
	initOpts := charts.WithInitializationOpts(opts.Initialization{
		PageTitle: "particleview",
		Theme:     "dark",
		Width:     "100%",
		Height:    "640px",
	})

	points := make([]opts.Chart3DData, 0, v.Count())
	if v.Points != nil {
		for i, p := range v.Points.Positions {
			points = append(points, chart3D(p, fmt.Sprintf("#%d", v.Points.IDs[i]), v.Points.Color))
		}
	} else {
		for _, sp := range v.Spheres {
			points = append(points, chart3D(sp.Center, fmt.Sprintf("#%d", sp.ID), sp.Color))
		}
	}

	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		initOpts,
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("mode=%s particles=%d seq=%d", v.Mode, v.Count(), v.Seq)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X"}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z"}),
	)
	scatter.AddSeries("particles", points)
	out := []components.Charter{scatter}

	if len(v.Trail) > 1 || len(v.Box) == 8 {
		line := charts.NewLine3D()
		line.SetGlobalOptions(
			initOpts,
			charts.WithTitleOpts(opts.Title{Title: "Trail and box"}),
			charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X"}),
			charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y"}),
			charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z"}),
		)
		if len(v.Trail) > 1 {
			trail := make([]opts.Chart3DData, len(v.Trail))
			for i, p := range v.Trail {
				trail[i] = chart3D(p, "", 0x3399ff)
			}
			line.AddSeries("trail", trail)
		}
		if len(v.Box) == 8 {
			for _, e := range scene.BoxEdges(v.Box) {
				line.AddSeries("box", []opts.Chart3DData{
					chart3D(e[0], "", 0x00fffa),
					chart3D(e[1], "", 0x00fffa),
				})
			}
		}
		out = append(out, line)
	}
	return out
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	v := s.ctrl.Scene().Snapshot()

	page := components.NewPage()
	page.PageTitle = "particleview scene"
	page.AddCharts(sceneCharts(v, "Particles")...)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
