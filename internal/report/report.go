// Package report renders an export document as a self-contained HTML
// dashboard: per-route averages, the congestion time series, and the
// classification breakdown.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"trafficlens/internal/classify"
	"trafficlens/internal/engine"
)

// RenderDashboard writes the full dashboard page for one document.
func RenderDashboard(w io.Writer, doc engine.Document) error {
	page := components.NewPage()
	page.PageTitle = "Traffic Overview"
	page.AddCharts(
		routeBar(doc),
		timeLine(doc),
		labelPie(doc),
	)
	return page.Render(w)
}

// routeBar charts the average value per route; routes come pre-sorted from
// the aggregation layer.
func routeBar(doc engine.Document) *charts.Bar {
	labelByRoute := make(map[string]classify.Label, len(doc.Classifications))
	for _, p := range doc.Classifications {
		labelByRoute[p.Route] = p.Label
	}

	x := make([]string, 0, len(doc.Routes))
	y := make([]opts.BarData, 0, len(doc.Routes))
	for _, b := range doc.Routes {
		x = append(x, b.Key)
		avg, ok := b.Avg()
		if !ok {
			y = append(y, opts.BarData{Value: nil, Name: b.Key})
			continue
		}
		y = append(y, opts.BarData{
			Value: avg,
			Name:  fmt.Sprintf("%s (%s)", b.Key, labelByRoute[b.Key]),
		})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Average congestion by route",
			Subtitle: fmt.Sprintf("generation=%s rows=%d", doc.Meta.GenerationID, doc.Meta.Rows),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
	)
	bar.SetXAxis(x).AddSeries("avg", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}

// timeLine charts the average value per minute bucket.
func timeLine(doc engine.Document) *charts.Line {
	x := make([]string, 0, len(doc.TimeSeries))
	y := make([]opts.LineData, 0, len(doc.TimeSeries))
	for _, b := range doc.TimeSeries {
		x = append(x, b.Key)
		if avg, ok := b.Avg(); ok {
			y = append(y, opts.LineData{Value: avg})
		} else {
			y = append(y, opts.LineData{Value: nil})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Congestion over time",
			Subtitle: doc.Meta.GeneratedAt.UTC().Format(time.RFC3339),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
	)
	line.SetXAxis(x).AddSeries("avg", y,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
	)
	return line
}

// labelPie charts how many routes fall into each congestion class.
func labelPie(doc engine.Document) *charts.Pie {
	labels := make([]classify.Label, 0, len(doc.Distribution))
	for l := range doc.Distribution {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	data := make([]opts.PieData, 0, len(labels))
	for _, l := range labels {
		data = append(data, opts.PieData{Name: string(l), Value: doc.Distribution[l]})
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Route classification"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
	)
	pie.AddSeries("routes", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c}"}),
	)
	return pie
}
