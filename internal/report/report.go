// Package report renders a finished Simulator run three ways: a sorted
// terminal table, an HTML utilization chart, and an OpenMetrics text
// snapshot — the same trio of presentation libraries the rest of the
// ecosystem reaches for (go-pretty, go-echarts, prometheus client), none
// of which require a running HTTP server.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/mqutaish96/causage"
)

// Row is one source location's flattened counters, ready for rendering.
type Row struct {
	Loc              causage.SourceLoc
	Dr, Dw           causage.CacheCC
	UsageHistogramD1 [8]uint64
	UsageHistogramLL [8]uint64
	BytesReferenced  uint64
}

// Collect snapshots every interned location in sim into Rows, sorted by
// descending LL miss count (the hottest rows first).
func Collect(sim *causage.Simulator) []Row {
	var rows []Row
	sim.Each(func(loc causage.SourceLoc, cb *causage.CounterBlock) {
		rows = append(rows, Row{
			Loc:              loc,
			Dr:               cb.Dr,
			Dw:               cb.Dw,
			UsageHistogramD1: cb.UsageHistogramD1,
			UsageHistogramLL: cb.UsageHistogramLL,
			BytesReferenced:  (cb.Dr.Accesses + cb.Dw.Accesses) * 8,
		})
	})
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Dr.ML+rows[i].Dw.ML > rows[j].Dr.ML+rows[j].Dw.ML
	})
	return rows
}

// hotThreshold returns the LL-miss count at the top decile boundary of
// rows, used to decide which rows get highlighted.
func hotThreshold(rows []Row) uint64 {
	if len(rows) == 0 {
		return 0
	}
	idx := len(rows) / 10
	return rows[idx].Dr.ML + rows[idx].Dw.ML
}

// WriteTable renders rows as a go-pretty table to w, highlighting rows at
// or above the top-decile LL-miss threshold in red via fatih/color.
func WriteTable(w io.Writer, rows []Row) {
	threshold := hotThreshold(rows)

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Location", "Accesses", "D1 Misses", "LL Misses", "Bytes Ref'd"})

	hot := color.New(color.FgRed, color.Bold)
	for _, r := range rows {
		accesses := r.Dr.Accesses + r.Dw.Accesses
		m1 := r.Dr.M1 + r.Dw.M1
		ml := r.Dr.ML + r.Dw.ML
		loc := fmt.Sprintf("%s:%s:%d", r.Loc.File, r.Loc.Function, r.Loc.Line)
		bytes := humanize.Bytes(r.BytesReferenced)

		row := table.Row{loc, accesses, m1, ml, bytes}
		if ml >= threshold && ml > 0 {
			row = table.Row{hot.Sprint(loc), accesses, m1, hot.Sprint(ml), bytes}
		}
		tbl.AppendRow(row)
	}
	tbl.Render()
}

// BuildUtilizationChart renders the D1 and LL word-usage histograms,
// summed across every interned location, as a two-series HTML bar chart.
func BuildUtilizationChart(rows []Row) components.Charter {
	var d1, ll [8]uint64
	for _, r := range rows {
		for i := range d1 {
			d1[i] += r.UsageHistogramD1[i]
			ll[i] += r.UsageHistogramLL[i]
		}
	}

	labels := make([]string, 8)
	d1Items := make([]opts.BarData, 8)
	llItems := make([]opts.BarData, 8)
	for i := 0; i < 8; i++ {
		labels[i] = fmt.Sprintf("%d word%s", i+1, plural(i+1))
		d1Items[i] = opts.BarData{Value: d1[i]}
		llItems[i] = opts.BarData{Value: ll[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Cache line word utilization at eviction"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "distinct words touched"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "lines evicted"}),
	)
	bar.SetXAxis(labels).
		AddSeries("D1", d1Items).
		AddSeries("LL", llItems)
	return bar
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// WriteChart renders chart as a standalone HTML page to w.
func WriteChart(w io.Writer, chart components.Charter) error {
	return chart.Render(w)
}

// metricLabels names the label set attached to every causage_* metric.
var metricLabels = []string{"file", "function", "line"}

// WriteOpenMetrics builds a fresh prometheus registry from rows and writes
// it to w in OpenMetrics text exposition format, with no HTTP server
// involved — the whole run stays single-process.
func WriteOpenMetrics(w io.Writer, rows []Row) error {
	reg := prometheus.NewRegistry()

	accesses := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "causage_accesses_total",
		Help: "Total data references attributed to a source location.",
	}, metricLabels)
	d1Misses := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "causage_d1_misses_total",
		Help: "D1 misses attributed to a source location.",
	}, metricLabels)
	llMisses := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "causage_ll_misses_total",
		Help: "LL misses attributed to a source location.",
	}, metricLabels)

	for _, collector := range []prometheus.Collector{accesses, d1Misses, llMisses} {
		if err := reg.Register(collector); err != nil {
			return fmt.Errorf("report: register collector: %w", err)
		}
	}

	for _, r := range rows {
		labels := prometheus.Labels{"file": r.Loc.File, "function": r.Loc.Function, "line": fmt.Sprint(r.Loc.Line)}
		accesses.With(labels).Set(float64(r.Dr.Accesses + r.Dw.Accesses))
		d1Misses.With(labels).Set(float64(r.Dr.M1 + r.Dw.M1))
		llMisses.With(labels).Set(float64(r.Dr.ML + r.Dw.ML))
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("report: gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeOpenMetrics))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("report: encode metric family: %w", err)
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		return closer.Close()
	}
	return nil
}
