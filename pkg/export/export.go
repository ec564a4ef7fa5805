package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/NexoWatt/nexowatt-ems/core/dispatch/logging"
)

var csvHeader = []string{
	"timestamp", "unit_id", "source", "winner", "reason", "requested_w", "final_w",
	"soc_pct", "grid_w", "applied", "gated", "sign_locked", "hard_bound",
}

// WriteJSON writes the decision traces to w as a JSON array.
func WriteJSON(w io.Writer, recs []logging.LogRecord) error {
	if recs == nil {
		recs = []logging.LogRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

// WriteCSV writes one row per cycle. Stage details are omitted.
func WriteCSV(w io.Writer, recs []logging.LogRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.UnitID,
			r.Source.String(),
			r.Winner.String(),
			r.Reason,
			strconv.FormatFloat(r.RequestedW, 'f', -1, 64),
			strconv.Itoa(r.FinalW),
			strconv.FormatFloat(r.SoCPct, 'f', -1, 64),
			strconv.FormatFloat(r.GridW, 'f', -1, 64),
			strconv.FormatBool(r.Applied),
			strconv.FormatBool(r.Gated),
			strconv.FormatBool(r.SignLocked),
			r.HardBound,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteChart renders an HTML line chart of requested and final watts per unit.
func WriteChart(w io.Writer, title string, recs []logging.LogRecord) error {
	if title == "" {
		title = "Dispatch trace"
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "negative = charge"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "W"}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)

	sorted := make([]logging.LogRecord, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var xAxis []string
	index := map[int64]int{}
	var units []string
	byUnit := map[string]map[int64]logging.LogRecord{}
	for _, r := range sorted {
		ts := r.Timestamp.UnixMilli()
		if _, ok := index[ts]; !ok {
			index[ts] = len(xAxis)
			xAxis = append(xAxis, r.Timestamp.Format("2006-01-02 15:04:05"))
		}
		m, ok := byUnit[r.UnitID]
		if !ok {
			m = map[int64]logging.LogRecord{}
			byUnit[r.UnitID] = m
			units = append(units, r.UnitID)
		}
		m[ts] = r
	}

	line.SetXAxis(xAxis)
	for _, u := range units {
		requested := make([]opts.LineData, len(xAxis))
		final := make([]opts.LineData, len(xAxis))
		for ts, r := range byUnit[u] {
			i := index[ts]
			requested[i] = opts.LineData{Value: r.RequestedW}
			final[i] = opts.LineData{Value: r.FinalW}
		}
		line.AddSeries(u+" requested", requested).
			AddSeries(u+" final", final)
	}
	if err := line.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
