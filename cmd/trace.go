package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/NexoWatt/nexowatt-ems/core/dispatch/logging"
	"github.com/NexoWatt/nexowatt-ems/core/model"
	"github.com/NexoWatt/nexowatt-ems/pkg/export"
)

var (
	traceFormat  string
	traceSummary bool
	traceChart   string
	traceStart   string
	traceEnd     string
	traceUnit    string
	traceSource  string
	traceLimit   int
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Export persisted decision traces",
	RunE:  runTrace,
}

func init() {
	f := traceCmd.Flags()
	f.StringVar(&traceFormat, "format", "json", "output format (json, csv)")
	f.BoolVar(&traceSummary, "summary", false, "print stability statistics instead of records")
	f.StringVar(&traceChart, "chart", "", "also render an HTML chart to this file")
	f.StringVar(&traceStart, "start", "", "only records at or after this RFC3339 time")
	f.StringVar(&traceEnd, "end", "", "only records at or before this RFC3339 time")
	f.StringVar(&traceUnit, "unit", "", "only records of this unit")
	f.StringVar(&traceSource, "source", "", "only records with this final source")
	f.IntVar(&traceLimit, "limit", 0, "keep only the most recent records")
	rootCmd.AddCommand(traceCmd)
}

func traceQuery() (logging.LogQuery, error) {
	q := logging.LogQuery{UnitID: traceUnit, Limit: traceLimit}
	if traceSource != "" {
		src, ok := model.ParseSource(traceSource)
		if !ok {
			return q, fmt.Errorf("unknown source %q", traceSource)
		}
		q.Source = src.String()
	}
	for _, p := range []struct {
		raw string
		dst *time.Time
	}{{traceStart, &q.Start}, {traceEnd, &q.End}} {
		if p.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, p.raw)
		if err != nil {
			return q, fmt.Errorf("invalid time %q: %w", p.raw, err)
		}
		*p.dst = t
	}
	return q, nil
}

func runTrace(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	q, err := traceQuery()
	if err != nil {
		return err
	}
	store, err := logging.Open(cfg.Logging.Options())
	if err != nil {
		return fmt.Errorf("trace store: %w", err)
	}
	defer store.Close()

	recs, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	if traceChart != "" {
		if err := writeChartFile(traceChart, recs); err != nil {
			return err
		}
	}
	return writeTrace(cmd.OutOrStdout(), recs)
}

func writeTrace(w io.Writer, recs []logging.LogRecord) error {
	if traceSummary {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(logging.Summarize(recs))
	}
	switch traceFormat {
	case "json":
		return export.WriteJSON(w, recs)
	case "csv":
		return export.WriteCSV(w, recs)
	default:
		return fmt.Errorf("unknown format %q", traceFormat)
	}
}

func writeChartFile(path string, recs []logging.LogRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteChart(f, "", recs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
