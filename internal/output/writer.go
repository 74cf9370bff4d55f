package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"proxysweep/internal/model"
)

// PrintResultsTable prints a human-readable table of per-proxy results,
// in the report's sorted order.
func PrintResultsTable(w io.Writer, report model.Report) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "PROXY\tSTATUS\tLAT(ms)\tHTTP\tCOUNTRY\tCITY\tDETAIL")
	for _, o := range report.SortedOutcomes {
		lat := "-"
		if o.OK() {
			lat = strconv.FormatInt(o.LatencyMs, 10)
		}
		code := "-"
		if o.StatusCode > 0 {
			code = strconv.Itoa(o.StatusCode)
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Proxy,
			o.Status.String(),
			lat,
			code,
			dashIfEmpty(o.Country),
			dashIfEmpty(o.City),
			dashIfEmpty(o.ErrorDetail),
		)
	}

	tw.Flush()
}

// PrintSummary prints the aggregated run statistics.
func PrintSummary(w io.Writer, report model.Report) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Total:         %d\n", report.Total)
	fmt.Fprintf(w, "  Success:       %d (%.1f%%)\n", report.SuccessCount, report.SuccessRate*100)
	fmt.Fprintf(w, "  Failure:       %d\n", report.FailureCount)
	fmt.Fprintf(w, "  Timeout:       %d\n", report.TimeoutCount)
	if report.AvgLatencyMs != nil {
		fmt.Fprintf(w, "  Avg latency:   %.2f ms\n", *report.AvgLatencyMs)
		fmt.Fprintf(w, "  Min latency:   %d ms\n", *report.MinLatencyMs)
		fmt.Fprintf(w, "  Max latency:   %d ms\n", *report.MaxLatencyMs)
	}
	if report.Cancelled {
		fmt.Fprintln(w, "  Run cancelled before completion")
	}
}

// PrintTopFastest lists the n fastest working proxies.
func PrintTopFastest(w io.Writer, report model.Report, n int) {
	if n <= 0 || report.SuccessCount == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Fastest working proxies:")
	shown := 0
	for _, o := range report.SortedOutcomes {
		if !o.OK() {
			break
		}
		fmt.Fprintf(w, "  %s - %d ms\n", o.Proxy, o.LatencyMs)
		shown++
		if shown >= n {
			break
		}
	}
	if report.SuccessCount > shown {
		fmt.Fprintf(w, "  ... and %d more\n", report.SuccessCount-shown)
	}
}

// WriteFile writes the report and full outcome list to a file in txt,
// csv or json format.
func WriteFile(path, format, runID string, report model.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch format {
	case "txt":
		return writeTXT(f, report)
	case "csv":
		return WriteCSV(f, report)
	case "json":
		return WriteJSON(f, runID, report)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// writeTXT writes the classic plain-text report: statistics first, then
// working proxies sorted by latency, then the failed ones.
func writeTXT(w io.Writer, report model.Report) error {
	line := "================================================================================"
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Proxy check report - %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, line)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[Statistics]")
	fmt.Fprintf(w, "Total:       %d\n", report.Total)
	fmt.Fprintf(w, "Success:     %d (%.2f%%)\n", report.SuccessCount, report.SuccessRate*100)
	fmt.Fprintf(w, "Failure:     %d\n", report.FailureCount)
	fmt.Fprintf(w, "Timeout:     %d\n", report.TimeoutCount)
	if report.AvgLatencyMs != nil {
		fmt.Fprintf(w, "Avg latency: %.2f ms\n", *report.AvgLatencyMs)
		fmt.Fprintf(w, "Min latency: %d ms\n", *report.MinLatencyMs)
		fmt.Fprintf(w, "Max latency: %d ms\n", *report.MaxLatencyMs)
	}
	if report.Cancelled {
		fmt.Fprintln(w, "Run cancelled before completion")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[Working proxies]")
	for _, o := range report.SortedOutcomes {
		if !o.OK() {
			continue
		}
		fmt.Fprintf(w, "%s - %d ms\n", o.Proxy, o.LatencyMs)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Failed proxies]")
	for _, o := range report.SortedOutcomes {
		if o.OK() {
			continue
		}
		fmt.Fprintf(w, "%s - %s: %s\n", o.Proxy, o.Status.String(), o.ErrorDetail)
	}

	return nil
}

// WriteCSV writes one row per outcome: proxy, protocol, status, latency
// (empty unless success) and error detail (empty unless failed).
func WriteCSV(w io.Writer, report model.Report) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"proxy", "protocol", "status", "latency_ms", "error"}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, o := range report.SortedOutcomes {
		lat := ""
		if o.OK() {
			lat = strconv.FormatInt(o.LatencyMs, 10)
		}
		row := []string{
			o.Descriptor.Address(),
			string(o.Descriptor.Protocol),
			o.Status.String(),
			lat,
			o.ErrorDetail,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	return cw.Error()
}

// WriteJSON writes the run identity, statistics and full outcome list as
// a single indented object.
func WriteJSON(w io.Writer, runID string, report model.Report) error {
	payload := struct {
		Timestamp  time.Time            `json:"timestamp"`
		RunID      string               `json:"run_id,omitempty"`
		Statistics model.Report         `json:"statistics"`
		Results    []model.ProbeOutcome `json:"results"`
	}{
		Timestamp:  time.Now(),
		RunID:      runID,
		Statistics: report,
		Results:    report.SortedOutcomes,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
