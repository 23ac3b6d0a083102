package loadtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// StatsFileSuffix is appended to the CSV prefix to name the stats file
const StatsFileSuffix = "_stats.csv"

// StatsHeader is the header row of the stats CSV, compatible with Locust
func StatsHeader() []string {
	header := []string{
		"Type",
		"Name",
		"Request Count",
		"Failure Count",
		"Median Response Time",
		"Average Response Time",
		"Min Response Time",
		"Max Response Time",
		"Average Content Size",
		"Requests/s",
		"Failures/s",
	}
	return append(header, percentileLabels...)
}

var percentileLabels = []string{"50%", "66%", "75%", "80%", "90%", "95%", "98%", "99%", "99.9%", "99.99%", "100%"}

// PercentileLabel returns the column label of Percentiles[i]
func PercentileLabel(i int) string {
	return percentileLabels[i]
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func entryRow(typ string, e Entry) []string {
	row := []string{
		typ,
		e.Name,
		strconv.Itoa(e.NumRequests),
		strconv.Itoa(e.NumFailures),
		formatFloat(e.MedianResponseTime()),
		formatFloat(e.AverageResponseTime()),
		formatFloat(e.MinResponseTime),
		formatFloat(e.MaxResponseTime),
		formatFloat(e.AverageContentSize()),
		formatFloat(e.RequestsPerSecond()),
		formatFloat(e.FailuresPerSecond()),
	}
	for _, p := range Percentiles {
		if e.NumRequests == 0 {
			row = append(row, "N/A")
			continue
		}
		row = append(row, strconv.FormatInt(e.Percentile(p), 10))
	}
	return row
}

// WriteStatsCSV writes one row per event name followed by the Aggregated row
func WriteStatsCSV(w io.Writer, s *Stats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(StatsHeader()); err != nil {
		return err
	}
	for _, e := range s.Entries() {
		if err := cw.Write(entryRow(RequestType, e)); err != nil {
			return err
		}
	}
	if err := cw.Write(entryRow("", s.Aggregated())); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteStatsFile writes the stats CSV to prefix + StatsFileSuffix and
// returns the path written
func WriteStatsFile(prefix string, s *Stats) (string, error) {
	path := prefix + StatsFileSuffix
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create stats file: %w", err)
	}
	if err := WriteStatsCSV(f, s); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write stats file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close stats file: %w", err)
	}
	return path, nil
}
