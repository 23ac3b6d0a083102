package benchmark

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// Stats row names required to compute a summary
const (
	MetricEncodingTime = "encoding_time"
	MetricTotalTime    = "total_time"
	MetricDecodingTime = "decoding_time"
)

// MetricNames lists the stats rows read from a stats file
var MetricNames = []string{MetricEncodingTime, MetricTotalTime, MetricDecodingTime}

// StatsFilePattern matches the stats files of runs whose CSV prefix ends in ".csv"
const StatsFilePattern = "*.csv_stats.csv"

// DefaultSummaryFile is the summary written when no file name is given
const DefaultSummaryFile = "benchmark_summary.csv"

var (
	ErrMissingMetric = errors.New("missing metric")
	ErrEmptyMetric   = errors.New("metric has zero average response time")
)

// SummaryHeader is the header row of the summary CSV
var SummaryHeader = []string{
	"Run Name",
	"Average prompt tokens",
	"Average generated tokens",
	"Requests per Second",
	"Time-to-first-token (s)",
	"Output Token Throughput (t/s)",
}

// Metric is one stats row keyed by column label
type Metric map[string]string

// Float parses a numeric column
func (m Metric) Float(column string) (float64, error) {
	raw, ok := m[column]
	if !ok {
		return 0, fmt.Errorf("%s: missing column %q", m["Name"], column)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid %q value %q: %w", m["Name"], column, raw, err)
	}
	return v, nil
}

// ReadStatsCSV reads the summary metrics from a stats file.
func ReadStatsCSV(path string) (map[string]Metric, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseStatsCSV(f)
}

// ParseStatsCSV reads the rows named in MetricNames from stats CSV data.
// Rows are keyed by their Name column; other rows are ignored.
func ParseStatsCSV(r io.Reader) (map[string]Metric, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	labels, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty stats file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	metrics := make(map[string]Metric)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read stats row: %w", err)
		}

		m := make(Metric, len(labels))
		for i, label := range labels {
			if i < len(record) {
				m[label] = record[i]
			}
		}
		if isMetricName(m["Name"]) {
			metrics[m["Name"]] = m
		}
	}
	return metrics, nil
}

func isMetricName(name string) bool {
	for _, n := range MetricNames {
		if n == name {
			return true
		}
	}
	return false
}

// Summarize computes prompt and generated token averages, requests per
// second, time to first token and output token throughput.
func Summarize(metrics map[string]Metric) (Summary, error) {
	for _, name := range MetricNames {
		if _, ok := metrics[name]; !ok {
			return Summary{}, fmt.Errorf("%w: %s", ErrMissingMetric, name)
		}
	}

	var s Summary
	totalTime, err := metrics[MetricTotalTime].Float("Average Response Time")
	if err != nil {
		return Summary{}, err
	}
	encodingTime, err := metrics[MetricEncodingTime].Float("Average Response Time")
	if err != nil {
		return Summary{}, err
	}
	s.PromptTokens, err = metrics[MetricEncodingTime].Float("Average Content Size")
	if err != nil {
		return Summary{}, err
	}
	decodingTime, err := metrics[MetricDecodingTime].Float("Average Response Time")
	if err != nil {
		return Summary{}, err
	}
	s.GeneratedTokens, err = metrics[MetricDecodingTime].Float("Average Content Size")
	if err != nil {
		return Summary{}, err
	}

	if totalTime == 0 {
		return Summary{}, fmt.Errorf("%w: %s", ErrEmptyMetric, MetricTotalTime)
	}
	if decodingTime == 0 {
		return Summary{}, fmt.Errorf("%w: %s", ErrEmptyMetric, MetricDecodingTime)
	}

	s.RequestsPerSecond = 1000 / totalTime
	s.TTFTSeconds = encodingTime / 1000
	s.Throughput = 1000 * s.GeneratedTokens / decodingTime
	return s, nil
}

// SummarizeFile reads and summarizes one stats file
func SummarizeFile(path, prefix string) (Summary, error) {
	metrics, err := ReadStatsCSV(path)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", path, err)
	}
	s, err := Summarize(metrics)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", path, err)
	}
	s.RunName = RunName(path, prefix)
	return s, nil
}

// RunName derives the run name from a stats file path: the base name up to
// its first dot, without prefix.
func RunName(path, prefix string) string {
	name := filepath.Base(path)
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	return strings.TrimPrefix(name, prefix)
}

// StatsFiles lists the stats files in dir whose name starts with prefix,
// sorted by name.
func StatsFiles(dir, prefix string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, escapeGlob(prefix)+StatsFilePattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}

// SummarizeDir summarizes every stats file in dirs matching prefix.
// Files that fail are reported in the combined error and skipped; the
// summaries of the other files are still returned.
func SummarizeDir(prefix string, dirs ...string) ([]Summary, error) {
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	var summaries []Summary
	var errs error
	for _, dir := range dirs {
		files, err := StatsFiles(dir, prefix)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		for _, path := range files {
			s, err := SummarizeFile(path, prefix)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			summaries = append(summaries, s)
		}
	}
	return summaries, errs
}

// WriteSummaryCSV writes the header followed by one row per summary
func WriteSummaryCSV(w io.Writer, summaries []Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryHeader); err != nil {
		return err
	}
	for _, s := range summaries {
		if err := cw.Write([]string{
			s.RunName,
			formatFloat(s.PromptTokens),
			formatFloat(s.GeneratedTokens),
			formatFloat(s.RequestsPerSecond),
			formatFloat(s.TTFTSeconds),
			formatFloat(s.Throughput),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryFile writes the summary CSV to path
func WriteSummaryFile(path string, summaries []Summary) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return WriteSummaryCSV(f, summaries)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
