package polar

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// ReportHeaderLines is the number of header lines XFOIL writes before the
// first data row of a saved polar.
const ReportHeaderLines = 12

// ParseReport reads a fixed-format solver polar report from r. The first
// headerLines lines are skipped. Each remaining row must start with at least
// three numeric fields (angle, lift, drag); shorter rows are discarded and
// rows whose fields do not parse are skipped with a warning log.
func ParseReport(r io.Reader, headerLines int, logger *slog.Logger) ([]Sample, error) {
	scanner := bufio.NewScanner(r)
	var samples []Sample
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= headerLines {
			continue
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		s, err := parseRow(fields)
		if err != nil {
			logger.Warn("skipping malformed polar row", "line", lineNo, "error", err)
			continue
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading polar report: %w", err)
	}

	return samples, nil
}

// ReadTable reads a table previously written by WriteTable. The header line
// is optional.
func ReadTable(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	t := NewTable(0)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if lineNo == 1 && fields[0] == headerAoA {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", lineNo, len(fields))
		}
		s, err := parseRow(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		t.Append(s.AoA, s.Cl, s.Cd)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading polar table: %w", err)
	}
	return t, nil
}

func parseRow(fields []string) (Sample, error) {
	var vals [3]float64
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("field %d %q: %w", i+1, fields[i], err)
		}
		vals[i] = v
	}
	return Sample{AoA: vals[0], Cl: vals[1], Cd: vals[2]}, nil
}
