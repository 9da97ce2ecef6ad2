// benchreport turns `go test -bench` output into a table, JSON, or CSV so
// serializer and codec benchmark runs can be compared across commits.
package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type benchRow struct {
	Name        string  `json:"name"`
	Procs       int     `json:"procs,omitempty"`
	Iterations  int64   `json:"iterations"`
	NsPerOp     float64 `json:"ns_per_op"`
	BytesPerOp  float64 `json:"bytes_per_op,omitempty"`
	AllocsPerOp float64 `json:"allocs_per_op,omitempty"`
}

func main() {
	if err := newBenchReportCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newBenchReportCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          "benchreport [bench output file]",
		Short:        "summarize go test -bench output",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         runBenchReport,
	}
	command.Flags().String("format", "table", "output format: table|json|csv")
	command.Flags().Bool("pretty", false, "pretty-print JSON output")
	return command
}

func runBenchReport(cmd *cobra.Command, args []string) error {
	input := io.Reader(os.Stdin)
	if len(args) == 1 && args[0] != "-" {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open bench output: %w", err)
		}
		defer func() { _ = file.Close() }()
		input = file
	}

	rows, err := parseBench(input)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	pretty, _ := cmd.Flags().GetBool("pretty")
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "table", "":
		renderTable(rows)
		return nil
	case "json":
		enc := json.NewEncoder(os.Stdout)
		if pretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(rows)
	case "csv":
		return writeCSV(os.Stdout, rows)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func parseBench(r io.Reader) ([]benchRow, error) {
	scanner := bufio.NewScanner(r)
	rows := make([]benchRow, 0, 32)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}
		if row, ok := parseBenchLine(line); ok {
			rows = append(rows, row)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read bench output: %w", err)
	}
	return rows, nil
}

// parseBenchLine understands the fixed prefix "Name N ns/op" followed by
// optional "value unit" pairs emitted by b.ReportAllocs.
func parseBenchLine(line string) (benchRow, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return benchRow{}, false
	}
	iterations, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return benchRow{}, false
	}
	nsPerOp, err := nanosecondsPerOp(fields[2], fields[3])
	if err != nil {
		return benchRow{}, false
	}

	name, procs := splitNameProcs(fields[0])
	row := benchRow{Name: name, Procs: procs, Iterations: iterations, NsPerOp: nsPerOp}
	for i := 4; i+1 < len(fields); i += 2 {
		value, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			continue
		}
		switch fields[i+1] {
		case "B/op":
			row.BytesPerOp = value
		case "allocs/op":
			row.AllocsPerOp = value
		}
	}
	return row, true
}

func nanosecondsPerOp(value, unit string) (float64, error) {
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	switch unit {
	case "ns/op":
		return parsed, nil
	case "us/op", "µs/op":
		return parsed * 1e3, nil
	case "ms/op":
		return parsed * 1e6, nil
	case "s/op":
		return parsed * 1e9, nil
	}
	return 0, fmt.Errorf("unknown duration unit %q", unit)
}

func splitNameProcs(name string) (string, int) {
	idx := strings.LastIndex(name, "-")
	if idx <= 0 || idx == len(name)-1 {
		return name, 0
	}
	procs, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return name, 0
	}
	return name[:idx], procs
}

func renderTable(rows []benchRow) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"NAME", "ITERATIONS", "NS/OP", "B/OP", "ALLOCS/OP"})
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.Name,
			row.Iterations,
			strconv.FormatFloat(row.NsPerOp, 'f', -1, 64),
			formatOptional(row.BytesPerOp),
			formatOptional(row.AllocsPerOp),
		})
	}
	t.Render()
}

func writeCSV(w io.Writer, rows []benchRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"name", "procs", "iterations", "ns_per_op", "bytes_per_op", "allocs_per_op"}); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Name,
			strconv.Itoa(row.Procs),
			strconv.FormatInt(row.Iterations, 10),
			strconv.FormatFloat(row.NsPerOp, 'f', -1, 64),
			formatOptional(row.BytesPerOp),
			formatOptional(row.AllocsPerOp),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatOptional(value float64) string {
	if value == 0 {
		return ""
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
