// Package output renders session results and maintains the results log
package output

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jessegalley/usbbench/internal/runners"
)

// OutputFormat represents the supported output format types
type OutputFormat string

// supported output format constants
const (
	// table format outputs results in a human-readable results box
	TableFormat OutputFormat = "table"

	// json format outputs results as a json object
	JSONFormat OutputFormat = "json"

	// flat format outputs results as space-separated values
	FlatFormat OutputFormat = "flat"
)

const boxWidth = 46

// FormatResult formats a SessionResult according to the specified format
func FormatResult(result *runners.SessionResult, format OutputFormat) (string, error) {
	switch format {
	case TableFormat:
		return formatTable(result), nil

	case JSONFormat:
		jsonBytes, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal json: %w", err)
		}
		return string(jsonBytes) + "\n", nil

	case FlatFormat:
		// write MB/s, write Mbps, read MB/s, read Mbps, degraded flag
		degraded := 0
		if result.Degraded() {
			degraded = 1
		}
		return fmt.Sprintf("%.2f %.2f %.2f %.2f %d\n",
			result.Write.ThroughputMBps, result.Write.ThroughputMbps,
			result.Read.ThroughputMBps, result.Read.ThroughputMbps, degraded), nil

	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// ValidateFormat checks if the provided format string is a valid output format
func ValidateFormat(format string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(format))

	switch f {
	case TableFormat, JSONFormat, FlatFormat:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format '%s'. supported formats are: table, json, flat", format)
	}
}

// formatTable draws the results box
func formatTable(result *runners.SessionResult) string {
	var sb strings.Builder

	sb.WriteString("\n╔" + strings.Repeat("═", boxWidth) + "╗\n")
	sb.WriteString("║" + center("USB Benchmark Results", boxWidth) + "║\n")
	sb.WriteString("╚" + strings.Repeat("═", boxWidth) + "╝\n")

	fmt.Fprintf(&sb, "%-8s %s\n", "Device:", filepath.Dir(result.TargetPath))
	fmt.Fprintf(&sb, "%-8s %s\n", "Test:", result.TargetPath)
	fmt.Fprintf(&sb, "%-8s %6.2f GiB (%s)\n", "Size:", float64(result.PayloadSize)/(1<<30), humanize.Bytes(result.PayloadSize))
	fmt.Fprintf(&sb, "%-8s %6.2f MiB\n", "Block:", float64(result.ChunkSize)/(1<<20))
	fmt.Fprintf(&sb, "%-8s %s (read: %s)\n", "Policy:", result.Policy, result.Read.BypassMode)

	sb.WriteString("\n")
	sb.WriteString(phaseLine("WRITE:", result.Write))
	sb.WriteString(phaseLine("READ:", result.Read))
	sb.WriteString("\n")

	if result.Degraded() {
		fmt.Fprintf(&sb, "warning: read cache bypass degraded (%s)\n", result.Read.BypassReason)
		sb.WriteString("         read speed may include host cache hits\n\n")
	}

	sb.WriteString(strings.Repeat("═", boxWidth+2) + "\n")
	return sb.String()
}

func phaseLine(label string, r runners.PhaseResult) string {
	return fmt.Sprintf("%-6s %9.2f MB/s (%8.2f Mbps) in %6.2fs\n",
		label, r.ThroughputMBps, r.ThroughputMbps, r.Elapsed.Seconds())
}

// center pads s with spaces to width, extra space on the right
func center(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	left := (width - n) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-n-left)
}
