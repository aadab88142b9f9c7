package output

import (
	"fmt"
	"os"
	"time"

	"github.com/jessegalley/usbbench/internal/runners"
)

// log timestamps use local time
const logTimeLayout = "2006-01-02 15:04:05"

// DefaultLabel names a session that was not given a label
func DefaultLabel(t time.Time) string {
	return t.Format("session-20060102-150405")
}

// LogLine formats one results log entry:
// label | read Mbps | write Mbps | timestamp
func LogLine(label string, result *runners.SessionResult) string {
	return fmt.Sprintf("%-30s | %7.2f Mbps | %7.2f Mbps | %s\n",
		label, result.Read.ThroughputMbps, result.Write.ThroughputMbps,
		result.Timestamp.Local().Format(logTimeLayout))
}

// AppendLog appends line to the log at path, creating it if needed, and
// syncs it so the entry survives the device being pulled
func AppendLog(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync log: %w", err)
	}
	return f.Close()
}

// ReadLog returns the contents of the log at path
func ReadLog(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read log: %w", err)
	}
	return string(b), nil
}
