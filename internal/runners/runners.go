// package runners contains the write and read phases of a usbbench
// session and the session that sequences them
package runners

import (
	"math"
	"strconv"
	"time"

	"github.com/jessegalley/usbbench/internal/bypass"
)

// throughput units are decimal: 1 MB = 10^6 bytes, 1 Mbps = 10^6 bits/s
const bytesPerMB = 1_000_000

// Phase is one directional pass over the payload file
type Phase int

const (
	// PhaseWrite writes the payload
	PhaseWrite Phase = iota

	// PhaseRead reads the payload back
	PhaseRead
)

func (p Phase) String() string {
	switch p {
	case PhaseWrite:
		return "write"
	case PhaseRead:
		return "read"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}

// MarshalText encodes the phase by name
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ProgressSample is the cumulative state of a phase after one chunk
type ProgressSample struct {
	BytesDone  uint64        // bytes transferred so far
	TotalBytes uint64        // bytes the phase will transfer
	Elapsed    time.Duration // time since the phase timer started
}

// Percent returns completion in the range 0..100
func (s ProgressSample) Percent() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.BytesDone) / float64(s.TotalBytes) * 100
}

// MBps returns the instantaneous rate in MB/s
func (s ProgressSample) MBps() float64 {
	return MBps(s.BytesDone, s.Elapsed)
}

// ProgressFunc receives samples from inside the io loop. it must not block.
type ProgressFunc func(ProgressSample)

// PhaseResult is the measured outcome of one successful phase
type PhaseResult struct {
	Phase               Phase         `json:"phase"`
	BytesTransferred    uint64        `json:"bytes_transferred"`
	Chunks              uint64        `json:"chunks"`
	Elapsed             time.Duration `json:"elapsed_ns"`
	ThroughputMBps      float64       `json:"throughput_mbs"`
	ThroughputMbps      float64       `json:"throughput_mbps"`
	CacheBypassDegraded bool          `json:"cache_bypass_degraded"`
	BypassMode          bypass.Mode   `json:"bypass_mode,omitempty"`
	BypassReason        string        `json:"bypass_reason,omitempty"`
}

// newPhaseResult fills the derived throughput fields
func newPhaseResult(phase Phase, bytes, chunks uint64, elapsed time.Duration) PhaseResult {
	mbs := MBps(bytes, elapsed)
	return PhaseResult{
		Phase:            phase,
		BytesTransferred: bytes,
		Chunks:           chunks,
		Elapsed:          elapsed,
		ThroughputMBps:   mbs,
		ThroughputMbps:   mbs * 8,
	}
}

// MbpsRounded returns ThroughputMbps rounded to two decimals, the
// precision the results log records
func (r PhaseResult) MbpsRounded() float64 {
	return math.Round(r.ThroughputMbps*100) / 100
}

// MbpsString formats ThroughputMbps with two decimals
func (r PhaseResult) MbpsString() string {
	return strconv.FormatFloat(r.ThroughputMbps, 'f', 2, 64)
}

// SessionResult combines both phases of one run. it is created once both
// phases succeed and is not modified afterwards.
type SessionResult struct {
	Write       PhaseResult `json:"write"`
	Read        PhaseResult `json:"read"`
	Timestamp   time.Time   `json:"timestamp"`
	TargetPath  string      `json:"target_path"`
	PayloadSize uint64      `json:"payload_size"`
	ChunkSize   int         `json:"chunk_size"`
	Policy      string      `json:"policy"`
}

// Degraded reports whether the read phase could not bypass the page cache
func (s *SessionResult) Degraded() bool {
	return s.Read.CacheBypassDegraded
}

// MBps converts bytes over elapsed into decimal megabytes per second
func MBps(bytes uint64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(bytes) / bytesPerMB / secs
}

// Mbps converts bytes over elapsed into decimal megabits per second
func Mbps(bytes uint64, elapsed time.Duration) float64 {
	return MBps(bytes, elapsed) * 8
}
