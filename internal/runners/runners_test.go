package runners

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jessegalley/usbbench/internal/bypass"
	"github.com/jessegalley/usbbench/internal/config"
	"github.com/jessegalley/usbbench/internal/payload"
)

const MiB = 1 << 20

// spyPolicy wraps a real policy and can inject failures
type spyPolicy struct {
	bypass.Policy
	flushes     int
	readOpens   int
	flushErr    error
	openReadErr error
}

func (p *spyPolicy) Flush(f *os.File) error {
	p.flushes++
	if p.flushErr != nil {
		return p.flushErr
	}
	return p.Policy.Flush(f)
}

func (p *spyPolicy) OpenRead(path string, chunkSize int) (*os.File, bypass.Status, error) {
	p.readOpens++
	if p.openReadErr != nil {
		return nil, bypass.Status{}, p.openReadErr
	}
	return p.Policy.OpenRead(path, chunkSize)
}

func newConfig(t *testing.T, payloadSize uint64, chunk int) *config.BenchmarkConfig {
	t.Helper()
	cfg, err := config.NewBenchmarkConfig(filepath.Join(t.TempDir(), ".usbbench.tmp"), payloadSize, chunk)
	require.NoError(t, err)
	return cfg
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestSession_RoundTrip(t *testing.T) {
	cfg := newConfig(t, 16*MiB, 1*MiB)
	stamp := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	s := NewSession(bypass.New(bypass.Options{Direct: true}),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return stamp }),
	)
	res, err := s.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, uint64(16*MiB), res.Write.BytesTransferred)
	assert.Equal(t, uint64(16*MiB), res.Read.BytesTransferred)
	assert.Equal(t, uint64(16), res.Write.Chunks)
	assert.Equal(t, uint64(16), res.Read.Chunks)
	assert.Greater(t, res.Write.Elapsed, time.Duration(0))
	assert.Greater(t, res.Read.Elapsed, time.Duration(0))
	assert.Equal(t, PhaseWrite, res.Write.Phase)
	assert.Equal(t, PhaseRead, res.Read.Phase)
	assert.Equal(t, stamp, res.Timestamp)
	assert.Equal(t, cfg.TargetPath, res.TargetPath)

	for _, r := range []PhaseResult{res.Write, res.Read} {
		assert.InDelta(t, r.ThroughputMBps*8, r.ThroughputMbps, 1e-9)
		assert.Greater(t, r.ThroughputMBps, 0.0)
	}

	// the session never removes the payload file
	assert.Equal(t, int64(16*MiB), fileSize(t, cfg.TargetPath))
}

func TestSession_ProgressPerPhase(t *testing.T) {
	cfg := newConfig(t, 5*MiB+123, 1*MiB)

	samples := map[Phase][]ProgressSample{}
	s := NewSession(bypass.NewBuffered(bypass.Options{}),
		WithProgress(func(p Phase, s ProgressSample) { samples[p] = append(samples[p], s) }),
	)
	res, err := s.Run(context.Background(), cfg)
	require.NoError(t, err)

	for _, phase := range []Phase{PhaseWrite, PhaseRead} {
		got := samples[phase]
		require.Len(t, got, 6, phase.String())

		var prev uint64
		for _, sample := range got {
			assert.GreaterOrEqual(t, sample.BytesDone, prev)
			assert.Equal(t, cfg.PayloadSize, sample.TotalBytes)
			prev = sample.BytesDone
		}
		assert.Equal(t, cfg.PayloadSize, got[len(got)-1].BytesDone)
		assert.InDelta(t, 100.0, got[len(got)-1].Percent(), 1e-9)
	}
	assert.Equal(t, uint64(5*MiB+123), res.Read.BytesTransferred)
	assert.Equal(t, int64(5*MiB+123), fileSize(t, cfg.TargetPath))
}

func TestSession_DegradedBypassIsFlagged(t *testing.T) {
	cfg := newConfig(t, 2*MiB, 256*1024)
	res, err := NewSession(bypass.NewBuffered(bypass.Options{})).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, res.Degraded())
	assert.True(t, res.Read.CacheBypassDegraded)
	assert.Equal(t, bypass.ModeBuffered, res.Read.BypassMode)
	assert.NotEmpty(t, res.Read.BypassReason)
	assert.Equal(t, "buffered", res.Policy)
}

func TestSession_InvalidConfigBeforeIO(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.BenchmarkConfig{
		TargetPath:  filepath.Join(dir, ".usbbench.tmp"),
		PayloadSize: 0,
		ChunkSize:   MiB,
	}
	spy := &spyPolicy{Policy: bypass.NewBuffered(bypass.Options{})}

	_, err := NewSession(spy).Run(context.Background(), cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Zero(t, spy.flushes)

	_, statErr := os.Stat(cfg.TargetPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSession_WriteFailureSkipsRead(t *testing.T) {
	cfg := newConfig(t, 2*MiB, 1*MiB)
	spy := &spyPolicy{Policy: bypass.NewBuffered(bypass.Options{}), flushErr: errors.New("device went away")}

	_, err := NewSession(spy).Run(context.Background(), cfg)
	require.Error(t, err)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, PhaseWrite, ioErr.Phase)
	assert.Equal(t, "flush", ioErr.Op)
	assert.Zero(t, spy.readOpens)

	phase, ok := PhaseOf(err)
	assert.True(t, ok)
	assert.Equal(t, PhaseWrite, phase)
}

func TestSession_ReadFailureLeavesFile(t *testing.T) {
	cfg := newConfig(t, 2*MiB, 1*MiB)
	spy := &spyPolicy{Policy: bypass.NewBuffered(bypass.Options{}), openReadErr: errors.New("permission denied")}

	_, err := NewSession(spy, WithLogger(zaptest.NewLogger(t))).Run(context.Background(), cfg)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, PhaseRead, ioErr.Phase)
	assert.Equal(t, "open", ioErr.Op)
	assert.Contains(t, err.Error(), "read failed")
	assert.Equal(t, int64(2*MiB), fileSize(t, cfg.TargetPath))
}

func TestWrite_FsyncFrequency(t *testing.T) {
	cfg := newConfig(t, 8*MiB, 1*MiB)
	cfg.FsyncFreq = 2
	spy := &spyPolicy{Policy: bypass.NewBuffered(bypass.Options{})}

	res, err := NewWriteBenchmark(spy, payload.New(1), nil).Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(8*MiB), res.BytesTransferred)

	// every second chunk plus the final flush
	assert.Equal(t, 5, spy.flushes)
}

func TestWrite_DeterministicPayload(t *testing.T) {
	cfg := newConfig(t, 64*1024, 4096)
	cfg.Seed = 99

	_, err := NewWriteBenchmark(bypass.NewBuffered(bypass.Options{}), nil, nil).Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	want := make([]byte, 64*1024)
	gen := payload.New(99)
	for off := 0; off < len(want); off += 4096 {
		gen.Fill(want[off : off+4096])
	}
	got, err := os.ReadFile(cfg.TargetPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWrite_CancelAfterFirstChunk(t *testing.T) {
	cfg := newConfig(t, 8*MiB, 1*MiB)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var samples int
	_, err := NewWriteBenchmark(bypass.NewBuffered(bypass.Options{}), payload.New(1), nil).
		Run(ctx, cfg, func(ProgressSample) {
			samples++
			cancel()
		})

	require.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	var ioErr *IOError
	assert.False(t, errors.As(err, &ioErr), "cancellation must not be an io error")

	phase, ok := PhaseOf(err)
	assert.True(t, ok)
	assert.Equal(t, PhaseWrite, phase)

	// no chunk after the first one, partial file left in place
	assert.Equal(t, 1, samples)
	assert.Equal(t, int64(1*MiB), fileSize(t, cfg.TargetPath))
}

func TestRead_Cancelled(t *testing.T) {
	cfg := newConfig(t, 2*MiB, 1*MiB)
	policy := bypass.NewBuffered(bypass.Options{})
	_, err := NewWriteBenchmark(policy, nil, nil).Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewReadBenchmark(policy, nil).Run(ctx, cfg, nil)
	require.ErrorIs(t, err, ErrCancelled)

	phase, _ := PhaseOf(err)
	assert.Equal(t, PhaseRead, phase)
}

func TestRead_PrematureEOF(t *testing.T) {
	cfg := newConfig(t, 16*MiB, 1*MiB)
	policy := bypass.New(bypass.Options{Direct: true})

	_, err := NewWriteBenchmark(policy, nil, nil).Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(cfg.TargetPath, 10*MiB))

	var last ProgressSample
	_, err = NewReadBenchmark(policy, zaptest.NewLogger(t)).Run(context.Background(), cfg, func(s ProgressSample) { last = s })
	require.Error(t, err)
	require.ErrorIs(t, err, ErrPrematureEOF)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, PhaseRead, ioErr.Phase)
	assert.Equal(t, uint64(10*MiB), ioErr.Done)
	assert.Equal(t, uint64(10*MiB), last.BytesDone)
	assert.Contains(t, err.Error(), "after 10 MiB of 16 MiB")
}

func TestRead_UnalignedRemainder(t *testing.T) {
	cfg := newConfig(t, 3*MiB+777, 1*MiB)
	policy := bypass.New(bypass.Options{Direct: true})

	_, err := NewWriteBenchmark(policy, nil, nil).Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	res, err := NewReadBenchmark(policy, nil).Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.PayloadSize, res.BytesTransferred)
	assert.Equal(t, uint64(4), res.Chunks)
}

func TestRead_LongerFileCountsPayloadOnly(t *testing.T) {
	cfg := newConfig(t, 2*MiB, 1*MiB)
	require.NoError(t, os.WriteFile(cfg.TargetPath, make([]byte, 3*MiB), 0644))

	res, err := NewReadBenchmark(bypass.NewBuffered(bypass.Options{}), nil).Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*MiB), res.BytesTransferred)
}

func TestWrite_OpenFailure(t *testing.T) {
	cfg := &config.BenchmarkConfig{
		TargetPath:  filepath.Join(t.TempDir(), "missing", "payload.bin"),
		PayloadSize: MiB,
		ChunkSize:   MiB,
	}
	_, err := NewWriteBenchmark(bypass.NewBuffered(bypass.Options{}), nil, nil).Run(context.Background(), cfg, nil)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, PhaseWrite, ioErr.Phase)
	assert.Equal(t, "open", ioErr.Op)
	assert.True(t, os.IsNotExist(errors.Unwrap(err)))
}

// fakeWriter returns scripted results per call
type fakeWriter struct {
	calls   int
	results []struct {
		n   int
		err error
	}
	written int
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	r := w.results[w.calls]
	w.calls++
	n := min(r.n, len(p))
	w.written += n
	return n, r.err
}

func script(steps ...any) *fakeWriter {
	w := &fakeWriter{}
	for i := 0; i < len(steps); i += 2 {
		var err error
		if steps[i+1] != nil {
			err = steps[i+1].(error)
		}
		w.results = append(w.results, struct {
			n   int
			err error
		}{steps[i].(int), err})
	}
	return w
}

func TestWriteChunk(t *testing.T) {
	chunk := make([]byte, 100)
	boom := errors.New("boom")

	cases := []struct {
		name    string
		w       *fakeWriter
		wantN   int
		wantErr error
		calls   int
	}{
		{"full write", script(100, nil), 100, nil, 1},
		{"short then recovered", script(40, nil, 100, nil), 100, nil, 2},
		{"short write error then recovered", script(60, io.ErrShortWrite, 100, nil), 100, nil, 2},
		{"short twice", script(40, nil, 30, nil), 70, io.ErrShortWrite, 2},
		{"hard error", script(10, boom), 10, boom, 1},
		{"retry fails", script(50, nil, 0, boom), 50, boom, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := writeChunk(tc.w, chunk)
			assert.Equal(t, tc.wantN, n)
			assert.Equal(t, tc.calls, tc.w.calls)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestIOError_Message(t *testing.T) {
	err := &IOError{
		Phase: PhaseWrite,
		Op:    "write",
		Done:  612 * MiB,
		Total: 1024 * MiB,
		Err:   &os.PathError{Op: "write", Path: "/mnt/usb/.usbbench.tmp", Err: syscall.ENOSPC},
	}
	assert.Contains(t, err.Error(), "write failed: disk full after 612 MiB of 1.0 GiB")
	assert.ErrorIs(t, err, syscall.ENOSPC)

	open := &IOError{Phase: PhaseRead, Op: "open", Total: MiB, Err: os.ErrNotExist}
	assert.Equal(t, "read failed: open: file does not exist", open.Error())
}

func TestThroughput(t *testing.T) {
	assert.InDelta(t, 1.0, MBps(1_000_000, time.Second), 1e-12)
	assert.InDelta(t, 8.0, Mbps(1_000_000, time.Second), 1e-12)
	assert.InDelta(t, 50.0, MBps(100_000_000, 2*time.Second), 1e-12)
	assert.Zero(t, MBps(123, 0))

	r := newPhaseResult(PhaseRead, 123_456_789, 1, 1500*time.Millisecond)
	assert.InDelta(t, r.ThroughputMBps*8, r.ThroughputMbps, 1e-9)
	assert.Equal(t, "658.44", r.MbpsString())
	assert.Equal(t, 658.44, r.MbpsRounded())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "write", PhaseWrite.String())
	assert.Equal(t, "read", PhaseRead.String())
	assert.Equal(t, "phase(7)", Phase(7).String())
}

func TestProgressSample(t *testing.T) {
	s := ProgressSample{BytesDone: 5_000_000, TotalBytes: 20_000_000, Elapsed: time.Second}
	assert.InDelta(t, 25.0, s.Percent(), 1e-9)
	assert.InDelta(t, 5.0, s.MBps(), 1e-9)
	assert.Zero(t, ProgressSample{}.Percent())
}
