package runners

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/jessegalley/usbbench/internal/bypass"
	"github.com/jessegalley/usbbench/internal/config"
	"github.com/jessegalley/usbbench/internal/payload"
	"github.com/jessegalley/usbbench/internal/timer"
)

// WriteBenchmark writes the payload in chunks and flushes it to the device
type WriteBenchmark struct {
	policy  bypass.Policy
	payload *payload.Generator
	logger  *zap.Logger
}

// NewWriteBenchmark creates a WriteBenchmark. gen may be shared with
// nothing else while Run is executing.
func NewWriteBenchmark(policy bypass.Policy, gen *payload.Generator, logger *zap.Logger) *WriteBenchmark {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WriteBenchmark{policy: policy, payload: gen, logger: logger}
}

// Run creates or truncates cfg.TargetPath and writes cfg.PayloadSize bytes
// to it. the timer covers every chunk and the final flush. any shortfall
// is an error; there is no partial result.
func (w *WriteBenchmark) Run(ctx context.Context, cfg *config.BenchmarkConfig, onProgress ProgressFunc) (PhaseResult, error) {
	total := cfg.PayloadSize
	gen := w.payload
	if gen == nil {
		gen = payload.New(cfg.Seed)
	}

	f, err := w.policy.OpenWrite(cfg.TargetPath)
	if err != nil {
		return PhaseResult{}, &IOError{Phase: PhaseWrite, Op: "open", Total: total, Err: err}
	}

	// closed explicitly on success, this only covers the error paths
	closed := false
	defer func() {
		if !closed {
			f.Close()
		}
	}()

	w.logger.Debug("write phase starting",
		zap.String("path", cfg.TargetPath),
		zap.Uint64("bytes", total),
		zap.Int("chunk", cfg.ChunkSize),
		zap.String("policy", w.policy.Name()),
	)

	buf := make([]byte, cfg.ChunkSize)
	chunkSize := uint64(cfg.ChunkSize)

	var done, chunks uint64
	t := timer.Start()
	for done < total {
		// cancellation is only observed on chunk boundaries
		if err := ctx.Err(); err != nil {
			return PhaseResult{}, cancelled(PhaseWrite, done, total, err)
		}

		chunk := buf[:min(chunkSize, total-done)]
		gen.Fill(chunk)

		n, err := writeChunk(f, chunk)
		done += uint64(n)
		if err != nil {
			return PhaseResult{}, &IOError{Phase: PhaseWrite, Op: "write", Done: done, Total: total, Err: err}
		}
		chunks++

		if cfg.FsyncFreq > 0 && chunks%uint64(cfg.FsyncFreq) == 0 {
			if err := w.policy.Flush(f); err != nil {
				return PhaseResult{}, &IOError{Phase: PhaseWrite, Op: "flush", Done: done, Total: total, Err: err}
			}
			w.logger.Debug("periodic flush", zap.Uint64("done", done), zap.Duration("interval", t.Split()))
		}

		if onProgress != nil {
			onProgress(ProgressSample{BytesDone: done, TotalBytes: total, Elapsed: t.Elapsed()})
		}
	}

	// the data only counts as written once it is on the medium
	if err := w.policy.Flush(f); err != nil {
		return PhaseResult{}, &IOError{Phase: PhaseWrite, Op: "flush", Done: done, Total: total, Err: err}
	}
	elapsed := t.Elapsed()

	closed = true
	if err := f.Close(); err != nil {
		return PhaseResult{}, &IOError{Phase: PhaseWrite, Op: "close", Done: done, Total: total, Err: err}
	}

	res := newPhaseResult(PhaseWrite, done, chunks, elapsed)
	w.logger.Debug("write phase finished",
		zap.Duration("elapsed", elapsed),
		zap.Float64("mbs", res.ThroughputMBps),
	)
	return res, nil
}

// writeChunk writes chunk, retrying the unwritten remainder of a short
// write once. a second shortfall is fatal.
func writeChunk(w io.Writer, chunk []byte) (int, error) {
	n, err := w.Write(chunk)
	if err == nil && n == len(chunk) {
		return n, nil
	}
	if err != nil && !errors.Is(err, io.ErrShortWrite) {
		return n, err
	}

	m, err := w.Write(chunk[n:])
	n += m
	if err != nil {
		return n, err
	}
	if n < len(chunk) {
		return n, io.ErrShortWrite
	}
	return n, nil
}
