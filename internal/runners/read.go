package runners

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/jessegalley/usbbench/internal/bypass"
	"github.com/jessegalley/usbbench/internal/config"
	"github.com/jessegalley/usbbench/internal/timer"
)

// ReadBenchmark reads back the file produced by WriteBenchmark
type ReadBenchmark struct {
	policy bypass.Policy
	logger *zap.Logger
}

// NewReadBenchmark creates a ReadBenchmark
func NewReadBenchmark(policy bypass.Policy, logger *zap.Logger) *ReadBenchmark {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadBenchmark{policy: policy, logger: logger}
}

// Run reads cfg.PayloadSize bytes from cfg.TargetPath. every request asks
// for a full chunk since direct io needs aligned lengths; bytes past the
// payload are not counted. a file that ends early is an error.
func (r *ReadBenchmark) Run(ctx context.Context, cfg *config.BenchmarkConfig, onProgress ProgressFunc) (PhaseResult, error) {
	total := cfg.PayloadSize

	f, status, err := r.policy.OpenRead(cfg.TargetPath, cfg.ChunkSize)
	if err != nil {
		return PhaseResult{}, &IOError{Phase: PhaseRead, Op: "open", Total: total, Err: err}
	}
	defer f.Close()

	if status.Degraded {
		r.logger.Warn("read cache bypass degraded, read speed may include host cache hits",
			zap.String("mode", string(status.Mode)),
			zap.String("reason", status.Reason),
		)
	}
	r.logger.Debug("read phase starting",
		zap.String("path", cfg.TargetPath),
		zap.Uint64("bytes", total),
		zap.Int("chunk", cfg.ChunkSize),
		zap.String("mode", string(status.Mode)),
	)

	buf := r.policy.ReadBuffer(cfg.ChunkSize)

	var done, chunks uint64
	t := timer.Start()
	for done < total {
		if err := ctx.Err(); err != nil {
			return PhaseResult{}, cancelled(PhaseRead, done, total, err)
		}

		// one call per chunk; io.ReadFull would retry a short read at an
		// unaligned offset, which direct io rejects
		n, err := f.Read(buf)
		if rem := total - done; uint64(n) > rem {
			n = int(rem)
		}
		done += uint64(n)

		if n > 0 {
			chunks++
			if onProgress != nil {
				onProgress(ProgressSample{BytesDone: done, TotalBytes: total, Elapsed: t.Elapsed()})
			}
		}

		if done >= total {
			break
		}
		switch {
		case errors.Is(err, io.EOF):
			return PhaseResult{}, &IOError{Phase: PhaseRead, Op: "read", Done: done, Total: total, Err: ErrPrematureEOF}
		case err != nil:
			return PhaseResult{}, &IOError{Phase: PhaseRead, Op: "read", Done: done, Total: total, Err: err}
		case n == 0:
			return PhaseResult{}, &IOError{Phase: PhaseRead, Op: "read", Done: done, Total: total, Err: io.ErrNoProgress}
		}
	}
	elapsed := t.Elapsed()

	res := newPhaseResult(PhaseRead, done, chunks, elapsed)
	res.CacheBypassDegraded = status.Degraded
	res.BypassMode = status.Mode
	res.BypassReason = status.Reason

	r.logger.Debug("read phase finished",
		zap.Duration("elapsed", elapsed),
		zap.Float64("mbs", res.ThroughputMBps),
	)
	return res, nil
}
