package runners

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jessegalley/usbbench/internal/bypass"
	"github.com/jessegalley/usbbench/internal/config"
	"github.com/jessegalley/usbbench/internal/payload"
)

// Session runs the write phase and then the read phase against the same
// file. the phases never overlap and each opens and closes its own handle.
// the payload file is left on disk; disposal is up to the caller.
type Session struct {
	policy   bypass.Policy
	logger   *zap.Logger
	progress func(Phase, ProgressSample)
	now      func() time.Time
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithLogger sets the logger passed to both phases
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProgress sets the sink for progress samples of both phases
func WithProgress(fn func(Phase, ProgressSample)) SessionOption {
	return func(s *Session) {
		s.progress = fn
	}
}

// WithClock overrides the clock used for SessionResult.Timestamp
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession creates a Session using policy for both phases
func NewSession(policy bypass.Policy, opts ...SessionOption) *Session {
	s := &Session{
		policy: policy,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run validates cfg and executes both phases. a write failure stops the
// session before the read phase; a read failure leaves the written file
// in place for diagnosis.
func (s *Session) Run(ctx context.Context, cfg *config.BenchmarkConfig) (*SessionResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// one generator per session, seeded once
	gen := payload.New(cfg.Seed)

	wr, err := NewWriteBenchmark(s.policy, gen, s.logger).Run(ctx, cfg, s.phaseProgress(PhaseWrite))
	if err != nil {
		return nil, err
	}

	rd, err := NewReadBenchmark(s.policy, s.logger).Run(ctx, cfg, s.phaseProgress(PhaseRead))
	if err != nil {
		s.logger.Warn("read phase failed, payload file left in place", zap.String("path", cfg.TargetPath))
		return nil, err
	}

	return &SessionResult{
		Write:       wr,
		Read:        rd,
		Timestamp:   s.now(),
		TargetPath:  cfg.TargetPath,
		PayloadSize: cfg.PayloadSize,
		ChunkSize:   cfg.ChunkSize,
		Policy:      s.policy.Name(),
	}, nil
}

func (s *Session) phaseProgress(phase Phase) ProgressFunc {
	if s.progress == nil {
		return nil
	}
	return func(sample ProgressSample) {
		s.progress(phase, sample)
	}
}
