/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/jessegalley/usbbench/internal/bypass"
	"github.com/jessegalley/usbbench/internal/config"
	"github.com/jessegalley/usbbench/internal/layout"
	"github.com/jessegalley/usbbench/internal/output"
	"github.com/jessegalley/usbbench/internal/runners"
	"github.com/jessegalley/usbbench/internal/stats"
)

// how often the live progress line is redrawn
const progressInterval = 100 * time.Millisecond

// buildConfig turns the parsed flags and positional args into a Config
func buildConfig(args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	if len(args) == 1 {
		cfg.TargetDir = args[0]
	}

	size, err := parseSize(sizeStr)
	if err != nil {
		return nil, usagef("invalid --size %q: %v", sizeStr, err)
	}
	block, err := parseSize(blockStr)
	if err != nil {
		return nil, usagef("invalid --block %q: %v", blockStr, err)
	}
	if block > math.MaxInt32 {
		return nil, usagef("--block %s is too large", humanize.IBytes(block))
	}
	if fsyncFreq < 0 {
		return nil, usagef("--fsync must not be negative, got %d", fsyncFreq)
	}
	format, err := output.ValidateFormat(outFmt)
	if err != nil {
		return nil, usagef("%v", err)
	}
	if fileName == "" || filepath.Base(fileName) != fileName {
		return nil, usagef("--file must be a plain file name, got %q", fileName)
	}
	if logName == "" || filepath.Base(logName) != logName {
		return nil, usagef("--log-name must be a plain file name, got %q", logName)
	}

	cfg.PayloadSize = size
	cfg.ChunkSize = int(block)
	cfg.FileName = fileName
	cfg.DirectIO = directIO
	cfg.OSync = oSync
	cfg.FsyncFreq = fsyncFreq
	cfg.Seed = seed
	cfg.OutFmt = string(format)
	cfg.Keep = keepFile
	cfg.LogName = logName
	if debug {
		cfg.Debug = 1
	}

	return cfg, nil
}

// binarySuffixes maps the short unit suffixes to their IEC form, so 4M
// means 4 MiB and stays a multiple of the direct io block size
var binarySuffixes = map[string]string{
	"K": "KiB", "KB": "KiB",
	"M": "MiB", "MB": "MiB",
	"G": "GiB", "GB": "GiB",
	"T": "TiB", "TB": "TiB",
}

// parseSize parses a size flag. K, M, G and T (with or without a trailing
// B) are powers of 1024; anything else goes to humanize as is.
func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if i > 0 {
		if iec, ok := binarySuffixes[strings.ToUpper(strings.TrimSpace(s[i:]))]; ok {
			s = s[:i] + iec
		}
	}
	return humanize.ParseBytes(s)
}

// newLogger builds the console logger. without debug only warnings and
// errors are shown so they do not break up the progress line.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopmentConfig().Build()
	}

	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableCaller = true
	zc.DisableStacktrace = true
	return zc.Build()
}

func runBench(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := buildConfig(args)
	if err != nil {
		return err
	}
	format := output.OutputFormat(cfg.OutFmt)

	logger, err := newLogger(cfg.Debug > 0)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	// prompts would corrupt machine readable output
	interactive := !noPrompt && format == output.TableFormat
	p := newPrompter(cmd.InOrStdin(), out)

	if len(args) == 0 && interactive {
		dir, err := pickTarget(p)
		if err != nil {
			return err
		}
		cfg.TargetDir = dir
	}

	if err := layout.EnsureWritableDirectory(cfg.TargetDir, mkdir); err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	bc, err := cfg.Benchmark()
	if err != nil {
		return err
	}
	if cfg.Debug > 0 {
		spew.Fdump(cmd.ErrOrStderr(), cfg, bc)
	}
	if size, ok := layout.StaleFile(bc.TargetPath); ok {
		logger.Info("overwriting stale test file",
			zap.String("path", bc.TargetPath), zap.String("size", humanize.IBytes(uint64(size))))
	}

	policy := bypass.New(bypass.Options{Direct: cfg.DirectIO, OSync: cfg.OSync})
	logger.Debug("starting session",
		zap.String("policy", policy.Name()),
		zap.String("path", bc.TargetPath),
		zap.String("payload", humanize.IBytes(bc.PayloadSize)),
		zap.String("chunk", humanize.IBytes(uint64(bc.ChunkSize))),
		zap.Uint64("chunks", bc.Chunks()))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	result, err := runSession(ctx, out, policy, bc, format, logger)
	if err != nil {
		if phase, ok := runners.PhaseOf(err); ok {
			logger.Debug("session failed", zap.Stringer("phase", phase), zap.Error(err))
		}
		if _, statErr := os.Stat(bc.TargetPath); statErr == nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "test file left at %s\n", bc.TargetPath)
		}
		return err
	}

	text, err := output.FormatResult(result, format)
	if err != nil {
		return err
	}
	fmt.Fprint(out, text)
	if cfg.Debug > 0 {
		spew.Fdump(cmd.ErrOrStderr(), result)
	}
	logger.Debug("session finished",
		zap.String("write_mbps", result.Write.MbpsString()),
		zap.String("read_mbps", result.Read.MbpsString()))

	if cfg.Keep {
		if !layout.CheckExistingFile(bc.TargetPath, bc.PayloadSize) {
			logger.Warn("kept test file does not match the payload size", zap.String("path", bc.TargetPath))
		}
	} else if err := layout.RemoveTestFile(bc.TargetPath); err != nil {
		logger.Warn("could not remove test file", zap.String("path", bc.TargetPath), zap.Error(err))
	}

	if _, err := saveResults(p, out, cfg, result, saveOptions{
		save:        saveLog,
		interactive: interactive,
		label:       label,
	}); err != nil {
		return err
	}

	return nil
}

// runSession runs the benchmark alongside the progress render loop
func runSession(ctx context.Context, out io.Writer, policy bypass.Policy, bc *config.BenchmarkConfig, format output.OutputFormat, logger *zap.Logger) (*runners.SessionResult, error) {
	reporter := stats.NewReporter(out, stats.DisplayConfig{
		UpdateInterval: progressInterval,
		ShowProgress:   true,
		Quiet:          format != output.TableFormat,
	})
	session := runners.NewSession(policy,
		runners.WithLogger(logger),
		runners.WithProgress(reporter.Observe))

	var result *runners.SessionResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reporter.Run(gctx)
	})
	g.Go(func() error {
		defer reporter.Close()
		var err error
		result, err = session.Run(gctx, bc)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, runners.ErrCancelled) {
			logger.Warn("benchmark interrupted")
		}
		return nil, err
	}
	return result, nil
}
