/*
 *
 * jesse galley <jesse@jessegalley.net>
 */

// Package config holds the settings for a usbbench run: the CLI level
// Config with its defaults, and the validated BenchmarkConfig that the
// measurement core consumes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

const (
	// DefaultPayloadSize is the amount of data written then read back (1 GiB)
	DefaultPayloadSize uint64 = 1 << 30

	// DefaultChunkSize is the size of a single write or read call (4 MiB)
	DefaultChunkSize = 4 << 20

	// DefaultSeed seeds the payload generator when none is given
	DefaultSeed int64 = 0x5EEDCAFE
)

// ErrInvalidConfig is returned when a configuration is rejected before any io happens
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration parameters for a usbbench run
type Config struct {
	TargetDir   string // directory on the device under test
	FileName    string // name of the test file created inside TargetDir
	PayloadSize uint64 // total bytes written and then read back
	ChunkSize   int    // size of each io operation in bytes
	DirectIO    bool   // request page cache bypass (false uses plain buffered io)
	OSync       bool   // open the write file with O_SYNC
	FsyncFreq   int    // flush after this many chunks (0 flushes once at the end)
	Seed        int64  // payload generator seed
	OutFmt      string // output format (table, json, or flat)
	Keep        bool   // keep the test file after a successful run
	LogName     string // results log file name inside TargetDir
	Debug       int    // debug level (0=none, 1=debug logging and config dump)
}

// NewConfig creates a new Config instance with sensible default values
func NewConfig() *Config {
	return &Config{
		TargetDir:   ".",                // current working directory unless told otherwise
		FileName:    ".usbbench.tmp",    // hidden file in the device root
		PayloadSize: DefaultPayloadSize, // 1 GiB
		ChunkSize:   DefaultChunkSize,   // 4 MiB keeps per call overhead negligible
		DirectIO:    true,               // bypass the page cache on reads
		OSync:       false,              // rely on the final flush
		FsyncFreq:   0,                  // flush once at the end
		Seed:        DefaultSeed,        // reproducible payload
		OutFmt:      "table",            // human readable results box
		Keep:        false,              // remove the test file after success
		LogName:     "usbbench.log",     // pipe delimited results log
		Debug:       0,                  // no debug output by default
	}
}

// TestFilePath returns the absolute path of the payload file
func (c *Config) TestFilePath() (string, error) {
	abs, err := filepath.Abs(filepath.Join(c.TargetDir, c.FileName))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return abs, nil
}

// Benchmark builds the validated core configuration from c
func (c *Config) Benchmark() (*BenchmarkConfig, error) {
	path, err := c.TestFilePath()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	bc, err := NewBenchmarkConfig(path, c.PayloadSize, c.ChunkSize)
	if err != nil {
		return nil, err
	}
	if c.FsyncFreq < 0 {
		return nil, fmt.Errorf("%w: fsync frequency must not be negative, got %d", ErrInvalidConfig, c.FsyncFreq)
	}
	bc.FsyncFreq = c.FsyncFreq
	bc.Seed = c.Seed

	return bc, nil
}

// BenchmarkConfig is the input of one write-then-read session.
// The final chunk of a phase is the remainder PayloadSize % ChunkSize when
// that is non-zero.
type BenchmarkConfig struct {
	TargetPath  string // payload file, created or truncated by the write phase
	PayloadSize uint64 // bytes per phase
	ChunkSize   int    // bytes per io call
	FsyncFreq   int    // flush after this many chunks (0 flushes once at the end)
	Seed        int64  // payload generator seed
}

// NewBenchmarkConfig constructs and validates a BenchmarkConfig
func NewBenchmarkConfig(targetPath string, payloadSize uint64, chunkSize int) (*BenchmarkConfig, error) {
	c := &BenchmarkConfig{
		TargetPath:  targetPath,
		PayloadSize: payloadSize,
		ChunkSize:   chunkSize,
		Seed:        DefaultSeed,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks sizes, the target directory and the free space on its volume
func (c *BenchmarkConfig) Validate() error {
	if c.PayloadSize == 0 {
		return fmt.Errorf("%w: payload size must be positive", ErrInvalidConfig)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if uint64(c.ChunkSize) > c.PayloadSize {
		return fmt.Errorf("%w: chunk size %s exceeds payload size %s",
			ErrInvalidConfig, humanize.IBytes(uint64(c.ChunkSize)), humanize.IBytes(c.PayloadSize))
	}
	if c.TargetPath == "" {
		return fmt.Errorf("%w: target path is empty", ErrInvalidConfig)
	}

	dir := filepath.Dir(c.TargetPath)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: target directory %s: %v", ErrInvalidConfig, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidConfig, dir)
	}

	return c.checkFreeSpace(dir)
}

// Chunks returns the number of io calls one phase performs
func (c *BenchmarkConfig) Chunks() uint64 {
	n := c.PayloadSize / uint64(c.ChunkSize)
	if c.PayloadSize%uint64(c.ChunkSize) != 0 {
		n++
	}
	return n
}

// freeSpaceFunc is swapped out by tests
var freeSpaceFunc = freeSpace

// checkFreeSpace rejects payloads that do not fit on the target volume.
// a stale test file counts as free since the write phase truncates it.
func (c *BenchmarkConfig) checkFreeSpace(dir string) error {
	avail, err := freeSpaceFunc(dir)
	if err != nil {
		return fmt.Errorf("%w: failed to query free space on %s: %v", ErrInvalidConfig, dir, err)
	}

	if info, err := os.Stat(c.TargetPath); err == nil && info.Mode().IsRegular() {
		avail += uint64(info.Size())
	}

	if avail < c.PayloadSize {
		return fmt.Errorf("%w: insufficient free space on %s: need %s, have %s",
			ErrInvalidConfig, dir, humanize.IBytes(c.PayloadSize), humanize.IBytes(avail))
	}
	return nil
}
