/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// program flags defined as global variables for access across functions
var (
	sizeStr   string // payload size, humanize syntax
	blockStr  string // chunk size, humanize syntax
	fileName  string // test file name inside the target directory
	directIO  bool   // whether to bypass the page cache
	oSync     bool   // whether to use O_SYNC
	fsyncFreq int    // fsync frequency in chunks
	seed      int64  // payload generator seed
	outFmt    string // output format
	keepFile  bool   // keep the test file after the run
	mkdir     bool   // create the target directory if missing
	saveLog   bool   // append to the results log without asking
	noPrompt  bool   // never prompt
	label     string // session label for the results log
	logName   string // results log name
	debug     bool   // debug logging and config dump
	version   bool   // print version and exit
)

// program info const
const progVersion string = "0.1.0"
const progAuthor string = "jesse galley <jesse@jessegalley.net>"

// usageError marks a bad flag value; it exits with status 2
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "usbbench [target_dir]",
	Short: "Measure sustained write and read throughput of a USB storage device.",
	Long: `usbbench writes a pseudo-random payload to target_dir, flushes it to the
device, then reads it back with the page cache bypassed and reports the
sustained throughput of both phases in MB/s and Mbps.

If target_dir is not provided the current directory is used.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// check if version flag was set
		if version {
			fmt.Fprintf(cmd.OutOrStdout(), "usbbench v%s\n%s\ngithub.com/jessegalley/usbbench\n", progVersion, progAuthor)
			os.Exit(0)
		}
	},
	RunE: runBench,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var ue *usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func init() {
	// define command line flags, writing values to our global variables
	rootCmd.PersistentFlags().StringVarP(&sizeStr, "size", "s", "1GiB", "payload size (e.g. 1G, 512M; K/M/G are powers of 1024)")
	rootCmd.PersistentFlags().StringVarP(&blockStr, "block", "b", "4MiB", "block size for io operations")
	rootCmd.PersistentFlags().StringVar(&fileName, "file", ".usbbench.tmp", "name of the test file inside target_dir")
	rootCmd.PersistentFlags().BoolVarP(&directIO, "direct", "d", true, "bypass the page cache (false uses buffered io)")
	rootCmd.PersistentFlags().BoolVar(&oSync, "osync", false, "use O_SYNC for writes")
	rootCmd.PersistentFlags().IntVar(&fsyncFreq, "fsync", 0, "call fsync after this many writes (0 flushes once at the end)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0x5EEDCAFE, "payload generator seed")
	rootCmd.PersistentFlags().StringVar(&outFmt, "format", "table", "output format (table, json, or flat)")
	rootCmd.PersistentFlags().BoolVar(&keepFile, "keep", false, "keep the test file after the run")
	rootCmd.PersistentFlags().BoolVar(&mkdir, "mkdir", false, "create target_dir if it does not exist")
	rootCmd.PersistentFlags().BoolVar(&saveLog, "save", false, "append results to the log without asking")
	rootCmd.PersistentFlags().BoolVar(&noPrompt, "no-prompt", false, "never prompt (results are logged only with --save)")
	rootCmd.PersistentFlags().StringVar(&label, "label", "", "session label for the results log (default session-YYYYMMDD-HHMMSS)")
	rootCmd.PersistentFlags().StringVar(&logName, "log-name", "usbbench.log", "results log name inside target_dir")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging and a dump of the resolved config")
	rootCmd.PersistentFlags().BoolVarP(&version, "version", "V", false, "print version and exit")
}
