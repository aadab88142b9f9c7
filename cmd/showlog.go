/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jessegalley/usbbench/internal/output"
)

// legacyLogName is the log name used by earlier releases
const legacyLogName = "crabwise.log"

// showlogCmd represents the showlog command
var showlogCmd = &cobra.Command{
	Use:   "showlog [target_dir]",
	Short: "Print the results log kept on a device.",
	Long: `Print the pipe delimited results log (see --log-name) from target_dir.
If target_dir is not provided the current directory is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		if logName == "" || filepath.Base(logName) != logName {
			return usagef("--log-name must be a plain file name, got %q", logName)
		}

		contents, err := output.ReadLog(filepath.Join(dir, logName))
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("log-name") {
			// devices benchmarked before the rename carry the older log
			contents, err = output.ReadLog(filepath.Join(dir, legacyLogName))
		}
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), contents)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showlogCmd)
}
