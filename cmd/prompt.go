/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	gdisk "github.com/shirou/gopsutil/v4/disk"

	"github.com/jessegalley/usbbench/internal/config"
	"github.com/jessegalley/usbbench/internal/output"
	"github.com/jessegalley/usbbench/internal/runners"
)

// prompter asks line based questions on the terminal. end of input is
// treated as an empty answer.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// readLine prints question and returns the trimmed answer
func (p *prompter) readLine(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	if errors.Is(err, io.EOF) && line == "" {
		// keep the next output off the prompt line
		fmt.Fprintln(p.out)
	}
	return strings.TrimSpace(line), nil
}

// confirm asks a yes/no question defaulting to no
func (p *prompter) confirm(question string) (bool, error) {
	answer, err := p.readLine(question)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// ask returns the answer to question, or def when the answer is empty
func (p *prompter) ask(question, def string) (string, error) {
	answer, err := p.readLine(question)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// saveOptions controls how a finished session reaches the results log
type saveOptions struct {
	save        bool   // log without asking
	interactive bool   // prompts are allowed
	label       string // session label, empty for the default or a prompt
}

// saveResults decides whether to log the session, appends the entry to
// the log in the target directory and echoes the whole log
func saveResults(p *prompter, out io.Writer, cfg *config.Config, result *runners.SessionResult, opts saveOptions) (bool, error) {
	save := opts.save
	if !save && opts.interactive {
		ok, err := p.confirm("Save results to USB root? [y/N] ")
		if err != nil {
			return false, err
		}
		save = ok
	}
	if !save {
		return false, nil
	}

	name := opts.label
	def := output.DefaultLabel(result.Timestamp.Local())
	if name == "" && opts.interactive {
		var err error
		name, err = p.ask(fmt.Sprintf("Session name [%s]: ", def), def)
		if err != nil {
			return false, err
		}
	}
	if name == "" {
		name = def
	}

	path := filepath.Join(cfg.TargetDir, cfg.LogName)
	if err := output.AppendLog(path, output.LogLine(name, result)); err != nil {
		return false, err
	}

	contents, err := output.ReadLog(path)
	if err != nil {
		return true, err
	}
	fmt.Fprintf(out, "\nresults appended to %s\n\n%s", path, contents)
	return true, nil
}

// mount point lookup, swapped out by tests
var (
	listPartitions = func() ([]gdisk.PartitionStat, error) { return gdisk.Partitions(false) }
	hostOS         = runtime.GOOS
)

// mountPrefixes are where desktops and users mount removable media
var mountPrefixes = map[string][]string{
	"linux":   {"/media/", "/run/media/", "/mnt/"},
	"darwin":  {"/Volumes/"},
	"freebsd": {"/media/", "/mnt/"},
}

// targetCandidate is a mounted volume offered by the picker
type targetCandidate struct {
	label string
	path  string
}

// isRemovableMount guesses whether a mount belongs to removable media.
// on windows every drive but C: counts.
func isRemovableMount(goos string, p gdisk.PartitionStat) bool {
	if p.Mountpoint == "" {
		return false
	}
	if goos == "windows" {
		return !strings.HasPrefix(strings.ToUpper(p.Mountpoint), "C:")
	}
	for _, prefix := range mountPrefixes[goos] {
		if strings.HasPrefix(p.Mountpoint, prefix) {
			return true
		}
	}
	return false
}

// targetCandidates lists removable mounts sorted by path, one entry per
// mount point
func targetCandidates(goos string, parts []gdisk.PartitionStat) []targetCandidate {
	seen := make(map[string]bool)
	var out []targetCandidate
	for _, p := range parts {
		if !isRemovableMount(goos, p) || seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true

		// a bare drive letter is relative to that drive's working directory
		path := p.Mountpoint
		if goos == "windows" && strings.HasSuffix(path, ":") {
			path += `\`
		}
		out = append(out, targetCandidate{
			label: fmt.Sprintf("%s on %s", p.Device, p.Mountpoint),
			path:  path,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// chooseTarget lets the user pick one of candidates by number, or type a
// path when there are none
func (p *prompter) chooseTarget(candidates []targetCandidate) (string, error) {
	if len(candidates) == 0 {
		dir, err := p.readLine("No removable/USB mounts detected. Enter a directory path to test: ")
		if err != nil {
			return "", err
		}
		if dir == "" {
			return "", usagef("no target directory given")
		}
		return dir, nil
	}

	fmt.Fprintln(p.out, "Select a device/path to test:")
	for i, c := range candidates {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, c.label)
	}
	answer, err := p.readLine("Enter number: ")
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(answer)
	if err != nil {
		return "", usagef("invalid selection %q", answer)
	}
	if n < 1 || n > len(candidates) {
		return "", usagef("selection %d out of range", n)
	}

	c := candidates[n-1]
	fmt.Fprintf(p.out, "Testing read/write speed to USB device: %s\n", c.label)
	return c.path, nil
}

// pickTarget offers the removable mounts of this host. a failed lookup
// falls back to asking for a path.
func pickTarget(p *prompter) (string, error) {
	parts, err := listPartitions()
	if err != nil {
		fmt.Fprintf(p.out, "could not list mounts: %v\n", err)
		parts = nil
	}
	return p.chooseTarget(targetCandidates(hostOS, parts))
}
