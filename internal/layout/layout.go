// package layout prepares the test directory on the device and disposes
// of the payload file once a run is over
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureWritableDirectory validates that dirPath exists and is writable by
// the calling user. a missing directory is created only when create is set.
func EnsureWritableDirectory(dirPath string, create bool) error {
	// first check if directory exists
	if info, err := os.Stat(dirPath); err == nil {
		// directory exists, check if it's a directory and writable
		if !info.IsDir() {
			return fmt.Errorf("%s exists but is not a directory", dirPath)
		}

		// try to create a temporary file to test writeability
		f, err := os.CreateTemp(dirPath, ".usbbench_write_test")
		if err != nil {
			return fmt.Errorf("directory %s exists but is not writable: %w", dirPath, err)
		}
		name := f.Name()
		f.Close()
		os.Remove(name)

		return nil
	} else if !os.IsNotExist(err) {
		// error other than "not exists" occurred
		return fmt.Errorf("failed to check directory %s: %w", dirPath, err)
	}

	if !create {
		return fmt.Errorf("directory %s does not exist", dirPath)
	}

	// directory doesn't exist, try to create it
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}

	return nil
}

// CheckExistingFile reports whether file exists as a regular file of
// exactly size bytes
func CheckExistingFile(file string, size uint64) bool {
	info, err := os.Stat(file)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && uint64(info.Size()) == size
}

// StaleFile returns the size of a leftover test file at path, if any
func StaleFile(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

// RemoveTestFile deletes the payload file. a missing file is not an error.
func RemoveTestFile(path string) error {
	if filepath.Base(path) == "." || filepath.Base(path) == string(filepath.Separator) {
		return fmt.Errorf("refusing to remove %q", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove test file: %w", err)
	}
	return nil
}
