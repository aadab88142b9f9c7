package config

import gdisk "github.com/shirou/gopsutil/v4/disk"

// freeSpace reports the bytes available to an unprivileged writer on the volume holding dir
func freeSpace(dir string) (uint64, error) {
	usage, err := gdisk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
