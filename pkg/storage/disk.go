// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"fmt"
	"strconv"

	"github.com/shirou/gopsutil/v3/disk"
)

// FreeSpace returns the free bytes of the file system holding dir.
func FreeSpace(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage: %w", err)
	}
	return usage.Free, nil
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

// FormatSize formats a byte count with 3 significant figures.
func FormatSize(size int64) string {
	used := float64(size)
	switch {
	case used < 1000*megabyte:
		return strconv.FormatFloat(used/megabyte, 'f', sigFigs(used/megabyte), 64) + "MB"
	case used < 1000*gigabyte:
		return strconv.FormatFloat(used/gigabyte, 'f', sigFigs(used/gigabyte), 64) + "GB"
	default:
		return strconv.FormatFloat(used/terabyte, 'f', sigFigs(used/terabyte), 64) + "TB"
	}
}

func sigFigs(v float64) int {
	switch {
	case v < 10:
		return 2
	case v < 100:
		return 1
	}
	return 0
}
