//go:build linux

package blockdisk

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncData flushes file data without forcing a metadata update unless the
// size changed.
func syncData(f *os.File) error {
	for {
		err := unix.Fdatasync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}
