//go:build !linux

package blockdisk

import "os"

func syncData(f *os.File) error {
	return f.Sync()
}
