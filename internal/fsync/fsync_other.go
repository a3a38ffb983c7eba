//go:build !linux

package fsync

import "os"

// Data flushes the file to stable storage. Platforms without fdatasync fall
// back to a full fsync.
func Data(f *os.File) error {
	return f.Sync()
}
