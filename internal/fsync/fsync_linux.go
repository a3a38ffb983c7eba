//go:build linux

package fsync

import (
	"os"

	"golang.org/x/sys/unix"
)

// Data flushes the file's data, and only the metadata needed to read it back,
// to stable storage.
func Data(f *os.File) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		for {
			serr = unix.Fdatasync(int(fd))
			if serr != unix.EINTR {
				return
			}
		}
	}); err != nil {
		return err
	}
	return serr
}
