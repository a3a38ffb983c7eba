package manager

import "fmt"

var (
	ErrNotReady       = fmt.Errorf("manager: not ready")
	ErrClosed         = fmt.Errorf("manager: closed")
	ErrLocked         = fmt.Errorf("manager: data directory is locked by another process")
	ErrNotFound       = fmt.Errorf("manager: not found")
	ErrUnknownFile    = fmt.Errorf("manager: unknown data file")
	ErrNoWritableFile = fmt.Errorf("manager: no writable data file")
	ErrReservedKey    = fmt.Errorf("manager: reserved key")
)
