// Package storage implements the data files blobs are packed into.
//
// A data file is append-only. Space for a write is reserved up front by
// bumping the file's append offset, and the bytes are then streamed in
// through a Writer bounded to that range. Reads go through a second handle
// opened for direct I/O, so every physical read is block aligned and the
// Reader trims the result down to the requested range.
//
// Framing lives entirely in the metadata log next to each data file (see
// package wal); the data file itself is a raw concatenation of payloads.
package storage

import (
	"fmt"
	"math"

	"github.com/ncw/directio"
)

// MaxFileSize bounds a data file so that every offset and length fits the
// 32-bit fields of its metadata log.
const MaxFileSize = math.MaxUint32

// Alignment is the block size physical reads are aligned to.
var Alignment = int64(directio.BlockSize)

var (
	ErrClosed     = fmt.Errorf("storage: file closed")
	ErrOverflow   = fmt.Errorf("storage: write exceeds declared length")
	ErrShortWrite = fmt.Errorf("storage: fewer bytes written than declared")
	ErrFileFull   = fmt.Errorf("storage: write does not fit in file")
	ErrAborted    = fmt.Errorf("storage: write aborted")
)
