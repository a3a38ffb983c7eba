package manager

import (
	"context"

	"backpack/internal/storage"
)

type ReadWriter interface {
	Reader
	Writer
}

type Reader interface {
	// Read resolves name and returns a reader for its bytes. It returns
	// ErrNotFound if nothing was ever published under name.
	Read(ctx context.Context, name string) (*storage.Reader, error)
}

type Writer interface {
	// Write places a blob of exactly length bytes and returns the writer the
	// caller streams it into. The blob becomes readable once the writer's
	// Commit succeeds.
	Write(ctx context.Context, name string, length int64) (*storage.Writer, error)
}

var _ ReadWriter = (*Manager)(nil)
