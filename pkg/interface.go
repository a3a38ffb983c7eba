package pkg

import (
	"io"

	"backpack/pkg/manager"
)

type ReadWriterCloser interface {
	manager.Reader
	manager.Writer
	io.Closer
}
