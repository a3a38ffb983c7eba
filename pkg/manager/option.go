package manager

import (
	"github.com/sirupsen/logrus"

	"backpack/internal/index"
	"backpack/internal/storage"
)

// DefaultCapacity is the size past which a data file stops taking writes.
const DefaultCapacity = 1024 * 1024 * 3500

type Option interface {
	apply(*Manager)
}

type OptionFunc func(*Manager)

func (f OptionFunc) apply(m *Manager) {
	f(m)
}

// WithCapacity sets the read-only threshold in bytes.
func WithCapacity(capacity int64) Option {
	return OptionFunc(func(m *Manager) {
		m.capacity = capacity
	})
}

func WithKeyCodec(codec index.KeyCodec) Option {
	return OptionFunc(func(m *Manager) {
		m.keys = codec
	})
}

func WithValueCodec(codec index.ValueCodec) Option {
	return OptionFunc(func(m *Manager) {
		m.values = codec
	})
}

// WithFileOptions is applied to every data file the manager opens.
func WithFileOptions(options ...storage.FileOption) Option {
	return OptionFunc(func(m *Manager) {
		m.fileOptions = append(m.fileOptions, options...)
	})
}

// WithLoadConcurrency bounds how many data files are opened at once during
// Load.
func WithLoadConcurrency(n int) Option {
	return OptionFunc(func(m *Manager) {
		m.concurrency = n
	})
}

func WithLogger(log *logrus.Entry) Option {
	return OptionFunc(func(m *Manager) {
		m.log = log
	})
}
