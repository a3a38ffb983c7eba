package pkg

import (
	"github.com/sirupsen/logrus"

	"backpack/internal/index"
)

type Option interface {
	apply(*Store)
}

type OptionFunc func(*Store)

func (f OptionFunc) apply(s *Store) {
	f(s)
}

// WithIndex makes the store use idx instead of connecting to the configured
// backend. The caller keeps ownership of idx.
func WithIndex(idx index.Index) Option {
	return OptionFunc(func(s *Store) {
		s.index = idx
	})
}

func WithLogger(log *logrus.Entry) Option {
	return OptionFunc(func(s *Store) {
		s.log = log
	})
}
