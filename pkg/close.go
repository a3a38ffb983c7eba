package pkg

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Close closes the data files and, unless it was passed in with WithIndex,
// the index connection.
func (s *Store) Close() error {
	var result *multierror.Error
	if err := s.manager.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "failed to close data files"))
	}
	if err := s.closeIndex(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "failed to close index"))
	}
	return result.ErrorOrNil()
}

func (s *Store) closeIndex() error {
	if !s.ownsIdx {
		return nil
	}
	s.ownsIdx = false
	return s.index.Close()
}
