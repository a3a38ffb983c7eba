package manager

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"backpack/pkg/metrics"
)

// Info is the per data file record kept in the FilesKey hash.
type Info struct {
	ReadOnly bool `json:"readOnly"`
}

func decodeInfo(raw []byte) (Info, error) {
	var info Info
	if len(raw) == 0 {
		return info, nil
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// recheck flips df to read-only once its size exceeds the capacity. The flag
// never goes back to false. If storing the flip fails, the flag stays set in
// memory and the next recheck tries to store it again.
func (m *Manager) recheck(ctx context.Context, df *dataFile) error {
	df.mu.Lock()
	defer df.mu.Unlock()

	if !df.readOnly.Load() {
		size := df.file.Size()
		if size <= m.capacity {
			return nil
		}

		df.readOnly.Store(true)
		df.dirty = true
		metrics.ReadOnlyTransition()
		m.log.WithFields(logrus.Fields{
			"file_id":  df.id,
			"size":     size,
			"capacity": m.capacity,
		}).Info("data file is now read-only")
	}

	if !df.dirty {
		return nil
	}
	if err := m.persist(ctx, df); err != nil {
		return err
	}
	df.dirty = false
	return nil
}

func (m *Manager) persist(ctx context.Context, df *dataFile) error {
	raw, err := json.Marshal(Info{ReadOnly: df.readOnly.Load()})
	if err != nil {
		return err
	}
	if err := m.idx.HSet(ctx, FilesKey, strconv.FormatInt(df.id, 10), raw); err != nil {
		return errors.Wrapf(err, "failed to store info of data file %d", df.id)
	}
	return nil
}
