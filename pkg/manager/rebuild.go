package manager

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"backpack/internal/index"
	"backpack/internal/wal"
)

type RebuildStats struct {
	Files   int
	Entries int
	Skipped int
	// Relocated counts names found in more than one data file.
	Relocated int
}

// Rebuild republishes every blob recorded in the metadata logs to the index
// and resets the size table to the logged totals. Files are replayed in id
// order and each log in append order, so for a name written more than once
// the entry in the highest file id wins.
//
// The logs carry no global order, so a name that was rewritten into a lower
// file id (possible when a lower id file grew larger than a higher one and
// won placement) is restored to its older location. Such names are logged
// and counted in RebuildStats.Relocated.
func (m *Manager) Rebuild(ctx context.Context) (RebuildStats, error) {
	var stats RebuildStats
	if err := m.wait(ctx); err != nil {
		return stats, err
	}

	files := m.snapshot()
	logs := make([][]wal.Entry, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, df := range files {
		i, df := i, df
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entries, err := df.file.Entries()
			if err != nil {
				return errors.Wrapf(err, "failed to replay data file %d", df.id)
			}
			logs[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	seen := make(map[string]int64)
	for i, df := range files {
		var size int64
		for _, e := range logs[i] {
			size += int64(e.Length)

			key, err := m.encodeKey(e.Name)
			if err != nil {
				stats.Skipped++
				m.log.WithError(err).WithField("file_id", df.id).Warn("skipping logged entry")
				continue
			}
			loc := index.Location{File: df.id, Offset: int64(e.Offset), Length: int64(e.Length)}
			value, err := m.values.EncodeLocation(loc)
			if err != nil {
				return stats, err
			}
			if err := m.idx.Set(ctx, key, value); err != nil {
				return stats, errors.Wrapf(err, "failed to publish %q at %s", e.Name, loc)
			}
			stats.Entries++

			if prev, ok := seen[key]; ok && prev != df.id {
				stats.Relocated++
				m.log.WithFields(logrus.Fields{
					"name":     e.Name,
					"previous": prev,
					"file_id":  df.id,
				}).Warn("name logged in more than one data file, keeping the higher id")
			}
			seen[key] = df.id
		}

		id := strconv.FormatInt(df.id, 10)
		if err := m.idx.HSet(ctx, SizesKey, id, []byte(strconv.FormatInt(size, 10))); err != nil {
			return stats, errors.Wrapf(err, "failed to reset size of data file %d", df.id)
		}
		stats.Files++
	}

	m.log.WithFields(logrus.Fields{
		"files":     stats.Files,
		"entries":   stats.Entries,
		"skipped":   stats.Skipped,
		"relocated": stats.Relocated,
	}).Info("index rebuilt from metadata logs")
	return stats, nil
}
