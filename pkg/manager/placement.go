package manager

// place picks the data file for a write of length bytes: the writable file
// with the largest append offset that still has room, ties going to the
// smallest id. Must be called with m.mu held.
func (m *Manager) place(length int64) *dataFile {
	var (
		best     *dataFile
		bestSize int64
	)
	for _, df := range m.files {
		if df.readOnly.Load() || !df.file.Fits(length) {
			continue
		}

		size := df.file.Size()
		if best == nil || size > bestSize || (size == bestSize && df.id < best.id) {
			best = df
			bestSize = size
		}
	}
	return best
}
