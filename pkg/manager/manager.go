// Package manager owns the set of data files. It decides which file a new
// blob is written to, switches files to read-only once they grow past the
// capacity threshold, and resolves names to byte ranges through the
// external index.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"backpack/internal/index"
	"backpack/internal/storage"
	"backpack/pkg/metrics"
)

// Reserved index keys. Blob names may not collide with them.
const (
	FilesKey   = "files"         // hash <id>=<Info JSON>
	CounterKey = "files_counter" // last issued data file id
	SizesKey   = "files_size"    // hash <id>=<committed bytes>
)

const dataFilePrefix = "data_"

// IsReserved reports whether key is used by the manager itself.
func IsReserved(key string) bool {
	switch key {
	case FilesKey, CounterKey, SizesKey:
		return true
	}
	return false
}

// FileStat describes one data file.
type FileStat struct {
	ID       int64
	Path     string
	Size     int64
	ReadOnly bool
}

type dataFile struct {
	id   int64
	file *storage.File

	readOnly atomic.Bool

	// mu serialises rechecks. dirty is set while a read-only flip has not
	// been persisted yet.
	mu    sync.Mutex
	dirty bool
}

func (df *dataFile) stat() FileStat {
	return FileStat{
		ID:       df.id,
		Path:     df.file.Path(),
		Size:     df.file.Size(),
		ReadOnly: df.readOnly.Load(),
	}
}

// Manager is safe for concurrent use. Every operation blocks until Load has
// finished; after a failed Load every operation returns ErrNotReady.
type Manager struct {
	dir         string
	idx         index.Index
	keys        index.KeyCodec
	values      index.ValueCodec
	capacity    int64
	concurrency int
	fileOptions []storage.FileOption
	log         *logrus.Entry

	loading sync.Once
	ready   chan struct{}
	err     error

	// mu protects files and closed. Placement and offset reservation both
	// happen under it so concurrent writers get disjoint ranges.
	mu     sync.RWMutex
	files  map[int64]*dataFile
	lock   *os.File
	closed bool
}

// New returns a manager for the data files in dir. It does not touch the
// disk or the index until Load is called.
func New(dir string, idx index.Index, options ...Option) *Manager {
	m := &Manager{
		dir:         dir,
		idx:         idx,
		keys:        index.IdentityKeys,
		values:      index.DecimalLocations,
		capacity:    DefaultCapacity,
		concurrency: 8,
		log:         logrus.NewEntry(logrus.StandardLogger()),
		ready:       make(chan struct{}),
		files:       make(map[int64]*dataFile),
	}
	for _, option := range options {
		option.apply(m)
	}
	if m.concurrency <= 0 {
		m.concurrency = 1
	}
	return m
}

// Open creates a manager and loads it.
func Open(ctx context.Context, dir string, idx index.Index, options ...Option) (*Manager, error) {
	m := New(dir, idx, options...)
	if err := m.Load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Ready is closed once Load has finished, successfully or not.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Load opens every data file recorded in the index and rechecks its
// read-only state. It runs once; later calls return the first result. If
// anything fails, the files opened so far are closed again and the manager
// never becomes usable.
func (m *Manager) Load(ctx context.Context) error {
	m.loading.Do(func() {
		m.err = m.load(ctx)
		if m.err != nil {
			m.log.WithError(m.err).Error("failed to load data files")
		}
		close(m.ready)
	})
	<-m.ready
	return m.err
}

func (m *Manager) load(ctx context.Context) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create data directory %q", m.dir)
	}

	lock, err := lockDirectory(m.dir)
	if err != nil {
		return err
	}

	files, err := m.openFiles(ctx)
	if err != nil {
		_ = lock.Close()
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		_ = closeFiles(files)
		_ = lock.Close()
		return ErrClosed
	}
	m.files = files
	m.lock = lock

	metrics.DataFiles(len(files))
	m.log.WithFields(logrus.Fields{
		"dir":   m.dir,
		"files": len(files),
	}).Info("data files loaded")
	return nil
}

func (m *Manager) openFiles(ctx context.Context) (map[int64]*dataFile, error) {
	infos, err := m.idx.HGetAll(ctx, FilesKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read data file list")
	}
	sizes, err := m.idx.HGetAll(ctx, SizesKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read data file sizes")
	}

	var (
		mu    sync.Mutex
		files = make(map[int64]*dataFile, len(infos))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for field, raw := range infos {
		field, raw := field, raw
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil || id <= 0 {
				return errors.Errorf("invalid data file id %q", field)
			}
			info, err := decodeInfo(raw)
			if err != nil {
				return errors.Wrapf(err, "invalid info for data file %d", id)
			}

			f, err := storage.OpenFile(m.path(id), m.fileOpts(id)...)
			if err != nil {
				return err
			}
			df := &dataFile{id: id, file: f}
			df.readOnly.Store(info.ReadOnly)

			mu.Lock()
			files[id] = df
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = closeFiles(files)
		return nil, err
	}

	for id, df := range files {
		m.compareSize(df, sizes[strconv.FormatInt(id, 10)])

		if err := m.recheck(ctx, df); err != nil {
			_ = closeFiles(files)
			return nil, err
		}
	}
	return files, nil
}

// compareSize logs a data file whose size disagrees with the bytes the index
// accounts for. A larger file is expected after a crash between the data
// write and the publish; a smaller one means published data is missing.
func (m *Manager) compareSize(df *dataFile, raw []byte) {
	if raw == nil {
		return
	}
	committed, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		m.log.WithField("file_id", df.id).Warn("invalid size recorded in index")
		return
	}

	size := df.file.Size()
	log := m.log.WithFields(logrus.Fields{
		"file_id":   df.id,
		"size":      size,
		"committed": committed,
	})
	switch {
	case size < committed:
		log.Error("data file is smaller than the published data")
	case size > committed:
		log.Debug("data file holds unpublished bytes")
	}
}

// DataFilePath returns where the data file with the given id lives in dir.
// Its metadata log is the same path with wal.Suffix appended.
func DataFilePath(dir string, id int64) string {
	return filepath.Join(dir, dataFilePrefix+strconv.FormatInt(id, 10))
}

func (m *Manager) path(id int64) string {
	return DataFilePath(m.dir, id)
}

func (m *Manager) fileOpts(id int64) []storage.FileOption {
	options := append([]storage.FileOption{}, m.fileOptions...)
	return append(options, storage.WithLogger(m.log.WithField("file_id", id)))
}

func (m *Manager) wait(ctx context.Context) error {
	select {
	case <-m.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if m.err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, m.err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Manager) encodeKey(name string) (string, error) {
	if IsReserved(name) {
		return "", fmt.Errorf("%w: %q", ErrReservedKey, name)
	}
	key, err := m.keys.EncodeKey(name)
	if err != nil {
		return "", err
	}
	if IsReserved(key) {
		return "", fmt.Errorf("%w: %q encodes to %q", ErrReservedKey, name, key)
	}
	return key, nil
}

// Write places a blob of length bytes and reserves its range. Committing the
// returned writer appends the blob to the data file's metadata log, adds its
// length to the file's size in the index, rechecks the file's read-only state
// and finally stores the name's location. A commit that ends in
// storage.OutcomeIndexPublishFailed therefore never leaves the name
// resolvable, though the size table may already count the bytes until the
// next Rebuild.
func (m *Manager) Write(ctx context.Context, name string, length int64) (*storage.Writer, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, errors.Errorf("manager: negative length %d", length)
	}
	key, err := m.encodeKey(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	df := m.place(length)
	if df == nil {
		m.mu.Unlock()
		return nil, ErrNoWritableFile
	}
	w, err := df.file.Writer(name, length)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	w.OnCommit(func(ctx context.Context, w *storage.Writer) error {
		return m.publish(ctx, df, key, w)
	})
	return w, nil
}

func (m *Manager) publish(ctx context.Context, df *dataFile, key string, w *storage.Writer) error {
	loc := index.Location{File: df.id, Offset: w.Offset(), Length: w.Length()}
	value, err := m.values.EncodeLocation(loc)
	if err != nil {
		return err
	}

	if _, err := m.idx.HIncrBy(ctx, SizesKey, strconv.FormatInt(df.id, 10), w.Length()); err != nil {
		return errors.Wrapf(err, "failed to account %d bytes to data file %d", w.Length(), df.id)
	}
	if err := m.recheck(ctx, df); err != nil {
		return err
	}
	// The name becomes resolvable with this SET, so it has to be the last step.
	if err := m.idx.Set(ctx, key, value); err != nil {
		return errors.Wrapf(err, "failed to publish %q at %s", w.Name(), loc)
	}
	return nil
}

// Read resolves name through the index and returns a reader for its range.
func (m *Manager) Read(ctx context.Context, name string) (*storage.Reader, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	key, err := m.encodeKey(name)
	if err != nil {
		return nil, err
	}

	value, err := m.idx.Get(ctx, key)
	if errors.Is(err, index.ErrNil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %q", name)
	}

	loc, err := m.values.DecodeLocation(value)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %q", name)
	}

	m.mu.RLock()
	df := m.files[loc.File]
	m.mu.RUnlock()
	if df == nil {
		return nil, fmt.Errorf("%w: %d holds %q", ErrUnknownFile, loc.File, name)
	}
	return df.file.Reader(loc.Offset, loc.Length)
}

// AddStorageFile provisions a new, empty data file and returns its id.
func (m *Manager) AddStorageFile(ctx context.Context) (int64, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}

	id, err := m.idx.Incr(ctx, CounterKey)
	if err != nil {
		return 0, errors.Wrap(err, "failed to issue data file id")
	}

	m.mu.RLock()
	_, exists := m.files[id]
	m.mu.RUnlock()
	if exists {
		return 0, errors.Errorf("data file id %d issued twice", id)
	}

	f, err := storage.OpenFile(m.path(id), m.fileOpts(id)...)
	if err != nil {
		return 0, err
	}
	df := &dataFile{id: id, file: f}
	if err := m.persist(ctx, df); err != nil {
		_ = f.Close()
		return 0, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = f.Close()
		return 0, ErrClosed
	}
	m.files[id] = df
	n := len(m.files)
	m.mu.Unlock()

	metrics.DataFiles(n)
	m.log.WithFields(logrus.Fields{
		"file_id": id,
		"path":    f.Path(),
	}).Info("data file added")
	return id, nil
}

// File returns the state of one data file.
func (m *Manager) File(ctx context.Context, id int64) (FileStat, error) {
	if err := m.wait(ctx); err != nil {
		return FileStat{}, err
	}

	m.mu.RLock()
	df := m.files[id]
	m.mu.RUnlock()
	if df == nil {
		return FileStat{}, fmt.Errorf("%w: %d", ErrUnknownFile, id)
	}
	return df.stat(), nil
}

// Files returns the state of every data file, ordered by id.
func (m *Manager) Files(ctx context.Context) ([]FileStat, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	files := m.snapshot()
	stats := make([]FileStat, 0, len(files))
	for _, df := range files {
		stats = append(stats, df.stat())
	}
	return stats, nil
}

func (m *Manager) snapshot() []*dataFile {
	m.mu.RLock()
	files := make([]*dataFile, 0, len(m.files))
	for _, df := range m.files {
		files = append(files, df)
	}
	m.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool {
		return files[i].id < files[j].id
	})
	return files
}

// Recheck switches the data file to read-only if it grew past the capacity
// threshold and persists a switch that has not been stored yet.
func (m *Manager) Recheck(ctx context.Context, id int64) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.RLock()
	df := m.files[id]
	m.mu.RUnlock()
	if df == nil {
		return fmt.Errorf("%w: %d", ErrUnknownFile, id)
	}
	return m.recheck(ctx, df)
}

// Close closes every data file. The index is owned by the caller and stays
// open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var result *multierror.Error
	if err := closeFiles(m.files); err != nil {
		result = multierror.Append(result, err)
	}
	if m.lock != nil {
		if err := m.lock.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "failed to release data directory lock"))
		}
	}
	metrics.DataFiles(0)
	return result.ErrorOrNil()
}

func closeFiles(files map[int64]*dataFile) error {
	var result *multierror.Error
	for id, df := range files {
		if err := df.file.Close(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to close data file %d", id))
		}
	}
	return result.ErrorOrNil()
}
