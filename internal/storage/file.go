package storage

import (
	"context"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/ncw/directio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"backpack/internal/wal"
)

type FileOption func(*File)

// WithDirectIO controls whether the read handle is opened with O_DIRECT.
// It is enabled by default.
func WithDirectIO(enabled bool) FileOption {
	return func(f *File) {
		f.direct = enabled
	}
}

// WithSync controls whether data and metadata log writes are followed by an
// fdatasync. It is enabled by default.
func WithSync(enabled bool) FileOption {
	return func(f *File) {
		f.sync = enabled
	}
}

func WithLogger(log *logrus.Entry) FileOption {
	return func(f *File) {
		f.log = log
	}
}

// File is one append-only data file together with its metadata log.
//
// The append offset only ever grows. It is bumped when a Writer is handed
// out, so concurrent writers always get disjoint ranges even though their
// bytes reach the disk in any order.
type File struct {
	path   string
	direct bool
	sync   bool
	log    *logrus.Entry

	write *os.File
	read  *os.File
	meta  *wal.Log

	mu     sync.Mutex
	offset int64
	closed bool
}

// OpenFile opens the data file at path, creating it and its metadata log if
// they do not exist.
func OpenFile(path string, options ...FileOption) (*File, error) {
	f := &File{
		path:   path,
		direct: true,
		sync:   true,
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, option := range options {
		option(f)
	}
	f.log = f.log.WithField("file", path)

	write, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open data file %q", path)
	}

	read, err := f.openRead()
	if err != nil {
		_ = write.Close()
		return nil, err
	}

	stat, err := write.Stat()
	if err != nil {
		_ = write.Close()
		_ = read.Close()
		return nil, errors.Wrapf(err, "failed to stat data file %q", path)
	}

	meta, err := wal.Open(path+wal.Suffix, wal.WithSync(f.sync), wal.WithLogger(f.log))
	if err != nil {
		_ = write.Close()
		_ = read.Close()
		return nil, err
	}

	f.write = write
	f.read = read
	f.meta = meta
	f.offset = stat.Size()

	return f, nil
}

func (f *File) openRead() (*os.File, error) {
	if f.direct {
		file, err := directio.OpenFile(f.path, os.O_RDONLY, 0644)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, unix.EINVAL) {
			return nil, errors.Wrapf(err, "failed to open data file %q for direct reads", f.path)
		}
		f.log.Warn("file system does not support direct I/O, using buffered reads")
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open data file %q", f.path)
	}
	return file, nil
}

// Path returns the location of the data file on disk.
func (f *File) Path() string {
	return f.path
}

// Size returns the append offset, which includes ranges reserved by writers
// that have not finished yet.
func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

func (f *File) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Fits reports whether a write of length bytes can still be placed in the
// file.
func (f *File) Fits(length int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed && f.offset+length <= MaxFileSize
}

// Writer reserves length bytes at the end of the file and returns a Writer
// for them. The range is reserved before any I/O happens. Committing the
// writer appends name to the metadata log.
func (f *File) Writer(name string, length int64) (*Writer, error) {
	if length < 0 {
		return nil, errors.Errorf("storage: negative length %d", length)
	}
	if len(name) > wal.MaxNameSize {
		return nil, wal.ErrNameTooLong
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	if f.offset+length > MaxFileSize {
		f.mu.Unlock()
		return nil, ErrFileFull
	}
	offset := f.offset
	f.offset += length
	f.mu.Unlock()

	return NewWriter(f.write, name, offset, length, f.register, WithDataSync(f.sync)), nil
}

func (f *File) register(ctx context.Context, w *Writer) error {
	return f.meta.Register(ctx, w.name, uint32(w.offset), uint32(w.length))
}

// Reader returns a Reader for [offset, offset+length).
func (f *File) Reader(offset, length int64) (*Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}
	return NewReader(f.read, offset, length), nil
}

// Entries replays the metadata log. Trailing bytes that do not form a
// complete entry are logged and ignored.
func (f *File) Entries() ([]wal.Entry, error) {
	if f.Closed() {
		return nil, ErrClosed
	}

	entries, residual, err := f.meta.Replay()
	if err != nil {
		return nil, err
	}
	if len(residual) > 0 {
		f.log.WithField("residual", len(residual)).Warn("metadata log ends in an incomplete entry")
	}
	return entries, nil
}

// Close closes both handles and the metadata log. A closed File cannot be
// reopened through the same value.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var result *multierror.Error
	if err := f.write.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := f.read.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := f.meta.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
