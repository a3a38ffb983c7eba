package wal

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"backpack/internal/fsync"
)

// Suffix is appended to a data file path to name its metadata log.
const Suffix = ".meta"

var (
	ErrClosed      = fmt.Errorf("wal: log closed")
	ErrNameTooLong = fmt.Errorf("wal: name longer than 255 bytes")
	ErrBroken      = fmt.Errorf("wal: log holds a partial record that could not be cut off")
)

type Option func(*Log)

// WithSync controls whether every Register is followed by an fdatasync of
// the log. It is enabled by default.
func WithSync(sync bool) Option {
	return func(l *Log) {
		l.sync = sync
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(l *Log) {
		l.log = log
	}
}

// Log (write-ahead log) is the append-only journal of a single data file. It
// records the name, offset and length of every write committed to the data
// file, in commit order, and is the record the name index can be rebuilt
// from. Entries are never rewritten; the only mutation besides appending is
// cutting a torn trailing record, either when the log is opened or right
// after an append that failed.
type Log struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	closed bool
	sync   bool
	log    *logrus.Entry
	buf    []byte

	// size is the end of the last complete entry.
	size   int64
	broken error

	write    func([]byte) (int, error)
	truncate func(int64) error
}

// Open opens (creating if needed) the log at path for appending. If the log
// ends in an incomplete record, left by a crash during an append, the
// record is cut off so that the next append starts on an entry boundary.
func Open(path string, options ...Option) (*Log, error) {
	l := &Log{
		path: path,
		sync: true,
		log:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, option := range options {
		option(l)
	}

	size, err := l.repair()
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log %q", path)
	}
	l.file = file
	l.size = size
	l.write = file.Write
	l.truncate = file.Truncate

	return l, nil
}

// repair cuts a torn trailing record and returns the size of the valid log.
func (l *Log) repair() (int64, error) {
	buf, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read log %q", l.path)
	}

	_, residual := Decode(buf)
	valid := int64(len(buf) - len(residual))
	if len(residual) == 0 {
		return valid, nil
	}

	l.log.WithFields(logrus.Fields{
		"path":      l.path,
		"discarded": len(residual),
		"size":      valid,
	}).Warn("discarding torn record at end of log")

	if err := os.Truncate(l.path, valid); err != nil {
		return 0, errors.Wrapf(err, "failed to truncate torn log %q", l.path)
	}
	return valid, nil
}

// Path returns the location of the log on disk.
func (l *Log) Path() string {
	return l.path
}

// Register appends one entry. Once it returns nil the entry is part of the
// recoverable record of the data file. If the append fails, whatever part of
// the record reached the file is cut off again so the next entry starts on a
// record boundary. When that cut fails too the log turns broken and every
// later Register returns ErrBroken.
func (l *Log) Register(ctx context.Context, name string, offset, length uint32) error {
	if len(name) > MaxNameSize {
		return ErrNameTooLong
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.broken != nil {
		return l.broken
	}

	// A single write keeps the entry contiguous with O_APPEND.
	entry := Entry{Name: name, Offset: offset, Length: length}
	l.buf = entry.AppendBinary(l.buf[:0])
	if _, err := l.write(l.buf); err != nil {
		return l.rollback(errors.Wrapf(err, "failed to append to log %q", l.path))
	}

	if l.sync {
		if err := fsync.Data(l.file); err != nil {
			return l.rollback(errors.Wrapf(err, "failed to sync log %q", l.path))
		}
	}
	l.size += int64(len(l.buf))
	return nil
}

// rollback cuts the log back to the end of the last complete entry after a
// failed append. Must be called with l.mu held.
func (l *Log) rollback(cause error) error {
	if err := l.truncate(l.size); err != nil {
		l.broken = errors.Wrapf(ErrBroken, "%q at %d: %v", l.path, l.size, err)
		l.log.WithError(err).WithFields(logrus.Fields{
			"path": l.path,
			"size": l.size,
		}).Error("failed to cut partial record from log")
	}
	return cause
}

// Replay reads the whole log and returns its entries in append order along
// with any undecodable trailing bytes.
func (l *Log) Replay() ([]Entry, []byte, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, nil, ErrClosed
	}
	return ReadFile(l.path)
}

// ReadFile decodes the log stored at path without opening it for writing.
func ReadFile(path string) ([]Entry, []byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read log %q", path)
	}
	entries, residual := Decode(buf)
	return entries, residual, nil
}

// Close closes the log. A closed log cannot be reopened through the same
// value; further Register calls fail with ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
