package storage

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"backpack/internal/fsync"
)

// Outcome tells how a write ended.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomePhysicalWriteFailed
	OutcomeLogAppendFailed
	OutcomeIndexPublishFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	case OutcomePhysicalWriteFailed:
		return "physical_write_failed"
	case OutcomeLogAppendFailed:
		return "log_append_failed"
	case OutcomeIndexPublishFailed:
		return "index_publish_failed"
	default:
		return "unknown"
	}
}

// Result is the final state of a Writer.
type Result struct {
	Outcome Outcome
	Name    string
	Offset  int64
	Length  int64
	Err     error
}

// Hook runs while a writer commits. A registering hook makes the write part
// of the data file's metadata log; publish hooks make it visible elsewhere.
type Hook func(ctx context.Context, w *Writer) error

// Writer appends at most length bytes to a data file, starting at a reserved
// offset. Each Write lands right after the previous one.
//
// Commit is the completion call. It runs, in order: a durability sync of the
// written range, the register hook (the metadata log append; Indexed is
// closed once it succeeds), and then every publish hook. The write may only
// be treated as stored once Commit returns a Result with OutcomeSuccess.
type Writer struct {
	file   *os.File
	name   string
	offset int64
	length int64
	sync   bool

	register Hook
	publish  []Hook

	mu      sync.Mutex
	written int64
	err     error

	once    sync.Once
	indexed chan struct{}
	done    chan struct{}
	result  Result
}

var _ io.WriteCloser = (*Writer)(nil)

type WriterOption func(*Writer)

// WithDataSync makes Commit fdatasync the file before registering the write.
// It is disabled by default.
func WithDataSync(enabled bool) WriterOption {
	return func(w *Writer) {
		w.sync = enabled
	}
}

// NewWriter returns a Writer for [offset, offset+length) of file. register
// may be nil.
func NewWriter(file *os.File, name string, offset, length int64, register Hook, options ...WriterOption) *Writer {
	w := &Writer{
		file:     file,
		name:     name,
		offset:   offset,
		length:   length,
		register: register,
		indexed:  make(chan struct{}),
		done:     make(chan struct{}),
		result: Result{
			Outcome: OutcomePending,
			Name:    name,
			Offset:  offset,
			Length:  length,
		},
	}
	for _, option := range options {
		option(w)
	}
	return w
}

func (w *Writer) Name() string {
	return w.name
}

// Offset returns the reserved starting position within the data file.
func (w *Writer) Offset() int64 {
	return w.offset
}

// Length returns the number of bytes the writer was declared with.
func (w *Writer) Length() int64 {
	return w.length
}

// Written returns the number of bytes accepted so far.
func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// OnCommit adds a publish hook. Hooks run in the order they were added, after
// the register hook succeeded. It must be called before Commit.
func (w *Writer) OnCommit(hook Hook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.publish = append(w.publish, hook)
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.WriteContext(context.Background(), p)
}

// WriteContext writes p at the current position. If p would take the writer
// past its declared length nothing is written and ErrOverflow is returned;
// the writer stays usable. A file system error is terminal.
func (w *Writer) WriteContext(ctx context.Context, p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return 0, w.err
	}
	if w.isDone() {
		return 0, ErrClosed
	}
	if int64(len(p))+w.written > w.length {
		return 0, ErrOverflow
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	at := w.offset + w.written
	n, err := w.file.WriteAt(p, at)
	w.written += int64(n)
	if err != nil {
		w.err = errors.Wrapf(err, "failed to write %d bytes at %d", len(p), at)
		return n, w.err
	}
	return n, nil
}

func (w *Writer) isDone() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Close commits the writer with a background context.
func (w *Writer) Close() error {
	_, err := w.Commit(context.Background())
	return err
}

// Commit finishes the write. It is safe to call more than once; later calls
// return the first result.
func (w *Writer) Commit(ctx context.Context) (Result, error) {
	w.once.Do(func() {
		w.finish(w.commit(ctx))
	})
	return w.result, w.result.Err
}

// Abort ends the writer without registering anything. The reserved range is
// left as unreferenced bytes in the data file.
func (w *Writer) Abort(cause error) Result {
	w.once.Do(func() {
		if cause == nil {
			cause = ErrAborted
		}
		w.finish(OutcomePhysicalWriteFailed, errors.Wrap(cause, "write aborted"))
	})
	return w.result
}

func (w *Writer) commit(ctx context.Context) (Outcome, error) {
	w.mu.Lock()
	err, written, publish := w.err, w.written, w.publish
	w.mu.Unlock()

	if err != nil {
		return OutcomePhysicalWriteFailed, err
	}
	if written != w.length {
		return OutcomePhysicalWriteFailed, errors.Wrapf(ErrShortWrite, "%d of %d bytes", written, w.length)
	}
	if err := ctx.Err(); err != nil {
		return OutcomePhysicalWriteFailed, err
	}
	if w.sync && w.length > 0 {
		if err := fsync.Data(w.file); err != nil {
			return OutcomePhysicalWriteFailed, errors.Wrap(err, "failed to sync data file")
		}
	}

	if w.register != nil {
		if err := w.register(ctx, w); err != nil {
			return OutcomeLogAppendFailed, err
		}
	}
	close(w.indexed)

	for _, hook := range publish {
		if err := hook(ctx, w); err != nil {
			return OutcomeIndexPublishFailed, err
		}
	}
	return OutcomeSuccess, nil
}

func (w *Writer) finish(outcome Outcome, err error) {
	w.mu.Lock()
	w.result.Outcome = outcome
	w.result.Err = err
	w.mu.Unlock()
	close(w.done)
}

// Indexed is closed once the write is recorded in the metadata log.
func (w *Writer) Indexed() <-chan struct{} {
	return w.indexed
}

// Done is closed once the writer reached its final outcome.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Result returns the current state without blocking. Outcome is
// OutcomePending until the writer is done.
func (w *Writer) Result() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// Wait blocks until the writer is done or ctx expires.
func (w *Writer) Wait(ctx context.Context) (Result, error) {
	select {
	case <-w.done:
		res := w.Result()
		return res, res.Err
	case <-ctx.Done():
		return w.Result(), ctx.Err()
	}
}
