package storage

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/ncw/directio"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Reader reads one byte range of a data file. The whole range is fetched
// with a single aligned physical read: the read starts at the block boundary
// at or below offset and covers ceil(length/Alignment)+1 blocks, which is
// always enough to include the unaligned head. The result is then sliced
// down to exactly [offset, offset+length).
//
// A Reader is single pass. Once the bytes have been delivered it only
// returns io.EOF.
type Reader struct {
	file   *os.File
	offset int64
	length int64

	once sync.Once
	data []byte
	err  error
	pos  int
}

var (
	_ io.Reader   = (*Reader)(nil)
	_ io.WriterTo = (*Reader)(nil)
)

// NewReader returns a Reader for [offset, offset+length) of file. The file
// may be opened with O_DIRECT.
func NewReader(file *os.File, offset, length int64) *Reader {
	return &Reader{
		file:   file,
		offset: offset,
		length: length,
	}
}

// Offset returns the position of the range within the data file.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Size returns the number of bytes the reader delivers.
func (r *Reader) Size() int64 {
	return r.length
}

// Bytes performs the physical read, if it has not happened yet, and returns
// the requested range. Failures are returned as is and never retried.
func (r *Reader) Bytes(ctx context.Context) ([]byte, error) {
	r.once.Do(func() {
		if err := ctx.Err(); err != nil {
			r.err = err
			return
		}
		r.data, r.err = r.fill()
	})
	return r.data, r.err
}

func (r *Reader) fill() ([]byte, error) {
	if r.length == 0 {
		return []byte{}, nil
	}

	readOffset := (r.offset / Alignment) * Alignment
	blocks := (r.length + Alignment - 1) / Alignment
	bufferLength := (blocks + 1) * Alignment
	bufferOffset := r.offset % Alignment

	buf := directio.AlignedBlock(int(bufferLength))
	n, err := pread(r.file, buf, readOffset)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %d bytes at %d", bufferLength, readOffset)
	}
	if int64(n) < bufferOffset+r.length {
		return nil, io.ErrUnexpectedEOF
	}

	return buf[bufferOffset : bufferOffset+r.length], nil
}

// pread issues exactly one positioned read. os.File.ReadAt would loop on a
// short read at end of file and retry from an unaligned offset, which an
// O_DIRECT descriptor rejects.
func pread(f *os.File, buf []byte, offset int64) (int, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}

	var n int
	var rerr error
	err = raw.Read(func(fd uintptr) bool {
		for {
			n, rerr = unix.Pread(int(fd), buf, offset)
			if rerr != unix.EINTR {
				return true
			}
		}
	})
	if err != nil {
		return 0, err
	}
	if rerr != nil {
		return 0, &os.PathError{Op: "pread", Path: f.Name(), Err: rerr}
	}
	return n, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	data, err := r.Bytes(context.Background())
	if err != nil {
		return 0, err
	}
	if r.pos >= len(data) {
		return 0, io.EOF
	}
	n := copy(p, data[r.pos:])
	r.pos += n
	return n, nil
}

// WriteTo delivers the remaining bytes to w in one call.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	data, err := r.Bytes(context.Background())
	if err != nil {
		return 0, err
	}
	if r.pos >= len(data) {
		return 0, nil
	}
	n, err := w.Write(data[r.pos:])
	r.pos += n
	return int64(n), err
}
