package buffer

import (
	"errors"
	"io"
	"net/http"

	"github.com/valyala/bytebufferpool"
)

// ErrTooLarge is returned by ReadAll when the body exceeds the configured limit.
var ErrTooLarge = errors.New("body exceeds buffer limit")

// BufferPool hands out reusable byte buffers backed by valyala/bytebufferpool.
// Buffers are used for reading whole upstream bodies and as the scratch space
// of streamed copies.
type BufferPool struct {
	pool      *bytebufferpool.Pool
	chunkSize int
}

// NewBufferPool creates a pool whose buffers start with at least chunkSize bytes
// of capacity.
func NewBufferPool(chunkSize int64) *BufferPool {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	return &BufferPool{
		pool:      &bytebufferpool.Pool{},
		chunkSize: int(chunkSize),
	}
}

// Get retrieves an empty buffer from the pool.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()
	if cap(buf.B) < bp.chunkSize {
		buf.B = make([]byte, 0, bp.chunkSize)
	}
	return buf
}

// Put returns a buffer to the pool. The caller must not use buf afterwards.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}

// ReadAll reads r to EOF and returns an owned copy of the bytes. A limit above
// zero caps the body size; exceeding it returns ErrTooLarge.
func (bp *BufferPool) ReadAll(r io.Reader, limit int64) ([]byte, error) {
	buf := bp.Get()
	defer bp.Put(buf)

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	if _, err := buf.ReadFrom(src); err != nil {
		return nil, err
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, ErrTooLarge
	}

	// the pooled slice is reused, hand back a copy
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

// CopyFlush copies src to dst one chunk at a time, flushing dst after every
// write when it implements http.Flusher. It returns the number of bytes written.
// A read error other than io.EOF or any write error stops the copy.
func (bp *BufferPool) CopyFlush(dst io.Writer, src io.Reader) (int64, error) {
	buf := bp.Get()
	defer bp.Put(buf)

	chunk := buf.B[:bp.chunkSize]
	flusher, _ := dst.(http.Flusher)

	var written int64
	for {
		n, rerr := src.Read(chunk)
		if n > 0 {
			w, werr := dst.Write(chunk[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
