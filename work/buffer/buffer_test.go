package buffer

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAll_ReturnsOwnedCopy(t *testing.T) {
	bp := NewBufferPool(8)
	payload := bytes.Repeat([]byte{0x47, 0x00, 0xff}, 100)

	got, err := bp.ReadAll(bytes.NewReader(payload), 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// reusing the pool must not corrupt previously returned data
	_, err = bp.ReadAll(strings.NewReader("overwrite"), 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadAll_Limit(t *testing.T) {
	bp := NewBufferPool(0)

	got, err := bp.ReadAll(strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("12345"), got)

	_, err = bp.ReadAll(strings.NewReader("123456"), 5)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestReadAll_Empty(t *testing.T) {
	got, err := NewBufferPool(16).ReadAll(strings.NewReader(""), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCopyFlush(t *testing.T) {
	bp := NewBufferPool(4)
	rec := httptest.NewRecorder()

	n, err := bp.CopyFlush(rec, strings.NewReader("segment-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("segment-bytes")), n)
	assert.Equal(t, "segment-bytes", rec.Body.String())
	assert.True(t, rec.Flushed)
}

type failingReader struct{ sent bool }

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.sent {
		f.sent = true
		return copy(p, "ab"), nil
	}
	return 0, errors.New("connection reset")
}

func TestCopyFlush_ReadError(t *testing.T) {
	var out bytes.Buffer
	n, err := NewBufferPool(8).CopyFlush(&out, &failingReader{})
	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, int64(2), n)
	assert.Equal(t, "ab", out.String())
}

type closedWriter struct{}

func (closedWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestCopyFlush_WriteError(t *testing.T) {
	_, err := NewBufferPool(8).CopyFlush(closedWriter{}, strings.NewReader("data"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
