package bytequeue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOAcrossChunks(t *testing.T) {
	q := New()
	q.Write([]byte("hello "))
	q.Write([]byte("wor"))
	q.Write([]byte("ld"))

	require.Equal(t, 11, q.Len())
	assert.Equal(t, 3, q.Chunks())
	assert.Equal(t, []byte("hello "), q.Peek())
	assert.Equal(t, []byte("hello world"), q.Bytes())
}

func TestPartialDiscardKeepsTail(t *testing.T) {
	q := New()
	q.Write([]byte("abcdef"))
	q.Write([]byte("ghij"))

	assert.Equal(t, 4, q.Discard(4))
	assert.Equal(t, []byte("ef"), q.Peek())
	assert.Equal(t, 6, q.Len())

	// 跨块丢弃
	assert.Equal(t, 3, q.Discard(3))
	assert.Equal(t, []byte("hij"), q.Peek())
	assert.Equal(t, 1, q.Chunks())
	assert.Equal(t, []byte("hij"), q.Bytes())
}

func TestDiscardClampsAndEmpties(t *testing.T) {
	q := New()
	q.Write([]byte("xyz"))

	assert.Equal(t, 3, q.Discard(10))
	assert.Zero(t, q.Len())
	assert.Nil(t, q.Peek())
	assert.Zero(t, q.Chunks())
	assert.Zero(t, q.Discard(1))
}

func TestWriteCopiesInput(t *testing.T) {
	q := New()
	buf := []byte("abc")
	q.Write(buf)
	buf[0] = 'z'
	assert.Equal(t, []byte("abc"), q.Peek())

	n, err := q.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, q.Chunks())
}

func TestReset(t *testing.T) {
	q := New()
	q.Write([]byte("abc"))
	q.Write([]byte("def"))
	q.Discard(1)
	q.Reset()

	assert.Zero(t, q.Len())
	assert.Nil(t, q.Peek())
	q.Write([]byte("g"))
	assert.Equal(t, []byte("g"), q.Bytes())
}
