package transform

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpperASCIIOnly(t *testing.T) {
	in := []byte("hello, World! 123 \xc3\xa9\x00z{`")
	got := Upper.Apply(nil, in)
	assert.Equal(t, []byte("HELLO, WORLD! 123 \xc3\xa9\x00Z{`"), got)
	// 不修改输入
	assert.Equal(t, byte('h'), in[0])
}

func TestUpperAppendsToDst(t *testing.T) {
	got := Upper.Apply([]byte("> "), []byte("abc"))
	assert.Equal(t, "> ABC", string(got))
}

// 任意分块后逐块变换，拼接结果与整体变换一致
func TestFragmentationInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	in := make([]byte, 10000)
	rng.Read(in)

	for _, tr := range []Transform{Upper, Echo} {
		whole := tr.Apply(nil, in)
		var pieced []byte
		for rest := in; len(rest) > 0; {
			n := 1 + rng.Intn(700)
			if n > len(rest) {
				n = len(rest)
			}
			pieced = tr.Apply(pieced, rest[:n])
			rest = rest[n:]
		}
		assert.Equal(t, whole, pieced)
	}
}

func TestZstdConcatenatedFrames(t *testing.T) {
	chunks := [][]byte{
		[]byte("first chunk "),
		bytes.Repeat([]byte("compressible "), 200),
		{},
		[]byte("tail"),
	}
	var wire, want []byte
	for _, c := range chunks {
		wire = Zstd.Apply(wire, c)
		want = append(want, c...)
	}
	got, err := DecodeZstd(wire)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = DecodeZstd([]byte("not zstd"))
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		tr, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotNil(t, tr)
	}
	assert.Equal(t, []string{"echo", "upper", "zstd"}, Names())

	_, err := Lookup("rot13")
	assert.True(t, errors.Is(err, ErrUnknown))
}
