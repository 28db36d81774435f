package transform

import (
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

var (
	encoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		return enc
	}}
	decoderPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	}}
)

func getEncoder() *zstd.Encoder  { return encoderPool.Get().(*zstd.Encoder) }
func putEncoder(e *zstd.Encoder) { encoderPool.Put(e) }
func getDecoder() *zstd.Decoder  { return decoderPool.Get().(*zstd.Decoder) }
func putDecoder(d *zstd.Decoder) { decoderPool.Put(d) }

// Zstd 把每个输入块压缩为一个独立的 zstd 帧
var Zstd Transform = Func(compress)

func compress(dst, src []byte) []byte {
	if len(src) == 0 {
		return dst
	}
	enc := getEncoder()
	dst = enc.EncodeAll(src, dst)
	putEncoder(enc)
	return dst
}

// DecodeZstd 解码由 Zstd 产生的帧序列（可为多个帧首尾相接）
func DecodeZstd(src []byte) ([]byte, error) {
	dec := getDecoder()
	defer putDecoder(dec)
	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, errors.Wrap(err, "transform: zstd decode")
	}
	return out, nil
}
