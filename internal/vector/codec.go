// Package vector implements the fixed-width binary layout used for embedding
// BLOBs: N float32 values packed as 4*N little-endian bytes. The layout is
// shared with sqlite-vec's float[] serialization, so vectors written here can
// be handed to the vec0 index unchanged.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode packs a float32 vector into a little-endian byte blob of length
// 4*len(v). Encoding goes through the raw IEEE-754 bits, so the round trip
// is bit-exact (NaN payloads, signed zeros and denormals survive).
func Encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// Decode unpacks a blob produced by Encode. The blob length must be a
// multiple of 4.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
