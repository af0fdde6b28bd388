package vector

import (
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0.0, 1.0, -1.0, 0.5, 3.14159, -2.71828, 1e-30, 1e30}

	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d values, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("value %d: expected %v, got %v", i, in[i], out[i])
		}
	}
}

func TestEncodeDecodeBitExact(t *testing.T) {
	// Denormals, signed zeros and NaN payloads must survive bit-for-bit.
	bits := []uint32{
		0x00000000, // +0.0
		0x80000000, // -0.0
		0x00000001, // smallest denormal
		0x807fffff, // largest negative denormal
		0x7fc00000, // quiet NaN
		0x7fc00123, // NaN with payload
		0xffc00456, // negative NaN with payload
		0x7f800000, // +Inf
		0xff800000, // -Inf
	}
	in := make([]float32, len(bits))
	for i, b := range bits {
		in[i] = math.Float32frombits(b)
	}

	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for i := range bits {
		got := math.Float32bits(out[i])
		if got != bits[i] {
			t.Errorf("value %d: expected bits %08x, got %08x", i, bits[i], got)
		}
	}
}

func TestEncodeLength(t *testing.T) {
	if got := len(Encode(make([]float32, 768))); got != 768*4 {
		t.Errorf("expected 3072 bytes for a 768-dim vector, got %d", got)
	}
	if got := len(Encode(nil)); got != 0 {
		t.Errorf("expected empty blob for nil vector, got %d bytes", got)
	}
}

func TestDecodeEmpty(t *testing.T) {
	out, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil) failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty vector, got %d values", len(out))
	}
}

func TestDecodeBadLength(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for blob length not divisible by 4")
	}
}

func TestDecodeLittleEndian(t *testing.T) {
	// 1.0 is 0x3f800000; little-endian on the wire.
	out, err := Decode([]byte{0x00, 0x00, 0x80, 0x3f})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(out) != 1 || out[0] != 1.0 {
		t.Errorf("expected [1.0], got %v", out)
	}
}
