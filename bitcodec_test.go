package relay

import "testing"

func TestBitWriterReaderRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	w := NewBitWriter(buf, len(buf)*8)

	values := []struct {
		v uint32
		b int
	}{
		{0, 1}, {1, 1}, {3, 2}, {7, 3}, {255, 8}, {65535, 16}, {1<<31 - 1, 31}, {0xFFFFFFFF, 32},
	}
	for _, tc := range values {
		w.WriteBits(tc.v, tc.b)
	}
	w.FlushBits()

	r := NewBitReader(buf, len(buf)*8)
	for _, tc := range values {
		got, ok := r.ReadBits(tc.b)
		if !ok {
			t.Fatalf("unexpected read failure for %d bits", tc.b)
		}
		if got != tc.v {
			t.Fatalf("got %d, want %d (bits=%d)", got, tc.v, tc.b)
		}
	}
}

func TestBitWriterWriteBytes(t *testing.T) {
	buf := make([]byte, 32)
	w := NewBitWriter(buf, len(buf)*8)

	w.WriteBits(0x5, 3)
	w.WriteAlign()
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	w.WriteBytes(payload)
	w.FlushBits()

	r := NewBitReader(buf, len(buf)*8)
	v, ok := r.ReadBits(3)
	if !ok || v != 0x5 {
		t.Fatalf("prefix mismatch: %d %v", v, ok)
	}
	if !r.ReadAlign() {
		t.Fatal("align should be zero padding")
	}
	out := make([]byte, len(payload))
	if !r.ReadBytes(out, len(payload)) {
		t.Fatal("ReadBytes failed")
	}
	for i := range payload {
		if out[i] != payload[i] {
			t.Fatalf("byte %d: got %d want %d", i, out[i], payload[i])
		}
	}
}

func TestWouldReadPastEnd(t *testing.T) {
	buf := make([]byte, 4)
	r := NewBitReader(buf, 10)
	if !r.WouldReadPastEnd(11) {
		t.Fatal("expected overrun detection")
	}
	if r.WouldReadPastEnd(10) {
		t.Fatal("exact fit should not overrun")
	}
}
