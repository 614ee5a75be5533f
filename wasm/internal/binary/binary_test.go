package binary

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02}
	r := NewReader(data)

	for i, want := range data {
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len: got %d, want 0", r.Len())
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestReaderReadBytesBounds(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if _, err := r.ReadBytes(4); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
	if r.Position() != 0 {
		t.Errorf("failed read moved position to %d", r.Position())
	}
}

func TestLEB128RoundTrip(t *testing.T) {
	unsigned := []uint32{0, 1, 127, 128, 16384, 1024, math.MaxUint32}
	for _, v := range unsigned {
		w := NewWriter()
		w.WriteU32(v)
		got, err := NewReader(w.Bytes()).ReadU32()
		if err != nil {
			t.Fatalf("ReadU32(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("ReadU32: got %d, want %d", got, v)
		}
	}

	signed := []int64{0, 1, -1, 63, 64, -64, -65, 1024, math.MinInt32, math.MaxInt32}
	for _, v := range signed {
		w := NewWriter()
		w.WriteS64(v)
		got, err := NewReader(w.Bytes()).ReadS64()
		if err != nil {
			t.Fatalf("ReadS64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("ReadS64: got %d, want %d", got, v)
		}
	}
}

func TestLEB128KnownEncodings(t *testing.T) {
	w := NewWriter()
	w.WriteS64(1024)
	if !bytes.Equal(w.Bytes(), []byte{0x80, 0x08}) {
		t.Errorf("WriteS64(1024): got % x", w.Bytes())
	}

	w = NewWriter()
	w.WriteS64(-1)
	if !bytes.Equal(w.Bytes(), []byte{0x7f}) {
		t.Errorf("WriteS64(-1): got % x", w.Bytes())
	}

	w = NewWriter()
	w.WriteU32(16384)
	if !bytes.Equal(w.Bytes(), []byte{0x80, 0x80, 0x01}) {
		t.Errorf("WriteU32(16384): got % x", w.Bytes())
	}
}

func TestReadU32Overflow(t *testing.T) {
	r := NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	if _, err := r.ReadU32(); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestReadName(t *testing.T) {
	w := NewWriter()
	w.WriteName("wasi_snapshot_preview1")
	r := NewReader(w.Bytes())
	name, err := r.ReadName()
	if err != nil {
		t.Fatalf("ReadName: %v", err)
	}
	if name != "wasi_snapshot_preview1" {
		t.Errorf("ReadName: got %q", name)
	}

	if _, err := NewReader([]byte{0x02, 0xff, 0xfe}).ReadName(); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestWriteSectionAndF64(t *testing.T) {
	w := NewWriter()
	w.WriteSection(5, []byte{0x03, 0x01})
	if !bytes.Equal(w.Bytes(), []byte{0x05, 0x02, 0x03, 0x01}) {
		t.Errorf("WriteSection: got % x", w.Bytes())
	}

	w = NewWriter()
	w.WriteF64(1.0)
	if !bytes.Equal(w.Bytes(), []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}) {
		t.Errorf("WriteF64(1.0): got % x", w.Bytes())
	}
}

func TestSpanCopies(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	r := NewReader(data)
	span := r.Span(1, 3)
	data[1] = 9
	if !bytes.Equal(span, []byte{2, 3}) {
		t.Errorf("Span aliases input: % x", span)
	}
}
