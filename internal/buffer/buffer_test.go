package buffer

import (
	"bytes"
	"io"
	"testing"
)

func TestImageWriteReadRoundTrip(t *testing.T) {
	im := NewImage(0, 0)

	if _, err := im.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := im.WriteAt([]byte("world"), 0x1000); err != nil {
		t.Fatal(err)
	}

	if sz, _ := im.Size(); sz != 0x1000+5 {
		t.Errorf("Size() = %d, want %d", sz, 0x1000+5)
	}

	got := make([]byte, 5)
	if _, err := im.ReadAt(got, 0x1000); err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("world")) {
		t.Errorf("ReadAt() = %q, want %q", got, "world")
	}

	// the gap between writes reads back as zeroes
	gap := make([]byte, 4)
	if _, err := im.ReadAt(gap, 5); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gap, make([]byte, 4)) {
		t.Errorf("gap = %v, want zeroes", gap)
	}

	if !bytes.Equal(im.Bytes()[:5], []byte("hello")) {
		t.Errorf("Bytes()[:5] = %q, want %q", im.Bytes()[:5], "hello")
	}
}

func TestImageTruncate(t *testing.T) {
	im := NewImage(0, 0)
	if _, err := im.WriteAt([]byte("helloworld"), 0); err != nil {
		t.Fatal(err)
	}

	im.Truncate(5)
	if sz, _ := im.Size(); sz != 5 {
		t.Errorf("Size() after Truncate = %d, want 5", sz)
	}
	if !bytes.Equal(im.Bytes(), []byte("hello")) {
		t.Errorf("Bytes() = %q, want %q", im.Bytes(), "hello")
	}

	// growing via Truncate is a no-op
	im.Truncate(100)
	if sz, _ := im.Size(); sz != 5 {
		t.Errorf("Size() after growing Truncate = %d, want 5", sz)
	}
}

func TestImageReadAtPastEnd(t *testing.T) {
	im := NewImage(8, 0)
	if _, err := im.ReadAt(make([]byte, 4), 100); err != io.EOF {
		t.Errorf("ReadAt() past end error = %v, want io.EOF", err)
	}
}

func TestImageMax(t *testing.T) {
	im := NewImage(0, 16)
	if _, err := im.WriteAt(make([]byte, 32), 0); err == nil {
		t.Error("WriteAt() past the configured maximum should fail")
	}
}
