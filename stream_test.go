package puffin

import "testing"

func TestMemoryStreamReadWrite(t *testing.T) {
	buf := []byte("hello")
	ms := NewMemoryStream(&buf)

	got := make([]byte, 5)
	if _, err := ms.Read(got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("Read = %q, want %q", got, "hello")
	}

	if _, err := ms.Read(make([]byte, 1)); err != ErrBoundary {
		t.Fatalf("Read past end: got %v, want ErrBoundary", err)
	}
	if n, err := ms.Read(nil); err != nil || n != 0 {
		t.Fatalf("zero-length Read at end: got (%d, %v), want (0, nil)", n, err)
	}
}

func TestMemoryStreamWriteExtends(t *testing.T) {
	buf := []byte("ab")
	ms := NewMemoryStream(&buf)
	if err := ms.Seek(2); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if _, err := ms.Write([]byte("cd")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if string(buf) != "abcd" {
		t.Fatalf("buf = %q, want %q", buf, "abcd")
	}
}

func TestMemoryStreamSeekBoundary(t *testing.T) {
	buf := []byte("abc")
	ms := NewMemoryStream(&buf)
	if err := ms.Seek(3); err != nil {
		t.Fatalf("Seek(size): %v", err)
	}
	if err := ms.Seek(4); err != ErrInvalidSeek {
		t.Fatalf("Seek(size+1): got %v, want ErrInvalidSeek", err)
	}
}

func TestMemoryStreamClosed(t *testing.T) {
	buf := []byte("abc")
	ms := NewMemoryStream(&buf)
	if err := ms.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := ms.Read(make([]byte, 1)); err != ErrClosed {
		t.Fatalf("Read after close: got %v, want ErrClosed", err)
	}
}

func TestExtentStreamReadAcrossExtents(t *testing.T) {
	backing := []byte("0123456789")
	ms := NewMemoryStream(&backing)
	es := NewExtentStream(ms, []ByteExtent{
		{Offset: 0, Length: 3}, // "012"
		{Offset: 7, Length: 3}, // "789"
	})

	size, err := es.GetSize()
	if err != nil || size != 6 {
		t.Fatalf("GetSize = (%d, %v), want (6, nil)", size, err)
	}

	got := make([]byte, 6)
	if _, err := es.Read(got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "012789" {
		t.Fatalf("Read = %q, want %q", got, "012789")
	}

	if _, err := es.Read(make([]byte, 1)); err != ErrBoundary {
		t.Fatalf("Read past logical end: got %v, want ErrBoundary", err)
	}
}

func TestExtentStreamWriteGrowsLastExtent(t *testing.T) {
	var backing []byte
	ms := NewMemoryStream(&backing)
	es := NewExtentStream(ms, nil)

	if _, err := es.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := es.Write([]byte("def")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if string(backing) != "abcdef" {
		t.Fatalf("backing = %q, want %q", backing, "abcdef")
	}
	size, _ := es.GetSize()
	if size != 6 {
		t.Fatalf("GetSize = %d, want 6", size)
	}
}
