package secret

import (
	"bytes"
	"strings"
	"testing"
)

func TestFromBytesMovesSource(t *testing.T) {
	t.Parallel()

	source := []byte("agent encryption key")
	want := append([]byte(nil), source...)

	buf, err := FromBytes(source)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	defer buf.Close()

	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatal("buffer contents differ from source")
	}
	if !bytes.Equal(source, make([]byte, len(source))) {
		t.Fatal("source slice was not zeroed")
	}
	if buf.Len() != len(want) {
		t.Fatalf("unexpected length %d", buf.Len())
	}
}

func TestCloseZeroesAndPanicsOnRead(t *testing.T) {
	t.Parallel()

	buf, err := New(32)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	alias := buf.Bytes()
	for i := range alias {
		alias[i] = 0xAA
	}
	heap := !buf.Locked()

	if err := buf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !buf.Closed() {
		t.Fatal("expected buffer to report closed")
	}
	// A locked buffer is unmapped, so the alias can only be inspected for
	// the heap fallback.
	if heap && !bytes.Equal(alias, make([]byte, 32)) {
		t.Fatal("heap buffer was not zeroed on close")
	}
	if err := buf.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic reading a closed buffer")
		}
	}()
	_ = buf.Bytes()
}

func TestStringDoesNotLeak(t *testing.T) {
	t.Parallel()

	buf, err := FromBytes([]byte("hunter2hunter2"))
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	defer buf.Close()
	if strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("String leaked contents: %s", buf)
	}
}

func TestRejectsEmpty(t *testing.T) {
	t.Parallel()

	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero size")
	}
	if _, err := FromBytes(nil); err == nil {
		t.Fatal("expected error for empty source")
	}
	var nilBuf *Buffer
	if err := nilBuf.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
