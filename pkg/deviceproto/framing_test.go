package deviceproto

import (
	"bufio"
	"bytes"
	"testing"
)

func TestReadWriteLine(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLine(&buf, "UUID:dev-1"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}

	got, err := ReadLine(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if got != "UUID:dev-1" {
		t.Errorf("ReadLine() = %q, want %q", got, "UUID:dev-1")
	}
}

func TestReadLineStripsCR(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("HELLO\r\n"))
	got, err := ReadLine(r)
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if got != "HELLO" {
		t.Errorf("ReadLine() = %q, want %q", got, "HELLO")
	}
}

func TestReadWriteBlob(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0x01, 0x02, 0x03, 0xff}
	if err := WriteBlob(&buf, payload); err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}

	got, err := ReadBlob(&buf)
	if err != nil {
		t.Fatalf("ReadBlob() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadBlob() = %v, want %v", got, payload)
	}
}

func TestReadWriteUint32(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteUint32(&buf, 42); err != nil {
		t.Fatalf("WriteUint32() error = %v", err)
	}
	got, err := ReadUint32(&buf)
	if err != nil {
		t.Fatalf("ReadUint32() error = %v", err)
	}
	if got != 42 {
		t.Errorf("ReadUint32() = %d, want 42", got)
	}
}

func TestReadBlobEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBlob(&buf, nil); err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}
	got, err := ReadBlob(&buf)
	if err != nil {
		t.Fatalf("ReadBlob() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadBlob() = %v, want empty", got)
	}
}
