// Package deviceproto implements the line-framed, UTF-8 wire protocol
// shared by the Device Session Handler's server and outbound client:
// newline-terminated text lines, and length-prefixed binary payloads using
// a 4-byte little-endian length.
package deviceproto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// ReadLine reads one newline-terminated line and returns it without the
// trailing newline (and without a trailing \r, for CRLF-tolerant peers).
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading line: %w", err)
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

// WriteLine writes s followed by a single newline.
func WriteLine(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s+"\n"); err != nil {
		return fmt.Errorf("writing line: %w", err)
	}
	return nil
}

// ReadBlob reads a 4-byte little-endian length prefix followed by that many
// raw bytes.
func ReadBlob(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("reading blob length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading blob body: %w", err)
	}
	return buf, nil
}

// WriteBlob writes a 4-byte little-endian length prefix followed by data.
func WriteBlob(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("writing blob length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing blob body: %w", err)
	}
	return nil
}

// ReadUint32 reads a bare 4-byte little-endian count (used for the log
// puller's file-count prefix).
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading uint32: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 writes a bare 4-byte little-endian count.
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("writing uint32: %w", err)
	}
	return nil
}
