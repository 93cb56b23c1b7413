// Package wire holds the binary framing shared by the router, the storage
// nodes and the client. Integers are little-endian and fixed width; every
// variable-size field is preceded by its length, and every field is read
// with an exact-length read.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"shardfs/pkg/fserrors"
)

const (
	MaxPathLen    = 4096
	MaxMessageLen = 64 << 10
	MaxListCount  = 1 << 20

	DefaultMaxContent int64 = 1 << 30
)

// Writer buffers an outgoing message. The first error sticks; Flush
// reports it.
type Writer struct {
	w   *bufio.Writer
	buf [8]byte
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(b); err != nil {
		w.err = fmt.Errorf("%w: write: %w", fserrors.ErrTransport, err)
	}
}

func (w *Writer) Byte(b byte) {
	w.buf[0] = b
	w.write(w.buf[:1])
}

func (w *Writer) Int8(v int8) {
	w.Byte(byte(v))
}

func (w *Writer) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

func (w *Writer) Int64(v int64) {
	binary.LittleEndian.PutUint64(w.buf[:8], uint64(v))
	w.write(w.buf[:8])
}

// String writes a uint32 length followed by the bytes of s.
func (w *Writer) String(s string) {
	w.Uint32(uint32(len(s)))
	if w.err == nil {
		if _, err := w.w.WriteString(s); err != nil {
			w.err = fmt.Errorf("%w: write: %w", fserrors.ErrTransport, err)
		}
	}
}

// Content writes size, the bytes, and their CRC-32.
func (w *Writer) Content(b []byte) {
	w.Int64(int64(len(b)))
	w.write(b)
	w.Uint32(crc32.ChecksumIEEE(b))
}

func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.err = fmt.Errorf("%w: flush: %w", fserrors.ErrTransport, err)
	}
	return w.err
}

// Reader decodes an incoming message field by field.
type Reader struct {
	r          io.Reader
	buf        [8]byte
	MaxContent int64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, MaxContent: DefaultMaxContent}
}

func (r *Reader) full(b []byte) error {
	if _, err := io.ReadFull(r.r, b); err != nil {
		if errors.Is(err, io.EOF) && len(b) > 0 {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: read: %w", fserrors.ErrTransport, err)
	}
	return nil
}

func (r *Reader) Byte() (byte, error) {
	if err := r.full(r.buf[:1]); err != nil {
		return 0, err
	}
	return r.buf[0], nil
}

func (r *Reader) Int8() (int8, error) {
	b, err := r.Byte()
	return int8(b), err
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.full(r.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.buf[:4]), nil
}

func (r *Reader) Int64() (int64, error) {
	if err := r.full(r.buf[:8]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(r.buf[:8])), nil
}

// String reads a length-prefixed string of at most limit bytes.
func (r *Reader) String(limit int) (string, error) {
	n, err := r.Uint32()
	if err != nil {
		return "", err
	}
	if int64(n) > int64(limit) {
		return "", fmt.Errorf("%w: string length %d exceeds %d", fserrors.ErrProtocol, n, limit)
	}
	b := make([]byte, n)
	if err := r.full(b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Content reads size, the bytes and the trailing CRC-32, and verifies it.
func (r *Reader) Content() ([]byte, error) {
	size, err := r.Int64()
	if err != nil {
		return nil, err
	}
	if size < 0 || size > r.MaxContent {
		return nil, fmt.Errorf("%w: content size %d out of range", fserrors.ErrProtocol, size)
	}
	b := make([]byte, size)
	if err := r.full(b); err != nil {
		return nil, err
	}
	sum, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if got := crc32.ChecksumIEEE(b); got != sum {
		return nil, fmt.Errorf("%w: checksum mismatch (got %08x, want %08x)", fserrors.ErrProtocol, got, sum)
	}
	return b, nil
}
