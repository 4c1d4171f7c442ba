// Package protoreader provides a bounds-checked cursor over varint and
// length-prefixed fields of a tag/length encoded byte stream.
package protoreader

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxVarintLen is the longest encoding of a 64-bit value.
const maxVarintLen = 10

var (
	// ErrTruncatedInput is returned when a varint or a length-prefixed field runs past
	// the end of the buffer.
	ErrTruncatedInput = errors.New("protoreader: truncated input")

	// ErrOutOfRange is returned when Seek targets an offset outside the buffer.
	ErrOutOfRange = errors.New("protoreader: offset out of range")

	// ErrVarintOverflow is returned when a varint does not terminate within 10 bytes.
	ErrVarintOverflow = errors.New("protoreader: varint overflows 64 bits")
)

// Cursor reads fields from an immutable byte buffer.
// The offset never exceeds len(buf), including after failed reads.
type Cursor struct {
	buf []byte
	off int
}

// New returns a cursor positioned at the start of b. The buffer is not copied.
func New(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// HasMore reports whether unread bytes remain.
func (c *Cursor) HasMore() bool {
	return c.off < len(c.buf)
}

// Position returns the current read offset.
func (c *Cursor) Position() int {
	return c.off
}

// Len returns the size of the underlying buffer.
func (c *Cursor) Len() int {
	return len(c.buf)
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.off
}

// Seek moves the cursor to an absolute offset.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, off, len(c.buf))
	}
	c.off = off
	return nil
}

// ReadVarint decodes one unsigned varint, least-significant 7-bit group first.
// If the buffer ends before a terminating byte, the value accumulated so far is
// returned together with ErrTruncatedInput.
func (c *Cursor) ReadVarint() (uint64, error) {
	var value uint64
	var shift uint
	for i := 0; ; i++ {
		if c.off >= len(c.buf) {
			return value, ErrTruncatedInput
		}
		if i == maxVarintLen {
			return value, ErrVarintOverflow
		}
		b := c.buf[c.off]
		c.off++
		// the tenth byte may only carry bit 63
		if i == maxVarintLen-1 && b > 1 {
			return value, ErrVarintOverflow
		}
		value |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return value, nil
		}
		shift += 7
	}
}

// ReadBytes reads a varint length N followed by N bytes. The returned slice
// aliases the underlying buffer. A length past the end of the buffer fails
// without consuming the payload.
func (c *Cursor) ReadBytes() ([]byte, error) {
	n, err := c.ReadVarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(c.Remaining()) {
		return nil, fmt.Errorf("%w: length %d exceeds %d remaining bytes", ErrTruncatedInput, n, c.Remaining())
	}
	start := c.off
	c.off += int(n)
	return c.buf[start:c.off:c.off], nil
}

// ReadString reads a length-prefixed UTF-8 string. Invalid byte sequences are
// replaced with U+FFFD, one per maximal subpart.
func (c *Cursor) ReadString() (string, error) {
	b, err := c.ReadBytes()
	if err != nil {
		return "", err
	}
	return decodeUTF8(b), nil
}

// decodeUTF8 replaces each maximal invalid subpart with one U+FFFD, as the
// WHATWG decoder does: a truncated sequence like E6 B5 yields a single
// replacement, a stray continuation byte yields one per byte.
func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			sb.WriteRune(r)
			b = b[size:]
			continue
		}
		sb.WriteRune(utf8.RuneError)
		b = b[invalidPrefixLen(b):]
	}
	return sb.String()
}

// invalidPrefixLen returns the length of the maximal subpart at the start of
// b, which must not begin with a valid sequence. The result is at least 1.
func invalidPrefixLen(b []byte) int {
	lead := b[0]
	var need int
	lo, hi := byte(0x80), byte(0xbf)
	switch {
	case lead >= 0xc2 && lead <= 0xdf:
		need = 1
	case lead == 0xe0:
		need, lo = 2, 0xa0
	case lead == 0xed:
		need, hi = 2, 0x9f
	case lead >= 0xe1 && lead <= 0xef:
		need = 2
	case lead == 0xf0:
		need, lo = 3, 0x90
	case lead == 0xf4:
		need, hi = 3, 0x8f
	case lead >= 0xf1 && lead <= 0xf3:
		need = 3
	default:
		return 1
	}

	n := 1
	for ; n <= need && n < len(b); n++ {
		if b[n] < lo || b[n] > hi {
			break
		}
		lo, hi = 0x80, 0xbf
	}
	return n
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return fmt.Errorf("%w: skip %d with %d remaining bytes", ErrTruncatedInput, n, c.Remaining())
	}
	c.off += n
	return nil
}
