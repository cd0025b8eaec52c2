// Package wire provides a bounds-checked cursor over protobuf wire-format bytes.
//
// The cursor never reads past the end of its buffer: every short or malformed
// read is reported as an *Error carrying the absolute byte offset at which the
// read started, and the position is left unchanged.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
)

// Wire types understood by the skip table.
const (
	VarintType  = protowire.VarintType
	Fixed64Type = protowire.Fixed64Type
	BytesType   = protowire.BytesType
	Fixed32Type = protowire.Fixed32Type
)

// Error reports a failed read together with the offset where it started.
type Error struct {
	Offset int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("offset %d: %v", e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cursor walks an immutable byte slice. Offsets are reported relative to the
// outermost payload so nested cursors produce meaningful diagnostics.
type Cursor struct {
	buf  []byte
	pos  int
	base int
}

// NewCursor returns a cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// NewCursorAt returns a cursor over b whose first byte lives at offset within
// the enclosing payload.
func NewCursorAt(b []byte, offset int) *Cursor {
	return &Cursor{buf: b, base: offset}
}

// Pos returns the absolute read position.
func (c *Cursor) Pos() int { return c.base + c.pos }

// End returns the absolute offset one past the last byte.
func (c *Cursor) End() int { return c.base + len(c.buf) }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Done reports whether every byte has been consumed.
func (c *Cursor) Done() bool { return c.pos >= len(c.buf) }

// ReadTag consumes a field key.
func (c *Cursor) ReadTag() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(c.buf[c.pos:])
	if n < 0 {
		return 0, 0, c.fail(errspkg.ErrInvalidTag, n)
	}
	c.pos += n
	return num, typ, nil
}

// ReadVarint consumes a base-128 varint.
func (c *Cursor) ReadVarint() (uint64, error) {
	v, n := protowire.ConsumeVarint(c.buf[c.pos:])
	if n < 0 {
		return 0, c.fail(errspkg.ErrTruncated, n)
	}
	c.pos += n
	return v, nil
}

// ReadFixed32 consumes four little-endian bytes.
func (c *Cursor) ReadFixed32() (uint32, error) {
	v, n := protowire.ConsumeFixed32(c.buf[c.pos:])
	if n < 0 {
		return 0, c.fail(errspkg.ErrTruncated, n)
	}
	c.pos += n
	return v, nil
}

// ReadFixed64 consumes eight little-endian bytes.
func (c *Cursor) ReadFixed64() (uint64, error) {
	v, n := protowire.ConsumeFixed64(c.buf[c.pos:])
	if n < 0 {
		return 0, c.fail(errspkg.ErrTruncated, n)
	}
	c.pos += n
	return v, nil
}

// ReadBytes consumes a length-delimited value and returns it along with the
// absolute offset of its first byte. The returned slice aliases the buffer.
func (c *Cursor) ReadBytes() ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(c.buf[c.pos:])
	if n < 0 {
		return nil, 0, c.fail(errspkg.ErrTruncated, n)
	}
	start := c.Pos() + n - len(v)
	c.pos += n
	return v, start, nil
}

// Skip consumes one value of the given wire type without interpreting it.
// Group wire types and the reserved values 6 and 7 are rejected.
func (c *Cursor) Skip(typ protowire.Type) error {
	switch typ {
	case VarintType:
		_, err := c.ReadVarint()
		return err
	case Fixed64Type:
		_, err := c.ReadFixed64()
		return err
	case BytesType:
		_, _, err := c.ReadBytes()
		return err
	case Fixed32Type:
		_, err := c.ReadFixed32()
		return err
	default:
		return &Error{Offset: c.Pos(), Err: fmt.Errorf("%w %d", errspkg.ErrInvalidWireType, typ)}
	}
}

func (c *Cursor) fail(kind error, n int) error {
	return &Error{Offset: c.Pos(), Err: fmt.Errorf("%w: %v", kind, protowire.ParseError(n))}
}
