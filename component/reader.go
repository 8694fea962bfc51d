package component

import (
	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/internal/leb128"
)

// cursor is a read-only cursor over a borrowed byte slice, the same shape
// as internal/wasm/binary's unexported reader type adapted here since that
// type isn't part of the binary package's exported surface.
type cursor struct {
	buf    []byte
	offset uint64
}

func (c *cursor) remaining() uint64 { return uint64(len(c.buf)) - c.offset }

func (c *cursor) byte() (byte, error) {
	if c.offset >= uint64(len(c.buf)) {
		return 0, leb128.ErrEndOfStream
	}
	b := c.buf[c.offset]
	c.offset++
	return b, nil
}

func (c *cursor) bytes(n uint64) ([]byte, error) {
	if c.remaining() < n {
		return nil, leb128.ErrEndOfStream
	}
	b := c.buf[c.offset : c.offset+n]
	c.offset += n
	return b, nil
}

func (c *cursor) u32() (uint32, error) {
	v, n, err := leb128.DecodeUint32(c.buf, c.offset)
	if err != nil {
		return 0, err
	}
	c.offset += n
	return v, nil
}

// name reads a length-prefixed UTF-8 string, the same encoding core module
// names use.
func (c *cursor) name() (string, error) {
	n, err := c.u32()
	if err != nil {
		return "", err
	}
	b, err := c.bytes(uint64(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// errTruncated wraps ErrInvalidComponent with the name of the truncated field.
func errTruncated(what string) error {
	return errors.Wrapf(ErrInvalidComponent, "%s: unexpected end of section", what)
}
