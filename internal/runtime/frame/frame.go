package frame

import (
	"encoding/binary"
	"fmt"

	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
	"github.com/drblury/connectflow/internal/runtime/jsoncodec"
)

const (
	// FlagCompressed marks a payload encoded with the negotiated content encoding.
	FlagCompressed byte = 0x01
	// FlagEndStream marks the JSON end-of-stream trailer.
	FlagEndStream byte = 0x02
	// HeaderSize is the size of the envelope prefix (1 byte flags + 4 bytes length).
	HeaderSize = 5
)

// Frame is one complete envelope.
type Frame struct {
	Flags   byte
	Payload []byte
}

// Trailer reports whether the frame carries end-of-stream metadata.
func (f Frame) Trailer() bool { return f.Flags&FlagEndStream != 0 }

// Compressed reports whether the payload must be decompressed before use.
func (f Frame) Compressed() bool { return f.Flags&FlagCompressed != 0 }

// Limits constrains how much memory a single frame may claim.
type Limits struct {
	MaxFrameSize int
}

// DefaultLimits allows frames up to 8 MiB.
func DefaultLimits() Limits {
	return Limits{MaxFrameSize: 8 * 1024 * 1024}
}

func (l Limits) withDefaults() Limits {
	if l.MaxFrameSize <= 0 {
		l.MaxFrameSize = DefaultLimits().MaxFrameSize
	}
	return l
}

// Demuxer reassembles frames from a chunked byte stream. It is not safe for
// concurrent use; each response body owns its own Demuxer.
type Demuxer struct {
	limits Limits
	buf    []byte
	err    error
}

// NewDemuxer returns an empty Demuxer.
func NewDemuxer(limits Limits) *Demuxer {
	return &Demuxer{limits: limits.withDefaults()}
}

// Feed appends chunk to the internal buffer and returns every frame that is
// now complete, in stream order.
//
// When a header announces a payload above Limits.MaxFrameSize, Feed stops
// extracting frames and returns an error wrapping ErrFrameTooLarge exactly
// once. Later input is still retained, up to the same limit, so the caller can
// inspect it through Remainder when the stream ends.
func (d *Demuxer) Feed(chunk []byte) ([]Frame, error) {
	if d.err != nil {
		d.retain(chunk)
		return nil, nil
	}
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	offset := 0
	for len(d.buf)-offset >= HeaderSize {
		flags := d.buf[offset]
		msgLen := binary.BigEndian.Uint32(d.buf[offset+1 : offset+HeaderSize])
		if uint64(msgLen) > uint64(d.limits.MaxFrameSize) {
			d.err = fmt.Errorf("%w: declared %d bytes, limit %d", errspkg.ErrFrameTooLarge, msgLen, d.limits.MaxFrameSize)
			d.compact(offset)
			d.retain(nil)
			return frames, d.err
		}

		end := offset + HeaderSize + int(msgLen)
		if end > len(d.buf) {
			break
		}

		payload := make([]byte, msgLen)
		copy(payload, d.buf[offset+HeaderSize:end])
		frames = append(frames, Frame{Flags: flags, Payload: payload})
		offset = end
	}

	d.compact(offset)
	return frames, nil
}

// Err returns the sticky framing error, if any.
func (d *Demuxer) Err() error { return d.err }

// Limits returns the effective limits, defaults applied.
func (d *Demuxer) Limits() Limits { return d.limits }

// Buffered returns the number of bytes waiting for the rest of their frame.
func (d *Demuxer) Buffered() int { return len(d.buf) }

// Remainder returns a copy of the bytes that never formed a complete frame.
func (d *Demuxer) Remainder() []byte {
	if len(d.buf) == 0 {
		return nil
	}
	out := make([]byte, len(d.buf))
	copy(out, d.buf)
	return out
}

func (d *Demuxer) compact(offset int) {
	if offset == 0 {
		return
	}
	n := copy(d.buf, d.buf[offset:])
	d.buf = d.buf[:n]
}

func (d *Demuxer) retain(chunk []byte) {
	d.buf = append(d.buf, chunk...)
	if len(d.buf) > d.limits.MaxFrameSize {
		d.buf = d.buf[:d.limits.MaxFrameSize]
	}
}

// ParseTrailer decodes an end-of-stream payload. Valid JSON yields the parsed
// value; anything else is returned as a string.
func ParseTrailer(payload []byte) any {
	var parsed any
	if err := jsoncodec.Unmarshal(payload, &parsed); err != nil {
		return string(payload)
	}
	return parsed
}

// Encode serialises f into its wire form.
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Flags
	binary.BigEndian.PutUint32(buf[1:HeaderSize], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// DataFrame wraps payload in an uncompressed data envelope.
func DataFrame(payload []byte) Frame {
	return Frame{Payload: payload}
}

// TrailerFrame wraps payload in an end-of-stream envelope.
func TrailerFrame(payload []byte) Frame {
	return Frame{Flags: FlagEndStream, Payload: payload}
}
