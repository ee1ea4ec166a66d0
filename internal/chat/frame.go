package chat

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultMaxFrame bounds a single frame's body length. 16 MiB, per the wire
// protocol's recommended ceiling.
const DefaultMaxFrame = 16 << 20

// ErrFrameTooLarge is returned when a frame's declared length exceeds the
// decoder's configured maximum. This is a frame-level (not schema-level)
// failure: the caller must reset the connection, the stream can no longer be
// trusted to resynchronize.
var ErrFrameTooLarge = errors.New("chat: frame exceeds max size")

// EncodeFrame serializes a Post as a complete wire frame: a 4-byte
// little-endian length header followed by the tagged-record body.
func EncodeFrame(p Post) []byte {
	body := EncodePost(p)
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// DecodedFrame is one payload produced by Decoder.Feed. Err is non-nil when
// the frame's length header was well-formed but its body failed to parse
// under the Post schema — a schema error, not a framing error, per the
// protocol's two-tier error model (§7): the stream stays in sync and decoding
// continues with the next frame.
type DecodedFrame struct {
	Post Post
	Err  error
}

type decodeMode int

const (
	modeReadingLength decodeMode = iota
	modeReadingBody
)

// Decoder is the frame codec's state machine: it turns an arbitrarily
// chunked byte stream into a sequence of DecodedFrame values, tolerating any
// split of the input across Feed calls (including one byte at a time).
type Decoder struct {
	MaxFrame int

	mode     decodeMode
	lenBuf   [4]byte
	lenN     int
	expected uint32
	body     []byte
	bodyN    int
}

// NewDecoder returns a Decoder in its initial ReadingLength state.
func NewDecoder() *Decoder {
	return &Decoder{MaxFrame: DefaultMaxFrame}
}

func (d *Decoder) maxFrame() int {
	if d.MaxFrame <= 0 {
		return DefaultMaxFrame
	}
	return d.MaxFrame
}

// Feed consumes chunk and returns every frame fully assembled as a result,
// mutating the decoder's internal state to reflect any trailing partial
// frame. A non-nil error is always a frame-level failure (oversized length);
// it is fatal for the stream and the caller must not call Feed again.
func (d *Decoder) Feed(chunk []byte) ([]DecodedFrame, error) {
	var out []DecodedFrame
	for len(chunk) > 0 {
		switch d.mode {
		case modeReadingLength:
			n := copy(d.lenBuf[d.lenN:4], chunk)
			d.lenN += n
			chunk = chunk[n:]
			if d.lenN < 4 {
				return out, nil
			}
			d.expected = binary.LittleEndian.Uint32(d.lenBuf[:])
			d.lenN = 0
			if int(d.expected) > d.maxFrame() {
				return out, fmt.Errorf("%w: %d exceeds %d", ErrFrameTooLarge, d.expected, d.maxFrame())
			}
			if d.expected == 0 {
				out = append(out, DecodedFrame{Post: Post{}})
				continue
			}
			d.body = make([]byte, d.expected)
			d.bodyN = 0
			d.mode = modeReadingBody
		case modeReadingBody:
			n := copy(d.body[d.bodyN:], chunk)
			d.bodyN += n
			chunk = chunk[n:]
			if d.bodyN < len(d.body) {
				return out, nil
			}
			p, err := DecodePost(d.body)
			out = append(out, DecodedFrame{Post: p, Err: err})
			d.mode = modeReadingLength
			d.body = nil
			d.bodyN = 0
		}
	}
	return out, nil
}
