package chat

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Field numbers and wire types for the Post schema: author is field 1,
// text is field 2 (repeated), both length-delimited strings. The encoding
// follows the standard tagged-record (protobuf) wire format byte-for-byte so
// any protobuf-aware tool can decode it, but this package hand-writes the
// wire bytes directly rather than going through a generated message type —
// the schema is two fields and does not earn the generated-code machinery.
const (
	fieldAuthor = 1
	fieldText   = 2

	wireVarint  = 0
	wireFixed64 = 1
	wireLenDeli = 2
	wireFixed32 = 5
)

// ErrTruncatedPost is returned when a tagged-record body ends mid-field.
var ErrTruncatedPost = errors.New("chat: truncated post")

// ErrMalformedPost is returned when a tagged-record body contains a bad tag,
// an invalid varint, or a wire type the decoder cannot skip (groups or
// reserved types). A known field carried under another skippable wire type
// is skipped, not reported.
var ErrMalformedPost = errors.New("chat: malformed post")

// EncodePost serializes a Post into its tagged-record wire form. Author is
// always emitted first, followed by text entries in insertion order, per the
// wire protocol's encoder requirement.
func EncodePost(p Post) []byte {
	size := sizeTag(fieldAuthor, wireLenDeli) + sizeLenDelim(len(p.Author))
	for _, t := range p.Text {
		size += sizeTag(fieldText, wireLenDeli) + sizeLenDelim(len(t))
	}
	buf := make([]byte, 0, size)
	buf = appendTag(buf, fieldAuthor, wireLenDeli)
	buf = appendString(buf, p.Author)
	for _, t := range p.Text {
		buf = appendTag(buf, fieldText, wireLenDeli)
		buf = appendString(buf, t)
	}
	return buf
}

// DecodePost parses a tagged-record body into a Post. Decoders accept any
// field order and silently skip unknown fields, per the wire protocol.
func DecodePost(b []byte) (Post, error) {
	var p Post
	for len(b) > 0 {
		tag, wire, n := decodeTag(b)
		if n <= 0 {
			return Post{}, fmt.Errorf("%w: bad tag", ErrMalformedPost)
		}
		b = b[n:]
		switch {
		case tag == fieldAuthor && wire == wireLenDeli:
			s, rest, err := decodeString(b)
			if err != nil {
				return Post{}, err
			}
			p.Author = s
			b = rest
		case tag == fieldText && wire == wireLenDeli:
			s, rest, err := decodeString(b)
			if err != nil {
				return Post{}, err
			}
			p.Text = append(p.Text, s)
			b = rest
		default:
			rest, err := skipField(b, wire)
			if err != nil {
				return Post{}, err
			}
			b = rest
		}
	}
	return p, nil
}

func sizeTag(field int, wire int) int {
	return sizeVarint(uint64(field)<<3 | uint64(wire))
}

func sizeLenDelim(n int) int {
	return sizeVarint(uint64(n)) + n
}

func sizeVarint(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func appendTag(buf []byte, field int, wire int) []byte {
	return binary.AppendUvarint(buf, uint64(field)<<3|uint64(wire))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func decodeTag(b []byte) (field int, wire int, n int) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, n
	}
	return int(v >> 3), int(v & 0x7), n
}

func decodeString(b []byte) (string, []byte, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 {
		return "", nil, fmt.Errorf("%w: bad length varint", ErrMalformedPost)
	}
	b = b[n:]
	if uint64(len(b)) < l {
		return "", nil, ErrTruncatedPost
	}
	return string(b[:l]), b[l:], nil
}

// skipField advances past a field's value for wire types this schema does
// not use, so unknown fields never abort decoding.
func skipField(b []byte, wire int) ([]byte, error) {
	switch wire {
	case wireVarint:
		_, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad varint field", ErrMalformedPost)
		}
		return b[n:], nil
	case wireFixed64:
		if len(b) < 8 {
			return nil, ErrTruncatedPost
		}
		return b[8:], nil
	case wireFixed32:
		if len(b) < 4 {
			return nil, ErrTruncatedPost
		}
		return b[4:], nil
	case wireLenDeli:
		_, rest, err := decodeString(b)
		return rest, err
	default:
		return nil, fmt.Errorf("%w: unsupported wire type %d", ErrMalformedPost, wire)
	}
}
