// Package chat implements the broker's application payload and its wire
// framing: a 4-byte little-endian length header followed by a tagged-record
// encoding of a Post, compatible with the standard protobuf wire format.
package chat

import "errors"

// Post is the broker's application payload: an author and an ordered
// sequence of text lines.
type Post struct {
	Author string
	Text   []string
}

// ErrAuthorRequired is returned by Validate when Author is empty. It is not
// enforced by Decode: a decoder must accept whatever a peer sent and let the
// worker decide what to do with it.
var ErrAuthorRequired = errors.New("chat: author must not be empty")

// Validate checks the construction invariant for locally-built posts
// (synthetic replies, test fixtures). Decoded posts are not run through it.
func (p Post) Validate() error {
	if p.Author == "" {
		return ErrAuthorRequired
	}
	return nil
}
