// Copyright 2020 Speckle Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hash implements the content IDs that address nodes of an object
// graph.
//
// A Hash is the first 20 bytes of the BLAKE3-256 digest of a node's
// canonical content bytes. Its text form is 32 characters of base32 using
// the alphabet 0-9a-v, for example:
//
//	pckdvpvr9br1fie6c3pjudrlthe7na18
//
// The zero Hash is never the ID of a node and is used to signal "no ID".
package hash

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/zeebo/blake3"

	"github.com/martijn00/speckle-sharp/d"
)

const (
	// ByteLen is the number of bytes of digest kept in a Hash.
	ByteLen = 20

	// StringLen is the length of the text form of a Hash.
	StringLen = 32
)

var (
	pattern   = regexp.MustCompile("^[0-9a-v]{32}$")
	emptyHash = Hash{}
)

// Hash is a content ID.
type Hash [ByteLen]byte

// IsEmpty reports whether h is the zero Hash.
func (h Hash) IsEmpty() bool {
	return h == emptyHash
}

// String returns the 32 character base32 form of h.
func (h Hash) String() string {
	return encode(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, ok := MaybeParse(string(text))
	if !ok {
		return fmt.Errorf("could not parse hash: %q", text)
	}
	*h = parsed
	return nil
}

// Less orders hashes by their digest bytes.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// New creates a Hash from a digest of exactly ByteLen bytes.
func New(data []byte) Hash {
	d.PanicIfFalse(len(data) == ByteLen, "hash.New: expected %d bytes, got %d", ByteLen, len(data))
	var h Hash
	copy(h[:], data)
	return h
}

// Of computes the Hash of data.
func Of(data []byte) Hash {
	sum := blake3.Sum256(data)
	return New(sum[:ByteLen])
}

// MaybeParse parses s and reports whether it was a valid Hash.
func MaybeParse(s string) (Hash, bool) {
	if !pattern.MatchString(s) {
		return emptyHash, false
	}
	data, err := decode(s)
	if err != nil || len(data) != ByteLen {
		return emptyHash, false
	}
	return New(data), true
}

// Parse parses s, panicking if it is not a valid Hash. Use MaybeParse for
// untrusted input.
func Parse(s string) Hash {
	h, ok := MaybeParse(s)
	if !ok {
		d.Panic("could not parse hash: %s", s)
	}
	return h
}
