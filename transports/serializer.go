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

package transports

import (
	"encoding/binary"
	"io"
	"strconv"

	"github.com/pkg/errors"
	goerrors "gopkg.in/src-d/go-errors.v1"

	"github.com/martijn00/speckle-sharp/hash"
)

/*
  Object Serialization:
    Object 0
    Object 1
     ..
    Object N

  Object:
    ID    // 20-byte digest
    Len   // 4-byte big endian length
    Data  // len(Data) == Len
*/

// MaxFrameSize bounds the length of a single serialized object.
const MaxFrameSize = 1 << 30

// ErrMalformedStream is returned when a serialized object stream is cut
// short or carries an impossible length.
var ErrMalformedStream = goerrors.NewKind("malformed object stream: %s")

// Serializer writes objects to a stream in the framing above.
type Serializer struct {
	w   io.Writer
	hdr [hash.ByteLen + 4]byte
}

func NewSerializer(w io.Writer) *Serializer {
	return &Serializer{w: w}
}

// Put appends one object to the stream.
func (sz *Serializer) Put(h hash.Hash, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrMalformedStream.New("object too large")
	}
	copy(sz.hdr[:hash.ByteLen], h[:])
	binary.BigEndian.PutUint32(sz.hdr[hash.ByteLen:], uint32(len(data)))
	if _, err := sz.w.Write(sz.hdr[:]); err != nil {
		return errors.Wrap(err, "transports: writing object header")
	}
	if _, err := sz.w.Write(data); err != nil {
		return errors.Wrap(err, "transports: writing object data")
	}
	return nil
}

// Deserialize reads objects from r until EOF, calling cb for each one.
func Deserialize(r io.Reader, cb func(h hash.Hash, data []byte) error) error {
	for {
		h, data, err := deserializeObject(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := cb(h, data); err != nil {
			return err
		}
	}
}

func deserializeObject(r io.Reader) (hash.Hash, []byte, error) {
	var hdr [hash.ByteLen + 4]byte
	n, err := io.ReadFull(r, hdr[:])
	if err == io.EOF {
		return hash.Hash{}, nil, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return hash.Hash{}, nil, ErrMalformedStream.New("truncated header after " + strconv.Itoa(n) + " bytes")
	}
	if err != nil {
		return hash.Hash{}, nil, errors.Wrap(err, "transports: reading object header")
	}

	h := hash.New(hdr[:hash.ByteLen])
	size := binary.BigEndian.Uint32(hdr[hash.ByteLen:])
	if size > MaxFrameSize {
		return hash.Hash{}, nil, ErrMalformedStream.New("object " + h.String() + " too large")
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return hash.Hash{}, nil, ErrMalformedStream.New("truncated object " + h.String())
		}
		return hash.Hash{}, nil, errors.Wrap(err, "transports: reading object data")
	}
	return h, data, nil
}
