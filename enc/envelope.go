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

package enc

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/martijn00/speckle-sharp/hash"
)

// ErrMalformedEnvelope is returned when stored bytes are not a valid node
// envelope.
var ErrMalformedEnvelope = errors.NewKind("malformed object envelope: %s")

// Content is the part of a node that determines its ID: the type tag, the
// names of detachable fields and the field values in their encoded form.
type Content struct {
	Type   string
	Detach []string
	Fields map[string]any
}

func (c Content) asMap() map[string]any {
	fields := c.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	m := map[string]any{
		"type":   c.Type,
		"fields": fields,
	}
	if len(c.Detach) > 0 {
		detach := append([]string(nil), c.Detach...)
		sort.Strings(detach)
		m["detach"] = detach
	}
	return m
}

// Bytes returns the canonical content bytes the node ID is computed over.
func (c Content) Bytes() ([]byte, error) {
	return Marshal(c.asMap())
}

// ID computes the content ID of c.
func (c Content) ID() (hash.Hash, error) {
	data, err := c.Bytes()
	if err != nil {
		return hash.Hash{}, err
	}
	return hash.Of(data), nil
}

// Envelope is a decoded stored node.
type Envelope struct {
	ID      hash.Hash
	Content Content
	Closure map[hash.Hash]int
}

// EncodeEnvelope returns the stored form of a node with the given id,
// content and closure.
func EncodeEnvelope(id hash.Hash, c Content, closure map[hash.Hash]int) ([]byte, error) {
	m := c.asMap()
	m["id"] = id.String()
	cl := make(map[string]int, len(closure))
	for h, depth := range closure {
		cl[h.String()] = depth
	}
	m["closure"] = cl
	return Marshal(m)
}

type wireEnvelope struct {
	ID      string         `cbor:"id"`
	Type    string         `cbor:"type"`
	Detach  []string       `cbor:"detach"`
	Fields  map[string]any `cbor:"fields"`
	Closure map[string]int `cbor:"closure"`
}

// DecodeEnvelope parses the stored form of a node. Keys of the envelope it
// does not know about are ignored.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := Unmarshal(data, &w); err != nil {
		return Envelope{}, ErrMalformedEnvelope.Wrap(err, err.Error())
	}

	var env Envelope
	if w.ID != "" {
		id, ok := hash.MaybeParse(w.ID)
		if !ok {
			return Envelope{}, ErrMalformedEnvelope.New(fmt.Sprintf("bad id %q", w.ID))
		}
		env.ID = id
	}
	closure, err := parseClosure(w.Closure)
	if err != nil {
		return Envelope{}, err
	}
	env.Closure = closure
	env.Content = Content{Type: w.Type, Detach: w.Detach, Fields: w.Fields}
	if env.Content.Fields == nil {
		env.Content.Fields = map[string]any{}
	}
	return env, nil
}

func parseClosure(raw map[string]int) (map[hash.Hash]int, error) {
	closure := make(map[hash.Hash]int, len(raw))
	for s, depth := range raw {
		h, ok := hash.MaybeParse(s)
		if !ok {
			return nil, ErrMalformedEnvelope.New(fmt.Sprintf("bad closure id %q", s))
		}
		if depth < 1 {
			return nil, ErrMalformedEnvelope.New(fmt.Sprintf("bad closure depth %d for %s", depth, s))
		}
		closure[h] = depth
	}
	return closure, nil
}

type closureOnly struct {
	Closure map[string]int `cbor:"closure"`
}

// ReadClosure parses only the closure of an envelope. It is used to learn
// the size of a subtree before any descendant has been fetched.
func ReadClosure(data []byte) (map[hash.Hash]int, error) {
	var p closureOnly
	if err := Unmarshal(data, &p); err != nil {
		return nil, ErrMalformedEnvelope.Wrap(err, err.Error())
	}
	return parseClosure(p.Closure)
}

// VerifyEnvelope reports an error unless data is an envelope whose content
// hashes to h.
func VerifyEnvelope(h hash.Hash, data []byte) error {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	actual, err := env.Content.ID()
	if err != nil {
		return err
	}
	if actual != h {
		return ErrMalformedEnvelope.New(fmt.Sprintf("content hashes to %s, not %s", actual, h))
	}
	return nil
}

// RefMarker returns the encoded form of a reference to h.
func RefMarker(h hash.Hash) cbor.Tag {
	digest := make([]byte, hash.ByteLen)
	copy(digest, h[:])
	return cbor.Tag{Number: TagReference, Content: digest}
}

// NodeMarker returns the encoded form of a node stored inline.
func NodeMarker(c Content) cbor.Tag {
	return cbor.Tag{Number: TagNode, Content: c.asMap()}
}

// AsRef reports whether an encoded value is a reference and returns its
// target.
func AsRef(v any) (hash.Hash, bool, error) {
	tag, ok := v.(cbor.Tag)
	if !ok || tag.Number != TagReference {
		return hash.Hash{}, false, nil
	}
	digest, ok := tag.Content.([]byte)
	if !ok || len(digest) != hash.ByteLen {
		return hash.Hash{}, false, ErrMalformedEnvelope.New("bad reference marker")
	}
	return hash.New(digest), true, nil
}

// AsNode reports whether an encoded value is an inline node and returns
// its content.
func AsNode(v any) (Content, bool, error) {
	tag, ok := v.(cbor.Tag)
	if !ok || tag.Number != TagNode {
		return Content{}, false, nil
	}
	m, ok := tag.Content.(map[string]any)
	if !ok {
		return Content{}, false, ErrMalformedEnvelope.New("bad node marker")
	}
	var c Content
	if typ, ok := m["type"].(string); ok {
		c.Type = typ
	}
	switch fields := m["fields"].(type) {
	case map[string]any:
		c.Fields = fields
	case nil:
		c.Fields = map[string]any{}
	default:
		return Content{}, false, ErrMalformedEnvelope.New("bad node marker fields")
	}
	if raw, ok := m["detach"].([]any); ok {
		for _, name := range raw {
			s, ok := name.(string)
			if !ok {
				return Content{}, false, ErrMalformedEnvelope.New("bad node marker detach list")
			}
			c.Detach = append(c.Detach, s)
		}
	}
	return c, true, nil
}
