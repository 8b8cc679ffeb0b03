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

package types

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	goerrors "gopkg.in/src-d/go-errors.v1"

	"github.com/martijn00/speckle-sharp/enc"
	"github.com/martijn00/speckle-sharp/hash"
)

// ErrUnresolvedReference is returned by Decode when a referenced object is
// not available from the getter.
var ErrUnresolvedReference = goerrors.NewKind("unresolved reference: %s")

// ObjectGetter resolves a single encoded object by ID. Every transport
// satisfies it.
type ObjectGetter interface {
	GetObject(ctx context.Context, h hash.Hash) ([]byte, bool, error)
}

// ObjectGetterFunc adapts a function to ObjectGetter.
type ObjectGetterFunc func(ctx context.Context, h hash.Hash) ([]byte, bool, error)

func (f ObjectGetterFunc) GetObject(ctx context.Context, h hash.Hash) ([]byte, bool, error) {
	return f(ctx, h)
}

// MapGetter serves objects from a map, e.g. the output of Encode.
type MapGetter map[hash.Hash][]byte

// NewMapGetter indexes objects by ID.
func NewMapGetter(objects []Object) MapGetter {
	m := make(MapGetter, len(objects))
	for _, o := range objects {
		m[o.ID] = o.Data
	}
	return m
}

func (m MapGetter) GetObject(_ context.Context, h hash.Hash) ([]byte, bool, error) {
	data, ok := m[h]
	return data, ok, nil
}

// DecodeOptions tune Decode.
type DecodeOptions struct {
	// OnNode is called once for each distinct stored node decoded.
	OnNode func(id hash.Hash)
}

// Decode materializes the graph rooted at id, resolving every reference
// through getter. References are discovered from the encoded fields only;
// closures are not consulted. Each distinct object is fetched once and
// shared by every parent that references it. The returned nodes are
// immutable.
func Decode(ctx context.Context, id hash.Hash, getter ObjectGetter, opts DecodeOptions) (*Node, error) {
	dec := &decoder{getter: getter, opts: opts, memo: map[hash.Hash]*Node{}, visiting: hash.HashSet{}}
	return dec.decodeStored(ctx, id)
}

type decoder struct {
	getter ObjectGetter
	opts   DecodeOptions
	memo   map[hash.Hash]*Node

	// visiting holds the stored objects on the current decode path.
	visiting hash.HashSet
}

func (dec *decoder) decodeStored(ctx context.Context, id hash.Hash) (*Node, error) {
	if n, ok := dec.memo[id]; ok {
		return n, nil
	}
	if dec.visiting.Has(id) {
		return nil, enc.ErrMalformedEnvelope.New(fmt.Sprintf("object %s is part of a reference cycle", id))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ok, err := dec.getter.GetObject(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(err, "types: reading object %s", id)
	}
	if !ok {
		return nil, ErrUnresolvedReference.New(id)
	}

	env, err := enc.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	dec.visiting.Insert(id)
	n, err := dec.decodeContent(ctx, env.Content)
	dec.visiting.Remove(id)
	if err != nil {
		return nil, err
	}
	n.freeze(id)
	dec.memo[id] = n
	if dec.opts.OnNode != nil {
		dec.opts.OnNode(id)
	}
	return n, nil
}

func (dec *decoder) decodeContent(ctx context.Context, c enc.Content) (*Node, error) {
	detach := make(map[string]bool, len(c.Detach))
	for _, name := range c.Detach {
		detach[name] = true
	}

	n := NewNode(c.Type)
	for name, raw := range c.Fields {
		v, err := dec.decodeValue(ctx, raw)
		if err != nil {
			return nil, err
		}
		detachable := detach[name]
		if !detachable {
			// Objects written by other producers may omit the detach
			// list; a field that is itself a reference was detached.
			_, detachable, _ = enc.AsRef(raw)
		}
		n.set(name, v, detachable)
	}
	n.frozen = true
	return n, nil
}

func (dec *decoder) decodeValue(ctx context.Context, raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(v), nil
	case int64:
		return Int(v), nil
	case uint64:
		return Int(int64(v)), nil
	case float64:
		return Float(v), nil
	case float32:
		return Float(v), nil
	case string:
		return String(v), nil
	case []byte:
		return Bytes(v), nil
	case []any:
		l := make(List, len(v))
		for i, elem := range v {
			ev, err := dec.decodeValue(ctx, elem)
			if err != nil {
				return nil, err
			}
			l[i] = ev
		}
		return l, nil
	}

	if h, ok, err := enc.AsRef(raw); err != nil {
		return nil, err
	} else if ok {
		return dec.decodeStored(ctx, h)
	}
	if c, ok, err := enc.AsNode(raw); err != nil {
		return nil, err
	} else if ok {
		return dec.decodeContent(ctx, c)
	}
	return Opaque{Data: raw}, nil
}
