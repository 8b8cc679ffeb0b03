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
	"fmt"

	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/martijn00/speckle-sharp/enc"
	"github.com/martijn00/speckle-sharp/hash"
)

var (
	// ErrCyclicGraph is returned when a node is reachable from itself.
	ErrCyclicGraph = errors.NewKind("cyclic graph: node of type %q contains itself")

	// ErrUnencodableValue is returned for values Encode does not accept.
	ErrUnencodableValue = errors.NewKind("cannot encode value of kind %s in field %q")
)

// Object is an encoded node ready to be written to a transport.
type Object struct {
	ID   hash.Hash
	Data []byte
}

// Encode flattens the graph rooted at root into content addressed objects.
// Children are encoded before their parents, so the returned objects are
// ordered children first with the root last, and each distinct ID appears
// once. Structurally identical subtrees share an ID and are stored once.
func Encode(root *Node) (hash.Hash, []Object, error) {
	if root == nil {
		return hash.Hash{}, nil, ErrUnencodableValue.New(NullKind, "")
	}
	e := &encoder{
		written:  map[hash.Hash]Closure{},
		memo:     map[*Node]encodedNode{},
		visiting: map[*Node]bool{},
	}
	id, _, err := e.encodeStored(root)
	if err != nil {
		return hash.Hash{}, nil, err
	}
	return id, e.objects, nil
}

type encodedNode struct {
	id      hash.Hash
	closure Closure
}

type encoder struct {
	objects  []Object
	written  map[hash.Hash]Closure
	memo     map[*Node]encodedNode
	visiting map[*Node]bool
}

func (e *encoder) encodeStored(n *Node) (hash.Hash, Closure, error) {
	if en, ok := e.memo[n]; ok {
		return en.id, en.closure, nil
	}

	closure := Closure{}
	content, err := e.encodeContent(n, closure)
	if err != nil {
		return hash.Hash{}, nil, err
	}
	id, err := content.ID()
	if err != nil {
		return hash.Hash{}, nil, err
	}

	if _, ok := e.written[id]; !ok {
		data, err := enc.EncodeEnvelope(id, content, closure)
		if err != nil {
			return hash.Hash{}, nil, err
		}
		e.written[id] = closure
		e.objects = append(e.objects, Object{ID: id, Data: data})
	}
	e.memo[n] = encodedNode{id, closure}
	return id, closure, nil
}

// encodeContent encodes the fields of n. References found anywhere in n,
// including inside inline nodes, are direct children of the stored node
// being built and are recorded in closure.
func (e *encoder) encodeContent(n *Node, closure Closure) (enc.Content, error) {
	if e.visiting[n] {
		return enc.Content{}, ErrCyclicGraph.New(n.typ)
	}
	e.visiting[n] = true
	defer delete(e.visiting, n)

	c := enc.Content{Type: n.typ, Fields: make(map[string]any, len(n.fields))}
	for _, f := range n.fields {
		var v any
		var err error
		if f.Detachable {
			c.Detach = append(c.Detach, f.Name)
			v, err = e.encodeDetached(f, closure)
		} else {
			v, err = e.encodeValue(f.Name, f.Value, closure)
		}
		if err != nil {
			return enc.Content{}, err
		}
		c.Fields[f.Name] = v
	}
	return c, nil
}

func (e *encoder) encodeDetached(f Field, closure Closure) (any, error) {
	switch v := f.Value.(type) {
	case *Node:
		return e.encodeRef(v, closure)
	case List:
		out := make([]any, len(v))
		for i, elem := range v {
			var err error
			if child, ok := elem.(*Node); ok {
				out[i], err = e.encodeRef(child, closure)
			} else {
				out[i], err = e.encodeValue(f.Name, elem, closure)
			}
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return e.encodeValue(f.Name, f.Value, closure)
	}
}

func (e *encoder) encodeRef(child *Node, closure Closure) (any, error) {
	if e.visiting[child] {
		return nil, ErrCyclicGraph.New(child.typ)
	}
	id, childClosure, err := e.encodeStored(child)
	if err != nil {
		return nil, err
	}
	closure.AddChild(id, childClosure)
	return enc.RefMarker(id), nil
}

func (e *encoder) encodeValue(name string, v Value, closure Closure) (any, error) {
	switch v := v.(type) {
	case nil, Null:
		return nil, nil
	case Bool:
		return bool(v), nil
	case Int:
		return int64(v), nil
	case Float:
		return float64(v), nil
	case String:
		return string(v), nil
	case Bytes:
		if v == nil {
			return []byte{}, nil
		}
		return []byte(v), nil
	case List:
		out := make([]any, len(v))
		for i, elem := range v {
			ev, err := e.encodeValue(name, elem, closure)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case *Node:
		if v == nil {
			return nil, nil
		}
		c, err := e.encodeContent(v, closure)
		if err != nil {
			return nil, err
		}
		return enc.NodeMarker(c), nil
	case Opaque:
		return v.Data, nil
	default:
		return nil, ErrUnencodableValue.New(kindName(v), name)
	}
}

func kindName(v Value) string {
	if v == nil {
		return NullKind.String()
	}
	return fmt.Sprint(v.Kind())
}
