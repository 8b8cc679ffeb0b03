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
	"sort"

	"github.com/martijn00/speckle-sharp/d"
	"github.com/martijn00/speckle-sharp/hash"
)

// Field is a named value of a Node. A detachable field is stored as a
// separate object: a Node value becomes a reference, and so does every
// Node element of a List value.
type Field struct {
	Name       string
	Value      Value
	Detachable bool
}

// Node is a graph node: a type tag and a set of named fields kept sorted by
// name. Nodes built by callers are mutable and have no ID. Nodes returned by
// Decode carry their content ID and panic on mutation.
type Node struct {
	typ    string
	fields []Field
	id     hash.Hash
	frozen bool
}

// NewNode returns an empty mutable node with the given type tag.
func NewNode(typ string) *Node {
	return &Node{typ: typ}
}

func (n *Node) Kind() Kind { return NodeKind }

// Type returns the type tag, e.g. "Objects.Geometry.Mesh".
func (n *Node) Type() string {
	return n.typ
}

// ID returns the content ID of a decoded node. Author side nodes and nodes
// that were stored inline in their parent report false.
func (n *Node) ID() (hash.Hash, bool) {
	return n.id, !n.id.IsEmpty()
}

// Frozen reports whether the node is immutable.
func (n *Node) Frozen() bool {
	return n.frozen
}

func (n *Node) search(name string) (int, bool) {
	i := sort.Search(len(n.fields), func(i int) bool { return n.fields[i].Name >= name })
	return i, i < len(n.fields) && n.fields[i].Name == name
}

func (n *Node) set(name string, v Value, detachable bool) *Node {
	d.PanicIfTrue(n.frozen, "cannot modify field %q of immutable node %s", name, n.id)
	d.PanicIfTrue(name == "", "field name must not be empty")
	if v == nil {
		v = Null{}
	}
	f := Field{Name: name, Value: v, Detachable: detachable}
	i, found := n.search(name)
	if found {
		n.fields[i] = f
		return n
	}
	n.fields = append(n.fields, Field{})
	copy(n.fields[i+1:], n.fields[i:])
	n.fields[i] = f
	return n
}

// Set assigns an inline field and returns n so calls can be chained.
func (n *Node) Set(name string, v Value) *Node {
	return n.set(name, v, false)
}

// SetDetached assigns a detachable field.
func (n *Node) SetDetached(name string, v Value) *Node {
	return n.set(name, v, true)
}

// Remove deletes a field if present.
func (n *Node) Remove(name string) *Node {
	d.PanicIfTrue(n.frozen, "cannot modify field %q of immutable node %s", name, n.id)
	if i, found := n.search(name); found {
		n.fields = append(n.fields[:i], n.fields[i+1:]...)
	}
	return n
}

// Get returns the value of a field. A field that is not present reports
// false, which is different from a field holding Null.
func (n *Node) Get(name string) (Value, bool) {
	if i, found := n.search(name); found {
		return n.fields[i].Value, true
	}
	return nil, false
}

// IsDetachable reports whether the named field is present and detachable.
func (n *Node) IsDetachable(name string) bool {
	i, found := n.search(name)
	return found && n.fields[i].Detachable
}

// Len returns the number of fields.
func (n *Node) Len() int {
	return len(n.fields)
}

// Fields returns a copy of the fields in name order.
func (n *Node) Fields() []Field {
	return append([]Field(nil), n.fields...)
}

// IterFields calls cb for each field in name order.
func (n *Node) IterFields(cb func(f Field)) {
	for _, f := range n.fields {
		cb(f)
	}
}

func (n *Node) freeze(id hash.Hash) {
	n.id = id
	n.frozen = true
}

// Equals compares type tags and fields recursively. IDs are ignored.
func (n *Node) Equals(other Value) bool {
	o, ok := other.(*Node)
	if !ok {
		return false
	}
	if n == o {
		return true
	}
	if n == nil || o == nil {
		return false
	}
	if n.typ != o.typ || len(n.fields) != len(o.fields) {
		return false
	}
	for i, f := range n.fields {
		of := o.fields[i]
		if f.Name != of.Name || f.Detachable != of.Detachable || !Equals(f.Value, of.Value) {
			return false
		}
	}
	return true
}
