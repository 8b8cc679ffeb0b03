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

// Package types is the in-memory model of an object graph: Nodes with named
// fields holding primitives, lists, nested Nodes and references, together
// with the encoder that turns a graph into content addressed objects and the
// decoder that materializes a graph back from them.
package types

import (
	"bytes"
	"fmt"
	"math"
	"reflect"

	"github.com/martijn00/speckle-sharp/hash"
)

// Kind identifies the kind of a Value.
type Kind uint8

const (
	NullKind Kind = iota
	BoolKind
	IntKind
	FloatKind
	StringKind
	BytesKind
	ListKind
	NodeKind
	RefKind
	OpaqueKind
)

// KindToString maps a Kind to its name.
var KindToString = map[Kind]string{
	NullKind:   "Null",
	BoolKind:   "Bool",
	IntKind:    "Int",
	FloatKind:  "Float",
	StringKind: "String",
	BytesKind:  "Bytes",
	ListKind:   "List",
	NodeKind:   "Node",
	RefKind:    "Ref",
	OpaqueKind: "Opaque",
}

func (k Kind) String() string {
	if s, ok := KindToString[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is anything that can be stored in a Node field.
type Value interface {
	Kind() Kind
	Equals(other Value) bool
}

type Null struct{}

func (Null) Kind() Kind { return NullKind }

func (Null) Equals(other Value) bool {
	_, ok := other.(Null)
	return ok
}

type Bool bool

func (Bool) Kind() Kind { return BoolKind }

func (v Bool) Equals(other Value) bool {
	o, ok := other.(Bool)
	return ok && v == o
}

type Int int64

func (Int) Kind() Kind { return IntKind }

func (v Int) Equals(other Value) bool {
	o, ok := other.(Int)
	return ok && v == o
}

type Float float64

func (Float) Kind() Kind { return FloatKind }

// Equals treats NaN as equal to NaN so that decoded graphs compare equal
// to the graphs they were encoded from.
func (v Float) Equals(other Value) bool {
	o, ok := other.(Float)
	if !ok {
		return false
	}
	if math.IsNaN(float64(v)) && math.IsNaN(float64(o)) {
		return true
	}
	return v == o
}

type String string

func (String) Kind() Kind { return StringKind }

func (v String) Equals(other Value) bool {
	o, ok := other.(String)
	return ok && v == o
}

type Bytes []byte

func (Bytes) Kind() Kind { return BytesKind }

func (v Bytes) Equals(other Value) bool {
	o, ok := other.(Bytes)
	return ok && bytes.Equal(v, o)
}

// List is an ordered sequence of values.
type List []Value

func (List) Kind() Kind { return ListKind }

func (v List) Equals(other Value) bool {
	o, ok := other.(List)
	if !ok || len(v) != len(o) {
		return false
	}
	for i := range v {
		if !Equals(v[i], o[i]) {
			return false
		}
	}
	return true
}

// Ref stands for a node stored elsewhere. Decode resolves every reference,
// so a Ref is only seen by code that inspects encoded objects directly.
type Ref struct {
	Target hash.Hash
}

func (Ref) Kind() Kind { return RefKind }

func (v Ref) Equals(other Value) bool {
	o, ok := other.(Ref)
	return ok && v.Target == o.Target
}

// Opaque holds a decoded field value of a form this package does not model.
// It is written back unchanged when the node is encoded again.
type Opaque struct {
	Data any
}

func (Opaque) Kind() Kind { return OpaqueKind }

func (v Opaque) Equals(other Value) bool {
	o, ok := other.(Opaque)
	return ok && reflect.DeepEqual(v.Data, o.Data)
}

// Equals compares two values structurally. Node IDs are not compared. A nil
// Value is the same as Null.
func Equals(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	return a.Equals(b)
}
