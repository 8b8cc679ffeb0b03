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

// Package schema projects typed element classes onto generic graph nodes.
//
// Each type is described by a table of field descriptors instead of Go
// struct reflection. Host specific variants (e.g. a Revit column) are not
// subclasses: their type tag names the base type followed by the variant,
// separated by ':', and the variant contributes an extra group of fields
// which is resolved from the tag when a node is read back.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/martijn00/speckle-sharp/types"
)

var (
	// ErrSchemaMismatch is returned when a node does not match the
	// descriptors of its type.
	ErrSchemaMismatch = errors.NewKind("node of type %q does not match its schema: %s")

	// ErrUnknownType is returned when no descriptor is registered for any
	// part of a type tag.
	ErrUnknownType = errors.NewKind("no schema registered for type %q")
)

// TypeSeparator separates the base type from host specific variants in a
// type tag.
const TypeSeparator = ":"

// FieldDescriptor describes one field of a type.
type FieldDescriptor struct {
	Name       string
	Kind       types.Kind
	Detachable bool
	Required   bool

	// ElemKind is the kind of the elements of a List field. NullKind
	// means any.
	ElemKind types.Kind
}

// Descriptor describes the fields one type contributes.
type Descriptor struct {
	Type   string
	Fields []FieldDescriptor
}

func (desc Descriptor) field(name string) (FieldDescriptor, bool) {
	for _, f := range desc.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// Registry holds descriptors by type name. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	descs map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{descs: map[string]Descriptor{}}
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(desc Descriptor) error {
	if desc.Type == "" || strings.Contains(desc.Type, TypeSeparator) {
		return fmt.Errorf("schema: invalid type name %q", desc.Type)
	}
	seen := map[string]bool{}
	for _, f := range desc.Fields {
		if f.Name == "" || seen[f.Name] {
			return fmt.Errorf("schema: %s: empty or duplicate field %q", desc.Type, f.Name)
		}
		seen[f.Name] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs[desc.Type] = desc
	return nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descs))
	for name := range r.descs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the descriptors named by a type tag, base type first.
// Parts of the tag without a registered descriptor are skipped so that
// nodes produced by newer hosts can still be read through their base type.
func (r *Registry) Resolve(typeTag string) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var chain []Descriptor
	for _, part := range SplitTypeTag(typeTag) {
		if desc, ok := r.descs[part]; ok {
			chain = append(chain, desc)
		}
	}
	if len(chain) == 0 {
		return nil, ErrUnknownType.New(typeTag)
	}
	return chain, nil
}

// Has reports whether variant is named in typeTag.
func Has(typeTag, variant string) bool {
	for _, part := range SplitTypeTag(typeTag) {
		if part == variant {
			return true
		}
	}
	return false
}

// SplitTypeTag splits a type tag into its base type and variants.
func SplitTypeTag(typeTag string) []string {
	if typeTag == "" {
		return nil
	}
	return strings.Split(typeTag, TypeSeparator)
}

// JoinTypeTag builds a type tag from a base type and its variants.
func JoinTypeTag(parts ...string) string {
	return strings.Join(parts, TypeSeparator)
}

// Validate checks n against every descriptor its type tag resolves to.
// Fields that no descriptor mentions are allowed.
func (r *Registry) Validate(n *types.Node) error {
	chain, err := r.Resolve(n.Type())
	if err != nil {
		return err
	}
	for _, desc := range chain {
		for _, fd := range desc.Fields {
			v, ok := n.Get(fd.Name)
			if !ok || v.Kind() == types.NullKind {
				if fd.Required {
					return ErrSchemaMismatch.New(n.Type(), fmt.Sprintf("missing required field %q", fd.Name))
				}
				continue
			}
			if err := checkField(n, fd, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkField(n *types.Node, fd FieldDescriptor, v types.Value) error {
	if v.Kind() != fd.Kind {
		return ErrSchemaMismatch.New(n.Type(), fmt.Sprintf("field %q is %s, want %s", fd.Name, v.Kind(), fd.Kind))
	}
	if fd.Detachable != n.IsDetachable(fd.Name) {
		return ErrSchemaMismatch.New(n.Type(), fmt.Sprintf("field %q detachable=%t, want %t", fd.Name, !fd.Detachable, fd.Detachable))
	}
	if l, ok := v.(types.List); ok && fd.ElemKind != types.NullKind {
		for i, elem := range l {
			if elem.Kind() != fd.ElemKind {
				return ErrSchemaMismatch.New(n.Type(), fmt.Sprintf("element %d of %q is %s, want %s", i, fd.Name, elem.Kind(), fd.ElemKind))
			}
		}
	}
	return nil
}

// Project sets the fields of n named by desc from values, using each
// descriptor's detachable flag. Values missing from the map or nil are left
// unset.
func Project(n *types.Node, desc Descriptor, values map[string]types.Value) *types.Node {
	for _, fd := range desc.Fields {
		v := values[fd.Name]
		if v == nil {
			continue
		}
		if fd.Detachable {
			n.SetDetached(fd.Name, v)
		} else {
			n.Set(fd.Name, v)
		}
	}
	return n
}

// Extra returns the fields of n that none of the descriptors mention. They
// are carried along unchanged by the typed adapters.
func Extra(n *types.Node, chain []Descriptor) []types.Field {
	var extra []types.Field
	n.IterFields(func(f types.Field) {
		for _, desc := range chain {
			if _, ok := desc.field(f.Name); ok {
				return
			}
		}
		extra = append(extra, f)
	})
	return extra
}
