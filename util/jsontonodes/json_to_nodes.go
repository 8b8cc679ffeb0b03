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

// Package jsontonodes converts decoded JSON documents into author-side
// graphs. Objects become nodes; a "speckle_type" key gives the type tag and
// keys prefixed with "@" are stored as detachable fields.
package jsontonodes

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/martijn00/speckle-sharp/d"
	"github.com/martijn00/speckle-sharp/types"
)

const (
	TypeKey      = "speckle_type"
	DetachPrefix = "@"
)

// Keys computed by the encoder. They are dropped on import.
var computedKeys = map[string]bool{
	"id":                 true,
	"closure":            true,
	"totalChildrenCount": true,
}

// NodeFromDecodedJSON converts o, as produced by encoding/json, to a
// Value. Maps become nodes. Panics on anything JSON cannot produce.
func NodeFromDecodedJSON(o interface{}) types.Value {
	switch o := o.(type) {
	case nil:
		return types.Null{}
	case string:
		return types.String(o)
	case bool:
		return types.Bool(o)
	case float64:
		return types.Float(o)
	case json.Number:
		if i, err := o.Int64(); err == nil {
			return types.Int(i)
		}
		f, err := o.Float64()
		d.PanicIfError(d.Wrap(err))
		return types.Float(f)
	case []interface{}:
		items := make(types.List, 0, len(o))
		for _, v := range o {
			items = append(items, NodeFromDecodedJSON(v))
		}
		return items
	case map[string]interface{}:
		return nodeFromMap(o)
	default:
		d.Panic("unsupported JSON value of type %T", o)
	}
	return nil
}

func nodeFromMap(m map[string]interface{}) *types.Node {
	typ := ""
	if t, ok := m[TypeKey]; ok {
		s, ok := t.(string)
		if !ok {
			d.Panic("%s must be a string, got %T", TypeKey, t)
		}
		typ = s
	}

	n := types.NewNode(typ)
	for k, v := range m {
		if k == TypeKey || computedKeys[k] {
			continue
		}
		if strings.HasPrefix(k, DetachPrefix) {
			name := strings.TrimPrefix(k, DetachPrefix)
			if name == "" {
				d.Panic("empty detachable field name")
			}
			n.SetDetached(name, NodeFromDecodedJSON(v))
			continue
		}
		n.Set(k, NodeFromDecodedJSON(v))
	}
	return n
}

// NodeFromJSON reads one JSON object from r.
func NodeFromJSON(r io.Reader) (root *types.Node, err error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var o interface{}
	if err := dec.Decode(&o); err != nil {
		return nil, errors.Wrap(err, "jsontonodes: decoding")
	}
	m, ok := o.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("jsontonodes: top level value must be an object, got %T", o)
	}
	err = d.Try(func() {
		root = nodeFromMap(m)
	})
	if err != nil {
		return nil, errors.Wrap(d.Unwrap(err), "jsontonodes")
	}
	return root, nil
}
