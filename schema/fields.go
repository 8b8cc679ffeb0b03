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

package schema

import (
	"fmt"

	"github.com/martijn00/speckle-sharp/types"
)

func mismatch(n *types.Node, format string, args ...interface{}) error {
	return ErrSchemaMismatch.New(n.Type(), fmt.Sprintf(format, args...))
}

func getFloat(n *types.Node, name string) (float64, error) {
	v, ok := n.Get(name)
	if !ok || v.Kind() == types.NullKind {
		return 0, nil
	}
	switch v := v.(type) {
	case types.Float:
		return float64(v), nil
	case types.Int:
		return float64(v), nil
	}
	return 0, mismatch(n, "field %q is %s, want Float", name, v.Kind())
}

func getString(n *types.Node, name string) (string, error) {
	v, ok := n.Get(name)
	if !ok || v.Kind() == types.NullKind {
		return "", nil
	}
	if s, ok := v.(types.String); ok {
		return string(s), nil
	}
	return "", mismatch(n, "field %q is %s, want String", name, v.Kind())
}

func getBool(n *types.Node, name string) (bool, error) {
	v, ok := n.Get(name)
	if !ok || v.Kind() == types.NullKind {
		return false, nil
	}
	if b, ok := v.(types.Bool); ok {
		return bool(b), nil
	}
	return false, mismatch(n, "field %q is %s, want Bool", name, v.Kind())
}

func getNode(n *types.Node, name string) (*types.Node, error) {
	v, ok := n.Get(name)
	if !ok || v.Kind() == types.NullKind {
		return nil, nil
	}
	if child, ok := v.(*types.Node); ok {
		return child, nil
	}
	return nil, mismatch(n, "field %q is %s, want Node", name, v.Kind())
}

func getList(n *types.Node, name string) (types.List, error) {
	v, ok := n.Get(name)
	if !ok || v.Kind() == types.NullKind {
		return nil, nil
	}
	if l, ok := v.(types.List); ok {
		return l, nil
	}
	return nil, mismatch(n, "field %q is %s, want List", name, v.Kind())
}

func getFloats(n *types.Node, name string) ([]float64, error) {
	l, err := getList(n, name)
	if err != nil || l == nil {
		return nil, err
	}
	out := make([]float64, len(l))
	for i, elem := range l {
		switch elem := elem.(type) {
		case types.Float:
			out[i] = float64(elem)
		case types.Int:
			out[i] = float64(elem)
		default:
			return nil, mismatch(n, "element %d of %q is %s, want Float", i, name, elem.Kind())
		}
	}
	return out, nil
}

func getInts(n *types.Node, name string) ([]int64, error) {
	l, err := getList(n, name)
	if err != nil || l == nil {
		return nil, err
	}
	out := make([]int64, len(l))
	for i, elem := range l {
		v, ok := elem.(types.Int)
		if !ok {
			return nil, mismatch(n, "element %d of %q is %s, want Int", i, name, elem.Kind())
		}
		out[i] = int64(v)
	}
	return out, nil
}

func floatList(fs []float64) types.List {
	l := make(types.List, len(fs))
	for i, f := range fs {
		l[i] = types.Float(f)
	}
	return l
}

func intList(is []int64) types.List {
	l := make(types.List, len(is))
	for i, v := range is {
		l[i] = types.Int(v)
	}
	return l
}

func optString(s string) types.Value {
	if s == "" {
		return nil
	}
	return types.String(s)
}
