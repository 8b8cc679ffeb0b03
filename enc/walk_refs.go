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
	"github.com/martijn00/speckle-sharp/hash"
)

// RefCallback is called once for each reference found in an envelope.
type RefCallback func(h hash.Hash) error

// WalkRefs calls cb for every distinct reference in the fields of the
// envelope in data, including references inside inline nodes. The closure
// is not consulted.
func WalkRefs(data []byte, cb RefCallback) error {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	return WalkContentRefs(env.Content, cb)
}

// WalkContentRefs is WalkRefs for already decoded content.
func WalkContentRefs(c Content, cb RefCallback) error {
	seen := hash.HashSet{}
	return walkContent(c, seen, cb)
}

// Refs returns the set of distinct references in data.
func Refs(data []byte) (hash.HashSet, error) {
	refs := hash.HashSet{}
	err := WalkRefs(data, func(h hash.Hash) error {
		refs.Insert(h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func walkContent(c Content, seen hash.HashSet, cb RefCallback) error {
	for _, v := range c.Fields {
		if err := walkValue(v, seen, cb); err != nil {
			return err
		}
	}
	return nil
}

func walkValue(v any, seen hash.HashSet, cb RefCallback) error {
	if h, ok, err := AsRef(v); err != nil {
		return err
	} else if ok {
		if seen.Has(h) {
			return nil
		}
		seen.Insert(h)
		return cb(h)
	}

	if c, ok, err := AsNode(v); err != nil {
		return err
	} else if ok {
		return walkContent(c, seen, cb)
	}

	if l, ok := v.([]any); ok {
		for _, elem := range l {
			if err := walkValue(elem, seen, cb); err != nil {
				return err
			}
		}
	}
	return nil
}
