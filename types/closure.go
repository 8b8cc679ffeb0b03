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
	"github.com/martijn00/speckle-sharp/hash"
)

// Closure maps every node reachable from a node to the minimum depth at
// which it is reached; direct children are at depth 1. It is used for
// progress accounting and never to resolve references.
type Closure map[hash.Hash]int

func (c Closure) add(h hash.Hash, depth int) {
	if cur, ok := c[h]; !ok || depth < cur {
		c[h] = depth
	}
}

// AddChild records child as a direct child together with its own closure
// shifted one level down.
func (c Closure) AddChild(child hash.Hash, childClosure Closure) {
	c.add(child, 1)
	for h, depth := range childClosure {
		c.add(h, depth+1)
	}
}

// Merge adds every entry of other, keeping the smaller depth on conflict.
func (c Closure) Merge(other Closure) {
	for h, depth := range other {
		c.add(h, depth)
	}
}

// Len returns the number of descendants.
func (c Closure) Len() int {
	return len(c)
}

// Depth returns the minimum depth of h.
func (c Closure) Depth(h hash.Hash) (int, bool) {
	depth, ok := c[h]
	return depth, ok
}
