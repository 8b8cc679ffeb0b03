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

// SomeCallback is called for each node reached by a walk. Returning true
// skips the subtree below that node.
type SomeCallback func(n *Node) bool

// AllCallback is called for each node reached by a walk.
type AllCallback func(n *Node)

// Some walks every node reachable from root, including inline nodes, and
// calls cb on them. A node shared by several parents is visited once. If cb
// returns true, the walk does not descend below that node.
func Some(root *Node, cb SomeCallback) {
	doTreeWalk(root, map[*Node]bool{}, cb)
}

// All walks every node reachable from root and calls cb on them.
func All(root *Node, cb AllCallback) {
	doTreeWalk(root, map[*Node]bool{}, func(n *Node) (skip bool) {
		cb(n)
		return
	})
}

func doTreeWalk(n *Node, seen map[*Node]bool, cb SomeCallback) {
	if n == nil || seen[n] {
		return
	}
	seen[n] = true
	if cb(n) {
		return
	}
	for _, f := range n.fields {
		walkValue(f.Value, seen, cb)
	}
}

func walkValue(v Value, seen map[*Node]bool, cb SomeCallback) {
	switch v := v.(type) {
	case *Node:
		doTreeWalk(v, seen, cb)
	case List:
		for _, elem := range v {
			walkValue(elem, seen, cb)
		}
	}
}
