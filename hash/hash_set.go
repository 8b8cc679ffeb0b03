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

package hash

import "sort"

// HashSlice is an ordered list of hashes.
type HashSlice []Hash

func (hs HashSlice) Len() int           { return len(hs) }
func (hs HashSlice) Less(i, j int) bool { return hs[i].Less(hs[j]) }
func (hs HashSlice) Swap(i, j int)      { hs[i], hs[j] = hs[j], hs[i] }

// Equals reports whether hs and other hold the same hashes in the same order.
func (hs HashSlice) Equals(other HashSlice) bool {
	if len(hs) != len(other) {
		return false
	}
	for i := range hs {
		if hs[i] != other[i] {
			return false
		}
	}
	return true
}

// HashSet returns the members of hs as a set.
func (hs HashSlice) HashSet() HashSet {
	s := make(HashSet, len(hs))
	for _, h := range hs {
		s.Insert(h)
	}
	return s
}

// HashSet is an unordered set of hashes.
type HashSet map[Hash]struct{}

// NewHashSet returns a set holding hashes.
func NewHashSet(hashes ...Hash) HashSet {
	out := make(HashSet, len(hashes))
	for _, h := range hashes {
		out.Insert(h)
	}
	return out
}

func (hs HashSet) Insert(h Hash) {
	hs[h] = struct{}{}
}

func (hs HashSet) Has(h Hash) bool {
	_, ok := hs[h]
	return ok
}

func (hs HashSet) Remove(h Hash) {
	delete(hs, h)
}

// Copy returns a new set with the same members.
func (hs HashSet) Copy() HashSet {
	cp := make(HashSet, len(hs))
	for h := range hs {
		cp.Insert(h)
	}
	return cp
}

// InsertAll adds every member of other to hs.
func (hs HashSet) InsertAll(other HashSet) {
	for h := range other {
		hs.Insert(h)
	}
}

// Sorted returns the members of hs in digest order.
func (hs HashSet) Sorted() HashSlice {
	out := make(HashSlice, 0, len(hs))
	for h := range hs {
		out = append(out, h)
	}
	sort.Sort(out)
	return out
}
