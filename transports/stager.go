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

package transports

import (
	"github.com/martijn00/speckle-sharp/hash"
)

// A local cache must never expose an object whose subtree is incomplete:
// when GetObject(h) succeeds, every object reachable from h must be
// retrievable as well. Objects may still be written in any order, so an
// object arriving before all of its children is parked in a pending area
// where it is invisible. The arrival of the last missing child promotes
// the parent, which in turn may promote its own pending parents.

type object struct {
	h    hash.Hash
	data []byte
}

type pendingObject struct {
	data    []byte
	missing hash.HashSet
}

// stager tracks pending objects. It is not safe for concurrent use; the
// owning transport serializes access.
type stager struct {
	pending map[hash.Hash]*pendingObject

	// waiters maps a missing child to the pending parents waiting for it.
	waiters map[hash.Hash]hash.HashSet
}

func newStager() *stager {
	return &stager{
		pending: map[hash.Hash]*pendingObject{},
		waiters: map[hash.Hash]hash.HashSet{},
	}
}

func (s *stager) get(h hash.Hash) ([]byte, bool) {
	po, ok := s.pending[h]
	if !ok {
		return nil, false
	}
	return po.data, true
}

func (s *stager) getAll(hs hash.HashSet) map[hash.Hash][]byte {
	found := map[hash.Hash][]byte{}
	for h := range hs {
		if po, ok := s.pending[h]; ok {
			found[h] = po.data
		}
	}
	return found
}

// park holds h until every ID in missing has arrived.
func (s *stager) park(h hash.Hash, data []byte, missing hash.HashSet) {
	s.pending[h] = &pendingObject{data: data, missing: missing}
	for child := range missing {
		w, ok := s.waiters[child]
		if !ok {
			w = hash.HashSet{}
			s.waiters[child] = w
		}
		w.Insert(h)
	}
}

// arrived records that h became visible and returns the pending objects
// that became complete as a result, in the order they must be made visible.
func (s *stager) arrived(h hash.Hash) []object {
	var promoted []object
	queue := []hash.Hash{h}
	for len(queue) > 0 {
		child := queue[0]
		queue = queue[1:]
		parents := s.waiters[child]
		delete(s.waiters, child)
		for _, parent := range parents.Sorted() {
			po, ok := s.pending[parent]
			if !ok {
				continue
			}
			po.missing.Remove(child)
			if len(po.missing) == 0 {
				delete(s.pending, parent)
				promoted = append(promoted, object{parent, po.data})
				queue = append(queue, parent)
			}
		}
	}
	return promoted
}

func (s *stager) len() int {
	return len(s.pending)
}
