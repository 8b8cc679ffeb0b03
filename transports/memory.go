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
	"bytes"
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/martijn00/speckle-sharp/enc"
	"github.com/martijn00/speckle-sharp/hash"
)

// MemoryTransport keeps objects in memory. Writes are synchronous. It
// enforces subtree completeness, so it can serve as a local cache.
type MemoryTransport struct {
	name string
	log  *logrus.Entry

	mu       sync.RWMutex
	objects  map[hash.Hash][]byte
	staged   *stager
	validate bool
	writes   int
	closed   bool
}

var _ Transport = (*MemoryTransport)(nil)
var _ BatchGetter = (*MemoryTransport)(nil)
var _ PendingGetter = (*MemoryTransport)(nil)

func NewMemoryTransport(name string) *MemoryTransport {
	return &MemoryTransport{
		name:    name,
		log:     logrus.WithField("transport", name),
		objects: map[hash.Hash][]byte{},
		staged:  newStager(),
	}
}

// SetValidateContentAddresses makes WriteObject verify that data hashes to
// the ID it is written under.
func (m *MemoryTransport) SetValidateContentAddresses(validate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validate = validate
}

func (m *MemoryTransport) Name() string {
	return m.name
}

func (m *MemoryTransport) GetObject(ctx context.Context, h hash.Hash) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed.New(m.name)
	}
	data, ok := m.objects[h]
	return data, ok, nil
}

func (m *MemoryTransport) GetObjects(ctx context.Context, hs hash.HashSet, found func(h hash.Hash, data []byte)) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed.New(m.name)
	}
	var hits []object
	for h := range hs {
		if data, ok := m.objects[h]; ok {
			hits = append(hits, object{h, data})
		}
	}
	m.mu.RUnlock()

	for _, o := range hits {
		found(o.h, o.data)
	}
	return nil
}

func (m *MemoryTransport) HasObjects(ctx context.Context, hs hash.HashSet) (hash.HashSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed.New(m.name)
	}
	absent := hash.HashSet{}
	for h := range hs {
		if _, ok := m.objects[h]; !ok {
			absent.Insert(h)
		}
	}
	return absent, nil
}

func (m *MemoryTransport) GetPending(ctx context.Context, hs hash.HashSet) (map[hash.Hash][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed.New(m.name)
	}
	return m.staged.getAll(hs), nil
}

func (m *MemoryTransport) WriteObject(ctx context.Context, h hash.Hash, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed.New(m.name)
	}

	existing, ok := m.objects[h]
	if !ok {
		existing, ok = m.staged.get(h)
	}
	if ok {
		if !bytes.Equal(existing, data) {
			return ErrContentCollision.New(h, m.name)
		}
		return nil
	}

	if m.validate {
		if err := enc.VerifyEnvelope(h, data); err != nil {
			return err
		}
	}
	refs, err := enc.Refs(data)
	if err != nil {
		return err
	}

	data = append([]byte(nil), data...)
	m.writes++
	missing := hash.HashSet{}
	for child := range refs {
		if _, ok := m.objects[child]; !ok {
			missing.Insert(child)
		}
	}
	if len(missing) > 0 {
		m.log.Tracef("transports/memory: parking %s until %d children arrive", h, len(missing))
		m.staged.park(h, data, missing)
		return nil
	}

	m.objects[h] = data
	for _, o := range m.staged.arrived(h) {
		m.objects[o.h] = o.data
	}
	return nil
}

func (m *MemoryTransport) CopyObjectAndChildren(ctx context.Context, h hash.Hash, dest Transport, opts CopyOptions) ([]byte, error) {
	return Pull(ctx, m, h, dest, opts)
}

// WriteComplete is a no-op; writes land synchronously.
func (m *MemoryTransport) WriteComplete(ctx context.Context) error {
	return nil
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of visible objects.
func (m *MemoryTransport) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// PendingLen returns the number of objects waiting for children.
func (m *MemoryTransport) PendingLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.staged.len()
}

// Writes returns the number of objects accepted that were not already
// stored.
func (m *MemoryTransport) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
