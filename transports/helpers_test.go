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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/martijn00/speckle-sharp/hash"
	"github.com/martijn00/speckle-sharp/types"
)

// fanout builds a root with n detached leaf children.
func fanout(n int) *types.Node {
	kids := make(types.List, n)
	for i := range kids {
		kids[i] = types.NewNode("leaf").Set("i", types.Int(i))
	}
	return types.NewNode("root").SetDetached("kids", kids)
}

// chain builds a list of n nodes each detaching the next.
func chain(n int) *types.Node {
	var cur *types.Node
	for i := 0; i < n; i++ {
		next := types.NewNode("link").Set("i", types.Int(i))
		if cur != nil {
			next.SetDetached("next", cur)
		}
		cur = next
	}
	return cur
}

func encode(t *testing.T, n *types.Node) (hash.Hash, []types.Object) {
	id, objects, err := types.Encode(n)
	require.NoError(t, err)
	return id, objects
}

func writeAll(t *testing.T, tr Transport, objects []types.Object) {
	ctx := context.Background()
	for _, o := range objects {
		require.NoError(t, tr.WriteObject(ctx, o.ID, o.Data))
	}
	require.NoError(t, tr.WriteComplete(ctx))
}

// recordingSink records every call it receives.
type recordingSink struct {
	mu       sync.Mutex
	calls    []string
	reports  []ProgressReport
	errs     map[string]error
	onReport func(ProgressReport)
}

func newRecordingSink() *recordingSink {
	return &recordingSink{errs: map[string]error{}}
}

func (s *recordingSink) RecordProgress(report ProgressReport) {
	s.mu.Lock()
	s.calls = append(s.calls, "progress")
	s.reports = append(s.reports, report)
	cb := s.onReport
	s.mu.Unlock()
	if cb != nil {
		cb(report)
	}
}

func (s *recordingSink) RecordError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("error %s", id))
	s.errs[id] = err
}

func (s *recordingSink) total() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// flakyTransport fails GetObject for selected IDs.
type flakyTransport struct {
	*MemoryTransport
	fail hash.HashSet
}

func (f *flakyTransport) GetObject(ctx context.Context, h hash.Hash) ([]byte, bool, error) {
	if f.fail.Has(h) {
		return nil, false, fmt.Errorf("connection reset fetching %s", h)
	}
	return f.MemoryTransport.GetObject(ctx, h)
}

// GetObjects leaves failing IDs out of the response.
func (f *flakyTransport) GetObjects(ctx context.Context, hs hash.HashSet, found func(h hash.Hash, data []byte)) error {
	return f.MemoryTransport.GetObjects(ctx, hs, func(h hash.Hash, data []byte) {
		if !f.fail.Has(h) {
			found(h, data)
		}
	})
}

func (f *flakyTransport) CopyObjectAndChildren(ctx context.Context, h hash.Hash, dest Transport, opts CopyOptions) ([]byte, error) {
	return Pull(ctx, f, h, dest, opts)
}

// countingTransport counts the objects it serves.
type countingTransport struct {
	*MemoryTransport
	served int64
}

func (c *countingTransport) GetObject(ctx context.Context, h hash.Hash) ([]byte, bool, error) {
	data, ok, err := c.MemoryTransport.GetObject(ctx, h)
	if ok {
		atomic.AddInt64(&c.served, 1)
	}
	return data, ok, err
}

func (c *countingTransport) GetObjects(ctx context.Context, hs hash.HashSet, found func(h hash.Hash, data []byte)) error {
	return c.MemoryTransport.GetObjects(ctx, hs, func(h hash.Hash, data []byte) {
		atomic.AddInt64(&c.served, 1)
		found(h, data)
	})
}

func (c *countingTransport) CopyObjectAndChildren(ctx context.Context, h hash.Hash, dest Transport, opts CopyOptions) ([]byte, error) {
	return Pull(ctx, c, h, dest, opts)
}

func (c *countingTransport) Served() int {
	return int(atomic.LoadInt64(&c.served))
}

// cancelAfter returns a sink that cancels once n objects from name have
// been copied.
func cancelAfter(name string, n int, cancel context.CancelFunc) *recordingSink {
	sink := newRecordingSink()
	sink.onReport = func(r ProgressReport) {
		if r[name] >= n {
			cancel()
		}
	}
	return sink
}
