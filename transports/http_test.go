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

package transports_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn00/speckle-sharp/hash"
	"github.com/martijn00/speckle-sharp/remotesrv"
	"github.com/martijn00/speckle-sharp/transports"
	"github.com/martijn00/speckle-sharp/types"
)

func newRemote(t *testing.T, wrap func(http.Handler) http.Handler) (*transports.MemoryTransport, *transports.HTTPTransport) {
	store := transports.NewMemoryTransport("remote")
	var h http.Handler = remotesrv.NewServer(store, 0).Router()
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ht, err := transports.NewHTTPTransport(srv.URL, transports.HTTPOptions{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { ht.Close() })
	return store, ht
}

func building(floors int) *types.Node {
	levels := make(types.List, floors)
	for i := range levels {
		levels[i] = types.NewNode("Level").
			Set("elevation", types.Float(3*i)).
			SetDetached("slab", types.NewNode("Mesh").Set("area", types.Float(100+i)))
	}
	return types.NewNode("Building").SetDetached("levels", levels)
}

func TestHTTPTransportWriteAndRead(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store, ht := newRemote(t, nil)

	id, objects, err := types.Encode(building(3))
	require.NoError(t, err)
	for _, o := range objects {
		require.NoError(t, ht.WriteObject(ctx, o.ID, o.Data))
	}
	require.NoError(t, ht.WriteComplete(ctx))
	assert.Equal(len(objects), store.Len())

	data, ok, err := ht.GetObject(ctx, id)
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal(objects[len(objects)-1].Data, data)

	missing := hash.Of([]byte("missing"))
	_, ok, err = ht.GetObject(ctx, missing)
	require.NoError(t, err)
	assert.False(ok)

	absent, err := ht.HasObjects(ctx, hash.NewHashSet(id, objects[0].ID, missing))
	require.NoError(t, err)
	assert.Equal(hash.NewHashSet(missing), absent)

	got := map[hash.Hash][]byte{}
	err = ht.GetObjects(ctx, hash.NewHashSet(objects[0].ID, objects[1].ID, missing), func(h hash.Hash, data []byte) {
		got[h] = data
	})
	require.NoError(t, err)
	assert.Len(got, 2)
	assert.Equal(objects[1].Data, got[objects[1].ID])
}

func TestHTTPTransportCollision(t *testing.T) {
	ctx := context.Background()
	store, ht := newRemote(t, nil)

	_, objects, err := types.Encode(building(1))
	require.NoError(t, err)
	require.NoError(t, store.WriteObject(ctx, objects[0].ID, objects[0].Data))

	require.NoError(t, ht.WriteObject(ctx, objects[0].ID, objects[1].Data))
	err = ht.WriteComplete(ctx)
	assert.True(t, transports.ErrContentCollision.Is(err))
	assert.Contains(t, err.Error(), objects[0].ID.String())

	// The error is reported once.
	assert.NoError(t, ht.WriteComplete(ctx))
}

func failFirst(n int32, code int, calls *int32) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if atomic.AddInt32(calls, 1) <= n {
				http.Error(w, "unavailable", code)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func TestHTTPTransportRetriesServerErrors(t *testing.T) {
	ctx := context.Background()
	var calls int32
	store, ht := newRemote(t, failFirst(2, http.StatusServiceUnavailable, &calls))

	id, objects, err := types.Encode(building(0))
	require.NoError(t, err)
	require.NoError(t, store.WriteObject(ctx, id, objects[0].Data))

	data, ok, err := ht.GetObject(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, objects[0].Data, data)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPTransportGivesUpOnClientErrors(t *testing.T) {
	ctx := context.Background()
	var calls int32
	_, ht := newRemote(t, failFirst(10, http.StatusForbidden, &calls))

	_, _, err := ht.GetObject(ctx, hash.Of([]byte("x")))
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPTransportGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	var calls int32
	_, ht := newRemote(t, failFirst(100, http.StatusBadGateway, &calls))

	_, _, err := ht.GetObject(ctx, hash.Of([]byte("x")))
	assert.Error(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestHTTPTransportCopyIntoMemory(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store, ht := newRemote(t, nil)

	id, objects, err := types.Encode(building(5))
	require.NoError(t, err)
	for _, o := range objects {
		require.NoError(t, store.WriteObject(ctx, o.ID, o.Data))
	}

	local := transports.NewMemoryTransport("local")
	var total []int
	data, err := ht.CopyObjectAndChildren(ctx, id, local, transports.CopyOptions{
		OnTotalKnown: func(n int) { total = append(total, n) },
	})
	require.NoError(t, err)
	assert.Equal(objects[len(objects)-1].Data, data)
	assert.Equal([]int{len(objects) - 1}, total)
	assert.Equal(len(objects), local.Len())
	assert.Equal(0, local.PendingLen())
}

func newTransport(t *testing.T, h http.Handler) *transports.HTTPTransport {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	ht, err := transports.NewHTTPTransport(srv.URL, transports.HTTPOptions{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { ht.Close() })
	return ht
}

func TestHTTPTransportHasRejectsIncompleteAnswers(t *testing.T) {
	ctx := context.Background()
	a, b := hash.Of([]byte("a")), hash.Of([]byte("b"))

	empty := newTransport(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	_, err := empty.HasObjects(ctx, hash.NewHashSet(a))
	assert.Error(t, err)

	partial := newTransport(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "%s true\n", a)
	}))
	_, err = partial.HasObjects(ctx, hash.NewHashSet(a, b))
	assert.Error(t, err)

	unasked := newTransport(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "%s false\n%s false\n", a, b)
	}))
	_, err = unasked.HasObjects(ctx, hash.NewHashSet(a))
	assert.Error(t, err)
}

func TestHTTPTransportWriteAfterClose(t *testing.T) {
	ctx := context.Background()
	_, ht := newRemote(t, nil)
	require.NoError(t, ht.Close())

	_, objects, err := types.Encode(building(0))
	require.NoError(t, err)
	err = ht.WriteObject(ctx, objects[0].ID, objects[0].Data)
	assert.True(t, transports.ErrClosed.Is(err))
	assert.NoError(t, ht.Close())
}

func TestHTTPTransportWriteHonorsContextWhenQueueIsFull(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	ht := newTransport(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		<-release
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	var err error
	written := 0
	for i := 0; i < 10000 && err == nil; i++ {
		data := []byte(strconv.Itoa(i))
		if err = ht.WriteObject(ctx, hash.Of(data), data); err == nil {
			written++
		}
	}
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, written, 1<<12)

	once.Do(func() { close(release) })
	assert.NoError(t, ht.WriteComplete(context.Background()))
}

func TestHTTPTransportConcurrentWritesAndWriteComplete(t *testing.T) {
	ctx := context.Background()
	store, ht := newRemote(t, nil)

	_, objects, err := types.Encode(building(40))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(objects); i += 4 {
				assert.NoError(t, ht.WriteObject(ctx, objects[i].ID, objects[i].Data))
				if i%5 == 0 {
					assert.NoError(t, ht.WriteComplete(ctx))
				}
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, ht.WriteComplete(ctx))
	assert.Equal(t, len(objects), store.Len())
}
