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
	"os"
	"sync"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/martijn00/speckle-sharp/enc"
	"github.com/martijn00/speckle-sharp/hash"
)

var (
	objectPrefix  = []byte("/object/")
	pendingPrefix = []byte("/pending/")
)

// DefaultFlushThreshold is the number of buffered bytes that triggers a
// flush of the write batch.
const DefaultFlushThreshold = 1 << 22 // 4MiB

func toKey(prefix []byte, h hash.Hash) []byte {
	key := make([]byte, 0, len(prefix)+hash.ByteLen)
	key = append(key, prefix...)
	return append(key, h[:]...)
}

// LevelDBTransport is the durable local cache. Objects are snappy
// compressed and kept under /object/<digest>; objects still waiting for
// children are kept under /pending/<digest> so that an interrupted copy
// can resume after a restart. Writes are buffered and flushed in one
// synced batch when the buffer grows past the flush threshold or on
// WriteComplete.
type LevelDBTransport struct {
	name string
	dir  string
	db   *leveldb.DB
	log  *logrus.Entry

	mu             sync.Mutex
	staged         *stager
	batch          *leveldb.Batch
	unflushed      map[hash.Hash][]byte
	bufferedBytes  int
	flushThreshold int
	validate       bool
	closed         bool
}

var _ Transport = (*LevelDBTransport)(nil)
var _ BatchGetter = (*LevelDBTransport)(nil)
var _ PendingGetter = (*LevelDBTransport)(nil)

// NewLevelDBTransport opens or creates the cache in dir.
func NewLevelDBTransport(dir string) (*LevelDBTransport, error) {
	if dir == "" {
		return nil, errors.New("transports: LevelDB directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "transports: creating %s", dir)
	}
	db, err := leveldb.OpenFile(dir, &opt.Options{
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10), // 10 bits/key
		WriteBuffer: 1 << 24,                   // 16MiB
	})
	if err != nil {
		return nil, errors.Wrapf(err, "transports: opening LevelDB at %s", dir)
	}

	t := &LevelDBTransport{
		name:           "leveldb:" + dir,
		dir:            dir,
		db:             db,
		staged:         newStager(),
		batch:          new(leveldb.Batch),
		unflushed:      map[hash.Hash][]byte{},
		flushThreshold: DefaultFlushThreshold,
	}
	t.log = logrus.WithField("transport", t.name)

	if err := t.loadPending(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// loadPending rebuilds the pending index from disk.
func (t *LevelDBTransport) loadPending() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	iter := t.db.NewIterator(util.BytesPrefix(pendingPrefix), nil)
	var loaded []object
	for iter.Next() {
		h := hash.New(iter.Key()[len(pendingPrefix):])
		data, err := snappy.Decode(nil, iter.Value())
		if err != nil {
			iter.Release()
			return errors.Wrapf(err, "transports: decoding pending object %s", h)
		}
		loaded = append(loaded, object{h, data})
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "transports: scanning pending objects")
	}

	for _, o := range loaded {
		if err := t.stage(o.h, o.data, true); err != nil {
			return err
		}
	}
	if len(loaded) > 0 {
		t.log.Debugf("transports/leveldb: resumed %d pending objects", len(loaded))
		return t.flushLocked()
	}
	return nil
}

// SetValidateContentAddresses makes WriteObject verify that data hashes to
// the ID it is written under.
func (t *LevelDBTransport) SetValidateContentAddresses(validate bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.validate = validate
}

// SetFlushThreshold sets the number of buffered bytes that triggers a
// flush.
func (t *LevelDBTransport) SetFlushThreshold(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushThreshold = n
}

func (t *LevelDBTransport) Name() string {
	return t.name
}

// Dir returns the directory of the cache.
func (t *LevelDBTransport) Dir() string {
	return t.dir
}

func (t *LevelDBTransport) GetObject(ctx context.Context, h hash.Hash) ([]byte, bool, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, false, ErrClosed.New(t.name)
	}
	if data, ok := t.unflushed[h]; ok {
		t.mu.Unlock()
		return data, true, nil
	}
	t.mu.Unlock()

	compressed, err := t.db.Get(toKey(objectPrefix, h), nil)
	if err == lderrors.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "transports: reading %s", h)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, errors.Wrapf(err, "transports: decompressing %s", h)
	}
	return data, true, nil
}

func (t *LevelDBTransport) GetObjects(ctx context.Context, hs hash.HashSet, found func(h hash.Hash, data []byte)) error {
	for _, h := range hs.Sorted() {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ok, err := t.GetObject(ctx, h)
		if err != nil {
			return err
		}
		if ok {
			found(h, data)
		}
	}
	return nil
}

func (t *LevelDBTransport) HasObjects(ctx context.Context, hs hash.HashSet) (hash.HashSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed.New(t.name)
	}
	absent := hash.HashSet{}
	for h := range hs {
		ok, err := t.visibleLocked(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			absent.Insert(h)
		}
	}
	return absent, nil
}

// GetPending serves parked objects from the in-memory index, which is
// rebuilt from /pending/ when the cache is opened.
func (t *LevelDBTransport) GetPending(ctx context.Context, hs hash.HashSet) (map[hash.Hash][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed.New(t.name)
	}
	return t.staged.getAll(hs), nil
}

func (t *LevelDBTransport) visibleLocked(h hash.Hash) (bool, error) {
	if _, ok := t.unflushed[h]; ok {
		return true, nil
	}
	// This isn't really a "read", so don't signal the cache to treat it as one.
	ok, err := t.db.Has(toKey(objectPrefix, h), &opt.ReadOptions{DontFillCache: true})
	if err != nil {
		return false, errors.Wrapf(err, "transports: checking %s", h)
	}
	return ok, nil
}

func (t *LevelDBTransport) existingLocked(h hash.Hash) ([]byte, bool, error) {
	if data, ok := t.unflushed[h]; ok {
		return data, true, nil
	}
	if data, ok := t.staged.get(h); ok {
		return data, true, nil
	}
	compressed, err := t.db.Get(toKey(objectPrefix, h), nil)
	if err == lderrors.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "transports: reading %s", h)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, errors.Wrapf(err, "transports: decompressing %s", h)
	}
	return data, true, nil
}

func (t *LevelDBTransport) WriteObject(ctx context.Context, h hash.Hash, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed.New(t.name)
	}

	existing, ok, err := t.existingLocked(h)
	if err != nil {
		return err
	}
	if ok {
		if !bytes.Equal(existing, data) {
			return ErrContentCollision.New(h, t.name)
		}
		return nil
	}

	if t.validate {
		if err := enc.VerifyEnvelope(h, data); err != nil {
			return err
		}
	}
	if err := t.stage(h, append([]byte(nil), data...), false); err != nil {
		return err
	}
	if t.bufferedBytes >= t.flushThreshold {
		return t.flushLocked()
	}
	return nil
}

// stage makes h visible when all of its children are, and parks it
// otherwise. reload is set when h is already persisted as pending.
func (t *LevelDBTransport) stage(h hash.Hash, data []byte, reload bool) error {
	refs, err := enc.Refs(data)
	if err != nil {
		return err
	}
	missing := hash.HashSet{}
	for child := range refs {
		ok, err := t.visibleLocked(child)
		if err != nil {
			return err
		}
		if !ok {
			missing.Insert(child)
		}
	}

	if len(missing) > 0 {
		t.staged.park(h, data, missing)
		if !reload {
			compressed := snappy.Encode(nil, data)
			t.batch.Put(toKey(pendingPrefix, h), compressed)
			t.bufferedBytes += len(compressed)
		}
		return nil
	}

	if reload {
		t.batch.Delete(toKey(pendingPrefix, h))
	}
	t.makeVisible(h, data)
	for _, o := range t.staged.arrived(h) {
		t.batch.Delete(toKey(pendingPrefix, o.h))
		t.makeVisible(o.h, o.data)
	}
	return nil
}

func (t *LevelDBTransport) makeVisible(h hash.Hash, data []byte) {
	compressed := snappy.Encode(nil, data)
	t.batch.Put(toKey(objectPrefix, h), compressed)
	t.unflushed[h] = data
	t.bufferedBytes += len(compressed)
}

func (t *LevelDBTransport) flushLocked() error {
	if t.batch.Len() == 0 {
		return nil
	}
	// Sync: true write option should fsync memtable data to disk
	if err := t.db.Write(t.batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "transports: flushing write batch")
	}
	t.log.Tracef("transports/leveldb: flushed %d records, %d bytes", t.batch.Len(), t.bufferedBytes)
	t.batch.Reset()
	t.unflushed = map[hash.Hash][]byte{}
	t.bufferedBytes = 0
	return nil
}

func (t *LevelDBTransport) CopyObjectAndChildren(ctx context.Context, h hash.Hash, dest Transport, opts CopyOptions) ([]byte, error) {
	return Pull(ctx, t, h, dest, opts)
}

// WriteComplete flushes buffered writes to disk.
func (t *LevelDBTransport) WriteComplete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed.New(t.name)
	}
	return t.flushLocked()
}

// PendingLen returns the number of objects waiting for children.
func (t *LevelDBTransport) PendingLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.staged.len()
}

// Close flushes buffered writes and closes the database.
func (t *LevelDBTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	flushErr := t.flushLocked()
	if err := t.db.Close(); err != nil {
		return errors.Wrapf(err, "transports: closing %s", t.dir)
	}
	return flushErr
}
