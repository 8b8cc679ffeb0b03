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
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/martijn00/speckle-sharp/enc"
	"github.com/martijn00/speckle-sharp/hash"
)

// Pull copies the object h and everything reachable from it from src into
// dest and returns the encoded root. It is the implementation behind every
// CopyObjectAndChildren.
//
// The root's closure is read first to report the total number of
// descendants. The graph is then walked one level at a time: objects dest
// already exposes are skipped together with their subtrees, and the rest
// are fetched in batches by a bounded number of workers. Cancellation is
// checked before each object is started; objects already copied stay in
// dest, so a later Pull of the same root resumes where this one stopped.
// When dest is a PendingGetter, objects it parked during an earlier copy
// are not fetched again; their children are walked from the parked bytes.
func Pull(ctx context.Context, src Transport, h hash.Hash, dest Transport, opts CopyOptions) ([]byte, error) {
	opts = opts.withDefaults()
	p := &puller{
		src:  src,
		dest: dest,
		opts: opts,
		log: logrus.WithFields(logrus.Fields{
			"src":  src.Name(),
			"dest": dest.Name(),
			"root": h.String(),
		}),
		downloaded: hash.HashSet{},
	}
	return p.pull(ctx, h)
}

type puller struct {
	src, dest Transport
	opts      CopyOptions
	log       *logrus.Entry

	mu         sync.Mutex
	downloaded hash.HashSet
	next       hash.HashSet
	copied     int
	failed     int
}

func (p *puller) pull(ctx context.Context, h hash.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ok, err := p.src.GetObject(ctx, h)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.opts.Sink.RecordError(h.String(), err)
		return nil, ErrTransientTransport.Wrap(err, p.src.Name(), h)
	}
	if !ok {
		return nil, ErrMissingObject.New(h, p.src.Name())
	}

	closure, err := enc.ReadClosure(data)
	if err != nil {
		p.opts.Sink.RecordError(h.String(), err)
		return nil, err
	}
	if p.opts.OnTotalKnown != nil {
		p.opts.OnTotalKnown(len(closure))
	}

	absent, err := p.dest.HasObjects(ctx, hash.NewHashSet(h))
	if err != nil {
		return nil, p.abort(ctx, h, p.dest, err)
	}
	if len(absent) == 0 {
		p.log.Debug("transports/pull: root already present in destination")
		return data, nil
	}

	p.downloaded.Insert(h)
	p.next = hash.HashSet{}
	if err := p.store(ctx, h, data); err != nil {
		return nil, p.abort(ctx, h, p.dest, err)
	}

	level := p.next
	for depth := 1; len(level) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.log.Tracef("transports/pull: level %d has %d objects", depth, len(level))
		level, err = p.pullLevel(ctx, level)
		if err != nil {
			return nil, err
		}
	}

	p.log.Debugf("transports/pull: copied %d objects, %d failed", p.copied, p.failed)
	return data, nil
}

// pullLevel copies the objects of one level that dest does not have and
// returns the children of the copied objects.
func (p *puller) pullLevel(ctx context.Context, level hash.HashSet) (hash.HashSet, error) {
	absent, err := p.dest.HasObjects(ctx, level)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTransientTransport.Wrap(err, p.dest.Name(), "has")
	}

	p.next = hash.HashSet{}
	absent, err = p.expandPending(ctx, absent)
	if err != nil {
		return nil, err
	}
	batches := p.batches(absent)

	eg, egCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(p.opts.Concurrency))
	for _, batch := range batches {
		if err := sem.Acquire(egCtx, 1); err != nil {
			break
		}
		batch := batch
		eg.Go(func() error {
			defer sem.Release(1)
			return p.pullBatch(egCtx, batch)
		})
	}
	err = eg.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return p.next, nil
}

// expandPending queues the children of the objects in absent that dest
// already holds as pending, and returns the objects that still have to be
// fetched. Parked bytes that do not hash to their ID are fetched again so
// that the write reports the collision.
func (p *puller) expandPending(ctx context.Context, absent hash.HashSet) (hash.HashSet, error) {
	pg, ok := p.dest.(PendingGetter)
	if !ok || len(absent) == 0 {
		return absent, nil
	}
	parked, err := pg.GetPending(ctx, absent)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTransientTransport.Wrap(err, p.dest.Name(), "pending")
	}
	if len(parked) == 0 {
		return absent, nil
	}

	rest := hash.HashSet{}
	resumed := 0
	for h := range absent {
		data, ok := parked[h]
		if !ok || p.downloaded.Has(h) {
			rest.Insert(h)
			continue
		}
		if err := enc.VerifyEnvelope(h, data); err != nil {
			p.log.Warnf("transports/pull: refetching pending %s: %v", h, err)
			rest.Insert(h)
			continue
		}
		refs, err := enc.Refs(data)
		if err != nil {
			rest.Insert(h)
			continue
		}
		p.downloaded.Insert(h)
		p.next.InsertAll(refs)
		resumed++
	}
	p.log.Tracef("transports/pull: resumed %d pending objects without fetching", resumed)
	return rest, nil
}

func (p *puller) batches(absent hash.HashSet) []hash.HashSlice {
	var batches []hash.HashSlice
	var cur hash.HashSlice
	for _, h := range absent.Sorted() {
		if p.downloaded.Has(h) {
			continue
		}
		p.downloaded.Insert(h)
		cur = append(cur, h)
		if len(cur) == p.opts.BatchSize {
			batches = append(batches, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func (p *puller) pullBatch(ctx context.Context, batch hash.HashSlice) error {
	if bg, ok := p.src.(BatchGetter); ok && len(batch) > 1 {
		return p.pullBatchGetter(ctx, bg, batch)
	}

	for _, h := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ok, err := p.src.GetObject(ctx, h)
		if err != nil {
			if err := p.fail(ctx, h, p.src, err); err != nil {
				return err
			}
			continue
		}
		if !ok {
			if err := p.fail(ctx, h, p.src, ErrMissingObject.New(h, p.src.Name())); err != nil {
				return err
			}
			continue
		}
		if err := p.storeOrFail(ctx, h, data); err != nil {
			return err
		}
	}
	return nil
}

func (p *puller) pullBatchGetter(ctx context.Context, bg BatchGetter, batch hash.HashSlice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	found := make(map[hash.Hash][]byte, len(batch))
	var fmu sync.Mutex
	err := bg.GetObjects(ctx, batch.HashSet(), func(h hash.Hash, data []byte) {
		fmu.Lock()
		defer fmu.Unlock()
		found[h] = data
	})
	if err != nil {
		for _, h := range batch {
			if err := p.fail(ctx, h, p.src, err); err != nil {
				return err
			}
		}
		return nil
	}

	for _, h := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ok := found[h]
		if !ok {
			if err := p.fail(ctx, h, p.src, ErrMissingObject.New(h, p.src.Name())); err != nil {
				return err
			}
			continue
		}
		if err := p.storeOrFail(ctx, h, data); err != nil {
			return err
		}
	}
	return nil
}

func (p *puller) storeOrFail(ctx context.Context, h hash.Hash, data []byte) error {
	if err := p.store(ctx, h, data); err != nil {
		return p.fail(ctx, h, p.dest, err)
	}
	return nil
}

// store writes one object to dest, records progress and queues its
// children for the next level.
func (p *puller) store(ctx context.Context, h hash.Hash, data []byte) error {
	refs, err := enc.Refs(data)
	if err != nil {
		return err
	}
	if err := p.dest.WriteObject(ctx, h, data); err != nil {
		return err
	}

	p.mu.Lock()
	p.copied++
	p.next.InsertAll(refs)
	p.mu.Unlock()

	p.opts.Sink.RecordProgress(p.opts.Progress.Record(p.src.Name(), h))
	return nil
}

// fail reports a per object failure. It returns nil when the copy should
// go on without the object.
func (p *puller) fail(ctx context.Context, h hash.Hash, t Transport, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.opts.Sink.RecordError(h.String(), err)
	if ErrContentCollision.Is(err) {
		return err
	}
	if p.opts.ContinueOnError {
		p.log.Warnf("transports/pull: skipping %s: %v", h, err)
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		return nil
	}
	return ErrTransientTransport.Wrap(err, t.Name(), h)
}

// abort handles failures that leave nothing to continue with.
func (p *puller) abort(ctx context.Context, h hash.Hash, t Transport, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.opts.Sink.RecordError(h.String(), err)
	if ErrContentCollision.Is(err) {
		return err
	}
	return ErrTransientTransport.Wrap(err, t.Name(), h)
}
