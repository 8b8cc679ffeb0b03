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

// Package operations moves whole object graphs between an author and the
// transports: Send stores a graph, Receive materializes one.
package operations

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	goerrors "gopkg.in/src-d/go-errors.v1"

	"github.com/martijn00/speckle-sharp/config"
	"github.com/martijn00/speckle-sharp/enc"
	"github.com/martijn00/speckle-sharp/hash"
	"github.com/martijn00/speckle-sharp/transports"
	"github.com/martijn00/speckle-sharp/types"
)

var (
	// ErrMissingObject is returned when the root is neither in the local
	// cache nor reachable through a remote.
	ErrMissingObject = transports.ErrMissingObject

	// ErrOperationCanceled is returned when the context ends an operation.
	// Objects already copied stay in the local cache.
	ErrOperationCanceled = goerrors.NewKind("operation on %s canceled")
)

// IsCanceled reports whether err is a cancellation outcome rather than a
// failure.
func IsCanceled(err error) bool {
	return ErrOperationCanceled.Is(err) || err == context.Canceled || err == context.DeadlineExceeded
}

// State is a step of Receive.
type State int

const (
	ProbeLocal State = iota
	LocalHit
	RequireRemote
	BulkCopy
	Barrier
	Decode
	Completed
	Failed
)

var stateNames = map[State]string{
	ProbeLocal:    "ProbeLocal",
	LocalHit:      "LocalHit",
	RequireRemote: "RequireRemote",
	BulkCopy:      "BulkCopy",
	Barrier:       "Barrier",
	Decode:        "Decode",
	Completed:     "Completed",
	Failed:        "Failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// ReceiveOptions carry everything a Receive reports to or is tuned by.
type ReceiveOptions struct {
	// Sink receives progress from the copy and decode phases and per
	// object errors.
	Sink transports.Sink

	// OnTotalKnown is called exactly once with the size of the root's
	// closure, before any progress is reported.
	OnTotalKnown func(total int)

	// OnState observes every state transition.
	OnState func(State)

	// CacheDir is where the default local cache is opened when no local
	// transport is given. Empty means config.DefaultCacheDir().
	CacheDir string

	ContinueOnError bool
	Concurrency     int
	BatchSize       int

	Logger *logrus.Entry
}

func (opts ReceiveOptions) withDefaults() ReceiveOptions {
	if opts.Sink == nil {
		opts.Sink = transports.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.CacheDir == "" {
		opts.CacheDir = config.DefaultCacheDir()
	}
	return opts
}

// Receive returns the graph rooted at id. The local transport is probed
// first; a local hit is trusted to be complete since transports only
// expose objects whose subtrees they hold. On a miss the subtree is copied
// from remote into local, local is barriered, and the graph is decoded
// from local.
//
// remote may be nil, in which case a local miss fails with
// ErrMissingObject. A nil local opens the LevelDB cache in
// opts.CacheDir for the duration of the call.
func Receive(ctx context.Context, id hash.Hash, remote, local transports.Transport, opts ReceiveOptions) (root *types.Node, err error) {
	opts = opts.withDefaults()

	if local == nil {
		cache, oerr := transports.NewLevelDBTransport(opts.CacheDir)
		if oerr != nil {
			return nil, oerr
		}
		defer func() {
			if cerr := cache.Close(); err == nil && cerr != nil {
				root, err = nil, cerr
			}
		}()
		local = cache
	}

	log := opts.Logger.WithFields(logrus.Fields{
		"component": "receive",
		"root":      id.String(),
		"session":   uuid.New().String(),
	})
	r := &receiver{
		id:      id,
		remote:  remote,
		local:   local,
		opts:    opts,
		tracker: transports.NewProgressTracker(),
		log:     log,
	}
	return r.run(ctx)
}

type receiver struct {
	id      hash.Hash
	remote  transports.Transport
	local   transports.Transport
	opts    ReceiveOptions
	tracker *transports.ProgressTracker
	log     *logrus.Entry
	state   State
}

func (r *receiver) enter(s State) {
	r.state = s
	r.log.Debugf("operations/receive: %s", s)
	if r.opts.OnState != nil {
		r.opts.OnState(s)
	}
}

func (r *receiver) run(ctx context.Context) (*types.Node, error) {
	root, err := r.receive(ctx)
	if err != nil {
		if IsCanceled(err) {
			r.log.Infof("operations/receive: canceled in %s", r.state)
		} else {
			r.log.Warnf("operations/receive: failed in %s: %v", r.state, err)
		}
		r.enter(Failed)
		return nil, err
	}
	r.enter(Completed)
	return root, nil
}

func (r *receiver) receive(ctx context.Context) (*types.Node, error) {
	r.enter(ProbeLocal)
	data, ok, err := r.local.GetObject(ctx, r.id)
	if err != nil {
		return nil, r.transportError(ctx, r.local, err)
	}

	if ok {
		r.enter(LocalHit)
		closure, err := enc.ReadClosure(data)
		if err != nil {
			r.opts.Sink.RecordError(r.id.String(), err)
			return nil, err
		}
		if r.opts.OnTotalKnown != nil {
			r.opts.OnTotalKnown(len(closure))
		}
		return r.decode(ctx)
	}

	r.enter(RequireRemote)
	if r.remote == nil {
		err := ErrMissingObject.New(r.id, r.local.Name())
		r.opts.Sink.RecordError(r.id.String(), err)
		return nil, err
	}

	r.enter(BulkCopy)
	r.log.Infof("operations/receive: copying from %s into %s", r.remote.Name(), r.local.Name())
	_, err = r.remote.CopyObjectAndChildren(ctx, r.id, r.local, transports.CopyOptions{
		OnTotalKnown:    r.opts.OnTotalKnown,
		Sink:            r.opts.Sink,
		Progress:        r.tracker,
		ContinueOnError: r.opts.ContinueOnError,
		Concurrency:     r.opts.Concurrency,
		BatchSize:       r.opts.BatchSize,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Keep whatever was copied so the next Receive resumes from it.
			if berr := r.local.WriteComplete(context.WithoutCancel(ctx)); berr != nil {
				r.log.Warnf("operations/receive: retaining partial copy: %v", berr)
			}
			return nil, ErrOperationCanceled.Wrap(ctx.Err(), r.id)
		}
		return nil, err
	}

	r.enter(Barrier)
	if err := r.local.WriteComplete(ctx); err != nil {
		return nil, r.transportError(ctx, r.local, err)
	}
	return r.decode(ctx)
}

func (r *receiver) decode(ctx context.Context) (*types.Node, error) {
	r.enter(Decode)
	name := r.local.Name()
	root, err := types.Decode(ctx, r.id, r.local, types.DecodeOptions{
		OnNode: func(h hash.Hash) {
			r.opts.Sink.RecordProgress(r.tracker.Record(name, h))
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrOperationCanceled.Wrap(ctx.Err(), r.id)
		}
		r.opts.Sink.RecordError(r.id.String(), err)
		return nil, err
	}
	return root, nil
}

func (r *receiver) transportError(ctx context.Context, t transports.Transport, err error) error {
	if ctx.Err() != nil {
		return ErrOperationCanceled.Wrap(ctx.Err(), r.id)
	}
	r.opts.Sink.RecordError(r.id.String(), err)
	if transports.ErrContentCollision.Is(err) || transports.ErrTransientTransport.Is(err) {
		return err
	}
	return transports.ErrTransientTransport.Wrap(err, t.Name(), r.id)
}
