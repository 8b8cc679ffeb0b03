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

// Package transports defines the Transport contract for object stores and
// provides in-memory, LevelDB, HTTP and S3 implementations together with
// the algorithm that copies a subtree from one transport into another.
package transports

import (
	"context"

	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/martijn00/speckle-sharp/hash"
)

var (
	// ErrContentCollision is returned when different bytes are written
	// under an ID that is already occupied.
	ErrContentCollision = errors.NewKind("content collision: %s already holds different content in %s")

	// ErrTransientTransport wraps an I/O level failure of a transport
	// during a bulk copy.
	ErrTransientTransport = errors.NewKind("transport %s failed on %s")

	// ErrMissingObject is returned when the root of a copy does not exist
	// in the source transport.
	ErrMissingObject = errors.NewKind("object %s not found in %s")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.NewKind("transport %s is closed")
)

// Transport is an object store. Every method may be called concurrently.
type Transport interface {
	// Name identifies the transport in progress reports and errors.
	Name() string

	// GetObject returns the encoded object stored under h. An object that
	// is not present is reported with ok=false and a nil error.
	GetObject(ctx context.Context, h hash.Hash) (data []byte, ok bool, err error)

	// HasObjects returns the subset of hs that is not present.
	HasObjects(ctx context.Context, hs hash.HashSet) (absent hash.HashSet, err error)

	// WriteObject stores data under h. Writing identical bytes again is a
	// no-op; writing different bytes under an occupied ID fails with
	// ErrContentCollision. Writes may be asynchronous until WriteComplete.
	WriteObject(ctx context.Context, h hash.Hash, data []byte) error

	// CopyObjectAndChildren copies h and everything it references into
	// dest and returns the encoded root.
	CopyObjectAndChildren(ctx context.Context, h hash.Hash, dest Transport, opts CopyOptions) ([]byte, error)

	// WriteComplete blocks until every write issued before the call has
	// landed durably.
	WriteComplete(ctx context.Context) error

	Close() error
}

// BatchGetter is implemented by transports that can serve several objects
// in one round trip. found is called once for each object present; objects
// that are absent are simply not reported.
type BatchGetter interface {
	GetObjects(ctx context.Context, hs hash.HashSet, found func(h hash.Hash, data []byte)) error
}

// PendingGetter is implemented by local caches that park objects whose
// children have not all arrived. GetPending returns the parked bytes of
// the IDs in hs that are pending; visible and unknown IDs are left out.
type PendingGetter interface {
	GetPending(ctx context.Context, hs hash.HashSet) (map[hash.Hash][]byte, error)
}

// CopyOptions configure a single CopyObjectAndChildren call.
type CopyOptions struct {
	// OnTotalKnown is called once with the number of descendants of the
	// root, before any progress is reported.
	OnTotalKnown func(total int)

	// Sink receives progress and per object errors. It may be called from
	// several goroutines at once. May be nil.
	Sink Sink

	// Progress accumulates per transport progress. A new tracker is used
	// when nil.
	Progress *ProgressTracker

	// ContinueOnError skips objects that fail to transfer instead of
	// aborting the copy. Content collisions always abort.
	ContinueOnError bool

	// Concurrency is the number of concurrent fetch batches.
	Concurrency int

	// BatchSize is the maximum number of objects requested at once.
	BatchSize int
}

const (
	DefaultConcurrency = 4
	DefaultBatchSize   = 256
)

func (opts CopyOptions) withDefaults() CopyOptions {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Progress == nil {
		opts.Progress = NewProgressTracker()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return opts
}
