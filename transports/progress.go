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
	"sync"

	"github.com/martijn00/speckle-sharp/hash"
)

// ProgressReport maps a transport name to the number of distinct objects
// it has processed.
type ProgressReport map[string]int

// Sink receives progress reports and per object errors. Reporting an error
// does not abort anything; whether to continue is decided by the caller.
type Sink interface {
	RecordProgress(report ProgressReport)
	RecordError(id string, err error)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordProgress(ProgressReport) {}
func (NopSink) RecordError(string, error)     {}

// SinkFuncs adapts a pair of functions to Sink. Either may be nil.
type SinkFuncs struct {
	Progress func(report ProgressReport)
	Error    func(id string, err error)
}

func (s SinkFuncs) RecordProgress(report ProgressReport) {
	if s.Progress != nil {
		s.Progress(report)
	}
}

func (s SinkFuncs) RecordError(id string, err error) {
	if s.Error != nil {
		s.Error(id, err)
	}
}

// ProgressTracker counts processed objects per transport. Objects are
// keyed by ID, so reporting the same object twice, e.g. after a retry,
// does not change the count.
type ProgressTracker struct {
	mu   sync.Mutex
	seen map[string]hash.HashSet
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{seen: map[string]hash.HashSet{}}
}

// Record marks h as processed by the named transport and returns a snapshot
// of all counts.
func (pt *ProgressTracker) Record(name string, h hash.Hash) ProgressReport {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	s, ok := pt.seen[name]
	if !ok {
		s = hash.HashSet{}
		pt.seen[name] = s
	}
	s.Insert(h)
	return pt.snapshot()
}

// Count returns the number of objects recorded for the named transport.
func (pt *ProgressTracker) Count(name string) int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return len(pt.seen[name])
}

// Snapshot returns the current counts.
func (pt *ProgressTracker) Snapshot() ProgressReport {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.snapshot()
}

func (pt *ProgressTracker) snapshot() ProgressReport {
	report := make(ProgressReport, len(pt.seen))
	for name, s := range pt.seen {
		report[name] = len(s)
	}
	return report
}
