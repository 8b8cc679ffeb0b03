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

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/martijn00/speckle-sharp/transports"
)

const (
	clearLine  = "\x1b[2K\r"
	statusRate = 100 * time.Millisecond
)

// status prints a single console line, overwriting the previous one at
// most every statusRate.
type status struct {
	mu         sync.Mutex
	w          io.Writer
	lastTime   time.Time
	lastFormat string
	lastArgs   []interface{}
	printed    bool
}

func newStatus(w io.Writer) *status {
	return &status{w: w}
}

func (s *status) Printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.Sub(s.lastTime) < statusRate {
		s.lastFormat, s.lastArgs = format, args
		return
	}
	fmt.Fprintf(s.w, clearLine+format, args...)
	s.printed = true
	s.reset(now)
}

// Done flushes the pending line, if any, and ends it.
func (s *status) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastArgs != nil {
		fmt.Fprintf(s.w, clearLine+s.lastFormat, s.lastArgs...)
		s.printed = true
	}
	if s.printed {
		fmt.Fprintln(s.w)
	}
	s.printed = false
	s.reset(time.Time{})
}

func (s *status) reset(t time.Time) {
	s.lastTime = t
	s.lastFormat, s.lastArgs = "", nil
}

// progressSink prints transfer progress and logs per object errors.
type progressSink struct {
	env   *environment
	verb  string
	start time.Time

	mu    sync.Mutex
	total int
	errs  int
}

func newProgressSink(env *environment, verb string) *progressSink {
	return &progressSink{env: env, verb: verb, start: time.Now(), total: -1}
}

func (ps *progressSink) onTotalKnown(total int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.total = total
}

func (ps *progressSink) RecordProgress(report transports.ProgressReport) {
	ps.mu.Lock()
	total, errs := ps.total, ps.errs
	ps.mu.Unlock()

	names := make([]string, 0, len(report))
	for name := range report {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s %s", name, humanize.Comma(int64(report[name])))
	}

	elapsed := time.Since(ps.start)
	line := fmt.Sprintf("%s: %s", ps.verb, strings.Join(parts, ", "))
	if total >= 0 {
		line += fmt.Sprintf(" of %s children", humanize.Comma(int64(total)))
	}
	if errs > 0 {
		line += fmt.Sprintf(", %d failed", errs)
	}
	ps.env.status.Printf("%s (%s)", line, elapsed.Round(time.Millisecond))
}

func (ps *progressSink) RecordError(id string, err error) {
	ps.mu.Lock()
	ps.errs++
	ps.mu.Unlock()
	ps.env.log.WithField("object", id).Warnf("speckle: %v", err)
}
