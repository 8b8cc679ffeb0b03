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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/martijn00/speckle-sharp/hash"
)

func TestProgressTrackerIsIdempotent(t *testing.T) {
	assert := assert.New(t)

	pt := NewProgressTracker()
	a := hash.Of([]byte("a"))
	b := hash.Of([]byte("b"))

	assert.Equal(ProgressReport{"remote": 1}, pt.Record("remote", a))
	assert.Equal(ProgressReport{"remote": 1}, pt.Record("remote", a))
	assert.Equal(ProgressReport{"remote": 2}, pt.Record("remote", b))
	assert.Equal(ProgressReport{"remote": 2, "local": 1}, pt.Record("local", a))
	assert.Equal(2, pt.Count("remote"))
	assert.Equal(0, pt.Count("other"))

	snap := pt.Snapshot()
	snap["remote"] = 100
	assert.Equal(2, pt.Count("remote"), "snapshots are copies")
}

func TestSinkFuncs(t *testing.T) {
	var got []string
	s := SinkFuncs{
		Error: func(id string, err error) { got = append(got, id) },
	}
	s.RecordProgress(ProgressReport{"x": 1})
	s.RecordError("abc", assert.AnError)
	assert.Equal(t, []string{"abc"}, got)

	NopSink{}.RecordProgress(nil)
	NopSink{}.RecordError("", nil)
}
