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

package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/martijn00/speckle-sharp/hash"
)

func TestValueEquals(t *testing.T) {
	assert := assert.New(t)

	values := []func() Value{
		func() Value { return Null{} },
		func() Value { return Bool(false) },
		func() Value { return Bool(true) },
		func() Value { return Int(0) },
		func() Value { return Int(1) },
		func() Value { return Int(-1) },
		func() Value { return Float(0.5) },
		func() Value { return Float(math.NaN()) },
		func() Value { return String("") },
		func() Value { return String("hi") },
		func() Value { return Bytes{1, 2} },
		func() Value { return List{} },
		func() Value { return List{Int(1)} },
		func() Value { return Ref{hash.Of([]byte("a"))} },
		func() Value { return NewNode("a") },
		func() Value { return NewNode("a").Set("x", Int(1)) },
		func() Value { return NewNode("a").SetDetached("x", Int(1)) },
		func() Value { return Opaque{map[string]any{"k": "v"}} },
	}

	for i, f1 := range values {
		for j, f2 := range values {
			if i == j {
				assert.True(Equals(f1(), f2()), "%d should equal itself", i)
			} else {
				assert.False(Equals(f1(), f2()), "%d should not equal %d", i, j)
			}
		}
	}
}

func TestEqualsNilIsNull(t *testing.T) {
	assert.True(t, Equals(nil, Null{}))
	assert.False(t, Equals(nil, Int(0)))
}
