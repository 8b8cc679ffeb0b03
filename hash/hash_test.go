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

package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRoundTrip(t *testing.T) {
	assert := assert.New(t)

	h := Of([]byte("abc"))
	assert.False(h.IsEmpty())
	assert.Len(h.String(), StringLen)

	parsed, ok := MaybeParse(h.String())
	assert.True(ok)
	assert.Equal(h, parsed)
	assert.Equal(h, Parse(h.String()))
}

func TestOfIsDeterministic(t *testing.T) {
	assert.Equal(t, Of([]byte("hello")), Of([]byte("hello")))
	assert.NotEqual(t, Of([]byte("hello")), Of([]byte("hellp")))
}

func TestParseRejects(t *testing.T) {
	assert := assert.New(t)

	for _, s := range []string{
		"",
		"sha1-a9993e364706816aba3e25717850c26c9cd0d89d",
		"pckdvpvr9br1fie6c3pjudrlthe7na1",
		"pckdvpvr9br1fie6c3pjudrlthe7na18x",
		"PCKDVPVR9BR1FIE6C3PJUDRLTHE7NA18",
		"zckdvpvr9br1fie6c3pjudrlthe7na18",
	} {
		_, ok := MaybeParse(s)
		assert.False(ok, s)
	}
	assert.Panics(func() { Parse("nope") })
}

func TestTextMarshal(t *testing.T) {
	assert := assert.New(t)

	h := Of([]byte("text"))
	txt, err := h.MarshalText()
	assert.NoError(err)

	var back Hash
	assert.NoError(back.UnmarshalText(txt))
	assert.Equal(h, back)
	assert.Error(back.UnmarshalText([]byte("bogus")))
}

func TestHashSet(t *testing.T) {
	assert := assert.New(t)

	a, b, c := Of([]byte("a")), Of([]byte("b")), Of([]byte("c"))
	s := NewHashSet(a, b)
	assert.True(s.Has(a))
	assert.False(s.Has(c))

	cp := s.Copy()
	cp.Remove(a)
	assert.True(s.Has(a))
	assert.False(cp.Has(a))

	s.InsertAll(NewHashSet(c))
	sorted := s.Sorted()
	assert.Len(sorted, 3)
	for i := 1; i < len(sorted); i++ {
		assert.True(sorted[i-1].Less(sorted[i]))
	}
	assert.True(HashSlice{a, b}.Equals(HashSlice{a, b}))
	assert.False(HashSlice{a, b}.Equals(HashSlice{b, a}))
	assert.Equal(NewHashSet(a, b), HashSlice{a, b, a}.HashSet())
}
