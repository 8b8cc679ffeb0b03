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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteHumanReadable(t *testing.T) {
	n := NewNode("pt").
		Set("x", Float(1.5)).
		Set("label", String("a\"b")).
		Set("tags", List{Int(1), Null{}}).
		SetDetached("raw", Bytes{1, 2, 3})

	expected := `pt {
  label: "a\"b",
  @raw: b64'AQID',
  tags: [
    1,
    null,
  ],
  x: 1.5,
}`
	assert.Equal(t, expected, EncodedValue(n))
}

func TestWriteHumanReadableEmpty(t *testing.T) {
	assert.Equal(t, "{}", EncodedValue(NewNode("")))
	assert.Equal(t, "[]", EncodedValue(List{}))
	assert.Equal(t, "true", EncodedValue(Bool(true)))
}
