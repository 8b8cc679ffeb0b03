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

package d

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryCatchesPanic(t *testing.T) {
	assert := assert.New(t)

	err := Try(func() {
		Panic("bad %s", "thing")
	})
	assert.Error(err)
	assert.Equal("bad thing", err.Error())
	assert.Equal("bad thing", Unwrap(err).Error())
}

func TestTryRepanicsOnRuntimeError(t *testing.T) {
	assert.Panics(t, func() {
		_ = Try(func() {
			var m map[string]int
			m["x"] = 1
		})
	})
}

func TestTryNoPanic(t *testing.T) {
	assert.NoError(t, Try(func() {}))
}

func TestPanicIf(t *testing.T) {
	assert := assert.New(t)

	assert.Panics(func() { PanicIfTrue(true) })
	assert.NotPanics(func() { PanicIfTrue(false) })
	assert.Panics(func() { PanicIfFalse(false, "want %d", 1) })
	assert.NotPanics(func() { PanicIfFalse(true) })
	assert.Panics(func() { PanicIfError(errors.New("boom")) })
	assert.NotPanics(func() { PanicIfError(nil) })
	assert.Panics(func() { Chk.Equal(1, 2) })
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("cause")
	we := Wrap(cause)
	assert.Equal(t, cause, we.Cause())
	assert.True(t, errors.Is(we, cause))
	assert.Equal(t, we, Wrap(we))
	assert.Nil(t, Wrap(nil))
}
