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

// Package d holds the panic-based invariant checks used throughout the
// module for programmer errors. Recoverable conditions are returned as
// errors; these are for states that should never happen.
package d

import (
	"errors"
	"fmt"

	"github.com/stretchr/testify/assert"
)

var (
	// Chk will panic if an assertion made on it fails
	Chk = assert.New(&panicker{})
)

type panicker struct {
}

func (s panicker) Errorf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// Panic creates an error using format and args and wraps it in a
// WrappedError which can be handled using Try() and Unwrap().
func Panic(format string, args ...interface{}) {
	panic(Wrap(fmt.Errorf(format, args...)))
}

// PanicIfError panics if the err is not nil.
func PanicIfError(err error) {
	if err != nil {
		panic(err)
	}
}

// PanicIfTrue panics if b is true.
func PanicIfTrue(b bool, msgAndArgs ...interface{}) {
	if b {
		panic(message("expected false", msgAndArgs))
	}
}

// PanicIfFalse panics if b is false.
func PanicIfFalse(b bool, msgAndArgs ...interface{}) {
	if !b {
		panic(message("expected true", msgAndArgs))
	}
}

func message(def string, msgAndArgs []interface{}) string {
	if len(msgAndArgs) == 0 {
		return def
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}

// WrappedError marks an error that was raised with Panic so that Try can
// tell it apart from a genuine runtime panic.
type WrappedError interface {
	Error() string
	Cause() error
}

type wrappedError struct {
	msg   string
	cause error
}

func (we wrappedError) Error() string { return we.msg }
func (we wrappedError) Cause() error  { return we.cause }
func (we wrappedError) Unwrap() error { return we.cause }

// Wrap wraps err so it can be raised with panic and caught by Try.
func Wrap(err error) WrappedError {
	if err == nil {
		return nil
	}
	var we WrappedError
	if errors.As(err, &we) {
		return we
	}
	return wrappedError{err.Error(), err}
}

// Unwrap returns the cause of a WrappedError, or err itself.
func Unwrap(err error) error {
	if we, ok := err.(WrappedError); ok {
		return we.Cause()
	}
	return err
}

// Try calls f. A panic raised with Panic (or any panic whose value is a
// WrappedError) is recovered and returned; anything else re-panics.
func Try(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if we, ok := r.(WrappedError); ok {
				err = we
				return
			}
			panic(r)
		}
	}()
	f()
	return nil
}
