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
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
)

// Human Readable Serialization
type hrsWriter struct {
	ind        int
	w          io.Writer
	lineLength int
	err        error
}

func (w *hrsWriter) maybeWriteIndentation() {
	if w.lineLength == 0 {
		for i := 0; i < w.ind && w.err == nil; i++ {
			_, w.err = io.WriteString(w.w, "  ")
		}
		w.lineLength = 2 * w.ind
	}
}

func (w *hrsWriter) write(s string) {
	if w.err != nil {
		return
	}
	w.maybeWriteIndentation()
	var n int
	n, w.err = io.WriteString(w.w, s)
	w.lineLength += n
}

func (w *hrsWriter) indent() {
	w.ind++
}

func (w *hrsWriter) outdent() {
	w.ind--
}

func (w *hrsWriter) newLine() {
	w.write("\n")
	w.lineLength = 0
}

func (w *hrsWriter) Write(v Value) {
	if v == nil {
		v = Null{}
	}
	switch v := v.(type) {
	case Null:
		w.write("null")
	case Bool:
		w.write(strconv.FormatBool(bool(v)))
	case Int:
		w.write(strconv.FormatInt(int64(v), 10))
	case Float:
		w.write(strconv.FormatFloat(float64(v), 'g', -1, 64))
	case String:
		w.write(strconv.Quote(string(v)))
	case Bytes:
		w.write("b64'")
		w.write(base64.StdEncoding.EncodeToString(v))
		w.write("'")
	case List:
		w.write("[")
		w.indent()
		for i, elem := range v {
			if i == 0 {
				w.newLine()
			}
			w.Write(elem)
			w.write(",")
			w.newLine()
			if w.err != nil {
				break
			}
		}
		w.outdent()
		w.write("]")
	case Ref:
		w.write("#")
		w.write(v.Target.String())
	case *Node:
		w.writeNode(v)
	case Opaque:
		w.write(fmt.Sprintf("opaque(%v)", v.Data))
	default:
		panic("unreachable")
	}
}

// writeNode prints the type tag, the ID of stored nodes and then the fields.
// Detachable fields are prefixed with "@".
func (w *hrsWriter) writeNode(n *Node) {
	if n.typ != "" {
		w.write(n.typ)
		w.write(" ")
	}
	if id, ok := n.ID(); ok {
		w.write("#")
		w.write(id.String())
		w.write(" ")
	}
	w.write("{")
	w.indent()

	for i, f := range n.fields {
		if i == 0 {
			w.newLine()
		}
		if f.Detachable {
			w.write("@")
		}
		w.write(f.Name)
		w.write(": ")
		w.Write(f.Value)
		w.write(",")
		w.newLine()
	}

	w.outdent()
	w.write("}")
}

// WriteEncodedValue writes the serialization of a value
func WriteEncodedValue(w io.Writer, v Value) error {
	hrs := &hrsWriter{w: w}
	hrs.Write(v)
	return hrs.err
}

// EncodedValue returns a string containing the serialization of a value.
func EncodedValue(v Value) string {
	var buf bytes.Buffer
	_ = WriteEncodedValue(&buf, v)
	return buf.String()
}
