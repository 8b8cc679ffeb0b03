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

// Package enc defines the canonical byte form of a graph node and the
// envelope it is stored in.
//
// Every stored node is a CBOR map encoded with Core Deterministic Encoding
// (RFC 8949 §4.2): sorted keys, shortest integer and float forms, no
// indefinite lengths. Equal content therefore always yields equal bytes,
// which is what makes content addressing work.
//
// Envelope layout:
//
//	{
//	  "closure": {"<id>": depth, ...},
//	  "detach":  ["field", ...],        // omitted when empty
//	  "fields":  {"name": value, ...},
//	  "id":      "<id>",
//	  "type":    "Objects.Geometry.Mesh"
//	}
//
// The content ID is computed over {"detach", "fields", "type"} only.
// References to separately stored nodes are CBOR tag TagReference wrapping
// the 20 byte digest. Nested nodes stored inline are CBOR tag TagNode
// wrapping {"detach", "fields", "type"}.
package enc

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const (
	// TagReference marks a reference to a separately stored node.
	TagReference = 40001

	// TagNode marks a nested node stored inline in its parent.
	TagNode = 40002
)

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("enc: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Field values decoded into any must use string keyed maps.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Positive integers decode to int64 rather than uint64 so that
		// decoded values compare equal to what was encoded.
		IntDec:    cbor.IntDecConvertSigned,
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("enc: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
