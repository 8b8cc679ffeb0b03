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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn00/speckle-sharp/enc"
	"github.com/martijn00/speckle-sharp/hash"
)

func richGraph() *Node {
	shared := vertex(9, 9, 9)
	props := NewNode("Objects.Other.Parameters").
		Set("material", String("concrete")).
		SetDetached("origin", shared)
	return NewNode("Objects.BuiltElements.Column").
		Set("height", Float(3.25)).
		Set("count", Int(-7)).
		Set("tagged", Bool(true)).
		Set("blob", Bytes{0, 1, 2}).
		Set("nothing", nil).
		Set("empty", List{}).
		Set("parameters", props).
		SetDetached("units", String("m")).
		SetDetached("displayValue", List{mesh("a"), Int(4), mesh("b")}).
		SetDetached("base", shared)
}

func TestRoundTrip(t *testing.T) {
	assert := assert.New(t)

	root := richGraph()
	id, objects, err := Encode(root)
	require.NoError(t, err)

	var decodedIDs hash.HashSlice
	decoded, err := Decode(context.Background(), id, NewMapGetter(objects), DecodeOptions{
		OnNode: func(h hash.Hash) { decodedIDs = append(decodedIDs, h) },
	})
	require.NoError(t, err)

	assert.True(Equals(root, decoded), "got %s", EncodedValue(decoded))
	decodedID, ok := decoded.ID()
	assert.True(ok)
	assert.Equal(id, decodedID)
	assert.True(decoded.IsDetachable("displayValue"))
	assert.True(decoded.IsDetachable("units"))
	assert.False(decoded.IsDetachable("parameters"))
	assert.Len(decodedIDs, len(objects))

	reID, reObjects, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(id, reID)
	assert.Equal(objects, reObjects)
}

func TestDecodedNodesAreImmutable(t *testing.T) {
	id, objects, err := Encode(mesh("m"))
	require.NoError(t, err)
	decoded, err := Decode(context.Background(), id, NewMapGetter(objects), DecodeOptions{})
	require.NoError(t, err)

	assert.True(t, decoded.Frozen())
	assert.Panics(t, func() { decoded.Set("name", String("x")) })
	assert.Panics(t, func() { decoded.Remove("name") })
}

func TestDecodeSharesRepeatedObjects(t *testing.T) {
	shared := vertex(1, 2, 3)
	root := NewNode("r").SetDetached("a", shared).SetDetached("b", shared)
	id, objects, err := Encode(root)
	require.NoError(t, err)

	fetches := 0
	getter := ObjectGetterFunc(func(ctx context.Context, h hash.Hash) ([]byte, bool, error) {
		fetches++
		return NewMapGetter(objects).GetObject(ctx, h)
	})
	decoded, err := Decode(context.Background(), id, getter, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)

	a, _ := decoded.Get("a")
	b, _ := decoded.Get("b")
	assert.Same(t, a, b)
}

func TestDecodeUnresolvedReference(t *testing.T) {
	root := NewNode("r").SetDetached("m", mesh("m"))
	id, objects, err := Encode(root)
	require.NoError(t, err)

	getter := NewMapGetter(objects)
	meshID, _, err := Encode(mesh("m"))
	require.NoError(t, err)
	delete(getter, meshID)

	_, err = Decode(context.Background(), id, getter, DecodeOptions{})
	assert.True(t, ErrUnresolvedReference.Is(err))

	_, err = Decode(context.Background(), hash.Of([]byte("nothing")), getter, DecodeOptions{})
	assert.True(t, ErrUnresolvedReference.Is(err))
}

func TestDecodeGetterError(t *testing.T) {
	boom := errors.New("disk on fire")
	getter := ObjectGetterFunc(func(context.Context, hash.Hash) ([]byte, bool, error) {
		return nil, false, boom
	})
	_, err := Decode(context.Background(), hash.Of([]byte("x")), getter, DecodeOptions{})
	assert.True(t, errors.Is(err, boom))
	assert.False(t, ErrUnresolvedReference.Is(err))
}

func TestDecodeCanceled(t *testing.T) {
	id, objects, err := Encode(mesh("m"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Decode(ctx, id, NewMapGetter(objects), DecodeOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDecodePreservesUnknownFields(t *testing.T) {
	assert := assert.New(t)

	content := enc.Content{
		Type: "Future.Thing",
		Fields: map[string]any{
			"known": "yes",
			"extra": map[string]any{"nested": []any{int64(1), "two"}},
		},
	}
	id, err := content.ID()
	require.NoError(t, err)
	data, err := enc.EncodeEnvelope(id, content, nil)
	require.NoError(t, err)

	decoded, err := Decode(context.Background(), id, MapGetter{id: data}, DecodeOptions{})
	require.NoError(t, err)
	extra, ok := decoded.Get("extra")
	require.True(t, ok)
	assert.Equal(OpaqueKind, extra.Kind())

	reID, _, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(id, reID)
}

func TestDecodeRejectsReferenceCycles(t *testing.T) {
	a, b := hash.Of([]byte("a")), hash.Of([]byte("b"))
	envelope := func(id, ref hash.Hash) []byte {
		data, err := enc.EncodeEnvelope(id, enc.Content{
			Type:   "Loop",
			Fields: map[string]any{"next": enc.RefMarker(ref)},
		}, nil)
		require.NoError(t, err)
		return data
	}

	_, err := Decode(context.Background(), a, MapGetter{a: envelope(a, a)}, DecodeOptions{})
	assert.True(t, enc.ErrMalformedEnvelope.Is(err))

	_, err = Decode(context.Background(), a, MapGetter{a: envelope(a, b), b: envelope(b, a)}, DecodeOptions{})
	assert.True(t, enc.ErrMalformedEnvelope.Is(err))
}
