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

package schema

import (
	"github.com/martijn00/speckle-sharp/d"
	"github.com/martijn00/speckle-sharp/types"
)

// Type names of the built in descriptors.
const (
	PointType       = "Objects.Geometry.Point"
	LineType        = "Objects.Geometry.Line"
	MeshType        = "Objects.Geometry.Mesh"
	ColumnType      = "Objects.BuiltElements.Column"
	RevitColumnType = "Objects.BuiltElements.Revit.RevitColumn"
)

var (
	pointDesc = Descriptor{
		Type: PointType,
		Fields: []FieldDescriptor{
			{Name: "x", Kind: types.FloatKind, Required: true},
			{Name: "y", Kind: types.FloatKind, Required: true},
			{Name: "z", Kind: types.FloatKind, Required: true},
			{Name: "units", Kind: types.StringKind},
		},
	}

	lineDesc = Descriptor{
		Type: LineType,
		Fields: []FieldDescriptor{
			{Name: "start", Kind: types.NodeKind, Required: true},
			{Name: "end", Kind: types.NodeKind, Required: true},
			{Name: "units", Kind: types.StringKind},
		},
	}

	meshDesc = Descriptor{
		Type: MeshType,
		Fields: []FieldDescriptor{
			{Name: "vertices", Kind: types.ListKind, ElemKind: types.FloatKind, Detachable: true, Required: true},
			{Name: "faces", Kind: types.ListKind, ElemKind: types.IntKind, Detachable: true, Required: true},
			{Name: "colors", Kind: types.ListKind, ElemKind: types.IntKind, Detachable: true},
			{Name: "units", Kind: types.StringKind},
		},
	}

	columnDesc = Descriptor{
		Type: ColumnType,
		Fields: []FieldDescriptor{
			{Name: "height", Kind: types.FloatKind},
			{Name: "baseLine", Kind: types.NodeKind},
			{Name: "displayValue", Kind: types.ListKind, ElemKind: types.NodeKind, Detachable: true},
			{Name: "units", Kind: types.StringKind},
		},
	}

	revitColumnDesc = Descriptor{
		Type: RevitColumnType,
		Fields: []FieldDescriptor{
			{Name: "family", Kind: types.StringKind},
			{Name: "type", Kind: types.StringKind},
			{Name: "level", Kind: types.StringKind},
			{Name: "rotation", Kind: types.FloatKind},
			{Name: "isSlanted", Kind: types.BoolKind},
		},
	}
)

// DefaultRegistry holds the built in descriptors.
var DefaultRegistry = NewRegistry()

func init() {
	for _, desc := range []Descriptor{pointDesc, lineDesc, meshDesc, columnDesc, revitColumnDesc} {
		d.PanicIfError(DefaultRegistry.Register(desc))
	}
}

// Point is a 3D point.
type Point struct {
	X, Y, Z float64
	Units   string
}

func (p Point) ToNode() *types.Node {
	return Project(types.NewNode(PointType), pointDesc, map[string]types.Value{
		"x":     types.Float(p.X),
		"y":     types.Float(p.Y),
		"z":     types.Float(p.Z),
		"units": optString(p.Units),
	})
}

func PointFromNode(n *types.Node) (p Point, err error) {
	if p.X, err = getFloat(n, "x"); err != nil {
		return
	}
	if p.Y, err = getFloat(n, "y"); err != nil {
		return
	}
	if p.Z, err = getFloat(n, "z"); err != nil {
		return
	}
	p.Units, err = getString(n, "units")
	return
}

// Line is a straight segment between two points.
type Line struct {
	Start, End Point
	Units      string
}

func (l Line) ToNode() *types.Node {
	return Project(types.NewNode(LineType), lineDesc, map[string]types.Value{
		"start": l.Start.ToNode(),
		"end":   l.End.ToNode(),
		"units": optString(l.Units),
	})
}

func LineFromNode(n *types.Node) (l Line, err error) {
	for _, p := range []struct {
		name string
		dst  *Point
	}{{"start", &l.Start}, {"end", &l.End}} {
		var pn *types.Node
		if pn, err = getNode(n, p.name); err != nil {
			return
		}
		if pn == nil {
			return l, mismatch(n, "missing required field %q", p.name)
		}
		if *p.dst, err = PointFromNode(pn); err != nil {
			return
		}
	}
	l.Units, err = getString(n, "units")
	return
}

// Mesh is a polygon mesh. Vertices holds flat x,y,z triples. Faces holds,
// for each face, the vertex count followed by that many vertex indices.
type Mesh struct {
	Vertices []float64
	Faces    []int64
	Colors   []int64
	Units    string
}

func (m Mesh) ToNode() *types.Node {
	values := map[string]types.Value{
		"vertices": floatList(m.Vertices),
		"faces":    intList(m.Faces),
		"units":    optString(m.Units),
	}
	if len(m.Colors) > 0 {
		values["colors"] = intList(m.Colors)
	}
	return Project(types.NewNode(MeshType), meshDesc, values)
}

// VertexCount returns the number of vertices.
func (m Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

func MeshFromNode(n *types.Node) (m Mesh, err error) {
	if m.Vertices, err = getFloats(n, "vertices"); err != nil {
		return
	}
	if len(m.Vertices)%3 != 0 {
		return m, mismatch(n, "vertex list length %d is not a multiple of 3", len(m.Vertices))
	}
	if m.Faces, err = getInts(n, "faces"); err != nil {
		return
	}
	if m.Colors, err = getInts(n, "colors"); err != nil {
		return
	}
	m.Units, err = getString(n, "units")
	return
}

// RevitColumn is the group of fields a Revit host attaches to a column.
type RevitColumn struct {
	Family    string
	Type      string
	Level     string
	Rotation  float64
	IsSlanted bool
}

func (rc RevitColumn) values() map[string]types.Value {
	return map[string]types.Value{
		"family":    optString(rc.Family),
		"type":      optString(rc.Type),
		"level":     optString(rc.Level),
		"rotation":  types.Float(rc.Rotation),
		"isSlanted": types.Bool(rc.IsSlanted),
	}
}

// Column is a structural column. Host specific field groups are attached
// by composition; Revit is set when the node was produced by Revit.
type Column struct {
	Height       float64
	BaseLine     *Line
	DisplayValue []Mesh
	Units        string

	Revit *RevitColumn

	// Extra holds fields no descriptor mentions, e.g. ones added by other
	// hosts. They are written back unchanged.
	Extra []types.Field
}

// TypeTag returns the type tag the column is stored under.
func (c Column) TypeTag() string {
	if c.Revit != nil {
		return JoinTypeTag(ColumnType, RevitColumnType)
	}
	return ColumnType
}

func (c Column) ToNode() *types.Node {
	n := types.NewNode(c.TypeTag())
	values := map[string]types.Value{
		"height": types.Float(c.Height),
		"units":  optString(c.Units),
	}
	if c.BaseLine != nil {
		values["baseLine"] = c.BaseLine.ToNode()
	}
	if len(c.DisplayValue) > 0 {
		meshes := make(types.List, len(c.DisplayValue))
		for i, m := range c.DisplayValue {
			meshes[i] = m.ToNode()
		}
		values["displayValue"] = meshes
	}
	Project(n, columnDesc, values)
	if c.Revit != nil {
		Project(n, revitColumnDesc, c.Revit.values())
	}
	for _, f := range c.Extra {
		if f.Detachable {
			n.SetDetached(f.Name, f.Value)
		} else {
			n.Set(f.Name, f.Value)
		}
	}
	return n
}

// ColumnFromNode reads a column and any host field groups named by the
// node's type tag.
func ColumnFromNode(n *types.Node) (c Column, err error) {
	chain, err := DefaultRegistry.Resolve(n.Type())
	if err != nil {
		return c, err
	}
	if !Has(n.Type(), ColumnType) {
		return c, mismatch(n, "not a column")
	}
	if c.Height, err = getFloat(n, "height"); err != nil {
		return
	}
	if c.Units, err = getString(n, "units"); err != nil {
		return
	}

	var ln *types.Node
	if ln, err = getNode(n, "baseLine"); err != nil {
		return
	}
	if ln != nil {
		var line Line
		if line, err = LineFromNode(ln); err != nil {
			return
		}
		c.BaseLine = &line
	}

	var meshes types.List
	if meshes, err = getList(n, "displayValue"); err != nil {
		return
	}
	for i, mv := range meshes {
		mn, ok := mv.(*types.Node)
		if !ok {
			return c, mismatch(n, "element %d of %q is %s, want Node", i, "displayValue", mv.Kind())
		}
		var m Mesh
		if m, err = MeshFromNode(mn); err != nil {
			return
		}
		c.DisplayValue = append(c.DisplayValue, m)
	}

	if Has(n.Type(), RevitColumnType) {
		rc := &RevitColumn{}
		if rc.Family, err = getString(n, "family"); err != nil {
			return
		}
		if rc.Type, err = getString(n, "type"); err != nil {
			return
		}
		if rc.Level, err = getString(n, "level"); err != nil {
			return
		}
		if rc.Rotation, err = getFloat(n, "rotation"); err != nil {
			return
		}
		if rc.IsSlanted, err = getBool(n, "isSlanted"); err != nil {
			return
		}
		c.Revit = rc
	}

	c.Extra = Extra(n, chain)
	return c, nil
}
