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

package main

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/martijn00/speckle-sharp/config"
)

const column = `{
	"speckle_type": "Objects.BuiltElements.Column",
	"height": 3,
	"@baseLine": {
		"speckle_type": "Objects.Geometry.Line",
		"start": {"speckle_type": "Objects.Geometry.Point", "x": 0, "y": 0, "z": 0},
		"end": {"speckle_type": "Objects.Geometry.Point", "x": 0, "y": 0, "z": 3}
	},
	"@displayValue": [
		{"speckle_type": "Objects.Geometry.Mesh", "@vertices": [0, 0, 0, 1, 0, 0, 1, 1, 0], "@faces": [0, 0, 1, 2]}
	]
}`

type CLISuite struct {
	suite.Suite
	dir    string
	cfg    string
	remote string
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, &CLISuite{})
}

func (s *CLISuite) SetupTest() {
	s.dir = filepath.Join(os.TempDir(), "speckle-cli-"+uuid.New().String())
	s.Require().NoError(os.MkdirAll(s.dir, os.ModePerm))
	s.remote = "ldb:" + filepath.Join(s.dir, "remote")

	c := &config.Config{
		Cache: filepath.Join(s.dir, "cache"),
		Copy:  config.CopyConfig{Concurrency: 2},
		Remotes: map[string]config.RemoteConfig{
			"archive": {URL: s.remote},
		},
	}
	cfg, err := c.WriteTo(s.dir)
	s.Require().NoError(err)
	s.cfg = cfg
}

func (s *CLISuite) TearDownTest() {
	os.RemoveAll(s.dir)
}

func (s *CLISuite) run(args ...string) (string, string, int) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	code := run(context.Background(), append([]string{"--config", s.cfg}, args...), out, errOut)
	return out.String(), errOut.String(), code
}

func (s *CLISuite) send(args ...string) string {
	file := filepath.Join(s.dir, "column.json")
	s.Require().NoError(ioutil.WriteFile(file, []byte(column), 0644))
	out, errOut, code := s.run(append([]string{"send", file}, args...)...)
	s.Require().Equal(0, code, errOut)
	return strings.TrimSpace(out)
}

func (s *CLISuite) TestSendThenShow() {
	id := s.send()
	s.Len(id, 32)

	out, errOut, code := s.run("show", id)
	s.Equal(0, code, errOut)
	s.Contains(out, "Objects.BuiltElements.Column #"+id)
	s.Contains(out, "@baseLine")
	s.Contains(out, "Objects.Geometry.Mesh")
}

func (s *CLISuite) TestReceiveFromRemote() {
	id := s.send("--no-cache", "--remote", "archive")
	other := filepath.Join(s.dir, "other-cache")

	_, _, code := s.run("show", id, "--cache", other)
	s.Equal(1, code, "nothing is cached yet")

	out, errOut, code := s.run("receive", id, "--remote", s.remote, "--cache", other)
	s.Equal(0, code, errOut)
	s.Contains(out, "Objects.Geometry.Line")

	out, errOut, code = s.run("show", id, "--cache", other)
	s.Equal(0, code, errOut)
	s.Contains(out, "Objects.Geometry.Point")
}

func (s *CLISuite) TestSendIsDeterministic() {
	first := s.send()
	second := s.send("--remote", "archive")
	s.Equal(first, second)
}

func (s *CLISuite) TestBadInput() {
	_, _, code := s.run("show", "not-an-id")
	s.Equal(1, code)

	_, _, code = s.run("send", filepath.Join(s.dir, "missing.json"))
	s.Equal(1, code)

	_, _, code = s.run("frobnicate")
	s.Equal(2, code)
}
