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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn00/speckle-sharp/transports"
)

const sampleConfig = `
cache = "objects"
log_level = "debug"

[copy]
concurrency = 8
batch_size = 64
continue_on_error = true

[remotes.origin]
url = "http://localhost:8000"

[remotes.archive]
s3_bucket = "bucket"
s3_region = "eu-west-1"
s3_prefix = "objects"
`

func tempDir(t *testing.T) string {
	dir := filepath.Join(os.TempDir(), "speckle-config-"+uuid.New().String())
	require.NoError(t, os.MkdirAll(dir, os.ModePerm))
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func chdir(t *testing.T, dir string) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestNewConfig(t *testing.T) {
	assert := assert.New(t)
	c, err := NewConfig(sampleConfig)
	require.NoError(t, err)

	assert.Equal("objects", c.Cache)
	assert.Equal(CopyConfig{Concurrency: 8, BatchSize: 64, ContinueOnError: true}, c.Copy)
	assert.Equal("http://localhost:8000", c.Remotes["origin"].URL)
	assert.Equal(RemoteConfig{S3Bucket: "bucket", S3Region: "eu-west-1", S3Prefix: "objects"}, c.Remotes["archive"])

	lvl, err := c.Level()
	require.NoError(t, err)
	assert.Equal(logrus.DebugLevel, lvl)
}

func TestNewConfigRejectsGarbage(t *testing.T) {
	_, err := NewConfig("cache = ")
	assert.Error(t, err)
}

func TestFindConfigWalksUp(t *testing.T) {
	assert := assert.New(t)
	root := tempDir(t)
	t.Setenv("HOME", tempDir(t))

	c, err := NewConfig(sampleConfig)
	require.NoError(t, err)
	file, err := c.WriteTo(root)
	require.NoError(t, err)

	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, os.ModePerm))
	chdir(t, nested)

	found, err := FindConfig()
	require.NoError(t, err)
	assert.Equal(file, found.File)
	assert.Equal(filepath.Join(root, "objects"), found.Cache, "cache is relative to the config file")
	assert.Equal(c.Remotes, found.Remotes)
}

func TestFindConfigFallsBackToHome(t *testing.T) {
	home := tempDir(t)
	t.Setenv("HOME", home)
	chdir(t, tempDir(t))

	_, err := FindConfig()
	assert.True(t, ErrNoConfig.Is(err))

	c := &Config{LogLevel: "warn"}
	_, err = c.WriteTo(home)
	require.NoError(t, err)

	found, err := FindConfig()
	require.NoError(t, err)
	assert.Equal(t, "warn", found.LogLevel)
}

func TestDefaultCacheDir(t *testing.T) {
	t.Setenv(CacheDirEnv, "/somewhere/else")
	assert.Equal(t, "/somewhere/else", DefaultCacheDir())
	var c *Config
	assert.Equal(t, "/somewhere/else", c.CacheDir())
	assert.Equal(t, "/mine", (&Config{Cache: "/mine"}).CacheDir())
}

func TestResolveRemote(t *testing.T) {
	assert := assert.New(t)
	c, err := NewConfig(sampleConfig)
	require.NoError(t, err)
	r := NewResolverFor(c)
	assert.True(r.HasDefaultRemote())

	rc, err := r.ResolveRemote("")
	require.NoError(t, err)
	assert.Equal("http://localhost:8000", rc.URL)

	rc, err = r.ResolveRemote("archive")
	require.NoError(t, err)
	assert.Equal("bucket", rc.S3Bucket)

	rc, err = r.ResolveRemote("https://example.com")
	require.NoError(t, err)
	assert.Equal("https://example.com", rc.URL)

	bare := NewResolverFor(nil)
	assert.False(bare.HasDefaultRemote())
	_, err = bare.ResolveRemote("")
	assert.True(ErrUnknownRemote.Is(err))
}

func TestGetTransport(t *testing.T) {
	assert := assert.New(t)
	c, err := NewConfig(sampleConfig)
	require.NoError(t, err)
	r := NewResolverFor(c)

	tr, err := r.GetTransport("origin")
	require.NoError(t, err)
	assert.IsType(&transports.HTTPTransport{}, tr)
	tr.Close()

	tr, err = r.GetTransport("archive")
	require.NoError(t, err)
	assert.Equal("s3://bucket/objects", tr.Name())

	tr, err = r.GetTransport("s3://other/some/prefix?region=us-west-2")
	require.NoError(t, err)
	assert.Equal("s3://other/some/prefix", tr.Name())

	tr, err = r.GetTransport("mem")
	require.NoError(t, err)
	assert.IsType(&transports.MemoryTransport{}, tr)

	dir := tempDir(t)
	tr, err = r.GetTransport("ldb:" + dir)
	require.NoError(t, err)
	assert.IsType(&transports.LevelDBTransport{}, tr)
	assert.NoError(tr.Close())

	_, err = r.GetTransport("ftp://nope")
	assert.True(ErrBadRemoteSpec.Is(err))
	_, err = r.GetTransport("ldb:")
	assert.True(ErrBadRemoteSpec.Is(err))
}

func TestCopyOptions(t *testing.T) {
	c, err := NewConfig(sampleConfig)
	require.NoError(t, err)
	opts := NewResolverFor(c).CopyOptions()
	assert.Equal(t, 8, opts.Concurrency)
	assert.Equal(t, 64, opts.BatchSize)
	assert.True(t, opts.ContinueOnError)

	assert.Equal(t, transports.CopyOptions{}, NewResolverFor(nil).CopyOptions())
}
