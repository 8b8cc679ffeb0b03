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
	"net/url"
	"strings"

	goerrors "gopkg.in/src-d/go-errors.v1"

	"github.com/martijn00/speckle-sharp/transports"
)

const (
	ldbScheme = "ldb:"
	memScheme = "mem"

	defaultS3Region = "us-east-1"
)

var (
	ErrUnknownRemote = goerrors.NewKind("unknown remote %q")
	ErrBadRemoteSpec = goerrors.NewKind("cannot use %q as a remote: %s")
)

// Resolver turns remote aliases and URLs into transports. Without a config
// only literal specs are understood:
//
//	http://host[:port][/path]
//	s3://bucket[/prefix][?region=...]
//	ldb:/path/to/dir
//	mem
type Resolver struct {
	config *Config

	HTTPOptions transports.HTTPOptions
}

// NewResolver finds the active config, if any, and returns a resolver
// using it.
func NewResolver() (*Resolver, error) {
	c, err := FindConfig()
	if err != nil {
		if !ErrNoConfig.Is(err) {
			return nil, err
		}
		c = nil
	}
	return NewResolverFor(c), nil
}

// NewResolverFor returns a resolver over c, which may be nil.
func NewResolverFor(c *Config) *Resolver {
	return &Resolver{config: c}
}

func (r *Resolver) Config() *Config {
	return r.config
}

// HasDefaultRemote reports whether the config names an origin remote.
func (r *Resolver) HasDefaultRemote() bool {
	if r.config == nil {
		return false
	}
	_, ok := r.config.Remotes[DefaultRemoteAlias]
	return ok
}

// ResolveRemote returns the remote named by str. An empty string selects
// the default alias. Anything that is not an alias is taken as a URL.
func (r *Resolver) ResolveRemote(str string) (RemoteConfig, error) {
	alias := str
	if alias == "" {
		alias = DefaultRemoteAlias
	}
	if r.config != nil {
		if rc, ok := r.config.Remotes[alias]; ok {
			return rc, nil
		}
	}
	if str == "" {
		return RemoteConfig{}, ErrUnknownRemote.New(alias)
	}
	return RemoteConfig{URL: str}, nil
}

// GetTransport resolves str and opens the transport it names.
func (r *Resolver) GetTransport(str string) (transports.Transport, error) {
	rc, err := r.ResolveRemote(str)
	if err != nil {
		return nil, err
	}
	return r.open(rc)
}

func (r *Resolver) open(rc RemoteConfig) (transports.Transport, error) {
	if rc.S3Bucket != "" {
		region := rc.S3Region
		if region == "" {
			region = defaultS3Region
		}
		return transports.NewS3Transport(rc.S3Bucket, region, rc.S3Prefix)
	}

	spec := rc.URL
	switch {
	case spec == "":
		return nil, ErrBadRemoteSpec.New(spec, "empty remote")
	case spec == memScheme:
		return transports.NewMemoryTransport(memScheme), nil
	case strings.HasPrefix(spec, ldbScheme):
		dir := strings.TrimPrefix(spec, ldbScheme)
		if dir == "" {
			return nil, ErrBadRemoteSpec.New(spec, "missing directory")
		}
		return transports.NewLevelDBTransport(dir)
	}

	u, err := url.Parse(spec)
	if err != nil {
		return nil, ErrBadRemoteSpec.New(spec, err.Error())
	}
	switch u.Scheme {
	case "http", "https":
		return transports.NewHTTPTransport(spec, r.HTTPOptions)
	case "s3":
		if u.Host == "" {
			return nil, ErrBadRemoteSpec.New(spec, "missing bucket")
		}
		region := u.Query().Get("region")
		if region == "" {
			region = defaultS3Region
		}
		return transports.NewS3Transport(u.Host, region, strings.Trim(u.Path, "/"))
	default:
		return nil, ErrBadRemoteSpec.New(spec, "unsupported scheme")
	}
}

// CacheDir returns the local cache directory in effect.
func (r *Resolver) CacheDir() string {
	return r.config.CacheDir()
}

// CopyOptions fills the copy settings from the config.
func (r *Resolver) CopyOptions() transports.CopyOptions {
	var opts transports.CopyOptions
	if r.config != nil {
		opts.Concurrency = r.config.Copy.Concurrency
		opts.BatchSize = r.config.Copy.BatchSize
		opts.ContinueOnError = r.config.Copy.ContinueOnError
	}
	return opts
}
