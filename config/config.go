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

// Package config reads the .speckleconfig file and resolves remote
// aliases to transports.
package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	goerrors "gopkg.in/src-d/go-errors.v1"
)

const (
	ConfigFile         = ".speckleconfig"
	DefaultRemoteAlias = "origin"

	// CacheDirEnv overrides the default local cache location.
	CacheDirEnv = "SPECKLE_CACHE"
)

// ErrNoConfig is returned by FindConfig when no config file exists.
var ErrNoConfig = goerrors.NewKind("no " + ConfigFile + " found")

type Config struct {
	File     string                  `toml:"-"`
	Cache    string                  `toml:"cache,omitempty"`
	LogLevel string                  `toml:"log_level,omitempty"`
	Copy     CopyConfig              `toml:"copy"`
	Remotes  map[string]RemoteConfig `toml:"remotes,omitempty"`
}

type CopyConfig struct {
	Concurrency     int  `toml:"concurrency,omitempty"`
	BatchSize       int  `toml:"batch_size,omitempty"`
	ContinueOnError bool `toml:"continue_on_error,omitempty"`
}

// RemoteConfig names either an HTTP object service or an S3 location.
type RemoteConfig struct {
	URL      string `toml:"url,omitempty"`
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
}

// FindConfig looks for the closest .speckleconfig starting in the working
// directory and walking up its parents, then falls back to $HOME.
func FindConfig() (*Config, error) {
	curDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	for {
		file := filepath.Join(curDir, ConfigFile)
		if found, err := isFile(file); err != nil {
			return nil, err
		} else if found {
			return ReadConfig(file)
		}
		nextDir := filepath.Dir(curDir)
		if nextDir == curDir {
			break
		}
		curDir = nextDir
	}

	if home, err := os.UserHomeDir(); err == nil {
		file := filepath.Join(home, ConfigFile)
		if found, err := isFile(file); err != nil {
			return nil, err
		} else if found {
			return ReadConfig(file)
		}
	}
	return nil, ErrNoConfig.New()
}

func isFile(name string) (bool, error) {
	info, err := os.Stat(name)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func ReadConfig(name string) (*Config, error) {
	data, err := ioutil.ReadFile(name)
	if err != nil {
		return nil, err
	}
	c, err := NewConfig(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading %s", name)
	}
	c.File = name
	c.qualifyPaths(filepath.Dir(name))
	return c, nil
}

func NewConfig(data string) (*Config, error) {
	c := new(Config)
	if _, err := toml.Decode(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// qualifyPaths makes a relative cache directory relative to the directory
// holding the config file.
func (c *Config) qualifyPaths(configHome string) {
	if c.Cache != "" && !filepath.IsAbs(c.Cache) {
		c.Cache = filepath.Join(configHome, c.Cache)
	}
}

// WriteTo writes the config into configHome and returns the file name.
func (c *Config) WriteTo(configHome string) (string, error) {
	file := filepath.Join(configHome, ConfigFile)
	if err := os.MkdirAll(configHome, os.ModePerm); err != nil {
		return "", err
	}
	if err := ioutil.WriteFile(file, []byte(c.String()), 0644); err != nil {
		return "", err
	}
	return file, nil
}

func (c *Config) String() string {
	var buffer bytes.Buffer
	if err := toml.NewEncoder(&buffer).Encode(c); err != nil {
		return ""
	}
	return buffer.String()
}

// Level parses log_level, defaulting to info.
func (c *Config) Level() (logrus.Level, error) {
	if c == nil || c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
}

// CacheDir returns the configured cache directory or DefaultCacheDir.
func (c *Config) CacheDir() string {
	if c != nil && c.Cache != "" {
		return c.Cache
	}
	return DefaultCacheDir()
}

// DefaultCacheDir is where the local object cache lives unless configured
// otherwise: $SPECKLE_CACHE, or a speckle directory under the user cache.
func DefaultCacheDir() string {
	if dir := os.Getenv(CacheDirEnv); dir != "" {
		return dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "speckle", "objects")
}
