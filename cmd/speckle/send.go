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
	"context"
	"fmt"
	"io"
	"os"

	humanize "github.com/dustin/go-humanize"
	kingpin "github.com/alecthomas/kingpin/v2"

	"github.com/martijn00/speckle-sharp/operations"
	"github.com/martijn00/speckle-sharp/transports"
	"github.com/martijn00/speckle-sharp/util/jsontonodes"
)

func sendCommand(app *kingpin.Application) (*kingpin.CmdClause, handler) {
	cmd := app.Command("send", `Stores the graph in a JSON document and prints its root ID.
Keys starting with "@" are stored as separate objects. The graph always goes into the local cache unless --no-cache is given.`)
	file := cmd.Arg("file", "JSON document to send, - for stdin").Required().String()
	remotes := cmd.Flag("remote", "remote alias or URL to send to, may be repeated").Strings()
	cacheDir := cmd.Flag("cache", "local cache directory").String()
	noCache := cmd.Flag("no-cache", "skip the local cache").Bool()

	return cmd, func(ctx context.Context, env *environment) int {
		var r io.Reader = os.Stdin
		if *file != "-" {
			f, err := os.Open(*file)
			if err != nil {
				return env.fail(err)
			}
			defer f.Close()
			if info, err := f.Stat(); err == nil {
				env.log.Debugf("speckle: reading %s (%s)", *file, humanize.Bytes(uint64(info.Size())))
			}
			r = f
		}
		root, err := jsontonodes.NodeFromJSON(r)
		if err != nil {
			return env.fail(err)
		}

		var dests []transports.Transport
		defer func() {
			for _, t := range dests {
				if err := t.Close(); err != nil {
					env.log.Warnf("speckle: closing %s: %v", t.Name(), err)
				}
			}
		}()
		if !*noCache {
			cache, err := transports.NewLevelDBTransport(cacheDirOr(env, *cacheDir))
			if err != nil {
				return env.fail(err)
			}
			dests = append(dests, cache)
		}
		for _, remote := range *remotes {
			t, err := env.resolver.GetTransport(remote)
			if err != nil {
				return env.fail(err)
			}
			dests = append(dests, t)
		}

		sink := newProgressSink(env, "sending")
		id, err := operations.Send(ctx, root, operations.SendOptions{Sink: sink, Logger: env.log}, dests...)
		env.status.Done()
		if err != nil {
			return env.fail(err)
		}
		fmt.Fprintln(env.out, id)
		return 0
	}
}

func cacheDirOr(env *environment, dir string) string {
	if dir != "" {
		return dir
	}
	return env.resolver.CacheDir()
}
