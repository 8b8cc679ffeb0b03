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

	kingpin "github.com/alecthomas/kingpin/v2"

	"github.com/martijn00/speckle-sharp/hash"
	"github.com/martijn00/speckle-sharp/operations"
	"github.com/martijn00/speckle-sharp/transports"
	"github.com/martijn00/speckle-sharp/types"
)

func receiveCommand(app *kingpin.Application) (*kingpin.CmdClause, handler) {
	cmd := app.Command("receive", `Prints the graph rooted at an object ID.
The local cache is tried first. On a miss the whole graph is copied from the remote into the cache.`)
	id := cmd.Arg("id", "root object ID").Required().String()
	remote := cmd.Flag("remote", "remote alias or URL; defaults to the origin remote of the config").String()
	cacheDir := cmd.Flag("cache", "local cache directory").String()
	continueOnError := cmd.Flag("continue-on-error", "keep copying when single objects fail").Bool()

	return cmd, func(ctx context.Context, env *environment) int {
		var rt transports.Transport
		if *remote != "" || env.resolver.HasDefaultRemote() {
			t, err := env.resolver.GetTransport(*remote)
			if err != nil {
				return env.fail(err)
			}
			defer t.Close()
			rt = t
		}
		return receiveAndPrint(ctx, env, *id, rt, *cacheDir, *continueOnError)
	}
}

func showCommand(app *kingpin.Application) (*kingpin.CmdClause, handler) {
	cmd := app.Command("show", "Prints a graph from the local cache only.")
	id := cmd.Arg("id", "root object ID").Required().String()
	cacheDir := cmd.Flag("cache", "local cache directory").String()

	return cmd, func(ctx context.Context, env *environment) int {
		return receiveAndPrint(ctx, env, *id, nil, *cacheDir, false)
	}
}

func receiveAndPrint(ctx context.Context, env *environment, idStr string, remote transports.Transport, cacheDir string, continueOnError bool) int {
	id, ok := hash.MaybeParse(idStr)
	if !ok {
		return env.fail(fmt.Errorf("invalid object ID %q", idStr))
	}

	copts := env.resolver.CopyOptions()
	sink := newProgressSink(env, "receiving")
	root, err := operations.Receive(ctx, id, remote, nil, operations.ReceiveOptions{
		Sink:            sink,
		OnTotalKnown:    sink.onTotalKnown,
		CacheDir:        cacheDirOr(env, cacheDir),
		ContinueOnError: continueOnError || copts.ContinueOnError,
		Concurrency:     copts.Concurrency,
		BatchSize:       copts.BatchSize,
		Logger:          env.log,
	})
	env.status.Done()
	if err != nil {
		if operations.IsCanceled(err) {
			env.log.Info("speckle: canceled, objects copied so far are kept in the cache")
			return 130
		}
		return env.fail(err)
	}

	if err := types.WriteEncodedValue(env.out, root); err != nil {
		return env.fail(err)
	}
	fmt.Fprintln(env.out)
	return 0
}
