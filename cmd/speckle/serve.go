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
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"

	"github.com/martijn00/speckle-sharp/remotesrv"
	"github.com/martijn00/speckle-sharp/transports"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(app *kingpin.Application) (*kingpin.CmdClause, handler) {
	cmd := app.Command("serve", "Serves a LevelDB object store over HTTP.")
	port := cmd.Flag("port", "port to listen on").Default("8000").Int()
	dir := cmd.Flag("dir", "store directory; defaults to the local cache").String()
	validate := cmd.Flag("validate", "reject uploads whose content does not hash to their ID").Bool()

	return cmd, func(ctx context.Context, env *environment) int {
		store, err := transports.NewLevelDBTransport(cacheDirOr(env, *dir))
		if err != nil {
			return env.fail(err)
		}
		defer store.Close()

		server := remotesrv.NewServer(store, *port)
		server.SetValidateContentAddresses(*validate)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Run()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return env.fail(err)
			}
		case <-ctx.Done():
			env.log.Info("speckle: shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Stop(sctx); err != nil {
				return env.fail(err)
			}
			<-errCh
		}
		return 0
	}
}
