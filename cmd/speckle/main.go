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
	"os/signal"

	"github.com/sirupsen/logrus"
	kingpin "github.com/alecthomas/kingpin/v2"

	"github.com/martijn00/speckle-sharp/config"
)

type handler func(ctx context.Context, env *environment) (exitCode int)
type command func(*kingpin.Application) (*kingpin.CmdClause, handler)

var commands = []command{
	sendCommand,
	receiveCommand,
	showCommand,
	serveCommand,
}

// environment is what every command runs against.
type environment struct {
	resolver *config.Resolver
	log      *logrus.Entry
	out      io.Writer
	status   *status
}

func newEnvironment(configPath string, verbose bool, out, errOut io.Writer) (*environment, error) {
	var c *config.Config
	var err error
	if configPath != "" {
		c, err = config.ReadConfig(configPath)
	} else {
		c, err = config.FindConfig()
		if config.ErrNoConfig.Is(err) {
			c, err = nil, nil
		}
	}
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(errOut)
	lvl, err := c.Level()
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = logrus.DebugLevel
	}
	logger.SetLevel(lvl)

	return &environment{
		resolver: config.NewResolverFor(c),
		log:      logrus.NewEntry(logger).WithField("component", "speckle"),
		out:      out,
		status:   newStatus(errOut),
	}, nil
}

func newApp() (*kingpin.Application, *string, *bool, map[string]handler) {
	app := kingpin.New("speckle", "Moves object graphs between transports.")
	app.HelpFlag.Short('h')

	configPath := app.Flag("config", "path to a "+config.ConfigFile+" file").String()
	verbose := app.Flag("verbose", "show more").Short('v').Bool()

	handlers := map[string]handler{}
	for _, cmd := range commands {
		clause, h := cmd(app)
		handlers[clause.FullCommand()] = h
	}
	return app, configPath, verbose, handlers
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	app, configPath, verbose, handlers := newApp()
	app.ErrorWriter(errOut)
	app.UsageWriter(errOut)
	input, err := app.Parse(args)
	if err != nil {
		fmt.Fprintf(errOut, "speckle: %v\n", err)
		return 2
	}

	env, err := newEnvironment(*configPath, *verbose, out, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "speckle: %v\n", err)
		return 1
	}
	return handlers[input](ctx, env)
}

func main() {
	kingpin.EnableFileExpansion = false
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// fail reports err and returns the exit code for it.
func (env *environment) fail(err error) int {
	env.status.Done()
	env.log.Error(err)
	return 1
}
