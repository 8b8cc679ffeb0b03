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

package operations

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/martijn00/speckle-sharp/hash"
	"github.com/martijn00/speckle-sharp/transports"
	"github.com/martijn00/speckle-sharp/types"
)

type SendOptions struct {
	Sink   transports.Sink
	Logger *logrus.Entry
}

func (opts SendOptions) withDefaults() SendOptions {
	if opts.Sink == nil {
		opts.Sink = transports.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return opts
}

// Send encodes the graph rooted at root and writes every node, children
// first, into each transport, then waits for all of them to complete. It
// returns the root's content ID. With no transports the ID is computed
// and nothing is stored.
func Send(ctx context.Context, root *types.Node, opts SendOptions, dests ...transports.Transport) (hash.Hash, error) {
	opts = opts.withDefaults()
	log := opts.Logger.WithField("component", "send")

	id, objects, err := types.Encode(root)
	if err != nil {
		return hash.Hash{}, err
	}
	log = log.WithField("root", id.String())
	log.Debugf("operations/send: encoded %d objects", len(objects))

	tracker := transports.NewProgressTracker()
	eg, egCtx := errgroup.WithContext(ctx)
	for _, t := range dests {
		t := t
		eg.Go(func() error {
			return sendTo(egCtx, t, objects, opts.Sink, tracker)
		})
	}
	err = eg.Wait()

	if err != nil {
		if ctx.Err() != nil {
			for _, t := range dests {
				if berr := t.WriteComplete(context.WithoutCancel(ctx)); berr != nil {
					log.Warnf("operations/send: retaining partial write to %s: %v", t.Name(), berr)
				}
			}
			return hash.Hash{}, ErrOperationCanceled.Wrap(ctx.Err(), id)
		}
		log.Warnf("operations/send: %v", err)
		return hash.Hash{}, err
	}
	log.Infof("operations/send: stored %d objects in %d transports", len(objects), len(dests))
	return id, nil
}

func sendTo(ctx context.Context, t transports.Transport, objects []types.Object, sink transports.Sink, tracker *transports.ProgressTracker) error {
	name := t.Name()
	for _, o := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.WriteObject(ctx, o.ID, o.Data); err != nil {
			sink.RecordError(o.ID.String(), err)
			return err
		}
		sink.RecordProgress(tracker.Record(name, o.ID))
	}
	if err := t.WriteComplete(ctx); err != nil {
		sink.RecordError(objects[len(objects)-1].ID.String(), err)
		return err
	}
	return nil
}
