// Copyright 2026 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	memcache "go.chromium.org/memcache/apiv1"
)

func cmdOperation() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "operation [flags] <operation name>",
		ShortDesc: "shows, waits for or cancels an operation",
		LongDesc: `Shows an operation started by another command.

With -cancel, requests its cancellation first. With -wait, waits for it to
finish.`,
		CommandRun: func() subcommands.CommandRun {
			c := &operationRun{}
			c.registerBaseFlags()
			c.registerWaitFlag()
			c.Flags.BoolVar(&c.cancel, "cancel", false, "Cancel the operation.")
			c.Flags.BoolVar(&c.forget, "delete", false, "Delete the finished operation from the server.")
			return c
		},
	}
}

type operationRun struct {
	baseCommandRun
	cancel bool
	forget bool
}

func (c *operationRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := checkArgs(args, 1, 1); err != nil {
		return c.done(ctx, err)
	}
	return c.run(ctx, env, func(ctx context.Context, mc *memcache.Client, p *printer) error {
		op, err := c.operation(ctx, mc, args[0])
		if err != nil {
			return err
		}
		return p.Operation(op)
	})
}

// operation executes the flags on the operation and returns its final
// state.
func (c *operationRun) operation(ctx context.Context, mc *memcache.Client, name string) (*longrunningpb.Operation, error) {
	op := mc.Operation(name)
	if c.cancel {
		if err := op.Cancel(ctx); err != nil {
			return nil, errors.Annotate(err, "cancelling %s", name).Err()
		}
		logging.Infof(ctx, "Requested cancellation of %s", name)
	}
	poll := op.Poll
	if c.wait {
		poll = op.Wait
	}
	res, err := poll(ctx)
	if err != nil {
		return nil, err
	}
	if c.forget {
		if !res.GetDone() {
			return nil, errors.Reason("operation %s is still running, can't delete it", name).Err()
		}
		if err := op.Delete(ctx); err != nil {
			return nil, errors.Annotate(err, "deleting %s", name).Err()
		}
		logging.Infof(ctx, "Deleted %s", name)
	}
	return res, nil
}
