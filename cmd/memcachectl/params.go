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

	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/maruel/subcommands"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	luciflag "go.chromium.org/luci/common/flag"
	"go.chromium.org/luci/common/flag/stringmapflag"

	memcache "go.chromium.org/memcache/apiv1"
)

func cmdUpdateParams() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "update-params [flags] <instance name>",
		ShortDesc: "stages new memcached parameters",
		LongDesc: `Replaces memcached parameters of an instance.

The parameters take effect on nodes only after apply-params.`,
		CommandRun: func() subcommands.CommandRun {
			c := &updateParamsRun{params: stringmapflag.Value{}}
			c.registerBaseFlags()
			c.registerWaitFlag()
			c.Flags.Var(&c.params, "param", "A memcached parameter as key=value. Can be specified multiple times.")
			return c
		},
	}
}

type updateParamsRun struct {
	baseCommandRun
	params stringmapflag.Value
}

func (c *updateParamsRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := checkArgs(args, 1, 1); err != nil {
		return c.done(ctx, err)
	}
	return c.run(ctx, env, func(ctx context.Context, mc *memcache.Client, p *printer) error {
		op, err := mc.UpdateParameters(ctx, &memcachepb.UpdateParametersRequest{
			Name:       args[0],
			UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"params"}},
			Parameters: &memcachepb.MemcacheParameters{Params: c.params},
		})
		if err != nil {
			return err
		}
		return c.waitInstance(ctx, op, p)
	})
}

func cmdApplyParams() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "apply-params [flags] <instance name>",
		ShortDesc: "pushes staged parameters to nodes",
		LongDesc:  "Applies the current memcached parameters of an instance to some or all of its nodes.",
		CommandRun: func() subcommands.CommandRun {
			c := &applyParamsRun{}
			c.registerBaseFlags()
			c.registerWaitFlag()
			c.Flags.Var(luciflag.StringSlice(&c.nodes), "node", "ID of a node to apply parameters to. Can be specified multiple times.")
			c.Flags.BoolVar(&c.all, "all", false, "Apply parameters to all nodes.")
			return c
		},
	}
}

type applyParamsRun struct {
	baseCommandRun
	nodes []string
	all   bool
}

func (c *applyParamsRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := checkArgs(args, 1, 1); err != nil {
		return c.done(ctx, err)
	}
	req, err := c.request(args[0])
	if err != nil {
		return c.done(ctx, err)
	}
	return c.run(ctx, env, func(ctx context.Context, mc *memcache.Client, p *printer) error {
		op, err := mc.ApplyParameters(ctx, req)
		if err != nil {
			return err
		}
		return c.waitInstance(ctx, op, p)
	})
}

func (c *applyParamsRun) request(name string) (*memcachepb.ApplyParametersRequest, error) {
	switch {
	case c.all && len(c.nodes) > 0:
		return nil, errors.New("-all and -node can't be used together")
	case !c.all && len(c.nodes) == 0:
		return nil, errors.New("pass -all or at least one -node")
	}
	return &memcachepb.ApplyParametersRequest{
		Name:     name,
		NodeIds:  c.nodes,
		ApplyAll: c.all,
	}, nil
}
