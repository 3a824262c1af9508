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
	"fmt"
	"sync"

	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/maruel/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/flag/stringmapflag"
	"go.chromium.org/luci/common/logging"

	memcache "go.chromium.org/memcache/apiv1"
)

////////////////////////////////////////////////////////////////////////////////
// list

func cmdList() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "list [flags] projects/<project>/locations/<location>",
		ShortDesc: "lists instances",
		LongDesc: `Lists instances in a location.

Use location "-" to list instances in all locations.`,
		CommandRun: func() subcommands.CommandRun {
			c := &listRun{}
			c.registerBaseFlags()
			c.Flags.IntVar(&c.pageSize, "page-size", 0, "Instances to fetch per call. The server picks if 0.")
			c.Flags.IntVar(&c.limit, "n", 0, "Stop after this many instances, if positive.")
			c.Flags.StringVar(&c.orderBy, "order-by", "", `Sort order, e.g. "name desc".`)
			c.Flags.StringVar(&c.filter, "filter", "", "Server-side filter expression.")
			return c
		},
	}
}

type listRun struct {
	baseCommandRun
	pageSize int
	limit    int
	orderBy  string
	filter   string
}

func (c *listRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := checkArgs(args, 1, 1); err != nil {
		return c.done(ctx, err)
	}
	return c.run(ctx, env, func(ctx context.Context, mc *memcache.Client, p *printer) error {
		return listInstances(ctx, mc, p, &memcachepb.ListInstancesRequest{
			Parent:   args[0],
			PageSize: int32(c.pageSize),
			OrderBy:  c.orderBy,
			Filter:   c.filter,
		}, c.limit)
	})
}

func listInstances(ctx context.Context, mc *memcache.Client, p *printer, req *memcachepb.ListInstancesRequest, limit int) error {
	it := mc.ListInstances(ctx, req)
	for n := 0; limit <= 0 || n < limit; n++ {
		switch inst, err := it.Next(); {
		case err == iterator.Done:
			return reportUnreachable(ctx, it.Unreachable)
		case err != nil:
			return err
		default:
			if err := p.Instance(inst); err != nil {
				return err
			}
		}
	}
	return reportUnreachable(ctx, it.Unreachable)
}

func reportUnreachable(ctx context.Context, locs []string) error {
	for _, loc := range locs {
		logging.Warningf(ctx, "location %s is unreachable, its instances are missing", loc)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// get

func cmdGet() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "get [flags] <instance name> [<instance name>...]",
		ShortDesc: "shows instances",
		LongDesc:  "Fetches one or more instances by their full resource names.",
		CommandRun: func() subcommands.CommandRun {
			c := &getRun{}
			c.registerBaseFlags()
			c.Flags.Float64Var(&c.qps, "qps", 10, "Max rate of GetInstance calls.")
			c.Flags.BoolVar(&c.params, "params", false, "Show memcached parameters instead of instances.")
			return c
		},
	}
}

type getRun struct {
	baseCommandRun
	qps    float64
	params bool
}

func (c *getRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := checkArgs(args, 1, -1); err != nil {
		return c.done(ctx, err)
	}
	return c.run(ctx, env, func(ctx context.Context, mc *memcache.Client, p *printer) error {
		insts, err := getInstances(ctx, mc, args, c.qps)
		for _, inst := range insts {
			if inst == nil {
				continue
			}
			pr := p.Instance
			if c.params {
				pr = p.Parameters
			}
			if perr := pr(inst); perr != nil {
				return perr
			}
		}
		return err
	})
}

// getInstances fetches instances concurrently, at most qps calls per second.
//
// Results are ordered as names. Instances that failed to load are nil in the
// result and their errors are returned as errors.MultiError.
func getInstances(ctx context.Context, mc *memcache.Client, names []string, qps float64) ([]*memcachepb.Instance, error) {
	if qps <= 0 {
		return nil, errors.Reason("-qps must be positive, got %v", qps).Err()
	}
	limiter := rate.NewLimiter(rate.Limit(qps), 1)
	out := make([]*memcachepb.Instance, len(names))

	var mu sync.Mutex
	var errs errors.MultiError

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for i, name := range names {
		eg.Go(func() error {
			if err := limiter.Wait(ectx); err != nil {
				return err
			}
			inst, err := mc.GetInstance(ectx, &memcachepb.GetInstanceRequest{Name: name})
			if err != nil {
				mu.Lock()
				errs.MaybeAdd(errors.Annotate(err, "getting %s", name).Err())
				mu.Unlock()
				return nil
			}
			out[i] = inst
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, errs.AsError()
}

////////////////////////////////////////////////////////////////////////////////
// create

func cmdCreate() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "create [flags] projects/<project>/locations/<location>/instances/<id>",
		ShortDesc: "creates an instance",
		LongDesc:  "Creates an instance.",
		CommandRun: func() subcommands.CommandRun {
			c := &createRun{labels: stringmapflag.Value{}, params: stringmapflag.Value{}}
			c.registerBaseFlags()
			c.registerWaitFlag()
			c.Flags.StringVar(&c.displayName, "display-name", "", "Human readable name.")
			c.Flags.IntVar(&c.nodes, "nodes", 1, "Number of nodes.")
			c.Flags.IntVar(&c.cpus, "cpus", 1, "CPUs per node.")
			c.Flags.IntVar(&c.memoryMB, "memory-mb", 1024, "Memory per node in MiB.")
			c.Flags.StringVar(&c.network, "network", "", "Full name of the VPC network, the default network if not set.")
			c.Flags.Var(&c.labels, "label", "A label as key=value. Can be specified multiple times.")
			c.Flags.Var(&c.params, "param", "A memcached parameter as key=value. Can be specified multiple times.")
			return c
		},
	}
}

type createRun struct {
	baseCommandRun
	displayName string
	nodes       int
	cpus        int
	memoryMB    int
	network     string
	labels      stringmapflag.Value
	params      stringmapflag.Value
}

func (c *createRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := checkArgs(args, 1, 1); err != nil {
		return c.done(ctx, err)
	}
	req, err := c.request(args[0])
	if err != nil {
		return c.done(ctx, err)
	}
	return c.run(ctx, env, func(ctx context.Context, mc *memcache.Client, p *printer) error {
		op, err := mc.CreateInstance(ctx, req)
		if err != nil {
			return err
		}
		return c.waitInstance(ctx, op, p)
	})
}

// request builds a CreateInstanceRequest from the flags.
func (c *createRun) request(name string) (*memcachepb.CreateInstanceRequest, error) {
	parent, id, err := splitInstanceName(name)
	if err != nil {
		return nil, err
	}
	inst := &memcachepb.Instance{
		DisplayName:       c.displayName,
		AuthorizedNetwork: c.network,
		NodeCount:         int32(c.nodes),
		NodeConfig: &memcachepb.Instance_NodeConfig{
			CpuCount:     int32(c.cpus),
			MemorySizeMb: int32(c.memoryMB),
		},
		Labels: c.labels,
	}
	if len(c.params) > 0 {
		inst.Parameters = &memcachepb.MemcacheParameters{Params: c.params}
	}
	return &memcachepb.CreateInstanceRequest{
		Parent:     parent,
		InstanceId: id,
		Instance:   inst,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// update

func cmdUpdate() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "update [flags] <instance name>",
		ShortDesc: "updates an instance",
		LongDesc: `Updates the display name, labels or node count of an instance.

Only fields with a flag given are updated. -label replaces all labels.`,
		CommandRun: func() subcommands.CommandRun {
			c := &updateRun{labels: stringmapflag.Value{}}
			c.registerBaseFlags()
			c.registerWaitFlag()
			c.Flags.StringVar(&c.displayName, "display-name", "", "New human readable name.")
			c.Flags.IntVar(&c.nodes, "nodes", 0, "New number of nodes.")
			c.Flags.Var(&c.labels, "label", "A label as key=value. Can be specified multiple times.")
			c.Flags.BoolVar(&c.clearLabels, "clear-labels", false, "Remove all labels.")
			return c
		},
	}
}

type updateRun struct {
	baseCommandRun
	displayName string
	nodes       int
	labels      stringmapflag.Value
	clearLabels bool
}

func (c *updateRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := checkArgs(args, 1, 1); err != nil {
		return c.done(ctx, err)
	}
	req, err := c.request(args[0], setFlags(&c.Flags))
	if err != nil {
		return c.done(ctx, err)
	}
	return c.run(ctx, env, func(ctx context.Context, mc *memcache.Client, p *printer) error {
		op, err := mc.UpdateInstance(ctx, req)
		if err != nil {
			return err
		}
		return c.waitInstance(ctx, op, p)
	})
}

// request builds an UpdateInstanceRequest with a mask of the given flags.
func (c *updateRun) request(name string, set map[string]bool) (*memcachepb.UpdateInstanceRequest, error) {
	inst := &memcachepb.Instance{Name: name}
	mask := &fieldmaskpb.FieldMask{}
	if set["display-name"] {
		inst.DisplayName = c.displayName
		mask.Paths = append(mask.Paths, "display_name")
	}
	switch {
	case set["label"] && c.clearLabels:
		return nil, errors.New("-label and -clear-labels can't be used together")
	case set["label"]:
		inst.Labels = c.labels
		mask.Paths = append(mask.Paths, "labels")
	case c.clearLabels:
		mask.Paths = append(mask.Paths, "labels")
	}
	if set["nodes"] {
		if c.nodes <= 0 {
			return nil, errors.Reason("-nodes must be positive, got %d", c.nodes).Err()
		}
		inst.NodeCount = int32(c.nodes)
		mask.Paths = append(mask.Paths, "node_count")
	}
	if len(mask.Paths) == 0 {
		return nil, errors.New("nothing to update, pass -display-name, -label, -clear-labels or -nodes")
	}
	return &memcachepb.UpdateInstanceRequest{Instance: inst, UpdateMask: mask}, nil
}

////////////////////////////////////////////////////////////////////////////////
// delete

func cmdDelete() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "delete [flags] <instance name>",
		ShortDesc: "deletes an instance",
		LongDesc:  "Deletes an instance.",
		CommandRun: func() subcommands.CommandRun {
			c := &deleteRun{}
			c.registerBaseFlags()
			c.registerWaitFlag()
			return c
		},
	}
}

type deleteRun struct {
	baseCommandRun
}

func (c *deleteRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if err := checkArgs(args, 1, 1); err != nil {
		return c.done(ctx, err)
	}
	return c.run(ctx, env, func(ctx context.Context, mc *memcache.Client, p *printer) error {
		op, err := mc.DeleteInstance(ctx, &memcachepb.DeleteInstanceRequest{Name: args[0]})
		if err != nil {
			return err
		}
		if !c.wait {
			return printPending(op, p)
		}
		if err := op.Wait(ctx); err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.out, "Deleted %s\n", args[0])
		return err
	})
}
