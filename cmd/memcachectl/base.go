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
	"flag"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/maruel/subcommands"
	"github.com/mitchellh/go-homedir"

	"go.chromium.org/luci/common/errors"
	luciflag "go.chromium.org/luci/common/flag"
	"go.chromium.org/luci/common/logging"

	memcache "go.chromium.org/memcache/apiv1"
	"go.chromium.org/memcache/transport"
	"go.chromium.org/memcache/transport/grpctransport"
	"go.chromium.org/memcache/transport/resttransport"
)

// baseCommandRun holds flags shared by all subcommands.
type baseCommandRun struct {
	subcommands.CommandRunBase

	host            string
	credentialsFile string
	scopes          []string
	quotaProject    string
	jwt             bool
	rest            bool
	insecure        bool
	format          string
	timeout         time.Duration
	wait            bool
}

func (r *baseCommandRun) registerBaseFlags() {
	r.Flags.StringVar(&r.host, "host", transport.DefaultHost, "Host of the Cloud Memcache API.")
	r.Flags.StringVar(&r.credentialsFile, "credentials-file", "", "Path to a JSON credentials file. Application default credentials are used if not set.")
	r.Flags.Var(luciflag.StringSlice(&r.scopes), "scope", "OAuth scope to request. Can be specified multiple times.")
	r.Flags.StringVar(&r.quotaProject, "quota-project", "", "Project to bill for quota.")
	r.Flags.BoolVar(&r.jwt, "jwt", false, "Use self-signed JWTs with service account credentials.")
	r.Flags.BoolVar(&r.rest, "rest", false, "Use the HTTP/JSON API instead of gRPC.")
	r.Flags.BoolVar(&r.insecure, "insecure", false, "Talk to the host in plaintext.")
	r.Flags.StringVar(&r.format, "format", formatTable, "Output format: table, json or yaml.")
	r.Flags.DurationVar(&r.timeout, "timeout", 0, "Overall deadline of the command, if positive.")
}

// registerWaitFlag registers -wait for commands starting operations.
func (r *baseCommandRun) registerWaitFlag() {
	r.Flags.BoolVar(&r.wait, "wait", false, "Wait for the operation to finish.")
}

func (r *baseCommandRun) transportOptions(env subcommands.Env) (transport.Options, error) {
	credsFile, err := homedir.Expand(r.credentialsFile)
	if err != nil {
		return transport.Options{}, errors.Annotate(err, "bad -credentials-file").Err()
	}
	opts := transport.Options{
		Host:               r.host,
		CredentialsFile:    credsFile,
		Scopes:             r.scopes,
		QuotaProjectID:     r.quotaProject,
		AlwaysUseJWTAccess: r.jwt,
		ClientInfo:         transport.DefaultClientInfo(),
	}
	opts.ClientInfo.UserAgent = "memcachectl/" + transport.Version
	if emu := env[EmulatorHostEnv]; emu.Exists && emu.Value != "" {
		opts.Host = emu.Value
		opts.CredentialsFile = ""
		opts.WithoutAuthentication = true
	}
	return opts, nil
}

// newClient creates a client configured by the flags and the environment.
func (r *baseCommandRun) newClient(ctx context.Context, env subcommands.Env) (*memcache.Client, error) {
	opts, err := r.transportOptions(env)
	if err != nil {
		return nil, err
	}
	insecure := r.insecure || opts.WithoutAuthentication
	if opts.WithoutAuthentication {
		logging.Debugf(ctx, "using the emulator at %s", opts.Host)
	}
	if r.rest {
		return memcache.NewRESTClient(ctx, &resttransport.Options{Options: opts, Insecure: insecure})
	}
	return memcache.NewClient(ctx, &grpctransport.Options{Options: opts, Insecure: insecure})
}

func (r *baseCommandRun) printer() (*printer, error) {
	return newPrinter(os.Stdout, r.format)
}

// withTimeout applies the -timeout flag.
func (r *baseCommandRun) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

// run creates the client and the printer and calls fn.
func (r *baseCommandRun) run(ctx context.Context, env subcommands.Env, fn func(ctx context.Context, c *memcache.Client, p *printer) error) int {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	p, err := r.printer()
	if err != nil {
		return r.done(ctx, err)
	}
	c, err := r.newClient(ctx, env)
	if err != nil {
		return r.done(ctx, err)
	}
	defer c.Close()
	err = fn(ctx, c, p)
	if ferr := p.Flush(); err == nil {
		err = ferr
	}
	return r.done(ctx, err)
}

func (r *baseCommandRun) done(ctx context.Context, err error) int {
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return 1
	}
	return 0
}

// waitInstance prints the instance once op finishes if -wait is set, or op
// itself otherwise.
func (r *baseCommandRun) waitInstance(ctx context.Context, op *memcache.InstanceOperation, p *printer) error {
	if !r.wait {
		return printPending(op, p)
	}
	inst, err := op.Wait(ctx)
	if err != nil {
		return errors.Annotate(err, "operation %s", op.Name()).Err()
	}
	return p.Instance(inst)
}

// pendingOperation is a started operation.
type pendingOperation interface {
	Name() string
	Metadata() (*memcachepb.OperationMetadata, error)
}

func printPending(op pendingOperation, p *printer) error {
	meta, err := op.Metadata()
	if err != nil {
		return err
	}
	return p.Pending(op.Name(), meta)
}

// setFlags returns names of flags given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// splitInstanceName splits a full instance name into its parent and ID.
func splitInstanceName(name string) (parent, id string, err error) {
	parts := strings.Split(name, "/")
	if len(parts) != 6 || parts[0] != "projects" || parts[2] != "locations" || parts[4] != "instances" || parts[5] == "" {
		return "", "", errors.Reason("bad instance name %q, want projects/<project>/locations/<location>/instances/<id>", name).Err()
	}
	return strings.Join(parts[:4], "/"), parts[5], nil
}

// checkArgs verifies the number of positional arguments.
func checkArgs(args []string, min, max int) error {
	switch {
	case len(args) < min:
		return errors.Reason("expected at least %d positional arguments, got %d", min, len(args)).Err()
	case max >= 0 && len(args) > max:
		return errors.Reason("expected at most %d positional arguments, got %q", max, strings.Join(args, " ")).Err()
	}
	return nil
}
