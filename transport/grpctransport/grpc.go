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

// Package grpctransport implements the Cloud Memcache transport on top of
// gRPC.
package grpctransport

import (
	"context"

	lroauto "cloud.google.com/go/longrunning/autogen"
	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/memcache/transport"
)

// Options configure the gRPC transport.
type Options struct {
	transport.Options

	// Conn is a ready-to-use connection to the service.
	//
	// If set, credentials are not resolved and it is up to the connection to
	// authenticate calls. The connection is not closed by Close.
	//
	// gRPC takes the user agent from the dial options only, so
	// ClientInfo.UserAgent does not reach the server through Conn. Pass
	// grpc.WithUserAgent when dialing it.
	Conn *grpc.ClientConn

	// Insecure makes the transport dial without TLS, e.g. to reach an
	// emulator.
	Insecure bool

	// DialOptions are appended to the options used to dial Host.
	DialOptions []grpc.DialOption

	// EnableTracing installs the OpenTelemetry stats handler.
	EnableTracing bool
}

// Transport carries calls over gRPC.
type Transport struct {
	*transport.Base

	conn     *grpc.ClientConn
	ownsConn bool
	stub     memcachepb.CloudMemcacheClient
	ops      *operationsClient
}

var _ transport.Transport = (*Transport)(nil)

// New resolves credentials and dials the service.
//
// The connection is established lazily, on the first call.
func New(ctx context.Context, opts *Options) (*Transport, error) {
	if opts == nil {
		opts = &Options{}
	}
	baseOpts := opts.Options
	ci := baseOpts.ClientInfo
	if ci == nil {
		ci = transport.DefaultClientInfo()
	}
	baseOpts.ClientInfo = ci.WithTransport("grpc", grpc.Version)
	if opts.Conn != nil {
		baseOpts.WithoutAuthentication = true
	}

	base, err := transport.NewBase(ctx, &baseOpts)
	if err != nil {
		return nil, err
	}

	t := &Transport{Base: base, conn: opts.Conn}
	if t.conn == nil {
		if t.conn, err = dial(base, opts); err != nil {
			return nil, err
		}
		t.ownsConn = true
	}
	t.stub = memcachepb.NewCloudMemcacheClient(t.conn)
	lro, err := lroauto.NewOperationsClient(ctx, option.WithGRPCConn(t.conn))
	if err != nil {
		if t.ownsConn {
			t.conn.Close()
		}
		return nil, errors.Annotate(err, "creating operations client").Err()
	}
	t.ops = &operationsClient{lro: lro, quotaProject: base.QuotaProjectID()}
	logging.Debugf(ctx, "memcache: gRPC transport for %s", base.Host())
	return t, nil
}

func dial(base *transport.Base, opts *Options) (*grpc.ClientConn, error) {
	var dialOpts []grpc.DialOption
	if opts.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if c := base.Credentials(); c != nil {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(perRPCCreds{
			ts:     oauth2.ReuseTokenSource(nil, c),
			secure: !opts.Insecure,
		}))
	}
	if ua := base.ClientInfo().UserAgent; ua != "" {
		dialOpts = append(dialOpts, grpc.WithUserAgent(ua))
	}
	if opts.EnableTracing {
		dialOpts = append(dialOpts, grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(base.Host(), dialOpts...)
	if err != nil {
		return nil, errors.Annotate(err, "dialing %s", base.Host()).Err()
	}
	return conn, nil
}

// perRPCCreds attaches OAuth2 tokens to calls.
type perRPCCreds struct {
	ts     oauth2.TokenSource
	secure bool
}

func (creds perRPCCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	tok, err := creds.ts.Token()
	if err != nil {
		return nil, errors.Annotate(err, "getting access token").Err()
	}
	return map[string]string{
		transport.AuthorizationHeader: tok.Type() + " " + tok.AccessToken,
	}, nil
}

func (creds perRPCCreds) RequireTransportSecurity() bool {
	return creds.secure
}

// operationsClient polls operations over the connection of the transport.
type operationsClient struct {
	lro          *lroauto.OperationsClient
	quotaProject string
}

var _ transport.OperationsClient = (*operationsClient)(nil)

func (c *operationsClient) outgoing(ctx context.Context) context.Context {
	if c.quotaProject == "" {
		return ctx
	}
	return transport.WithOutgoingMetadata(ctx, metadata.Pairs(transport.UserProjectHeader, c.quotaProject))
}

func (c *operationsClient) GetOperation(ctx context.Context, req *longrunningpb.GetOperationRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	return c.lro.GetOperation(c.outgoing(ctx), req, opts...)
}

func (c *operationsClient) CancelOperation(ctx context.Context, req *longrunningpb.CancelOperationRequest, opts ...gax.CallOption) error {
	return c.lro.CancelOperation(c.outgoing(ctx), req, opts...)
}

func (c *operationsClient) DeleteOperation(ctx context.Context, req *longrunningpb.DeleteOperationRequest, opts ...gax.CallOption) error {
	return c.lro.DeleteOperation(c.outgoing(ctx), req, opts...)
}

// Conn is the underlying connection.
func (t *Transport) Conn() *grpc.ClientConn {
	return t.conn
}

// ListInstances implements transport.Transport.
func (t *Transport) ListInstances(ctx context.Context, req *memcachepb.ListInstancesRequest, opts ...gax.CallOption) (*memcachepb.ListInstancesResponse, error) {
	var resp *memcachepb.ListInstancesResponse
	err := t.Invoke(ctx, transport.ListInstances, parent(req.GetParent()), func(ctx context.Context, settings gax.CallSettings) (err error) {
		resp, err = t.stub.ListInstances(ctx, req, settings.GRPC...)
		return err
	}, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetInstance implements transport.Transport.
func (t *Transport) GetInstance(ctx context.Context, req *memcachepb.GetInstanceRequest, opts ...gax.CallOption) (*memcachepb.Instance, error) {
	var resp *memcachepb.Instance
	err := t.Invoke(ctx, transport.GetInstance, name(req.GetName()), func(ctx context.Context, settings gax.CallSettings) (err error) {
		resp, err = t.stub.GetInstance(ctx, req, settings.GRPC...)
		return err
	}, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateInstance implements transport.Transport.
func (t *Transport) CreateInstance(ctx context.Context, req *memcachepb.CreateInstanceRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	return t.mutate(ctx, transport.CreateInstance, parent(req.GetParent()), func(ctx context.Context, co ...grpc.CallOption) (*longrunningpb.Operation, error) {
		return t.stub.CreateInstance(ctx, req, co...)
	}, opts)
}

// UpdateInstance implements transport.Transport.
func (t *Transport) UpdateInstance(ctx context.Context, req *memcachepb.UpdateInstanceRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	routing := []transport.RoutingParam{{Key: "instance.name", Value: req.GetInstance().GetName()}}
	return t.mutate(ctx, transport.UpdateInstance, routing, func(ctx context.Context, co ...grpc.CallOption) (*longrunningpb.Operation, error) {
		return t.stub.UpdateInstance(ctx, req, co...)
	}, opts)
}

// UpdateParameters implements transport.Transport.
func (t *Transport) UpdateParameters(ctx context.Context, req *memcachepb.UpdateParametersRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	return t.mutate(ctx, transport.UpdateParameters, name(req.GetName()), func(ctx context.Context, co ...grpc.CallOption) (*longrunningpb.Operation, error) {
		return t.stub.UpdateParameters(ctx, req, co...)
	}, opts)
}

// DeleteInstance implements transport.Transport.
func (t *Transport) DeleteInstance(ctx context.Context, req *memcachepb.DeleteInstanceRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	return t.mutate(ctx, transport.DeleteInstance, name(req.GetName()), func(ctx context.Context, co ...grpc.CallOption) (*longrunningpb.Operation, error) {
		return t.stub.DeleteInstance(ctx, req, co...)
	}, opts)
}

// ApplyParameters implements transport.Transport.
func (t *Transport) ApplyParameters(ctx context.Context, req *memcachepb.ApplyParametersRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	return t.mutate(ctx, transport.ApplyParameters, name(req.GetName()), func(ctx context.Context, co ...grpc.CallOption) (*longrunningpb.Operation, error) {
		return t.stub.ApplyParameters(ctx, req, co...)
	}, opts)
}

// mutate invokes a method returning a long-running operation.
func (t *Transport) mutate(ctx context.Context, m transport.Method, routing []transport.RoutingParam, call func(context.Context, ...grpc.CallOption) (*longrunningpb.Operation, error), opts []gax.CallOption) (*longrunningpb.Operation, error) {
	var op *longrunningpb.Operation
	err := t.Invoke(ctx, m, routing, func(ctx context.Context, settings gax.CallSettings) (err error) {
		op, err = call(ctx, settings.GRPC...)
		return err
	}, opts...)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// OperationsClient implements transport.Transport.
func (t *Transport) OperationsClient() (transport.OperationsClient, error) {
	return t.ops, nil
}

// Close closes the connection if it was dialed by New.
func (t *Transport) Close() error {
	if !t.ownsConn {
		return nil
	}
	return t.conn.Close()
}

func parent(v string) []transport.RoutingParam {
	return []transport.RoutingParam{{Key: "parent", Value: v}}
}

func name(v string) []transport.RoutingParam {
	return []transport.RoutingParam{{Key: "name", Value: v}}
}
