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

// Package memcache is a client for the Cloud Memcache control plane API.
//
// It manages Memorystore for Memcached instances: listing, creating,
// resizing and deleting them, and rolling out memcached parameters to their
// nodes. Mutations are long-running operations; the returned handles can be
// polled or waited on.
//
// Usage:
//
//	c, err := memcache.NewClient(ctx, &grpctransport.Options{})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	op, err := c.CreateInstance(ctx, &memcachepb.CreateInstanceRequest{...})
//	if err != nil {
//		return err
//	}
//	inst, err := op.Wait(ctx)
package memcache

import (
	"context"
	"time"

	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"

	"go.chromium.org/memcache/transport"
	"go.chromium.org/memcache/transport/grpctransport"
	"go.chromium.org/memcache/transport/resttransport"
)

// CallOptions contains the call options for each method of Client.
//
// They are applied before options passed to a call.
type CallOptions struct {
	ListInstances    []gax.CallOption
	GetInstance      []gax.CallOption
	CreateInstance   []gax.CallOption
	UpdateInstance   []gax.CallOption
	UpdateParameters []gax.CallOption
	DeleteInstance   []gax.CallOption
	ApplyParameters  []gax.CallOption
}

// defaultCallOptions retries reads on transient errors; mutations are not
// retried.
func defaultCallOptions() *CallOptions {
	idempotent := []gax.CallOption{
		gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes([]codes.Code{
				codes.Unavailable,
			}, gax.Backoff{
				Initial:    100 * time.Millisecond,
				Max:        60 * time.Second,
				Multiplier: 1.3,
			})
		}),
	}
	return &CallOptions{
		ListInstances: idempotent,
		GetInstance:   idempotent,
	}
}

// DefaultPollBackoff is used by Wait of operation handles.
func DefaultPollBackoff() gax.Backoff {
	return gax.Backoff{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 1.5,
	}
}

// Client manages Memcached instances.
//
// Methods may be called concurrently.
type Client struct {
	tr  transport.Transport
	ops transport.OperationsClient

	// CallOptions are the per-method call options, set by constructors.
	CallOptions *CallOptions

	// PollBackoff paces polls in Wait of operation handles.
	PollBackoff gax.Backoff
}

// NewClient creates a client talking gRPC.
func NewClient(ctx context.Context, opts *grpctransport.Options) (*Client, error) {
	tr, err := grpctransport.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	return newClient(tr)
}

// NewRESTClient creates a client talking HTTP/JSON.
func NewRESTClient(ctx context.Context, opts *resttransport.Options) (*Client, error) {
	tr, err := resttransport.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	return newClient(tr)
}

// NewClientWithTransport creates a client on top of an existing transport.
//
// The transport is closed by Close.
func NewClientWithTransport(tr transport.Transport) (*Client, error) {
	return newClient(tr)
}

func newClient(tr transport.Transport) (*Client, error) {
	ops, err := tr.OperationsClient()
	if err != nil {
		tr.Close()
		return nil, err
	}
	return &Client{
		tr:          tr,
		ops:         ops,
		CallOptions: defaultCallOptions(),
		PollBackoff: DefaultPollBackoff(),
	}, nil
}

// Transport is the transport the client calls through.
func (c *Client) Transport() transport.Transport {
	return c.tr
}

// Close closes the transport.
//
// It must not be called while the transport is used by other clients.
func (c *Client) Close() error {
	return c.tr.Close()
}

func withDefaults(defaults, opts []gax.CallOption) []gax.CallOption {
	return append(defaults[0:len(defaults):len(defaults)], opts...)
}

// GetInstance gets details of a single instance.
func (c *Client) GetInstance(ctx context.Context, req *memcachepb.GetInstanceRequest, opts ...gax.CallOption) (*memcachepb.Instance, error) {
	return c.tr.GetInstance(ctx, req, withDefaults(c.CallOptions.GetInstance, opts)...)
}

// CreateInstance creates a new instance in a given location.
func (c *Client) CreateInstance(ctx context.Context, req *memcachepb.CreateInstanceRequest, opts ...gax.CallOption) (*InstanceOperation, error) {
	op, err := c.tr.CreateInstance(ctx, req, withDefaults(c.CallOptions.CreateInstance, opts)...)
	if err != nil {
		return nil, err
	}
	return c.newInstanceOperation(op), nil
}

// UpdateInstance updates an existing instance.
//
// Only fields listed in the update mask are changed.
func (c *Client) UpdateInstance(ctx context.Context, req *memcachepb.UpdateInstanceRequest, opts ...gax.CallOption) (*InstanceOperation, error) {
	op, err := c.tr.UpdateInstance(ctx, req, withDefaults(c.CallOptions.UpdateInstance, opts)...)
	if err != nil {
		return nil, err
	}
	return c.newInstanceOperation(op), nil
}

// UpdateParameters updates the defined memcached parameters of an instance.
//
// The new parameters take effect on nodes only after ApplyParameters.
func (c *Client) UpdateParameters(ctx context.Context, req *memcachepb.UpdateParametersRequest, opts ...gax.CallOption) (*InstanceOperation, error) {
	op, err := c.tr.UpdateParameters(ctx, req, withDefaults(c.CallOptions.UpdateParameters, opts)...)
	if err != nil {
		return nil, err
	}
	return c.newInstanceOperation(op), nil
}

// DeleteInstance deletes a single instance.
func (c *Client) DeleteInstance(ctx context.Context, req *memcachepb.DeleteInstanceRequest, opts ...gax.CallOption) (*DeleteInstanceOperation, error) {
	op, err := c.tr.DeleteInstance(ctx, req, withDefaults(c.CallOptions.DeleteInstance, opts)...)
	if err != nil {
		return nil, err
	}
	return &DeleteInstanceOperation{c.newOperation(op)}, nil
}

// ApplyParameters rolls out the instance parameters to the given nodes, or
// to all nodes.
func (c *Client) ApplyParameters(ctx context.Context, req *memcachepb.ApplyParametersRequest, opts ...gax.CallOption) (*InstanceOperation, error) {
	op, err := c.tr.ApplyParameters(ctx, req, withDefaults(c.CallOptions.ApplyParameters, opts)...)
	if err != nil {
		return nil, err
	}
	return c.newInstanceOperation(op), nil
}
