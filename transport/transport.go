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

// Package transport defines the contract between the Cloud Memcache client
// and the RPC mechanism that carries its calls.
//
// A concrete transport (see the grpctransport and resttransport packages)
// embeds *Base, which resolves credentials at construction time and applies
// the uniform per-call policy (default timeout, client metadata), and then
// overrides the methods of the Transport interface. Methods not overridden
// fail with errors tagged NotImplemented.
package transport

import (
	"context"
	"time"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/googleapis/gax-go/v2"

	"go.chromium.org/memcache/creds"
)

const (
	// DefaultHost is the API endpoint used when none is configured.
	DefaultHost = "memcache.googleapis.com"

	// DefaultPort is appended to hosts that don't specify a port.
	DefaultPort = "443"

	// DefaultTimeout bounds every call whose context has no deadline.
	DefaultTimeout = 1200 * time.Second
)

// DefaultAuthScopes returns the OAuth scopes required by the API.
func DefaultAuthScopes() []string {
	return []string{creds.CloudPlatformScope}
}

// Method names one of the RPCs of the CloudMemcache service.
type Method string

// All methods of the CloudMemcache service bound by transports.
const (
	ListInstances    Method = "ListInstances"
	GetInstance      Method = "GetInstance"
	CreateInstance   Method = "CreateInstance"
	UpdateInstance   Method = "UpdateInstance"
	UpdateParameters Method = "UpdateParameters"
	DeleteInstance   Method = "DeleteInstance"
	ApplyParameters  Method = "ApplyParameters"
)

// Methods lists all bound methods.
var Methods = []Method{
	ListInstances,
	GetInstance,
	CreateInstance,
	UpdateInstance,
	UpdateParameters,
	DeleteInstance,
	ApplyParameters,
}

// FullName is the gRPC name of the method, e.g.
// "/google.cloud.memcache.v1.CloudMemcache/GetInstance".
func (m Method) FullName() string {
	return "/google.cloud.memcache.v1.CloudMemcache/" + string(m)
}

// Transport carries CloudMemcache calls.
//
// Methods may be called concurrently. Mutating methods return a handle of a
// long-running operation which can be polled via OperationsClient.
type Transport interface {
	ListInstances(ctx context.Context, req *memcachepb.ListInstancesRequest, opts ...gax.CallOption) (*memcachepb.ListInstancesResponse, error)
	GetInstance(ctx context.Context, req *memcachepb.GetInstanceRequest, opts ...gax.CallOption) (*memcachepb.Instance, error)
	CreateInstance(ctx context.Context, req *memcachepb.CreateInstanceRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error)
	UpdateInstance(ctx context.Context, req *memcachepb.UpdateInstanceRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error)
	UpdateParameters(ctx context.Context, req *memcachepb.UpdateParametersRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error)
	DeleteInstance(ctx context.Context, req *memcachepb.DeleteInstanceRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error)
	ApplyParameters(ctx context.Context, req *memcachepb.ApplyParametersRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error)

	// OperationsClient returns the client for polling and cancelling
	// long-running operations returned by the mutating methods.
	OperationsClient() (OperationsClient, error)

	// Close releases resources held by the transport.
	//
	// Must not be called while the transport is shared with other clients.
	Close() error
}

// OperationsClient polls and cancels long-running operations.
//
// It is implemented by *lroauto.OperationsClient.
type OperationsClient interface {
	GetOperation(ctx context.Context, req *longrunningpb.GetOperationRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error)
	CancelOperation(ctx context.Context, req *longrunningpb.CancelOperationRequest, opts ...gax.CallOption) error
	DeleteOperation(ctx context.Context, req *longrunningpb.DeleteOperationRequest, opts ...gax.CallOption) error
}
