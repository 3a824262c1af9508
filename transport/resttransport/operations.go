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

package resttransport

import (
	"context"
	"net/http"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"

	"go.chromium.org/memcache/transport"
)

// operationsClient polls operations via HTTP/JSON.
type operationsClient struct {
	t *Transport
}

var _ transport.OperationsClient = (*operationsClient)(nil)

func (c *operationsClient) invoke(ctx context.Context, opName string, call gax.APICall, opts []gax.CallOption) error {
	md := metadata.Pairs(transport.APIClientHeader, c.t.ClientInfo().Header())
	md.Set(transport.RequestParamsHeader, transport.RoutingHeader(transport.RoutingParam{Key: "name", Value: opName}))
	if qp := c.t.QuotaProjectID(); qp != "" {
		md.Set(transport.UserProjectHeader, qp)
	}
	return gax.Invoke(transport.WithOutgoingMetadata(ctx, md), call, opts...)
}

func (c *operationsClient) GetOperation(ctx context.Context, req *longrunningpb.GetOperationRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	op := &longrunningpb.Operation{}
	err := c.invoke(ctx, req.GetName(), func(ctx context.Context, _ gax.CallSettings) error {
		return c.t.do(ctx, http.MethodGet, req.GetName(), nil, nil, op)
	}, opts)
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (c *operationsClient) CancelOperation(ctx context.Context, req *longrunningpb.CancelOperationRequest, opts ...gax.CallOption) error {
	return c.invoke(ctx, req.GetName(), func(ctx context.Context, _ gax.CallSettings) error {
		return c.t.do(ctx, http.MethodPost, req.GetName()+":cancel", nil, &emptypb.Empty{}, &emptypb.Empty{})
	}, opts)
}

func (c *operationsClient) DeleteOperation(ctx context.Context, req *longrunningpb.DeleteOperationRequest, opts ...gax.CallOption) error {
	return c.invoke(ctx, req.GetName(), func(ctx context.Context, _ gax.CallSettings) error {
		return c.t.do(ctx, http.MethodDelete, req.GetName(), nil, nil, &emptypb.Empty{})
	}, opts)
}
