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

// Package resttransport implements the Cloud Memcache transport on top of
// the HTTP/JSON mapping of the API.
package resttransport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/memcache/transport"
)

// Options configure the REST transport.
type Options struct {
	transport.Options

	// HTTPClient is a ready-to-use client.
	//
	// If set, credentials are not resolved and it is up to the client to
	// authenticate requests.
	HTTPClient *http.Client

	// Insecure makes the transport use plain HTTP, e.g. to reach an emulator.
	Insecure bool

	// EnableTracing wraps the HTTP transport with OpenTelemetry
	// instrumentation.
	EnableTracing bool
}

// Transport carries calls over HTTP/JSON.
type Transport struct {
	*transport.Base

	client     *http.Client
	ownsClient bool
	endpoint   string
}

var _ transport.Transport = (*Transport)(nil)

var unmarshalOpts = protojson.UnmarshalOptions{DiscardUnknown: true}

// New resolves credentials and prepares the HTTP client.
func New(ctx context.Context, opts *Options) (*Transport, error) {
	if opts == nil {
		opts = &Options{}
	}
	baseOpts := opts.Options
	ci := baseOpts.ClientInfo
	if ci == nil {
		ci = transport.DefaultClientInfo()
	}
	baseOpts.ClientInfo = ci.WithTransport("rest", "UNKNOWN")
	if opts.HTTPClient != nil {
		baseOpts.WithoutAuthentication = true
	}

	base, err := transport.NewBase(ctx, &baseOpts)
	if err != nil {
		return nil, err
	}

	scheme := "https"
	if opts.Insecure {
		scheme = "http"
	}
	t := &Transport{
		Base:     base,
		client:   opts.HTTPClient,
		endpoint: scheme + "://" + base.Host(),
	}
	if t.client == nil {
		var rt http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
		if opts.EnableTracing {
			rt = otelhttp.NewTransport(rt)
		}
		if c := base.Credentials(); c != nil {
			rt = &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, c), Base: rt}
		}
		t.client = &http.Client{Transport: rt}
		t.ownsClient = true
	}
	logging.Debugf(ctx, "memcache: REST transport for %s", t.endpoint)
	return t, nil
}

// do sends a request and decodes the response into resp.
//
// Outgoing metadata in ctx is sent as HTTP headers.
func (t *Transport) do(ctx context.Context, method, path string, query url.Values, body, resp proto.Message) error {
	u := t.endpoint + "/v1/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		blob, err := protojson.Marshal(body)
		if err != nil {
			return errors.Annotate(err, "marshalling request").Err()
		}
		reqBody = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return errors.Annotate(err, "building request").Err()
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		for k, vs := range md {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := t.client.Do(req)
	if err != nil {
		return statusFromTransportErr(ctx, err)
	}
	defer httpResp.Body.Close()
	if err := googleapi.CheckResponse(httpResp); err != nil {
		return statusFromHTTPErr(err)
	}
	blob, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return errors.Annotate(err, "reading response").Err()
	}
	if err := unmarshalOpts.Unmarshal(blob, resp); err != nil {
		return errors.Annotate(err, "decoding response").Err()
	}
	return nil
}

// ListInstances implements transport.Transport.
func (t *Transport) ListInstances(ctx context.Context, req *memcachepb.ListInstancesRequest, opts ...gax.CallOption) (*memcachepb.ListInstancesResponse, error) {
	q := url.Values{}
	if req.GetPageSize() != 0 {
		q.Set("pageSize", strconv.Itoa(int(req.GetPageSize())))
	}
	setIf(q, "pageToken", req.GetPageToken())
	setIf(q, "filter", req.GetFilter())
	setIf(q, "orderBy", req.GetOrderBy())

	resp := &memcachepb.ListInstancesResponse{}
	err := t.Invoke(ctx, transport.ListInstances, parent(req.GetParent()), func(ctx context.Context, _ gax.CallSettings) error {
		return t.do(ctx, http.MethodGet, req.GetParent()+"/instances", q, nil, resp)
	}, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetInstance implements transport.Transport.
func (t *Transport) GetInstance(ctx context.Context, req *memcachepb.GetInstanceRequest, opts ...gax.CallOption) (*memcachepb.Instance, error) {
	resp := &memcachepb.Instance{}
	err := t.Invoke(ctx, transport.GetInstance, name(req.GetName()), func(ctx context.Context, _ gax.CallSettings) error {
		return t.do(ctx, http.MethodGet, req.GetName(), nil, nil, resp)
	}, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateInstance implements transport.Transport.
func (t *Transport) CreateInstance(ctx context.Context, req *memcachepb.CreateInstanceRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	q := url.Values{}
	setIf(q, "instanceId", req.GetInstanceId())
	return t.mutate(ctx, transport.CreateInstance, parent(req.GetParent()),
		http.MethodPost, req.GetParent()+"/instances", q, req.GetInstance(), opts)
}

// UpdateInstance implements transport.Transport.
func (t *Transport) UpdateInstance(ctx context.Context, req *memcachepb.UpdateInstanceRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	q := url.Values{}
	if req.GetUpdateMask() != nil {
		mask, err := protojson.Marshal(req.GetUpdateMask())
		if err != nil {
			return nil, errors.Annotate(err, "marshalling update mask").Err()
		}
		q.Set("updateMask", strings.Trim(string(mask), `"`))
	}
	instName := req.GetInstance().GetName()
	routing := []transport.RoutingParam{{Key: "instance.name", Value: instName}}
	return t.mutate(ctx, transport.UpdateInstance, routing,
		http.MethodPatch, instName, q, req.GetInstance(), opts)
}

// UpdateParameters implements transport.Transport.
func (t *Transport) UpdateParameters(ctx context.Context, req *memcachepb.UpdateParametersRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	return t.mutate(ctx, transport.UpdateParameters, name(req.GetName()),
		http.MethodPatch, req.GetName()+":updateParameters", nil, req, opts)
}

// DeleteInstance implements transport.Transport.
func (t *Transport) DeleteInstance(ctx context.Context, req *memcachepb.DeleteInstanceRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	return t.mutate(ctx, transport.DeleteInstance, name(req.GetName()),
		http.MethodDelete, req.GetName(), nil, nil, opts)
}

// ApplyParameters implements transport.Transport.
func (t *Transport) ApplyParameters(ctx context.Context, req *memcachepb.ApplyParametersRequest, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	return t.mutate(ctx, transport.ApplyParameters, name(req.GetName()),
		http.MethodPost, req.GetName()+":applyParameters", nil, req, opts)
}

func (t *Transport) mutate(ctx context.Context, m transport.Method, routing []transport.RoutingParam, method, path string, q url.Values, body proto.Message, opts []gax.CallOption) (*longrunningpb.Operation, error) {
	op := &longrunningpb.Operation{}
	err := t.Invoke(ctx, m, routing, func(ctx context.Context, _ gax.CallSettings) error {
		return t.do(ctx, method, path, q, body, op)
	}, opts...)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// OperationsClient implements transport.Transport.
func (t *Transport) OperationsClient() (transport.OperationsClient, error) {
	return &operationsClient{t: t}, nil
}

// Close releases idle connections of the HTTP client created by New.
func (t *Transport) Close() error {
	if t.ownsClient {
		t.client.CloseIdleConnections()
	}
	return nil
}

func setIf(q url.Values, key, val string) {
	if val != "" {
		q.Set(key, val)
	}
}

func parent(v string) []transport.RoutingParam {
	return []transport.RoutingParam{{Key: "parent", Value: v}}
}

func name(v string) []transport.RoutingParam {
	return []transport.RoutingParam{{Key: "name", Value: v}}
}
