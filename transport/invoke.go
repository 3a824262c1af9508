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

package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/grpc/grpcutil"
)

// Metadata keys attached to outgoing calls.
const (
	APIClientHeader      = "x-goog-api-client"
	RequestParamsHeader  = "x-goog-request-params"
	UserProjectHeader    = "x-goog-user-project"
	UserAgentHeader      = "user-agent"
	AuthorizationHeader  = "authorization"
	defaultRoutingFormat = "%s=%s"
)

// WrappedMethod is the per-call policy applied to a method.
//
// All methods share the same policy. gRPC treats "user-agent" as a reserved
// header and drops it from Metadata, so the gRPC transport sets it on the
// connection instead.
type WrappedMethod struct {
	Method   Method
	Timeout  time.Duration
	Metadata metadata.MD
}

func (b *Base) prepWrappedMethods() {
	md := metadata.Pairs(APIClientHeader, b.clientInfo.Header())
	if b.clientInfo.UserAgent != "" {
		md.Set(UserAgentHeader, b.clientInfo.UserAgent)
	}
	if b.quotaProject != "" {
		md.Set(UserProjectHeader, b.quotaProject)
	}
	b.wrapped = make(map[Method]*WrappedMethod, len(Methods))
	for _, m := range Methods {
		b.wrapped[m] = &WrappedMethod{
			Method:   m,
			Timeout:  DefaultTimeout,
			Metadata: md,
		}
	}
}

// WrappedMethod returns the policy applied to calls of m.
//
// Panics if m is not one of Methods.
func (b *Base) WrappedMethod(m Method) *WrappedMethod {
	w, ok := b.wrapped[m]
	if !ok {
		panic(fmt.Sprintf("unknown method %q", m))
	}
	return w
}

// RoutingParam is a "key=value" pair of the "x-goog-request-params" header.
type RoutingParam struct {
	Key   string
	Value string
}

// RoutingHeader renders routing params into a header value.
//
// Params with empty values are skipped.
func RoutingHeader(params ...RoutingParam) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.Value != "" {
			parts = append(parts, fmt.Sprintf(defaultRoutingFormat, p.Key, url.QueryEscape(p.Value)))
		}
	}
	return strings.Join(parts, "&")
}

// WithOutgoingMetadata adds md to the outgoing metadata of ctx.
//
// Each key of md replaces all values of that key already in ctx. Other keys
// of ctx are kept.
func WithOutgoingMetadata(ctx context.Context, md metadata.MD) context.Context {
	out, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return metadata.NewOutgoingContext(ctx, md)
	}
	out = out.Copy()
	for k, v := range md {
		out.Set(k, v...)
	}
	return metadata.NewOutgoingContext(ctx, out)
}

// Invoke runs call under the policy of method m.
//
// It bounds the call by DefaultTimeout unless ctx already has a deadline,
// attaches client metadata and routing params to the outgoing context and
// runs call through gax.Invoke with opts. All attempts share one span.
//
// Keys set by the client replace the same keys in the caller's outgoing
// metadata, see WithOutgoingMetadata.
func (b *Base) Invoke(ctx context.Context, m Method, routing []RoutingParam, call gax.APICall, opts ...gax.CallOption) error {
	w := b.WrappedMethod(m)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	md := w.Metadata.Copy()
	if hdr := RoutingHeader(routing...); hdr != "" {
		md.Set(RequestParamsHeader, hdr)
	}
	ctx = WithOutgoingMetadata(ctx, md)

	ctx, span := b.startSpan(ctx, m)
	logging.Debugf(ctx, "memcache: calling %s on %s", m, b.host)
	err := gax.Invoke(ctx, call, opts...)
	endSpan(span, err)
	if err != nil {
		code := status.Code(err)
		if grpcutil.IsTransientCode(code) {
			logging.WithError(err).Warningf(ctx, "memcache: %s failed with transient code %s", m, code)
		} else {
			logging.WithError(err).Debugf(ctx, "memcache: %s failed with %s", m, code)
		}
	}
	return err
}
