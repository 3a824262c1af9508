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
	"strings"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/errors/errtag"

	"go.chromium.org/memcache/creds"
)

var (
	// DuplicateCredentialArgs tags errors returned by NewBase when both
	// Credentials and CredentialsFile are set.
	DuplicateCredentialArgs = errtag.Make("credentials and credentials file are mutually exclusive", true)

	// NotImplemented tags errors returned by methods a concrete transport
	// didn't override.
	NotImplemented = errtag.Make("not implemented by the transport", true)
)

// Options configure a transport.
type Options struct {
	// Host is the API endpoint, DefaultHost if empty.
	//
	// DefaultPort is appended if the host has no port.
	Host string

	// Credentials to authorize calls with.
	//
	// Mutually exclusive with CredentialsFile. If neither is set, credentials
	// are discovered from the environment.
	Credentials creds.Credentials

	// CredentialsFile is a path to a JSON credentials file.
	CredentialsFile string

	// Scopes are OAuth scopes to request, DefaultAuthScopes() if empty.
	Scopes []string

	// QuotaProjectID is the project billed for quota.
	QuotaProjectID string

	// ClientInfo describes the client in request metadata.
	//
	// DefaultClientInfo() if nil.
	ClientInfo *ClientInfo

	// AlwaysUseJWTAccess switches service account credentials to self-signed
	// JWT mode. It has no effect on other kinds of credentials.
	AlwaysUseJWTAccess bool

	// Resolver discovers credentials, creds.NewGoogleResolver() if nil.
	Resolver creds.Resolver

	// TracerProvider creates spans around calls, the global one if nil.
	TracerProvider trace.TracerProvider

	// WithoutAuthentication skips credentials resolution entirely.
	//
	// Concrete transports set it when they are given a ready-to-use
	// connection.
	WithoutAuthentication bool
}

// Base is embedded by concrete transports.
//
// It holds the configuration resolved at construction time and implements
// every method of Transport by returning an error tagged NotImplemented.
// Its fields are not modified after NewBase returns.
type Base struct {
	host         string
	creds        creds.Credentials
	scopes       []string
	quotaProject string
	clientInfo   *ClientInfo
	tracer       trace.Tracer
	wrapped      map[Method]*WrappedMethod
}

var _ Transport = (*Base)(nil)

// NewBase validates options and resolves credentials.
func NewBase(ctx context.Context, opts *Options) (*Base, error) {
	if opts == nil {
		opts = &Options{}
	}

	if opts.Credentials != nil && opts.CredentialsFile != "" {
		return nil, errors.Reason("'Credentials' and 'CredentialsFile' are mutually exclusive").
			Tag(DuplicateCredentialArgs).Err()
	}

	b := &Base{
		host:         normalizeHost(opts.Host),
		scopes:       append([]string(nil), opts.Scopes...),
		quotaProject: opts.QuotaProjectID,
		clientInfo:   opts.ClientInfo,
	}
	if b.clientInfo == nil {
		b.clientInfo = DefaultClientInfo()
	}
	b.tracer = newTracer(opts.TracerProvider)

	if !opts.WithoutAuthentication {
		c, err := resolveCredentials(ctx, opts)
		if err != nil {
			return nil, err
		}
		b.creds = c
		if b.quotaProject == "" {
			b.quotaProject = c.QuotaProjectID()
		}
	}

	b.prepWrappedMethods()
	return b, nil
}

func resolveCredentials(ctx context.Context, opts *Options) (creds.Credentials, error) {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = creds.NewGoogleResolver()
	}
	scopes := creds.Scopes{Requested: opts.Scopes, Default: DefaultAuthScopes()}

	c := opts.Credentials
	switch {
	case opts.CredentialsFile != "":
		var err error
		if c, err = resolver.FromFile(ctx, opts.CredentialsFile, scopes, opts.QuotaProjectID); err != nil {
			return nil, err
		}
	case c == nil:
		var err error
		if c, err = resolver.Default(ctx, scopes, opts.QuotaProjectID); err != nil {
			return nil, err
		}
	}

	if opts.AlwaysUseJWTAccess {
		return creds.UpgradeToSelfSignedJWT(c, scopes.Effective())
	}
	return c, nil
}

// normalizeHost defaults the host and its port.
func normalizeHost(host string) string {
	if host == "" {
		host = DefaultHost
	}
	if !strings.Contains(host, ":") {
		host += ":" + DefaultPort
	}
	return host
}

// Host is the endpoint in "host:port" form.
func (b *Base) Host() string { return b.host }

// Credentials are the resolved credentials, nil without authentication.
func (b *Base) Credentials() creds.Credentials { return b.creds }

// Scopes are the scopes requested by the caller, nil if defaults are used.
func (b *Base) Scopes() []string { return b.scopes }

// QuotaProjectID is the project billed for quota, if any.
func (b *Base) QuotaProjectID() string { return b.quotaProject }

// ClientInfo describes the client in request metadata.
func (b *Base) ClientInfo() *ClientInfo { return b.clientInfo }

func notImplemented(what string) error {
	return NotImplemented.Apply(status.Errorf(codes.Unimplemented, "%s is not implemented by this transport", what))
}

// ListInstances is not implemented by Base.
func (b *Base) ListInstances(context.Context, *memcachepb.ListInstancesRequest, ...gax.CallOption) (*memcachepb.ListInstancesResponse, error) {
	return nil, notImplemented(string(ListInstances))
}

// GetInstance is not implemented by Base.
func (b *Base) GetInstance(context.Context, *memcachepb.GetInstanceRequest, ...gax.CallOption) (*memcachepb.Instance, error) {
	return nil, notImplemented(string(GetInstance))
}

// CreateInstance is not implemented by Base.
func (b *Base) CreateInstance(context.Context, *memcachepb.CreateInstanceRequest, ...gax.CallOption) (*longrunningpb.Operation, error) {
	return nil, notImplemented(string(CreateInstance))
}

// UpdateInstance is not implemented by Base.
func (b *Base) UpdateInstance(context.Context, *memcachepb.UpdateInstanceRequest, ...gax.CallOption) (*longrunningpb.Operation, error) {
	return nil, notImplemented(string(UpdateInstance))
}

// UpdateParameters is not implemented by Base.
func (b *Base) UpdateParameters(context.Context, *memcachepb.UpdateParametersRequest, ...gax.CallOption) (*longrunningpb.Operation, error) {
	return nil, notImplemented(string(UpdateParameters))
}

// DeleteInstance is not implemented by Base.
func (b *Base) DeleteInstance(context.Context, *memcachepb.DeleteInstanceRequest, ...gax.CallOption) (*longrunningpb.Operation, error) {
	return nil, notImplemented(string(DeleteInstance))
}

// ApplyParameters is not implemented by Base.
func (b *Base) ApplyParameters(context.Context, *memcachepb.ApplyParametersRequest, ...gax.CallOption) (*longrunningpb.Operation, error) {
	return nil, notImplemented(string(ApplyParameters))
}

// OperationsClient is not implemented by Base.
func (b *Base) OperationsClient() (OperationsClient, error) {
	return nil, notImplemented("OperationsClient")
}

// Close is not implemented by Base.
func (b *Base) Close() error {
	return notImplemented("Close")
}
