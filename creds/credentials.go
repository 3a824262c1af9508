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

// Package creds resolves the credentials used to authorize calls to the
// Cloud Memcache API.
//
// Credentials may be supplied explicitly, loaded from a JSON key file or
// discovered from the environment (Application Default Credentials). Service
// account credentials can additionally be switched to self-signed JWT mode, in
// which they sign their own bearer tokens instead of exchanging them with the
// token endpoint.
package creds

import (
	"encoding/json"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"go.chromium.org/luci/common/errors"
)

// CloudPlatformScope is the OAuth scope requested when the caller asks for none.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Kind is a kind of credentials, as named by the "type" field of a JSON key.
type Kind string

const (
	// KindServiceAccount is a service account JSON key.
	KindServiceAccount Kind = "service_account"
	// KindAuthorizedUser is a refresh token of an end user (e.g. gcloud ADC).
	KindAuthorizedUser Kind = "authorized_user"
	// KindExternalAccount is a workload identity federation config.
	KindExternalAccount Kind = "external_account"
	// KindImpersonatedServiceAccount is a service account impersonation config.
	KindImpersonatedServiceAccount Kind = "impersonated_service_account"
	// KindComputeMetadata is the ambient identity of a GCE/GKE/Cloud Run host.
	KindComputeMetadata Kind = "compute_metadata"
	// KindTokenSource is an arbitrary caller-supplied token source.
	KindTokenSource Kind = "token_source"
)

// Credentials identify the application to the service.
//
// Credentials are immutable: methods that change the mode of credentials
// return a new value.
type Credentials interface {
	oauth2.TokenSource

	// Kind returns the kind of these credentials.
	Kind() Kind
	// ProjectID is the project associated with the credentials, if known.
	ProjectID() string
	// QuotaProjectID is the project billed for quota, if any.
	QuotaProjectID() string
}

// SelfSignedJWTCapable is implemented by credentials that can sign their own
// JWT bearer tokens.
type SelfSignedJWTCapable interface {
	Credentials

	// WithSelfSignedJWT returns a copy of the credentials that mints
	// self-signed JWTs for the given scopes.
	WithSelfSignedJWT(scopes []string) (Credentials, error)
}

// UpgradeToSelfSignedJWT switches c to self-signed JWT mode if its type
// supports it. Credentials without the capability are returned as is.
func UpgradeToSelfSignedJWT(c Credentials, scopes []string) (Credentials, error) {
	capable, ok := c.(SelfSignedJWTCapable)
	if !ok {
		return c, nil
	}
	upgraded, err := capable.WithSelfSignedJWT(scopes)
	if err != nil {
		return nil, errors.Annotate(err, "switching to self-signed JWT").Err()
	}
	return upgraded, nil
}

// FromTokenSource wraps an arbitrary token source.
//
// The result never supports self-signed JWT mode.
func FromTokenSource(ts oauth2.TokenSource, projectID, quotaProjectID string) Credentials {
	return &tokenCredentials{
		ts:           ts,
		kind:         KindTokenSource,
		projectID:    projectID,
		quotaProject: quotaProjectID,
	}
}

// FromGoogle wraps credentials produced by golang.org/x/oauth2/google.
//
// Service account keys are recognized and returned as SelfSignedJWTCapable.
// A non-empty quotaProjectID overrides the one from the JSON key.
func FromGoogle(c *google.Credentials, quotaProjectID string) (Credentials, error) {
	hdr, err := parseKeyHeader(c.JSON)
	if err != nil {
		return nil, err
	}
	if quotaProjectID == "" {
		quotaProjectID = hdr.QuotaProjectID
	}
	base := tokenCredentials{
		ts:           c.TokenSource,
		kind:         hdr.kind(),
		projectID:    c.ProjectID,
		quotaProject: quotaProjectID,
	}
	if base.kind == KindServiceAccount {
		return &ServiceAccount{tokenCredentials: base, key: c.JSON}, nil
	}
	return &base, nil
}

type tokenCredentials struct {
	ts           oauth2.TokenSource
	kind         Kind
	projectID    string
	quotaProject string
}

func (c *tokenCredentials) Token() (*oauth2.Token, error) { return c.ts.Token() }
func (c *tokenCredentials) Kind() Kind                    { return c.kind }
func (c *tokenCredentials) ProjectID() string             { return c.projectID }
func (c *tokenCredentials) QuotaProjectID() string        { return c.quotaProject }

// ServiceAccount are credentials backed by a service account JSON key.
type ServiceAccount struct {
	tokenCredentials

	key           []byte
	selfSignedJWT bool
}

var _ SelfSignedJWTCapable = (*ServiceAccount)(nil)

// UsesSelfSignedJWT is true if the credentials mint self-signed JWTs.
func (s *ServiceAccount) UsesSelfSignedJWT() bool {
	return s.selfSignedJWT
}

// WithSelfSignedJWT implements SelfSignedJWTCapable.
func (s *ServiceAccount) WithSelfSignedJWT(scopes []string) (Credentials, error) {
	if s.selfSignedJWT {
		return s, nil
	}
	ts, err := google.JWTAccessTokenSourceWithScope(s.key, scopes...)
	if err != nil {
		return nil, errors.Annotate(err, "bad service account key").Err()
	}
	cpy := *s
	cpy.ts = ts
	cpy.selfSignedJWT = true
	return &cpy, nil
}

// keyHeader is the part of a JSON credentials file common to all kinds.
type keyHeader struct {
	Type           string `json:"type"`
	QuotaProjectID string `json:"quota_project_id"`
}

func (h keyHeader) kind() Kind {
	if h.Type == "" {
		return KindComputeMetadata
	}
	return Kind(h.Type)
}

func parseKeyHeader(blob []byte) (keyHeader, error) {
	var hdr keyHeader
	if len(blob) == 0 {
		return hdr, nil
	}
	if err := json.Unmarshal(blob, &hdr); err != nil {
		return hdr, errors.Annotate(err, "malformed credentials JSON").Tag(FileError).Err()
	}
	return hdr, nil
}
