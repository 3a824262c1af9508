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

package creds

import (
	"context"
	"os"

	"golang.org/x/oauth2/google"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/errors/errtag"
	"go.chromium.org/luci/common/logging"
)

var (
	// Unresolvable tags errors returned when no credentials can be found in
	// the environment.
	Unresolvable = errtag.Make("credentials could not be resolved", true)

	// FileError tags errors returned when a credentials file can't be read or
	// parsed.
	FileError = errtag.Make("bad credentials file", true)
)

// Scopes are the OAuth scopes passed to credential resolution.
//
// Requested are the scopes asked for by the caller; Default are the scopes of
// the API, used when nothing is requested.
type Scopes struct {
	Requested []string
	Default   []string
}

// Effective returns the scopes that credentials should be minted with.
func (s Scopes) Effective() []string {
	if len(s.Requested) != 0 {
		return s.Requested
	}
	return s.Default
}

// Resolver knows how to obtain credentials.
type Resolver interface {
	// Default returns credentials discovered from the environment.
	//
	// Returns errors tagged with Unresolvable if there are none.
	Default(ctx context.Context, scopes Scopes, quotaProjectID string) (Credentials, error)

	// FromFile loads credentials from a JSON file.
	//
	// Returns errors tagged with FileError if the file is unreadable or
	// malformed.
	FromFile(ctx context.Context, path string, scopes Scopes, quotaProjectID string) (Credentials, error)
}

// NewGoogleResolver returns a Resolver backed by Application Default
// Credentials as implemented by golang.org/x/oauth2/google.
func NewGoogleResolver() Resolver {
	return googleResolver{}
}

type googleResolver struct{}

func (googleResolver) Default(ctx context.Context, scopes Scopes, quotaProjectID string) (Credentials, error) {
	gc, err := google.FindDefaultCredentialsWithParams(ctx, google.CredentialsParams{
		Scopes: scopes.Effective(),
	})
	if err != nil {
		return nil, errors.Annotate(err, "no default credentials").Tag(Unresolvable).Err()
	}
	c, err := FromGoogle(gc, quotaProjectID)
	if err != nil {
		return nil, errors.Annotate(err, "default credentials").Tag(Unresolvable).Err()
	}
	logging.Debugf(ctx, "Using default credentials of kind %q", c.Kind())
	return c, nil
}

func (googleResolver) FromFile(ctx context.Context, path string, scopes Scopes, quotaProjectID string) (Credentials, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading credentials file").Tag(FileError).Err()
	}
	gc, err := google.CredentialsFromJSONWithParams(ctx, blob, google.CredentialsParams{
		Scopes: scopes.Effective(),
	})
	if err != nil {
		return nil, errors.Annotate(err, "loading credentials from %q", path).Tag(FileError).Err()
	}
	c, err := FromGoogle(gc, quotaProjectID)
	if err != nil {
		return nil, errors.Annotate(err, "loading credentials from %q", path).Tag(FileError).Err()
	}
	logging.Debugf(ctx, "Loaded credentials of kind %q from %s", c.Kind(), path)
	return c, nil
}
