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
	"github.com/googleapis/gax-go/v2"
)

// Version is the version of this client library.
const Version = "1.0.0"

// ClientInfo describes the client to the server.
//
// It is rendered into the "x-goog-api-client" request header and,
// optionally, the user agent.
type ClientInfo struct {
	GoVersion        string
	LibraryVersion   string
	GaxVersion       string
	TransportName    string
	TransportVersion string

	// UserAgent, if set, is sent as the "user-agent" metadata.
	UserAgent string
}

// DefaultClientInfo returns a new ClientInfo describing this library.
//
// Transports fill in the transport name and version.
func DefaultClientInfo() *ClientInfo {
	return &ClientInfo{
		GoVersion:      gax.GoVersion,
		LibraryVersion: Version,
		GaxVersion:     gax.Version,
	}
}

// WithTransport returns a copy of ci with the transport fields set, unless
// they are already set.
func (ci *ClientInfo) WithTransport(name, version string) *ClientInfo {
	cpy := *ci
	if cpy.TransportName == "" {
		cpy.TransportName = name
		cpy.TransportVersion = version
	}
	return &cpy
}

// Header is the value of the "x-goog-api-client" header.
func (ci *ClientInfo) Header() string {
	kv := []string{"gl-go", ci.GoVersion, "gapic", ci.LibraryVersion, "gax", ci.GaxVersion}
	if ci.TransportName != "" {
		kv = append(kv, ci.TransportName, ci.TransportVersion)
	}
	return gax.XGoogHeader(kv...)
}
