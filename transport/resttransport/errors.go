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
	"encoding/json"
	stderrors "errors"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// statusFromHTTPErr converts an error returned by googleapi.CheckResponse
// into a gRPC status error, so callers see the same codes on both
// transports.
//
// The canonical code is taken from the "status" field of the error body,
// falling back to the HTTP status code.
func statusFromHTTPErr(err error) error {
	var gerr *googleapi.Error
	if !stderrors.As(err, &gerr) {
		return err
	}
	code := codeFromHTTP(gerr.Code)
	var body struct {
		Error struct {
			Status json.RawMessage `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(gerr.Body), &body) == nil && len(body.Error.Status) > 0 {
		var c codes.Code
		if c.UnmarshalJSON(body.Error.Status) == nil {
			code = c
		}
	}
	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}
	return status.Error(code, msg)
}

// statusFromTransportErr converts errors of http.Client.Do.
func statusFromTransportErr(ctx context.Context, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case context.Canceled:
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}

// codeFromHTTP maps HTTP status codes to gRPC codes, following
// google.rpc.Code mapping.
func codeFromHTTP(httpCode int) codes.Code {
	switch httpCode {
	case http.StatusOK:
		return codes.OK
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusRequestedRangeNotSatisfiable:
		return codes.OutOfRange
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case 499:
		return codes.Canceled
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	}
	switch {
	case httpCode >= 200 && httpCode < 300:
		return codes.OK
	case httpCode >= 400 && httpCode < 500:
		return codes.FailedPrecondition
	case httpCode >= 500:
		return codes.Internal
	}
	return codes.Unknown
}
