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

package memcachetest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/julienschmidt/httprouter"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"go.chromium.org/luci/grpc/grpcutil"
)

const (
	instancesPath  = "/v1/projects/:project/locations/:location/instances"
	instancePath   = instancesPath + "/:instance"
	operationsPath = "/v1/projects/:project/locations/:location/operations/:operation"
)

// Handler returns the HTTP/JSON mapping of the fake.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.GET(instancesPath, s.restList)
	r.POST(instancesPath, s.restCreate)
	r.GET(instancePath, s.restGet)
	r.PATCH(instancePath, s.restPatch)
	r.POST(instancePath, s.restApply)
	r.DELETE(instancePath, s.restDelete)
	r.GET(operationsPath, s.restGetOp)
	r.POST(operationsPath, s.restCancelOp)
	r.DELETE(operationsPath, s.restDeleteOp)
	r.NotFound = http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		writeError(rw, status.Errorf(codes.NotFound, "no route for %s %s", req.Method, req.URL.Path))
	})
	return r
}

// restContext exposes HTTP headers as incoming metadata.
func restContext(r *http.Request) context.Context {
	md := metadata.MD{}
	for k, v := range r.Header {
		md.Append(strings.ToLower(k), v...)
	}
	return metadata.NewIncomingContext(r.Context(), md)
}

func parentName(ps httprouter.Params) string {
	return fmt.Sprintf("projects/%s/locations/%s", ps.ByName("project"), ps.ByName("location"))
}

// splitVerb splits "id:verb" into its parts.
func splitVerb(segment string) (id, verb string) {
	if i := strings.LastIndexByte(segment, ':'); i >= 0 {
		return segment[:i], segment[i+1:]
	}
	return segment, ""
}

func (s *Server) restList(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q := r.URL.Query()
	req := &memcachepb.ListInstancesRequest{
		Parent:    parentName(ps),
		PageToken: q.Get("pageToken"),
		Filter:    q.Get("filter"),
		OrderBy:   q.Get("orderBy"),
	}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			writeError(rw, status.Errorf(codes.InvalidArgument, "bad pageSize %q", v))
			return
		}
		req.PageSize = int32(n)
	}
	resp, err := s.ListInstances(restContext(r), req)
	writeResponse(rw, resp, err)
}

func (s *Server) restCreate(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	inst := &memcachepb.Instance{}
	if err := readBody(r, inst); err != nil {
		writeError(rw, err)
		return
	}
	resp, err := s.CreateInstance(restContext(r), &memcachepb.CreateInstanceRequest{
		Parent:     parentName(ps),
		InstanceId: r.URL.Query().Get("instanceId"),
		Instance:   inst,
	})
	writeResponse(rw, resp, err)
}

func (s *Server) restGet(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	resp, err := s.GetInstance(restContext(r), &memcachepb.GetInstanceRequest{
		Name: parentName(ps) + "/instances/" + ps.ByName("instance"),
	})
	writeResponse(rw, resp, err)
}

func (s *Server) restPatch(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, verb := splitVerb(ps.ByName("instance"))
	name := parentName(ps) + "/instances/" + id
	switch verb {
	case "":
		inst := &memcachepb.Instance{}
		if err := readBody(r, inst); err != nil {
			writeError(rw, err)
			return
		}
		inst.Name = name
		mask, err := parseMask(r.URL.Query().Get("updateMask"))
		if err != nil {
			writeError(rw, err)
			return
		}
		resp, err := s.UpdateInstance(restContext(r), &memcachepb.UpdateInstanceRequest{
			UpdateMask: mask,
			Instance:   inst,
		})
		writeResponse(rw, resp, err)
	case "updateParameters":
		req := &memcachepb.UpdateParametersRequest{}
		if err := readBody(r, req); err != nil {
			writeError(rw, err)
			return
		}
		req.Name = name
		resp, err := s.UpdateParameters(restContext(r), req)
		writeResponse(rw, resp, err)
	default:
		writeError(rw, status.Errorf(codes.NotFound, "unknown method %q", verb))
	}
}

func (s *Server) restApply(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, verb := splitVerb(ps.ByName("instance"))
	if verb != "applyParameters" {
		writeError(rw, status.Errorf(codes.NotFound, "unknown method %q", verb))
		return
	}
	req := &memcachepb.ApplyParametersRequest{}
	if err := readBody(r, req); err != nil {
		writeError(rw, err)
		return
	}
	req.Name = parentName(ps) + "/instances/" + id
	resp, err := s.ApplyParameters(restContext(r), req)
	writeResponse(rw, resp, err)
}

func (s *Server) restDelete(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	resp, err := s.DeleteInstance(restContext(r), &memcachepb.DeleteInstanceRequest{
		Name: parentName(ps) + "/instances/" + ps.ByName("instance"),
	})
	writeResponse(rw, resp, err)
}

func (s *Server) restGetOp(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	resp, err := s.GetOperation(restContext(r), &longrunningpb.GetOperationRequest{
		Name: parentName(ps) + "/operations/" + ps.ByName("operation"),
	})
	writeResponse(rw, resp, err)
}

func (s *Server) restCancelOp(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, verb := splitVerb(ps.ByName("operation"))
	if verb != "cancel" {
		writeError(rw, status.Errorf(codes.NotFound, "unknown method %q", verb))
		return
	}
	resp, err := s.CancelOperation(restContext(r), &longrunningpb.CancelOperationRequest{
		Name: parentName(ps) + "/operations/" + id,
	})
	writeResponse(rw, resp, err)
}

func (s *Server) restDeleteOp(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	resp, err := s.DeleteOperation(restContext(r), &longrunningpb.DeleteOperationRequest{
		Name: parentName(ps) + "/operations/" + ps.ByName("operation"),
	})
	writeResponse(rw, resp, err)
}

func readBody(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "reading body: %s", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(body, msg); err != nil {
		return status.Errorf(codes.InvalidArgument, "bad request body: %s", err)
	}
	return nil
}

// parseMask parses the JSON form of a field mask, e.g. "displayName,labels".
func parseMask(v string) (*fieldmaskpb.FieldMask, error) {
	if v == "" {
		return nil, nil
	}
	mask := &fieldmaskpb.FieldMask{}
	quoted, _ := json.Marshal(v)
	if err := protojson.Unmarshal(quoted, mask); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad updateMask %q: %s", v, err)
	}
	return mask, nil
}

func writeResponse(rw http.ResponseWriter, resp proto.Message, err error) {
	if err != nil {
		writeError(rw, err)
		return
	}
	blob, err := protojson.Marshal(resp)
	if err != nil {
		writeError(rw, status.Errorf(codes.Internal, "marshalling response: %s", err))
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.Write(blob)
}

// writeError writes an error in the format of Google APIs:
//
//	{"error": {"code": 404, "message": "...", "status": "NOT_FOUND"}}
func writeError(rw http.ResponseWriter, err error) {
	st := status.Convert(err)
	httpCode := grpcutil.CodeStatus(st.Code())
	blob, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    httpCode,
			"message": st.Message(),
			"status":  codeName(st.Code()),
		},
	})
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(httpCode)
	rw.Write(blob)
}

// codeName is the canonical name of a code, e.g. "NOT_FOUND".
func codeName(c codes.Code) string {
	return code.Code(c).String()
}
