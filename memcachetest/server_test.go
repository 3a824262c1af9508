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
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

const parent = "projects/p/locations/us-east1"

func newInstance() *memcachepb.Instance {
	return &memcachepb.Instance{
		DisplayName: "cache",
		NodeCount:   2,
		NodeConfig:  &memcachepb.Instance_NodeConfig{CpuCount: 1, MemorySizeMb: 1024},
		Parameters:  &memcachepb.MemcacheParameters{Params: map[string]string{"max-item-size": "1048576"}},
	}
}

func createReady(ctx context.Context, t testing.TB, s *Server, id string) *memcachepb.Instance {
	t.Helper()
	op, err := s.CreateInstance(ctx, &memcachepb.CreateInstanceRequest{
		Parent:     parent,
		InstanceId: id,
		Instance:   newInstance(),
	})
	assert.Loosely(t, err, should.BeNil, truth.LineContext())
	assert.That(t, op.Done, should.BeTrue, truth.LineContext())
	inst := &memcachepb.Instance{}
	assert.Loosely(t, op.GetResponse().UnmarshalTo(inst), should.BeNil, truth.LineContext())
	return inst
}

func TestInstances(t *testing.T) {
	t.Parallel()

	ftt.Run("Instances", t, func(t *ftt.Test) {
		ctx := context.Background()
		s := NewServer()

		t.Run("create", func(t *ftt.Test) {
			inst := createReady(ctx, t, s, "cache-1")
			assert.That(t, inst.Name, should.Equal(parent+"/instances/cache-1"))
			assert.That(t, inst.State, should.Equal(memcachepb.Instance_READY))
			assert.That(t, inst.MemcacheVersion, should.Equal(memcachepb.MemcacheVersion_MEMCACHE_1_5))
			assert.Loosely(t, inst.Parameters.Id, should.NotBeEmpty)
			assert.Loosely(t, inst.MemcacheNodes, should.HaveLength(2))
			for _, n := range inst.MemcacheNodes {
				assert.That(t, n.State, should.Equal(memcachepb.Instance_Node_READY))
				assert.That(t, n.Zone, should.Equal("us-east1-a"))
				assert.That(t, n.Port, should.Equal[int32](NodePort))
				assert.That(t, n.Parameters.Params["max-item-size"], should.Equal("1048576"))
			}

			got, err := s.GetInstance(ctx, &memcachepb.GetInstanceRequest{Name: inst.Name})
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, got.DisplayName, should.Equal("cache"))

			_, err = s.CreateInstance(ctx, &memcachepb.CreateInstanceRequest{
				Parent:     parent,
				InstanceId: "cache-1",
				Instance:   newInstance(),
			})
			assert.That(t, status.Code(err), should.Equal(codes.AlreadyExists))
		})

		t.Run("create validation", func(t *ftt.Test) {
			cases := []struct {
				id     string
				mutate func(*memcachepb.Instance)
				errMsg string
			}{
				{"Bad", nil, "bad instance id"},
				{"x", nil, "bad instance id"},
				{"ends-with-", nil, "bad instance id"},
				{"ok", func(i *memcachepb.Instance) { i.NodeCount = 0 }, "node_count"},
				{"ok", func(i *memcachepb.Instance) { i.NodeConfig = nil }, "node_config is required"},
				{"ok", func(i *memcachepb.Instance) { i.NodeConfig.MemorySizeMb = 1023 }, "memory_size_mb"},
				{"ok", func(i *memcachepb.Instance) { i.NodeConfig.MemorySizeMb = MaxMemorySizeMB + 1 }, "memory_size_mb"},
			}
			for _, c := range cases {
				inst := newInstance()
				if c.mutate != nil {
					c.mutate(inst)
				}
				_, err := s.CreateInstance(ctx, &memcachepb.CreateInstanceRequest{
					Parent:     parent,
					InstanceId: c.id,
					Instance:   inst,
				})
				assert.That(t, status.Code(err), should.Equal(codes.InvalidArgument))
				assert.Loosely(t, err, should.ErrLike(c.errMsg))
			}
		})

		t.Run("get unknown", func(t *ftt.Test) {
			_, err := s.GetInstance(ctx, &memcachepb.GetInstanceRequest{Name: parent + "/instances/nope"})
			assert.That(t, status.Code(err), should.Equal(codes.NotFound))
			_, err = s.GetInstance(ctx, &memcachepb.GetInstanceRequest{Name: "nope"})
			assert.That(t, status.Code(err), should.Equal(codes.InvalidArgument))
		})

		t.Run("list", func(t *ftt.Test) {
			for i := range 5 {
				createReady(ctx, t, s, fmt.Sprintf("cache-%d", i))
			}
			s.PutInstance(&memcachepb.Instance{
				Name:      "projects/p/locations/eu-west1/instances/other",
				NodeCount: 1,
			})

			var names []string
			token := ""
			pages := 0
			for {
				resp, err := s.ListInstances(ctx, &memcachepb.ListInstancesRequest{
					Parent:    parent,
					PageSize:  2,
					PageToken: token,
				})
				assert.Loosely(t, err, should.BeNil)
				pages++
				for _, inst := range resp.Instances {
					names = append(names, inst.Name)
				}
				if token = resp.NextPageToken; token == "" {
					break
				}
			}
			assert.That(t, pages, should.Equal(3))
			assert.That(t, names, should.Match([]string{
				parent + "/instances/cache-0",
				parent + "/instances/cache-1",
				parent + "/instances/cache-2",
				parent + "/instances/cache-3",
				parent + "/instances/cache-4",
			}))

			all, err := s.ListInstances(ctx, &memcachepb.ListInstancesRequest{
				Parent:  "projects/p/locations/-",
				OrderBy: "name desc",
			})
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, all.Instances, should.HaveLength(6))
			assert.That(t, all.Instances[0].Name, should.Equal("projects/p/locations/us-east1/instances/cache-4"))
			assert.That(t, all.Instances[5].Name, should.Equal("projects/p/locations/eu-west1/instances/other"))

			_, err = s.ListInstances(ctx, &memcachepb.ListInstancesRequest{Parent: parent, PageToken: "zzz"})
			assert.That(t, status.Code(err), should.Equal(codes.InvalidArgument))
			_, err = s.ListInstances(ctx, &memcachepb.ListInstancesRequest{Parent: parent, Filter: "state=READY"})
			assert.That(t, status.Code(err), should.Equal(codes.InvalidArgument))
		})

		t.Run("update", func(t *ftt.Test) {
			inst := createReady(ctx, t, s, "cache-1")

			op, err := s.UpdateInstance(ctx, &memcachepb.UpdateInstanceRequest{
				UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"display_name", "node_count"}},
				Instance:   &memcachepb.Instance{Name: inst.Name, DisplayName: "renamed", NodeCount: 3, Labels: map[string]string{"k": "v"}},
			})
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, op.Done, should.BeTrue)

			got := s.Instance(inst.Name)
			assert.That(t, got.DisplayName, should.Equal("renamed"))
			assert.That(t, got.NodeCount, should.Equal[int32](3))
			assert.Loosely(t, got.MemcacheNodes, should.HaveLength(3))
			assert.Loosely(t, got.Labels, should.BeEmpty)

			_, err = s.UpdateInstance(ctx, &memcachepb.UpdateInstanceRequest{
				Instance: &memcachepb.Instance{Name: inst.Name},
			})
			assert.Loosely(t, err, should.ErrLike("update_mask is required"))

			_, err = s.UpdateInstance(ctx, &memcachepb.UpdateInstanceRequest{
				UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"memcache_version"}},
				Instance:   &memcachepb.Instance{Name: inst.Name},
			})
			assert.Loosely(t, err, should.ErrLike(`field "memcache_version" can't be updated`))
		})

		t.Run("parameters", func(t *ftt.Test) {
			inst := createReady(ctx, t, s, "cache-1")
			oldID := inst.Parameters.Id

			_, err := s.UpdateParameters(ctx, &memcachepb.UpdateParametersRequest{
				Name:       inst.Name,
				UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"params"}},
				Parameters: &memcachepb.MemcacheParameters{Params: map[string]string{"protocol": "ascii"}},
			})
			assert.Loosely(t, err, should.BeNil)

			staged := s.Instance(inst.Name)
			assert.That(t, staged.Parameters.Id != oldID, should.BeTrue)
			assert.That(t, staged.Parameters.Params, should.Match(map[string]string{"protocol": "ascii"}))
			assert.That(t, staged.MemcacheNodes[0].Parameters.Id, should.Equal(oldID))

			_, err = s.ApplyParameters(ctx, &memcachepb.ApplyParametersRequest{
				Name:    inst.Name,
				NodeIds: []string{"node-1"},
			})
			assert.Loosely(t, err, should.BeNil)
			applied := s.Instance(inst.Name)
			assert.That(t, applied.MemcacheNodes[0].Parameters.Id, should.Equal(oldID))
			assert.That(t, applied.MemcacheNodes[1].Parameters.Id, should.Equal(staged.Parameters.Id))

			_, err = s.ApplyParameters(ctx, &memcachepb.ApplyParametersRequest{Name: inst.Name, ApplyAll: true})
			assert.Loosely(t, err, should.BeNil)
			applied = s.Instance(inst.Name)
			assert.That(t, applied.MemcacheNodes[0].Parameters.Id, should.Equal(staged.Parameters.Id))

			_, err = s.ApplyParameters(ctx, &memcachepb.ApplyParametersRequest{Name: inst.Name})
			assert.That(t, status.Code(err), should.Equal(codes.InvalidArgument))
			_, err = s.ApplyParameters(ctx, &memcachepb.ApplyParametersRequest{Name: inst.Name, NodeIds: []string{"node-9"}})
			assert.Loosely(t, err, should.ErrLike(`no node "node-9"`))
		})

		t.Run("delete", func(t *ftt.Test) {
			inst := createReady(ctx, t, s, "cache-1")
			op, err := s.DeleteInstance(ctx, &memcachepb.DeleteInstanceRequest{Name: inst.Name})
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, op.Done, should.BeTrue)
			assert.Loosely(t, s.Instance(inst.Name), should.BeNil)

			_, err = s.DeleteInstance(ctx, &memcachepb.DeleteInstanceRequest{Name: inst.Name})
			assert.That(t, status.Code(err), should.Equal(codes.NotFound))
		})

		t.Run("fake errors and recorded requests", func(t *ftt.Test) {
			s.FakeErrors("GetInstance", status.Error(codes.Unavailable, "boom"))
			ctx := metadata.NewIncomingContext(ctx, metadata.Pairs("x-goog-request-params", "name=x"))

			_, err := s.GetInstance(ctx, &memcachepb.GetInstanceRequest{Name: parent + "/instances/nope"})
			assert.That(t, status.Code(err), should.Equal(codes.Unavailable))
			_, err = s.GetInstance(ctx, &memcachepb.GetInstanceRequest{Name: parent + "/instances/nope"})
			assert.That(t, status.Code(err), should.Equal(codes.NotFound))

			reqs := s.PopRequests()
			assert.Loosely(t, reqs, should.HaveLength(2))
			assert.That(t, reqs[0].Method, should.Equal("GetInstance"))
			assert.That(t, reqs[0].Metadata.Get("x-goog-request-params"), should.Match([]string{"name=x"}))
			assert.Loosely(t, s.PopRequests(), should.BeEmpty)
		})
	})
}

func TestOperations(t *testing.T) {
	t.Parallel()

	ftt.Run("Operations", t, func(t *ftt.Test) {
		ctx := context.Background()
		s := NewServer()
		s.SetPendingPolls(2)

		op, err := s.CreateInstance(ctx, &memcachepb.CreateInstanceRequest{
			Parent:     parent,
			InstanceId: "slow",
			Instance:   newInstance(),
		})
		assert.Loosely(t, err, should.BeNil)
		assert.That(t, op.Done, should.BeFalse)
		assert.Loosely(t, op.Name, should.HavePrefix(parent+"/operations/operation-"))

		meta := &memcachepb.OperationMetadata{}
		assert.Loosely(t, op.Metadata.UnmarshalTo(meta), should.BeNil)
		assert.That(t, meta.Target, should.Equal(parent+"/instances/slow"))
		assert.That(t, meta.Verb, should.Equal("create"))
		assert.That(t, s.Instance(parent+"/instances/slow").State, should.Equal(memcachepb.Instance_CREATING))

		t.Run("completes on the last poll", func(t *ftt.Test) {
			polled, err := s.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: op.Name})
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, polled.Done, should.BeFalse)

			polled, err = s.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: op.Name})
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, polled.Done, should.BeTrue)
			inst := &memcachepb.Instance{}
			assert.Loosely(t, polled.GetResponse().UnmarshalTo(inst), should.BeNil)
			assert.That(t, inst.State, should.Equal(memcachepb.Instance_READY))

			assert.Loosely(t, polled.Metadata.UnmarshalTo(meta), should.BeNil)
			assert.Loosely(t, meta.EndTime, should.NotBeNil)
		})

		t.Run("mutations are rejected while pending", func(t *ftt.Test) {
			_, err := s.DeleteInstance(ctx, &memcachepb.DeleteInstanceRequest{Name: parent + "/instances/slow"})
			assert.That(t, status.Code(err), should.Equal(codes.FailedPrecondition))
		})

		t.Run("cancel", func(t *ftt.Test) {
			_, err := s.CancelOperation(ctx, &longrunningpb.CancelOperationRequest{Name: op.Name})
			assert.Loosely(t, err, should.BeNil)

			cancelled := s.Operation(op.Name)
			assert.That(t, cancelled.Done, should.BeTrue)
			assert.That(t, codes.Code(cancelled.GetError().Code), should.Equal(codes.Canceled))
			assert.Loosely(t, cancelled.Metadata.UnmarshalTo(meta), should.BeNil)
			assert.That(t, meta.CancelRequested, should.BeTrue)
			assert.Loosely(t, s.Instance(parent+"/instances/slow"), should.BeNil)

			// Cancelling again is a noop.
			_, err = s.CancelOperation(ctx, &longrunningpb.CancelOperationRequest{Name: op.Name})
			assert.Loosely(t, err, should.BeNil)
		})

		t.Run("delete", func(t *ftt.Test) {
			_, err := s.DeleteOperation(ctx, &longrunningpb.DeleteOperationRequest{Name: op.Name})
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, s.Operation(op.Name), should.BeNil)
			_, err = s.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: op.Name})
			assert.That(t, status.Code(err), should.Equal(codes.NotFound))
		})
	})
}

func TestHandler(t *testing.T) {
	t.Parallel()

	ftt.Run("Handler", t, func(t *ftt.Test) {
		s := NewServer()
		srv := httptest.NewServer(s.Handler())
		defer srv.Close()

		call := func(method, path, body string) (int, []byte) {
			req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
			assert.Loosely(t, err, should.BeNil)
			req.Header.Set("X-Goog-Api-Client", "gl-go/1")
			resp, err := http.DefaultClient.Do(req)
			assert.Loosely(t, err, should.BeNil)
			defer resp.Body.Close()
			blob, err := io.ReadAll(resp.Body)
			assert.Loosely(t, err, should.BeNil)
			return resp.StatusCode, blob
		}

		code, blob := call("POST", "/v1/"+parent+"/instances?instanceId=rest",
			`{"nodeCount": 1, "nodeConfig": {"cpuCount": 1, "memorySizeMb": 2048}, "labels": {"env": "test"}}`)
		assert.That(t, code, should.Equal(http.StatusOK))
		op := &longrunningpb.Operation{}
		assert.Loosely(t, protojson.Unmarshal(blob, op), should.BeNil)
		assert.That(t, op.Done, should.BeTrue)

		reqs := s.PopRequests()
		assert.Loosely(t, reqs, should.HaveLength(1))
		assert.That(t, reqs[0].Metadata.Get("x-goog-api-client"), should.Match([]string{"gl-go/1"}))

		code, blob = call("GET", "/v1/"+parent+"/instances/rest", "")
		assert.That(t, code, should.Equal(http.StatusOK))
		inst := &memcachepb.Instance{}
		assert.Loosely(t, protojson.Unmarshal(blob, inst), should.BeNil)
		assert.That(t, inst.Labels, should.Match(map[string]string{"env": "test"}))

		code, _ = call("PATCH", "/v1/"+parent+"/instances/rest?updateMask=displayName", `{"displayName": "via rest"}`)
		assert.That(t, code, should.Equal(http.StatusOK))
		assert.That(t, s.Instance(parent+"/instances/rest").DisplayName, should.Equal("via rest"))

		code, _ = call("PATCH", "/v1/"+parent+"/instances/rest:updateParameters",
			`{"updateMask": "params", "parameters": {"params": {"a": "b"}}}`)
		assert.That(t, code, should.Equal(http.StatusOK))
		code, _ = call("POST", "/v1/"+parent+"/instances/rest:applyParameters", `{"applyAll": true}`)
		assert.That(t, code, should.Equal(http.StatusOK))
		assert.That(t, s.Instance(parent+"/instances/rest").MemcacheNodes[0].Parameters.Params["a"], should.Equal("b"))

		code, blob = call("GET", "/v1/"+parent+"/instances/missing", "")
		assert.That(t, code, should.Equal(http.StatusNotFound))
		var apiErr struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
				Status  string `json:"status"`
			} `json:"error"`
		}
		assert.Loosely(t, json.Unmarshal(blob, &apiErr), should.BeNil)
		assert.That(t, apiErr.Error.Code, should.Equal(404))
		assert.That(t, apiErr.Error.Status, should.Equal("NOT_FOUND"))

		code, _ = call("POST", "/v1/"+parent+"/instances/rest:explode", "{}")
		assert.That(t, code, should.Equal(http.StatusNotFound))

		code, _ = call("DELETE", "/v1/"+parent+"/instances/rest", "")
		assert.That(t, code, should.Equal(http.StatusOK))
		assert.Loosely(t, s.Instance(parent+"/instances/rest"), should.BeNil)
	})
}
