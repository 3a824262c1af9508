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

package grpctransport

import (
	"context"
	"net"
	"testing"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/memcache/creds"
	"go.chromium.org/memcache/memcachetest"
	"go.chromium.org/memcache/transport"
)

const parentName = "projects/p/locations/us-central1"

func testInstance() *memcachepb.Instance {
	return &memcachepb.Instance{
		NodeCount:  1,
		NodeConfig: &memcachepb.Instance_NodeConfig{CpuCount: 1, MemorySizeMb: 1024},
	}
}

func TestTransport(t *testing.T) {
	t.Parallel()

	ftt.Run("gRPC transport", t, func(t *ftt.Test) {
		ctx := context.Background()
		srv := memcachetest.NewServer()
		defer srv.Stop()

		conn, err := srv.Dial(ctx)
		assert.Loosely(t, err, should.BeNil)
		defer conn.Close()

		tr, err := New(ctx, &Options{
			Options: transport.Options{QuotaProjectID: "billing"},
			Conn:    conn,
		})
		assert.Loosely(t, err, should.BeNil)
		defer tr.Close()

		assert.Loosely(t, tr.Credentials(), should.BeNil)
		assert.That(t, tr.ClientInfo().TransportName, should.Equal("grpc"))
		assert.That(t, tr.ClientInfo().TransportVersion, should.Equal(grpc.Version))

		t.Run("create, get and list", func(t *ftt.Test) {
			op, err := tr.CreateInstance(ctx, &memcachepb.CreateInstanceRequest{
				Parent:     parentName,
				InstanceId: "cache",
				Instance:   testInstance(),
			})
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, op.Done, should.BeTrue)

			inst, err := tr.GetInstance(ctx, &memcachepb.GetInstanceRequest{Name: parentName + "/instances/cache"})
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, inst.State, should.Equal(memcachepb.Instance_READY))

			resp, err := tr.ListInstances(ctx, &memcachepb.ListInstancesRequest{Parent: parentName})
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, resp.Instances, should.HaveLength(1))

			reqs := srv.PopRequests()
			assert.Loosely(t, reqs, should.HaveLength(3))
			assert.That(t, reqs[0].Method, should.Equal("CreateInstance"))
			assert.That(t, reqs[0].Metadata.Get(transport.RequestParamsHeader), should.Match([]string{
				"parent=projects%2Fp%2Flocations%2Fus-central1",
			}))
			assert.That(t, reqs[1].Metadata.Get(transport.RequestParamsHeader), should.Match([]string{
				"name=projects%2Fp%2Flocations%2Fus-central1%2Finstances%2Fcache",
			}))
			for _, r := range reqs {
				assert.That(t, r.Metadata.Get(transport.UserProjectHeader), should.Match([]string{"billing"}))
				assert.Loosely(t, r.Metadata.Get(transport.APIClientHeader)[0], should.ContainSubstring("gapic/"+transport.Version))
				assert.Loosely(t, r.Metadata.Get(transport.AuthorizationHeader), should.BeEmpty)
			}
		})

		t.Run("mutations", func(t *ftt.Test) {
			srv.PutInstance(&memcachepb.Instance{Name: parentName + "/instances/cache", NodeCount: 2})
			name := parentName + "/instances/cache"

			_, err := tr.UpdateInstance(ctx, &memcachepb.UpdateInstanceRequest{
				UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"display_name"}},
				Instance:   &memcachepb.Instance{Name: name, DisplayName: "new"},
			})
			assert.Loosely(t, err, should.BeNil)
			_, err = tr.UpdateParameters(ctx, &memcachepb.UpdateParametersRequest{
				Name:       name,
				UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"params"}},
				Parameters: &memcachepb.MemcacheParameters{Params: map[string]string{"k": "v"}},
			})
			assert.Loosely(t, err, should.BeNil)
			_, err = tr.ApplyParameters(ctx, &memcachepb.ApplyParametersRequest{Name: name, ApplyAll: true})
			assert.Loosely(t, err, should.BeNil)

			inst := srv.Instance(name)
			assert.That(t, inst.DisplayName, should.Equal("new"))
			assert.That(t, inst.MemcacheNodes[1].Parameters.Params, should.Match(map[string]string{"k": "v"}))

			reqs := srv.PopRequests()
			assert.That(t, reqs[0].Metadata.Get(transport.RequestParamsHeader), should.Match([]string{
				"instance.name=projects%2Fp%2Flocations%2Fus-central1%2Finstances%2Fcache",
			}))

			_, err = tr.DeleteInstance(ctx, &memcachepb.DeleteInstanceRequest{Name: name})
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, srv.Instance(name), should.BeNil)
		})

		t.Run("errors", func(t *ftt.Test) {
			_, err := tr.GetInstance(ctx, &memcachepb.GetInstanceRequest{Name: parentName + "/instances/missing"})
			assert.That(t, status.Code(err), should.Equal(codes.NotFound))
		})

		t.Run("operations", func(t *ftt.Test) {
			srv.SetPendingPolls(2)
			op, err := tr.CreateInstance(ctx, &memcachepb.CreateInstanceRequest{
				Parent:     parentName,
				InstanceId: "slow",
				Instance:   testInstance(),
			})
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, op.Done, should.BeFalse)

			ops, err := tr.OperationsClient()
			assert.Loosely(t, err, should.BeNil)

			polled, err := ops.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: op.Name})
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, polled.Done, should.BeFalse)

			assert.Loosely(t, ops.CancelOperation(ctx, &longrunningpb.CancelOperationRequest{Name: op.Name}), should.BeNil)
			polled, err = ops.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: op.Name})
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, codes.Code(polled.GetError().GetCode()), should.Equal(codes.Canceled))

			assert.Loosely(t, ops.DeleteOperation(ctx, &longrunningpb.DeleteOperationRequest{Name: op.Name}), should.BeNil)

			reqs := srv.PopRequests()
			assert.Loosely(t, reqs, should.HaveLength(5))
			for _, r := range reqs[1:] {
				assert.That(t, r.Method, should.HaveSuffix("Operation"))
				assert.That(t, r.Metadata.Get(transport.UserProjectHeader), should.Match([]string{"billing"}))
			}
		})

		t.Run("operations keep the caller's metadata", func(t *ftt.Test) {
			ops, err := tr.OperationsClient()
			assert.Loosely(t, err, should.BeNil)

			ctx := metadata.AppendToOutgoingContext(ctx, "x-extra", "1")
			_, err = ops.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: parentName + "/operations/missing"})
			assert.That(t, status.Code(err), should.Equal(codes.NotFound))

			reqs := srv.PopRequests()
			assert.Loosely(t, reqs, should.HaveLength(1))
			assert.That(t, reqs[0].Metadata.Get("x-extra"), should.Match([]string{"1"}))
			assert.That(t, reqs[0].Metadata.Get(transport.UserProjectHeader), should.Match([]string{"billing"}))
		})

		t.Run("non-blocking calls", func(t *ftt.Test) {
			srv.PutInstance(&memcachepb.Instance{Name: parentName + "/instances/a", NodeCount: 1})
			f := transport.Go(ctx, tr.GetInstance, &memcachepb.GetInstanceRequest{Name: parentName + "/instances/a"})
			inst, err := f.Wait(ctx)
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, inst.Name, should.Equal(parentName+"/instances/a"))
		})

		t.Run("caller's conn is not closed", func(t *ftt.Test) {
			assert.Loosely(t, tr.Close(), should.BeNil)
			_, err := tr.ListInstances(ctx, &memcachepb.ListInstancesRequest{Parent: parentName})
			assert.Loosely(t, err, should.BeNil)
		})
	})
}

func TestDial(t *testing.T) {
	t.Parallel()

	ftt.Run("Dialing with credentials", t, func(t *ftt.Test) {
		ctx := context.Background()
		srv := memcachetest.NewServer()
		defer srv.Stop()

		lis, err := net.Listen("tcp", "127.0.0.1:0")
		assert.Loosely(t, err, should.BeNil)
		go srv.ServeGRPC(lis)

		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "secret", TokenType: "Bearer"})
		tr, err := New(ctx, &Options{
			Options: transport.Options{
				Host:        lis.Addr().String(),
				Credentials: creds.FromTokenSource(ts, "p", ""),
			},
			Insecure:      true,
			EnableTracing: true,
		})
		assert.Loosely(t, err, should.BeNil)
		defer tr.Close()

		_, err = tr.GetInstance(ctx, &memcachepb.GetInstanceRequest{Name: parentName + "/instances/missing"})
		assert.That(t, status.Code(err), should.Equal(codes.NotFound))

		reqs := srv.PopRequests()
		assert.Loosely(t, reqs, should.HaveLength(1))
		assert.That(t, reqs[0].Metadata.Get(transport.AuthorizationHeader), should.Match([]string{"Bearer secret"}))

		t.Run("Close closes the owned connection", func(t *ftt.Test) {
			assert.Loosely(t, tr.Close(), should.BeNil)
			_, err := tr.GetInstance(ctx, &memcachepb.GetInstanceRequest{Name: parentName + "/instances/missing"})
			assert.That(t, status.Code(err), should.Equal(codes.Canceled))
		})
	})
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	ftt.Run("User agent is set on the dialed connection", t, func(t *ftt.Test) {
		ctx := context.Background()
		srv := memcachetest.NewServer()
		defer srv.Stop()

		lis, err := net.Listen("tcp", "127.0.0.1:0")
		assert.Loosely(t, err, should.BeNil)
		go srv.ServeGRPC(lis)

		ci := transport.DefaultClientInfo()
		ci.UserAgent = "memcachectl/1.0.0"
		tr, err := New(ctx, &Options{
			Options: transport.Options{
				Host:                  lis.Addr().String(),
				ClientInfo:            ci,
				WithoutAuthentication: true,
			},
			Insecure: true,
		})
		assert.Loosely(t, err, should.BeNil)
		defer tr.Close()

		_, err = tr.ListInstances(ctx, &memcachepb.ListInstancesRequest{Parent: parentName})
		assert.Loosely(t, err, should.BeNil)
		ops, err := tr.OperationsClient()
		assert.Loosely(t, err, should.BeNil)
		_, err = ops.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: parentName + "/operations/missing"})
		assert.That(t, status.Code(err), should.Equal(codes.NotFound))

		reqs := srv.PopRequests()
		assert.Loosely(t, reqs, should.HaveLength(2))
		for _, r := range reqs {
			ua := r.Metadata.Get(transport.UserAgentHeader)
			assert.Loosely(t, ua, should.HaveLength(1))
			assert.That(t, ua[0], should.HavePrefix("memcachectl/1.0.0 "))
		}
	})
}

func TestPerRPCCreds(t *testing.T) {
	t.Parallel()

	ftt.Run("perRPCCreds", t, func(t *ftt.Test) {
		c := perRPCCreds{ts: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}), secure: true}
		md, err := c.GetRequestMetadata(context.Background())
		assert.Loosely(t, err, should.BeNil)
		assert.That(t, md, should.Match(map[string]string{"authorization": "Bearer tok"}))
		assert.That(t, c.RequireTransportSecurity(), should.BeTrue)
	})
}
