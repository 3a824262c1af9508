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
	"net"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

const bufSize = 1 << 20

func (s *Server) newGRPCServer() *grpc.Server {
	srv := grpc.NewServer()
	memcachepb.RegisterCloudMemcacheServer(srv, s)
	longrunningpb.RegisterOperationsServer(srv, s)
	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.mu.Unlock()
	return srv
}

// Dial serves the fake over an in-memory listener and returns a plaintext
// client connection to it.
//
// The connection should be closed by the caller. The listener is stopped by
// Stop.
func (s *Server) Dial(ctx context.Context, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	lis := bufconn.Listen(bufSize)
	srv := s.newGRPCServer()
	go func() {
		if err := srv.Serve(lis); err != nil {
			logging.WithError(err).Warningf(ctx, "memcachetest: in-memory server stopped")
		}
	}()

	opts = append([]grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient("passthrough:///memcachetest", opts...)
	if err != nil {
		return nil, errors.Annotate(err, "dialing in-memory server").Err()
	}
	return conn, nil
}

// ServeGRPC serves the fake on lis until Stop is called.
func (s *Server) ServeGRPC(lis net.Listener) error {
	return s.newGRPCServer().Serve(lis)
}

// Stop stops all gRPC servers started by Dial and ServeGRPC.
func (s *Server) Stop() {
	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.mu.Unlock()
	for _, srv := range servers {
		srv.Stop()
	}
}
