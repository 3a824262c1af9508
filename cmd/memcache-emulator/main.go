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

// Command memcache-emulator serves an in-memory Cloud Memcache API over gRPC
// and HTTP/JSON.
//
// Point memcachectl to it with MEMCACHE_EMULATOR_HOST.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"
	"go.chromium.org/luci/common/system/signals"

	"go.chromium.org/memcache/memcachetest"
)

var (
	grpcAddr     = flag.String("grpc-addr", "localhost:9090", "Address to serve gRPC on.")
	httpAddr     = flag.String("http-addr", "localhost:9091", "Address to serve HTTP/JSON on. Empty to disable.")
	pendingPolls = flag.Int("pending-polls", 1, "Polls an operation stays running for.")
)

func main() {
	flag.Parse()
	ctx := gologger.StdConfig.Use(context.Background())
	if err := run(ctx); err != nil {
		errors.Log(ctx, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	srv := memcachetest.NewServer()
	srv.SetPendingPolls(*pendingPolls)

	grpcLis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		return errors.Annotate(err, "listening on %s", *grpcAddr).Err()
	}
	var httpSrv *http.Server
	var httpLis net.Listener
	if *httpAddr != "" {
		if httpLis, err = net.Listen("tcp", *httpAddr); err != nil {
			grpcLis.Close()
			return errors.Annotate(err, "listening on %s", *httpAddr).Err()
		}
		httpSrv = &http.Server{
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	defer signals.HandleInterrupt(func() {
		logging.Infof(ctx, "Shutting down...")
		srv.Stop()
		if httpSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(sctx)
		}
	})()

	eg := errgroup.Group{}
	eg.Go(func() error {
		logging.Infof(ctx, "Serving gRPC on %s", grpcLis.Addr())
		return srv.ServeGRPC(grpcLis)
	})
	if httpSrv != nil {
		eg.Go(func() error {
			logging.Infof(ctx, "Serving HTTP/JSON on http://%s", httpLis.Addr())
			if err := httpSrv.Serve(httpLis); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}
