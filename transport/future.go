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

	"github.com/googleapis/gax-go/v2"
)

// Future is the pending result of a call started with Go.
type Future[T any] struct {
	done chan struct{}
	res  T
	err  error
}

// Go starts a non-blocking call of a Transport method.
//
// For example:
//
//	f := transport.Go(ctx, t.GetInstance, &memcachepb.GetInstanceRequest{Name: name})
//	...
//	inst, err := f.Wait(ctx)
//
// The call runs with ctx; cancelling it cancels the call.
func Go[Req, T any](ctx context.Context, fn func(context.Context, Req, ...gax.CallOption) (T, error), req Req, opts ...gax.CallOption) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.res, f.err = fn(ctx, req, opts...)
	}()
	return f
}

// Done is closed when the call completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the call completes or ctx is done.
//
// If ctx is done first, returns ctx.Err(); the call keeps running until its
// own context expires.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
