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

package memcache

import (
	"context"
	"sync"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

// operation tracks the state of a long-running operation.
type operation struct {
	c *Client

	mu      sync.Mutex
	op      *longrunningpb.Operation
	fetched bool
}

func (c *Client) newOperation(op *longrunningpb.Operation) *operation {
	return &operation{c: c, op: op, fetched: true}
}

func (c *Client) attachOperation(name string) *operation {
	return &operation{c: c, op: &longrunningpb.Operation{Name: name}}
}

func (c *Client) newInstanceOperation(op *longrunningpb.Operation) *InstanceOperation {
	return &InstanceOperation{c.newOperation(op)}
}

// InstanceOperation returns a handle of an operation started earlier,
// possibly by another process, that resolves into an instance.
func (c *Client) InstanceOperation(name string) *InstanceOperation {
	return &InstanceOperation{c.attachOperation(name)}
}

// DeleteInstanceOperation returns a handle of a DeleteInstance operation
// started earlier.
func (c *Client) DeleteInstanceOperation(name string) *DeleteInstanceOperation {
	return &DeleteInstanceOperation{c.attachOperation(name)}
}

// Operation returns a handle of any operation started earlier, without
// interpreting its result.
func (c *Client) Operation(name string) *Operation {
	return &Operation{c.attachOperation(name)}
}

// Name is the server-assigned name of the operation.
func (o *operation) Name() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.op.GetName()
}

// Done reports whether the operation has finished, as of the last poll.
func (o *operation) Done() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.op.GetDone()
}

// Metadata returns the progress metadata as of the last poll, or nil if the
// server hasn't reported any.
func (o *operation) Metadata() (*memcachepb.OperationMetadata, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.op.GetMetadata() == nil {
		return nil, nil
	}
	meta := &memcachepb.OperationMetadata{}
	if err := o.op.GetMetadata().UnmarshalTo(meta); err != nil {
		return nil, errors.Annotate(err, "bad metadata of operation %q", o.op.GetName()).Err()
	}
	return meta, nil
}

// Cancel asks the server to cancel the operation.
//
// Cancellation is best effort; poll the operation to see whether it took
// effect.
func (o *operation) Cancel(ctx context.Context, opts ...gax.CallOption) error {
	return o.c.ops.CancelOperation(ctx, &longrunningpb.CancelOperationRequest{Name: o.Name()}, opts...)
}

// Delete forgets a finished operation on the server.
func (o *operation) Delete(ctx context.Context, opts ...gax.CallOption) error {
	return o.c.ops.DeleteOperation(ctx, &longrunningpb.DeleteOperationRequest{Name: o.Name()}, opts...)
}

// refresh fetches the latest state of an unfinished operation.
func (o *operation) refresh(ctx context.Context, opts []gax.CallOption) error {
	if o.Done() {
		return nil
	}
	op, err := o.c.ops.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: o.Name()}, opts...)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.op = op
	o.fetched = true
	o.mu.Unlock()
	return nil
}

// result decodes the outcome of a finished operation into resp.
//
// Returns false if the operation is still running.
func (o *operation) result(resp proto.Message) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.op.GetDone() {
		return false, nil
	}
	switch r := o.op.GetResult().(type) {
	case *longrunningpb.Operation_Error:
		return true, status.ErrorProto(r.Error)
	case *longrunningpb.Operation_Response:
		if err := r.Response.UnmarshalTo(resp); err != nil {
			return true, errors.Annotate(err, "bad response of operation %q", o.op.GetName()).Err()
		}
		return true, nil
	default:
		return true, errors.Reason("operation %q finished without a result", o.op.GetName()).Err()
	}
}

func (o *operation) poll(ctx context.Context, resp proto.Message, opts []gax.CallOption) (bool, error) {
	if err := o.refresh(ctx, opts); err != nil {
		return false, err
	}
	return o.result(resp)
}

// settle polls until the operation finishes or ctx is done.
func (o *operation) settle(ctx context.Context, opts []gax.CallOption) error {
	o.mu.Lock()
	fetched := o.fetched
	o.mu.Unlock()
	if !fetched {
		if err := o.refresh(ctx, opts); err != nil {
			return err
		}
	}

	bo := o.c.PollBackoff
	for !o.Done() {
		if meta, err := o.Metadata(); err == nil && meta != nil {
			logging.Debugf(ctx, "memcache: waiting for %s of %s", meta.Verb, meta.Target)
		}
		if err := gax.Sleep(ctx, bo.Pause()); err != nil {
			return err
		}
		if err := o.refresh(ctx, opts); err != nil {
			return err
		}
	}
	return nil
}

// wait polls until the operation finishes and decodes its outcome into resp.
func (o *operation) wait(ctx context.Context, resp proto.Message, opts []gax.CallOption) error {
	if err := o.settle(ctx, opts); err != nil {
		return err
	}
	_, err := o.result(resp)
	return err
}

// snapshot is a copy of the operation as of the last poll.
func (o *operation) snapshot() *longrunningpb.Operation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return proto.Clone(o.op).(*longrunningpb.Operation)
}

// InstanceOperation is a long-running operation that resolves into an
// instance.
type InstanceOperation struct {
	*operation
}

// Poll fetches the latest state of the operation.
//
// Returns nil, nil while the operation is running. Once it has finished,
// returns the instance or the error the operation failed with.
func (op *InstanceOperation) Poll(ctx context.Context, opts ...gax.CallOption) (*memcachepb.Instance, error) {
	inst := &memcachepb.Instance{}
	switch done, err := op.poll(ctx, inst, opts); {
	case err != nil:
		return nil, err
	case !done:
		return nil, nil
	}
	return inst, nil
}

// Wait blocks until the operation finishes, polling it with the client's
// PollBackoff.
func (op *InstanceOperation) Wait(ctx context.Context, opts ...gax.CallOption) (*memcachepb.Instance, error) {
	inst := &memcachepb.Instance{}
	if err := op.wait(ctx, inst, opts); err != nil {
		return nil, err
	}
	return inst, nil
}

// DeleteInstanceOperation is a long-running operation deleting an instance.
type DeleteInstanceOperation struct {
	*operation
}

// Poll fetches the latest state of the operation.
//
// Returns nil while the operation is running or if it succeeded; check Done
// to tell them apart.
func (op *DeleteInstanceOperation) Poll(ctx context.Context, opts ...gax.CallOption) error {
	_, err := op.poll(ctx, &emptypb.Empty{}, opts)
	return err
}

// Wait blocks until the instance is deleted.
func (op *DeleteInstanceOperation) Wait(ctx context.Context, opts ...gax.CallOption) error {
	return op.wait(ctx, &emptypb.Empty{}, opts)
}

// Operation is a long-running operation of any kind.
//
// Its outcome is returned as is, so a failed operation is not an error.
type Operation struct {
	*operation
}

// Poll fetches the latest state of the operation, unless it has already
// finished.
func (op *Operation) Poll(ctx context.Context, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	if err := op.refresh(ctx, opts); err != nil {
		return nil, err
	}
	return op.snapshot(), nil
}

// Wait blocks until the operation finishes, polling it with the client's
// PollBackoff, and returns its final state.
func (op *Operation) Wait(ctx context.Context, opts ...gax.CallOption) (*longrunningpb.Operation, error) {
	if err := op.settle(ctx, opts); err != nil {
		return nil, err
	}
	return op.snapshot(), nil
}
