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
	"regexp"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/google/uuid"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var operationRe = regexp.MustCompile(`^projects/[^/]+/locations/[^/]+/operations/[^/]+$`)

// operation is a long-running operation tracked by the fake.
type operation struct {
	op       *longrunningpb.Operation
	meta     *memcachepb.OperationMetadata
	pending  int
	complete func() (proto.Message, error)
	rollback func()
}

// startOp registers an operation targeting an instance.
//
// complete is called under the lock when the operation finishes, rollback
// (if not nil) when it is cancelled. Must be called under the lock.
func (s *Server) startOp(target, verb string, complete func() (proto.Message, error), rollback func()) (*longrunningpb.Operation, error) {
	m := instanceRe.FindStringSubmatch(target)
	op := &operation{
		op: &longrunningpb.Operation{
			Name: m[1] + "/operations/operation-" + uuid.NewString(),
		},
		meta: &memcachepb.OperationMetadata{
			CreateTime: timestamppb.Now(),
			Target:     target,
			Verb:       verb,
			ApiVersion: "v1",
		},
		pending:  s.pendingPolls,
		complete: complete,
		rollback: rollback,
	}
	if op.pending <= 0 {
		op.finish(op.complete())
	}
	if err := op.packMetadata(); err != nil {
		return nil, err
	}
	s.ops[op.op.Name] = op
	return proto.Clone(op.op).(*longrunningpb.Operation), nil
}

// finish marks the operation as done with a result.
func (op *operation) finish(res proto.Message, err error) {
	op.op.Done = true
	op.meta.EndTime = timestamppb.Now()
	if err == nil {
		var a *anypb.Any
		if a, err = anypb.New(res); err == nil {
			op.op.Result = &longrunningpb.Operation_Response{Response: a}
			return
		}
	}
	op.op.Result = &longrunningpb.Operation_Error{Error: statusProto(err)}
}

func (op *operation) packMetadata() error {
	a, err := anypb.New(op.meta)
	if err != nil {
		return status.Errorf(codes.Internal, "packing operation metadata: %s", err)
	}
	op.op.Metadata = a
	return nil
}

func statusProto(err error) *spb.Status {
	if st, ok := status.FromError(err); ok {
		return st.Proto()
	}
	return &spb.Status{Code: int32(codes.Unknown), Message: err.Error()}
}

// Operation returns a copy of a tracked operation or nil.
func (s *Server) Operation(name string) *longrunningpb.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op := s.ops[name]; op != nil {
		return proto.Clone(op.op).(*longrunningpb.Operation)
	}
	return nil
}

func (s *Server) lookupOp(name string) (*operation, error) {
	if !operationRe.MatchString(name) {
		return nil, status.Errorf(codes.InvalidArgument, "bad operation name %q", name)
	}
	op, ok := s.ops[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "operation %q not found", name)
	}
	return op, nil
}

// GetOperation implements longrunningpb.OperationsServer.
//
// Each call counts as a poll of a pending operation.
func (s *Server) GetOperation(ctx context.Context, req *longrunningpb.GetOperationRequest) (*longrunningpb.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "GetOperation"); err != nil {
		return nil, err
	}
	op, err := s.lookupOp(req.Name)
	if err != nil {
		return nil, err
	}
	if !op.op.Done {
		if op.pending--; op.pending <= 0 {
			op.finish(op.complete())
			if err := op.packMetadata(); err != nil {
				return nil, err
			}
		}
	}
	return proto.Clone(op.op).(*longrunningpb.Operation), nil
}

// CancelOperation implements longrunningpb.OperationsServer.
//
// Cancelling a finished operation is a noop.
func (s *Server) CancelOperation(ctx context.Context, req *longrunningpb.CancelOperationRequest) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "CancelOperation"); err != nil {
		return nil, err
	}
	op, err := s.lookupOp(req.Name)
	if err != nil {
		return nil, err
	}
	if !op.op.Done {
		op.meta.CancelRequested = true
		if op.rollback != nil {
			op.rollback()
		}
		op.finish(nil, status.Errorf(codes.Canceled, "operation %q was cancelled", req.Name))
		if err := op.packMetadata(); err != nil {
			return nil, err
		}
	}
	return &emptypb.Empty{}, nil
}

// DeleteOperation implements longrunningpb.OperationsServer.
func (s *Server) DeleteOperation(ctx context.Context, req *longrunningpb.DeleteOperationRequest) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "DeleteOperation"); err != nil {
		return nil, err
	}
	if _, err := s.lookupOp(req.Name); err != nil {
		return nil, err
	}
	delete(s.ops, req.Name)
	return &emptypb.Empty{}, nil
}
