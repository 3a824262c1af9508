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

// Package memcachetest implements an in-memory fake of the Cloud Memcache
// control plane.
//
// The fake serves the CloudMemcache and Operations gRPC services, as well as
// their HTTP/JSON mapping, and keeps all state in memory. Mutations are
// modelled as long-running operations which complete after a configurable
// number of polls.
//
// Usage in tests:
//
//	srv := memcachetest.NewServer()
//	defer srv.Stop()
//	conn, err := srv.Dial(ctx)
//	...
package memcachetest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	// MinMemorySizeMB is the smallest allowed per-node memory size.
	MinMemorySizeMB = 1024
	// MaxMemorySizeMB is the largest allowed per-node memory size.
	MaxMemorySizeMB = 307200

	// DefaultPageSize is used by ListInstances when the page size is 0.
	DefaultPageSize = 100

	// NodePort is the port of every fake node.
	NodePort = 11211

	fullVersion = "memcached-1.5.16"
)

var (
	parentRe     = regexp.MustCompile(`^projects/[^/]+/locations/[^/]+$`)
	instanceRe   = regexp.MustCompile(`^(projects/[^/]+/locations/([^/]+))/instances/([^/]+)$`)
	instanceIDRe = regexp.MustCompile(`^[a-z][a-z0-9-]{0,38}[a-z0-9]$`)

	updatableFields = map[string]bool{
		"display_name": true,
		"labels":       true,
		"node_count":   true,
	}
)

// Request is a call received by the fake.
type Request struct {
	// Method is a short method name, e.g. "GetInstance".
	Method string
	// Metadata is the metadata (or HTTP headers) the call arrived with.
	Metadata metadata.MD
}

// Server is the fake CloudMemcache and Operations service.
//
// The zero value is not usable, use NewServer.
type Server struct {
	memcachepb.UnimplementedCloudMemcacheServer
	longrunningpb.UnimplementedOperationsServer

	mu           sync.Mutex
	instances    map[string]*memcachepb.Instance
	ops          map[string]*operation
	pendingPolls int
	errs         map[string][]error
	reqs         []Request

	servers []*grpc.Server
}

var (
	_ memcachepb.CloudMemcacheServer  = (*Server)(nil)
	_ longrunningpb.OperationsServer = (*Server)(nil)
)

// NewServer returns a fake with no instances whose operations complete
// immediately.
func NewServer() *Server {
	return &Server{
		instances: map[string]*memcachepb.Instance{},
		ops:       map[string]*operation{},
		errs:      map[string][]error{},
	}
}

// SetPendingPolls makes operations started afterwards stay pending until
// they are polled n times. The n-th GetOperation call returns the finished
// operation. With n == 0, operations are finished when returned.
func (s *Server) SetPendingPolls(n int) {
	s.mu.Lock()
	s.pendingPolls = n
	s.mu.Unlock()
}

// FakeErrors presets 1 or more errors to be returned by the following calls
// of the method, e.g. "GetInstance" or "GetOperation".
func (s *Server) FakeErrors(method string, errs ...error) {
	s.mu.Lock()
	s.errs[method] = append(s.errs[method], errs...)
	s.mu.Unlock()
}

// PopRequests returns calls received since the previous PopRequests.
func (s *Server) PopRequests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := s.reqs
	s.reqs = nil
	return ret
}

// PutInstance stores a READY copy of inst, replacing an existing one.
//
// Nodes are generated if inst has none.
func (s *Server) PutInstance(inst *memcachepb.Instance) {
	inst = proto.Clone(inst).(*memcachepb.Instance)
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.State == memcachepb.Instance_STATE_UNSPECIFIED {
		inst.State = memcachepb.Instance_READY
	}
	if len(inst.MemcacheNodes) == 0 {
		resizeNodes(inst, locationOf(inst.Name))
	}
	s.instances[inst.Name] = inst
}

// Instance returns a copy of the stored instance or nil.
func (s *Server) Instance(name string) *memcachepb.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst := s.instances[name]; inst != nil {
		return proto.Clone(inst).(*memcachepb.Instance)
	}
	return nil
}

// enter records the call and pops a preset error, if any.
//
// Must be called under the lock.
func (s *Server) enter(ctx context.Context, method string) error {
	md, _ := metadata.FromIncomingContext(ctx)
	s.reqs = append(s.reqs, Request{Method: method, Metadata: md.Copy()})
	if errs := s.errs[method]; len(errs) > 0 {
		s.errs[method] = errs[1:]
		return errs[0]
	}
	return nil
}

// ListInstances implements memcachepb.CloudMemcacheServer.
//
// Location "-" lists instances in all locations of the project.
func (s *Server) ListInstances(ctx context.Context, req *memcachepb.ListInstancesRequest) (*memcachepb.ListInstancesResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "ListInstances"); err != nil {
		return nil, err
	}

	if !parentRe.MatchString(req.Parent) {
		return nil, status.Errorf(codes.InvalidArgument, "bad parent %q", req.Parent)
	}
	if req.Filter != "" {
		return nil, status.Errorf(codes.InvalidArgument, "filters are not supported")
	}
	desc := false
	switch req.OrderBy {
	case "", "name":
	case "name desc":
		desc = true
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unsupported order %q", req.OrderBy)
	}
	pageSize := int(req.PageSize)
	switch {
	case pageSize < 0:
		return nil, status.Errorf(codes.InvalidArgument, "negative page size")
	case pageSize == 0:
		pageSize = DefaultPageSize
	}
	offset := 0
	if req.PageToken != "" {
		var err error
		if offset, err = strconv.Atoi(req.PageToken); err != nil || offset < 0 {
			return nil, status.Errorf(codes.InvalidArgument, "bad page token %q", req.PageToken)
		}
	}

	prefix := req.Parent + "/instances/"
	if strings.HasSuffix(req.Parent, "/locations/-") {
		prefix = strings.TrimSuffix(req.Parent, "-")
	}
	var names []string
	for name := range s.instances {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if desc {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	resp := &memcachepb.ListInstancesResponse{}
	if offset >= len(names) {
		return resp, nil
	}
	end := min(offset+pageSize, len(names))
	for _, name := range names[offset:end] {
		resp.Instances = append(resp.Instances, proto.Clone(s.instances[name]).(*memcachepb.Instance))
	}
	if end < len(names) {
		resp.NextPageToken = strconv.Itoa(end)
	}
	return resp, nil
}

// GetInstance implements memcachepb.CloudMemcacheServer.
func (s *Server) GetInstance(ctx context.Context, req *memcachepb.GetInstanceRequest) (*memcachepb.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "GetInstance"); err != nil {
		return nil, err
	}
	inst, err := s.lookup(req.Name)
	if err != nil {
		return nil, err
	}
	return proto.Clone(inst).(*memcachepb.Instance), nil
}

// CreateInstance implements memcachepb.CloudMemcacheServer.
func (s *Server) CreateInstance(ctx context.Context, req *memcachepb.CreateInstanceRequest) (*longrunningpb.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "CreateInstance"); err != nil {
		return nil, err
	}

	if !parentRe.MatchString(req.Parent) {
		return nil, status.Errorf(codes.InvalidArgument, "bad parent %q", req.Parent)
	}
	if !instanceIDRe.MatchString(req.InstanceId) {
		return nil, status.Errorf(codes.InvalidArgument, "bad instance id %q: must match %s", req.InstanceId, instanceIDRe)
	}
	if err := validateInstance(req.Instance); err != nil {
		return nil, err
	}
	name := req.Parent + "/instances/" + req.InstanceId
	if _, ok := s.instances[name]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "instance %q already exists", name)
	}

	now := timestamppb.Now()
	inst := proto.Clone(req.Instance).(*memcachepb.Instance)
	inst.Name = name
	inst.State = memcachepb.Instance_CREATING
	inst.CreateTime = now
	inst.UpdateTime = now
	inst.DiscoveryEndpoint = fmt.Sprintf("10.0.0.254:%d", NodePort)
	inst.MemcacheFullVersion = fullVersion
	if inst.MemcacheVersion == memcachepb.MemcacheVersion_MEMCACHE_VERSION_UNSPECIFIED {
		inst.MemcacheVersion = memcachepb.MemcacheVersion_MEMCACHE_1_5
	}
	if inst.Parameters != nil {
		inst.Parameters.Id = uuid.NewString()
	}
	resizeNodes(inst, locationOf(name))
	s.instances[name] = inst

	return s.startOp(name, "create", func() (proto.Message, error) {
		inst.State = memcachepb.Instance_READY
		for _, n := range inst.MemcacheNodes {
			n.State = memcachepb.Instance_Node_READY
		}
		return proto.Clone(inst), nil
	}, func() {
		delete(s.instances, name)
	})
}

// UpdateInstance implements memcachepb.CloudMemcacheServer.
//
// Supported mask paths are "display_name", "labels" and "node_count".
func (s *Server) UpdateInstance(ctx context.Context, req *memcachepb.UpdateInstanceRequest) (*longrunningpb.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "UpdateInstance"); err != nil {
		return nil, err
	}

	if req.Instance == nil {
		return nil, status.Errorf(codes.InvalidArgument, "instance is required")
	}
	inst, err := s.lookupReady(req.Instance.Name)
	if err != nil {
		return nil, err
	}
	paths, err := maskPaths(req.UpdateMask, updatableFields)
	if err != nil {
		return nil, err
	}
	upd := proto.Clone(req.Instance).(*memcachepb.Instance)
	for _, p := range paths {
		if p == "node_count" && upd.NodeCount < 1 {
			return nil, status.Errorf(codes.InvalidArgument, "node_count must be positive")
		}
	}

	return s.startOp(inst.Name, "update", func() (proto.Message, error) {
		for _, p := range paths {
			switch p {
			case "display_name":
				inst.DisplayName = upd.DisplayName
			case "labels":
				inst.Labels = upd.Labels
			case "node_count":
				inst.NodeCount = upd.NodeCount
				resizeNodes(inst, locationOf(inst.Name))
			}
		}
		inst.UpdateTime = timestamppb.Now()
		return proto.Clone(inst), nil
	}, nil)
}

// UpdateParameters implements memcachepb.CloudMemcacheServer.
//
// The new parameters are staged on the instance; ApplyParameters pushes
// them to nodes.
func (s *Server) UpdateParameters(ctx context.Context, req *memcachepb.UpdateParametersRequest) (*longrunningpb.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "UpdateParameters"); err != nil {
		return nil, err
	}

	inst, err := s.lookupReady(req.Name)
	if err != nil {
		return nil, err
	}
	if _, err := maskPaths(req.UpdateMask, map[string]bool{"params": true}); err != nil {
		return nil, err
	}
	params := map[string]string{}
	for k, v := range req.GetParameters().GetParams() {
		params[k] = v
	}

	return s.startOp(inst.Name, "update", func() (proto.Message, error) {
		inst.Parameters = &memcachepb.MemcacheParameters{Id: uuid.NewString(), Params: params}
		inst.UpdateTime = timestamppb.Now()
		return proto.Clone(inst), nil
	}, nil)
}

// DeleteInstance implements memcachepb.CloudMemcacheServer.
func (s *Server) DeleteInstance(ctx context.Context, req *memcachepb.DeleteInstanceRequest) (*longrunningpb.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "DeleteInstance"); err != nil {
		return nil, err
	}

	inst, err := s.lookupReady(req.Name)
	if err != nil {
		return nil, err
	}
	inst.State = memcachepb.Instance_DELETING

	return s.startOp(inst.Name, "delete", func() (proto.Message, error) {
		delete(s.instances, inst.Name)
		return &emptypb.Empty{}, nil
	}, func() {
		inst.State = memcachepb.Instance_READY
	})
}

// ApplyParameters implements memcachepb.CloudMemcacheServer.
func (s *Server) ApplyParameters(ctx context.Context, req *memcachepb.ApplyParametersRequest) (*longrunningpb.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "ApplyParameters"); err != nil {
		return nil, err
	}

	inst, err := s.lookupReady(req.Name)
	if err != nil {
		return nil, err
	}
	var nodes []*memcachepb.Instance_Node
	switch {
	case req.ApplyAll:
		nodes = inst.MemcacheNodes
	case len(req.NodeIds) == 0:
		return nil, status.Errorf(codes.InvalidArgument, "either node_ids or apply_all must be set")
	default:
		byID := make(map[string]*memcachepb.Instance_Node, len(inst.MemcacheNodes))
		for _, n := range inst.MemcacheNodes {
			byID[n.NodeId] = n
		}
		for _, id := range req.NodeIds {
			n, ok := byID[id]
			if !ok {
				return nil, status.Errorf(codes.InvalidArgument, "no node %q in instance %q", id, inst.Name)
			}
			nodes = append(nodes, n)
		}
	}

	return s.startOp(inst.Name, "update", func() (proto.Message, error) {
		for _, n := range nodes {
			if inst.Parameters == nil {
				n.Parameters = nil
			} else {
				n.Parameters = proto.Clone(inst.Parameters).(*memcachepb.MemcacheParameters)
			}
		}
		inst.UpdateTime = timestamppb.Now()
		return proto.Clone(inst), nil
	}, nil)
}

// lookup must be called under the lock.
func (s *Server) lookup(name string) (*memcachepb.Instance, error) {
	if !instanceRe.MatchString(name) {
		return nil, status.Errorf(codes.InvalidArgument, "bad instance name %q", name)
	}
	inst, ok := s.instances[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "instance %q not found", name)
	}
	return inst, nil
}

// lookupReady is like lookup, but also rejects instances with a mutation
// in flight.
func (s *Server) lookupReady(name string) (*memcachepb.Instance, error) {
	inst, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if inst.State != memcachepb.Instance_READY {
		return nil, status.Errorf(codes.FailedPrecondition, "instance %q is %s", name, inst.State)
	}
	return inst, nil
}

func validateInstance(inst *memcachepb.Instance) error {
	switch {
	case inst == nil:
		return status.Errorf(codes.InvalidArgument, "instance is required")
	case inst.NodeCount < 1:
		return status.Errorf(codes.InvalidArgument, "node_count must be positive")
	case inst.NodeConfig == nil:
		return status.Errorf(codes.InvalidArgument, "node_config is required")
	case inst.NodeConfig.CpuCount < 1:
		return status.Errorf(codes.InvalidArgument, "node_config.cpu_count must be positive")
	case inst.NodeConfig.MemorySizeMb < MinMemorySizeMB || inst.NodeConfig.MemorySizeMb > MaxMemorySizeMB:
		return status.Errorf(codes.InvalidArgument, "node_config.memory_size_mb must be in [%d, %d]", MinMemorySizeMB, MaxMemorySizeMB)
	}
	return nil
}

// maskPaths validates an update mask against the allowed paths.
func maskPaths(mask *fieldmaskpb.FieldMask, allowed map[string]bool) ([]string, error) {
	if len(mask.GetPaths()) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "update_mask is required")
	}
	for _, p := range mask.Paths {
		if !allowed[p] {
			return nil, status.Errorf(codes.InvalidArgument, "field %q can't be updated", p)
		}
	}
	return mask.Paths, nil
}

// resizeNodes makes the instance have exactly NodeCount nodes.
func resizeNodes(inst *memcachepb.Instance, location string) {
	zones := inst.Zones
	if len(zones) == 0 {
		zones = []string{location + "-a"}
	}
	n := int(inst.NodeCount)
	if len(inst.MemcacheNodes) > n {
		inst.MemcacheNodes = inst.MemcacheNodes[:n]
	}
	for i := len(inst.MemcacheNodes); i < n; i++ {
		state := memcachepb.Instance_Node_READY
		if inst.State == memcachepb.Instance_CREATING {
			state = memcachepb.Instance_Node_CREATING
		}
		node := &memcachepb.Instance_Node{
			NodeId: fmt.Sprintf("node-%d", i),
			Zone:   zones[i%len(zones)],
			State:  state,
			Host:   fmt.Sprintf("10.0.0.%d", i+1),
			Port:   NodePort,
		}
		if inst.Parameters != nil {
			node.Parameters = proto.Clone(inst.Parameters).(*memcachepb.MemcacheParameters)
		}
		inst.MemcacheNodes = append(inst.MemcacheNodes, node)
	}
}

func locationOf(name string) string {
	if m := instanceRe.FindStringSubmatch(name); m != nil {
		return m[2]
	}
	return "us-central1"
}
