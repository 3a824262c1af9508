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

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/memcache/apiv1/memcachepb"
	"github.com/dustin/go-humanize"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"gopkg.in/yaml.v2"

	"go.chromium.org/luci/common/errors"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// printer renders instances and operations in one of the output formats.
type printer struct {
	out    io.Writer
	format string
	tw     *tabwriter.Writer
	header bool
}

func newPrinter(out io.Writer, format string) (*printer, error) {
	switch format {
	case formatTable, formatJSON, formatYAML:
	default:
		return nil, errors.Reason("unknown -format %q, want one of table, json, yaml", format).Err()
	}
	p := &printer{out: out, format: format}
	if format == formatTable {
		p.tw = tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	}
	return p, nil
}

// Instance prints an instance.
func (p *printer) Instance(inst *memcachepb.Instance) error {
	if p.format != formatTable {
		return p.message(inst)
	}
	if !p.header {
		fmt.Fprintln(p.tw, "NAME\tSTATE\tNODES\tMEMORY\tVERSION\tCREATED")
		p.header = true
	}
	_, err := fmt.Fprintf(p.tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		inst.GetName(),
		inst.GetState(),
		nodeCount(inst),
		memory(inst.GetNodeConfig()),
		inst.GetMemcacheFullVersion(),
		created(inst))
	return err
}

// Operation prints an operation.
func (p *printer) Operation(op *longrunningpb.Operation) error {
	if p.format != formatTable {
		return p.message(op)
	}
	meta := &memcachepb.OperationMetadata{}
	if op.GetMetadata() != nil {
		if err := op.GetMetadata().UnmarshalTo(meta); err != nil {
			return errors.Annotate(err, "bad metadata of operation %q", op.GetName()).Err()
		}
	}
	state := "RUNNING"
	switch {
	case op.GetError() != nil:
		state = fmt.Sprintf("FAILED: %s", op.GetError().GetMessage())
	case op.GetDone():
		state = "DONE"
	case meta.GetCancelRequested():
		state = "CANCELLING"
	}
	_, err := fmt.Fprintf(p.tw, "Operation: %s\nVerb:      %s\nTarget:    %s\nState:     %s\n",
		op.GetName(), meta.GetVerb(), meta.GetTarget(), state)
	return err
}

// Pending prints a started operation that the command didn't wait for.
func (p *printer) Pending(name string, meta *memcachepb.OperationMetadata) error {
	if p.format != formatTable {
		op := &longrunningpb.Operation{Name: name}
		if meta != nil {
			var err error
			if op.Metadata, err = anypb.New(meta); err != nil {
				return err
			}
		}
		return p.message(op)
	}
	_, err := fmt.Fprintf(p.tw, "Started %s of %s\nOperation: %s\n", meta.GetVerb(), meta.GetTarget(), name)
	return err
}

// Parameters prints memcached parameters of an instance.
func (p *printer) Parameters(inst *memcachepb.Instance) error {
	if p.format != formatTable {
		return p.message(inst.GetParameters())
	}
	params := inst.GetParameters().GetParams()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(p.tw, "Instance:\t%s\n", inst.GetName())
	fmt.Fprintf(p.tw, "Parameters ID:\t%s\n", inst.GetParameters().GetId())
	for _, k := range keys {
		fmt.Fprintf(p.tw, "  %s\t%s\n", k, params[k])
	}
	for _, n := range inst.GetMemcacheNodes() {
		applied := "-"
		if n.GetParameters() != nil {
			applied = n.GetParameters().GetId()
		}
		if _, err := fmt.Fprintf(p.tw, "Node %s:\tapplied %s\n", n.GetNodeId(), applied); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered table rows.
func (p *printer) Flush() error {
	if p.tw != nil {
		return p.tw.Flush()
	}
	return nil
}

func (p *printer) message(m proto.Message) error {
	blob, err := (protojson.MarshalOptions{Multiline: true, Indent: "  "}).Marshal(m)
	if err != nil {
		return err
	}
	if p.format == formatYAML {
		if blob, err = jsonToYAML(blob); err != nil {
			return err
		}
		if _, err = p.out.Write([]byte("---\n")); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(p.out, "%s\n", strings.TrimRight(string(blob), "\n"))
	return err
}

// jsonToYAML converts a JSON document to YAML preserving key order.
func jsonToYAML(blob []byte) ([]byte, error) {
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(blob, &doc); err != nil {
		return nil, errors.Annotate(err, "converting to YAML").Err()
	}
	return yaml.Marshal(doc)
}

func nodeCount(inst *memcachepb.Instance) string {
	if ready := len(inst.GetMemcacheNodes()); ready != int(inst.GetNodeCount()) {
		return fmt.Sprintf("%d/%d", ready, inst.GetNodeCount())
	}
	return fmt.Sprintf("%d", inst.GetNodeCount())
}

func memory(cfg *memcachepb.Instance_NodeConfig) string {
	if cfg == nil {
		return "-"
	}
	return fmt.Sprintf("%d CPU, %s", cfg.GetCpuCount(), humanize.IBytes(uint64(cfg.GetMemorySizeMb())*humanize.MiByte))
}

func created(inst *memcachepb.Instance) string {
	if inst.GetCreateTime() == nil {
		return "-"
	}
	return humanize.Time(inst.GetCreateTime().AsTime())
}

