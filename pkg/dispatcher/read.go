/*
Copyright 2023 The usp-agent-stomp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dispatcher

import (
	"sort"
	"strconv"
	"strings"

	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/role"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// handleGet resolves each requested expression to parameter values, grouped
// by the owning object, with per-path partial success.
func (d *Dispatcher) handleGet(msg *uspproto.Msg, ctrl ControllerInfo) *uspproto.Msg {
	resp := &uspproto.GetResp{}
	for _, expr := range msg.Get.ParamPaths {
		result := uspproto.RequestedPathResult{RequestedPath: expr}
		resolved, err := d.resolveForRead(expr, ctrl)
		if err != nil {
			result.ErrCode = errCodeOf(err)
			result.ErrMsg = usperr.MessageOf(err)
			resp.Results = append(resp.Results, result)
			continue
		}

		// group parameter values under their parent object path, keeping
		// resolution order
		groups := map[string]*uspproto.ResolvedPathResult{}
		var order []string
		failed := false
		for _, rp := range resolved {
			value, gerr := d.reg.GetValue(rp.Path)
			if gerr != nil {
				result.ErrCode = errCodeOf(gerr)
				result.ErrMsg = usperr.MessageOf(gerr)
				failed = true
				break
			}
			parent, leaf := splitLeaf(rp.Path)
			g, ok := groups[parent]
			if !ok {
				g = &uspproto.ResolvedPathResult{
					ResolvedPath: parent + ".",
					ResultParams: map[string]string{},
				}
				groups[parent] = g
				order = append(order, parent)
			}
			g.ResultParams[leaf] = value
		}
		if !failed {
			for _, parent := range order {
				result.Resolved = append(result.Resolved, *groups[parent])
			}
		}
		resp.Results = append(resp.Results, result)
	}
	return &uspproto.Msg{MsgID: msg.MsgID, MsgType: uspproto.MsgGetResp, GetResp: resp}
}

// resolveForRead expands an expression to readable parameters and applies
// the controller's trust role to every touched path.
func (d *Dispatcher) resolveForRead(expr string, ctrl ControllerInfo) ([]datamodel.ResolvedPath, error) {
	resolved, err := d.reg.Resolve(expr)
	if err != nil {
		return nil, err
	}
	params, err := d.reg.ExpandParams(resolved)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, usperr.New(usperr.CodeInvalidPath, "expression %q matches no parameters", expr)
	}
	for _, rp := range params {
		if !role.Permits(ctrl.Role, rp.Path, role.ActionGet) {
			return nil, usperr.New(usperr.CodePermissionDenied,
				"role %s may not read %s", ctrl.Role, rp.Path)
		}
	}
	return params, nil
}

func splitLeaf(path string) (parent, leaf string) {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// handleGetInstances reports the live instances below each requested object
// expression.
func (d *Dispatcher) handleGetInstances(msg *uspproto.Msg, ctrl ControllerInfo) *uspproto.Msg {
	resp := &uspproto.GetInstancesResp{}
	for _, expr := range msg.GetInstances.ObjPaths {
		result := uspproto.InstancesPathResult{RequestedPath: expr}
		resolved, err := d.reg.Resolve(expr)
		if err != nil {
			result.ErrCode = errCodeOf(err)
			result.ErrMsg = usperr.MessageOf(err)
			resp.Results = append(resp.Results, result)
			continue
		}
		var insts []string
		collectErr := func() error {
			for _, rp := range resolved {
				if !role.Permits(ctrl.Role, rp.Path, role.ActionGet) {
					return usperr.New(usperr.CodePermissionDenied,
						"role %s may not read %s", ctrl.Role, rp.Path)
				}
				found, cerr := d.collectInstances(rp, msg.GetInstances.FirstLevelOnly)
				if cerr != nil {
					return cerr
				}
				insts = append(insts, found...)
			}
			return nil
		}()
		if collectErr != nil {
			result.ErrCode = errCodeOf(collectErr)
			result.ErrMsg = usperr.MessageOf(collectErr)
			resp.Results = append(resp.Results, result)
			continue
		}
		for _, p := range insts {
			result.CurrInsts = append(result.CurrInsts, uspproto.CurrInstance{
				InstantiatedObjPath: p + ".",
				UniqueKeys:          map[string]string{},
			})
		}
		resp.Results = append(resp.Results, result)
	}
	return &uspproto.Msg{MsgID: msg.MsgID, MsgType: uspproto.MsgGetInstancesResp, GetInstancesResp: resp}
}

// collectInstances walks one resolved object for instantiated row paths.
// With firstLevelOnly only the first table level below the requested path is
// enumerated; otherwise nested tables are walked too.
func (d *Dispatcher) collectInstances(rp datamodel.ResolvedPath, firstLevelOnly bool) ([]string, error) {
	var out []string

	// enumerateTable lists the rows of a table at a concrete table path and
	// optionally descends into each row.
	var walkObject func(n *datamodel.Node, prefix string) error
	enumerateTable := func(n *datamodel.Node, tablePath string) error {
		nums, err := d.reg.Instances(tablePath)
		if err != nil {
			return err
		}
		for _, num := range nums {
			row := tablePath + "." + strconv.Itoa(num)
			out = append(out, row)
			if !firstLevelOnly {
				if err := walkObject(n, row); err != nil {
					return err
				}
			}
		}
		return nil
	}

	// walkObject descends from a concrete object (single object or table
	// row) into its child branches in name order, keeping output stable.
	walkObject = func(n *datamodel.Node, prefix string) error {
		names := make([]string, 0, len(n.Children))
		for name := range n.Children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			child := n.Children[name]
			switch {
			case child.IsTable():
				if err := enumerateTable(child, prefix+"."+name); err != nil {
					return err
				}
			case child.Kind == datamodel.KindObject:
				if err := walkObject(child, prefix+"."+name); err != nil {
					return err
				}
			}
		}
		return nil
	}

	node := rp.Node
	if node.IsTable() && len(rp.Instances) < node.Order {
		return out, enumerateTable(node, rp.Path)
	}
	return out, walkObject(node, rp.Path)
}

// handleGetSupportedDM reports the supported schema below each requested
// path.
func (d *Dispatcher) handleGetSupportedDM(msg *uspproto.Msg) *uspproto.Msg {
	req := msg.GetSupportedDM
	resp := &uspproto.GetSupportedDMResp{}
	for _, expr := range req.ObjPaths {
		result := uspproto.RequestedObjectResult{
			ReqObjPath:       expr,
			DataModelInstURI: DataModelInstURI,
		}
		objs, err := d.reg.SupportedObjects(expr, !req.FirstLevelOnly)
		if err != nil {
			result.ErrCode = errCodeOf(err)
			result.ErrMsg = usperr.MessageOf(err)
			resp.Results = append(resp.Results, result)
			continue
		}
		for _, o := range objs {
			so := uspproto.SupportedObjectResult{
				SupportedObjPath: o.Path,
				IsMultiInstance:  o.MultiInstance,
				Access:           objAccessOf(o),
			}
			if req.ReturnParams {
				for _, p := range o.Params {
					access := uspproto.ParamReadOnly
					if p.Access == datamodel.AccessReadWrite {
						access = uspproto.ParamReadWrite
					}
					so.SupportedParams = append(so.SupportedParams, uspproto.SupportedParamResult{
						ParamName: p.Name,
						Access:    access,
					})
				}
			}
			if req.ReturnCommands {
				for _, c := range o.Commands {
					so.SupportedCommands = append(so.SupportedCommands, uspproto.SupportedCommandResult{
						CommandName:    c.Name + "()",
						InputArgNames:  c.InputArgs,
						OutputArgNames: c.OutputArgs,
					})
				}
			}
			if req.ReturnEvents {
				for _, e := range o.Events {
					so.SupportedEvents = append(so.SupportedEvents, uspproto.SupportedEventResult{
						EventName: e.Name + "!",
						ArgNames:  e.Args,
					})
				}
			}
			result.SupportedObjs = append(result.SupportedObjs, so)
		}
		resp.Results = append(resp.Results, result)
	}
	return &uspproto.Msg{MsgID: msg.MsgID, MsgType: uspproto.MsgGetSupportedDMResp, GetSupportedDMResp: resp}
}

func objAccessOf(o datamodel.SupportedObject) uint32 {
	switch {
	case o.AllowAdd && o.AllowDelete:
		return uspproto.ObjAddDelete
	case o.AllowAdd:
		return uspproto.ObjAddOnly
	case o.AllowDelete:
		return uspproto.ObjDeleteOnly
	}
	return uspproto.ObjReadOnly
}

// handleGetSupportedProtocol advertises the protocol versions this agent
// implements.
func (d *Dispatcher) handleGetSupportedProtocol(msg *uspproto.Msg) *uspproto.Msg {
	return &uspproto.Msg{
		MsgID:   msg.MsgID,
		MsgType: uspproto.MsgGetSupportedProtoResp,
		GetSupportedProtocolResp: &uspproto.GetSupportedProtocolResp{
			AgentSupportedProtocolVersions: AgentSupportedProtocolVersions,
		},
	}
}
