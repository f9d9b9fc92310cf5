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
	"strconv"
	"strings"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/role"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// RequestTable tracks in-flight async operations as
// Device.LocalAgent.Request rows.
const RequestTable = "Device.LocalAgent.Request"

// pendingOperate is an enqueued async command, executed after the response
// was sent.
type pendingOperate struct {
	objPath     string
	commandName string
	commandKey  string
	input       map[string]string
	handler     datamodel.OperationHandler
	req         datamodel.Request
	requestInst int
}

// handleOperate runs the addressed command. Synchronous operations execute
// inline; asynchronous ones get a Request row plus a CommandKey (the
// request's own, or a generated one when it carries none) and run after the
// reply, completing through an OperationComplete notification.
func (d *Dispatcher) handleOperate(msg *uspproto.Msg, ctrl ControllerInfo) *uspproto.Msg {
	req := msg.Operate
	resp := &uspproto.OperateResp{}

	result := uspproto.OperationResult{ExecutedCommand: req.Command}

	objPath, commandName, node, instances, err := d.lookupCommand(req.Command)
	if err == nil && !role.Permits(ctrl.Role, req.Command, role.ActionOperate) {
		err = usperr.New(usperr.CodePermissionDenied,
			"role %s may not operate %s", ctrl.Role, req.Command)
	}
	if err != nil {
		result.CmdFailure = &uspproto.OperationFailure{ErrCode: errCodeOf(err), ErrMsg: usperr.MessageOf(err)}
		resp.Results = append(resp.Results, result)
		return &uspproto.Msg{MsgID: msg.MsgID, MsgType: uspproto.MsgOperateResp, OperateResp: resp}
	}

	dmReq := datamodel.Request{Path: trimDot(objPath) + "." + commandName, Instances: instances}

	if node.Oper.Async {
		commandKey := req.CommandKey
		if commandKey == "" {
			commandKey = uuid.New().String()
		}
		requestInst, aerr := d.createRequestRow(objPath, commandName, commandKey)
		if aerr != nil {
			result.CmdFailure = &uspproto.OperationFailure{ErrCode: errCodeOf(aerr), ErrMsg: usperr.MessageOf(aerr)}
			resp.Results = append(resp.Results, result)
			return &uspproto.Msg{MsgID: msg.MsgID, MsgType: uspproto.MsgOperateResp, OperateResp: resp}
		}
		d.pendingOps = append(d.pendingOps, pendingOperate{
			objPath:     objPath,
			commandName: commandName,
			commandKey:  commandKey,
			input:       req.InputArgs,
			handler:     node.Oper.Handler,
			req:         dmReq,
			requestInst: requestInst,
		})
		result.ReqObjPath = RequestTable + "." + strconv.Itoa(requestInst) + "."
		resp.Results = append(resp.Results, result)
		return &uspproto.Msg{MsgID: msg.MsgID, MsgType: uspproto.MsgOperateResp, OperateResp: resp}
	}

	output, herr := node.Oper.Handler(dmReq, req.InputArgs)
	if herr != nil {
		result.CmdFailure = &uspproto.OperationFailure{ErrCode: errCodeOf(herr), ErrMsg: usperr.MessageOf(herr)}
	} else {
		result.OutputArgs = output
		result.HasOutputArgs = true
	}
	resp.Results = append(resp.Results, result)
	return &uspproto.Msg{MsgID: msg.MsgID, MsgType: uspproto.MsgOperateResp, OperateResp: resp}
}

// lookupCommand splits Device.X.Y.Command() into its object path and
// command node.
func (d *Dispatcher) lookupCommand(command string) (objPath, name string, node *datamodel.Node, instances []int, err error) {
	clean := strings.TrimSuffix(command, "()")
	idx := strings.LastIndex(clean, ".")
	if idx < 0 {
		return "", "", nil, nil, usperr.New(usperr.CodeInvalidPath, "malformed command path %q", command)
	}
	objPath = clean[:idx+1]
	name = clean[idx+1:]

	resolved, rerr := d.reg.Resolve(clean)
	if rerr != nil {
		return "", "", nil, nil, rerr
	}
	if len(resolved) != 1 {
		return "", "", nil, nil, usperr.New(usperr.CodeInvalidPath,
			"command path %q must address exactly one object", command)
	}
	rp := resolved[0]
	if rp.Node.Kind != datamodel.KindOperation {
		return "", "", nil, nil, usperr.New(usperr.CodeInvalidPath, "%q is not an operation", command)
	}
	objPath = parentOf(rp.Path) + "."
	return objPath, name, rp.Node, rp.Instances, nil
}

func parentOf(path string) string {
	idx := strings.LastIndex(trimDot(path), ".")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// createRequestRow adds a Device.LocalAgent.Request instance for an async
// command in its own transaction.
func (d *Dispatcher) createRequestRow(objPath, commandName, commandKey string) (int, error) {
	txn, err := d.reg.Begin()
	if err != nil {
		return 0, err
	}
	inst, aerr := d.reg.AddInstance(RequestTable)
	if aerr != nil {
		txn.Abort()
		return 0, aerr
	}
	row := RequestTable + "." + strconv.Itoa(inst)
	settings := map[string]string{
		".Command":    objPath + commandName + "()",
		".CommandKey": commandKey,
		".Status":     "Requested",
	}
	for suffix, value := range settings {
		if serr := d.reg.SetValue(row+suffix, value); serr != nil {
			txn.Abort()
			return 0, serr
		}
	}
	if cerr := txn.Commit(); cerr != nil {
		return 0, cerr
	}
	return inst, nil
}

// RunPendingOperations executes enqueued async commands. Called by the
// owning module after responses are flushed. Completion or failure reaches
// the controller via an OperationComplete notification, and the Request row
// is removed.
func (d *Dispatcher) RunPendingOperations() {
	ops := d.pendingOps
	d.pendingOps = nil
	for _, op := range ops {
		output, err := op.handler(op.req, op.input)
		d.subs.OperationComplete(op.objPath, op.commandName+"()", op.commandKey, output, err)
		d.removeRequestRow(op.requestInst)
		if err != nil {
			klog.Warningf("async command %s%s() failed: %v", op.objPath, op.commandName, err)
		}
	}
}

// HasPendingOperations reports whether async work awaits RunPendingOperations.
func (d *Dispatcher) HasPendingOperations() bool {
	return len(d.pendingOps) > 0
}

func (d *Dispatcher) removeRequestRow(inst int) {
	txn, err := d.reg.Begin()
	if err != nil {
		klog.Errorf("failed to open transaction for request row cleanup: %v", err)
		return
	}
	if derr := d.reg.DeleteInstance(RequestTable + "." + strconv.Itoa(inst)); derr != nil {
		txn.Abort()
		klog.Errorf("failed to delete request row %d: %v", inst, derr)
		return
	}
	if cerr := txn.Commit(); cerr != nil {
		klog.Errorf("failed to commit request row cleanup: %v", cerr)
	}
}
