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

	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/role"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// handleSet applies parameter updates under one per-message transaction.
// With allow_partial a failing object is rolled back to its savepoint and
// reported, the rest of the message still commits. Without allow_partial
// any object failure aborts the whole message.
func (d *Dispatcher) handleSet(msg *uspproto.Msg, ctrl ControllerInfo) *uspproto.Msg {
	req := msg.Set
	txn, errMsg := d.begin(msg)
	if errMsg != nil {
		return errMsg
	}

	resp := &uspproto.SetResp{}
	for _, uo := range req.UpdateObjs {
		result := d.applyUpdateObject(txn, uo, ctrl)
		if result.Failure != nil && !req.AllowPartial {
			txn.Abort()
			return d.errorMsg(msg, &usperr.Error{
				Code: usperr.Code(result.Failure.ErrCode),
				Msg:  result.Failure.ErrMsg,
			})
		}
		resp.Results = append(resp.Results, result)
	}

	if err := txn.Commit(); err != nil {
		return d.errorMsg(msg, err)
	}
	return &uspproto.Msg{MsgID: msg.MsgID, MsgType: uspproto.MsgSetResp, SetResp: resp}
}

// applyUpdateObject processes one update expression, buffering its edits
// behind a savepoint so a required failure discards only this object.
func (d *Dispatcher) applyUpdateObject(txn *datamodel.Transaction, uo uspproto.UpdateObject, ctrl ControllerInfo) uspproto.UpdatedObjectResult {
	result := uspproto.UpdatedObjectResult{RequestedPath: uo.ObjPath}
	mark := txn.Mark()

	resolved, err := d.reg.Resolve(uo.ObjPath)
	if err != nil {
		result.Failure = &uspproto.OperationFailure{ErrCode: errCodeOf(err), ErrMsg: usperr.MessageOf(err)}
		return result
	}
	if len(resolved) == 0 {
		err := usperr.New(usperr.CodeObjectNotFound, "expression %q matches no objects", uo.ObjPath)
		result.Failure = &uspproto.OperationFailure{ErrCode: errCodeOf(err), ErrMsg: err.Msg}
		return result
	}

	success := &uspproto.UpdatedSuccess{}
	for _, rp := range resolved {
		instResult := uspproto.UpdatedInstanceResult{
			AffectedPath:  rp.Path + ".",
			UpdatedParams: map[string]string{},
		}
		for _, ps := range uo.ParamSettings {
			paramPath := rp.Path + "." + ps.Param
			var serr error
			if !role.Permits(ctrl.Role, paramPath, role.ActionSet) {
				serr = usperr.New(usperr.CodePermissionDenied,
					"role %s may not write %s", ctrl.Role, paramPath)
			} else {
				serr = d.reg.SetValue(paramPath, ps.Value)
			}
			if serr != nil {
				if ps.Required {
					txn.RollbackTo(mark)
					result.Failure = &uspproto.OperationFailure{
						ErrCode: errCodeOf(serr),
						ErrMsg:  usperr.MessageOf(serr),
					}
					return result
				}
				instResult.ParamErrs = append(instResult.ParamErrs, uspproto.ParamError{
					ParamPath: ps.Param,
					ErrCode:   errCodeOf(serr),
					ErrMsg:    usperr.MessageOf(serr),
				})
				continue
			}
			instResult.UpdatedParams[ps.Param] = ps.Value
		}
		success.UpdatedInstResults = append(success.UpdatedInstResults, instResult)
	}
	result.Success = success
	return result
}

// handleAdd creates instances under one per-message transaction.
func (d *Dispatcher) handleAdd(msg *uspproto.Msg, ctrl ControllerInfo) *uspproto.Msg {
	req := msg.Add
	txn, errMsg := d.begin(msg)
	if errMsg != nil {
		return errMsg
	}

	resp := &uspproto.AddResp{}
	for _, co := range req.CreateObjs {
		result := d.applyCreateObject(txn, co, ctrl)
		if result.Failure != nil && !req.AllowPartial {
			txn.Abort()
			return d.errorMsg(msg, &usperr.Error{
				Code: usperr.Code(result.Failure.ErrCode),
				Msg:  result.Failure.ErrMsg,
			})
		}
		resp.Results = append(resp.Results, result)
	}

	if err := txn.Commit(); err != nil {
		return d.errorMsg(msg, err)
	}
	return &uspproto.Msg{MsgID: msg.MsgID, MsgType: uspproto.MsgAddResp, AddResp: resp}
}

func (d *Dispatcher) applyCreateObject(txn *datamodel.Transaction, co uspproto.CreateObject, ctrl ControllerInfo) uspproto.CreatedObjectResult {
	result := uspproto.CreatedObjectResult{RequestedPath: co.ObjPath}
	mark := txn.Mark()

	fail := func(err error) uspproto.CreatedObjectResult {
		txn.RollbackTo(mark)
		result.Success = nil
		result.Failure = &uspproto.OperationFailure{ErrCode: errCodeOf(err), ErrMsg: usperr.MessageOf(err)}
		return result
	}

	tablePath := co.ObjPath
	if !role.Permits(ctrl.Role, tablePath, role.ActionAdd) {
		return fail(usperr.New(usperr.CodePermissionDenied,
			"role %s may not create %s", ctrl.Role, tablePath))
	}

	node := d.reg.LookupTemplate(templateOf(tablePath))
	if node == nil {
		return fail(usperr.New(usperr.CodeInvalidPath,
			"path %q does not match the supported data model", tablePath))
	}
	if node.Object == nil || !node.Object.AllowAdd {
		return fail(usperr.New(usperr.CodeObjectNotCreatable,
			"instances of %s cannot be created by a controller", tablePath))
	}

	inst, err := d.reg.AddInstance(tablePath)
	if err != nil {
		return fail(err)
	}
	instPath := trimDot(tablePath) + "." + strconv.Itoa(inst)

	success := &uspproto.CreatedSuccess{
		InstantiatedPath: instPath + ".",
		UniqueKeys:       map[string]string{},
	}
	for _, ps := range co.ParamSettings {
		serr := d.reg.SetValue(instPath+"."+ps.Param, ps.Value)
		if serr != nil {
			if ps.Required {
				return fail(serr)
			}
			success.ParamErrs = append(success.ParamErrs, uspproto.ParamError{
				ParamPath: ps.Param,
				ErrCode:   errCodeOf(serr),
				ErrMsg:    usperr.MessageOf(serr),
			})
		}
	}
	result.Success = success
	return result
}

// handleDelete removes instances under one per-message transaction.
func (d *Dispatcher) handleDelete(msg *uspproto.Msg, ctrl ControllerInfo) *uspproto.Msg {
	req := msg.Delete
	txn, errMsg := d.begin(msg)
	if errMsg != nil {
		return errMsg
	}

	resp := &uspproto.DeleteResp{}
	for _, expr := range req.ObjPaths {
		result := d.applyDelete(txn, expr, ctrl)
		if result.Failure != nil && !req.AllowPartial {
			txn.Abort()
			return d.errorMsg(msg, &usperr.Error{
				Code: usperr.Code(result.Failure.ErrCode),
				Msg:  result.Failure.ErrMsg,
			})
		}
		resp.Results = append(resp.Results, result)
	}

	if err := txn.Commit(); err != nil {
		return d.errorMsg(msg, err)
	}
	return &uspproto.Msg{MsgID: msg.MsgID, MsgType: uspproto.MsgDeleteResp, DeleteResp: resp}
}

func (d *Dispatcher) applyDelete(txn *datamodel.Transaction, expr string, ctrl ControllerInfo) uspproto.DeletedObjectResult {
	result := uspproto.DeletedObjectResult{RequestedPath: expr}
	mark := txn.Mark()

	fail := func(err error) uspproto.DeletedObjectResult {
		txn.RollbackTo(mark)
		result.Success = nil
		result.Failure = &uspproto.OperationFailure{ErrCode: errCodeOf(err), ErrMsg: usperr.MessageOf(err)}
		return result
	}

	resolved, err := d.reg.Resolve(expr)
	if err != nil {
		// deleting an already absent instance is reported as success with
		// no affected paths
		if usperr.CodeOf(err) == usperr.CodeObjectNotFound {
			result.Success = &uspproto.DeletedSuccess{}
			return result
		}
		return fail(err)
	}

	success := &uspproto.DeletedSuccess{}
	for _, rp := range resolved {
		if !role.Permits(ctrl.Role, rp.Path, role.ActionDelete) {
			return fail(usperr.New(usperr.CodePermissionDenied,
				"role %s may not delete %s", ctrl.Role, rp.Path))
		}
		if derr := d.reg.DeleteInstance(rp.Path); derr != nil {
			success.UnaffectedPathErrs = append(success.UnaffectedPathErrs, uspproto.UnaffectedPathError{
				UnaffectedPath: rp.Path + ".",
				ErrCode:        errCodeOf(derr),
				ErrMsg:         usperr.MessageOf(derr),
			})
			continue
		}
		success.AffectedPaths = append(success.AffectedPaths, rp.Path+".")
	}
	result.Success = success
	return result
}

// templateOf converts a concrete path to its schema template key by
// replacing instance number segments with the {i} placeholder.
func templateOf(path string) string {
	segs := strings.Split(trimDot(path), ".")
	for i, seg := range segs {
		if isDigits(seg) {
			segs[i] = "{i}"
		}
	}
	return strings.Join(segs, ".")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func trimDot(path string) string {
	return strings.TrimSuffix(path, ".")
}
