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

package uspproto

// MarshalRecord encodes a Record with a no-session-context payload.
func MarshalRecord(r *Record) []byte {
	var b []byte
	b = appendString(b, 1, r.Version)
	b = appendString(b, 2, r.ToID)
	b = appendString(b, 3, r.FromID)
	b = appendVarint(b, 4, uint64(r.PayloadSecurity))
	b = appendBytes(b, 5, r.MacSignature)
	b = appendBytes(b, 6, r.SenderCert)

	var nsc []byte
	nsc = appendBytes(nsc, 2, r.Payload)
	b = appendMessage(b, 7, nsc)
	return b
}

// MarshalMsg encodes a Msg: header then the single populated body variant.
func MarshalMsg(m *Msg) []byte {
	var header []byte
	header = appendString(header, 1, m.MsgID)
	header = appendVarint(header, 2, uint64(m.MsgType))

	var body []byte
	if req := marshalRequest(m); req != nil {
		body = appendMessage(body, 1, req)
	} else if resp := marshalResponse(m); resp != nil {
		body = appendMessage(body, 2, resp)
	} else if m.Error != nil {
		body = appendMessage(body, 3, marshalError(m.Error))
	}

	var b []byte
	b = appendMessage(b, 1, header)
	b = appendMessage(b, 2, body)
	return b
}

func marshalError(e *ErrorBody) []byte {
	var b []byte
	b = appendFixed32(b, 1, e.ErrCode)
	b = appendString(b, 2, e.ErrMsg)
	for _, pe := range e.ParamErrs {
		var p []byte
		p = appendString(p, 1, pe.ParamPath)
		p = appendFixed32(p, 2, pe.ErrCode)
		p = appendString(p, 3, pe.ErrMsg)
		b = appendMessage(b, 3, p)
	}
	return b
}

func marshalRequest(m *Msg) []byte {
	var b []byte
	switch {
	case m.Get != nil:
		var g []byte
		for _, p := range m.Get.ParamPaths {
			g = appendString(g, 1, p)
		}
		b = appendMessage(b, 1, g)
	case m.GetSupportedDM != nil:
		r := m.GetSupportedDM
		var g []byte
		for _, p := range r.ObjPaths {
			g = appendString(g, 1, p)
		}
		g = appendBool(g, 2, r.FirstLevelOnly)
		g = appendBool(g, 3, r.ReturnCommands)
		g = appendBool(g, 4, r.ReturnEvents)
		g = appendBool(g, 5, r.ReturnParams)
		b = appendMessage(b, 2, g)
	case m.GetInstances != nil:
		r := m.GetInstances
		var g []byte
		for _, p := range r.ObjPaths {
			g = appendString(g, 1, p)
		}
		g = appendBool(g, 2, r.FirstLevelOnly)
		b = appendMessage(b, 3, g)
	case m.Set != nil:
		b = appendMessage(b, 4, marshalSet(m.Set))
	case m.Add != nil:
		b = appendMessage(b, 5, marshalAdd(m.Add))
	case m.Delete != nil:
		r := m.Delete
		var g []byte
		g = appendBool(g, 1, r.AllowPartial)
		for _, p := range r.ObjPaths {
			g = appendString(g, 2, p)
		}
		b = appendMessage(b, 6, g)
	case m.Operate != nil:
		r := m.Operate
		var g []byte
		g = appendString(g, 1, r.Command)
		g = appendString(g, 2, r.CommandKey)
		g = appendBool(g, 3, r.SendResp)
		g = appendStringMap(g, 4, r.InputArgs)
		b = appendMessage(b, 7, g)
	case m.Notify != nil:
		b = appendMessage(b, 8, marshalNotify(m.Notify))
	case m.GetSupportedProtocol != nil:
		var g []byte
		g = appendString(g, 1, m.GetSupportedProtocol.ControllerSupportedProtocolVersions)
		b = appendMessage(b, 9, g)
	default:
		return nil
	}
	return b
}

func marshalSet(s *Set) []byte {
	var b []byte
	b = appendBool(b, 1, s.AllowPartial)
	for _, uo := range s.UpdateObjs {
		var o []byte
		o = appendString(o, 1, uo.ObjPath)
		for _, ps := range uo.ParamSettings {
			o = appendMessage(o, 2, marshalParamSetting(ps))
		}
		b = appendMessage(b, 2, o)
	}
	return b
}

func marshalAdd(a *Add) []byte {
	var b []byte
	b = appendBool(b, 1, a.AllowPartial)
	for _, co := range a.CreateObjs {
		var o []byte
		o = appendString(o, 1, co.ObjPath)
		for _, ps := range co.ParamSettings {
			o = appendMessage(o, 2, marshalParamSetting(ps))
		}
		b = appendMessage(b, 2, o)
	}
	return b
}

func marshalParamSetting(ps ParamSetting) []byte {
	var b []byte
	b = appendString(b, 1, ps.Param)
	b = appendString(b, 2, ps.Value)
	b = appendBool(b, 3, ps.Required)
	return b
}

func marshalNotify(n *Notify) []byte {
	var b []byte
	b = appendString(b, 1, n.SubscriptionID)
	b = appendBool(b, 2, n.SendResp)
	switch {
	case n.Event != nil:
		var e []byte
		e = appendString(e, 1, n.Event.ObjPath)
		e = appendString(e, 2, n.Event.EventName)
		e = appendStringMap(e, 3, n.Event.Params)
		b = appendMessage(b, 3, e)
	case n.ValueChange != nil:
		var e []byte
		e = appendString(e, 1, n.ValueChange.ParamPath)
		e = appendString(e, 2, n.ValueChange.ParamValue)
		b = appendMessage(b, 4, e)
	case n.ObjCreation != nil:
		var e []byte
		e = appendString(e, 1, n.ObjCreation.ObjPath)
		e = appendStringMap(e, 2, n.ObjCreation.UniqueKeys)
		b = appendMessage(b, 5, e)
	case n.ObjDeletion != nil:
		var e []byte
		e = appendString(e, 1, n.ObjDeletion.ObjPath)
		b = appendMessage(b, 6, e)
	case n.OperComplete != nil:
		oc := n.OperComplete
		var e []byte
		e = appendString(e, 1, oc.ObjPath)
		e = appendString(e, 2, oc.CommandName)
		e = appendString(e, 3, oc.CommandKey)
		if oc.CmdFailure != nil {
			e = appendMessage(e, 5, marshalOperationFailure(oc.CmdFailure))
		} else {
			var oa []byte
			oa = appendStringMap(oa, 1, oc.OutputArgs)
			e = appendMessage(e, 4, oa)
		}
		b = appendMessage(b, 7, e)
	case n.OnBoardReq != nil:
		ob := n.OnBoardReq
		var e []byte
		e = appendString(e, 1, ob.OUI)
		e = appendString(e, 2, ob.ProductClass)
		e = appendString(e, 3, ob.SerialNumber)
		e = appendString(e, 4, ob.AgentSupportedProtocolVer)
		b = appendMessage(b, 8, e)
	}
	return b
}

func marshalOperationFailure(f *OperationFailure) []byte {
	var b []byte
	b = appendFixed32(b, 1, f.ErrCode)
	b = appendString(b, 2, f.ErrMsg)
	return b
}

func marshalResponse(m *Msg) []byte {
	var b []byte
	switch {
	case m.GetResp != nil:
		var g []byte
		for _, r := range m.GetResp.Results {
			g = appendMessage(g, 1, marshalRequestedPathResult(r))
		}
		b = appendMessage(b, 1, g)
	case m.GetSupportedDMResp != nil:
		var g []byte
		for _, r := range m.GetSupportedDMResp.Results {
			g = appendMessage(g, 1, marshalRequestedObjectResult(r))
		}
		b = appendMessage(b, 2, g)
	case m.GetInstancesResp != nil:
		var g []byte
		for _, r := range m.GetInstancesResp.Results {
			g = appendMessage(g, 1, marshalInstancesPathResult(r))
		}
		b = appendMessage(b, 3, g)
	case m.SetResp != nil:
		var g []byte
		for _, r := range m.SetResp.Results {
			g = appendMessage(g, 1, marshalUpdatedObjectResult(r))
		}
		b = appendMessage(b, 4, g)
	case m.AddResp != nil:
		var g []byte
		for _, r := range m.AddResp.Results {
			g = appendMessage(g, 1, marshalCreatedObjectResult(r))
		}
		b = appendMessage(b, 5, g)
	case m.DeleteResp != nil:
		var g []byte
		for _, r := range m.DeleteResp.Results {
			g = appendMessage(g, 1, marshalDeletedObjectResult(r))
		}
		b = appendMessage(b, 6, g)
	case m.OperateResp != nil:
		var g []byte
		for _, r := range m.OperateResp.Results {
			g = appendMessage(g, 1, marshalOperationResult(r))
		}
		b = appendMessage(b, 7, g)
	case m.NotifyResp != nil:
		var g []byte
		g = appendString(g, 1, m.NotifyResp.SubscriptionID)
		b = appendMessage(b, 8, g)
	case m.GetSupportedProtocolResp != nil:
		var g []byte
		g = appendString(g, 1, m.GetSupportedProtocolResp.AgentSupportedProtocolVersions)
		b = appendMessage(b, 9, g)
	default:
		return nil
	}
	return b
}

func marshalRequestedPathResult(r RequestedPathResult) []byte {
	var b []byte
	b = appendString(b, 1, r.RequestedPath)
	b = appendFixed32(b, 2, r.ErrCode)
	b = appendString(b, 3, r.ErrMsg)
	for _, rp := range r.Resolved {
		var p []byte
		p = appendString(p, 1, rp.ResolvedPath)
		p = appendStringMap(p, 2, rp.ResultParams)
		b = appendMessage(b, 4, p)
	}
	return b
}

func marshalInstancesPathResult(r InstancesPathResult) []byte {
	var b []byte
	b = appendString(b, 1, r.RequestedPath)
	b = appendFixed32(b, 2, r.ErrCode)
	b = appendString(b, 3, r.ErrMsg)
	for _, ci := range r.CurrInsts {
		var p []byte
		p = appendString(p, 1, ci.InstantiatedObjPath)
		p = appendStringMap(p, 2, ci.UniqueKeys)
		b = appendMessage(b, 4, p)
	}
	return b
}

func marshalUpdatedObjectResult(r UpdatedObjectResult) []byte {
	var status []byte
	if r.Failure != nil {
		status = appendMessage(status, 1, marshalOperationFailure(r.Failure))
	} else if r.Success != nil {
		var s []byte
		for _, ir := range r.Success.UpdatedInstResults {
			var i []byte
			i = appendString(i, 1, ir.AffectedPath)
			for _, pe := range ir.ParamErrs {
				i = appendMessage(i, 2, marshalParamError(pe))
			}
			i = appendStringMap(i, 3, ir.UpdatedParams)
			s = appendMessage(s, 1, i)
		}
		status = appendMessage(status, 2, s)
	}
	var b []byte
	b = appendString(b, 1, r.RequestedPath)
	b = appendMessage(b, 2, status)
	return b
}

func marshalParamError(pe ParamError) []byte {
	var b []byte
	b = appendString(b, 1, pe.ParamPath)
	b = appendFixed32(b, 2, pe.ErrCode)
	b = appendString(b, 3, pe.ErrMsg)
	return b
}

func marshalCreatedObjectResult(r CreatedObjectResult) []byte {
	var status []byte
	if r.Failure != nil {
		status = appendMessage(status, 1, marshalOperationFailure(r.Failure))
	} else if r.Success != nil {
		var s []byte
		s = appendString(s, 1, r.Success.InstantiatedPath)
		for _, pe := range r.Success.ParamErrs {
			s = appendMessage(s, 2, marshalParamError(pe))
		}
		s = appendStringMap(s, 3, r.Success.UniqueKeys)
		status = appendMessage(status, 2, s)
	}
	var b []byte
	b = appendString(b, 1, r.RequestedPath)
	b = appendMessage(b, 2, status)
	return b
}

func marshalDeletedObjectResult(r DeletedObjectResult) []byte {
	var status []byte
	if r.Failure != nil {
		status = appendMessage(status, 1, marshalOperationFailure(r.Failure))
	} else if r.Success != nil {
		var s []byte
		for _, p := range r.Success.AffectedPaths {
			s = appendString(s, 1, p)
		}
		for _, ue := range r.Success.UnaffectedPathErrs {
			var u []byte
			u = appendString(u, 1, ue.UnaffectedPath)
			u = appendFixed32(u, 2, ue.ErrCode)
			u = appendString(u, 3, ue.ErrMsg)
			s = appendMessage(s, 2, u)
		}
		status = appendMessage(status, 2, s)
	}
	var b []byte
	b = appendString(b, 1, r.RequestedPath)
	b = appendMessage(b, 2, status)
	return b
}

func marshalOperationResult(r OperationResult) []byte {
	var b []byte
	b = appendString(b, 1, r.ExecutedCommand)
	switch {
	case r.ReqObjPath != "":
		b = appendString(b, 2, r.ReqObjPath)
	case r.CmdFailure != nil:
		b = appendMessage(b, 4, marshalOperationFailure(r.CmdFailure))
	case r.HasOutputArgs:
		var oa []byte
		oa = appendStringMap(oa, 1, r.OutputArgs)
		b = appendMessage(b, 3, oa)
	}
	return b
}

func marshalRequestedObjectResult(r RequestedObjectResult) []byte {
	var b []byte
	b = appendString(b, 1, r.ReqObjPath)
	b = appendFixed32(b, 2, r.ErrCode)
	b = appendString(b, 3, r.ErrMsg)
	b = appendString(b, 4, r.DataModelInstURI)
	for _, so := range r.SupportedObjs {
		b = appendMessage(b, 5, marshalSupportedObjectResult(so))
	}
	return b
}

func marshalSupportedObjectResult(so SupportedObjectResult) []byte {
	var b []byte
	b = appendString(b, 1, so.SupportedObjPath)
	b = appendVarint(b, 2, uint64(so.Access))
	b = appendBool(b, 3, so.IsMultiInstance)
	for _, c := range so.SupportedCommands {
		var cb []byte
		cb = appendString(cb, 1, c.CommandName)
		for _, a := range c.InputArgNames {
			cb = appendString(cb, 2, a)
		}
		for _, a := range c.OutputArgNames {
			cb = appendString(cb, 3, a)
		}
		b = appendMessage(b, 4, cb)
	}
	for _, e := range so.SupportedEvents {
		var eb []byte
		eb = appendString(eb, 1, e.EventName)
		for _, a := range e.ArgNames {
			eb = appendString(eb, 2, a)
		}
		b = appendMessage(b, 5, eb)
	}
	for _, p := range so.SupportedParams {
		var pb []byte
		pb = appendString(pb, 1, p.ParamName)
		pb = appendVarint(pb, 2, uint64(p.Access))
		b = appendMessage(b, 6, pb)
	}
	return b
}
