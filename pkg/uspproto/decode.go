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

import (
	"fmt"
)

// UnmarshalRecord decodes a Record, rejecting oversized input before any
// parsing happens.
func UnmarshalRecord(data []byte) (*Record, error) {
	if len(data) > MaxUspMsgLen {
		return nil, fmt.Errorf("usp record of %d bytes exceeds limit of %d", len(data), MaxUspMsgLen)
	}
	r := &Record{}
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			r.Version = string(f.str)
		case 2:
			r.ToID = string(f.str)
		case 3:
			r.FromID = string(f.str)
		case 4:
			r.PayloadSecurity = PayloadSecurity(f.uval)
		case 5:
			r.MacSignature = append([]byte(nil), f.str...)
		case 6:
			r.SenderCert = append([]byte(nil), f.str...)
		case 7:
			return walkFields(f.str, func(g field) error {
				if g.num == 2 {
					r.Payload = append([]byte(nil), g.str...)
				}
				return nil
			})
		case 8:
			return fmt.Errorf("session context records are not supported")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UnmarshalMsg decodes a Msg.
func UnmarshalMsg(data []byte) (*Msg, error) {
	m := &Msg{}
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			return walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					m.MsgID = string(g.str)
				case 2:
					m.MsgType = MsgType(g.uval)
				}
				return nil
			})
		case 2:
			return unmarshalBody(f.str, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalBody(data []byte, m *Msg) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			return unmarshalRequest(f.str, m)
		case 2:
			return unmarshalResponse(f.str, m)
		case 3:
			e := &ErrorBody{}
			m.Error = e
			return walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					e.ErrCode = g.u32
				case 2:
					e.ErrMsg = string(g.str)
				case 3:
					pe := ParamError{}
					if err := unmarshalParamError(g.str, &pe); err != nil {
						return err
					}
					e.ParamErrs = append(e.ParamErrs, pe)
				}
				return nil
			})
		}
		return nil
	})
}

func unmarshalParamError(data []byte, pe *ParamError) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			pe.ParamPath = string(f.str)
		case 2:
			pe.ErrCode = f.u32
		case 3:
			pe.ErrMsg = string(f.str)
		}
		return nil
	})
}

func unmarshalRequest(data []byte, m *Msg) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			g := &Get{}
			m.Get = g
			return walkFields(f.str, func(h field) error {
				if h.num == 1 {
					g.ParamPaths = append(g.ParamPaths, string(h.str))
				}
				return nil
			})
		case 2:
			g := &GetSupportedDM{}
			m.GetSupportedDM = g
			return walkFields(f.str, func(h field) error {
				switch h.num {
				case 1:
					g.ObjPaths = append(g.ObjPaths, string(h.str))
				case 2:
					g.FirstLevelOnly = h.uval != 0
				case 3:
					g.ReturnCommands = h.uval != 0
				case 4:
					g.ReturnEvents = h.uval != 0
				case 5:
					g.ReturnParams = h.uval != 0
				}
				return nil
			})
		case 3:
			g := &GetInstances{}
			m.GetInstances = g
			return walkFields(f.str, func(h field) error {
				switch h.num {
				case 1:
					g.ObjPaths = append(g.ObjPaths, string(h.str))
				case 2:
					g.FirstLevelOnly = h.uval != 0
				}
				return nil
			})
		case 4:
			s := &Set{}
			m.Set = s
			return walkFields(f.str, func(h field) error {
				switch h.num {
				case 1:
					s.AllowPartial = h.uval != 0
				case 2:
					uo := UpdateObject{}
					if err := unmarshalUpdateObject(h.str, &uo); err != nil {
						return err
					}
					s.UpdateObjs = append(s.UpdateObjs, uo)
				}
				return nil
			})
		case 5:
			a := &Add{}
			m.Add = a
			return walkFields(f.str, func(h field) error {
				switch h.num {
				case 1:
					a.AllowPartial = h.uval != 0
				case 2:
					co := CreateObject{}
					if err := unmarshalCreateObject(h.str, &co); err != nil {
						return err
					}
					a.CreateObjs = append(a.CreateObjs, co)
				}
				return nil
			})
		case 6:
			d := &Delete{}
			m.Delete = d
			return walkFields(f.str, func(h field) error {
				switch h.num {
				case 1:
					d.AllowPartial = h.uval != 0
				case 2:
					d.ObjPaths = append(d.ObjPaths, string(h.str))
				}
				return nil
			})
		case 7:
			o := &Operate{InputArgs: map[string]string{}}
			m.Operate = o
			return walkFields(f.str, func(h field) error {
				switch h.num {
				case 1:
					o.Command = string(h.str)
				case 2:
					o.CommandKey = string(h.str)
				case 3:
					o.SendResp = h.uval != 0
				case 4:
					return decodeStringMap(h.str, o.InputArgs)
				}
				return nil
			})
		case 8:
			n := &Notify{}
			m.Notify = n
			return unmarshalNotify(f.str, n)
		case 9:
			g := &GetSupportedProtocol{}
			m.GetSupportedProtocol = g
			return walkFields(f.str, func(h field) error {
				if h.num == 1 {
					g.ControllerSupportedProtocolVersions = string(h.str)
				}
				return nil
			})
		}
		return nil
	})
}

func unmarshalUpdateObject(data []byte, uo *UpdateObject) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			uo.ObjPath = string(f.str)
		case 2:
			ps := ParamSetting{}
			if err := unmarshalParamSetting(f.str, &ps); err != nil {
				return err
			}
			uo.ParamSettings = append(uo.ParamSettings, ps)
		}
		return nil
	})
}

func unmarshalCreateObject(data []byte, co *CreateObject) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			co.ObjPath = string(f.str)
		case 2:
			ps := ParamSetting{}
			if err := unmarshalParamSetting(f.str, &ps); err != nil {
				return err
			}
			co.ParamSettings = append(co.ParamSettings, ps)
		}
		return nil
	})
}

func unmarshalParamSetting(data []byte, ps *ParamSetting) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			ps.Param = string(f.str)
		case 2:
			ps.Value = string(f.str)
		case 3:
			ps.Required = f.uval != 0
		}
		return nil
	})
}

func unmarshalNotify(data []byte, n *Notify) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			n.SubscriptionID = string(f.str)
		case 2:
			n.SendResp = f.uval != 0
		case 3:
			e := &EventNotify{Params: map[string]string{}}
			n.Event = e
			return walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					e.ObjPath = string(g.str)
				case 2:
					e.EventName = string(g.str)
				case 3:
					return decodeStringMap(g.str, e.Params)
				}
				return nil
			})
		case 4:
			v := &ValueChangeNotify{}
			n.ValueChange = v
			return walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					v.ParamPath = string(g.str)
				case 2:
					v.ParamValue = string(g.str)
				}
				return nil
			})
		case 5:
			o := &ObjectCreationNotify{UniqueKeys: map[string]string{}}
			n.ObjCreation = o
			return walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					o.ObjPath = string(g.str)
				case 2:
					return decodeStringMap(g.str, o.UniqueKeys)
				}
				return nil
			})
		case 6:
			o := &ObjectDeletionNotify{}
			n.ObjDeletion = o
			return walkFields(f.str, func(g field) error {
				if g.num == 1 {
					o.ObjPath = string(g.str)
				}
				return nil
			})
		case 7:
			oc := &OperationCompleteNotify{}
			n.OperComplete = oc
			return walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					oc.ObjPath = string(g.str)
				case 2:
					oc.CommandName = string(g.str)
				case 3:
					oc.CommandKey = string(g.str)
				case 4:
					oc.OutputArgs = map[string]string{}
					return walkFields(g.str, func(h field) error {
						if h.num == 1 {
							return decodeStringMap(h.str, oc.OutputArgs)
						}
						return nil
					})
				case 5:
					cf := &OperationFailure{}
					oc.CmdFailure = cf
					return unmarshalOperationFailure(g.str, cf)
				}
				return nil
			})
		case 8:
			ob := &OnBoardRequestNotify{}
			n.OnBoardReq = ob
			return walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					ob.OUI = string(g.str)
				case 2:
					ob.ProductClass = string(g.str)
				case 3:
					ob.SerialNumber = string(g.str)
				case 4:
					ob.AgentSupportedProtocolVer = string(g.str)
				}
				return nil
			})
		}
		return nil
	})
}

func unmarshalOperationFailure(data []byte, cf *OperationFailure) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			cf.ErrCode = f.u32
		case 2:
			cf.ErrMsg = string(f.str)
		}
		return nil
	})
}

// unmarshalResponse decodes the response variants, mirroring marshalResponse
// in encode.go field for field.
func unmarshalResponse(data []byte, m *Msg) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			g := &GetResp{}
			m.GetResp = g
			return walkFields(f.str, func(h field) error {
				if h.num == 1 {
					r := RequestedPathResult{}
					if err := unmarshalRequestedPathResult(h.str, &r); err != nil {
						return err
					}
					g.Results = append(g.Results, r)
				}
				return nil
			})
		case 2:
			g := &GetSupportedDMResp{}
			m.GetSupportedDMResp = g
			return walkFields(f.str, func(h field) error {
				if h.num == 1 {
					r := RequestedObjectResult{}
					if err := unmarshalRequestedObjectResult(h.str, &r); err != nil {
						return err
					}
					g.Results = append(g.Results, r)
				}
				return nil
			})
		case 3:
			g := &GetInstancesResp{}
			m.GetInstancesResp = g
			return walkFields(f.str, func(h field) error {
				if h.num == 1 {
					r := InstancesPathResult{}
					if err := unmarshalInstancesPathResult(h.str, &r); err != nil {
						return err
					}
					g.Results = append(g.Results, r)
				}
				return nil
			})
		case 4:
			g := &SetResp{}
			m.SetResp = g
			return walkFields(f.str, func(h field) error {
				if h.num == 1 {
					r := UpdatedObjectResult{}
					if err := unmarshalUpdatedObjectResult(h.str, &r); err != nil {
						return err
					}
					g.Results = append(g.Results, r)
				}
				return nil
			})
		case 5:
			g := &AddResp{}
			m.AddResp = g
			return walkFields(f.str, func(h field) error {
				if h.num == 1 {
					r := CreatedObjectResult{}
					if err := unmarshalCreatedObjectResult(h.str, &r); err != nil {
						return err
					}
					g.Results = append(g.Results, r)
				}
				return nil
			})
		case 6:
			g := &DeleteResp{}
			m.DeleteResp = g
			return walkFields(f.str, func(h field) error {
				if h.num == 1 {
					r := DeletedObjectResult{}
					if err := unmarshalDeletedObjectResult(h.str, &r); err != nil {
						return err
					}
					g.Results = append(g.Results, r)
				}
				return nil
			})
		case 7:
			g := &OperateResp{}
			m.OperateResp = g
			return walkFields(f.str, func(h field) error {
				if h.num == 1 {
					r := OperationResult{}
					if err := unmarshalOperationResult(h.str, &r); err != nil {
						return err
					}
					g.Results = append(g.Results, r)
				}
				return nil
			})
		case 8:
			nr := &NotifyResp{}
			m.NotifyResp = nr
			return walkFields(f.str, func(g field) error {
				if g.num == 1 {
					nr.SubscriptionID = string(g.str)
				}
				return nil
			})
		case 9:
			g := &GetSupportedProtocolResp{}
			m.GetSupportedProtocolResp = g
			return walkFields(f.str, func(h field) error {
				if h.num == 1 {
					g.AgentSupportedProtocolVersions = string(h.str)
				}
				return nil
			})
		}
		return nil
	})
}

func unmarshalRequestedPathResult(data []byte, r *RequestedPathResult) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			r.RequestedPath = string(f.str)
		case 2:
			r.ErrCode = f.u32
		case 3:
			r.ErrMsg = string(f.str)
		case 4:
			rp := ResolvedPathResult{ResultParams: map[string]string{}}
			if err := walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					rp.ResolvedPath = string(g.str)
				case 2:
					return decodeStringMap(g.str, rp.ResultParams)
				}
				return nil
			}); err != nil {
				return err
			}
			r.Resolved = append(r.Resolved, rp)
		}
		return nil
	})
}

func unmarshalInstancesPathResult(data []byte, r *InstancesPathResult) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			r.RequestedPath = string(f.str)
		case 2:
			r.ErrCode = f.u32
		case 3:
			r.ErrMsg = string(f.str)
		case 4:
			ci := CurrInstance{UniqueKeys: map[string]string{}}
			if err := walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					ci.InstantiatedObjPath = string(g.str)
				case 2:
					return decodeStringMap(g.str, ci.UniqueKeys)
				}
				return nil
			}); err != nil {
				return err
			}
			r.CurrInsts = append(r.CurrInsts, ci)
		}
		return nil
	})
}

func unmarshalUpdatedObjectResult(data []byte, r *UpdatedObjectResult) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			r.RequestedPath = string(f.str)
		case 2:
			return walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					cf := &OperationFailure{}
					r.Failure = cf
					return unmarshalOperationFailure(g.str, cf)
				case 2:
					s := &UpdatedSuccess{}
					r.Success = s
					return walkFields(g.str, func(h field) error {
						if h.num == 1 {
							ir := UpdatedInstanceResult{UpdatedParams: map[string]string{}}
							if err := walkFields(h.str, func(k field) error {
								switch k.num {
								case 1:
									ir.AffectedPath = string(k.str)
								case 2:
									pe := ParamError{}
									if err := unmarshalParamError(k.str, &pe); err != nil {
										return err
									}
									ir.ParamErrs = append(ir.ParamErrs, pe)
								case 3:
									return decodeStringMap(k.str, ir.UpdatedParams)
								}
								return nil
							}); err != nil {
								return err
							}
							s.UpdatedInstResults = append(s.UpdatedInstResults, ir)
						}
						return nil
					})
				}
				return nil
			})
		}
		return nil
	})
}

func unmarshalCreatedObjectResult(data []byte, r *CreatedObjectResult) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			r.RequestedPath = string(f.str)
		case 2:
			return walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					cf := &OperationFailure{}
					r.Failure = cf
					return unmarshalOperationFailure(g.str, cf)
				case 2:
					s := &CreatedSuccess{UniqueKeys: map[string]string{}}
					r.Success = s
					return walkFields(g.str, func(h field) error {
						switch h.num {
						case 1:
							s.InstantiatedPath = string(h.str)
						case 2:
							pe := ParamError{}
							if err := unmarshalParamError(h.str, &pe); err != nil {
								return err
							}
							s.ParamErrs = append(s.ParamErrs, pe)
						case 3:
							return decodeStringMap(h.str, s.UniqueKeys)
						}
						return nil
					})
				}
				return nil
			})
		}
		return nil
	})
}

func unmarshalDeletedObjectResult(data []byte, r *DeletedObjectResult) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			r.RequestedPath = string(f.str)
		case 2:
			return walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					cf := &OperationFailure{}
					r.Failure = cf
					return unmarshalOperationFailure(g.str, cf)
				case 2:
					s := &DeletedSuccess{}
					r.Success = s
					return walkFields(g.str, func(h field) error {
						switch h.num {
						case 1:
							s.AffectedPaths = append(s.AffectedPaths, string(h.str))
						case 2:
							ue := UnaffectedPathError{}
							if err := walkFields(h.str, func(k field) error {
								switch k.num {
								case 1:
									ue.UnaffectedPath = string(k.str)
								case 2:
									ue.ErrCode = k.u32
								case 3:
									ue.ErrMsg = string(k.str)
								}
								return nil
							}); err != nil {
								return err
							}
							s.UnaffectedPathErrs = append(s.UnaffectedPathErrs, ue)
						}
						return nil
					})
				}
				return nil
			})
		}
		return nil
	})
}

func unmarshalOperationResult(data []byte, r *OperationResult) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			r.ExecutedCommand = string(f.str)
		case 2:
			r.ReqObjPath = string(f.str)
		case 3:
			r.OutputArgs = map[string]string{}
			r.HasOutputArgs = true
			return walkFields(f.str, func(g field) error {
				if g.num == 1 {
					return decodeStringMap(g.str, r.OutputArgs)
				}
				return nil
			})
		case 4:
			cf := &OperationFailure{}
			r.CmdFailure = cf
			return unmarshalOperationFailure(f.str, cf)
		}
		return nil
	})
}

func unmarshalRequestedObjectResult(data []byte, r *RequestedObjectResult) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			r.ReqObjPath = string(f.str)
		case 2:
			r.ErrCode = f.u32
		case 3:
			r.ErrMsg = string(f.str)
		case 4:
			r.DataModelInstURI = string(f.str)
		case 5:
			so := SupportedObjectResult{}
			if err := unmarshalSupportedObjectResult(f.str, &so); err != nil {
				return err
			}
			r.SupportedObjs = append(r.SupportedObjs, so)
		}
		return nil
	})
}

func unmarshalSupportedObjectResult(data []byte, so *SupportedObjectResult) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			so.SupportedObjPath = string(f.str)
		case 2:
			so.Access = uint32(f.uval)
		case 3:
			so.IsMultiInstance = f.uval != 0
		case 4:
			c := SupportedCommandResult{}
			if err := walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					c.CommandName = string(g.str)
				case 2:
					c.InputArgNames = append(c.InputArgNames, string(g.str))
				case 3:
					c.OutputArgNames = append(c.OutputArgNames, string(g.str))
				}
				return nil
			}); err != nil {
				return err
			}
			so.SupportedCommands = append(so.SupportedCommands, c)
		case 5:
			e := SupportedEventResult{}
			if err := walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					e.EventName = string(g.str)
				case 2:
					e.ArgNames = append(e.ArgNames, string(g.str))
				}
				return nil
			}); err != nil {
				return err
			}
			so.SupportedEvents = append(so.SupportedEvents, e)
		case 6:
			p := SupportedParamResult{}
			if err := walkFields(f.str, func(g field) error {
				switch g.num {
				case 1:
					p.ParamName = string(g.str)
				case 2:
					p.Access = uint32(g.uval)
				}
				return nil
			}); err != nil {
				return err
			}
			so.SupportedParams = append(so.SupportedParams, p)
		}
		return nil
	})
}
