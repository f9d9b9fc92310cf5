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

// Package uspproto encodes and decodes USP Records and Messages (TR-369)
// at the protobuf wire level. Field numbers follow usp-record.proto and
// usp-msg.proto; google.golang.org/protobuf/encoding/protowire does the
// framing.
package uspproto

// MaxUspMsgLen bounds the accepted size of an encoded USP Record. Larger
// payloads are rejected before parsing.
const MaxUspMsgLen = 64 * 1024

// RecordVersion is the USP version advertised in outgoing records.
const RecordVersion = "1.1"

// ContentType is the MIME type USP Records travel under on every MTP.
const ContentType = "application/vnd.bbf.usp.msg"

// PayloadSecurity mirrors the Record.PayloadSecurity enum.
type PayloadSecurity int32

const (
	// SecurityPlaintext carries the payload without a TLS session context.
	SecurityPlaintext PayloadSecurity = 0
	// SecurityTLS12 carries the payload inside a TLS 1.2 session context.
	SecurityTLS12 PayloadSecurity = 1
)

// Record is the outer USP envelope.
type Record struct {
	Version         string
	ToID            string
	FromID          string
	PayloadSecurity PayloadSecurity
	MacSignature    []byte
	SenderCert      []byte
	// Payload is the encoded Msg of a no-session-context record.
	Payload []byte
}

// MsgType mirrors the Header.MsgType enum.
type MsgType int32

const (
	MsgError                 MsgType = 0
	MsgGet                   MsgType = 1
	MsgGetResp               MsgType = 2
	MsgNotify                MsgType = 3
	MsgSet                   MsgType = 4
	MsgSetResp               MsgType = 5
	MsgOperate               MsgType = 6
	MsgOperateResp           MsgType = 7
	MsgAdd                   MsgType = 8
	MsgAddResp               MsgType = 9
	MsgDelete                MsgType = 10
	MsgDeleteResp            MsgType = 11
	MsgGetSupportedDM        MsgType = 12
	MsgGetSupportedDMResp    MsgType = 13
	MsgGetInstances          MsgType = 14
	MsgGetInstancesResp      MsgType = 15
	MsgNotifyResp            MsgType = 16
	MsgGetSupportedProto     MsgType = 17
	MsgGetSupportedProtoResp MsgType = 18
)

func (t MsgType) String() string {
	switch t {
	case MsgError:
		return "ERROR"
	case MsgGet:
		return "GET"
	case MsgGetResp:
		return "GET_RESP"
	case MsgNotify:
		return "NOTIFY"
	case MsgSet:
		return "SET"
	case MsgSetResp:
		return "SET_RESP"
	case MsgOperate:
		return "OPERATE"
	case MsgOperateResp:
		return "OPERATE_RESP"
	case MsgAdd:
		return "ADD"
	case MsgAddResp:
		return "ADD_RESP"
	case MsgDelete:
		return "DELETE"
	case MsgDeleteResp:
		return "DELETE_RESP"
	case MsgGetSupportedDM:
		return "GET_SUPPORTED_DM"
	case MsgGetSupportedDMResp:
		return "GET_SUPPORTED_DM_RESP"
	case MsgGetInstances:
		return "GET_INSTANCES"
	case MsgGetInstancesResp:
		return "GET_INSTANCES_RESP"
	case MsgNotifyResp:
		return "NOTIFY_RESP"
	case MsgGetSupportedProto:
		return "GET_SUPPORTED_PROTO"
	case MsgGetSupportedProtoResp:
		return "GET_SUPPORTED_PROTO_RESP"
	}
	return "UNKNOWN"
}

// Msg is a USP message: header plus exactly one body variant.
type Msg struct {
	MsgID   string
	MsgType MsgType

	// request variants
	Get                  *Get
	GetSupportedDM       *GetSupportedDM
	GetInstances         *GetInstances
	Set                  *Set
	Add                  *Add
	Delete               *Delete
	Operate              *Operate
	Notify               *Notify
	GetSupportedProtocol *GetSupportedProtocol

	// response variants
	GetResp                  *GetResp
	GetSupportedDMResp       *GetSupportedDMResp
	GetInstancesResp         *GetInstancesResp
	SetResp                  *SetResp
	AddResp                  *AddResp
	DeleteResp               *DeleteResp
	OperateResp              *OperateResp
	NotifyResp               *NotifyResp
	GetSupportedProtocolResp *GetSupportedProtocolResp

	// error variant
	Error *ErrorBody
}

// ErrorBody is the Body.Error message.
type ErrorBody struct {
	ErrCode   uint32
	ErrMsg    string
	ParamErrs []ParamError
}

// ParamError reports one failed path inside an Error body.
type ParamError struct {
	ParamPath string
	ErrCode   uint32
	ErrMsg    string
}

// Get requests parameter values.
type Get struct {
	ParamPaths []string
}

// GetResp answers a Get per requested path.
type GetResp struct {
	Results []RequestedPathResult
}

// RequestedPathResult is one per-path result of a GetResp.
type RequestedPathResult struct {
	RequestedPath string
	ErrCode       uint32
	ErrMsg        string
	Resolved      []ResolvedPathResult
}

// ResolvedPathResult groups parameter values under one resolved object.
type ResolvedPathResult struct {
	ResolvedPath string
	ResultParams map[string]string
}

// Set updates parameter values.
type Set struct {
	AllowPartial bool
	UpdateObjs   []UpdateObject
}

// UpdateObject addresses one object expression of a Set.
type UpdateObject struct {
	ObjPath       string
	ParamSettings []ParamSetting
}

// ParamSetting is one parameter write inside Set or Add.
type ParamSetting struct {
	Param    string
	Value    string
	Required bool
}

// SetResp answers a Set.
type SetResp struct {
	Results []UpdatedObjectResult
}

// UpdatedObjectResult is one per-expression result of a SetResp.
type UpdatedObjectResult struct {
	RequestedPath string
	Failure       *OperationFailure
	Success       *UpdatedSuccess
}

// OperationFailure carries a failed operation status.
type OperationFailure struct {
	ErrCode uint32
	ErrMsg  string
}

// UpdatedSuccess lists the per-instance outcome of a successful Set entry.
type UpdatedSuccess struct {
	UpdatedInstResults []UpdatedInstanceResult
}

// UpdatedInstanceResult reports one affected instance of a Set.
type UpdatedInstanceResult struct {
	AffectedPath  string
	ParamErrs     []ParamError
	UpdatedParams map[string]string
}

// Add creates object instances.
type Add struct {
	AllowPartial bool
	CreateObjs   []CreateObject
}

// CreateObject addresses one table of an Add.
type CreateObject struct {
	ObjPath       string
	ParamSettings []ParamSetting
}

// AddResp answers an Add.
type AddResp struct {
	Results []CreatedObjectResult
}

// CreatedObjectResult is one per-table result of an AddResp.
type CreatedObjectResult struct {
	RequestedPath string
	Failure       *OperationFailure
	Success       *CreatedSuccess
}

// CreatedSuccess reports the instantiated path of a successful Add entry.
type CreatedSuccess struct {
	InstantiatedPath string
	ParamErrs        []ParamError
	UniqueKeys       map[string]string
}

// Delete removes object instances.
type Delete struct {
	AllowPartial bool
	ObjPaths     []string
}

// DeleteResp answers a Delete.
type DeleteResp struct {
	Results []DeletedObjectResult
}

// DeletedObjectResult is one per-expression result of a DeleteResp.
type DeletedObjectResult struct {
	RequestedPath string
	Failure       *OperationFailure
	Success       *DeletedSuccess
}

// DeletedSuccess lists affected and unaffected paths of a Delete entry.
type DeletedSuccess struct {
	AffectedPaths      []string
	UnaffectedPathErrs []UnaffectedPathError
}

// UnaffectedPathError reports one path a Delete could not remove.
type UnaffectedPathError struct {
	UnaffectedPath string
	ErrCode        uint32
	ErrMsg         string
}

// Operate invokes a command.
type Operate struct {
	Command    string
	CommandKey string
	SendResp   bool
	InputArgs  map[string]string
}

// OperateResp answers an Operate.
type OperateResp struct {
	Results []OperationResult
}

// OperationResult is one per-command result of an OperateResp. Exactly one
// of ReqObjPath (async), OutputArgs (sync success) or CmdFailure is set.
type OperationResult struct {
	ExecutedCommand string
	ReqObjPath      string
	OutputArgs      map[string]string
	HasOutputArgs   bool
	CmdFailure      *OperationFailure
}

// Notify is an agent originated notification.
type Notify struct {
	SubscriptionID string
	SendResp       bool

	Event        *EventNotify
	ValueChange  *ValueChangeNotify
	ObjCreation  *ObjectCreationNotify
	ObjDeletion  *ObjectDeletionNotify
	OperComplete *OperationCompleteNotify
	OnBoardReq   *OnBoardRequestNotify
}

// EventNotify reports a data model event.
type EventNotify struct {
	ObjPath   string
	EventName string
	Params    map[string]string
}

// ValueChangeNotify reports a changed parameter value.
type ValueChangeNotify struct {
	ParamPath  string
	ParamValue string
}

// ObjectCreationNotify reports a created instance.
type ObjectCreationNotify struct {
	ObjPath    string
	UniqueKeys map[string]string
}

// ObjectDeletionNotify reports a deleted instance.
type ObjectDeletionNotify struct {
	ObjPath string
}

// OperationCompleteNotify reports the completion of an async operation.
type OperationCompleteNotify struct {
	ObjPath     string
	CommandName string
	CommandKey  string
	OutputArgs  map[string]string
	CmdFailure  *OperationFailure
}

// OnBoardRequestNotify announces the agent to a controller.
type OnBoardRequestNotify struct {
	OUI                       string
	ProductClass              string
	SerialNumber              string
	AgentSupportedProtocolVer string
}

// NotifyResp acknowledges a Notify.
type NotifyResp struct {
	SubscriptionID string
}

// GetSupportedProtocol queries protocol versions.
type GetSupportedProtocol struct {
	ControllerSupportedProtocolVersions string
}

// GetSupportedProtocolResp answers a GetSupportedProtocol.
type GetSupportedProtocolResp struct {
	AgentSupportedProtocolVersions string
}

// GetInstances queries live instances.
type GetInstances struct {
	ObjPaths       []string
	FirstLevelOnly bool
}

// GetInstancesResp answers a GetInstances.
type GetInstancesResp struct {
	Results []InstancesPathResult
}

// InstancesPathResult is one per-path result of a GetInstancesResp.
type InstancesPathResult struct {
	RequestedPath string
	ErrCode       uint32
	ErrMsg        string
	CurrInsts     []CurrInstance
}

// CurrInstance reports one live instance.
type CurrInstance struct {
	InstantiatedObjPath string
	UniqueKeys          map[string]string
}

// GetSupportedDM queries the supported schema.
type GetSupportedDM struct {
	ObjPaths       []string
	FirstLevelOnly bool
	ReturnCommands bool
	ReturnEvents   bool
	ReturnParams   bool
}

// GetSupportedDMResp answers a GetSupportedDM.
type GetSupportedDMResp struct {
	Results []RequestedObjectResult
}

// RequestedObjectResult is one per-path result of a GetSupportedDMResp.
type RequestedObjectResult struct {
	ReqObjPath       string
	ErrCode          uint32
	ErrMsg           string
	DataModelInstURI string
	SupportedObjs    []SupportedObjectResult
}

// SupportedObjectResult describes one supported object.
type SupportedObjectResult struct {
	SupportedObjPath  string
	Access            uint32
	IsMultiInstance   bool
	SupportedCommands []SupportedCommandResult
	SupportedEvents   []SupportedEventResult
	SupportedParams   []SupportedParamResult
}

// SupportedParamResult describes one supported parameter.
type SupportedParamResult struct {
	ParamName string
	Access    uint32
}

// Parameter and object access values of the supported data model report.
const (
	ParamReadOnly  uint32 = 0
	ParamReadWrite uint32 = 1

	ObjReadOnly   uint32 = 0
	ObjAddDelete  uint32 = 1
	ObjAddOnly    uint32 = 2
	ObjDeleteOnly uint32 = 3
)

// SupportedCommandResult describes one supported operation.
type SupportedCommandResult struct {
	CommandName    string
	InputArgNames  []string
	OutputArgNames []string
}

// SupportedEventResult describes one supported event.
type SupportedEventResult struct {
	EventName string
	ArgNames  []string
}
