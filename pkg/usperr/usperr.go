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

// Package usperr defines the USP error code space shared by the data model,
// the dispatcher and the MTPs. Codes follow TR-369 section "Error Codes";
// every handler failure is represented as an *Error carrying one of them.
package usperr

import "fmt"

// Code is a TR-369 USP error code.
type Code uint32

const (
	// CodeMessageFailed is the generic CRUD failure reported when a
	// request failed for a reason not covered by a more specific code.
	CodeMessageFailed Code = 7000
	// CodeMessageNotSupported reports an unknown or unhandled message type.
	CodeMessageNotSupported Code = 7001
	// CodeRequestDenied reports a refusal with no further reason given.
	CodeRequestDenied Code = 7002
	// CodeInternalError reports an agent-side fault.
	CodeInternalError Code = 7003
	// CodeInvalidArguments reports malformed request arguments.
	CodeInvalidArguments Code = 7004
	// CodeResourcesExceeded reports an exhausted table or buffer limit.
	CodeResourcesExceeded Code = 7005
	// CodePermissionDenied reports a trust-role violation.
	CodePermissionDenied Code = 7006
	// CodeInvalidConfiguration reports unusable persisted configuration.
	CodeInvalidConfiguration Code = 7007
	// CodeInvalidPathSyntax reports an unparseable path expression.
	CodeInvalidPathSyntax Code = 7008
	// CodeParamActionFailed reports a vendor setter failure.
	CodeParamActionFailed Code = 7009
	// CodeUnsupportedParam reports a parameter absent from the schema.
	CodeUnsupportedParam Code = 7010
	// CodeInvalidType is the TR-369 code for a value not convertible to the
	// parameter type; the data model reports such values with
	// CodeInvalidValue.
	CodeInvalidType Code = 7011
	// CodeInvalidValue reports a validator rejection, a value that does not
	// convert to the parameter type, or a value over the length limit.
	CodeInvalidValue Code = 7012
	// CodeParamReadOnly reports a write to a read-only parameter.
	CodeParamReadOnly Code = 7013
	// CodeValueConflict reports mutually inconsistent values in one request.
	CodeValueConflict Code = 7014
	// CodeOperationError reports a failed synchronous Operate.
	CodeOperationError Code = 7015
	// CodeObjectNotFound reports a concrete path with no live instance.
	CodeObjectNotFound Code = 7016
	// CodeCreateFailure reports an Add that the table rejected.
	CodeCreateFailure Code = 7017
	// CodeNotATable reports an Add or instance operation on a
	// single-instance object.
	CodeNotATable Code = 7018
	// CodeObjectNotCreatable reports an Add on a table without an
	// add handler.
	CodeObjectNotCreatable Code = 7019
	// CodeSetFailure reports a Set rejected by the object.
	CodeSetFailure Code = 7020
	// CodeRequiredParamFailed reports a failed required parameter inside an
	// allow_partial Set or Add.
	CodeRequiredParamFailed Code = 7021
	// CodeCommandFailure reports a failed async command.
	CodeCommandFailure Code = 7022
	// CodeCommandCanceled reports a canceled async command.
	CodeCommandCanceled Code = 7023
	// CodeObjectNotDeletable reports a Delete on a table without a delete
	// handler, or on a non-deletable instance.
	CodeObjectNotDeletable Code = 7024
	// CodeUniqueKeyConflict reports a duplicate compound unique key.
	CodeUniqueKeyConflict Code = 7025
	// CodeInvalidPath reports a syntactically valid path that does not match
	// the supported schema.
	CodeInvalidPath Code = 7026
)

// Error is a USP error: a code plus a human readable message destined for the
// per-operand error fields of USP responses.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("usp error %d: %s", e.Code, e.Msg)
}

// New builds an *Error with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected agent-side failure.
func Internal(err error) *Error {
	return &Error{Code: CodeInternalError, Msg: err.Error()}
}

// CodeOf extracts the USP code from err. Non-USP errors map to
// CodeInternalError; a nil error maps to 0.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	if ue, ok := err.(*Error); ok {
		return ue.Code
	}
	return CodeInternalError
}

// MessageOf extracts the human readable message from err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if ue, ok := err.(*Error); ok {
		return ue.Msg
	}
	return err.Error()
}
