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

// Package role implements the trust roles assigned to controllers and the
// permission checks the dispatcher applies per touched path.
package role

import "strings"

// Role is a trust label assigned to a controller from its authenticated
// identity.
type Role string

const (
	// FullAccess may read and write the whole data model.
	FullAccess Role = "FullAccess"
	// ReadOnly may read everything and receive notifications, never write.
	ReadOnly Role = "ReadOnly"
	// Untrusted is the role of autodiscovered controllers: device
	// information and protocol negotiation only.
	Untrusted Role = "Untrusted"
)

// Action is a data model operation class.
type Action int

const (
	ActionGet Action = iota
	ActionSet
	ActionAdd
	ActionDelete
	ActionOperate
	ActionNotify
)

// untrustedReadable lists the subtrees an untrusted controller may read.
var untrustedReadable = []string{
	"Device.DeviceInfo.",
	"Device.LocalAgent.EndpointID",
	"Device.LocalAgent.SoftwareVersion",
}

// Parse maps a stored role name to a Role, defaulting to Untrusted.
func Parse(name string) Role {
	switch name {
	case string(FullAccess):
		return FullAccess
	case string(ReadOnly):
		return ReadOnly
	}
	return Untrusted
}

// Permits reports whether a role may apply an action to a path.
func Permits(r Role, path string, a Action) bool {
	switch r {
	case FullAccess:
		return true
	case ReadOnly:
		return a == ActionGet || a == ActionNotify
	case Untrusted:
		if a != ActionGet {
			return false
		}
		for _, prefix := range untrustedReadable {
			if strings.HasPrefix(path, prefix) || path+"." == prefix {
				return true
			}
		}
		return false
	}
	return false
}
