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

// Package datamodel implements the in-memory schema registry, path
// resolution, the instance cache and the transaction manager. The whole
// package is owned by the datamodel module goroutine; nothing in here is
// safe for concurrent use and nothing needs to be.
package datamodel

import (
	"time"

	"github.com/h820614/usp-agent-stomp/pkg/datamodel/dmtype"
)

// Schema limits, sized after the original agent.
const (
	// MaxPathLen bounds the character length of any data model path.
	MaxPathLen = 256
	// MaxPathSegments bounds the named segments in a path, instance numbers
	// excluded.
	MaxPathSegments = 32
	// MaxInstanceOrder bounds the number of {i} placeholders in a schema
	// path.
	MaxInstanceOrder = 6
	// MaxValueLen bounds the character length of a parameter value.
	MaxValueLen = 4096
)

// NodeKind discriminates schema tree nodes.
type NodeKind int

const (
	// KindObject is a single instance branch.
	KindObject NodeKind = iota
	// KindTable is a multi instance branch; concrete paths insert an
	// instance number after its segment.
	KindTable
	// KindParam is a leaf parameter.
	KindParam
	// KindOperation is an invocable command.
	KindOperation
	// KindEvent is a notifiable event.
	KindEvent
)

// Access controls controller writes to a parameter.
type Access int

const (
	// AccessReadOnly rejects Set.
	AccessReadOnly Access = iota
	// AccessReadWrite permits Set.
	AccessReadWrite
)

// StorageClass selects where a parameter value lives.
type StorageClass int

const (
	// StorageDB persists the value in the key value database.
	StorageDB StorageClass = iota
	// StorageVendor computes the value through the registered getter.
	StorageVendor
	// StorageConst serves the registered default forever.
	StorageConst
)

// Request identifies the concrete path a callback is being invoked for.
type Request struct {
	// Path is the concrete path, e.g. Device.LocalAgent.MTP.2.Enable.
	Path string
	// Instances holds the instance numbers in the path, outermost first.
	Instances []int
}

// Inst returns the n-th (1 based) instance number of the request path, so
// callbacks read naturally against the schema template.
func (r Request) Inst(n int) int {
	return r.Instances[n-1]
}

// Callback signatures. None of these may block beyond a bounded database or
// computation step; long work must be completed through the request table.
type (
	// Getter computes a vendor parameter value.
	Getter func(req Request) (string, error)
	// Setter intercepts a write to a vendor parameter.
	Setter func(req Request, value string) error
	// Validator vets a value before it enters a transaction.
	Validator func(req Request, value string) error
	// ChangeNotify runs after a committed value change.
	ChangeNotify func(req Request, value string) error
	// ObjectValidator vets an instance addition.
	ObjectValidator func(req Request) error
	// ObjectNotify runs after a committed instance add or delete.
	ObjectNotify func(req Request) error
	// RefreshInstances reports the live instance numbers of a vendor table
	// under one concrete parent path.
	RefreshInstances func(parentPath string) ([]int, error)
	// OperationHandler executes an operation. For async operations it is run
	// from the request table after the response was already sent.
	OperationHandler func(req Request, input map[string]string) (map[string]string, error)
)

// ParamOpts configures a parameter registration.
type ParamOpts struct {
	Type    dmtype.Type
	Access  Access
	Storage StorageClass
	// Default is served when the database holds no value, and is the fixed
	// value of StorageConst parameters.
	Default string
	// Secure values are obfuscated before persistence and masked in dumps.
	Secure bool

	Validator    Validator
	ChangeNotify ChangeNotify
	Getter       Getter
	Setter       Setter
}

// ObjectOpts configures an object registration.
type ObjectOpts struct {
	// AllowAdd/AllowDelete gate controller driven Add and Delete on tables.
	AllowAdd    bool
	AllowDelete bool

	AddValidator ObjectValidator
	AddNotify    ObjectNotify
	DeleteNotify ObjectNotify

	// RefreshInstances, when set, makes the table vendor enumerated; the
	// cache re-queries it after RefreshTTL.
	RefreshInstances RefreshInstances
	RefreshTTL       time.Duration
}

// OperOpts configures an operation registration.
type OperOpts struct {
	Async      bool
	InputArgs  []string
	OutputArgs []string
	Handler    OperationHandler
}

// EventOpts configures an event registration.
type EventOpts struct {
	Args []string
}

// Node is one schema tree vertex. For tables the {i} placeholder is implicit:
// the node's children describe the per-instance subtree.
type Node struct {
	Kind     NodeKind
	Name     string
	Template string
	Parent   *Node
	Children map[string]*Node
	// Order counts the {i} placeholders on the path to this node.
	Order int

	Param  *ParamOpts
	Object *ObjectOpts
	Oper   *OperOpts
	Event  *EventOpts
}

// child returns the named child or nil.
func (n *Node) child(name string) *Node {
	if n.Children == nil {
		return nil
	}
	return n.Children[name]
}

// IsTable reports whether the node is a multi instance object.
func (n *Node) IsTable() bool {
	return n.Kind == KindTable
}

func (n *Node) addNotify() ObjectNotify {
	if n.Object == nil {
		return nil
	}
	return n.Object.AddNotify
}

func (n *Node) deleteNotify() ObjectNotify {
	if n.Object == nil {
		return nil
	}
	return n.Object.DeleteNotify
}
