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

package datamodel

import (
	"strconv"

	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

// checkInstancesLive verifies every table ancestor instance of a concrete
// path is live.
func (r *Registry) checkInstancesLive(node *Node, instances []int) error {
	var tables []*Node
	for n := node; n != nil; n = n.Parent {
		if n.IsTable() {
			tables = append(tables, n)
		}
	}
	for i, j := 0, len(tables)-1; i < j; i, j = i+1, j-1 {
		tables[i], tables[j] = tables[j], tables[i]
	}
	for _, t := range tables {
		if t.Order > len(instances) {
			break
		}
		tablePath := concretePath(t, instances[:t.Order-1])
		ok, err := r.insts.exists(t, tablePath, instances[t.Order-1])
		if err != nil {
			return err
		}
		if !ok {
			return usperr.New(usperr.CodeObjectNotFound,
				"object %s.%d does not exist", tablePath, instances[t.Order-1])
		}
	}
	return nil
}

// GetValue returns the current string form of a concrete parameter path.
func (r *Registry) GetValue(path string) (string, error) {
	node, instances, err := r.lookup(path)
	if err != nil {
		return "", err
	}
	if node.Kind != KindParam {
		return "", usperr.New(usperr.CodeInvalidPath, "%q is not a parameter", path)
	}
	if err := r.checkInstancesLive(node, instances); err != nil {
		return "", err
	}

	if r.txn != nil {
		if v, ok := r.txn.bufferedValue(path); ok {
			return v, nil
		}
	}

	p := node.Param
	switch p.Storage {
	case StorageConst:
		return p.Default, nil
	case StorageVendor:
		req := Request{Path: path, Instances: instances}
		v, gerr := p.Getter(req)
		if gerr != nil {
			if ue, ok := gerr.(*usperr.Error); ok {
				return "", ue
			}
			return "", usperr.Internal(gerr)
		}
		return v, nil
	}

	stored, ok, serr := r.store.Get(path)
	if serr != nil {
		return "", usperr.Internal(serr)
	}
	if !ok {
		return p.Default, nil
	}
	if p.Secure {
		clear, valid := database.Deobfuscate(stored)
		if !valid {
			klog.Warningf("secure value at %s is corrupt, serving default", path)
			return p.Default, nil
		}
		return clear, nil
	}
	return stored, nil
}

// SetValue validates and buffers a parameter write into the active
// transaction. The write becomes durable, and the change notify fires, at
// commit.
func (r *Registry) SetValue(path, value string) error {
	if r.txn == nil {
		return usperr.New(usperr.CodeInternalError, "set of %s outside a transaction", path)
	}
	node, instances, err := r.lookup(path)
	if err != nil {
		return err
	}
	if node.Kind != KindParam {
		return usperr.New(usperr.CodeInvalidPath, "%q is not a parameter", path)
	}
	if err := r.checkInstancesLive(node, instances); err != nil {
		return err
	}

	p := node.Param
	if p.Access != AccessReadWrite || p.Storage == StorageConst {
		return usperr.New(usperr.CodeParamReadOnly, "parameter %s is not writable", path)
	}
	if p.Storage == StorageVendor && p.Setter == nil {
		return usperr.New(usperr.CodeParamReadOnly, "parameter %s is not writable", path)
	}
	if len(value) > MaxValueLen {
		return usperr.New(usperr.CodeInvalidValue, "value for %s exceeds %d characters", path, MaxValueLen)
	}

	normalized, nerr := p.Type.Normalize(value)
	if nerr != nil {
		return usperr.New(usperr.CodeInvalidValue, "%s: %s", path, nerr.Error())
	}

	req := Request{Path: path, Instances: instances}
	if p.Validator != nil {
		if verr := p.Validator(req, normalized); verr != nil {
			if ue, ok := verr.(*usperr.Error); ok {
				return ue
			}
			return usperr.New(usperr.CodeInvalidValue, "%s: %s", path, verr.Error())
		}
	}

	oldValue, gerr := r.GetValue(path)
	if gerr != nil {
		oldValue = ""
	}

	r.txn.sets = append(r.txn.sets, txnSet{
		node:     node,
		req:      req,
		value:    normalized,
		oldValue: oldValue,
		changed:  normalized != oldValue,
	})
	return nil
}

// AddInstance allocates a new instance of a table. The table path is the
// concrete path without a trailing instance number, e.g.
// Device.LocalAgent.MTP. Requires an active transaction.
func (r *Registry) AddInstance(tablePath string) (int, error) {
	if r.txn == nil {
		return 0, usperr.New(usperr.CodeInternalError, "add of %s outside a transaction", tablePath)
	}
	node, instances, err := r.lookup(tablePath)
	if err != nil {
		return 0, err
	}
	if !node.IsTable() || len(instances) != node.Order-1 {
		return 0, usperr.New(usperr.CodeNotATable, "%q is not a multi instance table path", tablePath)
	}
	if node.Object != nil && node.Object.RefreshInstances != nil {
		return 0, usperr.New(usperr.CodeObjectNotCreatable, "table %s is vendor enumerated", tablePath)
	}
	if err := r.checkInstancesLive(node.Parent, instances); err != nil {
		return 0, err
	}

	table := concretePath(node, instances)
	if max := maxInstancesOf(node); max > 0 {
		nums, lerr := r.insts.liveInstances(node, table)
		if lerr != nil {
			return 0, lerr
		}
		if len(nums) >= max {
			return 0, usperr.New(usperr.CodeResourcesExceeded, "table %s is full (%d entries)", table, max)
		}
	}

	if node.Object != nil && node.Object.AddValidator != nil {
		req := Request{Path: table, Instances: instances}
		if verr := node.Object.AddValidator(req); verr != nil {
			if ue, ok := verr.(*usperr.Error); ok {
				return 0, ue
			}
			return 0, usperr.New(usperr.CodeCreateFailure, "%s: %s", table, verr.Error())
		}
	}

	inst, aerr := r.insts.allocate(table)
	if aerr != nil {
		return 0, aerr
	}
	r.txn.adds = append(r.txn.adds, txnAdd{table: node, tablePath: table, inst: inst})
	return inst, nil
}

// DeleteInstance removes a live instance, identified by its concrete row
// path, e.g. Device.LocalAgent.MTP.1. Requires an active transaction.
func (r *Registry) DeleteInstance(path string) error {
	if r.txn == nil {
		return usperr.New(usperr.CodeInternalError, "delete of %s outside a transaction", path)
	}
	node, instances, err := r.lookup(path)
	if err != nil {
		return err
	}
	if !node.IsTable() || len(instances) != node.Order {
		return usperr.New(usperr.CodeNotATable, "%q is not an instance path", path)
	}
	if node.Object != nil && node.Object.RefreshInstances != nil {
		return usperr.New(usperr.CodeObjectNotDeletable, "table entries of %s are vendor owned", path)
	}
	if err := r.checkInstancesLive(node, instances); err != nil {
		return err
	}

	table := concretePath(node, instances[:node.Order-1])
	inst := instances[node.Order-1]
	r.insts.drop(table, inst)
	r.txn.dels = append(r.txn.dels, txnDel{table: node, tablePath: table, inst: inst})
	return nil
}

// Instances returns the sorted live instance numbers of a concrete table
// path.
func (r *Registry) Instances(tablePath string) ([]int, error) {
	node, instances, err := r.lookup(tablePath)
	if err != nil {
		return nil, err
	}
	if !node.IsTable() || len(instances) != node.Order-1 {
		return nil, usperr.New(usperr.CodeNotATable, "%q is not a multi instance table path", tablePath)
	}
	return r.insts.liveInstances(node, concretePath(node, instances))
}

// InstanceExists reports whether a concrete row path is live.
func (r *Registry) InstanceExists(path string) (bool, error) {
	node, instances, err := r.lookup(path)
	if err != nil {
		return false, err
	}
	if !node.IsTable() || len(instances) != node.Order {
		return false, usperr.New(usperr.CodeNotATable, "%q is not an instance path", path)
	}
	table := concretePath(node, instances[:node.Order-1])
	return r.insts.exists(node, table, instances[node.Order-1])
}

// maxInstancesOf reports the sizing limit of well known tables. Zero means
// unbounded.
func maxInstancesOf(node *Node) int {
	switch node.Template {
	case "Device.LocalAgent.MTP":
		return MaxAgentMtps
	case "Device.LocalAgent.Controller":
		return MaxControllers
	case "Device.STOMP.Connection":
		return MaxStompConnections
	case "Device.MQTT.Client":
		return MaxMqttClients
	}
	return 0
}

// Table sizing limits, matching the original agent's static array bounds.
const (
	MaxControllers      = 5
	MaxAgentMtps        = 5
	MaxStompConnections = 5
	MaxMqttClients      = 5
	MaxControllerMtps   = 3
)

// GetBool reads a boolean parameter, returning false on any error.
func (r *Registry) GetBool(path string) bool {
	v, err := r.GetValue(path)
	if err != nil {
		return false
	}
	return v == "true" || v == "1"
}

// GetInt reads an integer parameter, returning def on any error.
func (r *Registry) GetInt(path string, def int) int {
	v, err := r.GetValue(path)
	if err != nil {
		return def
	}
	n, cerr := strconv.Atoi(v)
	if cerr != nil {
		return def
	}
	return n
}
