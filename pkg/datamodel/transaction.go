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

// CommitObserver is notified after a transaction committed, once per edit,
// in commit order. The subscription engine hangs off this.
type CommitObserver interface {
	ObjectCreated(path string)
	ObjectDeleted(path string)
	ValueChanged(path, value string)
}

type txnAdd struct {
	table     *Node
	tablePath string
	inst      int
}

type txnSet struct {
	node     *Node
	req      Request
	value    string
	oldValue string
	changed  bool
}

type txnDel struct {
	table     *Node
	tablePath string
	inst      int
}

// Transaction buffers data model edits. At most one transaction is active at
// a time; nested begins are rejected. A transaction never spans messages.
type Transaction struct {
	reg  *Registry
	adds []txnAdd
	sets []txnSet
	dels []txnDel
	done bool
}

// Begin opens a transaction frame.
func (r *Registry) Begin() (*Transaction, error) {
	if r.txn != nil {
		return nil, usperr.New(usperr.CodeInternalError, "nested transaction begin")
	}
	t := &Transaction{reg: r}
	r.txn = t
	return t, nil
}

// InTransaction reports whether a transaction frame is open.
func (r *Registry) InTransaction() bool {
	return r.txn != nil
}

// Abort discards all buffered edits and restores the instance cache. No
// notifies fire.
func (t *Transaction) Abort() {
	if t.done {
		return
	}
	t.done = true
	// undo in reverse order
	for i := len(t.dels) - 1; i >= 0; i-- {
		d := t.dels[i]
		t.reg.insts.reinsert(d.tablePath, d.inst)
	}
	for i := len(t.adds) - 1; i >= 0; i-- {
		a := t.adds[i]
		t.reg.insts.unallocate(a.tablePath, a.inst)
	}
	t.reg.txn = nil
}

// Commit applies the buffered edits atomically: re-validate, write the
// database batch, then fire notifies in stable order (adds before sets
// before deletes). Notify failures are logged, never rolled back; the
// database is already durable by then.
func (t *Transaction) Commit() error {
	if t.done {
		return usperr.New(usperr.CodeInternalError, "commit on finished transaction")
	}

	// re-validate every buffered set
	for _, s := range t.sets {
		if v := s.node.Param.Validator; v != nil {
			if err := v(s.req, s.value); err != nil {
				t.Abort()
				if _, ok := err.(*usperr.Error); ok {
					return err
				}
				return usperr.New(usperr.CodeInvalidValue, "%s: %s", s.req.Path, err.Error())
			}
		}
	}

	edits, vendorSets, err := t.buildEdits()
	if err != nil {
		t.Abort()
		return err
	}

	if err := t.reg.store.Commit(edits); err != nil {
		t.Abort()
		return usperr.Internal(err)
	}

	// apply vendor setters after durability, mirroring notify semantics
	for _, s := range vendorSets {
		if err := s.node.Param.Setter(s.req, s.value); err != nil {
			klog.Warningf("vendor setter for %s failed: %v", s.req.Path, err)
		}
	}

	t.done = true
	t.reg.txn = nil

	t.fireNotifies()
	return nil
}

// buildEdits turns the buffers into one database batch, commit order
// add -> set -> delete. Vendor stored sets are returned separately.
func (t *Transaction) buildEdits() ([]database.Edit, []txnSet, error) {
	var edits []database.Edit
	var vendorSets []txnSet

	counterTables := map[string]bool{}
	for _, a := range t.adds {
		// seed the new instance with the defaults of its DB stored
		// parameters so the row survives restart enumeration
		instPath := a.tablePath + "." + strconv.Itoa(a.inst)
		for name, child := range a.table.Children {
			if child.Kind == KindParam && child.Param.Storage == StorageDB {
				value := child.Param.Default
				if child.Param.Secure {
					value = database.Obfuscate(value)
				}
				edits = append(edits, database.Edit{Key: instPath + "." + name, Value: value})
			}
		}
		counterTables[a.tablePath] = true
	}
	for tablePath := range counterTables {
		edits = append(edits, t.reg.insts.nextInstEdit(tablePath))
	}

	for i := range t.sets {
		s := &t.sets[i]
		if s.node.Param.Storage == StorageVendor {
			vendorSets = append(vendorSets, *s)
			continue
		}
		value := s.value
		if s.node.Param.Secure {
			value = database.Obfuscate(value)
		}
		// buffered seeds from an add in the same transaction are superseded
		// by INSERT OR REPLACE semantics of the batch apply
		edits = append(edits, database.Edit{Key: s.req.Path, Value: value})
	}

	for _, d := range t.dels {
		prefix := d.tablePath + "." + strconv.Itoa(d.inst) + "."
		rows, err := t.reg.store.GetByPrefix(prefix)
		if err != nil {
			return nil, nil, usperr.Internal(err)
		}
		for key := range rows {
			edits = append(edits, database.Edit{Key: key, Delete: true})
		}
	}
	return edits, vendorSets, nil
}

// fireNotifies runs the registered callbacks and commit observers. The
// transaction frame is already closed, so callbacks may open their own
// follow-up transactions.
func (t *Transaction) fireNotifies() {
	for _, a := range t.adds {
		path := a.tablePath + "." + strconv.Itoa(a.inst)
		if fn := a.table.addNotify(); fn != nil {
			req := Request{Path: path, Instances: instancesOfPath(path)}
			if err := fn(req); err != nil {
				klog.Warningf("add notify for %s failed: %v", path, err)
			}
		}
	}
	for _, s := range t.sets {
		if !s.changed {
			continue
		}
		if fn := s.node.Param.ChangeNotify; fn != nil {
			if err := fn(s.req, s.value); err != nil {
				klog.Warningf("change notify for %s failed: %v", s.req.Path, err)
			}
		}
	}
	for _, d := range t.dels {
		path := d.tablePath + "." + strconv.Itoa(d.inst)
		if fn := d.table.deleteNotify(); fn != nil {
			req := Request{Path: path, Instances: instancesOfPath(path)}
			if err := fn(req); err != nil {
				klog.Warningf("delete notify for %s failed: %v", path, err)
			}
		}
	}

	for _, o := range t.reg.observers {
		for _, a := range t.adds {
			o.ObjectCreated(a.tablePath + "." + strconv.Itoa(a.inst))
		}
		for _, s := range t.sets {
			if s.changed {
				o.ValueChanged(s.req.Path, s.value)
			}
		}
		for _, d := range t.dels {
			o.ObjectDeleted(d.tablePath + "." + strconv.Itoa(d.inst))
		}
	}
}

// TxnMark is a savepoint inside an open transaction.
type TxnMark struct {
	adds, sets, dels int
}

// Mark records a savepoint the caller can roll back to, used by the
// dispatcher's allow_partial handling to discard one object's edits without
// losing the rest of the message.
func (t *Transaction) Mark() TxnMark {
	return TxnMark{adds: len(t.adds), sets: len(t.sets), dels: len(t.dels)}
}

// RollbackTo discards every edit buffered after the mark, restoring the
// instance cache for discarded adds and deletes.
func (t *Transaction) RollbackTo(m TxnMark) {
	for i := len(t.dels) - 1; i >= m.dels; i-- {
		d := t.dels[i]
		t.reg.insts.reinsert(d.tablePath, d.inst)
	}
	t.dels = t.dels[:m.dels]
	for i := len(t.adds) - 1; i >= m.adds; i-- {
		a := t.adds[i]
		t.reg.insts.unallocate(a.tablePath, a.inst)
	}
	t.adds = t.adds[:m.adds]
	t.sets = t.sets[:m.sets]
}

// bufferedValue returns a pending set for key inside the open transaction.
func (t *Transaction) bufferedValue(path string) (string, bool) {
	for i := len(t.sets) - 1; i >= 0; i-- {
		if t.sets[i].req.Path == path {
			return t.sets[i].value, true
		}
	}
	return "", false
}
