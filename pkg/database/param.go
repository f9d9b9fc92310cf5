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

// Package database persists the data model as a flat key to string-value
// map, keyed by fully qualified parameter path. All durable agent state
// lives here; there are no ad-hoc files.
package database

import (
	"github.com/beego/beego/orm"
	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/common/dbm"
)

// ParamTableName is the single table backing the data model.
const ParamTableName = "usp_params"

// Param is one persisted parameter value. Values are always textual; the
// registry applies typing at read and write.
type Param struct {
	Key   string `orm:"column(key); size(256); pk"`
	Value string `orm:"column(value); null; type(text)"`
}

// TableName implements the beego orm naming hook.
func (p *Param) TableName() string {
	return ParamTableName
}

func init() {
	dbm.RegisterModel(new(Param))
}

// Edit is one buffered write. Delete wins over Value.
type Edit struct {
	Key    string
	Value  string
	Delete bool
}

// Store is the persistence surface consumed by the data model registry and
// the transaction manager.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool, error)
	// GetByPrefix returns every key/value whose key starts with prefix.
	GetByPrefix(prefix string) (map[string]string, error)
	// Commit applies a batch of edits atomically.
	Commit(edits []Edit) error
}

// ParamStore is the sqlite backed Store.
type ParamStore struct{}

// NewParamStore returns the Store over the database opened by dbm.
func NewParamStore() *ParamStore {
	return &ParamStore{}
}

// Get looks one key up.
func (s *ParamStore) Get(key string) (string, bool, error) {
	p := Param{Key: key}
	err := dbm.DBAccess.Read(&p)
	if err == orm.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return p.Value, true, nil
}

// GetByPrefix returns all rows under a path prefix, used by startup instance
// enumeration and the CLI dump.
func (s *ParamStore) GetByPrefix(prefix string) (map[string]string, error) {
	var params []Param
	_, err := dbm.DBAccess.QueryTable(ParamTableName).Filter("key__istartswith", prefix).All(&params)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(params))
	for _, p := range params {
		out[p.Key] = p.Value
	}
	return out, nil
}

// Commit applies the batch inside one database transaction. Any write error
// rolls the whole batch back.
func (s *ParamStore) Commit(edits []Edit) error {
	o := dbm.NewOrmer()
	if err := o.Begin(); err != nil {
		return err
	}
	for _, e := range edits {
		var err error
		if e.Delete {
			_, err = o.Raw("DELETE FROM "+ParamTableName+" WHERE key = ?", e.Key).Exec()
		} else {
			_, err = o.Raw("INSERT OR REPLACE INTO "+ParamTableName+" (key, value) VALUES (?, ?)", e.Key, e.Value).Exec()
		}
		if err != nil {
			if rerr := o.Rollback(); rerr != nil {
				klog.Errorf("rollback failed: %v", rerr)
			}
			return err
		}
	}
	return o.Commit()
}

// DeleteByPrefix removes every row under a path prefix.
func (s *ParamStore) DeleteByPrefix(prefix string) error {
	_, err := dbm.DBAccess.QueryTable(ParamTableName).Filter("key__istartswith", prefix).Delete()
	return err
}
