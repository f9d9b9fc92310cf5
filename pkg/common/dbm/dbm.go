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

// Package dbm opens the agent database and owns the orm handle. The handle
// belongs to the datamodel module alone; no transport code may touch it.
package dbm

import (
	"os"
	"strings"

	"github.com/beego/beego/orm"
	// blank import to register the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"
)

const (
	defaultDriverName = "sqlite3"
	defaultDbName     = "default"
)

var (
	dataSource string

	// DBAccess is the Ormer object for all database processing.
	DBAccess orm.Ormer
)

// RegisterModel registers an orm model. Must run before InitDBManager.
func RegisterModel(m interface{}) {
	orm.RegisterModel(m)
}

// DataSourceExists reports whether the database file is already present,
// which decides whether a factory reset seed is required.
func DataSourceExists(source string) bool {
	_, err := os.Stat(source)
	return err == nil
}

// InitDBManager opens the database file and syncs the schema. Failure to
// open the store is fatal: the agent cannot run without persistence.
func InitDBManager(source string) {
	dataSource = source
	if err := orm.RegisterDriver(defaultDriverName, orm.DRSqlite); err != nil {
		klog.Fatalf("failed to register driver: %v", err)
	}
	if err := orm.RegisterDataBase(defaultDbName, defaultDriverName, source); err != nil {
		klog.Fatalf("failed to register db %s: %v", source, err)
	}
	if err := orm.RunSyncdb(defaultDbName, false, false); err != nil {
		klog.Fatalf("failed to sync db schema: %v", err)
	}

	DBAccess = orm.NewOrm()
	if err := DBAccess.Using(defaultDbName); err != nil {
		klog.Fatalf("failed to select db %s: %v", defaultDbName, err)
	}
}

// NewOrmer returns a fresh Ormer bound to the agent database, used for
// transaction scopes so the shared handle never carries txn state.
func NewOrmer() orm.Ormer {
	o := orm.NewOrm()
	if err := o.Using(defaultDbName); err != nil {
		klog.Errorf("failed to select db: %v", err)
	}
	return o
}

// Cleanup removes the database file. A file that is already absent is not
// an error.
func Cleanup() {
	if err := os.Remove(dataSource); err != nil && !os.IsNotExist(err) {
		klog.Errorf("failed to remove db file %s: %v", dataSource, err)
	}
}

// IsNonUniqueNameError tests if the error returned by sqlite is a uniqueness
// violation. It checks the spellings used across sqlite versions.
func IsNonUniqueNameError(err error) bool {
	str := err.Error()
	if strings.HasSuffix(str, "are not unique") ||
		strings.Contains(str, "UNIQUE constraint failed") ||
		strings.HasSuffix(str, "constraint failed") {
		return true
	}
	return false
}
