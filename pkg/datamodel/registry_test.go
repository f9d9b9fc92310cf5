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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel/dmtype"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

// newTestRegistry builds a registry with a small schema shaped like the
// agent's MTP tables.
func newTestRegistry(t *testing.T) (*Registry, *database.MemStore) {
	t.Helper()
	store := database.NewMemStore()
	r := NewRegistry(store)

	r.RegisterObject("Device.Test.MTP.{i}", ObjectOpts{AllowAdd: true, AllowDelete: true})
	r.RegisterParameter("Device.Test.MTP.{i}.Enable", ParamOpts{
		Type:    dmtype.Bool,
		Access:  AccessReadWrite,
		Default: "false",
	})
	r.RegisterParameter("Device.Test.MTP.{i}.Protocol", ParamOpts{
		Access:  AccessReadWrite,
		Default: "STOMP",
	})
	r.RegisterParameter("Device.Test.MTP.{i}.Port", ParamOpts{
		Type:    dmtype.Uint,
		Access:  AccessReadWrite,
		Default: "61613",
	})
	r.RegisterParameter("Device.Test.MTP.{i}.Name", ParamOpts{
		Access: AccessReadWrite,
	})
	r.RegisterParameter("Device.Test.Version", ParamOpts{
		Storage: StorageConst,
		Default: "1.0",
	})
	r.Seal()
	require.NoError(t, r.LoadInstances())
	return r, store
}

// addInstance commits one Add and returns the new instance number.
func addInstance(t *testing.T, r *Registry, table string) int {
	t.Helper()
	txn, err := r.Begin()
	require.NoError(t, err)
	inst, err := r.AddInstance(table)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	return inst
}

func setValue(t *testing.T, r *Registry, path, value string) {
	t.Helper()
	txn, err := r.Begin()
	require.NoError(t, err)
	require.NoError(t, r.SetValue(path, value))
	require.NoError(t, txn.Commit())
}

func TestGetDefaultAndSet(t *testing.T) {
	r, _ := newTestRegistry(t)
	inst := addInstance(t, r, "Device.Test.MTP")
	path := fmt.Sprintf("Device.Test.MTP.%d.Enable", inst)

	v, err := r.GetValue(path)
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	setValue(t, r, path, "true")
	v, err = r.GetValue(path)
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}

func TestSetErrors(t *testing.T) {
	r, _ := newTestRegistry(t)
	inst := addInstance(t, r, "Device.Test.MTP")

	tests := []struct {
		name  string
		path  string
		value string
		code  usperr.Code
	}{
		{
			name:  "bad boolean",
			path:  fmt.Sprintf("Device.Test.MTP.%d.Enable", inst),
			value: "notabool",
			code:  usperr.CodeInvalidValue,
		},
		{
			name:  "unknown path",
			path:  fmt.Sprintf("Device.Test.MTP.%d.Nothing", inst),
			value: "x",
			code:  usperr.CodeInvalidPath,
		},
		{
			name:  "read only",
			path:  "Device.Test.Version",
			value: "2.0",
			code:  usperr.CodeParamReadOnly,
		},
		{
			name:  "missing instance",
			path:  "Device.Test.MTP.99.Enable",
			value: "true",
			code:  usperr.CodeObjectNotFound,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			txn, err := r.Begin()
			require.NoError(t, err)
			defer txn.Abort()
			serr := r.SetValue(test.path, test.value)
			require.Error(t, serr)
			assert.Equal(t, test.code, usperr.CodeOf(serr))
		})
	}
}

func TestInstanceNumbersUniqueAndMonotone(t *testing.T) {
	r, _ := newTestRegistry(t)

	i1 := addInstance(t, r, "Device.Test.MTP")
	i2 := addInstance(t, r, "Device.Test.MTP")
	assert.Equal(t, 1, i1)
	assert.Equal(t, 2, i2)

	// delete 2, next allocation must not reuse it
	txn, err := r.Begin()
	require.NoError(t, err)
	require.NoError(t, r.DeleteInstance("Device.Test.MTP.2"))
	require.NoError(t, txn.Commit())

	i3 := addInstance(t, r, "Device.Test.MTP")
	assert.Equal(t, 3, i3)

	nums, err := r.Instances("Device.Test.MTP")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, nums)

	seen := map[int]bool{}
	for _, n := range nums {
		assert.False(t, seen[n], "instance number %d appears twice", n)
		seen[n] = true
	}
}

func TestNumberOfEntries(t *testing.T) {
	r, _ := newTestRegistry(t)

	v, err := r.GetValue("Device.Test.MTPNumberOfEntries")
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	addInstance(t, r, "Device.Test.MTP")
	addInstance(t, r, "Device.Test.MTP")

	v, err = r.GetValue("Device.Test.MTPNumberOfEntries")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestTransactionAbortRestoresState(t *testing.T) {
	r, store := newTestRegistry(t)
	inst := addInstance(t, r, "Device.Test.MTP")
	path := fmt.Sprintf("Device.Test.MTP.%d.Name", inst)
	setValue(t, r, path, "before")
	rowsBefore := store.Len()

	txn, err := r.Begin()
	require.NoError(t, err)
	require.NoError(t, r.SetValue(path, "after"))
	added, err := r.AddInstance("Device.Test.MTP")
	require.NoError(t, err)
	require.NoError(t, r.DeleteInstance(fmt.Sprintf("Device.Test.MTP.%d", inst)))
	txn.Abort()

	// no observable state may differ from pre-begin
	v, err := r.GetValue(path)
	require.NoError(t, err)
	assert.Equal(t, "before", v)
	nums, err := r.Instances("Device.Test.MTP")
	require.NoError(t, err)
	assert.Equal(t, []int{inst}, nums)
	live, err := r.InstanceExists(fmt.Sprintf("Device.Test.MTP.%d", added))
	require.NoError(t, err)
	assert.False(t, live)
	assert.Equal(t, rowsBefore, store.Len())
}

func TestTransactionCommitFiresNotifiesOnce(t *testing.T) {
	store := database.NewMemStore()
	r := NewRegistry(store)
	var changes, adds, dels int
	r.RegisterObject("Device.Test.Row.{i}", ObjectOpts{
		AllowAdd:    true,
		AllowDelete: true,
		AddNotify:   func(Request) error { adds++; return nil },
		DeleteNotify: func(Request) error {
			dels++
			return nil
		},
	})
	r.RegisterParameter("Device.Test.Row.{i}.Value", ParamOpts{
		Access: AccessReadWrite,
		ChangeNotify: func(Request, string) error {
			changes++
			return nil
		},
	})
	r.Seal()
	require.NoError(t, r.LoadInstances())

	txn, err := r.Begin()
	require.NoError(t, err)
	inst, err := r.AddInstance("Device.Test.Row")
	require.NoError(t, err)
	require.NoError(t, r.SetValue(fmt.Sprintf("Device.Test.Row.%d.Value", inst), "x"))
	require.NoError(t, txn.Commit())

	assert.Equal(t, 1, adds)
	assert.Equal(t, 1, changes)
	assert.Equal(t, 0, dels)

	txn, err = r.Begin()
	require.NoError(t, err)
	require.NoError(t, r.DeleteInstance(fmt.Sprintf("Device.Test.Row.%d", inst)))
	require.NoError(t, txn.Commit())
	assert.Equal(t, 1, dels)
}

func TestNestedBeginRejected(t *testing.T) {
	r, _ := newTestRegistry(t)
	txn, err := r.Begin()
	require.NoError(t, err)
	defer txn.Abort()
	_, err = r.Begin()
	require.Error(t, err)
}

func TestValidatorRunsAtSetAndCommit(t *testing.T) {
	store := database.NewMemStore()
	r := NewRegistry(store)
	rejectAll := false
	r.RegisterObject("Device.Test.Row.{i}", ObjectOpts{AllowAdd: true, AllowDelete: true})
	r.RegisterParameter("Device.Test.Row.{i}.Value", ParamOpts{
		Access: AccessReadWrite,
		Validator: func(req Request, value string) error {
			if rejectAll {
				return fmt.Errorf("rejected")
			}
			return nil
		},
	})
	r.Seal()
	require.NoError(t, r.LoadInstances())
	inst := addInstance(t, r, "Device.Test.Row")
	path := fmt.Sprintf("Device.Test.Row.%d.Value", inst)

	txn, err := r.Begin()
	require.NoError(t, err)
	require.NoError(t, r.SetValue(path, "x"))

	// validator turning sour between buffer and commit aborts the commit
	rejectAll = true
	err = txn.Commit()
	require.Error(t, err)

	v, gerr := r.GetValue(path)
	require.NoError(t, gerr)
	assert.Equal(t, "", v)
}

func TestRoundTripThroughStore(t *testing.T) {
	store := database.NewMemStore()

	build := func() *Registry {
		r := NewRegistry(store)
		r.RegisterObject("Device.Test.MTP.{i}", ObjectOpts{AllowAdd: true, AllowDelete: true})
		r.RegisterParameter("Device.Test.MTP.{i}.Name", ParamOpts{Access: AccessReadWrite})
		r.Seal()
		if err := r.LoadInstances(); err != nil {
			t.Fatalf("load instances: %v", err)
		}
		return r
	}

	r := build()
	inst := addInstance(t, r, "Device.Test.MTP")
	path := fmt.Sprintf("Device.Test.MTP.%d.Name", inst)
	setValue(t, r, path, "persisted")

	// a fresh registry over the same store sees the value and the instance
	r2 := build()
	v, err := r2.GetValue(path)
	require.NoError(t, err)
	assert.Equal(t, "persisted", v)
	nums, err := r2.Instances("Device.Test.MTP")
	require.NoError(t, err)
	assert.Equal(t, []int{inst}, nums)
}

func TestSecureValueObfuscatedInStore(t *testing.T) {
	store := database.NewMemStore()
	r := NewRegistry(store)
	r.RegisterObject("Device.Test", ObjectOpts{})
	r.RegisterParameter("Device.Test.Password", ParamOpts{
		Access: AccessReadWrite,
		Secure: true,
	})
	r.Seal()
	require.NoError(t, r.LoadInstances())

	setValue(t, r, "Device.Test.Password", "hunter2")

	stored, ok, err := store.Get("Device.Test.Password")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, "hunter2", stored)

	v, err := r.GetValue("Device.Test.Password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)
}

func TestCorruptRowDeletedAtStartup(t *testing.T) {
	store := database.NewMemStore()
	require.NoError(t, store.Commit([]database.Edit{
		{Key: "Device.Test.MTP.1.Name", Value: "good"},
		{Key: "Device.Test.Bogus.1.Thing", Value: "bad"},
	}))

	r := NewRegistry(store)
	r.RegisterObject("Device.Test.MTP.{i}", ObjectOpts{AllowAdd: true, AllowDelete: true})
	r.RegisterParameter("Device.Test.MTP.{i}.Name", ParamOpts{Access: AccessReadWrite})
	r.Seal()
	require.NoError(t, r.LoadInstances())

	_, ok, err := store.Get("Device.Test.Bogus.1.Thing")
	require.NoError(t, err)
	assert.False(t, ok, "corrupt row should be deleted")

	v, err := r.GetValue("Device.Test.MTP.1.Name")
	require.NoError(t, err)
	assert.Equal(t, "good", v)
}
