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

// newResolverRegistry builds a registry with a table, a reference parameter
// and a referenced table.
func newResolverRegistry(t *testing.T) *Registry {
	t.Helper()
	store := database.NewMemStore()
	r := NewRegistry(store)

	r.RegisterObject("Device.Test.MTP.{i}", ObjectOpts{AllowAdd: true, AllowDelete: true})
	r.RegisterParameter("Device.Test.MTP.{i}.Enable", ParamOpts{
		Type: dmtype.Bool, Access: AccessReadWrite, Default: "false",
	})
	r.RegisterParameter("Device.Test.MTP.{i}.Port", ParamOpts{
		Type: dmtype.Uint, Access: AccessReadWrite, Default: "0",
	})
	r.RegisterParameter("Device.Test.MTP.{i}.Name", ParamOpts{Access: AccessReadWrite})
	r.RegisterParameter("Device.Test.MTP.{i}.Ref", ParamOpts{Access: AccessReadWrite})

	r.RegisterObject("Device.Test.Conn.{i}", ObjectOpts{AllowAdd: true, AllowDelete: true})
	r.RegisterParameter("Device.Test.Conn.{i}.Host", ParamOpts{Access: AccessReadWrite})

	r.Seal()
	require.NoError(t, r.LoadInstances())
	return r
}

func paths(resolved []ResolvedPath) []string {
	out := make([]string, 0, len(resolved))
	for _, rp := range resolved {
		out = append(out, rp.Path)
	}
	return out
}

func TestResolveWildcard(t *testing.T) {
	r := newResolverRegistry(t)
	for i := 0; i < 3; i++ {
		addInstance(t, r, "Device.Test.MTP")
	}

	resolved, err := r.Resolve("Device.Test.MTP.*.Enable")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Device.Test.MTP.1.Enable",
		"Device.Test.MTP.2.Enable",
		"Device.Test.MTP.3.Enable",
	}, paths(resolved))
}

func TestResolveDeterministic(t *testing.T) {
	r := newResolverRegistry(t)
	for i := 0; i < 4; i++ {
		addInstance(t, r, "Device.Test.MTP")
	}

	first, err := r.Resolve("Device.Test.MTP.*.Name")
	require.NoError(t, err)
	second, err := r.Resolve("Device.Test.MTP.*.Name")
	require.NoError(t, err)
	assert.Equal(t, paths(first), paths(second))
}

func TestResolveFilter(t *testing.T) {
	r := newResolverRegistry(t)
	for i := 1; i <= 3; i++ {
		inst := addInstance(t, r, "Device.Test.MTP")
		setValue(t, r, fmt.Sprintf("Device.Test.MTP.%d.Port", inst), fmt.Sprintf("%d", 1000*i))
		if i != 2 {
			setValue(t, r, fmt.Sprintf("Device.Test.MTP.%d.Enable", inst), "true")
		}
	}

	tests := []struct {
		name string
		expr string
		want []string
	}{
		{
			name: "boolean equality",
			expr: "Device.Test.MTP.[Enable==true].Name",
			want: []string{"Device.Test.MTP.1.Name", "Device.Test.MTP.3.Name"},
		},
		{
			name: "numeric comparison",
			expr: "Device.Test.MTP.[Port>1500].Name",
			want: []string{"Device.Test.MTP.2.Name", "Device.Test.MTP.3.Name"},
		},
		{
			name: "conjunction short circuits",
			expr: "Device.Test.MTP.[Enable==true && Port>1500].Name",
			want: []string{"Device.Test.MTP.3.Name"},
		},
		{
			name: "ordered marker tolerated",
			expr: "Device.Test.MTP.[+Enable==true].Name",
			want: []string{"Device.Test.MTP.1.Name", "Device.Test.MTP.3.Name"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resolved, err := r.Resolve(test.expr)
			require.NoError(t, err)
			assert.Equal(t, test.want, paths(resolved))
		})
	}
}

func TestResolveReferenceFollowing(t *testing.T) {
	r := newResolverRegistry(t)
	addInstance(t, r, "Device.Test.MTP")
	addInstance(t, r, "Device.Test.Conn")
	setValue(t, r, "Device.Test.Conn.1.Host", "broker.example")
	setValue(t, r, "Device.Test.MTP.1.Ref", "Device.Test.Conn.1")

	resolved, err := r.Resolve("Device.Test.MTP.1.Ref#.Host")
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "Device.Test.Conn.1.Host", resolved[0].Path)

	v, err := r.GetValue(resolved[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "broker.example", v)
}

func TestResolveDanglingReference(t *testing.T) {
	r := newResolverRegistry(t)
	addInstance(t, r, "Device.Test.MTP")

	tests := []struct {
		name string
		ref  string
	}{
		{name: "empty reference", ref: ""},
		{name: "missing target", ref: "Device.Test.Conn.7"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			setValue(t, r, "Device.Test.MTP.1.Ref", test.ref)
			_, err := r.Resolve("Device.Test.MTP.1.Ref#.Host")
			require.Error(t, err)
			assert.Equal(t, usperr.CodeObjectNotFound, usperr.CodeOf(err))
		})
	}
}

func TestResolveErrors(t *testing.T) {
	r := newResolverRegistry(t)
	addInstance(t, r, "Device.Test.MTP")

	tests := []struct {
		name string
		expr string
		code usperr.Code
	}{
		{name: "unknown segment", expr: "Device.Test.Nope.1.Name", code: usperr.CodeInvalidPath},
		{name: "missing instance", expr: "Device.Test.MTP.9.Name", code: usperr.CodeObjectNotFound},
		{name: "unbalanced filter", expr: "Device.Test.MTP.[Enable==true.Name", code: usperr.CodeInvalidPathSyntax},
		{name: "filter without operator", expr: "Device.Test.MTP.[Enable].Name", code: usperr.CodeInvalidPathSyntax},
		{name: "selector off table", expr: "Device.Test.*.Name", code: usperr.CodeInvalidPath},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := r.Resolve(test.expr)
			require.Error(t, err)
			assert.Equal(t, test.code, usperr.CodeOf(err))
		})
	}
}

func TestExpandParams(t *testing.T) {
	r := newResolverRegistry(t)
	addInstance(t, r, "Device.Test.MTP")

	resolved, err := r.Resolve("Device.Test.MTP.1")
	require.NoError(t, err)
	params, err := r.ExpandParams(resolved)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Device.Test.MTP.1.Enable",
		"Device.Test.MTP.1.Name",
		"Device.Test.MTP.1.Port",
		"Device.Test.MTP.1.Ref",
	}, paths(params))
}
