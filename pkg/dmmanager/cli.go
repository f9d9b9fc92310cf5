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

package dmmanager

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/role"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

// handleCli executes one local command against the data model. The CLI acts
// under the role it declares, FullAccess by default.
func (m *dmManager) handleCli(req types.CliRequest) types.CliResponse {
	r := role.Parse(req.Role)
	if req.Role == "" {
		r = role.FullAccess
	}

	fail := func(err error) types.CliResponse {
		return types.CliResponse{Err: err.Error()}
	}
	need := func(n int) error {
		if len(req.Args) < n {
			return fmt.Errorf("command %s needs %d argument(s)", req.Command, n)
		}
		return nil
	}

	switch req.Command {
	case "get":
		if err := need(1); err != nil {
			return fail(err)
		}
		resolved, err := m.reg.Resolve(req.Args[0])
		if err != nil {
			return fail(err)
		}
		params, err := m.reg.ExpandParams(resolved)
		if err != nil {
			return fail(err)
		}
		var lines []string
		for _, rp := range params {
			if !role.Permits(r, rp.Path, role.ActionGet) {
				continue
			}
			value, gerr := m.reg.GetValue(rp.Path)
			if gerr != nil {
				lines = append(lines, fmt.Sprintf("%s => ERROR: %s", rp.Path, usperr.MessageOf(gerr)))
				continue
			}
			lines = append(lines, fmt.Sprintf("%s => %s", rp.Path, value))
		}
		return types.CliResponse{Lines: lines}

	case "set":
		if err := need(2); err != nil {
			return fail(err)
		}
		if !role.Permits(r, req.Args[0], role.ActionSet) {
			return fail(fmt.Errorf("role %s may not write %s", r, req.Args[0]))
		}
		txn, err := m.reg.Begin()
		if err != nil {
			return fail(err)
		}
		if serr := m.reg.SetValue(req.Args[0], req.Args[1]); serr != nil {
			txn.Abort()
			return fail(serr)
		}
		if cerr := txn.Commit(); cerr != nil {
			return fail(cerr)
		}
		m.agent.FlushMtpConfig()
		return types.CliResponse{Lines: []string{req.Args[0] + " => " + req.Args[1]}}

	case "add":
		if err := need(1); err != nil {
			return fail(err)
		}
		if !role.Permits(r, req.Args[0], role.ActionAdd) {
			return fail(fmt.Errorf("role %s may not create %s", r, req.Args[0]))
		}
		txn, err := m.reg.Begin()
		if err != nil {
			return fail(err)
		}
		inst, aerr := m.reg.AddInstance(req.Args[0])
		if aerr != nil {
			txn.Abort()
			return fail(aerr)
		}
		if cerr := txn.Commit(); cerr != nil {
			return fail(cerr)
		}
		m.agent.FlushMtpConfig()
		return types.CliResponse{Lines: []string{fmt.Sprintf("added instance %d", inst)}}

	case "del":
		if err := need(1); err != nil {
			return fail(err)
		}
		if !role.Permits(r, req.Args[0], role.ActionDelete) {
			return fail(fmt.Errorf("role %s may not delete %s", r, req.Args[0]))
		}
		txn, err := m.reg.Begin()
		if err != nil {
			return fail(err)
		}
		if derr := m.reg.DeleteInstance(req.Args[0]); derr != nil {
			txn.Abort()
			return fail(derr)
		}
		if cerr := txn.Commit(); cerr != nil {
			return fail(cerr)
		}
		m.agent.FlushMtpConfig()
		return types.CliResponse{Lines: []string{"deleted " + req.Args[0]}}

	case "instances":
		if err := need(1); err != nil {
			return fail(err)
		}
		nums, err := m.reg.Instances(req.Args[0])
		if err != nil {
			return fail(err)
		}
		var lines []string
		for _, n := range nums {
			lines = append(lines, strconv.Itoa(n))
		}
		return types.CliResponse{Lines: lines}

	case "dump":
		rows, err := m.store.GetByPrefix("")
		if err != nil {
			return fail(err)
		}
		keys := make([]string, 0, len(rows))
		for k := range rows {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var lines []string
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s\t%s", k, rows[k]))
		}
		return types.CliResponse{Lines: lines}

	case "dbget":
		if err := need(1); err != nil {
			return fail(err)
		}
		value, ok, err := m.store.Get(req.Args[0])
		if err != nil {
			return fail(err)
		}
		if !ok {
			return fail(fmt.Errorf("no such key %q", req.Args[0]))
		}
		return types.CliResponse{Lines: []string{value}}

	case "dbset":
		if err := need(2); err != nil {
			return fail(err)
		}
		if err := m.store.Commit([]database.Edit{{Key: req.Args[0], Value: req.Args[1]}}); err != nil {
			return fail(err)
		}
		return types.CliResponse{Lines: []string{"ok"}}

	case "ver":
		return types.CliResponse{Lines: []string{m.cfg.Identity.SoftwareVersion}}

	case "endpoint":
		return types.CliResponse{Lines: []string{m.agent.EndpointID()}}
	}
	return fail(fmt.Errorf("unknown command %q", req.Command))
}
