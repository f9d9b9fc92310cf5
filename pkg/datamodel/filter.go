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
	"strings"

	"github.com/h820614/usp-agent-stomp/pkg/datamodel/dmtype"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

type filterOp int

const (
	opEq filterOp = iota
	opNe
	opLt
	opLe
	opGt
	opGe
)

type filterCond struct {
	param string
	op    filterOp
	value string
}

// filterInstances keeps the instances for which the bracketed filter
// expression evaluates true. Conditions run in left-to-right short-circuit
// order; reading a missing sibling parameter fails resolution.
func (r *Registry) filterInstances(table *Node, tablePath string, nums []int, seg string) ([]int, error) {
	body := strings.TrimSuffix(strings.TrimPrefix(seg, "["), "]")
	// a leading '+' requests ordered output, which is the default ordering
	// of the resolver anyway
	body = strings.TrimPrefix(strings.TrimSpace(body), "+")

	conds, err := parseFilter(body)
	if err != nil {
		return nil, err
	}

	var kept []int
	for _, n := range nums {
		instPath := tablePath + "." + strconv.Itoa(n)
		match := true
		for _, c := range conds {
			ok, cerr := r.evalCond(table, instPath, c)
			if cerr != nil {
				return nil, cerr
			}
			if !ok {
				match = false
				break
			}
		}
		if match {
			kept = append(kept, n)
		}
	}
	return kept, nil
}

func parseFilter(body string) ([]filterCond, error) {
	if strings.TrimSpace(body) == "" {
		return nil, usperr.New(usperr.CodeInvalidPathSyntax, "empty filter expression")
	}
	parts := splitOutsideQuotes(body, "&&")
	conds := make([]filterCond, 0, len(parts))
	for _, part := range parts {
		cond, err := parseCond(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func splitOutsideQuotes(s, sep string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			inQuote = !inQuote
		}
		if !inQuote && strings.HasPrefix(s[i:], sep) {
			parts = append(parts, cur.String())
			cur.Reset()
			i += len(sep) - 1
			continue
		}
		cur.WriteByte(c)
	}
	parts = append(parts, cur.String())
	return parts
}

var filterOps = []struct {
	token string
	op    filterOp
}{
	{"==", opEq}, {"!=", opNe}, {"<=", opLe}, {">=", opGe}, {"<", opLt}, {">", opGt},
}

func parseCond(s string) (filterCond, error) {
	for _, cand := range filterOps {
		idx := indexOutsideQuotes(s, cand.token)
		if idx < 0 {
			continue
		}
		param := strings.TrimSpace(s[:idx])
		value := strings.TrimSpace(s[idx+len(cand.token):])
		if param == "" || value == "" {
			return filterCond{}, usperr.New(usperr.CodeInvalidPathSyntax, "malformed filter condition %q", s)
		}
		value = strings.TrimPrefix(value, "\"")
		value = strings.TrimSuffix(value, "\"")
		return filterCond{param: param, op: cand.op, value: value}, nil
	}
	return filterCond{}, usperr.New(usperr.CodeInvalidPathSyntax, "no comparison operator in filter condition %q", s)
}

func indexOutsideQuotes(s, token string) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			inQuote = !inQuote
		}
		if !inQuote && strings.HasPrefix(s[i:], token) {
			return i
		}
	}
	return -1
}

// evalCond reads the sibling parameter of one instance and compares.
func (r *Registry) evalCond(table *Node, instPath string, c filterCond) (bool, error) {
	current, err := r.GetValue(instPath + "." + c.param)
	if err != nil {
		return false, err
	}

	// compare with the parameter's registered type when known
	cmpType := tableParamType(table, c.param)
	want, nerr := cmpType.Normalize(c.value)
	if nerr != nil {
		// literal does not fit the parameter type, compare as plain strings
		want = c.value
	}
	cmp := cmpType.Compare(current, want)
	return compareResult(cmp, c.op)
}

func compareResult(cmp int, op filterOp) (bool, error) {
	switch op {
	case opEq:
		return cmp == 0, nil
	case opNe:
		return cmp != 0, nil
	case opLt:
		return cmp < 0, nil
	case opLe:
		return cmp <= 0, nil
	case opGt:
		return cmp > 0, nil
	case opGe:
		return cmp >= 0, nil
	}
	return false, usperr.New(usperr.CodeInternalError, "unknown filter operator")
}

// tableParamType returns the registered type of a sibling parameter,
// defaulting to string for unknown or nested paths.
func tableParamType(table *Node, relPath string) dmtype.Type {
	node := table
	for _, seg := range strings.Split(relPath, ".") {
		if node == nil {
			return dmtype.String
		}
		node = node.child(seg)
	}
	if node == nil || node.Kind != KindParam {
		return dmtype.String
	}
	return node.Param.Type
}
