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
	"sort"
	"strconv"
	"strings"

	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

// ResolvedPath is one concrete path produced by expression resolution.
type ResolvedPath struct {
	Path string
	Node *Node
	// Instances holds the instance numbers along Path, outermost first.
	Instances []int
}

// Resolve expands a possibly wildcarded path expression against the current
// instance set. Supported forms: `*` expands one instance segment, `[...]`
// filters instances on sibling parameters, a trailing `#` on a segment
// follows the reference parameter it names. Output is ordered by instance
// number unless sorting is disabled.
func (r *Registry) Resolve(expr string) ([]ResolvedPath, error) {
	segs, err := splitExpr(expr)
	if err != nil {
		return nil, err
	}
	var out []ResolvedPath
	if err := r.resolveSegs(r.root, "", nil, segs, &out); err != nil {
		return nil, err
	}
	if !r.DisableSort {
		sort.SliceStable(out, func(i, j int) bool {
			return lessInstances(out[i].Instances, out[j].Instances)
		})
	}
	return out, nil
}

func lessInstances(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// splitExpr splits an expression on dots, keeping bracketed filters intact.
func splitExpr(expr string) ([]string, error) {
	if len(expr) > MaxPathLen {
		return nil, usperr.New(usperr.CodeInvalidPathSyntax, "expression exceeds %d characters", MaxPathLen)
	}
	expr = strings.TrimSuffix(expr, ".")
	if expr == "" {
		return nil, usperr.New(usperr.CodeInvalidPathSyntax, "empty expression")
	}
	var segs []string
	var cur strings.Builder
	depth := 0
	inQuote := false
	for _, c := range expr {
		switch {
		case inQuote:
			if c == '"' {
				inQuote = false
			}
			cur.WriteRune(c)
		case c == '"':
			inQuote = true
			cur.WriteRune(c)
		case c == '[':
			depth++
			cur.WriteRune(c)
		case c == ']':
			depth--
			if depth < 0 {
				return nil, usperr.New(usperr.CodeInvalidPathSyntax, "unbalanced ] in %q", expr)
			}
			cur.WriteRune(c)
		case c == '.' && depth == 0:
			if cur.Len() == 0 {
				return nil, usperr.New(usperr.CodeInvalidPathSyntax, "empty segment in %q", expr)
			}
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	if depth != 0 || inQuote {
		return nil, usperr.New(usperr.CodeInvalidPathSyntax, "unterminated filter in %q", expr)
	}
	if cur.Len() > 0 {
		segs = append(segs, cur.String())
	}
	return segs, nil
}

// resolveSegs walks the remaining expression segments from node with the
// concrete prefix built so far.
func (r *Registry) resolveSegs(node *Node, prefix string, instances []int, segs []string, out *[]ResolvedPath) error {
	if len(segs) == 0 {
		inst := make([]int, len(instances))
		copy(inst, instances)
		*out = append(*out, ResolvedPath{Path: prefix, Node: node, Instances: inst})
		return nil
	}
	seg := segs[0]
	rest := segs[1:]

	// instance selectors apply at table nodes that still miss an instance
	atTable := node.IsTable() && len(instances) < node.Order

	switch {
	case seg == "*" || strings.HasPrefix(seg, "["):
		if !atTable {
			return usperr.New(usperr.CodeInvalidPath, "instance selector %q not under a table", seg)
		}
		nums, err := r.insts.liveInstances(node, prefix)
		if err != nil {
			return err
		}
		if strings.HasPrefix(seg, "[") {
			filtered, ferr := r.filterInstances(node, prefix, nums, seg)
			if ferr != nil {
				return ferr
			}
			nums = filtered
		}
		for _, n := range nums {
			if err := r.resolveSegs(node, prefix+"."+strconv.Itoa(n), append(instances, n), rest, out); err != nil {
				return err
			}
		}
		return nil

	case isNumeric(seg):
		if !atTable {
			return usperr.New(usperr.CodeInvalidPath, "unexpected instance number in expression at %q", prefix)
		}
		n, _ := strconv.Atoi(seg)
		ok, err := r.insts.exists(node, prefix, n)
		if err != nil {
			return err
		}
		if !ok {
			return usperr.New(usperr.CodeObjectNotFound, "object %s.%d does not exist", prefix, n)
		}
		return r.resolveSegs(node, prefix+"."+seg, append(instances, n), rest, out)

	case strings.HasSuffix(seg, "#"):
		return r.followReference(node, prefix, instances, seg, rest, out)
	}

	if atTable {
		return usperr.New(usperr.CodeInvalidPath, "missing instance selector after %q", prefix)
	}
	child := node.child(seg)
	if child == nil {
		return usperr.New(usperr.CodeInvalidPath, "path segment %q not in supported data model under %q", seg, prefix)
	}
	next := seg
	if prefix != "" {
		next = prefix + "." + seg
	}
	return r.resolveSegs(child, next, instances, rest, out)
}

// followReference reads the reference parameter named by seg (sans '#') and
// continues resolution from its target object.
func (r *Registry) followReference(node *Node, prefix string, instances []int, seg string, rest []string, out *[]ResolvedPath) error {
	name := strings.TrimSuffix(seg, "#")
	child := node.child(name)
	if child == nil || child.Kind != KindParam {
		return usperr.New(usperr.CodeInvalidPath, "%q is not a reference parameter under %q", name, prefix)
	}
	refPath := name
	if prefix != "" {
		refPath = prefix + "." + name
	}
	target, err := r.GetValue(refPath)
	if err != nil {
		return err
	}
	if target == "" {
		return usperr.New(usperr.CodeObjectNotFound, "reference %s is empty", refPath)
	}
	tnode, tinst, lerr := r.lookup(target)
	if lerr != nil {
		return usperr.New(usperr.CodeObjectNotFound, "reference %s points at unknown path %q", refPath, target)
	}
	tprefix := strings.TrimSuffix(target, ".")
	if tnode.IsTable() && len(tinst) == tnode.Order {
		live, eerr := r.InstanceExists(tprefix)
		if eerr != nil {
			return eerr
		}
		if !live {
			return usperr.New(usperr.CodeObjectNotFound, "reference %s target %q does not exist", refPath, target)
		}
	}
	return r.resolveSegs(tnode, tprefix, tinst, rest, out)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ExpandParams flattens resolved paths into the concrete parameter paths
// below them, honoring live instances. A resolved parameter passes through
// unchanged.
func (r *Registry) ExpandParams(resolved []ResolvedPath) ([]ResolvedPath, error) {
	var out []ResolvedPath
	for _, rp := range resolved {
		if err := r.expandParamsAt(rp.Node, rp.Path, rp.Instances, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Registry) expandParamsAt(node *Node, prefix string, instances []int, out *[]ResolvedPath) error {
	switch node.Kind {
	case KindParam:
		inst := make([]int, len(instances))
		copy(inst, instances)
		*out = append(*out, ResolvedPath{Path: prefix, Node: node, Instances: inst})
		return nil
	case KindOperation, KindEvent:
		return nil
	}
	if node.IsTable() && len(instances) < node.Order {
		nums, err := r.insts.liveInstances(node, prefix)
		if err != nil {
			return err
		}
		for _, n := range nums {
			if err := r.expandParamsAt(node, prefix+"."+strconv.Itoa(n), append(instances, n), out); err != nil {
				return err
			}
		}
		return nil
	}
	names := make([]string, 0, len(node.Children))
	for name := range node.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := node.Children[name]
		next := name
		if prefix != "" {
			next = prefix + "." + name
		}
		if err := r.expandParamsAt(child, next, instances, out); err != nil {
			return err
		}
	}
	return nil
}
