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

	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

// metaKeyPrefix is the reserved database namespace for registry bookkeeping.
// Keys under it never appear in the data model.
const (
	metaKeyPrefix     = "__meta."
	nextInstKeyPrefix = metaKeyPrefix + "nextinst."
)

// Registry is the schema tree plus its live instance state. All
// registrations happen single threaded before Seal; afterwards the tree is
// immutable and only values and instances change.
type Registry struct {
	store database.Store

	root  *Node
	nodes map[string]*Node

	sealed    bool
	insts     *instanceCache
	txn       *Transaction
	observers []CommitObserver

	// DisableSort turns off numeric ordering of resolver output.
	DisableSort bool
}

// AddCommitObserver registers an observer fired after every commit.
func (r *Registry) AddCommitObserver(o CommitObserver) {
	r.observers = append(r.observers, o)
}

// NewRegistry returns an empty registry over the given store.
func NewRegistry(store database.Store) *Registry {
	root := &Node{Kind: KindObject, Name: "", Template: "", Children: map[string]*Node{}}
	r := &Registry{
		store: store,
		root:  root,
		nodes: map[string]*Node{"": root},
	}
	r.insts = newInstanceCache(r)
	return r
}

// Store exposes the underlying KV store to collaborators that persist
// non-parameter state (the CLI dump, the request table).
func (r *Registry) Store() database.Store {
	return r.store
}

// Seal freezes the schema. Registrations after Seal are programming errors
// and fatal.
func (r *Registry) Seal() {
	r.sealed = true
}

func (r *Registry) mustMutableSchema(template string) {
	if r.sealed {
		klog.Fatalf("registration of %s after registry was sealed", template)
	}
}

// splitPath splits a dotted path, tolerating one trailing dot, and enforces
// the path limits.
func splitPath(path string) ([]string, error) {
	if len(path) > MaxPathLen {
		return nil, usperr.New(usperr.CodeInvalidPathSyntax, "path exceeds %d characters", MaxPathLen)
	}
	path = strings.TrimSuffix(path, ".")
	if path == "" {
		return nil, usperr.New(usperr.CodeInvalidPathSyntax, "empty path")
	}
	segs := strings.Split(path, ".")
	named := 0
	for _, s := range segs {
		if s == "" {
			return nil, usperr.New(usperr.CodeInvalidPathSyntax, "empty segment in path %q", path)
		}
		if _, err := strconv.Atoi(s); err != nil {
			named++
		}
	}
	if named > MaxPathSegments {
		return nil, usperr.New(usperr.CodeInvalidPathSyntax, "path %q exceeds %d segments", path, MaxPathSegments)
	}
	return segs, nil
}

// registerNode walks/creates the template path and returns the final node.
// "{i}" segments turn their preceding node into a table.
func (r *Registry) registerNode(template string, kind NodeKind) *Node {
	r.mustMutableSchema(template)

	clean := strings.TrimSuffix(template, ".")
	segs := strings.Split(clean, ".")
	node := r.root
	order := 0
	var prefix []string

	for i, seg := range segs {
		if seg == "{i}" {
			if node == r.root {
				klog.Fatalf("template %s starts with an instance placeholder", template)
			}
			if node.Kind == KindParam || node.Kind == KindOperation || node.Kind == KindEvent {
				klog.Fatalf("template %s places {i} under a leaf", template)
			}
			node.Kind = KindTable
			order++
			node.Order = order
			if order > MaxInstanceOrder {
				klog.Fatalf("template %s exceeds instance order %d", template, MaxInstanceOrder)
			}
			prefix = append(prefix, seg)
			continue
		}
		child := node.child(seg)
		if child == nil {
			prefix = append(prefix, seg)
			child = &Node{
				Kind:     KindObject,
				Name:     seg,
				Template: strings.Join(prefix, "."),
				Parent:   node,
				Children: map[string]*Node{},
				Order:    order,
			}
			node.Children[seg] = child
			r.nodes[child.Template] = child
		} else {
			prefix = append(prefix, seg)
		}
		node = child
		if i == len(segs)-1 {
			if kind != KindObject && kind != KindTable {
				node.Kind = kind
			}
		}
	}
	return node
}

// RegisterObject registers a branch. Templates ending in ".{i}" declare a
// multi instance table and implicitly register the NumberOfEntries sibling
// parameter. Registering the same path twice is fatal.
func (r *Registry) RegisterObject(template string, opts ObjectOpts) {
	node := r.registerNode(template, KindObject)
	if node.Object != nil {
		klog.Fatalf("duplicate object registration for %s", template)
	}
	o := opts
	node.Object = &o

	if node.IsTable() {
		// Device.X.{i} gains a Device.XNumberOfEntries sibling. The sibling
		// template is derived from the registration template so nested
		// tables keep their outer {i} placeholders.
		clean := strings.TrimSuffix(strings.TrimSuffix(template, "."), ".{i}")
		tmpl := clean + "NumberOfEntries"
		table := node
		tableName := node.Name
		r.RegisterParameter(tmpl, ParamOpts{
			Storage: StorageVendor,
			Getter: func(req Request) (string, error) {
				tablePath := tableName
				if parent := parentPathOf(req.Path); parent != "" {
					tablePath = parent + "." + tableName
				}
				nums, err := r.insts.liveInstances(table, tablePath)
				if err != nil {
					return "", err
				}
				return strconv.Itoa(len(nums)), nil
			},
		})
	}
}

// RegisterParameter registers a leaf parameter. Duplicate paths are fatal.
func (r *Registry) RegisterParameter(template string, opts ParamOpts) {
	node := r.registerNode(template, KindParam)
	if node.Param != nil || len(node.Children) != 0 {
		klog.Fatalf("duplicate or conflicting parameter registration for %s", template)
	}
	if opts.Storage == StorageVendor && opts.Getter == nil {
		klog.Fatalf("vendor parameter %s registered without getter", template)
	}
	p := opts
	node.Param = &p
}

// RegisterOperation registers an invocable command, e.g.
// Device.LocalAgent.Controller.{i}.SendOnBoardRequest().
func (r *Registry) RegisterOperation(template string, opts OperOpts) {
	node := r.registerNode(template, KindOperation)
	if node.Oper != nil {
		klog.Fatalf("duplicate operation registration for %s", template)
	}
	if opts.Handler == nil {
		klog.Fatalf("operation %s registered without handler", template)
	}
	o := opts
	node.Oper = &o
}

// RegisterEvent registers a notifiable event, e.g. Device.Boot!.
func (r *Registry) RegisterEvent(template string, opts EventOpts) {
	node := r.registerNode(template, KindEvent)
	if node.Event != nil {
		klog.Fatalf("duplicate event registration for %s", template)
	}
	e := opts
	node.Event = &e
}

// lookup resolves a concrete path to its schema node and instance numbers.
// Schema mismatches return CodeInvalidPath; missing instances are not
// checked here.
func (r *Registry) lookup(path string) (*Node, []int, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, nil, err
	}
	node := r.root
	var instances []int
	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		if n, nerr := strconv.Atoi(seg); nerr == nil {
			if !node.IsTable() || len(instances) >= node.Order {
				return nil, nil, usperr.New(usperr.CodeInvalidPath, "unexpected instance number in %q", path)
			}
			if n <= 0 {
				return nil, nil, usperr.New(usperr.CodeInvalidPath, "instance numbers are positive, got %d in %q", n, path)
			}
			instances = append(instances, n)
			continue
		}
		child := node.child(seg)
		if child == nil {
			return nil, nil, usperr.New(usperr.CodeInvalidPath, "path %q does not match the supported data model", path)
		}
		if child.IsTable() && len(instances) < child.Order-1 {
			return nil, nil, usperr.New(usperr.CodeInvalidPath, "missing instance number before %q in %q", seg, path)
		}
		node = child
	}
	if node.IsTable() && len(instances) == node.Order {
		// fully instantiated table row, fine
	} else if len(instances) != node.Order && !(node.IsTable() && len(instances) == node.Order-1) {
		return nil, nil, usperr.New(usperr.CodeInvalidPath, "wrong number of instance numbers in %q", path)
	}
	return node, instances, nil
}

// LookupTemplate returns the node for a schema template path, nil if absent.
func (r *Registry) LookupTemplate(template string) *Node {
	return r.nodes[strings.TrimSuffix(template, ".")]
}

// concretePath rebuilds the concrete path of node with the given instances.
func concretePath(node *Node, instances []int) string {
	var parts []string
	used := len(instances)
	for n := node; n != nil && n.Parent != nil; n = n.Parent {
		if n.IsTable() && used == n.Order && used > 0 {
			// instance number trails this table segment
			parts = append(parts, strconv.Itoa(instances[used-1]))
			used--
			parts = append(parts, n.Name)
			continue
		}
		parts = append(parts, n.Name)
	}
	// reverse
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// parentPathOf strips the last segment of a concrete path.
func parentPathOf(path string) string {
	idx := strings.LastIndex(strings.TrimSuffix(path, "."), ".")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
