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
	"strings"

	"github.com/h820614/usp-agent-stomp/pkg/datamodel/dmtype"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

// SupportedParam describes one parameter of the supported data model.
type SupportedParam struct {
	Name   string
	Access Access
	Type   dmtype.Type
}

// SupportedCommand describes one operation of the supported data model.
type SupportedCommand struct {
	Name       string
	Async      bool
	InputArgs  []string
	OutputArgs []string
}

// SupportedEvent describes one event of the supported data model.
type SupportedEvent struct {
	Name string
	Args []string
}

// SupportedObject describes one object of the supported data model, in the
// {i} template form.
type SupportedObject struct {
	Path          string
	MultiInstance bool
	AllowAdd      bool
	AllowDelete   bool
	Params        []SupportedParam
	Commands      []SupportedCommand
	Events        []SupportedEvent
}

// SupportedObjects reports the schema below a template path. With recursive
// false only the named object is returned, otherwise the whole subtree in
// depth first order.
func (r *Registry) SupportedObjects(template string, recursive bool) ([]SupportedObject, error) {
	clean := strings.TrimSuffix(template, ".")
	clean = strings.TrimSuffix(clean, ".{i}")
	node := r.nodes[clean]
	if node == nil {
		return nil, usperr.New(usperr.CodeInvalidPath, "path %q does not match the supported data model", template)
	}
	if node.Kind == KindParam || node.Kind == KindOperation || node.Kind == KindEvent {
		return nil, usperr.New(usperr.CodeInvalidPath, "%q is not an object", template)
	}
	var out []SupportedObject
	r.collectSupported(node, recursive, &out)
	return out, nil
}

func (r *Registry) collectSupported(node *Node, recursive bool, out *[]SupportedObject) {
	obj := SupportedObject{
		Path:          supportedPathOf(node),
		MultiInstance: node.IsTable(),
	}
	if node.Object != nil {
		obj.AllowAdd = node.Object.AllowAdd
		obj.AllowDelete = node.Object.AllowDelete
	}

	names := make([]string, 0, len(node.Children))
	for name := range node.Children {
		names = append(names, name)
	}
	sort.Strings(names)

	var childObjects []*Node
	for _, name := range names {
		child := node.Children[name]
		switch child.Kind {
		case KindParam:
			obj.Params = append(obj.Params, SupportedParam{
				Name:   name,
				Access: child.Param.Access,
				Type:   child.Param.Type,
			})
		case KindOperation:
			obj.Commands = append(obj.Commands, SupportedCommand{
				Name:       name,
				Async:      child.Oper.Async,
				InputArgs:  append([]string(nil), child.Oper.InputArgs...),
				OutputArgs: append([]string(nil), child.Oper.OutputArgs...),
			})
		case KindEvent:
			obj.Events = append(obj.Events, SupportedEvent{
				Name: name,
				Args: append([]string(nil), child.Event.Args...),
			})
		default:
			childObjects = append(childObjects, child)
		}
	}
	*out = append(*out, obj)

	if recursive {
		for _, child := range childObjects {
			r.collectSupported(child, true, out)
		}
	}
}

// supportedPathOf renders a node template in the Device.X.{i}.Y. form used
// by GetSupportedDM responses.
func supportedPathOf(node *Node) string {
	var parts []string
	for n := node; n != nil && n.Parent != nil; n = n.Parent {
		if n.IsTable() {
			parts = append(parts, "{i}")
		}
		parts = append(parts, n.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".") + "."
}
