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

package core

import (
	"k8s.io/klog/v2"
)

// Module is a long lived agent activity with a private loop. Start blocks
// until shutdown; it is run on its own goroutine by StartModules.
type Module interface {
	Name() string
	Group() string
	Start()
	Enable() bool
}

var modules map[string]Module

func init() {
	modules = make(map[string]Module)
}

// Register adds a module to the set started by Run. Disabled modules are
// not added; Register only logs a warning for them.
func Register(m Module) {
	if m.Enable() {
		modules[m.Name()] = m
		klog.Infof("module %s registered successfully", m.Name())
	} else {
		klog.Warningf("module %v is disabled, do not register", m.Name())
	}
}

// GetModules returns the enabled module set.
func GetModules() map[string]Module {
	return modules
}
