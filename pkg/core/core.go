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

// Package core starts the registered agent modules and supervises their
// shutdown.
package core

import (
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	coreContext "github.com/h820614/usp-agent-stomp/pkg/core/context"
)

// StartModules creates the channel context and launches every registered
// module on its own goroutine.
func StartModules() {
	coreContext.InitContext()

	for name, module := range GetModules() {
		coreContext.AddModule(name)
		go module.Start()
		klog.Infof("starting module %s", name)
	}
}

// GracefulShutdown waits for a termination signal, then cancels the context
// and tears each module's mailbox down.
func GracefulShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-c
	klog.Infof("got os signal %v", s.String())

	coreContext.Cancel()
	for name := range GetModules() {
		klog.Infof("cleanup module %v", name)
		coreContext.Cleanup(name)
	}
}

// Run starts the modules and blocks until shutdown completes.
func Run() {
	StartModules()
	GracefulShutdown()
}
