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

// Package context provides the channel message context connecting agent
// modules. Each module owns one bounded mailbox; Send moves a message (and
// ownership of its content) into the receiver's mailbox.
package context

import (
	gocontext "context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/core/model"
)

// constants for channel context
const (
	ChannelSizeDefault    = 1024
	MessageTimeoutDefault = 30 * time.Second
)

// Context is the global channel context object.
type Context struct {
	channels     map[string]chan model.Message
	chsLock      sync.RWMutex
	anonChannels map[string]chan model.Message
	anonChsLock  sync.RWMutex

	ctx    gocontext.Context
	cancel gocontext.CancelFunc
}

var (
	context *Context
	once    sync.Once
)

// InitContext creates the singleton channel context. It must run before any
// module is added.
func InitContext() {
	once.Do(func() {
		ctx, cancel := gocontext.WithCancel(gocontext.Background())
		context = &Context{
			channels:     make(map[string]chan model.Message),
			anonChannels: make(map[string]chan model.Message),
			ctx:          ctx,
			cancel:       cancel,
		}
	})
}

// Done returns a channel closed on shutdown.
func Done() <-chan struct{} {
	return context.ctx.Done()
}

// Cancel signals all modules to stop.
func Cancel() {
	context.cancel()
}

// AddModule creates the mailbox for a module.
func AddModule(module string) {
	context.chsLock.Lock()
	defer context.chsLock.Unlock()
	if _, ok := context.channels[module]; ok {
		klog.Fatalf("channel for module %s already exists", module)
	}
	context.channels[module] = make(chan model.Message, ChannelSizeDefault)
}

// Cleanup removes and closes the mailbox of a module.
func Cleanup(module string) {
	context.chsLock.Lock()
	channel := context.channels[module]
	delete(context.channels, module)
	context.chsLock.Unlock()
	if channel != nil {
		// let in-flight sends settle before the close
		time.Sleep(20 * time.Millisecond)
		close(channel)
	}
}

func getChannel(module string) chan model.Message {
	context.chsLock.RLock()
	defer context.chsLock.RUnlock()
	return context.channels[module]
}

// Send sends msg to a module's mailbox. Blocks while the mailbox is full.
func Send(module string, message model.Message) {
	defer func() {
		if exception := recover(); exception != nil {
			klog.Warningf("recover when send message, exception: %+v", exception)
		}
	}()

	if channel := getChannel(module); channel != nil {
		channel <- message
		return
	}
	klog.Warningf("get bad module name %s when send message, do nothing", module)
}

// Receive returns the next message for module, or an error once the context
// is shut down and the mailbox drained.
func Receive(module string) (model.Message, error) {
	channel := getChannel(module)
	if channel == nil {
		return model.Message{}, fmt.Errorf("failed to get channel for module(%s)", module)
	}
	content, ok := <-channel
	if !ok {
		return model.Message{}, fmt.Errorf("channel of module(%s) closed", module)
	}
	return content, nil
}

// SendSync sends a message and waits for its response or the timeout.
func SendSync(module string, message model.Message, timeout time.Duration) (model.Message, error) {
	defer func() {
		if exception := recover(); exception != nil {
			klog.Warningf("recover when sendsync message, exception: %+v", exception)
		}
	}()

	if timeout <= 0 {
		timeout = MessageTimeoutDefault
	}
	deadline := time.Now().Add(timeout)

	message.Header.Sync = true

	reqChannel := getChannel(module)
	if reqChannel == nil {
		return model.Message{}, fmt.Errorf("bad request module name(%s)", module)
	}

	anonChan := make(chan model.Message)
	anonName := message.GetID()
	context.anonChsLock.Lock()
	context.anonChannels[anonName] = anonChan
	context.anonChsLock.Unlock()
	defer func() {
		context.anonChsLock.Lock()
		delete(context.anonChannels, anonName)
		close(anonChan)
		context.anonChsLock.Unlock()
	}()

	select {
	case reqChannel <- message:
	case <-time.After(timeout):
		return model.Message{}, fmt.Errorf("timeout to send message %s", message.GetID())
	}

	var resp model.Message
	select {
	case resp = <-anonChan:
	case <-time.After(time.Until(deadline)):
		return model.Message{}, fmt.Errorf("timeout to get response for message %s", message.GetID())
	}

	return resp, nil
}

// SendResp delivers the response for a message sent with SendSync.
func SendResp(message model.Message) {
	context.anonChsLock.RLock()
	channel, ok := context.anonChannels[message.GetParentID()]
	context.anonChsLock.RUnlock()
	if !ok {
		klog.Warningf("get bad anon channel, message id %s, parent id %s", message.GetID(), message.GetParentID())
		return
	}
	channel <- message
}
