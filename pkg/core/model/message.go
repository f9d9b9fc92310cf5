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

package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is the envelope exchanged between agent modules over the channel
// context. Content carries one of the command structs from pkg/common/types;
// ownership of Content moves to the receiver.
type Message struct {
	Header  MessageHeader `json:"header"`
	Router  MessageRoute  `json:"route,omitempty"`
	Content interface{}   `json:"content"`
}

// MessageRoute describes where a message comes from and goes to.
type MessageRoute struct {
	// where the message come from
	Source string `json:"source,omitempty"`
	// where the message will send to
	Destination string `json:"destination,omitempty"`
	// what's the operation on resource
	Operation string `json:"operation,omitempty"`
	// what's the resource want to operate
	Resource string `json:"resource,omitempty"`
}

// MessageHeader defines message header details
type MessageHeader struct {
	// the message uuid
	ID string `json:"msg_id"`
	// the response message parentid must be same with message received
	// please use NewRespByMessage to new response message
	ParentID string `json:"parent_msg_id,omitempty"`
	// the time of creating
	Timestamp int64 `json:"timestamp"`
	// the flag will be set in sendsync
	Sync bool `json:"sync,omitempty"`
}

// BuildRouter sets route and resource operation in message
func (msg *Message) BuildRouter(source, dest, res, opr string) *Message {
	msg.Router.Source = source
	msg.Router.Destination = dest
	msg.Router.Resource = res
	msg.Router.Operation = opr
	return msg
}

// FillBody fills the message content
func (msg *Message) FillBody(content interface{}) *Message {
	msg.Content = content
	return msg
}

// IsSync : msg.Header.Sync will be set in sendsync
func (msg *Message) IsSync() bool {
	return msg.Header.Sync
}

// GetID returns message ID
func (msg *Message) GetID() string {
	return msg.Header.ID
}

// GetParentID returns message parent id
func (msg *Message) GetParentID() string {
	return msg.Header.ParentID
}

// GetSource returns message route source string
func (msg *Message) GetSource() string {
	return msg.Router.Source
}

// GetOperation returns message route operation string
func (msg *Message) GetOperation() string {
	return msg.Router.Operation
}

// GetResource returns message route resource
func (msg *Message) GetResource() string {
	return msg.Router.Resource
}

// NewMessage creates a message with a fresh id. parentID may be empty for
// original messages.
func NewMessage(parentID string) *Message {
	msg := &Message{}
	msg.Header.ID = uuid.New().String()
	msg.Header.ParentID = parentID
	msg.Header.Timestamp = time.Now().UnixNano() / 1e6
	return msg
}

// NewRespByMessage returns a response message by a message received
func NewRespByMessage(message *Message, content interface{}) *Message {
	return NewMessage(message.GetID()).BuildRouter(message.Router.Destination, message.Router.Source,
		message.GetResource(), "response").FillBody(content)
}
