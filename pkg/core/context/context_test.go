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

package context

import (
	"testing"
	"time"

	"github.com/h820614/usp-agent-stomp/pkg/core/model"
)

func TestSendReceive(t *testing.T) {
	InitContext()
	AddModule("receiver")
	defer Cleanup("receiver")

	msg := model.NewMessage("").BuildRouter("sender", "receiver", "thing", "do")
	msg.FillBody("payload")
	Send("receiver", *msg)

	got, err := Receive("receiver")
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if got.GetID() != msg.GetID() {
		t.Errorf("received id %s, want %s", got.GetID(), msg.GetID())
	}
	if got.Content != "payload" {
		t.Errorf("received content %v", got.Content)
	}
}

func TestSendSyncRoundTrip(t *testing.T) {
	InitContext()
	AddModule("worker")
	defer Cleanup("worker")

	go func() {
		req, err := Receive("worker")
		if err != nil {
			return
		}
		resp := model.NewRespByMessage(&req, "done")
		SendResp(*resp)
	}()

	req := model.NewMessage("").BuildRouter("caller", "worker", "job", "run")
	resp, err := SendSync("worker", *req, 2*time.Second)
	if err != nil {
		t.Fatalf("sendsync failed: %v", err)
	}
	if resp.Content != "done" {
		t.Errorf("response content %v, want done", resp.Content)
	}
	if resp.GetParentID() != req.GetID() {
		t.Errorf("response parent %s, want %s", resp.GetParentID(), req.GetID())
	}
}

func TestSendSyncTimeout(t *testing.T) {
	InitContext()
	AddModule("silent")
	defer Cleanup("silent")

	req := model.NewMessage("").BuildRouter("caller", "silent", "job", "run")
	_, err := SendSync("silent", *req, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSendToUnknownModuleDoesNotPanic(t *testing.T) {
	InitContext()
	Send("nobody", *model.NewMessage(""))
}
