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

package role

import "testing"

func TestPermits(t *testing.T) {
	tests := []struct {
		name   string
		role   Role
		path   string
		action Action
		want   bool
	}{
		{name: "full access writes", role: FullAccess, path: "Device.LocalAgent.MTP.1.Enable", action: ActionSet, want: true},
		{name: "full access operates", role: FullAccess, path: "Device.Reboot()", action: ActionOperate, want: true},
		{name: "readonly reads", role: ReadOnly, path: "Device.STOMP.Connection.1.Host", action: ActionGet, want: true},
		{name: "readonly cannot write", role: ReadOnly, path: "Device.LocalAgent.MTP.1.Enable", action: ActionSet, want: false},
		{name: "readonly cannot delete", role: ReadOnly, path: "Device.LocalAgent.MTP.1", action: ActionDelete, want: false},
		{name: "untrusted reads deviceinfo", role: Untrusted, path: "Device.DeviceInfo.SerialNumber", action: ActionGet, want: true},
		{name: "untrusted cannot read credentials", role: Untrusted, path: "Device.STOMP.Connection.1.Password", action: ActionGet, want: false},
		{name: "untrusted cannot write", role: Untrusted, path: "Device.DeviceInfo.SerialNumber", action: ActionSet, want: false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Permits(test.role, test.path, test.action)
			if got != test.want {
				t.Errorf("Permits(%s, %s, %d) = %v, want %v", test.role, test.path, test.action, got, test.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{in: "FullAccess", want: FullAccess},
		{in: "ReadOnly", want: ReadOnly},
		{in: "Untrusted", want: Untrusted},
		{in: "bogus", want: Untrusted},
		{in: "", want: Untrusted},
	}
	for _, test := range tests {
		if got := Parse(test.in); got != test.want {
			t.Errorf("Parse(%q) = %s, want %s", test.in, got, test.want)
		}
	}
}
