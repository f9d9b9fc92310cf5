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

package dmtype

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		in      string
		want    string
		wantErr bool
	}{
		{name: "string passthrough", typ: String, in: "hello world", want: "hello world"},
		{name: "int ok", typ: Int, in: " -42 ", want: "-42"},
		{name: "int bad", typ: Int, in: "4.2", wantErr: true},
		{name: "uint ok", typ: Uint, in: "007", want: "7"},
		{name: "uint negative", typ: Uint, in: "-1", wantErr: true},
		{name: "bool true", typ: Bool, in: "1", want: "true"},
		{name: "bool false", typ: Bool, in: "False", want: "false"},
		{name: "bool bad", typ: Bool, in: "notabool", wantErr: true},
		{name: "datetime ok", typ: DateTime, in: "2019-06-01T12:00:00Z", want: "2019-06-01T12:00:00Z"},
		{name: "datetime empty is unknown", typ: DateTime, in: "", want: UnknownTime},
		{name: "datetime bad", typ: DateTime, in: "yesterday", wantErr: true},
		{name: "base64 ok", typ: Base64, in: "aGVsbG8=", want: "aGVsbG8="},
		{name: "base64 bad", typ: Base64, in: "!!!", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.typ.Normalize(test.in)
			if test.wantErr {
				if err == nil {
					t.Errorf("Normalize(%q) expected error, got %q", test.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) failed: %v", test.in, err)
			}
			if got != test.want {
				t.Errorf("Normalize(%q) = %q, want %q", test.in, got, test.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		a, b string
		want int
	}{
		{name: "int numeric not lexical", typ: Int, a: "9", b: "100", want: -1},
		{name: "uint equal", typ: Uint, a: "0100", b: "0100", want: 0},
		{name: "bool false before true", typ: Bool, a: "false", b: "true", want: -1},
		{name: "string lexical", typ: String, a: "abc", b: "abd", want: -1},
		{name: "unparseable ints fall back to strings", typ: Int, a: "x", b: "x", want: 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := test.typ.Compare(test.a, test.b)
			if got != test.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
			}
		})
	}
}
