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

package uspproto

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Append helpers follow proto3 semantics: zero values are omitted.

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFixed32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, v)
}

// appendMessage emits a length delimited submessage, including empty ones:
// presence of a submessage is meaningful in the USP oneofs.
func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// appendStringMap emits map<string,string> entries in sorted key order so
// encoding is deterministic.
func appendStringMap(b []byte, num protowire.Number, m map[string]string) []byte {
	if len(m) == 0 {
		return b
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = appendString(entry, 2, m[k])
		b = appendMessage(b, num, entry)
	}
	return b
}

// field is one decoded wire field.
type field struct {
	num  protowire.Number
	typ  protowire.Type
	str  []byte // BytesType payload
	uval uint64 // VarintType payload
	u32  uint32 // Fixed32Type payload
}

// walkFields iterates the fields of a wire encoded message.
func walkFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("bad tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("bad varint in field %d", num)
			}
			f.uval = v
			b = b[m:]
		case protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return fmt.Errorf("bad fixed32 in field %d", num)
			}
			f.u32 = v
			b = b[m:]
		case protowire.Fixed64Type:
			_, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return fmt.Errorf("bad fixed64 in field %d", num)
			}
			b = b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("bad bytes in field %d", num)
			}
			f.str = v
			b = b[m:]
		default:
			return fmt.Errorf("unsupported wire type %d in field %d", typ, num)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// decodeStringMap decodes one map<string,string> entry.
func decodeStringMap(entry []byte, m map[string]string) error {
	var key, value string
	err := walkFields(entry, func(f field) error {
		switch f.num {
		case 1:
			key = string(f.str)
		case 2:
			value = string(f.str)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m[key] = value
	return nil
}
