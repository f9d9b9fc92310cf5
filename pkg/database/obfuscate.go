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

package database

import "encoding/hex"

// Secure parameter values are never stored in clear text. They are XORed
// against a fixed key and hex encoded before they reach the database; this
// guards against casual reads of the db file, not a determined attacker.
var obfuscationKey = []byte{
	0x59, 0x2b, 0x9c, 0x41, 0xde, 0x17, 0x62, 0xa8,
	0x33, 0xf0, 0x4d, 0x85, 0x6e, 0xc1, 0x7a, 0x0b,
}

// Obfuscate converts a clear text secure value to its stored form.
func Obfuscate(clear string) string {
	b := []byte(clear)
	for i := range b {
		b[i] ^= obfuscationKey[i%len(obfuscationKey)]
	}
	return hex.EncodeToString(b)
}

// Deobfuscate converts a stored secure value back to clear text. A value
// that does not decode as hex is reported as corrupt by returning false.
func Deobfuscate(stored string) (string, bool) {
	b, err := hex.DecodeString(stored)
	if err != nil {
		return "", false
	}
	for i := range b {
		b[i] ^= obfuscationKey[i%len(obfuscationKey)]
	}
	return string(b), true
}
