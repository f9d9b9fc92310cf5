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

package subscription

import (
	"strings"

	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

// matchAny reports whether a concrete path falls under any of the reference
// list expressions of a subscription.
func matchAny(exprs []string, path string) bool {
	for _, expr := range exprs {
		if matchExpression(expr, path) {
			return true
		}
	}
	return false
}

// matchExpression compares one reference expression against a concrete
// path. An expression matches when it equals the path, is a path prefix at a
// segment boundary, or matches segment-wise with `*` standing for one
// instance segment. Filters are ignored here: notifications against
// filtered expressions are matched on the table they cover.
func matchExpression(expr, path string) bool {
	e := strings.TrimSuffix(expr, ".")
	p := strings.TrimSuffix(path, ".")
	if e == "" {
		return false
	}

	esegs := strings.Split(e, ".")
	psegs := strings.Split(p, ".")
	if len(esegs) > len(psegs) {
		return false
	}
	for i, es := range esegs {
		ps := psegs[i]
		if es == "*" || strings.HasPrefix(es, "[") {
			if !isDecimal(ps) {
				return false
			}
			continue
		}
		if es != ps {
			return false
		}
	}
	return true
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func codeOf(err error) usperr.Code {
	return usperr.CodeOf(err)
}
