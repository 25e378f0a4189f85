// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import "github.com/flowgrid/flowgrid/pkg/workflow"

// volatileOperations names remote-tool/external-call operations known to
// mutate state or return non-reproducible data; these are never cached even
// when the step kind is otherwise cacheable.
var volatileOperations = map[string]bool{
	"write": true, "delete": true, "create": true, "update": true,
	"send": true, "publish": true, "execute": true,
}

// Cacheable reports whether a step's result is safe to cache: the step
// succeeded, its kind is read-oriented, and its operation is not on the
// volatile list. shell and ui-action steps are never cached since they act
// on the local host or a human, not a queryable remote resource.
func Cacheable(kind workflow.StepKind, operation string, success bool) bool {
	if !success {
		return false
	}
	switch kind {
	case workflow.StepRemoteTool, workflow.StepExternalCall, workflow.StepLLMQuery:
		return !volatileOperations[operation]
	case workflow.StepFileOp:
		return operation == "read" || operation == "list" || operation == "stat"
	default:
		return false
	}
}
