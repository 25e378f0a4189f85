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

/*
Package connector holds the deterministic, non-LLM operations a workflow step
can invoke directly: shell commands and jq-style data transforms today. The
root package also holds SSRF validation (ValidateURL, used by the notify and
external-call step kinds) and a per-connector metrics collector.

These differ from remote-tool steps, which round-trip through an MCP server:

  - Deterministic: same inputs always produce the same outputs
  - No model involvement: operations execute directly in-process
  - Built-in security: SSRF protection via ValidateURL, shell allow-listing

# Subpackages

  - shell: allow-listed shell command execution
  - transform: jq-based extract/split/filter/map over step output

internal/stepkind adapts these connectors (and the file and external-call
step kinds, which have no dedicated connector package) to the workflow
engine's Handler interface.
*/
package connector
