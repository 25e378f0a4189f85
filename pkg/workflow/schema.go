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

package workflow

import (
	"fmt"

	pkgerrors "github.com/flowgrid/flowgrid/pkg/errors"
)

// Property.Type accepts the strings keying propertyKinds below ("string",
// "int", "float", "bool", "list", "object"), spelled the way a workflow
// author writes them in YAML.
var propertyKinds = map[string]Kind{
	"string": KindString,
	"int":    KindInt,
	"float":  KindFloat,
	"bool":   KindBool,
	"list":   KindList,
	"object": KindObject,
}

// Property describes one named parameter a step kind accepts.
type Property struct {
	Type     string
	Required bool
	Enum     []string
}

// Schema is a registry-style shape check for a StepDefinition's Parameters,
// applied at step-construction/validation time rather than at dispatch, per
// the closed Value sum type design (see pkg/workflow/value.go).
type Schema struct {
	Properties map[string]Property
}

// Validate checks params against the schema, reporting every violation it
// finds rather than stopping at the first.
func (s *Schema) Validate(params ValueMap) error {
	if s == nil {
		return nil
	}
	for name, prop := range s.Properties {
		v, present := params[name]
		if !present {
			if prop.Required {
				return &pkgerrors.ValidationError{
					Field:      name,
					Message:    "required parameter missing",
					Suggestion: fmt.Sprintf("set %q in the step's parameters", name),
				}
			}
			continue
		}
		if prop.Type != "" {
			wantKind, ok := propertyKinds[prop.Type]
			if !ok {
				return &pkgerrors.ConfigurationError{
					Component: "parameter schema",
					Reason:    fmt.Sprintf("unknown property type %q for %q", prop.Type, name),
				}
			}
			if v.Kind() != wantKind {
				return &pkgerrors.ValidationError{
					Field:      name,
					Message:    fmt.Sprintf("expected %s, got %s", wantKind, v.Kind()),
					Suggestion: "check the step's parameter types against its kind's schema",
				}
			}
		}
		if len(prop.Enum) > 0 {
			s, ok := v.AsString()
			if !ok {
				return &pkgerrors.ValidationError{
					Field:   name,
					Message: "enum-constrained parameter must be a string",
				}
			}
			valid := false
			for _, allowed := range prop.Enum {
				if s == allowed {
					valid = true
					break
				}
			}
			if !valid {
				return &pkgerrors.ValidationError{
					Field:      name,
					Message:    fmt.Sprintf("%q is not one of the allowed values", s),
					Suggestion: fmt.Sprintf("use one of %v", prop.Enum),
				}
			}
		}
	}
	return nil
}

// SchemaRegistry maps a StepKind to the Schema its Parameters must satisfy.
// Step kinds with no registered schema are not checked beyond the closed
// StepKind enum membership test in validate.go.
type SchemaRegistry struct {
	schemas map[StepKind]*Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: map[StepKind]*Schema{}}
}

func (r *SchemaRegistry) Register(kind StepKind, schema *Schema) {
	r.schemas[kind] = schema
}

func (r *SchemaRegistry) Validate(kind StepKind, params ValueMap) error {
	schema, ok := r.schemas[kind]
	if !ok {
		return nil
	}
	return schema.Validate(params)
}
