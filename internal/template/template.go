// Copyright 2025 shiioo
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

// Package template instantiates reusable workflow templates into concrete
// WorkflowSpecs by substituting {{name}} placeholders with typed
// parameter values.
package template

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/workflowspec"
)

// ParameterType constrains how a Parameter's string value is validated.
type ParameterType string

const (
	ParamString ParameterType = "String"
	ParamNumber ParameterType = "Number"
	ParamBool   ParameterType = "Boolean"
	ParamRoleID ParameterType = "RoleId"
	ParamTeamID ParameterType = "TeamId"
	ParamPersonID ParameterType = "PersonId"
)

// Parameter declares one named, typed slot a Template exposes.
type Parameter struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Type         ParameterType `json:"type"`
	DefaultValue *string       `json:"default_value,omitempty"`
	Required     bool          `json:"required"`
}

// Template is a reusable workflow blueprint with named placeholders.
type Template struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Category    string              `json:"category,omitempty"`
	Parameters  []Parameter         `json:"parameters"`
	Workflow    workflowspec.WorkflowSpec `json:"workflow_template"`
}

// Instance supplies concrete values for a Template's Parameters.
type Instance struct {
	TemplateID string            `json:"template_id"`
	Parameters map[string]string `json:"parameters"`
}

// Instantiate fills template with instance's parameter values, validating
// each against its declared type and substituting {{name}} placeholders
// across step name, prompt, approvers, command, and args.
func Instantiate(tpl Template, instance Instance) (workflowspec.WorkflowSpec, error) {
	values := make(map[string]string, len(tpl.Parameters))
	for _, p := range tpl.Parameters {
		value, provided := instance.Parameters[p.Name]
		if !provided {
			switch {
			case p.DefaultValue != nil:
				value = *p.DefaultValue
			case p.Required:
				return workflowspec.WorkflowSpec{}, apierr.Newf(apierr.MissingParam, "required parameter %q not provided", p.Name)
			default:
				// Optional, unset, no default: nothing to validate or
				// substitute.
				continue
			}
		}
		if err := validateParameter(p, value); err != nil {
			return workflowspec.WorkflowSpec{}, err
		}
		values[p.Name] = value
	}

	wf := tpl.Workflow
	steps := make([]workflowspec.StepSpec, len(wf.Steps))
	for i, step := range wf.Steps {
		step.Name = substitute(step.Name, values)
		step.Description = substitute(step.Description, values)

		switch step.Action.Kind {
		case workflowspec.ActionAgentTask:
			step.Action.Prompt = substitute(step.Action.Prompt, values)
		case workflowspec.ActionManualApproval:
			approvers := make([]string, len(step.Action.Approvers))
			for j, a := range step.Action.Approvers {
				approvers[j] = substitute(a, values)
			}
			step.Action.Approvers = approvers
		case workflowspec.ActionScript:
			step.Action.Command = substitute(step.Action.Command, values)
			args := make([]string, len(step.Action.Args))
			for j, a := range step.Action.Args {
				args[j] = substitute(a, values)
			}
			step.Action.Args = args
		case workflowspec.ActionToolSequence:
			// Tool names are not parameterized.
		}
		steps[i] = step
	}
	wf.Steps = steps
	return wf, nil
}

func validateParameter(p Parameter, value string) error {
	switch p.Type {
	case ParamNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return apierr.Newf(apierr.InvalidInput, "parameter %q must be a number: %v", p.Name, err)
		}
	case ParamBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return apierr.Newf(apierr.InvalidInput, "parameter %q must be true or false: %v", p.Name, err)
		}
	case ParamRoleID, ParamTeamID, ParamPersonID:
		if strings.TrimSpace(value) == "" {
			return apierr.Newf(apierr.InvalidInput, "parameter %q cannot be empty", p.Name)
		}
	case ParamString:
		// any value, including empty, is valid
	}
	return nil
}

// substitute replaces every {{name}} occurrence in text with values[name].
// Names absent from values are left unreplaced.
func substitute(text string, values map[string]string) string {
	if text == "" {
		return text
	}
	result := text
	for name, value := range values {
		result = strings.ReplaceAll(result, "{{"+name+"}}", value)
	}
	return result
}

// ExtractParameters returns the sorted, de-duplicated set of placeholder
// names found in text.
func ExtractParameters(text string) []string {
	var out []string
	seen := make(map[string]bool)

	i := 0
	for i < len(text) {
		start := strings.Index(text[i:], "{{")
		if start < 0 {
			break
		}
		start += i
		end := strings.Index(text[start+2:], "}}")
		if end < 0 {
			break
		}
		end += start + 2
		name := strings.TrimSpace(text[start+2 : end])
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
		i = end + 2
	}
	sort.Strings(out)
	return out
}
