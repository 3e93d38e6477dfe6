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

package template

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/workflowspec"
)

func TestExtractParameters(t *testing.T) {
	params := ExtractParameters("Analyze {{file_path}} and report to {{reviewer}}")
	require.Equal(t, []string{"file_path", "reviewer"}, params)
}

func TestExtractParametersDeduplicatesAndSorts(t *testing.T) {
	params := ExtractParameters("{{b}} then {{a}} then {{b}} again")
	require.Equal(t, []string{"a", "b"}, params)
}

func sampleTemplate() Template {
	return Template{
		ID:   "code_review",
		Name: "Code Review",
		Parameters: []Parameter{
			{Name: "file_path", Type: ParamString, Required: true},
			{Name: "reviewer", Type: ParamPersonID, DefaultValue: strPtr("alice")},
		},
		Workflow: workflowspec.WorkflowSpec{
			Name: "code_review",
			Steps: []workflowspec.StepSpec{
				{
					ID:   "review",
					Name: "Review {{file_path}}",
					Role: "reviewer",
					Action: workflowspec.Action{
						Kind:   workflowspec.ActionAgentTask,
						Prompt: "Please review {{file_path}} and notify {{reviewer}}",
					},
				},
				{
					ID:   "approve",
					Name: "Approval",
					Role: "manager",
					Action: workflowspec.Action{
						Kind:      workflowspec.ActionManualApproval,
						Approvers: []string{"{{reviewer}}"},
					},
				},
			},
			DepMap: map[string][]string{"approve": {"review"}},
		},
	}
}

func strPtr(s string) *string { return &s }

func TestInstantiateSubstitutesAcrossFields(t *testing.T) {
	wf, err := Instantiate(sampleTemplate(), Instance{
		TemplateID: "code_review",
		Parameters: map[string]string{"file_path": "src/main.go"},
	})
	require.NoError(t, err)
	require.Equal(t, "Review src/main.go", wf.Steps[0].Name)
	require.Equal(t, "Please review src/main.go and notify alice", wf.Steps[0].Action.Prompt)
	require.Equal(t, []string{"alice"}, wf.Steps[1].Action.Approvers)
}

func TestInstantiateMissingRequiredParameter(t *testing.T) {
	_, err := Instantiate(sampleTemplate(), Instance{Parameters: map[string]string{}})
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.MissingParam, apiErr.Kind)
}

func TestInstantiateRejectsBadNumberParameter(t *testing.T) {
	tpl := sampleTemplate()
	tpl.Parameters = append(tpl.Parameters, Parameter{Name: "retries", Type: ParamNumber, Required: true})
	_, err := Instantiate(tpl, Instance{Parameters: map[string]string{
		"file_path": "src/main.go",
		"retries":   "not-a-number",
	}})
	require.Error(t, err)
}

func TestInstantiateDoesNotMutateTemplate(t *testing.T) {
	tpl := sampleTemplate()
	_, err := Instantiate(tpl, Instance{Parameters: map[string]string{"file_path": "src/main.go"}})
	require.NoError(t, err)
	require.Equal(t, "Review {{file_path}}", tpl.Workflow.Steps[0].Name)
}
