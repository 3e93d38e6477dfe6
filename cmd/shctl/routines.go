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

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func routinesCmd(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routines",
		Short: "Manage scheduled routines",
	}
	cmd.AddCommand(routinesCreateCmd(client))
	cmd.AddCommand(routinesListCmd(client))
	cmd.AddCommand(routinesExecutionsCmd(client))
	cmd.AddCommand(routinesEnableCmd(client))
	cmd.AddCommand(routinesDisableCmd(client))
	return cmd
}

func routinesCreateCmd(client *apiClient) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create -f <routine.yaml>",
		Short: "Register a routine from a YAML definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read definition: %w", err)
			}
			var def map[string]interface{}
			if err := yaml.Unmarshal(raw, &def); err != nil {
				return fmt.Errorf("parse definition: %w", err)
			}
			result, err := client.do(http.MethodPost, "/api/routines", def)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the YAML routine definition")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func routinesListCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all routines",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.do(http.MethodGet, "/api/routines", nil)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
}

func routinesExecutionsCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "executions <routine-id>",
		Short: "Show a routine's execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.do(http.MethodGet, fmt.Sprintf("/api/routines/%s/executions", args[0]), nil)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
}

func routinesEnableCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <routine-id>",
		Short: "Enable a routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := client.do(http.MethodPost, fmt.Sprintf("/api/routines/%s/enable", args[0]), nil)
			return err
		},
	}
}

func routinesDisableCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <routine-id>",
		Short: "Disable a routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := client.do(http.MethodPost, fmt.Sprintf("/api/routines/%s/disable", args[0]), nil)
			return err
		},
	}
}
