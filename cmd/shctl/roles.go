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
	"net/http"

	"github.com/spf13/cobra"
)

func rolesCmd(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage RBAC roles",
	}
	cmd.AddCommand(rolesListCmd(client))
	cmd.AddCommand(rolesAssignCmd(client))
	return cmd
}

func rolesListCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.do(http.MethodGet, "/api/roles", nil)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
}

func rolesAssignCmd(client *apiClient) *cobra.Command {
	var userID, roleID string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a role to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.do(http.MethodPost, "/api/rbac/assign-role", map[string]string{
				"user_id": userID,
				"role_id": roleID,
			})
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&roleID, "role", "", "role id")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("role")
	return cmd
}
