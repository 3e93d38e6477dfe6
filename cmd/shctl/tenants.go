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

	"github.com/spf13/cobra"
)

func tenantsCmd(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenants",
	}
	cmd.AddCommand(tenantsListCmd(client))
	cmd.AddCommand(tenantsSuspendCmd(client))
	cmd.AddCommand(tenantsActivateCmd(client))
	return cmd
}

func tenantsListCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.do(http.MethodGet, "/api/tenants", nil)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
}

func tenantsSuspendCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "suspend <tenant-id>",
		Short: "Suspend a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := client.do(http.MethodPost, fmt.Sprintf("/api/tenants/%s/suspend", args[0]), nil)
			return err
		},
	}
}

func tenantsActivateCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <tenant-id>",
		Short: "Activate a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := client.do(http.MethodPost, fmt.Sprintf("/api/tenants/%s/activate", args[0]), nil)
			return err
		},
	}
}
