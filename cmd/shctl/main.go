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

// Command shctl is a thin administrative client for a running
// controlplane instance: it talks to the HTTP API over a bearer token,
// the same surface the UI and any other API consumer use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	client := &apiClient{}

	root := &cobra.Command{
		Use:     "shctl",
		Short:   "shiioo control plane CLI",
		Long:    `shctl administers a running controlplane instance: roles, tenants, routines, and approvals.`,
		Version: version,
	}
	root.PersistentFlags().StringVar(&client.baseURL, "addr", "http://127.0.0.1:8080", "controlplane API base URL")
	root.PersistentFlags().StringVar(&client.token, "token", os.Getenv("SHCTL_TOKEN"), "bearer token (or SHCTL_TOKEN)")
	root.PersistentFlags().StringVar(&client.tenantID, "tenant", "", "x-tenant-id header for tenant-scoped calls")

	root.AddCommand(rolesCmd(client))
	root.AddCommand(tenantsCmd(client))
	root.AddCommand(routinesCmd(client))
	root.AddCommand(approvalsCmd(client))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
