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

func approvalsCmd(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and vote on approvals",
	}
	cmd.AddCommand(approvalsGetCmd(client))
	cmd.AddCommand(approvalsVoteCmd(client))
	return cmd
}

func approvalsGetCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "get <approval-id>",
		Short: "Show one approval's votes and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.do(http.MethodGet, fmt.Sprintf("/api/approvals/%s", args[0]), nil)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
}

func approvalsVoteCmd(client *apiClient) *cobra.Command {
	var voter, decision, comment string
	cmd := &cobra.Command{
		Use:   "vote <approval-id>",
		Short: "Cast a vote on an approval (Approve|Reject|Abstain)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.do(http.MethodPost, fmt.Sprintf("/api/approvals/%s/vote", args[0]), map[string]string{
				"voter_id": voter,
				"decision": decision,
				"comment":  comment,
			})
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&voter, "voter", "", "voter id")
	cmd.Flags().StringVar(&decision, "decision", "", "Approve|Reject|Abstain")
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	cmd.MarkFlagRequired("voter")
	cmd.MarkFlagRequired("decision")
	return cmd
}
