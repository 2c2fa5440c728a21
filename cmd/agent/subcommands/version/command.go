// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package version implements 'aquaops-agent version'.
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aquaops/aquaops-agent/pkg/version"
)

// MakeCommand returns the version subcommand.
func MakeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version info",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if version.Commit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "aquaops-agent %s (commit %s)\n", version.AgentVersion, version.Commit)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "aquaops-agent %s\n", version.AgentVersion)
			return nil
		},
	}
}
