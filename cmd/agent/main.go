// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package main is the entry point of the aquaops event detection agent.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aquaops/aquaops-agent/cmd/agent/subcommands/start"
	versioncmd "github.com/aquaops/aquaops-agent/cmd/agent/subcommands/version"
)

func makeRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "aquaops-agent [command]",
		Short:        "AquaOps event detection agent",
		Long:         "Polls plant databases for operational events, runs them through a CEP engine and dispatches alerts or remote processes.",
		SilenceUsage: true,
	}
	root.AddCommand(start.MakeCommand())
	root.AddCommand(versioncmd.MakeCommand())
	return root
}

func main() {
	if err := makeRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var exitErr *start.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
