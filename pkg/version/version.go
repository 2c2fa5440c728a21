// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package version holds the agent version. The Commit variable is
// overridden at build time with -ldflags.
package version

// AgentVersion contains the version of the agent.
var AgentVersion = "1.0.0"

// Commit is the commit the agent was built from.
var Commit = ""
