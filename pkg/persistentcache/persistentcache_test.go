// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package persistentcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaops/aquaops-agent/pkg/cep"
	"github.com/aquaops/aquaops-agent/pkg/config"
	"github.com/aquaops/aquaops-agent/pkg/rules"
)

func useTempRunPath(t *testing.T) {
	t.Helper()
	previous := config.Aquaops.GetString("run_path")
	config.Aquaops.Set("run_path", t.TempDir())
	t.Cleanup(func() { config.Aquaops.Set("run_path", previous) })
}

func TestWriteRead(t *testing.T) {
	useTempRunPath(t)

	require.NoError(t, Write("some-key", "value"))
	got, err := Read("some-key")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	// Overwrite.
	require.NoError(t, Write("some-key", "newer"))
	got, err = Read("some-key")
	require.NoError(t, err)
	assert.Equal(t, "newer", got)
}

func TestReadMissingKey(t *testing.T) {
	useTempRunPath(t)
	got, err := Read("never-written")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestKeySanitized(t *testing.T) {
	useTempRunPath(t)
	require.NoError(t, Write("a/b\\c", "v"))
	got, err := Read("a/b\\c")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestRuleSnapshotRoundTrip(t *testing.T) {
	useTempRunPath(t)
	snap := NewRuleSnapshot()

	loaded, err := snap.LoadRules()
	require.NoError(t, err)
	assert.Empty(t, loaded, "missing snapshot is an empty catalogue")

	stored := []*rules.EventRule{{
		ID:                       "rule-1",
		Name:                     "수위 감시",
		NaturalLanguageCondition: "수위 3m 초과",
		SQL:                      "SELECT 1",
		CheckIntervalMinutes:     5,
		ActionType:               cep.ActionAlert,
		IsActive:                 true,
	}}
	require.NoError(t, snap.SaveRules(stored))

	loaded, err = snap.LoadRules()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "rule-1", loaded[0].ID)
	assert.Equal(t, "수위 감시", loaded[0].Name)
}
