// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Version(t *testing.T) {
	assert.Equal(t, 0, run([]string{"-version"}))
}

func TestRun_CheckValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hm2g.yaml")
	content := `
name: test-ccu
dataDir: ` + dir + `
callbackUrl: http://127.0.0.1:9293
interfaces:
  - id: BidCos-RF
    url: http://127.0.0.1:2001
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	assert.Equal(t, 0, run([]string{"-config", path, "-check"}))
}

func TestRun_CheckRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hm2g.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: [broken\n"), 0o600))
	assert.Equal(t, 1, run([]string{"-config", path, "-check"}))
}

func TestRun_CheckRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hm2g.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: shouting\n"), 0o600))
	assert.Equal(t, 1, run([]string{"-config", path, "-check"}))
}

func TestRun_UnknownFlag(t *testing.T) {
	assert.Equal(t, 2, run([]string{"-definitely-not-a-flag"}))
}
