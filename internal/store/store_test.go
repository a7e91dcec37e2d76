// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreDeviceRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.PutDevices(ctx, "hm2g-BidCos-RF", []map[string]any{
		{"ADDRESS": "NEQ1234567", "TYPE": "HM-LC-Sw1-FM", "VERSION": 22},
		{"ADDRESS": "NEQ1234567:1", "TYPE": "SWITCH", "PARENT": "NEQ1234567"},
	})
	require.NoError(t, err)

	got, err := st.GetDevice(ctx, "hm2g-BidCos-RF", "NEQ1234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "HM-LC-Sw1-FM", got["TYPE"])
	assert.Equal(t, float64(22), got["VERSION"])

	channel, err := st.GetDevice(ctx, "hm2g-BidCos-RF", "NEQ1234567:1")
	require.NoError(t, err)
	require.NotNil(t, channel)
	assert.Equal(t, "NEQ1234567", channel["PARENT"])

	missing, err := st.GetDevice(ctx, "hm2g-BidCos-RF", "NEQ0000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStorePutDevicesRequiresAddress(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.PutDevices(ctx, "hm2g-BidCos-RF", []map[string]any{
		{"ADDRESS": "NEQ1234567", "TYPE": "HM-LC-Sw1-FM"},
		{"TYPE": "HM-Sec-SC"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing ADDRESS")

	// The failed transaction must not have written the valid entry.
	got, err := st.GetDevice(ctx, "hm2g-BidCos-RF", "NEQ1234567")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreListDevicesByInterface(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutDevices(ctx, "hm2g-BidCos-RF", []map[string]any{
		{"ADDRESS": "NEQ2222222"},
		{"ADDRESS": "NEQ1111111"},
	}))
	require.NoError(t, st.PutDevices(ctx, "hm2g-HmIP-RF", []map[string]any{
		{"ADDRESS": "000A1B2C3D4E5F"},
	}))

	rf, err := st.ListDevices(ctx, "hm2g-BidCos-RF")
	require.NoError(t, err)
	require.Len(t, rf, 2)
	// Iteration is in key order, so addresses come back sorted.
	assert.Equal(t, "NEQ1111111", rf[0]["ADDRESS"])
	assert.Equal(t, "NEQ2222222", rf[1]["ADDRESS"])

	addrs, err := st.DeviceAddresses(ctx, "hm2g-HmIP-RF")
	require.NoError(t, err)
	assert.Equal(t, []string{"000A1B2C3D4E5F"}, addrs)

	empty, err := st.ListDevices(ctx, "hm2g-Wired")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoreDeleteDevicesDropsParamsets(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutDevices(ctx, "hm2g-BidCos-RF", []map[string]any{
		{"ADDRESS": "NEQ1234567"},
		{"ADDRESS": "NEQ1234567:1"},
	}))
	require.NoError(t, st.PutParamsetDescription(ctx, "hm2g-BidCos-RF", "NEQ1234567:1", "VALUES", map[string]any{
		"STATE": map[string]any{"TYPE": "BOOL", "OPERATIONS": 7},
	}))

	err := st.DeleteDevices(ctx, "hm2g-BidCos-RF", []string{"NEQ1234567:1", "NEQ9999999"})
	require.NoError(t, err)

	gone, err := st.GetDevice(ctx, "hm2g-BidCos-RF", "NEQ1234567:1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	pset, err := st.GetParamsetDescription(ctx, "hm2g-BidCos-RF", "NEQ1234567:1", "VALUES")
	require.NoError(t, err)
	assert.Nil(t, pset)

	kept, err := st.GetDevice(ctx, "hm2g-BidCos-RF", "NEQ1234567")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestStoreParamsetDescriptionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	desc := map[string]any{
		"LEVEL": map[string]any{"TYPE": "FLOAT", "MIN": 0.0, "MAX": 1.0},
	}
	require.NoError(t, st.PutParamsetDescription(ctx, "hm2g-BidCos-RF", "NEQ7654321:1", "VALUES", desc))

	got, err := st.GetParamsetDescription(ctx, "hm2g-BidCos-RF", "NEQ7654321:1", "VALUES")
	require.NoError(t, err)
	require.NotNil(t, got)
	level, ok := got["LEVEL"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "FLOAT", level["TYPE"])

	other, err := st.GetParamsetDescription(ctx, "hm2g-BidCos-RF", "NEQ7654321:1", "MASTER")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestStoreDeleteInterfaceLeavesOthers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutDevices(ctx, "hm2g-BidCos-RF", []map[string]any{
		{"ADDRESS": "NEQ1111111"},
	}))
	require.NoError(t, st.PutParamsetDescription(ctx, "hm2g-BidCos-RF", "NEQ1111111", "MASTER", map[string]any{
		"CYCLIC_INFO_MSG": 1,
	}))
	require.NoError(t, st.PutDevices(ctx, "hm2g-HmIP-RF", []map[string]any{
		{"ADDRESS": "000A1B2C3D4E5F"},
	}))

	require.NoError(t, st.DeleteInterface(ctx, "hm2g-BidCos-RF"))

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Devices: 1, Paramsets: 0}, counts)

	kept, err := st.GetDevice(ctx, "hm2g-HmIP-RF", "000A1B2C3D4E5F")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, st.PutDevices(ctx, "hm2g-BidCos-RF", []map[string]any{
		{"ADDRESS": "NEQ1234567", "TYPE": "HM-LC-Sw1-FM"},
	}))
	require.NoError(t, st.Close())

	st2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = st2.Close() }()

	got, err := st2.GetDevice(ctx, "hm2g-BidCos-RF", "NEQ1234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "HM-LC-Sw1-FM", got["TYPE"])
}

func TestStoreExportJSONSnapshot(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutDevices(ctx, "hm2g-BidCos-RF", []map[string]any{
		{"ADDRESS": "NEQ1234567", "TYPE": "HM-LC-Sw1-FM"},
		{"ADDRESS": "NEQ1234567:1", "TYPE": "SWITCH"},
	}))
	require.NoError(t, st.PutParamsetDescription(ctx, "hm2g-BidCos-RF", "NEQ1234567:1", "VALUES", map[string]any{
		"STATE": map[string]any{"TYPE": "BOOL"},
	}))

	path := filepath.Join(t.TempDir(), "inventory.json")
	require.NoError(t, st.ExportJSON(ctx, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var snap struct {
		ExportedAt string                      `json:"exported_at"`
		Devices    map[string][]map[string]any `json:"devices"`
		Paramsets  []struct {
			Interface string         `json:"interface"`
			Address   string         `json:"address"`
			Paramset  string         `json:"paramset"`
			Values    map[string]any `json:"values"`
		} `json:"paramset_descriptions"`
	}
	require.NoError(t, json.Unmarshal(raw, &snap))

	assert.NotEmpty(t, snap.ExportedAt)
	require.Len(t, snap.Devices["hm2g-BidCos-RF"], 2)
	require.Len(t, snap.Paramsets, 1)
	assert.Equal(t, "hm2g-BidCos-RF", snap.Paramsets[0].Interface)
	assert.Equal(t, "NEQ1234567:1", snap.Paramsets[0].Address)
	assert.Equal(t, "VALUES", snap.Paramsets[0].Paramset)
}
