// SPDX-License-Identifier: MIT

package rpcserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReturnsSameHandleForSameAddress(t *testing.T) {
	reg := NewRegistry()

	a := reg.GetOrCreate(Config{BindAddr: "127.0.0.1", Port: 2010})
	b := reg.GetOrCreate(Config{BindAddr: "127.0.0.1", Port: 2010})
	c := reg.GetOrCreate(Config{BindAddr: "127.0.0.1", Port: 2011})
	d := reg.GetOrCreate(Config{BindAddr: "0.0.0.0", Port: 2010})

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.NotSame(t, a, d)
	assert.Len(t, reg.Servers(), 3)
}

func TestRegistryStopAll(t *testing.T) {
	reg := NewRegistry()

	started := reg.GetOrCreate(Config{BindAddr: "127.0.0.1", Port: 0})
	reg.GetOrCreate(Config{BindAddr: "127.0.0.1", Port: 2012})
	require.NoError(t, started.Start(context.Background()))

	require.NoError(t, reg.StopAll(context.Background()))
	assert.Equal(t, 0, started.ActiveBackgroundTasks())
}
