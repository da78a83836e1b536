/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	started := 0
	stopped := 0

	lc := New("service1",
		WithStart(func() { started++ }),
		WithStop(func() { stopped++ }),
	)
	require.NotNil(t, lc)
	require.Equal(t, StateNotStarted, lc.State())

	lc.Start()
	require.Equal(t, StateStarted, lc.State())
	require.Equal(t, 1, started)

	// Starting a second time has no effect.
	lc.Start()
	require.Equal(t, 1, started)

	lc.Stop()
	require.Equal(t, StateStopped, lc.State())
	require.Equal(t, 1, stopped)

	// Stopping a second time has no effect.
	lc.Stop()
	require.Equal(t, 1, stopped)
}

func TestLifecycle_Defaults(t *testing.T) {
	lc := New("service2")
	require.NotNil(t, lc)

	lc.Start()
	require.Equal(t, StateStarted, lc.State())

	lc.Stop()
	require.Equal(t, StateStopped, lc.State())
}
