/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := Get()
	require.NotNil(t, m)
	require.True(t, m == Get())

	t.Run("ActivityPub", func(t *testing.T) {
		require.NotPanics(t, func() { m.InboxHandlerTime(time.Second) })
		require.NotPanics(t, func() { m.InboxRejected() })
		require.NotPanics(t, func() { m.OutboxPostTime(time.Second) })
		require.NotPanics(t, func() { m.OutboxResolveInboxesTime(time.Second) })
	})

	t.Run("Delivery", func(t *testing.T) {
		require.NotPanics(t, func() { m.DeliveryTime(time.Second) })
		require.NotPanics(t, func() { m.DeliveryResult("delivered") })
		require.NotPanics(t, func() { m.DeliveryQueueDepth(7) })
	})
}

func TestNewCounter(t *testing.T) {
	require.NotNil(t, newCounter("activitypub", "metric_name", "Some help"))
}

func TestNewHistogram(t *testing.T) {
	require.NotNil(t, newHistogram("activitypub", "metric_name", "Some help"))
}

func TestNewGauge(t *testing.T) {
	require.NotNil(t, newGauge("activitypub", "metric_name", "Some help"))
}
