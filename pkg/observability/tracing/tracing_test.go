/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tracing

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	t.Run("Provider NONE", func(t *testing.T) {
		tp, err := Initialize(ProviderNone, "service1", "")
		require.NoError(t, err)
		require.Equal(t, reflect.TypeOf(&noopTracerProvider{}), reflect.TypeOf(tp))
	})

	t.Run("Provider JAEGER", func(t *testing.T) {
		tp, err := Initialize(ProviderJaeger, "service1", "")
		require.NoError(t, err)
		require.NotNil(t, tp)
		require.NotPanics(t, tp.Start)
		require.NotPanics(t, tp.Stop)

		require.NotNil(t, Tracer("subsystem1"))
	})

	t.Run("Unsupported provider", func(t *testing.T) {
		tp, err := Initialize("unsupported", "service1", "")
		require.Error(t, err)
		require.Contains(t, err.Error(), "unsupported tracing provider")
		require.Nil(t, tp)
	})
}

func TestAttributes(t *testing.T) {
	const messageUUID = "6e3d8dc2-fae9-45b7-b161-6e7eff9c7ac7"

	require.Equal(t, messageUUID, MessageUUIDAttribute(messageUUID).Value.AsString())
}
