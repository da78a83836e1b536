/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpserver

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	listenAddr = "localhost:8317"
	clientURL  = "http://" + listenAddr
)

func TestServer(t *testing.T) {
	s := New(listenAddr, "", "", time.Second, time.Second,
		NewEndpoint("/ping", http.MethodGet,
			func(w http.ResponseWriter, _ *http.Request) {
				_, err := w.Write([]byte("pong"))
				require.NoError(t, err)
			},
		),
		NewEndpoint("/echo", http.MethodPost,
			func(w http.ResponseWriter, req *http.Request) {
				payload, err := io.ReadAll(req.Body)
				require.NoError(t, err)

				_, err = w.Write(payload)
				require.NoError(t, err)
			},
		),
	)

	require.NoError(t, s.Start())
	require.Error(t, s.Start())

	// Wait for the listener to come up.
	time.Sleep(100 * time.Millisecond)

	t.Run("GET", func(t *testing.T) {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, clientURL+"/ping", nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)

		respBytes, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "pong", string(respBytes))
	})

	t.Run("Method not allowed", func(t *testing.T) {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, clientURL+"/echo", nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	require.NoError(t, s.Stop(context.Background()))
	require.Error(t, s.Stop(context.Background()))
}

func TestEndpoint(t *testing.T) {
	invoked := false

	e := NewEndpoint("/test", http.MethodPost,
		func(http.ResponseWriter, *http.Request) {
			invoked = true
		},
	)

	require.Equal(t, "/test", e.Path())
	require.Equal(t, http.MethodPost, e.Method())

	e.Handler()(nil, nil)
	require.True(t, invoked)
}
