/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockRetriever struct {
	nodeInfo *NodeInfo
}

func (m *mockRetriever) GetNodeInfo(Version) *NodeInfo {
	return m.nodeInfo
}

func TestNewHandler(t *testing.T) {
	t.Run("V2.0", func(t *testing.T) {
		h := NewHandler(V2_0, &mockRetriever{})
		require.NotNil(t, h)
		require.Equal(t, http.MethodGet, h.Method())
		require.Equal(t, "/nodeinfo/2.0", h.Path())
		require.NotNil(t, h.Handler())
	})

	t.Run("V2.1", func(t *testing.T) {
		h := NewHandler(V2_1, &mockRetriever{})
		require.NotNil(t, h)
		require.Equal(t, http.MethodGet, h.Method())
		require.Equal(t, "/nodeinfo/2.1", h.Path())
		require.NotNil(t, h.Handler())
	})
}

func TestHandler(t *testing.T) {
	nodeInfo := &NodeInfo{
		Version:   V2_0,
		Protocols: []string{activityPubProtocol},
		Software: Software{
			Name:    "Kestrel",
			Version: KestrelVersion,
		},
		Services: Services{
			Inbound:  []string{},
			Outbound: []string{},
		},
		OpenRegistrations: false,
		Usage: Usage{
			Users: Users{
				Total: 2,
			},
			LocalPosts:    10,
			LocalComments: 5,
		},
	}

	h := NewHandler(V2_0, &mockRetriever{nodeInfo: nodeInfo})
	require.NotNil(t, h)

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "https://orchard.example/nodeinfo/2.0", nil)

	h.handle(rw, req)

	result := rw.Result()
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, `application/json; profile="http://nodeinfo.diaspora.software/ns/schema/2.0#"`,
		result.Header.Get("Content-Type"))

	respBytes, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	require.NoError(t, result.Body.Close())

	response := &NodeInfo{}
	require.NoError(t, json.Unmarshal(respBytes, response))
	require.Equal(t, nodeInfo, response)
}

func TestHandlerError(t *testing.T) {
	t.Run("Marshal error", func(t *testing.T) {
		h := NewHandler(V2_0, &mockRetriever{})
		require.NotNil(t, h)

		errExpected := errors.New("injected marshal error")

		h.marshal = func(v interface{}) ([]byte, error) {
			return nil, errExpected
		}

		rw := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "https://orchard.example/nodeinfo/2.0", nil)

		h.handle(rw, req)

		result := rw.Result()
		require.Equal(t, http.StatusInternalServerError, result.StatusCode)

		respBytes, err := io.ReadAll(result.Body)
		require.NoError(t, err)
		require.NoError(t, result.Body.Close())

		require.Equal(t, internalServerErrorResponse, string(respBytes))
	})
}

func TestWellKnownHandler(t *testing.T) {
	h := NewWellKnownHandler(baseURL)
	require.NotNil(t, h)
	require.Equal(t, http.MethodGet, h.Method())
	require.Equal(t, "/.well-known/nodeinfo", h.Path())
	require.NotNil(t, h.Handler())

	t.Run("Success", func(t *testing.T) {
		rw := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "https://orchard.example/.well-known/nodeinfo", nil)

		h.handle(rw, req)

		result := rw.Result()
		require.Equal(t, http.StatusOK, result.StatusCode)
		require.Equal(t, "application/json", result.Header.Get("Content-Type"))

		respBytes, err := io.ReadAll(result.Body)
		require.NoError(t, err)
		require.NoError(t, result.Body.Close())

		response := &WellKnownResponse{}
		require.NoError(t, json.Unmarshal(respBytes, response))
		require.Len(t, response.Links, 2)
		require.Equal(t, nodeInfoV2_0Schema, response.Links[0].Rel)
		require.Equal(t, "https://orchard.example/nodeinfo/2.0", response.Links[0].Href)
		require.Equal(t, nodeInfoV2_1Schema, response.Links[1].Rel)
		require.Equal(t, "https://orchard.example/nodeinfo/2.1", response.Links[1].Href)
	})

	t.Run("Marshal error", func(t *testing.T) {
		h := NewWellKnownHandler(baseURL)
		require.NotNil(t, h)

		h.marshal = func(v interface{}) ([]byte, error) {
			return nil, errors.New("injected marshal error")
		}

		rw := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "https://orchard.example/.well-known/nodeinfo", nil)

		h.handle(rw, req)

		result := rw.Result()
		require.Equal(t, http.StatusInternalServerError, result.StatusCode)
	})
}
