/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webfinger

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
)

type mockHTTPClient struct {
	statusCode int
	body       string
	err        error

	invocations int
	requestURL  string
	accept      string
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.invocations++
	m.requestURL = req.URL.String()
	m.accept = req.Header.Get("Accept")

	if m.err != nil {
		return nil, m.err
	}

	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(strings.NewReader(m.body)),
	}, nil
}

const bobJRD = `{
  "subject": "acct:bob@plum.example",
  "aliases": ["https://plum.example/users/bob"],
  "links": [
    {"rel": "http://webfinger.net/rel/profile-page", "type": "text/html", "href": "https://plum.example/@bob"},
    {"rel": "self", "type": "application/activity+json", "href": "https://plum.example/users/bob"}
  ]
}`

func TestClient_ResolveActorIRI(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		httpClient := &mockHTTPClient{statusCode: http.StatusOK, body: bobJRD}

		c := NewClient(WithHTTPClient(httpClient))

		iri, err := c.ResolveActorIRI("bob@plum.example")
		require.NoError(t, err)
		require.Equal(t, "https://plum.example/users/bob", iri.String())

		require.Equal(t,
			"https://plum.example/.well-known/webfinger?resource=acct%3Abob%40plum.example",
			httpClient.requestURL)
		require.Contains(t, httpClient.accept, JRDContentType)
	})

	t.Run("The acct scheme is accepted", func(t *testing.T) {
		httpClient := &mockHTTPClient{statusCode: http.StatusOK, body: bobJRD}

		c := NewClient(WithHTTPClient(httpClient))

		iri, err := c.ResolveActorIRI("acct:bob@plum.example")
		require.NoError(t, err)
		require.Equal(t, "https://plum.example/users/bob", iri.String())
	})

	t.Run("Resolved resources are cached", func(t *testing.T) {
		httpClient := &mockHTTPClient{statusCode: http.StatusOK, body: bobJRD}

		c := NewClient(WithHTTPClient(httpClient))

		for i := 0; i < 3; i++ {
			_, err := c.ResolveActorIRI("bob@plum.example")
			require.NoError(t, err)
		}

		require.Equal(t, 1, httpClient.invocations)
	})

	t.Run("Not found", func(t *testing.T) {
		httpClient := &mockHTTPClient{statusCode: http.StatusNotFound}

		c := NewClient(WithHTTPClient(httpClient))

		_, err := c.ResolveActorIRI("carol@plum.example")
		require.ErrorIs(t, err, ErrResourceNotFound)
	})

	t.Run("Server error is transient", func(t *testing.T) {
		httpClient := &mockHTTPClient{statusCode: http.StatusInternalServerError}

		c := NewClient(WithHTTPClient(httpClient))

		_, err := c.ResolveActorIRI("bob@plum.example")
		require.Error(t, err)
		require.True(t, kestrelerrors.IsTransient(err))
	})

	t.Run("Connection error is transient", func(t *testing.T) {
		httpClient := &mockHTTPClient{err: fmt.Errorf("connection refused")}

		c := NewClient(WithHTTPClient(httpClient))

		_, err := c.ResolveActorIRI("bob@plum.example")
		require.Error(t, err)
		require.True(t, kestrelerrors.IsTransient(err))
	})

	t.Run("No self link", func(t *testing.T) {
		httpClient := &mockHTTPClient{
			statusCode: http.StatusOK,
			body:       `{"subject": "acct:bob@plum.example"}`,
		}

		c := NewClient(WithHTTPClient(httpClient))

		_, err := c.ResolveActorIRI("bob@plum.example")
		require.Error(t, err)
		require.Contains(t, err.Error(), "no ActivityStreams self link")
	})

	t.Run("Invalid handle", func(t *testing.T) {
		c := NewClient(WithHTTPClient(&mockHTTPClient{}))

		_, err := c.ResolveActorIRI("not-a-handle")
		require.Error(t, err)
		require.True(t, kestrelerrors.IsBadRequest(err))
	})
}
