/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"crypto"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

const publicKeyID = "https://orchard.example/services/main/keys/main-key"

type mockHTTPClient struct {
	resp *http.Response
	err  error
	req  *http.Request
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.req = req

	return m.resp, m.err
}

type mockSigner struct {
	err error
}

func (m *mockSigner) SignRequest(crypto.PrivateKey, string, *http.Request, []byte) error {
	return m.err
}

func TestNew(t *testing.T) {
	tp := New(http.DefaultClient, nil, vocab.MustParseURL(publicKeyID), DefaultSigner(), DefaultSigner())
	require.NotNil(t, tp)
}

func TestNewRequest(t *testing.T) {
	req := NewRequest(
		vocab.MustParseURL("https://plum.example/users/bob"),
		WithHeader(AcceptHeader, ActivityStreamsContentType),
	)
	require.NotNil(t, req)
	require.Equal(t, []string{ActivityStreamsContentType}, req.Header[AcceptHeader])
}

func TestDefault(t *testing.T) {
	require.NotNil(t, Default())
}

func TestTransport_Post(t *testing.T) {
	httpClient := &mockHTTPClient{resp: &http.Response{}}

	t.Run("Success", func(t *testing.T) {
		tp := New(httpClient, nil, vocab.MustParseURL(publicKeyID), DefaultSigner(), DefaultSigner())
		require.NotNil(t, tp)

		req := NewRequest(vocab.MustParseURL("https://plum.example/users/bob/inbox"))
		req.Header["Some-Header"] = []string{"some value"}

		//nolint:bodyclose
		resp, err := tp.Post(context.Background(), req, []byte("payload"))
		require.NoError(t, err)
		require.NotNil(t, resp)

		require.Equal(t, http.MethodPost, httpClient.req.Method)
		require.Equal(t, []string{"some value"}, httpClient.req.Header["Some-Header"])
		require.Equal(t, ActivityStreamsContentType, httpClient.req.Header.Get(ContentTypeHeader))
	})

	t.Run("Content type not overridden", func(t *testing.T) {
		tp := New(httpClient, nil, vocab.MustParseURL(publicKeyID), DefaultSigner(), DefaultSigner())

		req := NewRequest(vocab.MustParseURL("https://plum.example/users/bob/inbox"),
			WithHeader(ContentTypeHeader, ActivityJSONContentType))

		//nolint:bodyclose
		_, err := tp.Post(context.Background(), req, []byte("payload"))
		require.NoError(t, err)

		require.Equal(t, ActivityJSONContentType, httpClient.req.Header.Get(ContentTypeHeader))
	})

	t.Run("Sign error", func(t *testing.T) {
		errExpected := errors.New("injected signer error")

		signer := &mockSigner{err: errExpected}

		tp := New(httpClient, nil, vocab.MustParseURL(publicKeyID), signer, signer)
		require.NotNil(t, tp)

		//nolint:bodyclose
		resp, err := tp.Post(context.Background(),
			NewRequest(vocab.MustParseURL("https://plum.example/users/bob/inbox")), nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
		require.Nil(t, resp)
	})
}

func TestTransport_Get(t *testing.T) {
	httpClient := &mockHTTPClient{resp: &http.Response{}}

	t.Run("Success", func(t *testing.T) {
		tp := New(httpClient, nil, vocab.MustParseURL(publicKeyID), DefaultSigner(), DefaultSigner())
		require.NotNil(t, tp)

		req := NewRequest(vocab.MustParseURL("https://plum.example/users/bob"),
			WithHeader(AcceptHeader, ActivityStreamsContentType))

		//nolint:bodyclose
		resp, err := tp.Get(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, resp)

		require.Equal(t, http.MethodGet, httpClient.req.Method)
		require.Equal(t, []string{ActivityStreamsContentType}, httpClient.req.Header[AcceptHeader])
	})

	t.Run("Sign error", func(t *testing.T) {
		errExpected := errors.New("injected signer error")

		signer := &mockSigner{err: errExpected}

		tp := New(httpClient, nil, vocab.MustParseURL(publicKeyID), signer, signer)
		require.NotNil(t, tp)

		//nolint:bodyclose
		resp, err := tp.Get(context.Background(),
			NewRequest(vocab.MustParseURL("https://plum.example/users/bob")))
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
		require.Nil(t, resp)
	})
}
