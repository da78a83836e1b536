/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelsoc/kestrel/pkg/client/transport"
	"github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

func TestClient_GetActor(t *testing.T) {
	var hits int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)

		actorIRI := vocab.MustParseURL("http://" + req.Host + "/users/alice")

		actorBytes, err := vocab.Marshal(vocab.NewPerson(actorIRI,
			vocab.WithPreferredUsername("alice"),
			vocab.WithInbox(vocab.MustParseURL(actorIRI.String()+"/inbox")),
		))
		require.NoError(t, err)

		w.Header().Set(transport.ContentTypeHeader, transport.ActivityStreamsContentType)
		_, err = w.Write(actorBytes)
		require.NoError(t, err)
	}))
	defer server.Close()

	c := New(Config{}, transport.Default())

	actorIRI := vocab.MustParseURL(server.URL + "/users/alice")

	actor, err := c.GetActor(actorIRI)
	require.NoError(t, err)
	require.Equal(t, "alice", actor.PreferredUsername())

	// The second lookup is served from the cache.
	_, err = c.GetActor(actorIRI)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_GetPublicKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		actorIRI := vocab.MustParseURL("http://" + req.Host + "/users/alice")
		keyIRI := vocab.MustParseURL(actorIRI.String() + "#main-key")

		// The key IRI resolves to the actor document containing the key.
		actorBytes, err := vocab.Marshal(vocab.NewPerson(actorIRI,
			vocab.WithPublicKey(vocab.NewPublicKey(
				vocab.WithID(keyIRI),
				vocab.WithOwner(actorIRI),
				vocab.WithPublicKeyPem("key pem"),
			)),
		))
		require.NoError(t, err)

		_, err = w.Write(actorBytes)
		require.NoError(t, err)
	}))
	defer server.Close()

	c := New(Config{}, transport.Default())

	key, err := c.GetPublicKey(vocab.MustParseURL(server.URL + "/users/alice#main-key"))
	require.NoError(t, err)
	require.Equal(t, "key pem", key.PublicKeyPem)
	require.Equal(t, server.URL+"/users/alice", key.Owner.String())
}

func TestClient_GetReferences(t *testing.T) {
	var baseURL string

	follower1 := "/users/bob"
	follower2 := "/users/carol"
	follower3 := "/users/dan"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var (
			respBytes []byte
			err       error
		)

		switch req.URL.RawQuery {
		case "":
			respBytes, err = vocab.Marshal(vocab.NewOrderedCollection(nil,
				vocab.WithID(vocab.MustParseURL(baseURL+"/users/alice/followers")),
				vocab.WithTotalItems(3),
				vocab.WithFirst(vocab.MustParseURL(baseURL+"/users/alice/followers?page=0")),
			))

		case "page=0":
			respBytes, err = vocab.Marshal(vocab.NewOrderedCollectionPage(
				[]*vocab.ObjectProperty{
					vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL(baseURL + follower1))),
					vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL(baseURL + follower2))),
				},
				vocab.WithID(vocab.MustParseURL(baseURL+"/users/alice/followers?page=0")),
				vocab.WithNext(vocab.MustParseURL(baseURL+"/users/alice/followers?page=1")),
				vocab.WithTotalItems(3),
			))

		case "page=1":
			respBytes, err = vocab.Marshal(vocab.NewOrderedCollectionPage(
				[]*vocab.ObjectProperty{
					vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL(baseURL + follower3))),
				},
				vocab.WithID(vocab.MustParseURL(baseURL+"/users/alice/followers?page=1")),
				vocab.WithTotalItems(3),
			))
		}

		require.NoError(t, err)

		_, err = w.Write(respBytes)
		require.NoError(t, err)
	}))
	defer server.Close()

	baseURL = server.URL

	c := New(Config{}, transport.Default())

	it, err := c.GetReferences(vocab.MustParseURL(server.URL + "/users/alice/followers"))
	require.NoError(t, err)
	require.Equal(t, 3, it.TotalItems())

	var refs []string

	for {
		ref, err := it.Next()
		if err != nil {
			require.Equal(t, ErrNotFound, err)

			break
		}

		refs = append(refs, ref.String())
	}

	require.Equal(t, []string{baseURL + follower1, baseURL + follower2, baseURL + follower3}, refs)
}

func TestClient_GetReferences_Actor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		actorBytes, err := vocab.Marshal(vocab.NewPerson(
			vocab.MustParseURL("http://" + req.Host + "/users/alice")))
		require.NoError(t, err)

		_, err = w.Write(actorBytes)
		require.NoError(t, err)
	}))
	defer server.Close()

	c := New(Config{}, transport.Default())

	it, err := c.GetReferences(vocab.MustParseURL(server.URL + "/users/alice"))
	require.NoError(t, err)
	require.Equal(t, 1, it.TotalItems())

	ref, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, server.URL+"/users/alice", ref.String())

	_, err = it.Next()
	require.Equal(t, ErrNotFound, err)
}

func TestClient_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/unavailable":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	c := New(Config{}, transport.Default())

	_, err := c.GetActor(mustURL(t, server.URL+"/missing"))
	require.True(t, errors.IsNotFound(err))

	_, err = c.GetActor(mustURL(t, server.URL+"/unavailable"))
	require.True(t, errors.IsTransient(err))

	_, err = c.GetActor(mustURL(t, server.URL+"/forbidden"))
	require.Error(t, err)
	require.False(t, errors.IsTransient(err))
}

type mockHandleResolver struct {
	iri *url.URL
	err error
}

func (m *mockHandleResolver) ResolveActorIRI(string) (*url.URL, error) {
	if m.err != nil {
		return nil, m.err
	}

	return m.iri, nil
}

func TestClient_ResolveActor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		actorIRI := vocab.MustParseURL("http://" + req.Host + "/users/alice")

		actorBytes, err := vocab.Marshal(vocab.NewPerson(actorIRI,
			vocab.WithPreferredUsername("alice"),
		))
		require.NoError(t, err)

		_, err = w.Write(actorBytes)
		require.NoError(t, err)
	}))
	defer server.Close()

	t.Run("Success", func(t *testing.T) {
		c := New(Config{}, transport.Default(), WithHandleResolver(&mockHandleResolver{
			iri: vocab.MustParseURL(server.URL + "/users/alice"),
		}))

		actor, err := c.ResolveActor("alice@orchard.example")
		require.NoError(t, err)
		require.Equal(t, "alice", actor.PreferredUsername())
	})

	t.Run("No resolver configured", func(t *testing.T) {
		c := New(Config{}, transport.Default())

		_, err := c.ResolveActor("alice@orchard.example")
		require.Error(t, err)
		require.Contains(t, err.Error(), "no handle resolver")
	})
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}
