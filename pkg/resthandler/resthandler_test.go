/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/store/memstore"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

var (
	baseURL  = vocab.MustParseURL("https://orchard.example")
	aliceIRI = vocab.MustParseURL("https://orchard.example/users/alice")
	bobIRI   = vocab.MustParseURL("https://plum.example/users/bob")
)

func newConfig() *Config {
	return &Config{
		BaseURL:  baseURL,
		PageSize: 4,
	}
}

type mockVerifier struct {
	actorIRI *url.URL
	err      error
}

func (m *mockVerifier) VerifyRequest(*http.Request) (*url.URL, error) {
	if m.err != nil {
		return nil, m.err
	}

	if m.actorIRI == nil {
		return nil, kestrelerrors.NewAuthf("no signature on request")
	}

	return m.actorIRI, nil
}

type restHandler interface {
	Path() string
	Method() string
	Handler() http.HandlerFunc
}

// invoke routes the request through a mux router so that the path variables
// are populated.
func invoke(t *testing.T, h restHandler, req *http.Request) *http.Response {
	t.Helper()

	router := mux.NewRouter()
	router.HandleFunc(h.Path(), h.Handler()).Methods(h.Method())

	rw := httptest.NewRecorder()

	router.ServeHTTP(rw, req)

	return rw.Result()
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return body
}

func TestActor_Handler(t *testing.T) {
	activityStore := memstore.New("orchard")

	require.NoError(t, activityStore.PutActor(vocab.NewPerson(aliceIRI,
		vocab.WithPreferredUsername("alice"))))

	h := NewActor(newConfig(), activityStore)

	require.Equal(t, ActorPath, h.Path())
	require.Equal(t, http.MethodGet, h.Method())
	require.NotNil(t, h.Handler())

	t.Run("Success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://orchard.example/users/alice", nil)

		resp := invoke(t, h, req)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, ActivityStreamsContentType, resp.Header.Get("Content-Type"))

		actor := &vocab.ActorType{}
		require.NoError(t, json.Unmarshal(readBody(t, resp), actor))
		require.Equal(t, aliceIRI.String(), actor.ID().String())
		require.Equal(t, "alice", actor.PreferredUsername())
	})

	t.Run("Not found -> 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://orchard.example/users/carol", nil)

		resp := invoke(t, h, req)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestObject_Handler(t *testing.T) {
	activityStore := memstore.New("orchard")

	objIRI := vocab.MustParseURL("https://orchard.example/users/alice/objects/o1")

	require.NoError(t, activityStore.PutObject(vocab.NewObject(
		vocab.WithID(objIRI),
		vocab.WithType(vocab.TypeNote),
		vocab.WithContent("An evening note"),
	)))

	h := NewObject(newConfig(), activityStore)

	require.Equal(t, ObjectPath, h.Path())
	require.Equal(t, http.MethodGet, h.Method())

	t.Run("Success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, objIRI.String(), nil)

		resp := invoke(t, h, req)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		obj := &vocab.ObjectType{}
		require.NoError(t, json.Unmarshal(readBody(t, resp), obj))
		require.Equal(t, "An evening note", obj.Content())
	})

	t.Run("Tombstone is served after delete", func(t *testing.T) {
		tombIRI := vocab.MustParseURL("https://orchard.example/users/alice/objects/o2")

		require.NoError(t, activityStore.PutObject(vocab.NewObject(
			vocab.WithID(tombIRI),
			vocab.WithType(vocab.TypeTombstone),
			vocab.WithFormerType(vocab.TypeNote),
		)))

		req := httptest.NewRequest(http.MethodGet, tombIRI.String(), nil)

		resp := invoke(t, h, req)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		obj := &vocab.ObjectType{}
		require.NoError(t, json.Unmarshal(readBody(t, resp), obj))
		require.True(t, obj.Type().Is(vocab.TypeTombstone))
	})

	t.Run("Not found -> 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"https://orchard.example/users/alice/objects/unknown", nil)

		resp := invoke(t, h, req)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServices_Handler(t *testing.T) {
	activityStore := memstore.New("orchard")

	serviceIRI := vocab.MustParseURL("https://orchard.example/services/main")

	require.NoError(t, activityStore.PutActor(vocab.NewService(serviceIRI,
		vocab.WithPreferredUsername("sys"))))

	h := NewServices(newConfig(), activityStore, "sys")

	require.Equal(t, ServicesPath, h.Path())
	require.Equal(t, http.MethodGet, h.Method())

	t.Run("Success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, serviceIRI.String(), nil)

		resp := invoke(t, h, req)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		actor := &vocab.ActorType{}
		require.NoError(t, json.Unmarshal(readBody(t, resp), actor))
		require.Equal(t, serviceIRI.String(), actor.ID().String())
		require.True(t, actor.Type().Is(vocab.TypeService))
	})

	t.Run("Not provisioned -> 500", func(t *testing.T) {
		unknown := NewServices(newConfig(), memstore.New("empty"), "sys")

		req := httptest.NewRequest(http.MethodGet, serviceIRI.String(), nil)

		resp := invoke(t, unknown, req)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}
