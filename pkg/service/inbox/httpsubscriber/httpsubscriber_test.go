/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsubscriber

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	"github.com/kestrelsoc/kestrel/pkg/store/memstore"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

const endpoint = "/inbox"

//nolint:gochecknoglobals
var bobIRI = vocab.MustParseURL("https://plum.example/users/bob")

type mockVerifier struct {
	actorIRI *url.URL
	err      error
}

func (m *mockVerifier) VerifyRequest(*http.Request) (*url.URL, error) {
	if m.err != nil {
		return nil, m.err
	}

	return m.actorIRI, nil
}

func TestNew(t *testing.T) {
	s := New(&Config{ServiceEndpoint: endpoint}, &mockVerifier{actorIRI: bobIRI},
		memstore.New("httpsubscriber"))
	require.NotNil(t, s)

	require.Equal(t, lifecycle.StateStarted, s.State())

	require.NoError(t, s.Close())

	require.Equal(t, lifecycle.StateStopped, s.State())
}

func TestSubscriber_HandleAck(t *testing.T) {
	s := New(&Config{ServiceEndpoint: endpoint}, &mockVerifier{actorIRI: bobIRI},
		memstore.New("httpsubscriber"))
	require.NotNil(t, s)

	defer s.Stop()

	msgChan, err := s.Subscribe(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, msgChan)

	go func() {
		for msg := range msgChan {
			msg.Ack()
		}
	}()

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, endpoint,
		bytes.NewReader(newLikePayload(t, "https://plum.example/users/bob/activities/ack1")))

	s.HandleRequest(rw, req)

	result := rw.Result()
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.NoError(t, result.Body.Close())
}

func TestSubscriber_HandleNack(t *testing.T) {
	s := New(&Config{ServiceEndpoint: endpoint}, &mockVerifier{actorIRI: bobIRI},
		memstore.New("httpsubscriber"))
	require.NotNil(t, s)

	defer s.Stop()

	msgChan, err := s.Subscribe(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, msgChan)

	go func() {
		for msg := range msgChan {
			msg.Nack()
		}
	}()

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, endpoint,
		bytes.NewReader(newLikePayload(t, "https://plum.example/users/bob/activities/nack1")))

	s.HandleRequest(rw, req)

	result := rw.Result()
	require.Equal(t, http.StatusInternalServerError, result.StatusCode)
	require.NoError(t, result.Body.Close())
}

func TestSubscriber_HandleRequestTimeout(t *testing.T) {
	s := New(&Config{ServiceEndpoint: endpoint}, &mockVerifier{actorIRI: bobIRI},
		memstore.New("httpsubscriber"))
	require.NotNil(t, s)

	defer s.Stop()

	_, err := s.Subscribe(context.Background(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		bytes.NewReader(newLikePayload(t, "https://plum.example/users/bob/activities/timeout1")))
	require.NoError(t, err)

	rw := httptest.NewRecorder()

	s.HandleRequest(rw, req)

	result := rw.Result()
	require.Equal(t, http.StatusInternalServerError, result.StatusCode)
	require.NoError(t, result.Body.Close())
}

func TestSubscriber_Close(t *testing.T) {
	t.Run("Publish when stopped", func(t *testing.T) {
		s := New(&Config{ServiceEndpoint: endpoint}, &mockVerifier{actorIRI: bobIRI},
			memstore.New("httpsubscriber"))
		require.NotNil(t, s)

		_, err := s.Subscribe(context.Background(), "")
		require.NoError(t, err)

		s.Stop()

		rw := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, endpoint,
			bytes.NewReader(newLikePayload(t, "https://plum.example/users/bob/activities/stopped1")))

		s.HandleRequest(rw, req)

		result := rw.Result()
		require.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
		require.NoError(t, result.Body.Close())
	})

	t.Run("Respond when stopped", func(t *testing.T) {
		s := New(&Config{ServiceEndpoint: endpoint}, &mockVerifier{actorIRI: bobIRI},
			memstore.New("httpsubscriber"))
		require.NotNil(t, s)

		_, err := s.Subscribe(context.Background(), "")
		require.NoError(t, err)

		var wg sync.WaitGroup

		wg.Add(1)

		go func() {
			defer wg.Done()

			time.Sleep(50 * time.Millisecond)

			s.Stop()
		}()

		rw := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, endpoint,
			bytes.NewReader(newLikePayload(t, "https://plum.example/users/bob/activities/stopped2")))

		s.HandleRequest(rw, req)

		result := rw.Result()
		require.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
		require.NoError(t, result.Body.Close())

		wg.Wait()
	})
}

func TestSubscriber_InvalidHTTPSignature(t *testing.T) {
	s := New(&Config{ServiceEndpoint: endpoint},
		&mockVerifier{err: errors.New("injected verification failure")},
		memstore.New("httpsubscriber"))
	require.NotNil(t, s)

	defer s.Stop()

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, endpoint,
		bytes.NewReader(newLikePayload(t, "https://plum.example/users/bob/activities/unauth1")))

	s.HandleRequest(rw, req)

	result := rw.Result()
	require.Equal(t, http.StatusUnauthorized, result.StatusCode)
	require.NoError(t, result.Body.Close())
}

func TestSubscriber_HTTPSignatureError(t *testing.T) {
	s := New(&Config{ServiceEndpoint: endpoint},
		&mockVerifier{err: kestrelerrors.NewTransient(errors.New("injected verifier error"))},
		memstore.New("httpsubscriber"))
	require.NotNil(t, s)

	defer s.Stop()

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, endpoint,
		bytes.NewReader(newLikePayload(t, "https://plum.example/users/bob/activities/err1")))

	s.HandleRequest(rw, req)

	result := rw.Result()
	require.Equal(t, http.StatusInternalServerError, result.StatusCode)
	require.NoError(t, result.Body.Close())
}

func newLikePayload(t *testing.T, id string) []byte {
	t.Helper()

	like := vocab.NewLikeActivity(
		vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://orchard.example/users/alice/objects/o1"))),
		vocab.WithID(vocab.MustParseURL(id)),
		vocab.WithActor(bobIRI),
	)

	payload, err := vocab.Marshal(like)
	require.NoError(t, err)

	return payload
}
