/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package delivery

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	service "github.com/kestrelsoc/kestrel/pkg/service/spi"
	"github.com/kestrelsoc/kestrel/pkg/store/memstore"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

//nolint:gochecknoglobals
var (
	baseURL  = vocab.MustParseURL("https://orchard.example")
	aliceIRI = vocab.MustParseURL("https://orchard.example/users/alice")
)

type mockIdentityProvider struct {
	localActor *service.LocalActor
}

func newMockIdentityProvider(t *testing.T) *mockIdentityProvider {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return &mockIdentityProvider{
		localActor: &service.LocalActor{
			Actor:       vocab.NewPerson(aliceIRI, vocab.WithPreferredUsername("alice")),
			PrivateKey:  privateKey,
			PublicKeyID: vocab.MustParseURL("https://orchard.example/users/alice#main-key"),
		},
	}
}

func (m *mockIdentityProvider) ResolveLocalActor(username string) (*service.LocalActor, error) {
	if username != "alice" {
		return nil, kestrelerrors.NewNotFoundf("unknown actor: %s", username)
	}

	return m.localActor, nil
}

func (m *mockIdentityProvider) System() (*service.LocalActor, error) {
	return m.localActor, nil
}

func newServiceForTest(t *testing.T, s store.DeliveryRepo) *Service {
	t.Helper()

	d := New(
		&Config{
			ServiceName:  "delivery",
			BaseURL:      baseURL,
			PollInterval: 10 * time.Millisecond,
			DrainTimeout: time.Second,
		},
		s, newMockIdentityProvider(t), http.DefaultClient,
	)

	d.Start()
	t.Cleanup(d.Stop)

	return d
}

func enqueue(t *testing.T, s store.DeliveryRepo, id, targetInbox string) {
	t.Helper()

	require.NoError(t, s.Enqueue(&store.DeliveryRecord{
		ID:          id,
		ActivityIRI: "https://orchard.example/users/alice/activities/a1",
		ActorIRI:    aliceIRI.String(),
		TargetInbox: targetInbox,
		Payload:     []byte(`{"type":"Like"}`),
		MaxRetries:  5,
	}))
}

func waitForStatus(t *testing.T, s store.DeliveryRepo, id string, status store.DeliveryStatus) *store.DeliveryRecord {
	t.Helper()

	var record *store.DeliveryRecord

	require.Eventually(t, func() bool {
		r, err := s.GetDelivery(id)
		require.NoError(t, err)

		record = r

		return r.Status == status
	}, 5*time.Second, 10*time.Millisecond)

	return record
}

func TestService_Deliver(t *testing.T) {
	var signature atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature.Store(r.Header.Get("Signature"))

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	s := memstore.New("delivery")
	newServiceForTest(t, s)

	enqueue(t, s, "d1", server.URL+"/inbox")

	record := waitForStatus(t, s, "d1", store.DeliveryDelivered)
	require.False(t, record.CompletedAt.IsZero())

	// The request was signed with the actor's key.
	sig, _ := signature.Load().(string)
	require.Contains(t, sig, "https://orchard.example/users/alice#main-key")
}

func TestService_RetryOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := memstore.New("delivery")
	newServiceForTest(t, s)

	enqueue(t, s, "d1", server.URL+"/inbox")

	record := waitForStatus(t, s, "d1", store.DeliveryFailed)
	require.Equal(t, 1, record.Attempts)
	require.Contains(t, record.LastError, "500")

	// The first retry is scheduled a minute out.
	require.True(t, record.NotBefore.After(time.Now().Add(50*time.Second)))
}

func TestService_DeadOnRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	s := memstore.New("delivery")
	newServiceForTest(t, s)

	enqueue(t, s, "d1", server.URL+"/inbox")

	record := waitForStatus(t, s, "d1", store.DeliveryDead)
	require.Contains(t, record.LastError, "403")
}

func TestService_RetryAfterHonored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "300")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := memstore.New("delivery")
	newServiceForTest(t, s)

	enqueue(t, s, "d1", server.URL+"/inbox")

	record := waitForStatus(t, s, "d1", store.DeliveryFailed)

	// Retry-After (5 minutes) overrides the first backoff step (1 minute).
	require.True(t, record.NotBefore.After(time.Now().Add(4*time.Minute)))
}

func TestService_RetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := memstore.New("delivery")
	newServiceForTest(t, s)

	require.NoError(t, s.Enqueue(&store.DeliveryRecord{
		ID:          "d1",
		ActorIRI:    aliceIRI.String(),
		TargetInbox: server.URL + "/inbox",
		Payload:     []byte(`{"type":"Like"}`),
		MaxRetries:  2,
	}))

	// First attempt fails; record is rescheduled for the future so make it due again.
	record := waitForStatus(t, s, "d1", store.DeliveryFailed)
	require.Equal(t, 1, record.Attempts)

	require.NoError(t, s.MarkFailed("d1", record.LastError, time.Now()))

	// The second failure exhausts the retry budget.
	waitForStatus(t, s, "d1", store.DeliveryDead)
}

func TestService_ParseRetryAfter(t *testing.T) {
	_, ok := parseRetryAfter("")
	require.False(t, ok)

	_, ok = parseRetryAfter("not-a-date")
	require.False(t, ok)

	at, ok := parseRetryAfter("60")
	require.True(t, ok)
	require.True(t, at.After(time.Now().Add(59*time.Second)))

	at, ok = parseRetryAfter(time.Now().UTC().Add(time.Hour).Format(http.TimeFormat))
	require.True(t, ok)
	require.True(t, at.After(time.Now().Add(59*time.Minute)))
}
