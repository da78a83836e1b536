/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbox

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	"github.com/kestrelsoc/kestrel/pkg/pubsub/mempubsub"
	"github.com/kestrelsoc/kestrel/pkg/store/memstore"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

//nolint:gochecknoglobals
var (
	serviceIRI = vocab.MustParseURL("https://orchard.example/services/main")
	baseURL    = vocab.MustParseURL("https://orchard.example")
	aliceIRI   = vocab.MustParseURL("https://orchard.example/users/alice")
	bobIRI     = vocab.MustParseURL("https://plum.example/users/bob")
)

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

type mockActivityHandler struct {
	mutex      sync.Mutex
	activities []*vocab.ActivityType
	err        error
}

func (m *mockActivityHandler) Start() {}

func (m *mockActivityHandler) Stop() {}

func (m *mockActivityHandler) State() lifecycle.State { return lifecycle.StateStarted }

func (m *mockActivityHandler) HandleActivity(activity *vocab.ActivityType) error {
	if m.err != nil {
		return m.err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.activities = append(m.activities, activity)

	return nil
}

func (m *mockActivityHandler) Subscribe() <-chan *vocab.ActivityType {
	return nil
}

func (m *mockActivityHandler) Activities() []*vocab.ActivityType {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]*vocab.ActivityType{}, m.activities...)
}

func newInboxForTest(t *testing.T, s store.Store) (*Inbox, *mockActivityHandler, *mux.Router) {
	t.Helper()

	pubSub := mempubsub.New(mempubsub.DefaultConfig())
	t.Cleanup(func() {
		require.NoError(t, pubSub.Close())
	})

	handler := &mockActivityHandler{}

	ib, err := New(
		&Config{
			ServiceEndpoint: "/inbox",
			ServiceIRI:      serviceIRI,
			BaseURL:         baseURL,
			Topic:           "kestrel.activities",
		},
		s, pubSub, handler, &mockVerifier{actorIRI: bobIRI},
	)
	require.NoError(t, err)

	ib.Start()
	t.Cleanup(ib.Stop)

	router := mux.NewRouter()
	router.HandleFunc("/users/{username}/inbox", ib.HTTPHandler()).Methods(http.MethodPost)
	router.HandleFunc("/inbox", ib.HTTPHandler()).Methods(http.MethodPost)

	return ib, handler, router
}

func post(t *testing.T, router *mux.Router, path string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rw := httptest.NewRecorder()

	router.ServeHTTP(rw, req)

	return rw
}

func TestInbox_PersonalInbox(t *testing.T) {
	s := memstore.New("inbox")
	_, handler, router := newInboxForTest(t, s)

	require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI, vocab.WithPreferredUsername("alice"))))

	activityIRI := vocab.MustParseURL("https://plum.example/users/bob/activities/a1")

	like := vocab.NewLikeActivity(
		vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://orchard.example/users/alice/objects/o1"))),
		vocab.WithID(activityIRI),
		vocab.WithActor(bobIRI),
		vocab.WithTo(aliceIRI),
	)

	payload, err := vocab.Marshal(like)
	require.NoError(t, err)

	rw := post(t, router, "/users/alice/inbox", payload)
	require.Equal(t, http.StatusOK, rw.Code)

	// Processing is asynchronous: a 200 means the activity was queued.
	require.Eventually(t, func() bool {
		_, err := s.GetActivity(activityIRI)

		return err == nil
	}, time.Second, 10*time.Millisecond)

	it, err := s.QueryReferences(store.Inbox, store.NewCriteria(store.WithObjectIRI(aliceIRI)))
	require.NoError(t, err)

	totalItems, err := it.TotalItems()
	require.NoError(t, err)
	require.Equal(t, 1, totalItems)

	require.Len(t, handler.Activities(), 1)

	t.Run("duplicate delivery -> 202", func(t *testing.T) {
		rw := post(t, router, "/users/alice/inbox", payload)
		require.Equal(t, http.StatusAccepted, rw.Code)
		require.Len(t, handler.Activities(), 1)
	})

	t.Run("same ID with different content -> 409", func(t *testing.T) {
		conflicting := vocab.NewLikeActivity(
			vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://orchard.example/users/alice/objects/o2"))),
			vocab.WithID(activityIRI),
			vocab.WithActor(bobIRI),
			vocab.WithTo(aliceIRI),
		)

		conflictingPayload, err := vocab.Marshal(conflicting)
		require.NoError(t, err)

		rw := post(t, router, "/users/alice/inbox", conflictingPayload)
		require.Equal(t, http.StatusConflict, rw.Code)
	})

	t.Run("unknown owner -> activity is not processed", func(t *testing.T) {
		activityIRI := vocab.MustParseURL("https://plum.example/users/bob/activities/a2")

		like := vocab.NewLikeActivity(
			vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://orchard.example/users/alice/objects/o1"))),
			vocab.WithID(activityIRI),
			vocab.WithActor(bobIRI),
		)

		payload, err := vocab.Marshal(like)
		require.NoError(t, err)

		rw := post(t, router, "/users/nobody/inbox", payload)
		require.Equal(t, http.StatusOK, rw.Code)

		time.Sleep(100 * time.Millisecond)

		_, err = s.GetActivity(activityIRI)
		require.Equal(t, store.ErrNotFound, err)
	})
}

func TestInbox_SharedInbox(t *testing.T) {
	s := memstore.New("inbox")
	_, _, router := newInboxForTest(t, s)

	require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI, vocab.WithPreferredUsername("alice"))))

	// carol is a local follower of alice; dave is a remote follower.
	carolIRI := vocab.MustParseURL("https://orchard.example/users/carol")
	require.NoError(t, s.PutActor(vocab.NewPerson(carolIRI, vocab.WithPreferredUsername("carol"))))
	require.NoError(t, s.AddReference(store.Follower, aliceIRI, carolIRI))
	require.NoError(t, s.AddReference(store.Follower, aliceIRI, vocab.MustParseURL("https://quince.example/users/dave")))

	announce := vocab.NewAnnounceActivity(
		vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://plum.example/objects/o1"))),
		vocab.WithID(vocab.MustParseURL("https://plum.example/users/bob/activities/a1")),
		vocab.WithActor(bobIRI),
		vocab.WithTo(vocab.PublicIRI, vocab.MustParseURL("https://orchard.example/users/alice/followers")),
		vocab.WithCC(aliceIRI),
	)

	payload, err := vocab.Marshal(announce)
	require.NoError(t, err)

	rw := post(t, router, "/inbox", payload)
	require.Equal(t, http.StatusOK, rw.Code)

	// alice (cc), carol (local follower of alice), and the service (public)
	// each get an inbox reference. The remote follower does not.
	for _, recipient := range []*url.URL{aliceIRI, carolIRI, serviceIRI} {
		recipient := recipient

		require.Eventually(t, func() bool {
			it, err := s.QueryReferences(store.Inbox, store.NewCriteria(store.WithObjectIRI(recipient)))
			require.NoError(t, err)

			totalItems, err := it.TotalItems()
			require.NoError(t, err)

			return totalItems == 1
		}, time.Second, 10*time.Millisecond, "expecting an inbox reference for %s", recipient)
	}
}

func TestInbox_RejectedRequests(t *testing.T) {
	s := memstore.New("inbox")
	_, _, router := newInboxForTest(t, s)

	t.Run("invalid JSON -> 400", func(t *testing.T) {
		rw := post(t, router, "/inbox", []byte("{"))
		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("no ID -> 400", func(t *testing.T) {
		payload, err := vocab.Marshal(vocab.NewLikeActivity(
			vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)),
			vocab.WithActor(bobIRI),
		))
		require.NoError(t, err)

		rw := post(t, router, "/inbox", payload)
		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("unsupported type -> 202", func(t *testing.T) {
		payload := []byte(`{"id":"https://plum.example/users/bob/activities/a9","type":"Move","actor":"https://plum.example/users/bob"}`) //nolint:lll

		rw := post(t, router, "/inbox", payload)
		require.Equal(t, http.StatusAccepted, rw.Code)

		// The activity was not persisted.
		_, err := s.GetActivity(vocab.MustParseURL("https://plum.example/users/bob/activities/a9"))
		require.Equal(t, store.ErrNotFound, err)
	})

	t.Run("actor does not match the signer -> 401", func(t *testing.T) {
		payload, err := vocab.Marshal(vocab.NewLikeActivity(
			vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)),
			vocab.WithID(vocab.MustParseURL("https://quince.example/users/mallory/activities/a1")),
			vocab.WithActor(vocab.MustParseURL("https://quince.example/users/mallory")),
		))
		require.NoError(t, err)

		rw := post(t, router, "/inbox", payload)
		require.Equal(t, http.StatusUnauthorized, rw.Code)
	})
}
