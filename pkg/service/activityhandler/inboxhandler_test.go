/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	service "github.com/kestrelsoc/kestrel/pkg/service/spi"
	"github.com/kestrelsoc/kestrel/pkg/store/memstore"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

//nolint:gochecknoglobals
var (
	baseURL    = vocab.MustParseURL("https://orchard.example")
	aliceIRI   = vocab.MustParseURL("https://orchard.example/users/alice")
	bobIRI     = vocab.MustParseURL("https://plum.example/users/bob")
	malloryIRI = vocab.MustParseURL("https://quince.example/users/mallory")
)

type mockOutbox struct {
	mutex      sync.Mutex
	activities []*vocab.ActivityType
	err        error
}

func (m *mockOutbox) Start() {}

func (m *mockOutbox) Stop() {}

func (m *mockOutbox) State() lifecycle.State { return lifecycle.StateStarted }

func (m *mockOutbox) Post(activity *vocab.ActivityType) (*url.URL, error) {
	if m.err != nil {
		return nil, m.err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.activities = append(m.activities, activity)

	return activity.ID().URL(), nil
}

func (m *mockOutbox) Activities() []*vocab.ActivityType {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]*vocab.ActivityType{}, m.activities...)
}

type mockActorSource struct {
	actors map[string]*vocab.ActorType
	err    error
}

func (m *mockActorSource) GetActor(iri *url.URL) (*vocab.ActorType, error) {
	if m.err != nil {
		return nil, m.err
	}

	actor, ok := m.actors[iri.String()]
	if !ok {
		return nil, kestrelerrors.NewNotFoundf("actor not found: %s", iri)
	}

	return actor, nil
}

func newInboxForTest(t *testing.T, s store.Store, opts ...service.HandlerOpt) (*Inbox, *mockOutbox) {
	t.Helper()

	outbox := &mockOutbox{}

	client := &mockActorSource{
		actors: map[string]*vocab.ActorType{
			bobIRI.String(): vocab.NewPerson(bobIRI, vocab.WithPreferredUsername("bob")),
		},
	}

	h := NewInbox(&Config{ServiceName: "inbox", BaseURL: baseURL}, s, outbox, client, opts...)

	h.Start()
	t.Cleanup(h.Stop)

	return h, outbox
}

func TestInbox_HandleUnsupportedActivity(t *testing.T) {
	h, _ := newInboxForTest(t, memstore.New("inbox"))

	activity := &vocab.ActivityType{}
	require.NoError(t, json.Unmarshal(
		[]byte(`{"id":"https://plum.example/users/bob/activities/a0","type":"Move","actor":"https://plum.example/users/bob"}`), //nolint:lll
		activity))

	err := h.HandleActivity(activity)
	require.Error(t, err)
	require.True(t, kestrelerrors.IsBadRequest(err))
}

func TestInbox_HandleCreateActivity(t *testing.T) {
	s := memstore.New("inbox")
	h, _ := newInboxForTest(t, s)

	objIRI := vocab.MustParseURL("https://plum.example/users/bob/objects/o1")

	t.Run("success", func(t *testing.T) {
		create := vocab.NewCreateActivity(
			vocab.NewObjectProperty(vocab.WithObject(
				vocab.NewObject(
					vocab.WithID(objIRI),
					vocab.WithType(vocab.TypeNote),
					vocab.WithContent("hello"),
					vocab.WithAttributedTo(bobIRI),
				),
			)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(create))

		obj, err := s.GetObject(objIRI)
		require.NoError(t, err)
		require.Equal(t, "hello", obj.Content())
	})

	t.Run("reply to local object -> replies reference", func(t *testing.T) {
		parentIRI := vocab.MustParseURL("https://orchard.example/users/alice/objects/p1")
		replyIRI := vocab.MustParseURL("https://plum.example/users/bob/objects/r1")

		create := vocab.NewCreateActivity(
			vocab.NewObjectProperty(vocab.WithObject(
				vocab.NewObject(
					vocab.WithID(replyIRI),
					vocab.WithType(vocab.TypeNote),
					vocab.WithInReplyTo(parentIRI),
					vocab.WithAttributedTo(bobIRI),
				),
			)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(create))

		it, err := s.QueryReferences(store.Reply, store.NewCriteria(store.WithObjectIRI(parentIRI)))
		require.NoError(t, err)

		totalItems, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 1, totalItems)
	})

	t.Run("no object -> bad request", func(t *testing.T) {
		create := vocab.NewCreateActivity(
			vocab.NewObjectProperty(vocab.WithIRI(objIRI)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		err := h.HandleActivity(create)
		require.Error(t, err)
		require.True(t, kestrelerrors.IsBadRequest(err))
	})
}

func TestInbox_HandleUpdateActivity(t *testing.T) {
	s := memstore.New("inbox")
	h, _ := newInboxForTest(t, s)

	objIRI := vocab.MustParseURL("https://plum.example/users/bob/objects/o1")

	require.NoError(t, s.PutObject(vocab.NewObject(
		vocab.WithID(objIRI),
		vocab.WithType(vocab.TypeNote),
		vocab.WithContent("hello"),
		vocab.WithAttributedTo(bobIRI),
	)))

	t.Run("success", func(t *testing.T) {
		update := vocab.NewUpdateActivity(
			vocab.NewObjectProperty(vocab.WithObject(
				vocab.NewObject(
					vocab.WithID(objIRI),
					vocab.WithType(vocab.TypeNote),
					vocab.WithContent("hello again"),
					vocab.WithAttributedTo(bobIRI),
				),
			)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(update))

		obj, err := s.GetObject(objIRI)
		require.NoError(t, err)
		require.Equal(t, "hello again", obj.Content())
		require.NotNil(t, obj.Updated())
	})

	t.Run("not the owner -> bad request", func(t *testing.T) {
		update := vocab.NewUpdateActivity(
			vocab.NewObjectProperty(vocab.WithObject(
				vocab.NewObject(
					vocab.WithID(objIRI),
					vocab.WithType(vocab.TypeNote),
					vocab.WithContent("hijacked"),
				),
			)),
			vocab.WithID(newActivityIRI(t, malloryIRI)),
			vocab.WithActor(malloryIRI),
		)

		err := h.HandleActivity(update)
		require.Error(t, err)
		require.True(t, kestrelerrors.IsBadRequest(err))
	})
}

func TestInbox_HandleDeleteActivity(t *testing.T) {
	s := memstore.New("inbox")
	h, _ := newInboxForTest(t, s)

	t.Run("object -> tombstone", func(t *testing.T) {
		objIRI := vocab.MustParseURL("https://plum.example/users/bob/objects/o1")

		require.NoError(t, s.PutObject(vocab.NewObject(
			vocab.WithID(objIRI),
			vocab.WithType(vocab.TypeNote),
			vocab.WithAttributedTo(bobIRI),
		)))

		del := vocab.NewDeleteActivity(
			vocab.NewObjectProperty(vocab.WithIRI(objIRI)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(del))

		obj, err := s.GetObject(objIRI)
		require.NoError(t, err)
		require.True(t, obj.Type().Is(vocab.TypeTombstone))
		require.True(t, obj.FormerType().Is(vocab.TypeNote))
		require.NotNil(t, obj.Deleted())
	})

	t.Run("unknown object -> no-op", func(t *testing.T) {
		del := vocab.NewDeleteActivity(
			vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://plum.example/objects/unknown"))),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(del))
	})

	t.Run("actor deletes itself", func(t *testing.T) {
		require.NoError(t, s.PutActor(vocab.NewPerson(bobIRI, vocab.WithPreferredUsername("bob"))))

		del := vocab.NewDeleteActivity(
			vocab.NewObjectProperty(vocab.WithIRI(bobIRI)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(del))

		_, err := s.GetActor(bobIRI)
		require.Equal(t, store.ErrNotFound, err)
	})
}

func TestInbox_HandleFollowActivity(t *testing.T) {
	t.Run("auto-accept", func(t *testing.T) {
		s := memstore.New("inbox")
		h, outbox := newInboxForTest(t, s)

		require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI, vocab.WithPreferredUsername("alice"))))

		follow := vocab.NewFollowActivity(
			vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
			vocab.WithTo(aliceIRI),
		)

		require.NoError(t, h.HandleActivity(follow))

		require.True(t, hasReference(t, s, store.Follower, aliceIRI, bobIRI))

		posted := outbox.Activities()
		require.Len(t, posted, 1)
		require.True(t, posted[0].Type().Is(vocab.TypeAccept))
		require.Equal(t, aliceIRI.String(), posted[0].Actor().String())
		require.True(t, vocab.NewURLCollectionProperty(posted[0].To()...).Contains(bobIRI))

		// A repeated Follow replies with another Accept but adds no duplicate reference.
		require.NoError(t, h.HandleActivity(follow))
		require.Len(t, outbox.Activities(), 2)

		it, err := s.QueryReferences(store.Follower, store.NewCriteria(store.WithObjectIRI(aliceIRI)))
		require.NoError(t, err)

		totalItems, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 1, totalItems)
	})

	t.Run("rejected by follower auth", func(t *testing.T) {
		s := memstore.New("inbox")
		h, outbox := newInboxForTest(t, s, service.WithFollowerAuth(&rejectAllFollowers{}))

		require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI, vocab.WithPreferredUsername("alice"))))

		follow := vocab.NewFollowActivity(
			vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(follow))

		require.False(t, hasReference(t, s, store.Follower, aliceIRI, bobIRI))

		posted := outbox.Activities()
		require.Len(t, posted, 1)
		require.True(t, posted[0].Type().Is(vocab.TypeReject))
	})

	t.Run("manual approval leaves the request pending", func(t *testing.T) {
		s := memstore.New("inbox")
		h, outbox := newInboxForTest(t, s)

		require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI,
			vocab.WithPreferredUsername("alice"),
			vocab.WithManuallyApprovesFollowers(true),
		)))

		follow := vocab.NewFollowActivity(
			vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(follow))

		require.False(t, hasReference(t, s, store.Follower, aliceIRI, bobIRI))
		require.Empty(t, outbox.Activities())
	})

	t.Run("unknown target -> not found", func(t *testing.T) {
		h, _ := newInboxForTest(t, memstore.New("inbox"))

		follow := vocab.NewFollowActivity(
			vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://orchard.example/users/nobody"))),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		err := h.HandleActivity(follow)
		require.Error(t, err)
		require.True(t, kestrelerrors.IsNotFound(err))
	})

	t.Run("remote target -> ignored", func(t *testing.T) {
		h, outbox := newInboxForTest(t, memstore.New("inbox"))

		follow := vocab.NewFollowActivity(
			vocab.NewObjectProperty(vocab.WithIRI(malloryIRI)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(follow))
		require.Empty(t, outbox.Activities())
	})
}

func TestInbox_HandleAcceptRejectActivity(t *testing.T) {
	s := memstore.New("inbox")
	h, _ := newInboxForTest(t, s)

	follow := vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(bobIRI)),
		vocab.WithID(newActivityIRI(t, aliceIRI)),
		vocab.WithActor(aliceIRI),
	)

	accept := vocab.NewAcceptActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithID(newActivityIRI(t, bobIRI)),
		vocab.WithActor(bobIRI),
	)

	require.NoError(t, h.HandleActivity(accept))
	require.True(t, hasReference(t, s, store.Following, aliceIRI, bobIRI))

	reject := vocab.NewRejectActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithID(newActivityIRI(t, bobIRI)),
		vocab.WithActor(bobIRI),
	)

	require.NoError(t, h.HandleActivity(reject))
	require.False(t, hasReference(t, s, store.Following, aliceIRI, bobIRI))

	// A Reject of a Follow that was never recorded is a no-op.
	require.NoError(t, h.HandleActivity(reject))

	t.Run("no embedded Follow -> bad request", func(t *testing.T) {
		accept := vocab.NewAcceptActivity(
			vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		err := h.HandleActivity(accept)
		require.Error(t, err)
		require.True(t, kestrelerrors.IsBadRequest(err))
	})

	t.Run("Follow actor not local -> ignored", func(t *testing.T) {
		remoteFollow := vocab.NewFollowActivity(
			vocab.NewObjectProperty(vocab.WithIRI(bobIRI)),
			vocab.WithID(newActivityIRI(t, malloryIRI)),
			vocab.WithActor(malloryIRI),
		)

		accept := vocab.NewAcceptActivity(
			vocab.NewObjectProperty(vocab.WithActivity(remoteFollow)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(accept))
		require.False(t, hasReference(t, s, store.Following, malloryIRI, bobIRI))
	})
}

func TestInbox_HandleLikeAndAnnounceActivity(t *testing.T) {
	s := memstore.New("inbox")
	h, _ := newInboxForTest(t, s)

	localObjIRI := vocab.MustParseURL("https://orchard.example/users/alice/objects/o1")
	remoteObjIRI := vocab.MustParseURL("https://quince.example/objects/o2")

	like := vocab.NewLikeActivity(
		vocab.NewObjectProperty(vocab.WithIRI(localObjIRI)),
		vocab.WithID(newActivityIRI(t, bobIRI)),
		vocab.WithActor(bobIRI),
	)

	require.NoError(t, h.HandleActivity(like))
	require.True(t, hasReference(t, s, store.Like, localObjIRI, like.ID().URL()))

	announce := vocab.NewAnnounceActivity(
		vocab.NewObjectProperty(vocab.WithIRI(localObjIRI)),
		vocab.WithID(newActivityIRI(t, bobIRI)),
		vocab.WithActor(bobIRI),
	)

	require.NoError(t, h.HandleActivity(announce))
	require.True(t, hasReference(t, s, store.Share, localObjIRI, announce.ID().URL()))

	// Likes of remote objects are not indexed locally.
	remoteLike := vocab.NewLikeActivity(
		vocab.NewObjectProperty(vocab.WithIRI(remoteObjIRI)),
		vocab.WithID(newActivityIRI(t, bobIRI)),
		vocab.WithActor(bobIRI),
	)

	require.NoError(t, h.HandleActivity(remoteLike))
	require.False(t, hasReference(t, s, store.Like, remoteObjIRI, remoteLike.ID().URL()))
}

func TestInbox_HandleUndoActivity(t *testing.T) {
	s := memstore.New("inbox")
	h, _ := newInboxForTest(t, s)

	require.NoError(t, s.PutActor(vocab.NewPerson(aliceIRI, vocab.WithPreferredUsername("alice"))))

	follow := vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)),
		vocab.WithID(newActivityIRI(t, bobIRI)),
		vocab.WithActor(bobIRI),
	)

	require.NoError(t, s.AddActivity(follow))
	require.NoError(t, s.AddReference(store.Follower, aliceIRI, bobIRI))

	t.Run("wrong actor -> bad request", func(t *testing.T) {
		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithIRI(follow.ID().URL())),
			vocab.WithID(newActivityIRI(t, malloryIRI)),
			vocab.WithActor(malloryIRI),
		)

		err := h.HandleActivity(undo)
		require.Error(t, err)
		require.True(t, kestrelerrors.IsBadRequest(err))
		require.True(t, hasReference(t, s, store.Follower, aliceIRI, bobIRI))
	})

	t.Run("success", func(t *testing.T) {
		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithActivity(follow)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(undo))
		require.False(t, hasReference(t, s, store.Follower, aliceIRI, bobIRI))

		// Undoing again is a no-op.
		require.NoError(t, h.HandleActivity(undo))
	})

	t.Run("unknown activity -> no-op", func(t *testing.T) {
		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://plum.example/activities/unknown"))),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(undo))
	})

	t.Run("undo Like", func(t *testing.T) {
		objIRI := vocab.MustParseURL("https://orchard.example/users/alice/objects/o1")

		like := vocab.NewLikeActivity(
			vocab.NewObjectProperty(vocab.WithIRI(objIRI)),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, s.AddActivity(like))
		require.NoError(t, s.AddReference(store.Like, objIRI, like.ID().URL()))

		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithIRI(like.ID().URL())),
			vocab.WithID(newActivityIRI(t, bobIRI)),
			vocab.WithActor(bobIRI),
		)

		require.NoError(t, h.HandleActivity(undo))
		require.False(t, hasReference(t, s, store.Like, objIRI, like.ID().URL()))
	})
}

func TestInbox_Subscribe(t *testing.T) {
	s := memstore.New("inbox")
	h, _ := newInboxForTest(t, s)

	activityChan := h.Subscribe()

	like := vocab.NewLikeActivity(
		vocab.NewObjectProperty(vocab.WithIRI(vocab.MustParseURL("https://quince.example/objects/o1"))),
		vocab.WithID(newActivityIRI(t, bobIRI)),
		vocab.WithActor(bobIRI),
	)

	require.NoError(t, h.HandleActivity(like))

	received := <-activityChan
	require.Equal(t, like.ID().String(), received.ID().String())
}

type rejectAllFollowers struct{}

func (r *rejectAllFollowers) AuthorizeFollower(*vocab.ActorType) (bool, error) {
	return false, nil
}

//nolint:gochecknoglobals
var activitySeq int

func newActivityIRI(t *testing.T, actorIRI *url.URL) *url.URL {
	t.Helper()

	activitySeq++

	return vocab.MustParseURL(fmt.Sprintf("%s/activities/a%d", actorIRI, activitySeq))
}

func hasReference(t *testing.T, s store.Store, refType store.ReferenceType, objectIRI, refIRI *url.URL) bool {
	t.Helper()

	it, err := s.QueryReferences(refType,
		store.NewCriteria(store.WithObjectIRI(objectIRI), store.WithReferenceIRI(refIRI)))
	require.NoError(t, err)

	defer func() {
		require.NoError(t, it.Close())
	}()

	totalItems, err := it.TotalItems()
	require.NoError(t, err)

	return totalItems > 0
}
