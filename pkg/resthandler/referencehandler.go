/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

// Paths of the reference collection endpoints.
const (
	FollowersPath = "/users/{username}/followers"
	FollowingPath = "/users/{username}/following"
	LikedPath     = "/users/{username}/liked"
	SharedPath    = "/users/{username}/shared"
	RepliesPath   = "/users/{username}/objects/{id}/replies"
	LikesPath     = "/users/{username}/objects/{id}/likes"
	SharesPath    = "/users/{username}/objects/{id}/shares"
)

type getObjectIRIFunc func(req *http.Request) (*url.URL, error)

// Reference implements a REST handler that serves a reference collection as
// IRIs, either as a summary document or one page at a time.
type Reference struct {
	*handler

	refType      store.ReferenceType
	suffix       string
	getObjectIRI getObjectIRIFunc
}

// NewFollowers returns a new 'followers' REST handler that serves the actors
// following a local actor.
func NewFollowers(cfg *Config, activityStore store.Store) *Reference {
	return NewReference(FollowersPath, store.Follower, "followers", cfg, activityStore, getActorObjectIRI)
}

// NewFollowing returns a new 'following' REST handler that serves the actors
// that a local actor is following.
func NewFollowing(cfg *Config, activityStore store.Store) *Reference {
	return NewReference(FollowingPath, store.Following, "following", cfg, activityStore, getActorObjectIRI)
}

// NewLiked returns a new 'liked' REST handler that serves the objects that a
// local actor has liked.
func NewLiked(cfg *Config, activityStore store.Store) *Reference {
	return NewReference(LikedPath, store.Liked, "liked", cfg, activityStore, getActorObjectIRI)
}

// NewShared returns a new 'shared' REST handler that serves the objects that a
// local actor has announced.
func NewShared(cfg *Config, activityStore store.Store) *Reference {
	return NewReference(SharedPath, store.Shared, "shared", cfg, activityStore, getActorObjectIRI)
}

// NewReplies returns a new 'replies' REST handler that serves the objects
// posted in reply to a local object.
func NewReplies(cfg *Config, activityStore store.Store) *Reference {
	return NewReference(RepliesPath, store.Reply, "replies", cfg, activityStore, (*handler).getObjectIRI)
}

// NewLikes returns a new 'likes' REST handler that serves the Like activities
// on a local object.
func NewLikes(cfg *Config, activityStore store.Store) *Reference {
	return NewReference(LikesPath, store.Like, "likes", cfg, activityStore, (*handler).getObjectIRI)
}

// NewShares returns a new 'shares' REST handler that serves the Announce
// activities on a local object.
func NewShares(cfg *Config, activityStore store.Store) *Reference {
	return NewReference(SharesPath, store.Share, "shares", cfg, activityStore, (*handler).getObjectIRI)
}

// NewReference returns a new reference collection REST handler.
func NewReference(path string, refType store.ReferenceType, suffix string, cfg *Config,
	activityStore store.Store, getObjectIRI func(h *handler, req *http.Request) (*url.URL, error)) *Reference {
	h := &Reference{
		refType: refType,
		suffix:  suffix,
	}

	h.handler = newHandler(path, http.MethodGet, cfg, activityStore, nil, h.handleGet)
	h.getObjectIRI = func(req *http.Request) (*url.URL, error) {
		return getObjectIRI(h.handler, req)
	}

	return h
}

func (h *Reference) handleGet(w http.ResponseWriter, req *http.Request) {
	objectIRI, err := h.getObjectIRI(req)
	if err != nil {
		h.writeError(w, err)

		return
	}

	id := vocab.MustParseURL(fmt.Sprintf("%s/%s", objectIRI, h.suffix))

	var doc interface{}

	if h.isPaging(req) {
		doc, err = h.getPage(req, objectIRI, id)
	} else {
		doc, err = h.getReference(objectIRI, id)
	}

	if err != nil {
		logger.Error("Error retrieving references", log.WithReferenceType(string(h.refType)),
			log.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeError(w, err)

		return
	}

	docBytes, err := h.marshal(doc)
	if err != nil {
		h.writeError(w, err)

		return
	}

	h.writeResponse(w, http.StatusOK, docBytes)
}

// getReference returns the collection summary: the total number of items and a
// link to the first page.
func (h *Reference) getReference(objectIRI, id *url.URL) (interface{}, error) {
	it, err := h.activityStore.QueryReferences(h.refType,
		store.NewCriteria(store.WithObjectIRI(objectIRI)))
	if err != nil {
		return nil, err
	}

	defer closeIterator(it)

	totalItems, err := it.TotalItems()
	if err != nil {
		return nil, err
	}

	return vocab.NewOrderedCollection(nil,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(id),
		vocab.WithFirst(h.getPageURL(id, 0)),
		vocab.WithTotalItems(totalItems),
	), nil
}

func (h *Reference) getPage(req *http.Request, objectIRI, id *url.URL) (interface{}, error) {
	pageNum, _ := h.getPageNum(req)
	pageSize := h.pageSize(req)

	it, err := h.activityStore.QueryReferences(h.refType,
		store.NewCriteria(store.WithObjectIRI(objectIRI)),
		store.WithPageSize(pageSize),
		store.WithPageNum(pageNum),
		store.WithSortOrder(store.SortDescending),
	)
	if err != nil {
		return nil, err
	}

	defer closeIterator(it)

	totalItems, err := it.TotalItems()
	if err != nil {
		return nil, err
	}

	refs, err := readReferences(it)
	if err != nil {
		return nil, err
	}

	items := make([]*vocab.ObjectProperty, len(refs))

	for i, ref := range refs {
		items[i] = vocab.NewObjectProperty(vocab.WithIRI(ref))
	}

	prev, next := h.getPrevNextURLs(id, totalItems, pageNum, pageSize)

	return vocab.NewOrderedCollectionPage(items,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(h.getPageURL(id, pageNum)),
		vocab.WithPartOf(id),
		vocab.WithPrev(prev),
		vocab.WithNext(next),
		vocab.WithTotalItems(totalItems),
	), nil
}

func getActorObjectIRI(h *handler, req *http.Request) (*url.URL, error) {
	username, err := getUsername(req)
	if err != nil {
		return nil, err
	}

	return h.actorIRI(username), nil
}

func readReferences(it store.ReferenceIterator) ([]*url.URL, error) {
	var refs []*url.URL

	for {
		ref, err := it.Next()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return refs, nil
			}

			return nil, err
		}

		refs = append(refs, ref)
	}
}
