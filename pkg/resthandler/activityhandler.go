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

	"github.com/gorilla/mux"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

// Paths of the activity collection endpoints.
const (
	InboxPath    = "/users/{username}/inbox"
	OutboxPath   = "/users/{username}/outbox"
	ActivityPath = "/users/{username}/activities/{id}"
)

// Activities implements a REST handler that serves an activity collection,
// either as a summary document or one page at a time.
type Activities struct {
	*handler

	refType store.ReferenceType
	suffix  string
}

// NewInbox returns a new 'inbox' REST handler that serves the activities
// delivered to a local actor. The caller must present a valid HTTP signature.
func NewInbox(cfg *Config, activityStore store.Store, verifier signatureVerifier) *Activities {
	h := &Activities{
		refType: store.Inbox,
		suffix:  "inbox",
	}

	h.handler = newHandler(InboxPath, http.MethodGet, cfg, activityStore, verifier, h.handleGet)

	return h
}

func (h *Activities) handleGet(w http.ResponseWriter, req *http.Request) {
	authorized, _, err := h.authorize(req)
	if err != nil {
		h.writeError(w, err)

		return
	}

	if !authorized {
		h.writeResponse(w, http.StatusUnauthorized, nil)

		return
	}

	h.handleRefsOfType(w, req, h.refType)
}

func (h *Activities) handleRefsOfType(w http.ResponseWriter, req *http.Request, refType store.ReferenceType) {
	username, err := getUsername(req)
	if err != nil {
		h.writeError(w, err)

		return
	}

	actorIRI := h.actorIRI(username)

	id := vocab.MustParseURL(fmt.Sprintf("%s/%s", actorIRI, h.suffix))

	var doc interface{}

	if h.isPaging(req) {
		doc, err = h.getPage(req, actorIRI, id, refType)
	} else {
		doc, err = h.getActivities(actorIRI, id, refType)
	}

	if err != nil {
		logger.Error("Error retrieving activities", log.WithReferenceType(string(refType)),
			log.WithObjectIRI(actorIRI), log.WithError(err))

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

// getActivities returns the collection summary: the total number of items and
// a link to the first page.
func (h *Activities) getActivities(actorIRI, id *url.URL, refType store.ReferenceType) (interface{}, error) {
	it, err := h.activityStore.QueryReferences(refType,
		store.NewCriteria(store.WithObjectIRI(actorIRI)))
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

func (h *Activities) getPage(req *http.Request, actorIRI, id *url.URL,
	refType store.ReferenceType) (interface{}, error) {
	pageNum, _ := h.getPageNum(req)
	pageSize := h.pageSize(req)

	it, err := h.activityStore.QueryActivities(
		store.NewCriteria(
			store.WithReferenceType(refType),
			store.WithObjectIRI(actorIRI),
		),
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

	activities, err := readActivities(it)
	if err != nil {
		return nil, err
	}

	items := make([]*vocab.ObjectProperty, len(activities))

	for i, activity := range activities {
		items[i] = vocab.NewObjectProperty(vocab.WithActivity(activity))
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

// ReadOutbox implements a REST handler that serves a local actor's outbox. An
// authorized caller is given all of the activities in the outbox, while an
// anonymous caller is given only the activities that are addressed to the
// public.
type ReadOutbox struct {
	*Activities
}

// NewOutbox returns a new 'outbox' REST handler.
func NewOutbox(cfg *Config, activityStore store.Store, verifier signatureVerifier) *ReadOutbox {
	h := &ReadOutbox{
		Activities: &Activities{
			refType: store.Outbox,
			suffix:  "outbox",
		},
	}

	h.handler = newHandler(OutboxPath, http.MethodGet, cfg, activityStore, verifier, h.handleGetOutbox)

	return h
}

func (h *ReadOutbox) handleGetOutbox(w http.ResponseWriter, req *http.Request) {
	authorized, _, err := h.authorize(req)
	if err != nil {
		h.writeError(w, err)

		return
	}

	if authorized {
		h.handleRefsOfType(w, req, store.Outbox)
	} else {
		h.handleRefsOfType(w, req, store.PublicOutbox)
	}
}

// Activity implements the REST handler that serves a single activity document.
// An activity that is not addressed to the public requires an authorized
// caller.
type Activity struct {
	*handler
}

// NewActivity returns a new activity document REST handler.
func NewActivity(cfg *Config, activityStore store.Store, verifier signatureVerifier) *Activity {
	h := &Activity{}

	h.handler = newHandler(ActivityPath, http.MethodGet, cfg, activityStore, verifier, h.handleGet)

	return h
}

func (h *Activity) handleGet(w http.ResponseWriter, req *http.Request) {
	authorized, _, err := h.authorize(req)
	if err != nil {
		h.writeError(w, err)

		return
	}

	activityIRI, err := h.getActivityIRI(req)
	if err != nil {
		h.writeError(w, err)

		return
	}

	activity, err := h.activityStore.GetActivity(activityIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Debug("Activity not found", log.WithActivityID(activityIRI))

			h.writeResponse(w, http.StatusNotFound, nil)

			return
		}

		h.writeError(w, err)

		return
	}

	if !authorized && !activity.IsPublic() {
		logger.Debug("Anonymous caller is not authorized to view activity",
			log.WithActivityID(activityIRI))

		h.writeResponse(w, http.StatusUnauthorized, nil)

		return
	}

	activityBytes, err := h.marshal(activity)
	if err != nil {
		h.writeError(w, err)

		return
	}

	h.writeResponse(w, http.StatusOK, activityBytes)
}

// getActivityIRI builds the activity IRI from the username and ID path
// variables.
func (h *Activity) getActivityIRI(req *http.Request) (*url.URL, error) {
	username, err := getUsername(req)
	if err != nil {
		return nil, err
	}

	id := mux.Vars(req)[IDVariable]
	if id == "" {
		return nil, kestrelerrors.NewBadRequestf("no activity ID specified in URL")
	}

	return url.Parse(fmt.Sprintf("%s%s%s/activities/%s", h.BaseURL, usersPathPrefix, username, id))
}

func readActivities(it store.ActivityIterator) ([]*vocab.ActivityType, error) {
	var activities []*vocab.ActivityType

	for {
		activity, err := it.Next()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return activities, nil
			}

			return nil, err
		}

		activities = append(activities, activity)
	}
}
