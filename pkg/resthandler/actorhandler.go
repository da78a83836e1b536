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
)

// ActorPath is the endpoint that serves a local actor's document.
const ActorPath = "/users/{username}"

// Actor implements the REST handler that serves a local actor's document.
type Actor struct {
	*handler
}

// NewActor returns a new actor document REST handler.
func NewActor(cfg *Config, activityStore store.Store) *Actor {
	h := &Actor{}

	h.handler = newHandler(ActorPath, http.MethodGet, cfg, activityStore, nil, h.handleGet)

	return h
}

func (h *Actor) handleGet(w http.ResponseWriter, req *http.Request) {
	username, err := getUsername(req)
	if err != nil {
		h.writeError(w, err)

		return
	}

	actor, err := h.activityStore.GetActorByUsername(username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Debug("Actor not found", log.WithUsername(username))

			h.writeResponse(w, http.StatusNotFound, nil)

			return
		}

		h.writeError(w, err)

		return
	}

	actorBytes, err := h.marshal(actor)
	if err != nil {
		h.writeError(w, err)

		return
	}

	h.writeResponse(w, http.StatusOK, actorBytes)
}

// ObjectPath is the endpoint that serves an object document.
const ObjectPath = "/users/{username}/objects/{id}"

// Object implements the REST handler that serves an object document. A deleted
// object is served as a Tombstone, so its IRI continues to resolve.
type Object struct {
	*handler
}

// NewObject returns a new object document REST handler.
func NewObject(cfg *Config, activityStore store.Store) *Object {
	h := &Object{}

	h.handler = newHandler(ObjectPath, http.MethodGet, cfg, activityStore, nil, h.handleGet)

	return h
}

func (h *Object) handleGet(w http.ResponseWriter, req *http.Request) {
	objectIRI, err := h.getObjectIRI(req)
	if err != nil {
		h.writeError(w, err)

		return
	}

	obj, err := h.activityStore.GetObject(objectIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Debug("Object not found", log.WithObjectIRI(objectIRI))

			h.writeResponse(w, http.StatusNotFound, nil)

			return
		}

		h.writeError(w, err)

		return
	}

	objBytes, err := h.marshal(obj)
	if err != nil {
		h.writeError(w, err)

		return
	}

	h.writeResponse(w, http.StatusOK, objBytes)
}

// ServicesPath is the endpoint that serves the server-owned service actor.
const ServicesPath = "/services/main"

// Services implements the REST handler that serves the server-owned service
// actor. Remote servers dereference this endpoint to resolve the public key
// that signs server-level requests.
type Services struct {
	*handler

	username string
}

// NewServices returns a new REST handler that serves the server-owned service
// actor with the given username.
func NewServices(cfg *Config, activityStore store.Store, username string) *Services {
	h := &Services{
		username: username,
	}

	h.handler = newHandler(ServicesPath, http.MethodGet, cfg, activityStore, nil, h.handleGet)

	return h
}

func (h *Services) handleGet(w http.ResponseWriter, _ *http.Request) {
	actor, err := h.activityStore.GetActorByUsername(h.username)
	if err != nil {
		logger.Error("Error retrieving service actor", log.WithUsername(h.username), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	actorBytes, err := h.marshal(actor)
	if err != nil {
		h.writeError(w, err)

		return
	}

	h.writeResponse(w, http.StatusOK, actorBytes)
}

// getObjectIRI builds the object IRI from the username and ID path variables.
func (h *handler) getObjectIRI(req *http.Request) (*url.URL, error) {
	username, err := getUsername(req)
	if err != nil {
		return nil, err
	}

	id := mux.Vars(req)[IDVariable]
	if id == "" {
		return nil, kestrelerrors.NewBadRequestf("no object ID specified in URL")
	}

	return url.Parse(fmt.Sprintf("%s%s%s/objects/%s", h.BaseURL, usersPathPrefix, username, id))
}
