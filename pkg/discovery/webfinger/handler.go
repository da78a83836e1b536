/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webfinger

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
)

var logger = log.New("webfinger")

const (
	// WebFingerEndpoint is the path of the WebFinger endpoint.
	WebFingerEndpoint = "/.well-known/webfinger"

	// ResourceParam is the query parameter that holds the requested resource.
	ResourceParam = "resource"

	// JRDContentType is the content type of a WebFinger response.
	JRDContentType = "application/jrd+json"

	// ActivityJSONType is the media type of an ActivityStreams document.
	ActivityJSONType = "application/activity+json"

	activityStreamsLDType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

	selfRel = "self"

	acctScheme      = "acct:"
	usersPathPrefix = "/users/"
)

type errorResponse struct {
	Message string `json:"errMessage,omitempty"`
}

// Handler implements the WebFinger endpoint, which resolves an account
// resource (acct:user@domain) or a local actor IRI to a JSON Resource
// Descriptor describing the actor.
type Handler struct {
	baseURL       *url.URL
	domain        string
	activityStore store.Store
	marshal       func(v interface{}) ([]byte, error)
}

// NewHandler returns a new WebFinger REST handler.
func NewHandler(baseURL *url.URL, activityStore store.Store) *Handler {
	return &Handler{
		baseURL:       baseURL,
		domain:        baseURL.Host,
		activityStore: activityStore,
		marshal:       json.Marshal,
	}
}

// Path returns the base path of the target URL for this handler.
func (h *Handler) Path() string {
	return WebFingerEndpoint
}

// Method returns the HTTP method, which is always GET.
func (h *Handler) Method() string {
	return http.MethodGet
}

// Handler returns the handler that should be invoked when an HTTP request is
// posted to the target endpoint. This handler must be registered with an HTTP
// server.
func (h *Handler) Handler() http.HandlerFunc {
	return h.handle
}

func (h *Handler) handle(w http.ResponseWriter, req *http.Request) {
	resource := req.URL.Query().Get(ResourceParam)
	if resource == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "resource query parameter not found")

		return
	}

	username, err := h.parseResource(resource)
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("resource %s not found", resource))
		} else {
			h.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		}

		return
	}

	actor, err := h.activityStore.GetActorByUsername(username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("resource %s not found", resource))

			return
		}

		logger.Error("Error retrieving actor", log.WithUsername(username), log.WithError(err))

		h.writeErrorResponse(w, http.StatusInternalServerError, "internal server error")

		return
	}

	actorIRI := actor.ID().String()

	h.writeResponse(w, &JRD{
		Subject: fmt.Sprintf("%s%s@%s", acctScheme, username, h.domain),
		Aliases: []string{actorIRI},
		Links: []Link{
			{Rel: selfRel, Type: ActivityJSONType, Href: actorIRI},
		},
	})
}

// parseResource returns the username of the local actor identified by the
// given resource. The resource may be an account URI (acct:user@domain) or
// the IRI of a local actor.
func (h *Handler) parseResource(resource string) (string, error) {
	if strings.HasPrefix(resource, acctScheme) {
		acct := strings.TrimPrefix(resource, acctScheme)

		parts := strings.SplitN(acct, "@", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", kestrelerrors.NewBadRequestf("invalid account resource [%s]", resource)
		}

		if parts[1] != h.domain {
			return "", ErrResourceNotFound
		}

		return parts[0], nil
	}

	prefix := h.baseURL.String() + usersPathPrefix

	if strings.HasPrefix(resource, prefix) {
		username := strings.TrimPrefix(resource, prefix)

		if username != "" && !strings.Contains(username, "/") {
			return username, nil
		}
	}

	return "", ErrResourceNotFound
}

func (h *Handler) writeResponse(w http.ResponseWriter, resp *JRD) {
	respBytes, err := h.marshal(resp)
	if err != nil {
		logger.Error("Error marshalling response", log.WithError(err))

		h.writeErrorResponse(w, http.StatusInternalServerError, "internal server error")

		return
	}

	w.Header().Set("Content-Type", JRDContentType)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(respBytes); err != nil {
		logger.Warn("Unable to write response", log.WithError(err))
	}
}

func (h *Handler) writeErrorResponse(w http.ResponseWriter, status int, msg string) {
	respBytes, err := json.Marshal(&errorResponse{Message: msg})
	if err != nil {
		logger.Error("Error marshalling error response", log.WithError(err))

		w.WriteHeader(status)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(respBytes); err != nil {
		logger.Warn("Unable to write response", log.WithError(err))
	}
}
