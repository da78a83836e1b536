/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
)

var logger = log.New("resthandler")

const (
	// PageParam is the query parameter that indicates that a collection page is
	// requested instead of the collection summary.
	PageParam = "page"
	// PageNumParam is the query parameter that holds the page number.
	PageNumParam = "page-num"
	// PageSizeParam is the query parameter that overrides the configured page size.
	PageSizeParam = "page-size"

	// ActivityStreamsContentType is the content type of all responses.
	ActivityStreamsContentType = "application/activity+json"

	// UsernameVariable is the name of the URL path variable that holds the
	// username of a local actor.
	UsernameVariable = "username"
	// IDVariable is the name of the URL path variable that holds an object or
	// activity ID.
	IDVariable = "id"

	defaultPageSize = 20
	maxPageSize     = 80

	usersPathPrefix = "/users/"
)

// Config holds the configuration parameters for the REST handlers.
type Config struct {
	BaseURL  *url.URL
	PageSize int
}

type signatureVerifier interface {
	VerifyRequest(req *http.Request) (*url.URL, error)
}

type handler struct {
	*Config

	endpoint      string
	method        string
	activityStore store.Store
	verifier      signatureVerifier
	handle        http.HandlerFunc
	marshal       func(v interface{}) ([]byte, error)
}

func newHandler(endpoint, method string, cfg *Config, activityStore store.Store,
	verifier signatureVerifier, handle http.HandlerFunc) *handler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}

	return &handler{
		Config:        cfg,
		endpoint:      endpoint,
		method:        method,
		activityStore: activityStore,
		verifier:      verifier,
		handle:        handle,
		marshal:       json.Marshal,
	}
}

// Path returns the base path of the target URL for this handler.
func (h *handler) Path() string {
	return h.endpoint
}

// Method returns the HTTP method.
func (h *handler) Method() string {
	return h.method
}

// Handler returns the handler that should be invoked when an HTTP request is
// posted to the target endpoint. This handler must be registered with an HTTP
// server.
func (h *handler) Handler() http.HandlerFunc {
	return h.handle
}

func (h *handler) writeResponse(w http.ResponseWriter, status int, body []byte) {
	if len(body) > 0 {
		w.Header().Set("Content-Type", ActivityStreamsContentType)
	}

	w.WriteHeader(status)

	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			logger.Warn("Unable to write response", log.WithServiceEndpoint(h.endpoint), log.WithError(err))
		}
	}
}

// writeError maps the error's kind to an HTTP status.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case kestrelerrors.IsBadRequest(err):
		h.writeResponse(w, http.StatusBadRequest, nil)
	case kestrelerrors.IsAuth(err):
		h.writeResponse(w, http.StatusUnauthorized, nil)
	case kestrelerrors.IsNotFound(err) || errors.Is(err, store.ErrNotFound):
		h.writeResponse(w, http.StatusNotFound, nil)
	case kestrelerrors.IsConflict(err):
		h.writeResponse(w, http.StatusConflict, nil)
	default:
		logger.Error("Error handling request", log.WithServiceEndpoint(h.endpoint), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)
	}
}

// authorize verifies the request's HTTP signature. It returns false with a nil
// error when the request carries no valid signature, and a non-nil error only
// for a transient verification failure.
func (h *handler) authorize(req *http.Request) (bool, *url.URL, error) {
	actorIRI, err := h.verifier.VerifyRequest(req)
	if err != nil {
		if kestrelerrors.IsTransient(err) {
			return false, nil, err
		}

		logger.Debug("Request signature could not be verified",
			log.WithServiceEndpoint(h.endpoint), log.WithError(err))

		return false, nil, nil
	}

	return true, actorIRI, nil
}

func (h *handler) isPaging(req *http.Request) bool {
	return req.URL.Query().Get(PageParam) != ""
}

func (h *handler) getPageNum(req *http.Request) (int, bool) {
	values := req.URL.Query()[PageNumParam]
	if len(values) == 0 || values[0] == "" {
		return 0, false
	}

	pageNum, err := strconv.Atoi(values[0])
	if err != nil || pageNum < 0 {
		return 0, false
	}

	return pageNum, true
}

// pageSize returns the page size for the request, bounded by the maximum.
func (h *handler) pageSize(req *http.Request) int {
	values := req.URL.Query()[PageSizeParam]
	if len(values) == 0 || values[0] == "" {
		return h.PageSize
	}

	size, err := strconv.Atoi(values[0])
	if err != nil || size <= 0 {
		return h.PageSize
	}

	if size > maxPageSize {
		return maxPageSize
	}

	return size
}

// getPageURL returns the URL of the given page of the collection with the
// given ID.
func (h *handler) getPageURL(id *url.URL, pageNum int) *url.URL {
	pageURL := *id

	query := pageURL.Query()
	query.Set(PageParam, "true")

	if pageNum > 0 {
		query.Set(PageNumParam, strconv.Itoa(pageNum))
	}

	pageURL.RawQuery = query.Encode()

	return &pageURL
}

// getPrevNextURLs returns the 'prev' and 'next' page URLs for the given page.
// The next URL is absent when the page is past the end of the collection.
func (h *handler) getPrevNextURLs(id *url.URL, totalItems, pageNum, pageSize int) (*url.URL, *url.URL) {
	var prev, next *url.URL

	if pageNum > 0 {
		prev = h.getPageURL(id, pageNum-1)
	}

	if (pageNum+1)*pageSize < totalItems {
		next = h.getPageURL(id, pageNum+1)
	}

	return prev, next
}

// getUsername returns the username path variable of the request.
func getUsername(req *http.Request) (string, error) {
	username := mux.Vars(req)[UsernameVariable]
	if username == "" {
		return "", kestrelerrors.NewBadRequestf("no username specified in URL")
	}

	return username, nil
}

// actorIRI returns the IRI of the local actor with the given username.
func (h *handler) actorIRI(username string) *url.URL {
	iri, err := url.Parse(fmt.Sprintf("%s%s%s", h.BaseURL, usersPathPrefix, username))
	if err != nil {
		panic(err)
	}

	return iri
}

func closeIterator(it interface{ Close() error }) {
	if err := it.Close(); err != nil {
		logger.Warn("Error closing iterator", log.WithError(err))
	}
}
