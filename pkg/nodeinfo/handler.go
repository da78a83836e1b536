/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
)

const (
	wellKnownNodeInfoPath = "/.well-known/nodeinfo"

	nodeInfoV2_0Schema = "http://nodeinfo.diaspora.software/ns/schema/2.0"
	nodeInfoV2_1Schema = "http://nodeinfo.diaspora.software/ns/schema/2.1"

	internalServerErrorResponse = "Internal Server Error.\n"
)

type nodeInfoRetriever interface {
	GetNodeInfo(version Version) *NodeInfo
}

// Handler implements a versioned /nodeinfo REST endpoint.
type Handler struct {
	version     Version
	retriever   nodeInfoRetriever
	contentType string
	marshal     func(v interface{}) ([]byte, error)
}

// NewHandler returns the /nodeinfo REST handler for the given version.
func NewHandler(version Version, retriever nodeInfoRetriever) *Handler {
	return &Handler{
		version:   version,
		retriever: retriever,
		contentType: fmt.Sprintf(`application/json; profile="http://nodeinfo.diaspora.software/ns/schema/%s#"`,
			version),
		marshal: json.Marshal,
	}
}

// Path returns the HTTP REST endpoint for the NodeInfo handler.
func (h *Handler) Path() string {
	return fmt.Sprintf("/nodeinfo/%s", h.version)
}

// Method returns the HTTP REST method for the NodeInfo handler.
func (h *Handler) Method() string {
	return http.MethodGet
}

// Handler returns the HTTP handler for the NodeInfo endpoint.
func (h *Handler) Handler() http.HandlerFunc {
	return h.handle
}

func (h *Handler) handle(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Content-Type", h.contentType)

	nodeInfoBytes, err := h.marshal(h.retriever.GetNodeInfo(h.version))
	if err != nil {
		logger.Error("Error marshalling node info", log.WithError(err))

		writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	writeResponse(w, http.StatusOK, nodeInfoBytes)
}

// WellKnownResponse contains the document served at /.well-known/nodeinfo,
// which points at the versioned NodeInfo endpoints.
type WellKnownResponse struct {
	Links []Link `json:"links"`
}

// Link references a versioned NodeInfo endpoint.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// WellKnownHandler implements the /.well-known/nodeinfo discovery endpoint.
type WellKnownHandler struct {
	baseURL string
	marshal func(v interface{}) ([]byte, error)
}

// NewWellKnownHandler returns the /.well-known/nodeinfo REST handler.
func NewWellKnownHandler(baseURL *url.URL) *WellKnownHandler {
	return &WellKnownHandler{
		baseURL: strings.TrimSuffix(baseURL.String(), "/"),
		marshal: json.Marshal,
	}
}

// Path returns the HTTP REST endpoint for the discovery handler.
func (h *WellKnownHandler) Path() string {
	return wellKnownNodeInfoPath
}

// Method returns the HTTP REST method for the discovery handler.
func (h *WellKnownHandler) Method() string {
	return http.MethodGet
}

// Handler returns the HTTP handler for the discovery endpoint.
func (h *WellKnownHandler) Handler() http.HandlerFunc {
	return h.handle
}

func (h *WellKnownHandler) handle(w http.ResponseWriter, _ *http.Request) {
	response := &WellKnownResponse{
		Links: []Link{
			{
				Rel:  nodeInfoV2_0Schema,
				Href: fmt.Sprintf("%s/nodeinfo/%s", h.baseURL, V2_0),
			},
			{
				Rel:  nodeInfoV2_1Schema,
				Href: fmt.Sprintf("%s/nodeinfo/%s", h.baseURL, V2_1),
			},
		},
	}

	responseBytes, err := h.marshal(response)
	if err != nil {
		logger.Error("Error marshalling response", log.WithError(err))

		writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	w.Header().Add("Content-Type", "application/json")

	writeResponse(w, http.StatusOK, responseBytes)
}

func writeResponse(w http.ResponseWriter, status int, body []byte) {
	w.WriteHeader(status)

	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			logger.Warn("Unable to write response", log.WithError(err))

			return
		}

		logger.Debug("Wrote response", log.WithPayload(body))
	}
}
